package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Dependency is a single (name, version constraint) pair from the manifest.
type Dependency struct {
	Name       string
	Constraint string // e.g. "==1.2.3", ">=2.0", empty means unpinned
}

// Manifest is the ordered dependency list of a project. Order is preserved
// because install order can matter to the resolver inside the image.
type Manifest struct {
	Dependencies []Dependency
}

var constraintOps = []string{"==", ">=", "<=", "~=", "!=", ">", "<"}

// Parse reads a requirements-style manifest: one dependency per line,
// "#" comments and blank lines ignored. Each line is NAME or
// NAME<op>VERSION. Duplicate names and empty names are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		dep, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", lineNo, err)
		}
		key := strings.ToLower(dep.Name)
		if seen[key] {
			return nil, fmt.Errorf("manifest line %d: duplicate dependency %q", lineNo, dep.Name)
		}
		seen[key] = true
		m.Dependencies = append(m.Dependencies, dep)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return m, nil
}

// Load parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func parseLine(line string) (Dependency, error) {
	for _, op := range constraintOps {
		if i := strings.Index(line, op); i >= 0 {
			name := strings.TrimSpace(line[:i])
			version := strings.TrimSpace(line[i+len(op):])
			if name == "" {
				return Dependency{}, fmt.Errorf("missing package name in %q", line)
			}
			if version == "" {
				return Dependency{}, fmt.Errorf("missing version after %q in %q", op, line)
			}
			if !validName(name) {
				return Dependency{}, fmt.Errorf("invalid package name %q", name)
			}
			return Dependency{Name: name, Constraint: op + version}, nil
		}
	}
	if !validName(line) {
		return Dependency{}, fmt.Errorf("invalid package name %q", line)
	}
	return Dependency{Name: line}, nil
}

func validName(name string) bool {
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '[' || r == ']':
		default:
			return false
		}
	}
	return name != ""
}

// Canonical returns the normalized byte form used for cache keying:
// one "name<constraint>" per line, whitespace and comments stripped.
// Cosmetic edits to the manifest file therefore never change the key.
func (m *Manifest) Canonical() []byte {
	var b bytes.Buffer
	for _, dep := range m.Dependencies {
		b.WriteString(dep.Name)
		b.WriteString(dep.Constraint)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Lines returns the dependencies in install form, one per entry.
func (m *Manifest) Lines() []string {
	out := make([]string, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		out = append(out, dep.Name+dep.Constraint)
	}
	return out
}
