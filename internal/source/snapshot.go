package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ignored directories never contribute to the tree hash. VCS metadata and
// the local build cache would otherwise make every build look dirty.
var ignoredDirs = map[string]bool{
	".git":     true,
	".slipway": true,
}

// TreeHash computes a deterministic digest of the source tree rooted at dir.
// The digest covers relative path, executable bit and file content of every
// regular file, visited in sorted order. Entries named in exclude (relative
// to dir) are skipped, which is how a bundled state file stays out of the
// source stage key.
func TreeHash(dir string, exclude ...string) (string, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[filepath.ToSlash(e)] = true
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || excluded[rel] {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk source tree %s: %w", dir, err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(dir, rel))
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		exec := "-"
		if info.Mode()&0o111 != 0 {
			exec = "x"
		}
		fmt.Fprintf(h, "%s %s %d\n", rel, exec, info.Size())

		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", rel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ContainsEntrypoint reports whether the entrypoint reference resolves to a
// file inside the source tree. The reference is "<path>" or "<path>:<object>";
// a dotted module reference without a path separator is also tried as a
// slash path with a .py suffix.
func ContainsEntrypoint(dir, entrypoint string) (string, bool) {
	ref := entrypoint
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return "", false
	}

	candidates := []string{ref}
	if !strings.ContainsAny(ref, "/\\") && strings.Contains(ref, ".") && !strings.HasSuffix(ref, ".py") {
		candidates = append(candidates, strings.ReplaceAll(ref, ".", "/")+".py")
	}

	for _, c := range candidates {
		full := filepath.Join(dir, filepath.FromSlash(c))
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}
