package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Defaults documented in the README; anything not listed here is required.
const (
	DefaultManifest       = "requirements.txt"
	DefaultSource         = "."
	DefaultBindHost       = "0.0.0.0"
	DefaultBindPort       = 5000
	DefaultRuntimeMode    = "production"
	DefaultStateMount     = "/data"
	DefaultCacheDir       = ".slipway/cache"
	DefaultStopGrace      = 10
	DefaultStartupTimeout = 30
)

// ErrFloatingTag marks a base image reference that is not pinned to a
// specific version, which would break build reproducibility.
var ErrFloatingTag = errors.New("base image tag is not pinned")

// Load reads the project file (e.g. "slipway.yaml"), applies defaults and
// validates the result. Unknown keys in the file are fatal.
func Load(filename string) (*Project, error) {
	v := viper.New()
	v.SetConfigFile(filename)

	v.SetDefault("manifest", DefaultManifest)
	v.SetDefault("source", DefaultSource)
	v.SetDefault("bind_host", DefaultBindHost)
	v.SetDefault("bind_port", DefaultBindPort)
	v.SetDefault("runtime_mode", DefaultRuntimeMode)
	v.SetDefault("unbuffered", true)
	v.SetDefault("state_mount", DefaultStateMount)
	v.SetDefault("cache.dir", DefaultCacheDir)
	v.SetDefault("stop_grace_seconds", DefaultStopGrace)
	v.SetDefault("startup_timeout_seconds", DefaultStartupTimeout)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading project file %s: %w", filename, err)
	}

	var p Project
	// UnmarshalExact rejects keys the struct does not declare, so a typo in
	// slipway.yaml fails loudly instead of silently using a default.
	if err := v.UnmarshalExact(&p); err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", filename, err)
	}

	// viper folds map keys to lower case while unmarshalling. The env block
	// names the application's own variables, which must survive verbatim, so
	// it is re-read straight from the file.
	env, err := readEnvVerbatim(filename)
	if err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", filename, err)
	}
	if env != nil {
		p.Env = env
	}

	if p.Expose == 0 {
		p.Expose = p.BindPort
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &p, nil
}

// Validate enforces the project invariants that must hold before any build
// or bootstrap work starts.
func readEnvVerbatim(filename string) (map[string]string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Env map[string]any `yaml:"env"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Env == nil {
		return nil, nil
	}
	env := make(map[string]string, len(raw.Env))
	for k, val := range raw.Env {
		env[k] = fmt.Sprint(val)
	}
	return env, nil
}

func (p *Project) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.BaseImage == "" {
		return errors.New("base_image is required")
	}
	if err := validatePinnedReference(p.BaseImage); err != nil {
		return err
	}
	if p.Entrypoint == "" {
		return errors.New("entrypoint is required")
	}
	if p.BindPort < 1 || p.BindPort > 65535 {
		return fmt.Errorf("bind_port %d out of range 1-65535", p.BindPort)
	}
	if p.Expose < 1 || p.Expose > 65535 {
		return fmt.Errorf("expose %d out of range 1-65535", p.Expose)
	}
	switch p.RuntimeMode {
	case "production", "development":
	default:
		return fmt.Errorf("runtime_mode must be production or development, got %q", p.RuntimeMode)
	}
	if !p.Unbuffered {
		return errors.New("unbuffered: false is not supported; buffered output would hide log lines from the collector")
	}
	if p.StopGraceSeconds < 1 {
		return fmt.Errorf("stop_grace_seconds must be positive, got %d", p.StopGraceSeconds)
	}
	if p.StartupTimeoutSeconds < 1 {
		return fmt.Errorf("startup_timeout_seconds must be positive, got %d", p.StartupTimeoutSeconds)
	}
	return nil
}

// validatePinnedReference accepts digest references and version tags that
// name at least a minor version ("3.11-slim"). Floating references such as
// a missing tag, "latest", or a bare major ("3") are rejected.
func validatePinnedReference(ref string) error {
	if strings.Contains(ref, "@sha256:") {
		return nil
	}
	// The tag separator is the last colon after the final slash, so
	// registry ports ("localhost:5000/img") don't confuse the split.
	name := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		name = ref[i+1:]
	}
	i := strings.LastIndex(name, ":")
	if i < 0 {
		return fmt.Errorf("%w: %q has no tag", ErrFloatingTag, ref)
	}
	tag := name[i+1:]
	if tag == "" || tag == "latest" {
		return fmt.Errorf("%w: %q", ErrFloatingTag, ref)
	}
	if !strings.Contains(tag, ".") {
		return fmt.Errorf("%w: tag %q does not name a minor version", ErrFloatingTag, tag)
	}
	return nil
}
