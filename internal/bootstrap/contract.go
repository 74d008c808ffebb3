package bootstrap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/slipway-sh/slipway/internal/config"
)

// Recognized environment variables of the bootstrap contract. They are
// declared on the image at build time and may be overridden when the
// container starts; nothing else configures the bootstrapped process.
const (
	EnvUnbuffered  = "SLIPWAY_UNBUFFERED"
	EnvEntrypoint  = "SLIPWAY_ENTRYPOINT"
	EnvRuntimeMode = "SLIPWAY_RUNTIME_MODE"
	EnvBindHost    = "SLIPWAY_BIND_HOST"
	EnvBindPort    = "SLIPWAY_BIND_PORT"
)

const envPrefix = "SLIPWAY_"

var (
	// ErrUnknownEnvKey marks a SLIPWAY_-prefixed variable outside the contract.
	ErrUnknownEnvKey = errors.New("unknown environment variable")
	// ErrBufferedOutput marks an attempt to re-enable output buffering.
	ErrBufferedOutput = errors.New("output buffering cannot be enabled")
)

// Contract is the validated environment configuration of one bootstrapped
// process, built once at startup. Raw strings never travel further.
type Contract struct {
	Unbuffered  bool
	Entrypoint  string
	RuntimeMode string
	BindHost    string
	BindPort    int
}

// FromProject seeds a contract from the project file.
func FromProject(p *config.Project) Contract {
	return Contract{
		Unbuffered:  p.Unbuffered,
		Entrypoint:  p.Entrypoint,
		RuntimeMode: p.RuntimeMode,
		BindHost:    p.BindHost,
		BindPort:    p.BindPort,
	}
}

// ApplyEnvironment overlays overrides from the given environment
// ("KEY=value" pairs, normally os.Environ()). Unknown SLIPWAY_ keys and
// malformed values are fatal rather than passed through.
func (c *Contract) ApplyEnvironment(environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		switch key {
		case EnvUnbuffered:
			on, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.Unbuffered = on
		case EnvEntrypoint:
			c.Entrypoint = value
		case EnvRuntimeMode:
			c.RuntimeMode = value
		case EnvBindHost:
			c.BindHost = value
		case EnvBindPort:
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s: %q is not a port number", key, value)
			}
			c.BindPort = port
		default:
			return fmt.Errorf("%w: %s", ErrUnknownEnvKey, key)
		}
	}
	return nil
}

// Validate enforces the contract invariants before any process starts.
func (c *Contract) Validate() error {
	if !c.Unbuffered {
		return ErrBufferedOutput
	}
	if c.Entrypoint == "" {
		return errors.New("entrypoint is required")
	}
	switch c.RuntimeMode {
	case "production", "development":
	default:
		return fmt.Errorf("runtime mode must be production or development, got %q", c.RuntimeMode)
	}
	if c.BindHost == "" {
		return errors.New("bind host is required")
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("bind port %d out of range 1-65535", c.BindPort)
	}
	return nil
}

// DevelopmentModeExposed reports the named risk case: the development-mode
// server reachable beyond loopback. Development servers carry none of the
// hardening assumed for production traffic.
func (c *Contract) DevelopmentModeExposed() bool {
	if c.RuntimeMode != "development" {
		return false
	}
	return c.BindHost != "127.0.0.1" && c.BindHost != "localhost" && c.BindHost != "::1"
}

// Env returns the contract as the environment declaration baked into the
// image and passed to the container.
func (c *Contract) Env() map[string]string {
	unbuffered := "0"
	if c.Unbuffered {
		unbuffered = "1"
	}
	return map[string]string{
		EnvUnbuffered:  unbuffered,
		EnvEntrypoint:  c.Entrypoint,
		EnvRuntimeMode: c.RuntimeMode,
		EnvBindHost:    c.BindHost,
		EnvBindPort:    strconv.Itoa(c.BindPort),
	}
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", value)
}
