package config

// Project represents the root of slipway.yaml.
type Project struct {
	Name      string `mapstructure:"name"`
	BaseImage string `mapstructure:"base_image"` // pinned reference, e.g. "python:3.11-slim"
	Manifest  string `mapstructure:"manifest"`   // dependency manifest path, default requirements.txt
	Source    string `mapstructure:"source"`     // source tree root, default "."

	// System packages needed only to compile native extensions. Installed
	// in the same image layer as dependency resolution so a source edit
	// never re-triggers the install.
	BuildPackages []string `mapstructure:"build_packages"`

	// Entrypoint is the application reference the bootstrapper serves,
	// "<path>[:<object>]" relative to the source root.
	Entrypoint  string `mapstructure:"entrypoint"`
	RuntimeMode string `mapstructure:"runtime_mode"` // production (default) or development
	BindHost    string `mapstructure:"bind_host"`    // default 0.0.0.0
	BindPort    int    `mapstructure:"bind_port"`    // default 5000
	Unbuffered  bool   `mapstructure:"unbuffered"`   // must stay true; logs are read live

	// Expose is declared-port metadata on the image. Defaults to BindPort.
	Expose int `mapstructure:"expose"`

	// Command overrides the startup command. When empty the image runs the
	// entrypoint file directly.
	Command []string `mapstructure:"command"`

	// Env is baked into the image verbatim, for variables the wrapped
	// application reads beyond the recognized contract.
	Env map[string]string `mapstructure:"env"`

	// StateFile is a pre-populated database file the original layout baked
	// into the image. By default slipway keeps it out of the image and bind
	// mounts it at run time; BundleState restores the legacy copy-in.
	StateFile   string `mapstructure:"state_file"`
	BundleState bool   `mapstructure:"bundle_state"`
	StateMount  string `mapstructure:"state_mount"` // container-side mount dir, default /data

	Cache CacheConfig `mapstructure:"cache"`

	StopGraceSeconds      int `mapstructure:"stop_grace_seconds"`      // default 10
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds"` // default 30
}

// CacheConfig configures the stage-key cache stores.
type CacheConfig struct {
	Dir string   `mapstructure:"dir"` // default .slipway/cache
	S3  S3Config `mapstructure:"s3"`
}

// S3Config enables the shared remote cache when Bucket is set.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// ImageTag returns the tag the builder assigns to the project image.
func (p *Project) ImageTag() string {
	return "slipway-" + p.Name + ":latest"
}

// ContainerName returns the name of the project's bootstrapped container.
func (p *Project) ContainerName() string {
	return "slipway-" + p.Name
}
