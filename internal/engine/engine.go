package engine

import (
	"context"
	"io"
	"time"
)

// Engine is the container runtime consumed by the builder and the
// bootstrapper. Keeping it an interface lets both run against a fake in
// tests instead of a live daemon.
type Engine interface {
	// BuildImage builds and tags an image from the context directory using
	// the named Dockerfile, streaming build output to out. A failing build
	// step must surface the underlying diagnostic and leave no tag behind.
	BuildImage(ctx context.Context, contextDir, dockerfile, tag string, out io.Writer) error
	// ImageExists reports whether the tag is present in the engine's store.
	ImageExists(ctx context.Context, tag string) (bool, error)

	CreateContainer(ctx context.Context, opts CreateOptions) (string, error)
	StartContainer(ctx context.Context, id string) error
	// StopContainer asks for a graceful stop, force-killing after grace.
	StopContainer(ctx context.Context, id string, grace time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	// WaitContainer blocks until the container exits and returns its exit code.
	WaitContainer(ctx context.Context, id string) (int64, error)
	// ContainerRunning reports whether the container has reached a running state.
	ContainerRunning(ctx context.Context, id string) (bool, error)
	// ContainerLogs streams the container's output. The caller closes it.
	ContainerLogs(ctx context.Context, id string, follow bool) (io.ReadCloser, error)
	ListContainers(ctx context.Context, project string) ([]ContainerInfo, error)
}

// CreateOptions describes one container to create.
type CreateOptions struct {
	Image  string
	Name   string
	Env    []string          // KEY=value pairs
	Ports  []PortBinding     // host to container TCP mappings
	Binds  []string          // host:container bind mounts
	Labels map[string]string // slipway bookkeeping labels
}

// PortBinding maps a host address/port to a container port.
type PortBinding struct {
	HostIP        string
	HostPort      int
	ContainerPort int
}

// ContainerInfo is the subset of container state the status command shows.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	Status string
	State  string
	Ports  []PortBinding
}
