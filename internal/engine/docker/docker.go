package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"

	"github.com/slipway-sh/slipway/internal/engine"
)

// Engine implements engine.Engine against the local Docker daemon.
type Engine struct {
	cli *client.Client
}

// New connects to the daemon via the standard env vars (DOCKER_HOST etc.)
// or the default unix socket.
func New() (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Engine{cli: cli}, nil
}

// BuildImage sends the context directory to the daemon and tags the result.
// The daemon's JSON progress stream is replayed onto out; a build error in
// the stream aborts with the daemon's diagnostic verbatim, and the daemon
// tags nothing on failure.
func (e *Engine) BuildImage(ctx context.Context, contextDir, dockerfile, tag string, out io.Writer) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		if jerr, ok := err.(*jsonmessage.JSONError); ok {
			return fmt.Errorf("build step failed: %s", jerr.Message)
		}
		return fmt.Errorf("failed to read build output: %w", err)
	}
	return nil
}

// ImageExists asks the daemon whether the tag is still present. A cached
// build key is only trustworthy while its image survives in the store.
func (e *Engine) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, tag)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect image: %w", err)
	}
	return true, nil
}

func (e *Engine) CreateContainer(ctx context.Context, opts engine.CreateOptions) (string, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, pb := range opts.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", pb.ContainerPort))
		exposedPorts[port] = struct{}{}
		portBindings[port] = append(portBindings[port], nat.PortBinding{
			HostIP:   pb.HostIP,
			HostPort: fmt.Sprintf("%d", pb.HostPort),
		})
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		ExposedPorts: exposedPorts,
		Labels:       opts.Labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        opts.Binds,
	}

	// A stale container with the same name would block creation.
	_ = e.cli.ContainerRemove(ctx, opts.Name, container.RemoveOptions{Force: true})

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (e *Engine) StartContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (e *Engine) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (e *Engine) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (e *Engine) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed to wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

func (e *Engine) ContainerRunning(ctx context.Context, id string) (bool, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return info.State != nil && info.State.Running, nil
}

func (e *Engine) ContainerLogs(ctx context.Context, id string, follow bool) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
}

// ListContainers returns the slipway-managed containers for the project.
func (e *Engine) ListContainers(ctx context.Context, project string) ([]engine.ContainerInfo, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("slipway.project=%s", project))

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]engine.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		info := engine.ContainerInfo{
			ID:     c.ID[:12],
			Name:   name,
			Image:  c.Image,
			Status: c.Status,
			State:  c.State,
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			info.Ports = append(info.Ports, engine.PortBinding{
				HostIP:        p.IP,
				HostPort:      int(p.PublicPort),
				ContainerPort: int(p.PrivatePort),
			})
		}
		result = append(result, info)
	}
	return result, nil
}
