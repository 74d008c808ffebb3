package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/slipway-sh/slipway/internal/config"
	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/source"
)

var (
	// ErrPortInUse marks a bind port already claimed by another listener.
	ErrPortInUse = errors.New("bind port already in use")
	// ErrEntrypointNotFound marks an application entrypoint that does not
	// resolve to a file in the source tree.
	ErrEntrypointNotFound = errors.New("entrypoint not found")
	// ErrStartupTimeout marks a container that never reached Running.
	ErrStartupTimeout = errors.New("startup deadline exceeded")
)

// sigtermExit is 128+SIGTERM, what most runtimes report when the stop
// signal terminated them without a handler.
const sigtermExit = 143

// logDrainTimeout bounds how long the runner waits for the log stream to
// flush after the process has stopped.
const logDrainTimeout = 5 * time.Second

// errStartupInterrupted marks a stop signal that arrived before the
// container was observed running.
var errStartupInterrupted = errors.New("stop signal received during startup")

type waitResult struct {
	code int64
	err  error
}

// earlyExitError reports a container that terminated before it was ever
// observed running.
type earlyExitError struct {
	code int64
}

func (e *earlyExitError) Error() string {
	return fmt.Sprintf("process exited during startup with code %d", e.code)
}

// Runner bootstraps exactly one foreground container and owns its lifetime:
// the runner returns when the process has stopped, and its exit code is the
// process's exit code.
type Runner struct {
	Engine engine.Engine
	Logger *log.Logger

	// Signals overrides the OS signal source in tests. When nil the runner
	// subscribes to SIGINT and SIGTERM.
	Signals <-chan os.Signal

	// Stdout and Stderr receive the process output as it arrives. Defaults
	// to the runner process's own streams.
	Stdout io.Writer
	Stderr io.Writer

	// pollInterval is how often startup progress is checked.
	pollInterval time.Duration
}

// Run starts the bootstrapped process and blocks until it stops. The
// returned exit code is 0 for a clean shutdown via the stop signal and the
// process's own code otherwise. An error means startup never completed.
func (r *Runner) Run(ctx context.Context, p *config.Project, environ []string) (int, error) {
	task := NewTask()

	contract := FromProject(p)
	if err := contract.ApplyEnvironment(environ); err != nil {
		return 1, err
	}
	if err := contract.Validate(); err != nil {
		return 1, err
	}
	if contract.DevelopmentModeExposed() {
		r.Logger.Warn("development-mode server exposed beyond loopback; it is not hardened for production traffic",
			"bind_host", contract.BindHost, "bind_port", contract.BindPort)
	}

	resolved, ok := source.ContainsEntrypoint(p.Source, contract.Entrypoint)
	if !ok {
		return 1, fmt.Errorf("%w: %q does not resolve within %s", ErrEntrypointNotFound, contract.Entrypoint, p.Source)
	}
	r.Logger.Debug("entrypoint resolved", "ref", contract.Entrypoint, "file", resolved)

	if err := preflightPort(contract.BindHost, contract.BindPort); err != nil {
		return 1, err
	}

	// Subscribe before the container exists: a signal during startup must
	// tear the part-started container down, not kill the bootstrapper and
	// leave an orphan behind.
	sigCh := r.Signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	if err := task.Transition(Starting); err != nil {
		return 1, err
	}

	opts := engine.CreateOptions{
		Image: p.ImageTag(),
		Name:  p.ContainerName(),
		Env:   containerEnv(p, &contract),
		Ports: []engine.PortBinding{{
			HostIP:        contract.BindHost,
			HostPort:      contract.BindPort,
			ContainerPort: contract.BindPort,
		}},
		Labels: map[string]string{
			"slipway.project": p.Name,
			"slipway.managed": "true",
		},
	}
	if p.StateFile != "" && !p.BundleState {
		hostPath, err := filepath.Abs(filepath.Join(p.Source, p.StateFile))
		if err != nil {
			return 1, fmt.Errorf("failed to resolve state file path: %w", err)
		}
		mount := p.StateMount + "/" + filepath.Base(p.StateFile)
		opts.Binds = append(opts.Binds, hostPath+":"+mount)
		r.Logger.Info("state file mounted from host, not baked into the image",
			"host", hostPath, "container", mount)
	}

	id, err := r.Engine.CreateContainer(ctx, opts)
	if err != nil {
		task.Transition(Stopped)
		return 1, err
	}
	if err := r.Engine.StartContainer(ctx, id); err != nil {
		task.Transition(Stopped)
		r.Engine.RemoveContainer(ctx, id, true)
		return 1, err
	}

	grace := time.Duration(p.StopGraceSeconds) * time.Second

	waitCh := make(chan waitResult, 1)
	go func() {
		code, err := r.Engine.WaitContainer(ctx, id)
		waitCh <- waitResult{code: code, err: err}
	}()

	if err := r.awaitRunning(ctx, p, id, sigCh, waitCh); err != nil {
		task.Transition(Stopped)
		var early *earlyExitError
		switch {
		case errors.As(err, &early):
			r.Engine.RemoveContainer(context.Background(), id, true)
			if early.code != 0 {
				r.Logger.Error("process exited during startup", "code", early.code)
			}
			return int(early.code), nil
		case errors.Is(err, errStartupInterrupted):
			r.Engine.StopContainer(context.Background(), id, grace)
			r.Engine.RemoveContainer(context.Background(), id, true)
			r.Logger.Info("stop signal received during startup, container removed")
			return 0, nil
		default:
			r.Engine.StopContainer(ctx, id, grace)
			r.Engine.RemoveContainer(ctx, id, true)
			return 1, err
		}
	}
	if err := task.Transition(Running); err != nil {
		return 1, err
	}
	r.Logger.Info("serving", "container", p.ContainerName(),
		"addr", net.JoinHostPort(contract.BindHost, strconv.Itoa(contract.BindPort)),
		"mode", contract.RuntimeMode)

	logsDone := r.streamLogs(ctx, id)

	// The stop signal is propagated, never swallowed: the engine forwards
	// it to the process and force-kills after the grace period so the
	// outer supervisor can rely on a bounded shutdown.
	var stopRequested atomic.Bool
	stopDone := make(chan struct{})
	waitDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		select {
		case sig := <-sigCh:
			stopRequested.Store(true)
			r.Logger.Info("stop signal received, propagating", "signal", sig, "grace", grace)
			if err := r.Engine.StopContainer(context.Background(), id, grace); err != nil {
				r.Logger.Error("failed to stop container", "err", err)
			}
		case <-waitDone:
		}
	}()

	wr := <-waitCh
	close(waitDone)
	<-stopDone

	// Give the stream a bounded window to flush the final lines before the
	// container and its log buffer go away.
	select {
	case <-logsDone:
	case <-time.After(logDrainTimeout):
		r.Logger.Debug("log stream did not drain before removal")
	}

	task.Transition(Stopped)
	r.Engine.RemoveContainer(context.Background(), id, false)

	if wr.err != nil {
		return 1, wr.err
	}
	exitCode := wr.code
	if stopRequested.Load() && (exitCode == 0 || exitCode == sigtermExit) {
		r.Logger.Info("clean shutdown")
		return 0, nil
	}
	if exitCode != 0 {
		r.Logger.Error("process exited", "code", exitCode)
	}
	return int(exitCode), nil
}

// awaitRunning polls the engine until the container reports Running or the
// configured startup deadline passes. The deadline keeps a wedged start
// from hanging the bootstrapper forever. A container that exits before it
// is ever seen running surfaces its exit code instead of the deadline, and
// a stop signal during the wait aborts the startup.
func (r *Runner) awaitRunning(ctx context.Context, p *config.Project, id string, sigCh <-chan os.Signal, waitCh <-chan waitResult) error {
	interval := r.pollInterval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(time.Duration(p.StartupTimeoutSeconds) * time.Second)
	for {
		running, err := r.Engine.ContainerRunning(ctx, id)
		if err != nil {
			return err
		}
		if running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: container not running after %ds", ErrStartupTimeout, p.StartupTimeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			return fmt.Errorf("%w: %v", errStartupInterrupted, sig)
		case wr := <-waitCh:
			if wr.err != nil {
				return wr.err
			}
			return &earlyExitError{code: wr.code}
		case <-time.After(interval):
		}
	}
}

// streamLogs copies the container's demultiplexed output to the runner's
// streams as it arrives. The contract disables buffering inside the image,
// so lines show up in real time. The returned channel closes once the
// stream has drained, so the caller can hold container removal until the
// final lines are through.
func (r *Runner) streamLogs(ctx context.Context, id string) <-chan struct{} {
	done := make(chan struct{})
	logs, err := r.Engine.ContainerLogs(ctx, id, true)
	if err != nil {
		r.Logger.Warn("failed to attach to container logs", "err", err)
		close(done)
		return done
	}
	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := r.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	go func() {
		defer close(done)
		defer logs.Close()
		if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && !errors.Is(err, context.Canceled) {
			r.Logger.Debug("log stream ended", "err", err)
		}
	}()
	return done
}

// preflightPort refuses to start when the requested port is already bound.
// There is deliberately no fallback port: the published mapping is part of
// the contract.
func preflightPort(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s (%v)", ErrPortInUse, addr, err)
	}
	l.Close()
	return nil
}

// containerEnv flattens the baked app variables plus the contract into the
// engine's KEY=value form. Contract keys win.
func containerEnv(p *config.Project, c *Contract) []string {
	merged := make(map[string]string, len(p.Env)+5)
	for k, v := range p.Env {
		merged[k] = v
	}
	for k, v := range c.Env() {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
