package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/msrv-digital/cachepilot/pkg/confgen"
	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/log"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// ErrContainerAbsent means the runtime has no container for the tenant.
// During a health wait this is fatal: the apply did not take.
var ErrContainerAbsent = errors.New("container absent")

// ErrHealthTimeout means the container exists but did not report healthy
// within the wait window. Callers treat this as a warning, not a failure;
// the process may still converge.
var ErrHealthTimeout = errors.New("container did not report healthy in time")

// ExternalToolError wraps a non-zero exit from the container runtime CLI,
// carrying the tool's own output for the caller.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Runner executes an external command in a working directory and returns
// its combined output. Injected so tests run without a container runtime.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Controller applies tenant manifests through the docker compose CLI and
// inspects the resulting containers.
type Controller struct {
	cfg    config.Runtime
	runner Runner
	logger zerolog.Logger
}

// NewController creates a controller backed by the real docker CLI.
func NewController(cfg *config.Config) *Controller {
	return NewControllerWithRunner(cfg, execRunner{})
}

// NewControllerWithRunner creates a controller with a custom runner.
func NewControllerWithRunner(cfg *config.Config, runner Runner) *Controller {
	return &Controller{
		cfg:    cfg.Runtime,
		runner: runner,
		logger: log.WithComponent("runtime"),
	}
}

func projectName(tenant string) string {
	return "cachepilot-" + tenant
}

// Apply brings the tenant's manifest up, creating or updating containers
// as needed.
func (c *Controller) Apply(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "up", "-d")
}

// Stop stops the tenant's containers without removing them.
func (c *Controller) Stop(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "stop")
}

// Start starts previously stopped containers.
func (c *Controller) Start(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "start")
}

// Restart restarts the tenant's containers so regenerated configuration
// and certificates are picked up.
func (c *Controller) Restart(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "restart")
}

// ForceRecreate tears the containers down to their image and brings them
// back up, regardless of whether the manifest changed.
func (c *Controller) ForceRecreate(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "up", "-d", "--force-recreate")
}

// Down removes the tenant's containers and networks.
func (c *Controller) Down(ctx context.Context, tenant, dir string) error {
	return c.compose(ctx, tenant, dir, "down")
}

func (c *Controller) compose(ctx context.Context, tenant, dir string, args ...string) error {
	full := append([]string{"compose", "-p", projectName(tenant)}, args...)
	out, err := c.runner.Run(ctx, dir, "docker", full...)
	if err != nil {
		return &ExternalToolError{Tool: "docker", Args: full, Output: string(out), Err: err}
	}
	c.logger.Debug().Str("tenant", tenant).Strs("args", args).Msg("compose applied")
	return nil
}

// State reports what the runtime knows about the tenant's engine
// container.
func (c *Controller) State(ctx context.Context, tenant string) (types.ContainerState, error) {
	name := confgen.EngineContainerName(tenant)
	out, err := c.runner.Run(ctx, "", "docker", "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		if isNoSuchObject(string(out)) {
			return types.ContainerStateAbsent, nil
		}
		return types.ContainerStateUnknown, &ExternalToolError{
			Tool: "docker", Args: []string{"inspect", name}, Output: string(out), Err: err,
		}
	}

	switch strings.TrimSpace(string(out)) {
	case "running":
		return types.ContainerStateRunning, nil
	case "exited", "created", "paused":
		return types.ContainerStateStopped, nil
	default:
		return types.ContainerStateUnknown, nil
	}
}

// WaitHealthy polls the engine container's readiness status until it
// reports healthy or the configured timeout elapses. An absent container
// is fatal (ErrContainerAbsent); a present but never-healthy container
// yields ErrHealthTimeout, which callers surface as a warning.
func (c *Controller) WaitHealthy(ctx context.Context, tenant string) error {
	name := confgen.EngineContainerName(tenant)
	deadline := time.Now().Add(c.cfg.HealthTimeout)

	for {
		out, err := c.runner.Run(ctx, "", "docker", "inspect", "-f", "{{.State.Health.Status}}", name)
		if err != nil {
			if isNoSuchObject(string(out)) {
				return fmt.Errorf("%w: %s", ErrContainerAbsent, name)
			}
			// Inspect hiccups are retried until the deadline.
			c.logger.Debug().Err(err).Str("container", name).Msg("inspect failed, retrying")
		} else if strings.TrimSpace(string(out)) == "healthy" {
			c.logger.Info().Str("container", name).Msg("container healthy")
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s: %s", ErrHealthTimeout, c.cfg.HealthTimeout, name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.HealthPoll):
		}
	}
}

// ExecEngine runs the cache engine CLI inside the tenant's container.
// Used for the save-to-disk trigger before backups.
func (c *Controller) ExecEngine(ctx context.Context, tenant string, args ...string) ([]byte, error) {
	name := confgen.EngineContainerName(tenant)
	full := append([]string{"exec", name, "redis-cli"}, args...)
	out, err := c.runner.Run(ctx, "", "docker", full...)
	if err != nil {
		return out, &ExternalToolError{Tool: "docker", Args: full, Output: string(out), Err: err}
	}
	return out, nil
}

func isNoSuchObject(output string) bool {
	return strings.Contains(output, "No such object") ||
		strings.Contains(output, "No such container")
}
