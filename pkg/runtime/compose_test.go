package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/msrv-digital/cachepilot/pkg/config"
	"github.com/msrv-digital/cachepilot/pkg/types"
)

// fakeRunner replays canned responses per command prefix.
type fakeRunner struct {
	calls     [][]string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := strings.Join(call, " ")
	for prefix, resp := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return []byte(resp.output), resp.err
		}
	}
	return nil, nil
}

func testController(runner *fakeRunner) *Controller {
	cfg := config.Default()
	cfg.Runtime.HealthTimeout = 50 * time.Millisecond
	cfg.Runtime.HealthPoll = 5 * time.Millisecond
	return NewControllerWithRunner(cfg, runner)
}

func TestApplyInvokesCompose(t *testing.T) {
	runner := &fakeRunner{}
	c := testController(runner)

	if err := c.Apply(context.Background(), "acme", "/tmp/acme"); err != nil {
		t.Fatal(err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	got := strings.Join(runner.calls[0], " ")
	want := "docker compose -p cachepilot-acme up -d"
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestComposeFailureSurfacesToolOutput(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker compose": {output: "no space left on device", err: errors.New("exit status 1")},
	}}
	c := testController(runner)

	err := c.Apply(context.Background(), "acme", "/tmp/acme")
	if err == nil {
		t.Fatal("expected error")
	}

	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %T", err)
	}
	if !strings.Contains(toolErr.Error(), "no space left on device") {
		t.Errorf("tool output not surfaced: %v", toolErr)
	}
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		output string
		err    error
		want   types.ContainerState
	}{
		{"running\n", nil, types.ContainerStateRunning},
		{"exited\n", nil, types.ContainerStateStopped},
		{"Error: No such object: redis-acme", errors.New("exit status 1"), types.ContainerStateAbsent},
	}

	for _, tt := range tests {
		runner := &fakeRunner{responses: map[string]fakeResponse{
			"docker inspect": {output: tt.output, err: tt.err},
		}}
		c := testController(runner)

		state, err := c.State(context.Background(), "acme")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.output, err)
		}
		if state != tt.want {
			t.Errorf("state for %q = %s, want %s", tt.output, state, tt.want)
		}
	}
}

func TestWaitHealthySucceeds(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker inspect": {output: "healthy\n"},
	}}
	c := testController(runner)

	if err := c.WaitHealthy(context.Background(), "acme"); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}

func TestWaitHealthyTimesOutNonFatally(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker inspect": {output: "starting\n"},
	}}
	c := testController(runner)

	err := c.WaitHealthy(context.Background(), "acme")
	if !errors.Is(err, ErrHealthTimeout) {
		t.Errorf("expected ErrHealthTimeout, got %v", err)
	}
}

func TestWaitHealthyAbsentIsFatal(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker inspect": {output: "Error: No such object: redis-acme", err: errors.New("exit status 1")},
	}}
	c := testController(runner)

	err := c.WaitHealthy(context.Background(), "acme")
	if !errors.Is(err, ErrContainerAbsent) {
		t.Errorf("expected ErrContainerAbsent, got %v", err)
	}
}

func TestExecEngine(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker exec": {output: "PONG\n"},
	}}
	c := testController(runner)

	out, err := c.ExecEngine(context.Background(), "acme", "-p", "26380", "ping")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "PONG" {
		t.Errorf("output = %q", out)
	}

	got := strings.Join(runner.calls[0], " ")
	want := fmt.Sprintf("docker exec %s redis-cli -p 26380 ping", "redis-acme")
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}
