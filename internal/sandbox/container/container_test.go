package container

import (
	"testing"

	dockertypes "github.com/docker/docker/api/types"

	"github.com/forgerelay/relay/pkg/types"
)

func TestTypeAndCapabilities(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Type() != "container" {
		t.Fatalf("expected type container, got %q", p.Type())
	}
	caps := p.Capabilities()
	if !caps.LosslessPause {
		t.Error("expected LosslessPause true: Docker natively supports pause/unpause")
	}
	if !caps.PersistentDisk {
		t.Error("expected PersistentDisk true")
	}
}

func TestIsAvailableNeverPanicsWithoutDaemon(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No assumption about a running daemon in the test environment; the
	// only contract under test is that IsAvailable degrades to false
	// instead of blocking or panicking.
	_ = p.IsAvailable()
}

func TestStatusFromDockerState(t *testing.T) {
	cases := map[string]types.SandboxStatus{
		"running":    types.SandboxRunning,
		"paused":     types.SandboxPaused,
		"exited":     types.SandboxStopped,
		"dead":       types.SandboxStopped,
		"restarting": types.SandboxCreating,
		"created":    types.SandboxCreating,
		"weird":      types.SandboxError,
	}
	for in, want := range cases {
		if got := statusFromDockerState(in); got != want {
			t.Errorf("statusFromDockerState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFromStateNilIsError(t *testing.T) {
	if got := statusFromState(nil); got != types.SandboxError {
		t.Errorf("expected SandboxError for nil state, got %q", got)
	}
	if got := statusFromState(&dockertypes.ContainerState{Status: "running"}); got != types.SandboxRunning {
		t.Errorf("expected SandboxRunning, got %q", got)
	}
}

func TestGetSandboxUnknownIDReturnsNotFound(t *testing.T) {
	p, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.GetSandbox("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown container ID")
	}
}
