//go:build darwin

package microvm

import (
	"strings"
	"testing"

	"github.com/lima-vm/lima/pkg/store"

	"github.com/forgerelay/relay/pkg/types"
)

func TestInstanceNameTruncatesLongSessionIDs(t *testing.T) {
	short := instanceName("abc123")
	if short != "relay-abc123" {
		t.Errorf("expected relay-abc123, got %q", short)
	}

	long := instanceName("0123456789abcdefXXXXXXXXXX")
	if !strings.HasPrefix(long, instancePrefix) {
		t.Fatalf("expected %q prefix, got %q", instancePrefix, long)
	}
	if len(long) != len(instancePrefix)+16 {
		t.Errorf("expected truncation to 16 chars of session ID, got %q (len %d)", long, len(long))
	}
}

func TestStatusFromLima(t *testing.T) {
	cases := map[store.Status]types.SandboxStatus{
		store.StatusRunning: types.SandboxRunning,
		store.StatusStopped: types.SandboxStopped,
		store.Status(""):    types.SandboxCreating,
	}
	for in, want := range cases {
		if got := statusFromLima(in); got != want {
			t.Errorf("statusFromLima(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLimaConfigForScalesByResourceTier(t *testing.T) {
	small := limaConfigFor(Config{}, types.CreateSandboxOptions{SessionID: "s1"})
	if *small.CPUs != 2 || *small.Memory != "2GiB" {
		t.Errorf("expected small tier defaults, got cpus=%d mem=%s", *small.CPUs, *small.Memory)
	}

	medium := limaConfigFor(Config{}, types.CreateSandboxOptions{SessionID: "s2", ResourceTier: types.TierMedium})
	if *medium.CPUs != 4 || *medium.Memory != "4GiB" {
		t.Errorf("expected medium tier sizing, got cpus=%d mem=%s", *medium.CPUs, *medium.Memory)
	}

	large := limaConfigFor(Config{}, types.CreateSandboxOptions{SessionID: "s3", ResourceTier: types.TierLarge})
	if *large.CPUs != 8 || *large.Memory != "8GiB" {
		t.Errorf("expected large tier sizing, got cpus=%d mem=%s", *large.CPUs, *large.Memory)
	}
}

func TestLimaConfigForAddsDataDirMount(t *testing.T) {
	cfg := limaConfigFor(Config{DataDir: "/var/relay/data"}, types.CreateSandboxOptions{SessionID: "sess-9"})
	if len(cfg.Mounts) != 1 {
		t.Fatalf("expected one mount, got %d", len(cfg.Mounts))
	}
	if !strings.Contains(cfg.Mounts[0].Location, "sess-9") {
		t.Errorf("expected mount location to include session ID, got %q", cfg.Mounts[0].Location)
	}
	if cfg.Mounts[0].Writable == nil || !*cfg.Mounts[0].Writable {
		t.Error("expected the data mount to be writable")
	}
}

func TestLimaConfigForNoDataDirMeansNoMounts(t *testing.T) {
	cfg := limaConfigFor(Config{}, types.CreateSandboxOptions{SessionID: "sess-1"})
	if len(cfg.Mounts) != 0 {
		t.Errorf("expected no mounts without a configured data dir, got %d", len(cfg.Mounts))
	}
}

func TestTypeAndCapabilities(t *testing.T) {
	p := New(Config{})
	if p.Type() != "microvm" {
		t.Errorf("expected type microvm, got %q", p.Type())
	}
	caps := p.Capabilities()
	if caps.LosslessPause {
		t.Error("expected LosslessPause false: Lima resume is a cold start, not a thaw")
	}
	if !caps.PersistentDisk {
		t.Error("expected PersistentDisk true")
	}
}

func TestNewDefaultsAgentCommand(t *testing.T) {
	p := New(Config{})
	if len(p.cfg.AgentCommand) != 1 || p.cfg.AgentCommand[0] != "/usr/local/bin/relay-agent" {
		t.Errorf("expected default agent command, got %v", p.cfg.AgentCommand)
	}

	custom := New(Config{AgentCommand: []string{"/bin/custom-agent", "--flag"}})
	if len(custom.cfg.AgentCommand) != 2 {
		t.Errorf("expected custom agent command to be preserved, got %v", custom.cfg.AgentCommand)
	}
}
