package sandboxmgr

import (
	"testing"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox/mock"
	"github.com/forgerelay/relay/pkg/types"
)

func TestCreateAndAttachRoundtrip(t *testing.T) {
	m := New("mock", mock.New())

	providerType, h, err := m.CreateForSession(types.CreateSandboxOptions{SessionID: "s1"}, "")
	if err != nil {
		t.Fatalf("CreateForSession: %v", err)
	}
	if providerType != "mock" {
		t.Fatalf("expected default provider 'mock', got %q", providerType)
	}

	_, ch, err := m.AttachSession(providerType, h.ProviderID())
	if err != nil {
		t.Fatalf("AttachSession: %v", err)
	}
	if ch == nil {
		t.Fatal("expected non-nil channel")
	}
}

func TestUnknownProviderTypeIsProviderUnavailable(t *testing.T) {
	m := New("mock", mock.New())
	if _, _, err := m.CreateForSession(types.CreateSandboxOptions{SessionID: "s2"}, "nonexistent"); !relayerr.Is(err, relayerr.KindProviderUnavailable) {
		t.Fatalf("expected KindProviderUnavailable, got %v", err)
	}
}

func TestTerminateIsIdempotentForMissingSandbox(t *testing.T) {
	m := New("mock", mock.New())
	if err := m.Terminate("mock", "never-existed"); err != nil {
		t.Fatalf("expected idempotent terminate, got %v", err)
	}
}

func TestProviderStatusReportsAvailability(t *testing.T) {
	m := New("mock", mock.New())
	status := m.ProviderStatus()
	h, ok := status["mock"]
	if !ok {
		t.Fatal("expected 'mock' in provider status")
	}
	if !h.Enabled || !h.Available {
		t.Fatalf("expected mock provider enabled and available, got %+v", h)
	}
}
