// Package sandboxmgr is the multi-provider registry that routes sandbox
// operations by the (providerType, providerId) pair stored on a session
// row. It holds no session state of its own; the database is the source
// of truth, and the manager is read-only over its provider map after
// construction.
package sandboxmgr

import (
	"fmt"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/pkg/types"
)

// Manager routes sandbox lifecycle operations to the provider registered
// for a given providerType.
type Manager struct {
	providers   map[string]sandbox.Provider
	defaultType string
}

// New constructs a Manager over the given providers, keyed by their
// Type(). defaultType selects which provider CreateForSession uses when
// the caller does not specify one.
func New(defaultType string, providers ...sandbox.Provider) *Manager {
	m := &Manager{providers: make(map[string]sandbox.Provider, len(providers)), defaultType: defaultType}
	for _, p := range providers {
		m.providers[p.Type()] = p
	}
	return m
}

func (m *Manager) provider(providerType string) (sandbox.Provider, error) {
	p, ok := m.providers[providerType]
	if !ok {
		return nil, relayerr.New(relayerr.KindProviderUnavailable, fmt.Sprintf("unknown sandbox provider %q", providerType))
	}
	return p, nil
}

// CreateForSession provisions a new sandbox, using the default provider
// when providerType is empty.
func (m *Manager) CreateForSession(opts types.CreateSandboxOptions, providerType string) (string, sandbox.Handle, error) {
	if providerType == "" {
		providerType = m.defaultType
	}
	p, err := m.provider(providerType)
	if err != nil {
		return "", nil, err
	}
	if !p.IsAvailable() {
		return "", nil, relayerr.New(relayerr.KindProviderUnavailable, fmt.Sprintf("sandbox provider %q is unavailable", providerType))
	}
	h, err := p.CreateSandbox(opts)
	if err != nil {
		return "", nil, relayerr.Wrap(relayerr.KindSandboxFailure, "creating sandbox", err)
	}
	return providerType, h, nil
}

// GetHandle reattaches to an existing sandbox.
func (m *Manager) GetHandle(providerType, providerID string) (sandbox.Handle, error) {
	p, err := m.provider(providerType)
	if err != nil {
		return nil, err
	}
	return p.GetSandbox(providerID)
}

// ResumeSession fetches the handle and resumes it with fresh credentials.
func (m *Manager) ResumeSession(providerType, providerID string, secrets map[string]string, repoAuthToken string) (sandbox.Handle, error) {
	h, err := m.GetHandle(providerType, providerID)
	if err != nil {
		return nil, err
	}
	if err := h.Resume(secrets, repoAuthToken); err != nil {
		return nil, relayerr.Wrap(relayerr.KindSandboxFailure, "resuming sandbox", err)
	}
	return h, nil
}

// AttachSession fetches the handle and attaches a fresh channel.
func (m *Manager) AttachSession(providerType, providerID string) (sandbox.Handle, sandbox.Channel, error) {
	h, err := m.GetHandle(providerType, providerID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := h.Attach()
	if err != nil {
		return nil, nil, relayerr.Wrap(relayerr.KindSandboxFailure, "attaching to sandbox", err)
	}
	return h, ch, nil
}

// Terminate tears a sandbox down. A missing sandbox is not an error:
// terminate is used from session delete, which must be idempotent.
func (m *Manager) Terminate(providerType, providerID string) error {
	h, err := m.GetHandle(providerType, providerID)
	if err != nil {
		if relayerr.Is(err, relayerr.KindNotFound) {
			return nil
		}
		return err
	}
	return h.Terminate()
}

// ProviderStatus surfaces every registered provider's health.
func (m *Manager) ProviderStatus() map[string]types.ProviderHealth {
	out := make(map[string]types.ProviderHealth, len(m.providers))
	for t, p := range m.providers {
		out[t] = types.ProviderHealth{Enabled: true, Available: p.IsAvailable()}
	}
	return out
}

// DefaultType returns the provider type used when none is specified.
func (m *Manager) DefaultType() string { return m.defaultType }

// CleanupAll runs every registered provider's garbage collection pass and
// returns the total number of sandboxes removed. A single provider's
// failure does not stop the others from running.
func (m *Manager) CleanupAll() (int, error) {
	total := 0
	var firstErr error
	for _, p := range m.providers {
		result, err := p.Cleanup()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += result.Removed
	}
	return total, firstErr
}
