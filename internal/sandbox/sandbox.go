// Package sandbox defines the provider-abstracted sandbox lifecycle: an
// interface for creating, reattaching, listing, and cleaning up sandboxes,
// and the Handle/Channel contracts every concrete provider implements.
package sandbox

import "github.com/forgerelay/relay/pkg/types"

// Provider is the capability set every concrete sandbox backend (mock,
// container, microVM) implements.
type Provider interface {
	// Type identifies this provider, used as the providerType tag stored
	// on the session row (e.g. "mock", "container", "microvm").
	Type() string

	// IsAvailable is a cheap health probe (e.g. daemon ping).
	IsAvailable() bool

	// CreateSandbox provisions infrastructure for a new sandbox and
	// returns a handle whose ProviderID is stable for its lifetime.
	CreateSandbox(opts types.CreateSandboxOptions) (Handle, error)

	// GetSandbox reattaches to an existing sandbox by its provider-scoped
	// id. Fails with relayerr.ErrSandboxNotFound if the backing resource
	// is gone.
	GetSandbox(providerID string) (Handle, error)

	// ListSandboxes enumerates all sandboxes this provider currently
	// knows about.
	ListSandboxes() ([]types.SandboxInfo, error)

	// Cleanup garbage-collects stopped or orphaned sandboxes.
	Cleanup() (types.CleanupResult, error)

	// Capabilities describes what this provider's sandboxes can do,
	// advertised once at registration time.
	Capabilities() types.Capabilities
}

// Handle is a single sandbox instance, returned by CreateSandbox/GetSandbox.
type Handle interface {
	// ProviderID is this sandbox's stable, provider-scoped identifier.
	ProviderID() string

	// Status returns the current lifecycle state.
	Status() types.SandboxStatus

	// Resume transitions paused -> running (or waits while creating),
	// re-materializing ephemeral credential files with fresh material.
	Resume(secrets map[string]string, repoAuthToken string) error

	// Attach returns a duplex line-delimited JSON channel to the agent.
	// Calling Attach again closes the previous channel (firing its
	// onClose) and returns a fresh one: single-writer, fan-out-reader.
	Attach() (Channel, error)

	// Pause best-effort suspends the sandbox, preserving its workspace.
	// Advertised via Capabilities().LosslessPause.
	Pause() error

	// Terminate unconditionally moves the sandbox to stopped, closes any
	// open channel, and releases provider resources.
	Terminate() error

	// OnStatusChange registers a handler invoked on every status
	// transition; the returned func unsubscribes it.
	OnStatusChange(handler func(types.SandboxStatus)) (unsubscribe func())
}

// Channel is the line-delimited duplex JSON connection between the relay
// and the agent's stdin/stdout.
type Channel interface {
	// Send writes one JSON-encoded message plus newline to the agent's
	// stdin. A no-op if the channel is closed.
	Send(line []byte) error

	// OnMessage registers a handler invoked synchronously, in arrival
	// order, for each stdout line.
	OnMessage(handler func(line []byte))

	// OnClose registers a handler that fires exactly once, with an
	// optional reason (peer exit, re-attach, explicit close).
	OnClose(handler func(reason string))

	// Close closes stdin. Does not kill the sandbox.
	Close() error
}
