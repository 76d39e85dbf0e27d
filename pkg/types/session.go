// Package types provides the core data types shared across the relay server.
package types

// SessionMode selects the shape of a session's interaction.
type SessionMode string

const (
	ModeChat SessionMode = "chat"
	ModeCode SessionMode = "code"
)

// SessionStatus is the session state machine's current state.
type SessionStatus string

const (
	StatusCreating SessionStatus = "creating"
	StatusReady    SessionStatus = "ready"
	StatusRunning  SessionStatus = "running"
	StatusPaused   SessionStatus = "paused"
	StatusStopped  SessionStatus = "stopped"
	StatusDeleted  SessionStatus = "deleted"
	StatusError    SessionStatus = "error"
)

// Session is the central entity: a logical conversation binding a client to
// an agent running in a sandbox.
type Session struct {
	ID     string        `json:"id"`
	Mode   SessionMode   `json:"mode"`
	Status SessionStatus `json:"status"`

	// RepoID and Branch are set only for code-mode sessions.
	RepoID *string `json:"repoId,omitempty"`
	Branch *string `json:"branch,omitempty"`

	// Binding is non-nil iff Status is in {ready, running, paused}.
	Binding *SessionBinding `json:"binding,omitempty"`

	ModelProvider *string `json:"modelProvider,omitempty"`
	ModelID       *string `json:"modelId,omitempty"`

	EnvironmentID *string `json:"environmentId,omitempty"`

	Name           string `json:"name"`
	CreatedAt      string `json:"createdAt"`
	LastActivityAt string `json:"lastActivityAt"`
}

// SessionBinding records the provider and sandbox a session is bound to.
// It mirrors a coarse view of the provider's own handle state; the provider
// remains the source of truth for sandbox status.
type SessionBinding struct {
	ProviderType      string `json:"providerType"`
	ProviderSandboxID string `json:"providerSandboxId"`
	ImageDigest       string `json:"imageDigest,omitempty"`
}

// HasBinding reports whether status s requires a non-nil binding.
func (s SessionStatus) HasBinding() bool {
	switch s {
	case StatusReady, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

// ValidTransitions enumerates the legal next states for each session status,
// per the state machine in the session lifecycle design.
var ValidTransitions = map[SessionStatus][]SessionStatus{
	StatusCreating: {StatusReady, StatusError},
	StatusReady:    {StatusRunning, StatusStopped, StatusError},
	StatusRunning:  {StatusPaused, StatusStopped, StatusError},
	StatusPaused:   {StatusRunning, StatusStopped, StatusError},
	StatusStopped:  {StatusDeleted},
	StatusError:    {},
	StatusDeleted:  {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to SessionStatus) bool {
	for _, candidate := range ValidTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
