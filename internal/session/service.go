// Package session owns the session state machine: CRUD over the sessions
// table plus the transitions that bind a session to a provisioned
// sandbox. It does not itself talk to a sandbox provider — that wiring
// lives in the server layer, which calls back into BindSandbox once
// provisioning completes.
package session

import (
	"time"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
	"github.com/google/uuid"
)

// SessionStore is the storage-layer surface the service needs.
type SessionStore interface {
	Insert(s *types.Session) error
	Get(id string) (*types.Session, error)
	List() ([]*types.Session, error)
	UpdateStatus(id string, expected, next types.SessionStatus) error
	BindSandbox(id, providerType, providerSandboxID, imageDigest string) error
	ClearBinding(id string) error
	Touch(id string, now string) error
	SetModel(id string, provider, modelID *string) error
}

// Clock supplies the current time as an ISO-8601 string.
type Clock func() string

// CreateParams parameterizes Create.
type CreateParams struct {
	Mode          types.SessionMode
	RepoID        *string
	Branch        *string
	EnvironmentID *string
	ModelProvider *string
	ModelID       *string
	Name          string
}

// Service owns the session state machine.
type Service struct {
	store SessionStore
	now   Clock
}

// New constructs a Service.
func New(store SessionStore, now Clock) *Service {
	return &Service{store: store, now: now}
}

// Create inserts a new session in the creating state. It does not
// provision a sandbox itself; the caller (server layer) is expected to
// kick off sandbox creation and call BindSandbox once the provider
// returns a handle.
func (s *Service) Create(params CreateParams) (*types.Session, error) {
	if params.Mode != types.ModeChat && params.Mode != types.ModeCode {
		return nil, relayerr.New(relayerr.KindValidation, "mode must be 'chat' or 'code'")
	}
	if params.Mode == types.ModeChat && (params.RepoID != nil || params.Branch != nil) {
		return nil, relayerr.New(relayerr.KindValidation, "chat sessions cannot be bound to a repo or branch")
	}
	if params.Mode == types.ModeCode && params.RepoID == nil {
		return nil, relayerr.New(relayerr.KindValidation, "code sessions require a repoId")
	}

	now := s.now()
	sess := &types.Session{
		ID:             uuid.NewString(),
		Mode:           params.Mode,
		Status:         types.StatusCreating,
		RepoID:         params.RepoID,
		Branch:         params.Branch,
		ModelProvider:  params.ModelProvider,
		ModelID:        params.ModelID,
		EnvironmentID:  params.EnvironmentID,
		Name:           params.Name,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Insert(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(id string) (*types.Session, error) {
	return s.store.Get(id)
}

// List returns every non-deleted session.
func (s *Service) List() ([]*types.Session, error) {
	return s.store.List()
}

// Delete transitions a session to stopped. The caller is responsible for
// scheduling sandbox termination; this only updates the session row.
// Deleting an already-stopped or already-deleted session is a no-op, to
// keep DELETE idempotent at the REST layer.
func (s *Service) Delete(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		if relayerr.Is(err, relayerr.KindNotFound) {
			return nil
		}
		return err
	}
	if sess.Status == types.StatusStopped || sess.Status == types.StatusDeleted {
		return nil
	}
	if err := s.store.UpdateStatus(id, sess.Status, types.StatusStopped); err != nil {
		return relayerr.Wrap(relayerr.KindConflict, "deleting session", err)
	}
	return nil
}

// MarkDeleted finishes the delete lifecycle once the sandbox has been
// garbage collected.
func (s *Service) MarkDeleted(id string) error {
	if err := s.store.UpdateStatus(id, types.StatusStopped, types.StatusDeleted); err != nil {
		return relayerr.Wrap(relayerr.KindConflict, "marking session deleted", err)
	}
	return s.store.ClearBinding(id)
}

// BindSandbox atomically records a sandbox binding and moves the session
// from creating to ready.
func (s *Service) BindSandbox(id, providerType, providerSandboxID, imageDigest string) error {
	if err := s.store.BindSandbox(id, providerType, providerSandboxID, imageDigest); err != nil {
		return relayerr.Wrap(relayerr.KindConflict, "binding sandbox", err)
	}
	return nil
}

// MarkRunning transitions ready -> running on the first prompt.
func (s *Service) MarkRunning(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sess.Status == types.StatusRunning {
		return nil
	}
	if !types.CanTransition(sess.Status, types.StatusRunning) {
		return relayerr.New(relayerr.KindConflict, "session cannot transition to running from "+string(sess.Status))
	}
	return s.store.UpdateStatus(id, sess.Status, types.StatusRunning)
}

// Pause transitions running -> paused.
func (s *Service) Pause(id string) error {
	return s.store.UpdateStatus(id, types.StatusRunning, types.StatusPaused)
}

// Resume transitions paused -> running.
func (s *Service) Resume(id string) error {
	return s.store.UpdateStatus(id, types.StatusPaused, types.StatusRunning)
}

// MarkError moves a session to the error state when the state machine
// allows it (from creating, ready, running or paused); from any other
// status it is a no-op and returns nil.
func (s *Service) MarkError(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !types.CanTransition(sess.Status, types.StatusError) {
		return nil
	}
	return s.store.UpdateStatus(id, sess.Status, types.StatusError)
}

// Touch updates lastActivityAt to now.
func (s *Service) Touch(id string) error {
	return s.store.Touch(id, s.now())
}

// SetModel updates a session's model preference mid-session.
func (s *Service) SetModel(id string, provider, modelID *string) error {
	return s.store.SetModel(id, provider, modelID)
}

// RealClock is the Clock used outside of tests.
func RealClock() string { return time.Now().UTC().Format(time.RFC3339) }
