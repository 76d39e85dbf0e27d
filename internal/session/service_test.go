package session

import (
	"testing"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
)

type fakeStore struct {
	sessions map[string]*types.Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*types.Session)}
}

func (f *fakeStore) Insert(s *types.Session) error {
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) Get(id string) (*types.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, relayerr.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) List() ([]*types.Session, error) {
	out := make([]*types.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(id string, expected, next types.SessionStatus) error {
	s, ok := f.sessions[id]
	if !ok {
		return relayerr.ErrSessionNotFound
	}
	if s.Status != expected {
		return relayerr.New(relayerr.KindConflict, "status mismatch")
	}
	s.Status = next
	return nil
}

func (f *fakeStore) BindSandbox(id, providerType, providerSandboxID, imageDigest string) error {
	s, ok := f.sessions[id]
	if !ok {
		return relayerr.ErrSessionNotFound
	}
	if s.Status != types.StatusCreating {
		return relayerr.New(relayerr.KindConflict, "not creating")
	}
	s.Status = types.StatusReady
	s.Binding = &types.SessionBinding{ProviderType: providerType, ProviderSandboxID: providerSandboxID, ImageDigest: imageDigest}
	return nil
}

func (f *fakeStore) ClearBinding(id string) error {
	if s, ok := f.sessions[id]; ok {
		s.Binding = nil
	}
	return nil
}

func (f *fakeStore) Touch(id, now string) error {
	if s, ok := f.sessions[id]; ok {
		s.LastActivityAt = now
	}
	return nil
}

func (f *fakeStore) SetModel(id string, provider, modelID *string) error {
	if s, ok := f.sessions[id]; ok {
		s.ModelProvider = provider
		s.ModelID = modelID
	}
	return nil
}

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	clock := func() string { return "2026-07-29T00:00:00Z" }
	return New(store, clock), store
}

func TestCreateChatSessionStartsInCreating(t *testing.T) {
	svc, _ := newTestService()
	sess, err := svc.Create(CreateParams{Mode: types.ModeChat, Name: "test"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != types.StatusCreating {
		t.Fatalf("expected creating, got %s", sess.Status)
	}
}

func TestCreateCodeSessionRequiresRepoID(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Create(CreateParams{Mode: types.ModeCode}); !relayerr.Is(err, relayerr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestBindSandboxTransitionsCreatingToReady(t *testing.T) {
	svc, _ := newTestService()
	sess, _ := svc.Create(CreateParams{Mode: types.ModeChat})

	if err := svc.BindSandbox(sess.ID, "mock", "mock-"+sess.ID, ""); err != nil {
		t.Fatalf("BindSandbox: %v", err)
	}

	got, err := svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
	if got.Binding == nil || got.Binding.ProviderType != "mock" {
		t.Fatalf("expected mock binding, got %+v", got.Binding)
	}
}

func TestMarkRunningRequiresReady(t *testing.T) {
	svc, _ := newTestService()
	sess, _ := svc.Create(CreateParams{Mode: types.ModeChat})

	if err := svc.MarkRunning(sess.ID); !relayerr.Is(err, relayerr.KindConflict) {
		t.Fatalf("expected KindConflict moving from creating to running, got %v", err)
	}

	if err := svc.BindSandbox(sess.ID, "mock", "mock-id", ""); err != nil {
		t.Fatalf("BindSandbox: %v", err)
	}
	if err := svc.MarkRunning(sess.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Delete("never-existed"); err != nil {
		t.Fatalf("expected idempotent delete of unknown session, got %v", err)
	}

	sess, _ := svc.Create(CreateParams{Mode: types.ModeChat})
	_ = svc.BindSandbox(sess.ID, "mock", "id", "")
	if err := svc.Delete(sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(sess.ID); err != nil {
		t.Fatalf("expected second Delete to be idempotent, got %v", err)
	}
}

func TestMarkErrorReachableFromAnyNonTerminalStatus(t *testing.T) {
	svc, _ := newTestService()
	sess, _ := svc.Create(CreateParams{Mode: types.ModeChat})

	if err := svc.MarkError(sess.ID); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	got, _ := svc.Get(sess.ID)
	if got.Status != types.StatusError {
		t.Fatalf("expected error, got %s", got.Status)
	}

	// error is terminal; a second MarkError is a silent no-op.
	if err := svc.MarkError(sess.ID); err != nil {
		t.Fatalf("expected no-op MarkError from terminal state, got %v", err)
	}
}
