package storage

import (
	"errors"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
	"gorm.io/gorm"
)

// SessionStore is the relational-store CRUD surface for sessions.
type SessionStore struct {
	db *gorm.DB
}

// NewSessionStore constructs a SessionStore over an open database.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Insert creates a new session row.
func (s *SessionStore) Insert(session *types.Session) error {
	row := sessionTypeToRow(session)
	if err := s.db.Create(&row).Error; err != nil {
		return relayerr.Wrap(relayerr.KindValidation, "inserting session", err)
	}
	return nil
}

// Get fetches a session by id.
func (s *SessionStore) Get(id string) (*types.Session, error) {
	var row SessionRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayerr.ErrSessionNotFound
		}
		return nil, relayerr.Wrap(relayerr.KindTransport, "reading session", err)
	}
	return sessionRowToType(row), nil
}

// List returns all sessions except those in the deleted status, newest
// activity first.
func (s *SessionStore) List() ([]*types.Session, error) {
	var rows []SessionRow
	err := s.db.Where("status != ?", string(types.StatusDeleted)).
		Order("last_activity_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransport, "listing sessions", err)
	}
	out := make([]*types.Session, len(rows))
	for i, row := range rows {
		out[i] = sessionRowToType(row)
	}
	return out, nil
}

// UpdateStatus performs an optimistic transition: the row is only updated
// if its current status matches expected, preventing two racing callers
// from both succeeding on an invalid transition.
func (s *SessionStore) UpdateStatus(id string, expected, next types.SessionStatus) error {
	result := s.db.Model(&SessionRow{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Update("status", string(next))
	if result.Error != nil {
		return relayerr.Wrap(relayerr.KindTransport, "updating session status", result.Error)
	}
	if result.RowsAffected == 0 {
		return relayerr.New(relayerr.KindConflict, "session status changed concurrently")
	}
	return nil
}

// BindSandbox atomically records a provider binding and transitions the
// session from creating to ready.
func (s *SessionStore) BindSandbox(id, providerType, providerSandboxID, imageDigest string) error {
	result := s.db.Model(&SessionRow{}).
		Where("id = ? AND status = ?", id, string(types.StatusCreating)).
		Updates(map[string]any{
			"status":              string(types.StatusReady),
			"provider_type":       providerType,
			"provider_sandbox_id": providerSandboxID,
			"image_digest":        imageDigest,
		})
	if result.Error != nil {
		return relayerr.Wrap(relayerr.KindTransport, "binding sandbox", result.Error)
	}
	if result.RowsAffected == 0 {
		return relayerr.New(relayerr.KindConflict, "session is not in creating status")
	}
	return nil
}

// ClearBinding clears the sandbox binding fields, used when a session
// transitions to deleted.
func (s *SessionStore) ClearBinding(id string) error {
	err := s.db.Model(&SessionRow{}).Where("id = ?", id).Updates(map[string]any{
		"provider_type":       nil,
		"provider_sandbox_id": nil,
		"image_digest":        nil,
	}).Error
	if err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "clearing sandbox binding", err)
	}
	return nil
}

// Touch updates lastActivityAt.
func (s *SessionStore) Touch(id, now string) error {
	err := s.db.Model(&SessionRow{}).Where("id = ?", id).Update("last_activity_at", now).Error
	if err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "touching session", err)
	}
	return nil
}

// SetModel updates the session's model preference mid-session.
func (s *SessionStore) SetModel(id string, provider, modelID *string) error {
	err := s.db.Model(&SessionRow{}).Where("id = ?", id).Updates(map[string]any{
		"model_provider": provider,
		"model_id":       modelID,
	}).Error
	if err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "setting session model", err)
	}
	return nil
}
