// Package secrets is the relay's encrypted secret store: CRUD over a
// secrets table with transparent AES-256-GCM envelope encryption.
// Plaintext never crosses the component boundary except via Get and
// Materialize.
package secrets

import (
	"errors"

	"github.com/forgerelay/relay/internal/crypto"
	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
	"gorm.io/gorm"
)

type row struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"column:name"`
	EnvVarName string `gorm:"column:env_var_name"`
	Kind       string `gorm:"column:kind"`
	Enabled    bool   `gorm:"column:enabled"`
	Ciphertext []byte `gorm:"column:ciphertext"`
	Nonce      []byte `gorm:"column:nonce"`
	KeyVersion string `gorm:"column:key_version"`
	CreatedAt  string `gorm:"column:created_at"`
	UpdatedAt  string `gorm:"column:updated_at"`
}

func (row) TableName() string { return "secrets" }

// Clock supplies the current time as an ISO-8601 string; injected so the
// store never calls time.Now() itself.
type Clock func() string

// Store is the encrypted secret CRUD surface.
type Store struct {
	db         *gorm.DB
	sealer     *crypto.Sealer
	keyVersion string
	now        Clock
}

// New constructs a Store. keyVersion is the version new secrets are sealed
// under; sealer must also be able to open any older version still present
// in the table.
func New(db *gorm.DB, sealer *crypto.Sealer, keyVersion string, now Clock) *Store {
	return &Store{db: db, sealer: sealer, keyVersion: keyVersion, now: now}
}

// Put creates or replaces a secret, always re-encrypting under the
// currently configured key version.
func (s *Store) Put(id, name, envVar string, kind types.SecretKind, value []byte, enabled bool) (types.SecretMetadata, error) {
	sealed, err := s.sealer.Seal(value, s.keyVersion)
	if err != nil {
		return types.SecretMetadata{}, err
	}

	now := s.now()
	r := row{
		ID:         id,
		Name:       name,
		EnvVarName: envVar,
		Kind:       string(kind),
		Enabled:    enabled,
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		KeyVersion: sealed.KeyVersion,
		UpdatedAt:  now,
	}

	var existing row
	err = s.db.First(&existing, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		r.CreatedAt = now
		if err := s.db.Create(&r).Error; err != nil {
			return types.SecretMetadata{}, relayerr.Wrap(relayerr.KindValidation, "inserting secret", err)
		}
	case err != nil:
		return types.SecretMetadata{}, relayerr.Wrap(relayerr.KindTransport, "checking existing secret", err)
	default:
		r.CreatedAt = existing.CreatedAt
		if err := s.db.Save(&r).Error; err != nil {
			return types.SecretMetadata{}, relayerr.Wrap(relayerr.KindValidation, "replacing secret", err)
		}
	}

	return rowToMetadata(r), nil
}

// Get decrypts and returns a secret's plaintext alongside its metadata.
func (s *Store) Get(id string) (types.SecretWithPlaintext, error) {
	var r row
	err := s.db.First(&r, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.SecretWithPlaintext{}, relayerr.ErrSecretNotFound
		}
		return types.SecretWithPlaintext{}, relayerr.Wrap(relayerr.KindTransport, "reading secret", err)
	}

	plaintext, err := s.sealer.Open(crypto.Sealed{
		Ciphertext: r.Ciphertext,
		Nonce:      r.Nonce,
		KeyVersion: r.KeyVersion,
	})
	if err != nil {
		return types.SecretWithPlaintext{}, err
	}

	return types.SecretWithPlaintext{
		Metadata:  rowToMetadata(r),
		Plaintext: plaintext,
	}, nil
}

// List returns metadata for every secret. Plaintext is never included.
func (s *Store) List() ([]types.SecretMetadata, error) {
	var rows []row
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransport, "listing secrets", err)
	}
	out := make([]types.SecretMetadata, len(rows))
	for i, r := range rows {
		out[i] = rowToMetadata(r)
	}
	return out, nil
}

// Delete removes a secret. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(&row{}, "id = ?", id).Error; err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "deleting secret", err)
	}
	return nil
}

// Materialize decrypts every enabled secret matching filter and returns an
// envVarName -> plaintext map, suitable for injecting into a sandbox's
// environment at session create / resume time.
func (s *Store) Materialize(filter types.MaterializeFilter) (map[string]string, error) {
	q := s.db.Where("enabled = ?", true)
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind IN ?", kinds)
	}

	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransport, "materializing secrets", err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		plaintext, err := s.sealer.Open(crypto.Sealed{
			Ciphertext: r.Ciphertext,
			Nonce:      r.Nonce,
			KeyVersion: r.KeyVersion,
		})
		if err != nil {
			return nil, err
		}
		out[r.EnvVarName] = string(plaintext)
	}
	return out, nil
}

func rowToMetadata(r row) types.SecretMetadata {
	return types.SecretMetadata{
		ID:         r.ID,
		Name:       r.Name,
		EnvVarName: r.EnvVarName,
		Kind:       types.SecretKind(r.Kind),
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
