// Package environment is CRUD for sandbox configuration templates (image +
// resource limits). At most one Environment per sandboxType may be marked
// default; this is enforced on every write inside a transaction.
package environment

import (
	"errors"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
	"gorm.io/gorm"
)

type row struct {
	ID          string  `gorm:"primaryKey"`
	Name        string  `gorm:"column:name"`
	SandboxType string  `gorm:"column:sandbox_type"`
	Image       string  `gorm:"column:image"`
	CPU         *string `gorm:"column:cpu"`
	MemoryMB    *int    `gorm:"column:memory_mb"`
	DiskGB      *int    `gorm:"column:disk_gb"`
	IsDefault   bool    `gorm:"column:is_default"`
	CreatedAt   string  `gorm:"column:created_at"`
	UpdatedAt   string  `gorm:"column:updated_at"`
}

func (row) TableName() string { return "environments" }

// Clock supplies the current time as an ISO-8601 string.
type Clock func() string

// Store is the Environment CRUD surface.
type Store struct {
	db  *gorm.DB
	now Clock
}

// New constructs a Store.
func New(db *gorm.DB, now Clock) *Store {
	return &Store{db: db, now: now}
}

// Create inserts a new Environment. If IsDefault is set, any existing
// default for the same SandboxType is cleared first, inside the same
// transaction.
func (s *Store) Create(env *types.Environment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if env.IsDefault {
			if err := clearDefault(tx, env.SandboxType); err != nil {
				return err
			}
		}
		r := typeToRow(env)
		r.CreatedAt = s.now()
		r.UpdatedAt = r.CreatedAt
		return tx.Create(&r).Error
	})
}

// Update replaces an existing Environment's fields, enforcing the same
// at-most-one-default invariant.
func (s *Store) Update(env *types.Environment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing row
		if err := tx.First(&existing, "id = ?", env.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return relayerr.New(relayerr.KindNotFound, "environment not found")
			}
			return err
		}
		if env.IsDefault && !existing.IsDefault {
			if err := clearDefault(tx, env.SandboxType); err != nil {
				return err
			}
		}
		r := typeToRow(env)
		r.CreatedAt = existing.CreatedAt
		r.UpdatedAt = s.now()
		return tx.Save(&r).Error
	})
}

// Get fetches an Environment by id.
func (s *Store) Get(id string) (*types.Environment, error) {
	var r row
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayerr.New(relayerr.KindNotFound, "environment not found")
		}
		return nil, relayerr.Wrap(relayerr.KindTransport, "reading environment", err)
	}
	return rowToType(r), nil
}

// List returns every Environment.
func (s *Store) List() ([]*types.Environment, error) {
	var rows []row
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransport, "listing environments", err)
	}
	out := make([]*types.Environment, len(rows))
	for i, r := range rows {
		out[i] = rowToType(r)
	}
	return out, nil
}

// Delete removes an Environment. Idempotent.
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(&row{}, "id = ?", id).Error; err != nil {
		return relayerr.Wrap(relayerr.KindTransport, "deleting environment", err)
	}
	return nil
}

func clearDefault(tx *gorm.DB, sandboxType string) error {
	return tx.Model(&row{}).
		Where("sandbox_type = ? AND is_default = ?", sandboxType, true).
		Update("is_default", false).Error
}

func typeToRow(e *types.Environment) row {
	r := row{
		ID:          e.ID,
		Name:        e.Name,
		SandboxType: e.SandboxType,
		Image:       e.Image,
		IsDefault:   e.IsDefault,
	}
	if e.Resources.CPU != "" {
		cpu := e.Resources.CPU
		r.CPU = &cpu
	}
	if e.Resources.MemoryMB != 0 {
		mem := e.Resources.MemoryMB
		r.MemoryMB = &mem
	}
	if e.Resources.DiskGB != 0 {
		disk := e.Resources.DiskGB
		r.DiskGB = &disk
	}
	return r
}

func rowToType(r row) *types.Environment {
	env := &types.Environment{
		ID:          r.ID,
		Name:        r.Name,
		SandboxType: r.SandboxType,
		Image:       r.Image,
		IsDefault:   r.IsDefault,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.CPU != nil {
		env.Resources.CPU = *r.CPU
	}
	if r.MemoryMB != nil {
		env.Resources.MemoryMB = *r.MemoryMB
	}
	if r.DiskGB != nil {
		env.Resources.DiskGB = *r.DiskGB
	}
	return env
}
