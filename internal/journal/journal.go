// Package journal is the per-session append-only event log: seq is dense
// and monotonically increasing within a session, assigned atomically on
// append so concurrent writers to the same session never collide.
package journal

import (
	"sync"
	"time"

	"github.com/forgerelay/relay/internal/metrics"
	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
	"gorm.io/gorm"
)

// row mirrors storage.JournalEntryRow; journal owns its own gorm model so
// it is testable without depending on the storage package's session/secret
// concerns.
type row struct {
	SessionID string `gorm:"column:session_id;primaryKey"`
	Seq       int64  `gorm:"column:seq;primaryKey"`
	Type      string `gorm:"column:type"`
	Payload   []byte `gorm:"column:payload"`
	CreatedAt string `gorm:"column:created_at"`
}

func (row) TableName() string { return "journal_entries" }

// Journal is the append-only event log backed by the relational store.
type Journal struct {
	db *gorm.DB

	// locks holds one *sync.Mutex per session so appends to the same
	// session run one at a time within this process.
	locks sync.Map
}

// New constructs a Journal over an open database. The caller is
// responsible for having run migrations that create journal_entries.
func New(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

// Append assigns the next seq for sessionID and inserts the entry in a
// single transaction, so appends to the same session serialize and seq
// never gaps. now is the ISO-8601 createdAt stamp; callers provide it so
// the journal never calls time.Now() itself.
func (j *Journal) Append(sessionID, entryType string, payload []byte, now string) (int64, error) {
	start := time.Now()
	defer func() { metrics.JournalAppendDuration.Observe(time.Since(start).Seconds()) }()

	l, _ := j.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	var seq int64
	err := j.db.Transaction(func(tx *gorm.DB) error {
		var last row
		err := tx.Where("session_id = ?", sessionID).
			Order("seq DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return err
		}
		seq = last.Seq + 1

		return tx.Create(&row{
			SessionID: sessionID,
			Seq:       seq,
			Type:      entryType,
			Payload:   payload,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return 0, relayerr.Wrap(relayerr.KindTransport, "appending journal entry", err)
	}
	return seq, nil
}

// ReadAfter returns entries with seq > afterSeq, ordered ascending. limit
// of 0 means unbounded, used for replay; REST callers should pass a
// positive limit.
func (j *Journal) ReadAfter(sessionID string, afterSeq int64, limit int) ([]types.JournalEntry, error) {
	q := j.db.Where("session_id = ? AND seq > ?", sessionID, afterSeq).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, relayerr.Wrap(relayerr.KindTransport, "reading journal entries", err)
	}
	out := make([]types.JournalEntry, len(rows))
	for i, r := range rows {
		out[i] = types.JournalEntry{
			SessionID: r.SessionID,
			Seq:       r.Seq,
			Type:      r.Type,
			Payload:   r.Payload,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// LastSeq returns the highest seq recorded for sessionID, or 0 if none.
func (j *Journal) LastSeq(sessionID string) (int64, error) {
	var last row
	err := j.db.Where("session_id = ?", sessionID).Order("seq DESC").Limit(1).Find(&last).Error
	if err != nil {
		return 0, relayerr.Wrap(relayerr.KindTransport, "reading last seq", err)
	}
	return last.Seq, nil
}

// PruneOlderThan removes entries with createdAt < cutoffIso and returns
// the number of rows deleted. Pruning never breaks seq density for
// surviving entries: it deletes by age only, never renumbers, so the
// property "seq is dense within any contiguous surviving range" holds
// trivially — pruned sessions simply start their visible range at a seq
// greater than 1.
func (j *Journal) PruneOlderThan(cutoffIso string) (int64, error) {
	result := j.db.Where("created_at < ?", cutoffIso).Delete(&row{})
	if result.Error != nil {
		return 0, relayerr.Wrap(relayerr.KindTransport, "pruning journal entries", result.Error)
	}
	return result.RowsAffected, nil
}
