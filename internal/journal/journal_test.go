package journal

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "journal.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1) // mirrors production Open(): sqlite allows one writer
	if err := db.AutoMigrate(&row{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return New(db)
}

func TestAppendAssignsDenseSeq(t *testing.T) {
	j := openTestJournal(t)

	for i := 1; i <= 5; i++ {
		seq, err := j.Append("sess-1", "message_update", []byte(`{}`), "2026-07-29T00:00:00Z")
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, seq)
		}
	}
}

func TestAppendIsSerializedUnderConcurrency(t *testing.T) {
	j := openTestJournal(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := j.Append("sess-concurrent", "event", []byte(`{}`), "2026-07-29T00:00:00Z"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append under concurrency: %v", err)
	}

	entries, err := j.ReadAfter("sess-concurrent", 0, 0)
	if err != nil {
		t.Fatalf("ReadAfter: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	seen := make(map[int64]bool, n)
	for _, e := range entries {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing seq %d, sequence has a gap", i)
		}
	}
}

func TestReadAfterOrderingAndLimit(t *testing.T) {
	j := openTestJournal(t)
	for i := 1; i <= 10; i++ {
		if _, err := j.Append("sess-2", fmt.Sprintf("event-%d", i), []byte(`{}`), "2026-07-29T00:00:00Z"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := j.ReadAfter("sess-2", 5, 3)
	if err != nil {
		t.Fatalf("ReadAfter: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		wantSeq := int64(6 + i)
		if e.Seq != wantSeq {
			t.Fatalf("entry %d: expected seq %d, got %d", i, wantSeq, e.Seq)
		}
	}
}

func TestLastSeqOfEmptySessionIsZero(t *testing.T) {
	j := openTestJournal(t)
	seq, err := j.LastSeq("unknown-session")
	if err != nil {
		t.Fatalf("LastSeq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0, got %d", seq)
	}
}

func TestPruneOlderThanPreservesDensity(t *testing.T) {
	j := openTestJournal(t)

	for i := 1; i <= 5; i++ {
		if _, err := j.Append("sess-3", "event", []byte(`{}`), "2026-01-01T00:00:00Z"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for i := 1; i <= 3; i++ {
		if _, err := j.Append("sess-3", "event", []byte(`{}`), "2026-07-01T00:00:00Z"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	removed, err := j.PruneOlderThan("2026-02-01T00:00:00Z")
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 removed, got %d", removed)
	}

	remaining, err := j.ReadAfter("sess-3", 0, 0)
	if err != nil {
		t.Fatalf("ReadAfter: %v", err)
	}
	if len(remaining) != 3 {
		t.Fatalf("expected 3 remaining entries, got %d", len(remaining))
	}
	for i, e := range remaining {
		wantSeq := int64(6 + i)
		if e.Seq != wantSeq {
			t.Fatalf("surviving entry %d: expected seq %d, got %d (density broken)", i, wantSeq, e.Seq)
		}
	}
}
