package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakeJournal struct {
	calls     int32
	lastCutoff string
	removed   int64
}

func (f *fakeJournal) PruneOlderThan(cutoffIso string) (int64, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastCutoff = cutoffIso
	return f.removed, nil
}

type fakeSandbox struct {
	calls   int32
	removed int
}

func (f *fakeSandbox) CleanupAll() (int, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.removed, nil
}

func TestStartSkipsDisabledJobs(t *testing.T) {
	j := &fakeJournal{}
	s := &fakeSandbox{}
	sched := New(j, s, Config{})

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&j.calls) != 0 {
		t.Error("expected journal retention job not to run when JournalRetentionHours is zero")
	}
	if atomic.LoadInt32(&s.calls) != 0 {
		t.Error("expected sandbox GC job not to run when SandboxIdleTimeoutMinutes is zero")
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	sched := New(&fakeJournal{}, &fakeSandbox{}, Config{})
	if err := sched.Stop(); err != nil {
		t.Fatalf("expected Stop on an unstarted scheduler to be a no-op, got %v", err)
	}
}

func TestPruneJournalComputesCutoffFromRetentionHours(t *testing.T) {
	j := &fakeJournal{removed: 3}
	sched := New(j, &fakeSandbox{}, Config{JournalRetentionHours: 24})

	sched.pruneJournal()

	if atomic.LoadInt32(&j.calls) != 1 {
		t.Fatalf("expected exactly one prune call, got %d", j.calls)
	}
	cutoff, err := time.Parse(time.RFC3339, j.lastCutoff)
	if err != nil {
		t.Fatalf("expected RFC3339 cutoff, got %q: %v", j.lastCutoff, err)
	}
	age := time.Since(cutoff)
	if age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("expected cutoff roughly 24h ago, got age %v", age)
	}
}

func TestReapIdleSandboxesDelegatesToCleaner(t *testing.T) {
	s := &fakeSandbox{removed: 2}
	sched := New(&fakeJournal{}, s, Config{SandboxIdleTimeoutMinutes: 10})

	sched.reapIdleSandboxes()

	if atomic.LoadInt32(&s.calls) != 1 {
		t.Fatalf("expected exactly one cleanup call, got %d", s.calls)
	}
}
