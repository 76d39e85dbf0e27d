// Package scheduler runs the relay's two housekeeping jobs — journal
// retention pruning and idle sandbox garbage collection — on independent
// gocron ticks.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/forgerelay/relay/internal/logging"
)

// JournalPruner is the subset of the journal the retention job needs.
type JournalPruner interface {
	PruneOlderThan(cutoffIso string) (int64, error)
}

// sandboxCleaner is satisfied by sandboxmgr.Manager's cross-provider cleanup.
type sandboxCleaner interface {
	CleanupAll() (removed int, err error)
}

// Config selects which jobs run. Zero disables the corresponding job.
// Tick intervals are fixed (weekly prune, 10-minute GC); the retention
// hours set the prune cutoff, and the idle minutes only enable the GC job.
type Config struct {
	JournalRetentionHours     int
	SandboxIdleTimeoutMinutes int
}

// Scheduler wraps gocron for the relay's two background maintenance jobs.
type Scheduler struct {
	cron    gocron.Scheduler
	journal JournalPruner
	sandbox sandboxCleaner
	cfg     Config
}

// New constructs a Scheduler. Call Start to begin ticking.
func New(journal JournalPruner, sandbox sandboxCleaner, cfg Config) *Scheduler {
	return &Scheduler{journal: journal, sandbox: sandbox, cfg: cfg}
}

// Start registers the enabled jobs and begins ticking.
func (s *Scheduler) Start() error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating gocron scheduler: %w", err)
	}
	s.cron = cron

	if s.cfg.JournalRetentionHours > 0 {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(7*24*time.Hour),
			gocron.NewTask(s.pruneJournal),
			gocron.WithTags("journal-retention"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("scheduling journal retention job: %w", err)
		}
	}

	if s.cfg.SandboxIdleTimeoutMinutes > 0 {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(10*time.Minute),
			gocron.NewTask(s.reapIdleSandboxes),
			gocron.WithTags("sandbox-gc"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("scheduling sandbox GC job: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop gracefully shuts the scheduler down, waiting for any in-flight run.
func (s *Scheduler) Stop() error {
	if s.cron == nil {
		return nil
	}
	return s.cron.Shutdown()
}

func (s *Scheduler) pruneJournal() {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.JournalRetentionHours) * time.Hour).Format(time.RFC3339)
	removed, err := s.journal.PruneOlderThan(cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("journal retention prune failed")
		return
	}
	logging.Info().Int64("removed", removed).Str("cutoff", cutoff).Msg("journal retention prune complete")
}

func (s *Scheduler) reapIdleSandboxes() {
	removed, err := s.sandbox.CleanupAll()
	if err != nil {
		logging.Error().Err(err).Msg("sandbox GC pass failed")
		return
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("sandbox GC removed idle sandboxes")
	}
}
