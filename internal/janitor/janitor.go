// Package janitor runs the periodic retention sweep: archived build results
// older than the configured max age are deleted from the SQLite archive and
// their on-disk log files removed.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/history"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
)

// Janitor schedules and runs retention sweeps.
type Janitor struct {
	scheduler gocron.Scheduler
	store     *history.Store
	logDir    string
	maxAge    time.Duration
	interval  time.Duration
}

// New creates a janitor from the retention config. Returns (nil, nil) when
// retention is disabled.
func New(cfg config.RetentionConfig, store *history.Store, logDir string) (*Janitor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parse retention max_age: %w", err)
	}
	interval, err := time.ParseDuration(cfg.SweepInterval)
	if err != nil {
		return nil, fmt.Errorf("parse retention sweep_interval: %w", err)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	j := &Janitor{
		scheduler: s,
		store:     store,
		logDir:    logDir,
		maxAge:    maxAge,
		interval:  interval,
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(j.Sweep),
		gocron.WithName("retention-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retention sweep job: %w", err)
	}

	return j, nil
}

// Start begins periodic sweeping.
func (j *Janitor) Start() {
	if j == nil {
		return
	}
	slog.Info("Starting retention janitor",
		slog.Duration("max_age", j.maxAge),
		slog.Duration("sweep_interval", j.interval))
	j.scheduler.Start()
}

// Stop shuts the scheduler down.
func (j *Janitor) Stop() error {
	if j == nil {
		return nil
	}
	slog.Info("Stopping retention janitor")
	return j.scheduler.Shutdown()
}

// Sweep runs one retention pass. Exported so a sweep can be forced.
func (j *Janitor) Sweep() {
	cutoff := time.Now().Add(-j.maxAge)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := j.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed to prune archive", logfields.Error(err))
	}

	removed, err := history.PruneLogFiles(j.logDir, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed to prune log files", logfields.Error(err))
	}

	if pruned > 0 || removed > 0 {
		slog.Info("Retention sweep completed",
			slog.Int64("archived_pruned", pruned),
			slog.Int("log_files_removed", removed))
	}
}
