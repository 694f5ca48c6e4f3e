// Package sweeper periodically removes stale uploads, outputs and job
// workspaces.
package sweeper

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bdougie/cutout/internal/metrics"
)

type Options struct {
	// Dirs are scanned one level deep. Each entry is named after a job ID,
	// optionally with an extension.
	Dirs   []string
	MaxAge time.Duration
	// IsActive reports whether the job is still running. Its entries are kept.
	IsActive func(id string) bool
	// Prune is called after each sweep with the age cutoff.
	Prune func(cutoff time.Time) int
}

type Sweeper struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex // serializes sweeps
	cron *cron.Cron
}

func New(opts Options, logger *slog.Logger) *Sweeper {
	if opts.IsActive == nil {
		opts.IsActive = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{opts: opts, logger: logger}
}

// Start schedules Sweep with a cron spec such as "@every 10m" or "0 * * * *".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.Sweep(time.Now()) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("sweeper started", "schedule", schedule, "max_age", s.opts.MaxAge)
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep removes every entry last modified more than MaxAge before now and
// returns how many were removed.
func (s *Sweeper) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.opts.MaxAge)
	removed := 0
	for _, dir := range s.opts.Dirs {
		n, err := s.sweepDir(dir, cutoff)
		removed += n
		if err != nil {
			s.logger.Warn("sweep incomplete", "dir", dir, "error", err)
		}
	}
	metrics.SweptEntriesTotal.Add(float64(removed))

	pruned := 0
	if s.opts.Prune != nil {
		pruned = s.opts.Prune(cutoff)
	}
	if removed > 0 || pruned > 0 {
		s.logger.Info("sweep finished", "removed", removed, "pruned_progress", pruned)
	}
	return removed
}

func (s *Sweeper) sweepDir(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		name := e.Name()
		if s.opts.IsActive(strings.TrimSuffix(name, filepath.Ext(name))) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("removed stale entry", "path", filepath.Join(dir, name), "modified", info.ModTime())
		removed++
	}
	return removed, errors.Join(errs...)
}
