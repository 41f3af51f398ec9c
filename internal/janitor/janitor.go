// Package janitor prunes stale robot state rows on a cron schedule. A row is
// stale when no report has refreshed it within the retention window, which
// happens when a robot shuts down on low battery or drops off the bus.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mtzanidakis/fleetmon/internal/config"
	"github.com/mtzanidakis/fleetmon/internal/store"
)

type Janitor struct {
	store *store.Store
	cfg   config.JanitorConfig
}

func New(s *store.Store, cfg config.JanitorConfig) (*Janitor, error) {
	if !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid janitor schedule %q", cfg.Schedule)
	}
	return &Janitor{store: s, cfg: cfg}, nil
}

// Run sleeps until each next cron tick and prunes, until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTick(j.cfg.Schedule, false)
		if err != nil {
			slog.Error("janitor schedule", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if err := j.Prune(); err != nil {
			slog.Error("janitor prune", "error", err)
		}
	}
}

// Prune deletes rows not updated within the retention window.
func (j *Janitor) Prune() error {
	cutoff := time.Now().Add(-j.cfg.Retention)
	n, err := j.store.DeleteStale(cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("pruned stale robot states", "count", n, "cutoff", cutoff)
	}
	return nil
}
