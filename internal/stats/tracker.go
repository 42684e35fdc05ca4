// Package stats owns the process-wide cumulative statistics and their
// persistence policy.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// Tracker is the single writer of a player's Stats. Loads fail soft and a
// failed save keeps the in-memory value; the write is retried on the next
// mutation and on Flush.
//
// When the initial load fails the stored record is unknown, so nothing is
// written until a later load succeeds. Outcomes recorded in the meantime are
// replayed on top of the loaded value.
type Tracker struct {
	store  domain.StatsStore
	logger *slog.Logger

	mu       sync.Mutex
	stats    domain.Stats
	dirty    bool
	loaded   bool
	unsynced []domain.Outcome
}

// NewTracker loads the current stats from store. Any load error yields zero
// stats and is logged, never returned.
func NewTracker(ctx context.Context, store domain.StatsStore, logger *slog.Logger) *Tracker {
	t := &Tracker{
		store:  store,
		logger: logger.With(slog.String("component", "stats")),
	}
	s, err := store.Load(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "stats load failed, starting from zero until it succeeds",
			slog.String("error", err.Error()),
		)
		return t
	}
	t.stats = s
	t.loaded = true
	return t
}

// Stats returns the current in-memory stats.
func (t *Tracker) Stats() domain.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Record applies o and persists the result synchronously. NoPick mutates
// nothing and writes nothing. A failed write returns the new stats together
// with an error wrapping ErrPersistenceUnavailable.
func (t *Tracker) Record(ctx context.Context, o domain.Outcome) (domain.Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if o == domain.OutcomeNoPick {
		return t.stats, nil
	}
	t.stats = t.stats.Apply(o)
	if !t.loaded {
		t.unsynced = append(t.unsynced, o)
	}
	t.dirty = true
	err := t.saveLocked(ctx)
	return t.stats, err
}

// Flush retries a pending write. It is a no-op when nothing is pending.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	return t.saveLocked(ctx)
}

// Pending reports whether the in-memory stats have not been persisted.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

// syncLocked loads the stored record and replays unsynced outcomes over it.
func (t *Tracker) syncLocked(ctx context.Context) error {
	base, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, o := range t.unsynced {
		base = base.Apply(o)
	}
	t.stats = base
	t.unsynced = nil
	t.loaded = true
	return nil
}

func (t *Tracker) saveLocked(ctx context.Context) error {
	if !t.loaded {
		if err := t.syncLocked(ctx); err != nil {
			t.logger.WarnContext(ctx, "stats reload failed, not overwriting stored stats",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("stats: reload before save: %w: %w", domain.ErrPersistenceUnavailable, err)
		}
	}
	if err := t.store.Save(ctx, t.stats); err != nil {
		t.logger.WarnContext(ctx, "stats save failed, keeping in memory",
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrPersistenceUnavailable) {
			return err
		}
		return fmt.Errorf("stats: save: %w: %w", domain.ErrPersistenceUnavailable, err)
	}
	t.dirty = false
	return nil
}
