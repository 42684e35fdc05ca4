package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// StatsStore implements domain.StatsStore with one player_stats row per
// player.
type StatsStore struct {
	pool   *pgxpool.Pool
	player string
}

// NewStatsStore creates a StatsStore for player backed by the given pool.
func NewStatsStore(pool *pgxpool.Pool, player string) *StatsStore {
	return &StatsStore{pool: pool, player: player}
}

// Load returns the player's stats. A player with no row yet has zero stats.
func (s *StatsStore) Load(ctx context.Context) (domain.Stats, error) {
	const query = `
		SELECT wins, losses, streak, best_streak
		FROM player_stats
		WHERE player = $1`

	var st domain.Stats
	err := s.pool.QueryRow(ctx, query, s.player).Scan(
		&st.Wins, &st.Losses, &st.Streak, &st.BestStreak,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stats{}, nil
	}
	if err != nil {
		return domain.Stats{}, fmt.Errorf("postgres: load stats %s: %w", s.player, err)
	}
	return st, nil
}

// Save upserts the player's stats.
func (s *StatsStore) Save(ctx context.Context, st domain.Stats) error {
	const query = `
		INSERT INTO player_stats (player, wins, losses, streak, best_streak, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (player) DO UPDATE SET
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			streak = EXCLUDED.streak,
			best_streak = EXCLUDED.best_streak,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query,
		s.player, st.Wins, st.Losses, st.Streak, st.BestStreak,
	); err != nil {
		return fmt.Errorf("postgres: save stats %s: %w: %w", s.player, domain.ErrPersistenceUnavailable, err)
	}
	return nil
}

var _ domain.StatsStore = (*StatsStore)(nil)
