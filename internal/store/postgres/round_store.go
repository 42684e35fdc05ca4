package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// RoundStore implements domain.RoundStore on the round_history table.
// Instruments and rankings are kept as JSONB.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by the given pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

const roundSelectCols = `id, player, timeframe_minutes, instruments, selection,
	outcome, winner, rankings, final_fetch_failed, started_at, ended_at`

// Insert records a finished round. Re-inserting the same round ID is a no-op.
func (s *RoundStore) Insert(ctx context.Context, r domain.RoundReport) error {
	instruments, err := json.Marshal(r.Instruments)
	if err != nil {
		return fmt.Errorf("postgres: marshal instruments: %w", err)
	}
	rankings, err := json.Marshal(r.Rankings)
	if err != nil {
		return fmt.Errorf("postgres: marshal rankings: %w", err)
	}

	const query = `
		INSERT INTO round_history (` + roundSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		r.ID, r.Player, r.TimeframeMinutes, instruments, r.Selection,
		string(r.Outcome), r.Winner, rankings, r.FinalFetchFailed,
		r.StartedAt, r.EndedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert round %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns up to limit rounds for player, newest first.
func (s *RoundStore) ListRecent(ctx context.Context, player string, limit int) ([]domain.RoundReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + roundSelectCols + `
		FROM round_history
		WHERE player = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, player, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds %s: %w", player, err)
	}
	defer rows.Close()

	reports, err := scanRoundRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan rounds: %w", err)
	}
	return reports, nil
}

func scanRoundRows(rows pgx.Rows) ([]domain.RoundReport, error) {
	var reports []domain.RoundReport
	for rows.Next() {
		var (
			r           domain.RoundReport
			outcome     string
			instruments []byte
			rankings    []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Player, &r.TimeframeMinutes, &instruments, &r.Selection,
			&outcome, &r.Winner, &rankings, &r.FinalFetchFailed,
			&r.StartedAt, &r.EndedAt,
		); err != nil {
			return nil, err
		}
		r.Outcome = domain.Outcome(outcome)
		if err := json.Unmarshal(instruments, &r.Instruments); err != nil {
			return nil, fmt.Errorf("instruments for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(rankings, &r.Rankings); err != nil {
			return nil, fmt.Errorf("rankings for %s: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

var _ domain.RoundStore = (*RoundStore)(nil)
