package domain

import "context"

// KVStore holds opaque values under string keys. Get returns ErrNotFound for
// an absent key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// StatsStore persists one player's cumulative Stats.
type StatsStore interface {
	Load(ctx context.Context) (Stats, error)
	Save(ctx context.Context, s Stats) error
}

// RoundStore persists finished rounds.
type RoundStore interface {
	Insert(ctx context.Context, r RoundReport) error
	ListRecent(ctx context.Context, player string, limit int) ([]RoundReport, error)
}
