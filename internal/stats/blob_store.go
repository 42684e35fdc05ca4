package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// BlobStore keeps Stats as a single JSON blob under one key of a KVStore,
// e.g. {"wins":0,"losses":0,"streak":0,"bestStreak":0}.
type BlobStore struct {
	kv  domain.KVStore
	key string
}

// NewBlobStore stores stats under key in kv.
func NewBlobStore(kv domain.KVStore, key string) *BlobStore {
	return &BlobStore{kv: kv, key: key}
}

// Load returns zero stats for an absent key. Malformed blobs decode leniently.
func (b *BlobStore) Load(ctx context.Context) (domain.Stats, error) {
	raw, err := b.kv.Get(ctx, b.key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Stats{}, nil
	}
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats: load %s: %w", b.key, err)
	}
	return domain.DecodeStats(raw), nil
}

// Save writes s under the key.
func (b *BlobStore) Save(ctx context.Context, s domain.Stats) error {
	if err := b.kv.Put(ctx, b.key, domain.EncodeStats(s)); err != nil {
		return fmt.Errorf("stats: save %s: %w: %w", b.key, domain.ErrPersistenceUnavailable, err)
	}
	return nil
}

var _ domain.StatsStore = (*BlobStore)(nil)
