package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

type memPriceCache struct {
	prices map[string]float64
	err    error
}

func (m *memPriceCache) SetPrice(_ context.Context, id string, p float64, _ time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.prices[id] = p
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, id string) (float64, time.Time, error) {
	p, ok := m.prices[id]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func (m *memPriceCache) GetPrices(_ context.Context, ids []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, id := range ids {
		if p, ok := m.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestPriceServiceCachesFetches(t *testing.T) {
	src := &fakeSource{
		quotes: flatQuotes(50, "a"),
		prices: []priceResult{{prices: map[string]float64{"b": 7}}},
	}
	cache := &memPriceCache{prices: map[string]float64{}}
	ps := NewPriceService(src, cache, quietLogger())
	ctx := context.Background()

	if _, err := ps.FetchQuotes(ctx, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.FetchPrices(ctx, []string{"b"}); err != nil {
		t.Fatal(err)
	}
	got, err := ps.Cached(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["a"] != 50 || got["b"] != 7 {
		t.Errorf("cached = %v", got)
	}
}

func TestPriceServiceCacheFailureDoesNotFailFetch(t *testing.T) {
	src := &fakeSource{prices: []priceResult{{prices: map[string]float64{"a": 1}}}}
	ps := NewPriceService(src, &memPriceCache{prices: map[string]float64{}, err: errors.New("down")}, quietLogger())

	prices, err := ps.FetchPrices(context.Background(), []string{"a"})
	if err != nil || prices["a"] != 1 {
		t.Errorf("FetchPrices = %v, %v", prices, err)
	}
}

func TestPriceServiceSourceError(t *testing.T) {
	src := &fakeSource{prices: []priceResult{{err: domain.ErrSourceUnavailable}}}
	ps := NewPriceService(src, nil, quietLogger())

	if _, err := ps.FetchPrices(context.Background(), []string{"a"}); !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
	got, err := ps.Cached(context.Background(), []string{"a"})
	if err != nil || len(got) != 0 {
		t.Errorf("Cached without cache = %v, %v", got, err)
	}
}
