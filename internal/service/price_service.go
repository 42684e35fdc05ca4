package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

// PriceService fronts the quote source and mirrors every successful fetch
// into the price cache when one is configured.
type PriceService struct {
	source domain.QuoteSource
	cache  domain.PriceCache
	logger *slog.Logger
	now    func() time.Time
}

// NewPriceService creates a PriceService. cache may be nil.
func NewPriceService(source domain.QuoteSource, cache domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_service")),
		now:    time.Now,
	}
}

// FetchPrices fetches prices from the source and caches them.
func (s *PriceService) FetchPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	prices, err := s.source.FetchPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("price_service: fetch prices: %w", err)
	}
	s.store(ctx, prices)
	return prices, nil
}

// FetchQuotes fetches quotes with 24h change from the source and caches the
// prices.
func (s *PriceService) FetchQuotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	quotes, err := s.source.FetchQuotes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("price_service: fetch quotes: %w", err)
	}
	prices := make(map[string]float64, len(quotes))
	for id, q := range quotes {
		prices[id] = q.Price
	}
	s.store(ctx, prices)
	return quotes, nil
}

// Cached returns the cached prices for ids without touching the source. It
// returns an empty map when no cache is configured.
func (s *PriceService) Cached(ctx context.Context, ids []string) (map[string]float64, error) {
	if s.cache == nil {
		return map[string]float64{}, nil
	}
	prices, err := s.cache.GetPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("price_service: cached prices: %w", err)
	}
	return prices, nil
}

// store writes prices to the cache. Cache failures never fail a fetch.
func (s *PriceService) store(ctx context.Context, prices map[string]float64) {
	if s.cache == nil {
		return
	}
	ts := s.now()
	for id, p := range prices {
		if err := s.cache.SetPrice(ctx, id, p, ts); err != nil {
			s.logger.WarnContext(ctx, "cache price failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

var _ domain.QuoteSource = (*PriceService)(nil)
