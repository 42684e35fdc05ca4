package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/coinpick/internal/blob/s3"
	"github.com/alanyoungcy/coinpick/internal/cache/redis"
	"github.com/alanyoungcy/coinpick/internal/config"
	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/notify"
	"github.com/alanyoungcy/coinpick/internal/platform/coingecko"
	"github.com/alanyoungcy/coinpick/internal/server/handler"
	"github.com/alanyoungcy/coinpick/internal/service"
	"github.com/alanyoungcy/coinpick/internal/stats"
	"github.com/alanyoungcy/coinpick/internal/store/file"
	"github.com/alanyoungcy/coinpick/internal/store/postgres"
	"github.com/alanyoungcy/coinpick/internal/store/sqlite"
)

// redisKeyPrefix namespaces the stats blob when Redis is the stats backend.
const redisKeyPrefix = "coinpick:kv:"

// Dependencies bundles every collaborator the run modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Prices  *service.PriceService
	Tracker *stats.Tracker

	// Optional backends; nil when disabled in config.
	Rounds      domain.RoundStore
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Archiver    *s3blob.RoundArchiver
	Notifier    *notify.Notifier

	// Sinks receive session events in addition to the presentation layer.
	Sinks  []domain.EventSink
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Checker{}}

	// --- PostgreSQL ---
	var pgClient *postgres.Client
	if cfg.Postgres.Enabled {
		c, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		pgClient = c
		closers = append(closers, c.Close)

		if cfg.Postgres.RunMigrations {
			if err := c.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Rounds = postgres.NewRoundStore(c.Pool())
		deps.Checks["postgres"] = c.Ping
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		redisClient = c
		closers = append(closers, func() { _ = c.Close() })

		deps.Locks = redis.NewLockManager(c)
		deps.RateLimiter = redis.NewRateLimiter(c)
		bus := redis.NewSignalBus(c)
		deps.SignalBus = bus
		deps.Sinks = append(deps.Sinks, redis.NewEventPublisher(bus, logger))
		deps.Checks["redis"] = c.Ping
	}

	// --- Prices ---
	source := coingecko.NewClient(cfg.CoinGecko.BaseURL,
		coingecko.WithAPIKey(cfg.CoinGecko.APIKey),
		coingecko.WithTimeout(cfg.CoinGecko.Timeout.Duration),
		coingecko.WithRateLimit(cfg.CoinGecko.Cooldown.Duration, cfg.CoinGecko.RateLimitBackoff.Duration),
		coingecko.WithLogger(logger),
	)
	var priceCache domain.PriceCache
	if redisClient != nil {
		priceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	}
	deps.Prices = service.NewPriceService(source, priceCache, logger)

	// --- Stats ---
	var statsStore domain.StatsStore
	switch cfg.Stats.Backend {
	case "file":
		statsStore = stats.NewBlobStore(file.NewKV(cfg.Stats.Path), cfg.Stats.Key)
	case "sqlite":
		kv, err := sqlite.Open(ctx, cfg.Stats.Path, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = kv.Close() })
		statsStore = stats.NewBlobStore(kv, cfg.Stats.Key)
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("wire: stats backend redis requires redis.enabled"))
		}
		statsStore = stats.NewBlobStore(redis.NewKVStore(redisClient, redisKeyPrefix), cfg.Stats.Key)
	case "postgres":
		if pgClient == nil {
			return fail(fmt.Errorf("wire: stats backend postgres requires postgres.enabled"))
		}
		statsStore = postgres.NewStatsStore(pgClient.Pool(), cfg.Player)
	default:
		return fail(fmt.Errorf("wire: unknown stats backend %q", cfg.Stats.Backend))
	}
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps.Tracker = stats.NewTracker(loadCtx, statsStore, logger)
	cancel()

	// --- S3 round archive ---
	if cfg.S3.Enabled {
		c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewRoundArchiver(s3blob.NewBucket(c, s3blob.ExportPartSize), logger)
		deps.Sinks = append(deps.Sinks, deps.Archiver)
		deps.Checks["s3"] = c.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Sinks = append(deps.Sinks, deps.Notifier)
	}

	return deps, cleanup, nil
}

// catalog converts the configured instruments to domain values.
func catalog(cfg *config.Config) []domain.Instrument {
	out := make([]domain.Instrument, len(cfg.Instruments))
	for i, inst := range cfg.Instruments {
		out[i] = domain.Instrument{ID: inst.ID, Symbol: inst.Symbol, Name: inst.Name}
	}
	return out
}
