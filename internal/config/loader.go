package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINPICK_* environment variable overrides, and
// returns the final Config. A missing file at path is not an error: the game
// runs on defaults. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	// The decoder reuses an existing slice's backing array, so a shorter
	// catalog in the file would inherit fields from the defaults.
	cfg.Instruments = nil

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = DefaultInstruments()
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINPICK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Game ──
	setInt(&cfg.Game.InstrumentCount, "COINPICK_GAME_INSTRUMENT_COUNT")
	setIntSlice(&cfg.Game.TimeframeOptions, "COINPICK_GAME_TIMEFRAME_OPTIONS")
	setInt(&cfg.Game.DefaultTimeframe, "COINPICK_GAME_DEFAULT_TIMEFRAME")
	setStr(&cfg.Game.WinPolicy, "COINPICK_GAME_WIN_POLICY")
	setInt(&cfg.Game.TopN, "COINPICK_GAME_TOP_N")
	setDuration(&cfg.Game.TickInterval, "COINPICK_GAME_TICK_INTERVAL")
	setDuration(&cfg.Game.PollInterval, "COINPICK_GAME_POLL_INTERVAL")
	setDuration(&cfg.Game.LockGrace, "COINPICK_GAME_LOCK_GRACE")

	// ── CoinGecko ──
	setStr(&cfg.CoinGecko.BaseURL, "COINPICK_COINGECKO_BASE_URL")
	setStr(&cfg.CoinGecko.APIKey, "COINPICK_COINGECKO_API_KEY")
	setDuration(&cfg.CoinGecko.Cooldown, "COINPICK_COINGECKO_COOLDOWN")
	setDuration(&cfg.CoinGecko.RateLimitBackoff, "COINPICK_COINGECKO_RATE_LIMIT_BACKOFF")
	setDuration(&cfg.CoinGecko.Timeout, "COINPICK_COINGECKO_TIMEOUT")

	// ── Stats ──
	setStr(&cfg.Stats.Backend, "COINPICK_STATS_BACKEND")
	setStr(&cfg.Stats.Path, "COINPICK_STATS_PATH")
	setStr(&cfg.Stats.Key, "COINPICK_STATS_KEY")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COINPICK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COINPICK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINPICK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINPICK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINPICK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINPICK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINPICK_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "COINPICK_REDIS_PRICE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COINPICK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COINPICK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "COINPICK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COINPICK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COINPICK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COINPICK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COINPICK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COINPICK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COINPICK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COINPICK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COINPICK_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "COINPICK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "COINPICK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINPICK_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINPICK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINPICK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINPICK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINPICK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINPICK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "COINPICK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "COINPICK_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINPICK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINPICK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COINPICK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COINPICK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Player, "COINPICK_PLAYER")
	setStr(&cfg.Mode, "COINPICK_MODE")
	setStr(&cfg.LogLevel, "COINPICK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setIntSlice parses a comma-separated list; the target is left untouched if
// any element fails to parse.
func setIntSlice(dst *[]int, key string) {
	var parts []string
	setStringSlice(&parts, key)
	if len(parts) == 0 {
		return
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	*dst = out
}
