// Package config defines the top-level configuration for the coinpick game
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINPICK_* environment variables.
type Config struct {
	Game        GameConfig         `toml:"game"`
	Instruments []InstrumentConfig `toml:"instruments"`
	CoinGecko   CoinGeckoConfig    `toml:"coingecko"`
	Stats       StatsConfig        `toml:"stats"`
	Redis       RedisConfig        `toml:"redis"`
	Postgres    PostgresConfig     `toml:"postgres"`
	S3          S3Config           `toml:"s3"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Player      string             `toml:"player"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// GameConfig parameterises a round. Every game variant is expressed through
// these values rather than separate code paths.
type GameConfig struct {
	InstrumentCount  int      `toml:"instrument_count"`
	TimeframeOptions []int    `toml:"timeframe_options"` // minutes
	DefaultTimeframe int      `toml:"default_timeframe"` // minutes
	WinPolicy        string   `toml:"win_policy"`        // "winner_take_all" or "top_n"
	TopN             int      `toml:"top_n"`
	TickInterval     duration `toml:"tick_interval"`
	PollInterval     duration `toml:"poll_interval"`
	// LockGrace is added to the round length when taking the per-player lock.
	LockGrace duration `toml:"lock_grace"`
}

// InstrumentConfig describes one entry of the instrument catalog.
type InstrumentConfig struct {
	ID     string `toml:"id"`
	Symbol string `toml:"symbol"`
	Name   string `toml:"name"`
}

// CoinGeckoConfig holds price API parameters.
type CoinGeckoConfig struct {
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	Cooldown         duration `toml:"cooldown"`
	RateLimitBackoff duration `toml:"rate_limit_backoff"`
	Timeout          duration `toml:"timeout"`
}

// StatsConfig selects where cumulative statistics are persisted.
type StatsConfig struct {
	Backend string `toml:"backend"` // "file", "sqlite", "redis" or "postgres"
	Path    string `toml:"path"`    // file or sqlite database path
	Key     string `toml:"key"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// PriceTTL bounds how long polled prices stay in the shared cache.
	PriceTTL duration `toml:"price_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultInstruments is the catalog used when the config file lists none.
func DefaultInstruments() []InstrumentConfig {
	return []InstrumentConfig{
		{ID: "solana", Symbol: "SOL", Name: "Solana"},
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum"},
		{ID: "bonk", Symbol: "BONK", Name: "Bonk"},
		{ID: "jupiter-exchange-solana", Symbol: "JUP", Name: "Jupiter"},
		{ID: "dogwifcoin", Symbol: "WIF", Name: "dogwifhat"},
	}
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Game: GameConfig{
			InstrumentCount:  4,
			TimeframeOptions: []int{1, 5, 15},
			DefaultTimeframe: 15,
			WinPolicy:        "winner_take_all",
			TopN:             1,
			TickInterval:     duration{time.Second},
			PollInterval:     duration{15 * time.Second},
			LockGrace:        duration{time.Minute},
		},
		Instruments: DefaultInstruments(),
		CoinGecko: CoinGeckoConfig{
			BaseURL:          "https://api.coingecko.com/api/v3",
			Cooldown:         duration{6 * time.Second},
			RateLimitBackoff: duration{10 * time.Second},
			Timeout:          duration{10 * time.Second},
		},
		Stats: StatsConfig{
			Backend: "file",
			Path:    "coinpick_stats.json",
			Key:     "coinpick_stats",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			TLSEnabled: false,
			PriceTTL:   duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "coinpick",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coinpick-rounds",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"round_won", "best_streak"},
		},
		Player:   "local",
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"play":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validWinPolicies = map[string]bool{
	"winner_take_all": true,
	"top_n":           true,
}

var validStatsBackends = map[string]bool{
	"file":     true,
	"sqlite":   true,
	"redis":    true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, play)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.Player) == "" {
		errs = append(errs, "player must not be empty")
	}

	// Game
	if c.Game.InstrumentCount < 2 {
		errs = append(errs, "game: instrument_count must be >= 2")
	}
	if c.Game.InstrumentCount > len(c.Instruments) {
		errs = append(errs, fmt.Sprintf("game: instrument_count %d exceeds catalog size %d", c.Game.InstrumentCount, len(c.Instruments)))
	}
	if len(c.Game.TimeframeOptions) == 0 {
		errs = append(errs, "game: timeframe_options must not be empty")
	}
	foundDefault := false
	for _, m := range c.Game.TimeframeOptions {
		if m <= 0 {
			errs = append(errs, fmt.Sprintf("game: timeframe option %d must be > 0", m))
		}
		if m == c.Game.DefaultTimeframe {
			foundDefault = true
		}
	}
	if !foundDefault {
		errs = append(errs, fmt.Sprintf("game: default_timeframe %d is not one of timeframe_options", c.Game.DefaultTimeframe))
	}
	if !validWinPolicies[c.Game.WinPolicy] {
		errs = append(errs, fmt.Sprintf("game: unknown win_policy %q (valid: winner_take_all, top_n)", c.Game.WinPolicy))
	}
	if c.Game.WinPolicy == "top_n" && (c.Game.TopN < 1 || c.Game.TopN > c.Game.InstrumentCount) {
		errs = append(errs, fmt.Sprintf("game: top_n must be 1-%d, got %d", c.Game.InstrumentCount, c.Game.TopN))
	}
	if tick := c.Game.TickInterval.Duration; tick <= 0 {
		errs = append(errs, "game: tick_interval must be > 0")
	} else {
		for _, m := range c.Game.TimeframeOptions {
			if m > 0 && (time.Duration(m)*time.Minute)%tick != 0 {
				errs = append(errs, fmt.Sprintf("game: tick_interval %s does not divide timeframe %d min", tick, m))
			}
		}
	}
	if c.Game.PollInterval.Duration <= 0 {
		errs = append(errs, "game: poll_interval must be > 0")
	}

	// Instruments
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.ID == "" || inst.Symbol == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d]: id and symbol must be set", i))
			continue
		}
		if seen[inst.ID] {
			errs = append(errs, fmt.Sprintf("instruments[%d]: duplicate id %q", i, inst.ID))
		}
		seen[inst.ID] = true
	}

	// CoinGecko
	if c.CoinGecko.BaseURL == "" {
		errs = append(errs, "coingecko: base_url must not be empty")
	}
	if c.CoinGecko.Cooldown.Duration < 0 || c.CoinGecko.RateLimitBackoff.Duration < 0 {
		errs = append(errs, "coingecko: cooldown and rate_limit_backoff must not be negative")
	}

	// Stats
	if !validStatsBackends[c.Stats.Backend] {
		errs = append(errs, fmt.Sprintf("stats: unknown backend %q (valid: file, sqlite, redis, postgres)", c.Stats.Backend))
	}
	if (c.Stats.Backend == "file" || c.Stats.Backend == "sqlite") && c.Stats.Path == "" {
		errs = append(errs, "stats: path is required for backend "+c.Stats.Backend)
	}
	if c.Stats.Key == "" {
		errs = append(errs, "stats: key must not be empty")
	}
	if c.Stats.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "stats: backend redis requires redis.enabled")
	}
	if c.Stats.Backend == "postgres" && !c.Postgres.Enabled {
		errs = append(errs, "stats: backend postgres requires postgres.enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
