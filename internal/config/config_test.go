package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coinpick.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}
	if cfg.Game.InstrumentCount != 4 {
		t.Errorf("InstrumentCount = %d, want 4", cfg.Game.InstrumentCount)
	}
	if cfg.CoinGecko.Cooldown.Duration != 6*time.Second {
		t.Errorf("Cooldown = %v, want 6s", cfg.CoinGecko.Cooldown.Duration)
	}
	if cfg.CoinGecko.RateLimitBackoff.Duration != 10*time.Second {
		t.Errorf("RateLimitBackoff = %v, want 10s", cfg.CoinGecko.RateLimitBackoff.Duration)
	}
	if cfg.Stats.Key != "coinpick_stats" {
		t.Errorf("Stats.Key = %q, want coinpick_stats", cfg.Stats.Key)
	}
}

func TestLoad(t *testing.T) {
	path := writeTempFile(t, `
mode = "play"
log_level = "debug"

[game]
instrument_count = 2
timeframe_options = [1, 3]
default_timeframe = 3
win_policy = "top_n"
top_n = 2
poll_interval = "5s"

[[instruments]]
id = "bitcoin"
symbol = "BTC"
name = "Bitcoin"

[[instruments]]
id = "ethereum"
symbol = "ETH"
name = "Ethereum"

[[instruments]]
id = "solana"
symbol = "SOL"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Mode != "play" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "play")
	}
	if len(cfg.Instruments) != 3 {
		t.Fatalf("len(Instruments) = %d, want 3", len(cfg.Instruments))
	}
	if cfg.Instruments[0].ID != "bitcoin" {
		t.Errorf("Instruments[0].ID = %q, want bitcoin", cfg.Instruments[0].ID)
	}
	if cfg.Game.PollInterval.Duration != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Game.PollInterval.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.Game.TickInterval.Duration != time.Second {
		t.Errorf("TickInterval = %v, want 1s", cfg.Game.TickInterval.Duration)
	}
	if cfg.CoinGecko.BaseURL != "https://api.coingecko.com/api/v3" {
		t.Errorf("BaseURL = %q", cfg.CoinGecko.BaseURL)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Instruments) != len(DefaultInstruments()) {
		t.Errorf("len(Instruments) = %d, want %d", len(cfg.Instruments), len(DefaultInstruments()))
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeTempFile(t, "mode = [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COINPICK_MODE", "play")
	t.Setenv("COINPICK_GAME_POLL_INTERVAL", "7s")
	t.Setenv("COINPICK_GAME_TIMEFRAME_OPTIONS", "2, 4")
	t.Setenv("COINPICK_GAME_DEFAULT_TIMEFRAME", "4")
	t.Setenv("COINPICK_REDIS_ENABLED", "true")
	t.Setenv("COINPICK_SERVER_CORS_ORIGINS", "http://a, ,http://b")
	t.Setenv("COINPICK_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != "play" {
		t.Errorf("Mode = %q, want play", cfg.Mode)
	}
	if cfg.Game.PollInterval.Duration != 7*time.Second {
		t.Errorf("PollInterval = %v, want 7s", cfg.Game.PollInterval.Duration)
	}
	if got := cfg.Game.TimeframeOptions; len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("TimeframeOptions = %v, want [2 4]", got)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true")
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "http://b" {
		t.Errorf("CORSOrigins = %v, want [http://a http://b]", got)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000 on bad input", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"too few instruments", func(c *Config) { c.Game.InstrumentCount = 1 }, "instrument_count must be >= 2"},
		{"count exceeds catalog", func(c *Config) { c.Game.InstrumentCount = 10 }, "exceeds catalog size"},
		{"default timeframe missing", func(c *Config) { c.Game.DefaultTimeframe = 7 }, "default_timeframe 7"},
		{"bad policy", func(c *Config) { c.Game.WinPolicy = "closest" }, "unknown win_policy"},
		{"top n out of range", func(c *Config) { c.Game.WinPolicy = "top_n"; c.Game.TopN = 9 }, "top_n must be"},
		{"duplicate instrument", func(c *Config) { c.Instruments = append(c.Instruments, c.Instruments[0]) }, "duplicate id"},
		{"redis stats without redis", func(c *Config) { c.Stats.Backend = "redis" }, "requires redis.enabled"},
		{"unknown stats backend", func(c *Config) { c.Stats.Backend = "cookie" }, "unknown backend"},
		{"tick does not divide timeframe", func(c *Config) { c.Game.TickInterval = duration{7 * time.Second} }, "does not divide timeframe 1 min"},
		{"s3 without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "s3: bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.CoinGecko.APIKey = "cg-secret"
	cfg.Redis.Password = "hunter2"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	if out.CoinGecko.APIKey != redacted {
		t.Errorf("APIKey = %q, want redacted", out.CoinGecko.APIKey)
	}
	if out.Redis.Password != redacted {
		t.Errorf("Redis.Password = %q, want redacted", out.Redis.Password)
	}
	if out.S3.SecretKey != "" {
		t.Errorf("empty SecretKey should stay empty, got %q", out.S3.SecretKey)
	}
	if cfg.CoinGecko.APIKey != "cg-secret" {
		t.Error("original config was mutated")
	}

	out.Instruments[0].ID = "mutated"
	if cfg.Instruments[0].ID == "mutated" {
		t.Error("redacted copy shares the instruments slice")
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"", ""},
		{"postgres://game:s3cret@db:5432/coinpick?sslmode=require", "postgres://game:xxxxx@db:5432/coinpick?sslmode=require"},
		{"postgres://game@db/coinpick", "postgres://game@db/coinpick"},
		{"host=db password=s3cret", redacted},
	}
	for _, tt := range tests {
		if got := redactDSN(tt.dsn); got != tt.want {
			t.Errorf("redactDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
