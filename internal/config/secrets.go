package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials are
// replaced by "***" and a Postgres DSN keeps its host and database but loses
// its password. Slices are cloned so the copy cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.CoinGecko.APIKey,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	out.Instruments = slices.Clone(cfg.Instruments)
	out.Game.TimeframeOptions = slices.Clone(cfg.Game.TimeframeOptions)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

// redactDSN masks the password of a URL-style DSN (net/url writes "xxxxx").
// Anything it cannot parse as a URL is redacted whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Redacted()
}
