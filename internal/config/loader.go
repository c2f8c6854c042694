package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of the built-in defaults, then
// applies OPTTRACKER_* environment overrides. Validation is the caller's
// job: invoke Config.Validate() on the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTTRACKER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OPTTRACKER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OPTTRACKER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPTTRACKER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPTTRACKER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPTTRACKER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPTTRACKER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPTTRACKER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPTTRACKER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPTTRACKER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPTTRACKER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OPTTRACKER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTTRACKER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTTRACKER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTTRACKER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTTRACKER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTTRACKER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPTTRACKER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTTRACKER_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTTRACKER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTTRACKER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTTRACKER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTTRACKER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTTRACKER_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTTL, "OPTTRACKER_ENGINE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OPTTRACKER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "OPTTRACKER_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "OPTTRACKER_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTTRACKER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTTRACKER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTTRACKER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTTRACKER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OPTTRACKER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OPTTRACKER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTTRACKER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTTRACKER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTTRACKER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTTRACKER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Storage, "OPTTRACKER_STORAGE")
	setStr(&cfg.Mode, "OPTTRACKER_MODE")
	setStr(&cfg.LogLevel, "OPTTRACKER_LOG_LEVEL")
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
