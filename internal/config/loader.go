package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CURVESWAP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known CURVESWAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets and addresses are usually injected this way at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Admin, "CURVESWAP_EXCHANGE_ADMIN")
	setStr(&cfg.Exchange.AdminKey, "CURVESWAP_EXCHANGE_ADMIN_KEY")
	setStr(&cfg.Exchange.AdminKeyPath, "CURVESWAP_EXCHANGE_ADMIN_KEY_PATH")
	setStr(&cfg.Exchange.AdminKeyPassword, "CURVESWAP_EXCHANGE_ADMIN_KEY_PASSWORD")
	setStr(&cfg.Exchange.FactoryAddress, "CURVESWAP_EXCHANGE_FACTORY_ADDRESS")
	setStr(&cfg.Exchange.RouterAddress, "CURVESWAP_EXCHANGE_ROUTER_ADDRESS")
	setStr(&cfg.Exchange.ProtocolFeeRecipient, "CURVESWAP_EXCHANGE_PROTOCOL_FEE_RECIPIENT")
	setStr(&cfg.Exchange.ProtocolFeeMultiplier, "CURVESWAP_EXCHANGE_PROTOCOL_FEE_MULTIPLIER")
	setStringSlice(&cfg.Exchange.AllowedCurves, "CURVESWAP_EXCHANGE_ALLOWED_CURVES")
	setStringSlice(&cfg.Exchange.ExtraRouters, "CURVESWAP_EXCHANGE_EXTRA_ROUTERS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // conventional fallback
	setStr(&cfg.Postgres.DSN, "CURVESWAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CURVESWAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CURVESWAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CURVESWAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CURVESWAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CURVESWAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CURVESWAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CURVESWAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CURVESWAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CURVESWAP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CURVESWAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CURVESWAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CURVESWAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CURVESWAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CURVESWAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CURVESWAP_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "CURVESWAP_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.PriceTTL, "CURVESWAP_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CURVESWAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CURVESWAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "CURVESWAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CURVESWAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CURVESWAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CURVESWAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CURVESWAP_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CURVESWAP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CURVESWAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CURVESWAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CURVESWAP_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "CURVESWAP_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "CURVESWAP_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "CURVESWAP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CURVESWAP_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.IdempotencyTTL, "CURVESWAP_SERVER_IDEMPOTENCY_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CURVESWAP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CURVESWAP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CURVESWAP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "CURVESWAP_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "CURVESWAP_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "CURVESWAP_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CURVESWAP_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CURVESWAP_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CURVESWAP_ARCHIVE_CRON")

	// ── Top-level ──
	setStr(&cfg.Mode, "CURVESWAP_MODE")
	setStr(&cfg.LogLevel, "CURVESWAP_LOG_LEVEL")
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
