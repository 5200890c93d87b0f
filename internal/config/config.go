// Package config defines the top-level configuration for the curveswap
// exchange and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CURVESWAP_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the factory's governance parameters and the assets the
// in-memory ledger starts with.
type ExchangeConfig struct {
	// Admin is the governance admin. When empty it is derived from the admin
	// key below.
	Admin            string `toml:"admin"`
	AdminKey         string `toml:"admin_key"`
	AdminKeyPath     string `toml:"admin_key_path"`
	AdminKeyPassword string `toml:"admin_key_password"`

	FactoryAddress        string   `toml:"factory_address"`
	RouterAddress         string   `toml:"router_address"`
	ProtocolFeeRecipient  string   `toml:"protocol_fee_recipient"`
	ProtocolFeeMultiplier string   `toml:"protocol_fee_multiplier"` // WAD decimal
	AllowedCurves         []string `toml:"allowed_curves"`
	// ExtraRouters are whitelisted alongside RouterAddress.
	ExtraRouters []string `toml:"extra_routers"`

	Assets []AssetConfig `toml:"assets"`
}

// AssetConfig registers one collaborator contract in the ledger.
type AssetConfig struct {
	Kind    string `toml:"kind"` // erc20 | erc721 | erc721_enumerable | erc1155
	Address string `toml:"address"`
	Name    string `toml:"name"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int      `toml:"stream_max_len"`
	PriceTTL     duration `toml:"price_ttl"` // 0 keeps spot prices until overwritten
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, guards every /api route.
	APIKey string `toml:"api_key"`
	// RequireSignatures makes mutating routes prove the caller with an
	// EIP-191 signature instead of trusting X-Caller.
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	RateLimit         int      `toml:"rate_limit"` // requests per window per client, 0 disables
	RateWindow        duration `toml:"rate_window"`
	IdempotencyTTL    duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the periodic event archive to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			FactoryAddress:        "0x00000000000000000000000000000000000fac70",
			RouterAddress:         "0x000000000000000000000000000000000007007e",
			ProtocolFeeMultiplier: "5000000000000000",
			AllowedCurves:         []string{"linear", "exponential"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "curveswap",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "curveswap-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			IdempotencyTTL:   duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_created", "fee_override_set", "protocol_fee_updated", "admin_transferred"},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAssetKinds = map[string]bool{
	"erc20":             true,
	"erc721":            true,
	"erc721_enumerable": true,
	"erc1155":           true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Exchange.validate()...)

	// Postgres and S3 back the full mode only.
	if strings.ToLower(c.Mode) == "full" {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		// Without signatures X-Caller is taken at face value.
		if strings.ToLower(c.Mode) == "full" && !c.Server.RequireSignatures {
			errs = append(errs, "server: require_signatures must be set in mode full")
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0 when require_signatures is set")
		}
	}

	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required when webhook_url is set")
	}

	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if strings.ToLower(c.Mode) != "full" {
			errs = append(errs, "archive: requires mode full")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (e *ExchangeConfig) validate() []string {
	var errs []string

	if e.Admin == "" && e.AdminKey == "" && e.AdminKeyPath == "" {
		errs = append(errs, "exchange: one of admin, admin_key or admin_key_path must be set")
	}
	if e.Admin != "" && !common.IsHexAddress(e.Admin) {
		errs = append(errs, fmt.Sprintf("exchange: admin %q is not an address", e.Admin))
	}
	if e.AdminKeyPath != "" && e.AdminKeyPassword == "" {
		errs = append(errs, "exchange: admin_key_password is required when admin_key_path is set")
	}

	for name, v := range map[string]string{
		"factory_address":        e.FactoryAddress,
		"router_address":         e.RouterAddress,
		"protocol_fee_recipient": e.ProtocolFeeRecipient,
	} {
		if !common.IsHexAddress(v) || common.HexToAddress(v) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("exchange: %s must be a nonzero address, got %q", name, v))
		}
	}
	for _, r := range e.ExtraRouters {
		if !common.IsHexAddress(r) {
			errs = append(errs, fmt.Sprintf("exchange: extra router %q is not an address", r))
		}
	}

	if _, err := uint256.FromDecimal(e.ProtocolFeeMultiplier); err != nil {
		errs = append(errs, fmt.Sprintf("exchange: protocol_fee_multiplier %q is not a decimal integer", e.ProtocolFeeMultiplier))
	}
	if len(e.AllowedCurves) == 0 {
		errs = append(errs, "exchange: allowed_curves must not be empty")
	}

	seen := make(map[common.Address]bool, len(e.Assets))
	for i, a := range e.Assets {
		if !validAssetKinds[a.Kind] {
			errs = append(errs, fmt.Sprintf("exchange: assets[%d]: unknown kind %q", i, a.Kind))
		}
		if !common.IsHexAddress(a.Address) || common.HexToAddress(a.Address) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("exchange: assets[%d]: address must be nonzero, got %q", i, a.Address))
			continue
		}
		addr := common.HexToAddress(a.Address)
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("exchange: assets[%d]: duplicate address %s", i, addr.Hex()))
		}
		seen[addr] = true
	}
	return errs
}
