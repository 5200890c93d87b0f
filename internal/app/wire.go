package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/alanyoungcy/curveswap/internal/blob/s3"
	"github.com/alanyoungcy/curveswap/internal/cache/redis"
	"github.com/alanyoungcy/curveswap/internal/config"
	"github.com/alanyoungcy/curveswap/internal/crypto"
	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/factory"
	"github.com/alanyoungcy/curveswap/internal/ledger"
	"github.com/alanyoungcy/curveswap/internal/metrics"
	"github.com/alanyoungcy/curveswap/internal/notify"
	"github.com/alanyoungcy/curveswap/internal/router"
	"github.com/alanyoungcy/curveswap/internal/server/handler"
	"github.com/alanyoungcy/curveswap/internal/service"
	"github.com/alanyoungcy/curveswap/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Exchange *service.Exchange
	Metrics  *metrics.Metrics

	// Stores, full mode only.
	EventStore domain.EventStore
	PoolStore  domain.PoolSnapshotStore
	AuditStore domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, full mode only.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Checks are the dependency probes reported by the health endpoint.
	Checks map[string]handler.Check
}

// needsPostgres returns true for modes that persist events and snapshots.
func needsPostgres(mode string) bool { return mode == "full" }

// needsS3 returns true for modes that archive to object storage.
func needsS3(mode string) bool { return mode == "full" }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.PoolStore = postgres.NewPoolSnapshotStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 blob storage ---
	if needsS3(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health

		// The archiver reads back through the Postgres stores wired above.
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.EventStore,
			deps.PoolStore,
			deps.AuditStore,
		)
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
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Exchange ---
	pubDeps := service.PublisherDeps{
		Events: deps.EventStore,
		Pools:  deps.PoolStore,
		Prices: deps.PriceCache,
		Bus:    deps.SignalBus,
		Audit:  deps.AuditStore,
	}
	if deps.Notifier.Enabled() {
		pubDeps.Notifier = deps.Notifier
	}
	ex, err := buildExchange(cfg.Exchange, service.NewPublisher(pubDeps, logger), deps.Metrics, logger)
	if err != nil {
		return fail("exchange", err)
	}
	deps.Exchange = ex

	return deps, cleanup, nil
}

// buildExchange seeds a ledger with the configured assets and creates the
// factory and router on top of it.
func buildExchange(cfg config.ExchangeConfig, sink service.Sink, rec service.Recorder, logger *slog.Logger) (*service.Exchange, error) {
	admin, err := crypto.AdminAddress(cfg.Admin, crypto.KeySource{
		RawKey:   cfg.AdminKey,
		Path:     cfg.AdminKeyPath,
		Password: cfg.AdminKeyPassword,
	})
	if err != nil {
		return nil, err
	}
	rate, err := uint256.FromDecimal(cfg.ProtocolFeeMultiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: protocol fee multiplier %q", domain.ErrValidation, cfg.ProtocolFeeMultiplier)
	}

	l := ledger.New(func() time.Time { return time.Now().UTC() })
	for _, a := range cfg.Assets {
		if err := l.Register(domain.AssetKind(a.Kind), common.HexToAddress(a.Address), a.Name); err != nil {
			return nil, fmt.Errorf("register asset %s: %w", a.Address, err)
		}
	}

	routerAddr := common.HexToAddress(cfg.RouterAddress)
	routers := []common.Address{routerAddr}
	for _, r := range cfg.ExtraRouters {
		routers = append(routers, common.HexToAddress(r))
	}

	f, err := factory.New(factory.Config{
		Address:              common.HexToAddress(cfg.FactoryAddress),
		Admin:                admin,
		ProtocolFeeRate:      rate,
		ProtocolFeeRecipient: common.HexToAddress(cfg.ProtocolFeeRecipient),
		AllowedCurves:        cfg.AllowedCurves,
		AllowedRouters:       routers,
	}, l, l)
	if err != nil {
		return nil, err
	}

	logger.Info("exchange ready",
		slog.String("admin", admin.Hex()),
		slog.String("factory", f.Address().Hex()),
		slog.String("router", routerAddr.Hex()),
		slog.Int("assets", len(cfg.Assets)),
	)
	return service.NewExchange(l, f, router.New(routerAddr, f, l, l), sink, rec, logger), nil
}
