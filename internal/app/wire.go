package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/dexarb/internal/blob/s3"
	"github.com/alanyoungcy/dexarb/internal/cache/redis"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/platform/icgateway"
	"github.com/alanyoungcy/dexarb/internal/platform/icpswap"
	"github.com/alanyoungcy/dexarb/internal/platform/icrc"
	"github.com/alanyoungcy/dexarb/internal/platform/kong"
	"github.com/alanyoungcy/dexarb/internal/platform/venues"
	"github.com/alanyoungcy/dexarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional backends are nil when disabled.
type Dependencies struct {
	// Identity; nil when no key is configured (monitor mode only).
	Signer *crypto.Signer

	// Venues
	Gateway *icgateway.Client
	Venues  *venues.Router
	Ledger  *icrc.Client

	// Redis
	Redis       *redis.Client
	Mirror      domain.StateMirror
	LockManager domain.LockManager
	EventBus    domain.EventBus
	RateLimiter domain.RateLimiter

	// Postgres
	Postgres   *postgres.Client
	Executions domain.ExecutionStore
	Audit      domain.AuditLog

	// Blob storage
	S3        *s3blob.Client
	Journal   domain.Journal
	Compactor *s3blob.Compactor

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- Identity ---
	signer, err := LoadSigner(cfg)
	if err != nil {
		return fail(err)
	}
	if signer != nil {
		logger.Info("identity loaded", slog.String("principal", signer.Principal()))
	}
	deps.Signer = signer

	// --- Venues ---
	deps.Gateway, deps.Venues, deps.Ledger = NewVenues(cfg, signer, logger)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		} else if err := pgClient.CheckSchema(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
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
		closers = append(closers, func() { _ = redisClient.Close() })
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr), slog.String("version", redisClient.Version()))

		deps.Redis = redisClient
		deps.Mirror = redis.NewStateMirror(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 execution journal ---
	if cfg.S3.Enabled {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		writer := s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)*1024*1024)
		journal := s3blob.NewJournal(writer, cfg.S3.JournalPrefix)
		deps.S3 = s3Client
		deps.Journal = journal
		deps.Compactor = s3blob.NewCompactor(journal, s3blob.NewJournalReader(s3Client), writer, deps.Audit)
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
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Prefix, logger)

	return deps, cleanup, nil
}

// NewAlerter builds the asynchronous alert sink, throttling noisy events
// through redis when configured.
func NewAlerter(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *notify.Alerter {
	alerter := notify.NewAlerter(deps.Notifier, cfg.Notify.QueueSize, cfg.Notify.SendTimeout.Duration, logger)
	if deps.RateLimiter != nil && cfg.Notify.AlertLimit > 0 {
		window := cfg.Notify.AlertWindow.Duration
		if window <= 0 {
			window = time.Minute
		}
		alerter.RateLimit(deps.RateLimiter, cfg.Notify.AlertLimit, window,
			domain.EventSolverAnomaly, domain.EventOpportunity, domain.EventMonitorCrash)
	}
	return alerter
}

// LoadSigner loads the configured identity. It returns nil, nil when no
// identity source is set.
func LoadSigner(cfg *config.Config) (*crypto.Signer, error) {
	if !cfg.Identity.Configured() {
		return nil, nil
	}
	key, err := crypto.LoadIdentity(crypto.IdentityConfig{
		RawPrivateKey:    cfg.Identity.PrivateKey,
		EncryptedKeyPath: cfg.Identity.EncryptedKeyPath,
		KeyPassword:      cfg.Identity.KeyPassword,
		PEMPath:          cfg.Identity.PEMPath,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: identity: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("wire: signer: %w", err)
	}
	return signer, nil
}

// NewVenues builds the gateway client, the venue router with every
// supported protocol registered, and the ICRC ledger client. signer may be
// nil for read-only use.
func NewVenues(cfg *config.Config, signer *crypto.Signer, logger *slog.Logger) (*icgateway.Client, *venues.Router, *icrc.Client) {
	gw := icgateway.New(icgateway.Config{
		BaseURL:    cfg.Network.GatewayURL,
		Signer:     signer,
		Auth:       &crypto.HMACAuth{Key: cfg.Network.APIKey, Secret: cfg.Network.APISecret},
		Timeout:    cfg.Network.Timeout.Duration,
		IngressTTL: cfg.Network.IngressTTL.Duration,
	})
	router := venues.NewRouter(logger)
	router.Register(domain.VenueKong, kong.New(gw,
		kong.WithPolling(cfg.Network.SwapPollInterval.Duration, cfg.Network.SwapPollTimeout.Duration),
		kong.WithLogger(logger),
	))
	router.Register(domain.VenueICPSwap, icpswap.New(gw))
	return gw, router, icrc.New(gw)
}
