package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/jmercadal/pairvault/internal/blob/s3"
	memcache "github.com/jmercadal/pairvault/internal/cache/memory"
	"github.com/jmercadal/pairvault/internal/cache/redis"
	"github.com/jmercadal/pairvault/internal/config"
	"github.com/jmercadal/pairvault/internal/crypto"
	"github.com/jmercadal/pairvault/internal/domain"
	"github.com/jmercadal/pairvault/internal/notify"
	"github.com/jmercadal/pairvault/internal/platform/devledger"
	"github.com/jmercadal/pairvault/internal/platform/ethledger"
	"github.com/jmercadal/pairvault/internal/platform/identity"
	memstore "github.com/jmercadal/pairvault/internal/store/memory"
	"github.com/jmercadal/pairvault/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	TreasuryStore domain.TreasuryStore
	InterestStore domain.InterestStore
	MatchStore    domain.MatchStore
	FeeStore      domain.FeeStore
	AuditStore    domain.AuditStore

	// Caches and coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Cooldown    domain.CooldownGuard
	EventBus    domain.EventBus

	// External systems
	Ledger   domain.Ledger
	Identity domain.IdentityProvider

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	switch strings.ToLower(cfg.Mode) {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	switch strings.ToLower(cfg.Storage) {
	case "memory":
		// Single in-memory store implements every store interface. Caches and
		// the event bus run in-process. Development and tests only.
		mem := memstore.New()
		deps.TreasuryStore = mem
		deps.InterestStore = mem
		deps.MatchStore = mem
		deps.FeeStore = mem
		deps.AuditStore = mem

		deps.RateLimiter = memcache.NewRateLimiter()
		deps.LockManager = memcache.NewLockManager()
		deps.Cooldown = memcache.NewCooldownGuard()
		deps.EventBus = memcache.NewEventBus()

	default: // postgres
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TreasuryStore = postgres.NewTreasuryStore(pool)
		deps.InterestStore = postgres.NewInterestStore(pool)
		deps.MatchStore = postgres.NewMatchStore(pool)
		deps.FeeStore = postgres.NewFeeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Cooldown = redis.NewCooldownGuard(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
	}

	// --- Settlement ledger ---
	if cfg.Ledger.RPCURL != "" {
		key, err := crypto.LoadOperatorKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		signer, err := crypto.NewTransferSigner(key, cfg.Ledger.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: transfer signer: %w", err)
		}
		ledger, err := ethledger.New(ctx, ethledger.Config{
			RPCURL:      cfg.Ledger.RPCURL,
			GasLimit:    cfg.Ledger.GasLimit,
			WaitTimeout: cfg.Ledger.WaitTimeout.Duration,
		}, signer, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ledger: %w", err)
		}
		closers = append(closers, ledger.Close)
		deps.Ledger = ledger
	} else {
		logger.Warn("wire: no ledger rpc_url configured, using in-memory dev ledger")
		deps.Ledger = devledger.New(logger)
	}

	// --- Identity provider ---
	if cfg.Identity.BaseURL != "" {
		deps.Identity = identity.NewClient(cfg.Identity.BaseURL, &crypto.HMACAuth{
			Key:    cfg.Identity.APIKey,
			Secret: cfg.Identity.APISecret,
		})
	} else {
		allow := make([]domain.Identity, 0, len(cfg.Identity.AllowList))
		for _, id := range cfg.Identity.AllowList {
			allow = append(allow, domain.Identity(id))
		}
		deps.Identity = identity.NewStaticProvider(allow...)
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
