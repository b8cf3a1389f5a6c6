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
// built-in defaults, applies PAIRVAULT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PAIRVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "PAIRVAULT_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "PAIRVAULT_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "PAIRVAULT_OPERATOR_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "PAIRVAULT_LEDGER_RPC_URL")
	setInt64(&cfg.Ledger.ChainID, "PAIRVAULT_LEDGER_CHAIN_ID")
	setUint64(&cfg.Ledger.GasLimit, "PAIRVAULT_LEDGER_GAS_LIMIT")
	setDuration(&cfg.Ledger.WaitTimeout, "PAIRVAULT_LEDGER_WAIT_TIMEOUT")

	// ── Identity ──
	setStr(&cfg.Identity.BaseURL, "PAIRVAULT_IDENTITY_BASE_URL")
	setStr(&cfg.Identity.APIKey, "PAIRVAULT_IDENTITY_API_KEY")
	setStr(&cfg.Identity.APISecret, "PAIRVAULT_IDENTITY_API_SECRET")
	setStringSlice(&cfg.Identity.AllowList, "PAIRVAULT_IDENTITY_ALLOW_LIST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAIRVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAIRVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAIRVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAIRVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAIRVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAIRVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAIRVAULT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAIRVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAIRVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAIRVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAIRVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAIRVAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAIRVAULT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAIRVAULT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAIRVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAIRVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAIRVAULT_S3_FORCE_PATH_STYLE")

	// ── Treasury ──
	setInt64(&cfg.Treasury.MaxTxAmount, "PAIRVAULT_TREASURY_MAX_TX_AMOUNT")

	// ── Matching ──
	setDuration(&cfg.Matching.CooldownWindow, "PAIRVAULT_MATCHING_COOLDOWN_WINDOW")
	setInt(&cfg.Matching.SignalLimit, "PAIRVAULT_MATCHING_SIGNAL_LIMIT")
	setDuration(&cfg.Matching.SignalWindow, "PAIRVAULT_MATCHING_SIGNAL_WINDOW")
	setDuration(&cfg.Matching.LockTTL, "PAIRVAULT_MATCHING_LOCK_TTL")

	// ── Fees ──
	setStr(&cfg.Fees.CustodyName, "PAIRVAULT_FEES_CUSTODY_NAME")
	setStringSlice(&cfg.Fees.CustodyOwners, "PAIRVAULT_FEES_CUSTODY_OWNERS")
	setInt(&cfg.Fees.CustodyThreshold, "PAIRVAULT_FEES_CUSTODY_THRESHOLD")
	setInt64(&cfg.Fees.BaseFee, "PAIRVAULT_FEES_BASE_FEE")
	setInt64(&cfg.Fees.MinFee, "PAIRVAULT_FEES_MIN_FEE")
	setInt64(&cfg.Fees.BaseReward, "PAIRVAULT_FEES_BASE_REWARD")
	setInt64(&cfg.Fees.MinReward, "PAIRVAULT_FEES_MIN_REWARD")
	setInt64(&cfg.Fees.StepEvery, "PAIRVAULT_FEES_STEP_EVERY")
	setInt64(&cfg.Fees.StepBps, "PAIRVAULT_FEES_STEP_BPS")
	setDuration(&cfg.Fees.FeePeriod, "PAIRVAULT_FEES_FEE_PERIOD")
	setInt64(&cfg.Fees.WithdrawalCap, "PAIRVAULT_FEES_WITHDRAWAL_CAP")
	setDuration(&cfg.Fees.CapPeriod, "PAIRVAULT_FEES_CAP_PERIOD")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAIRVAULT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PAIRVAULT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PAIRVAULT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAIRVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAIRVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAIRVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAIRVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PAIRVAULT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PAIRVAULT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRVAULT_MODE")
	setStr(&cfg.Storage, "PAIRVAULT_STORAGE")
	setStr(&cfg.LogLevel, "PAIRVAULT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
