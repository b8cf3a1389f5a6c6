// Package config defines the top-level configuration for the pairvault
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PAIRVAULT_* environment variables.
type Config struct {
	Operator Operator       `toml:"operator"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Identity IdentityConfig `toml:"identity"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Treasury TreasuryConfig `toml:"treasury"`
	Matching MatchingConfig `toml:"matching"`
	Fees     FeesConfig     `toml:"fees"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	Storage  string         `toml:"storage"`
	LogLevel string         `toml:"log_level"`
}

// Operator holds the ledger operator's signing credentials.
type Operator struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds external ledger connection parameters.
type LedgerConfig struct {
	RPCURL      string   `toml:"rpc_url"`
	ChainID     int64    `toml:"chain_id"`
	GasLimit    uint64   `toml:"gas_limit"`
	WaitTimeout duration `toml:"wait_timeout"`
}

// IdentityConfig holds identity provider API parameters. When BaseURL is
// empty, a static in-process provider is used instead (development only).
type IdentityConfig struct {
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	AllowList []string `toml:"allow_list"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// TreasuryConfig holds treasury pipeline parameters. Amounts are fixed-point
// units (1e6 per token).
type TreasuryConfig struct {
	// MaxTxAmount caps the amount of a single submitted transaction. Zero
	// disables the cap.
	MaxTxAmount int64 `toml:"max_tx_amount"`
}

// MatchingConfig holds matching engine parameters.
type MatchingConfig struct {
	CooldownWindow duration `toml:"cooldown_window"`
	SignalLimit    int      `toml:"signal_limit"`
	SignalWindow   duration `toml:"signal_window"`
	LockTTL        duration `toml:"lock_ttl"`
}

// FeesConfig holds the fee/reward schedule and custody parameters. Amounts
// are fixed-point units (1e6 per token).
type FeesConfig struct {
	CustodyName      string   `toml:"custody_name"`
	CustodyOwners    []string `toml:"custody_owners"`
	CustodyThreshold int      `toml:"custody_threshold"`
	BaseFee          int64    `toml:"base_fee"`
	MinFee           int64    `toml:"min_fee"`
	BaseReward       int64    `toml:"base_reward"`
	MinReward        int64    `toml:"min_reward"`
	StepEvery        int64    `toml:"step_every"`
	StepBps          int64    `toml:"step_bps"`
	FeePeriod        duration `toml:"fee_period"`
	WithdrawalCap    int64    `toml:"withdrawal_cap"`
	CapPeriod        duration `toml:"cap_period"`
}

// ArchiveConfig holds audit archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
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
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			ChainID:     137,
			GasLimit:    21_000,
			WaitTimeout: duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pairvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pairvault-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Treasury: TreasuryConfig{
			MaxTxAmount: 1_000_000_000_000, // 1M tokens
		},
		Matching: MatchingConfig{
			CooldownWindow: duration{time.Hour},
			SignalLimit:    10,
			SignalWindow:   duration{time.Minute},
			LockTTL:        duration{10 * time.Second},
		},
		Fees: FeesConfig{
			CustodyName:      "platform-fees",
			CustodyThreshold: 2,
			BaseFee:          1_000_000,  // 1 token
			MinFee:           100_000,    // 0.1 token
			BaseReward:       10_000_000, // 10 tokens
			MinReward:        1_000_000,  // 1 token
			StepEvery:        100,
			StepBps:          500,
			FeePeriod:        duration{24 * time.Hour},
			WithdrawalCap:    100_000_000, // 100 tokens
			CapPeriod:        duration{24 * time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   50,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"match_created", "transaction_executed", "withdrawal_executed", "error"},
		},
		Mode:     "full",
		Storage:  "postgres",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"full":    true,
}

// validStorage enumerates the accepted values for Config.Storage.
var validStorage = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, full)", c.Mode))
	}

	// Storage
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Operator — required whenever an RPC ledger is configured.
	if c.Ledger.RPCURL != "" {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set when ledger.rpc_url is configured")
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
		if c.Ledger.ChainID <= 0 {
			errs = append(errs, "ledger: chain_id must be positive")
		}
	}

	// Identity — key and secret must be set together with the base URL.
	if c.Identity.BaseURL != "" {
		if c.Identity.APIKey == "" || c.Identity.APISecret == "" {
			errs = append(errs, "identity: api_key and api_secret are required when base_url is set")
		}
	}

	// Postgres — only checked for the postgres storage backend.
	if strings.ToLower(c.Storage) == "postgres" {
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

		// Redis backs the cooldown guard, locks, and event bus.
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Treasury
	if c.Treasury.MaxTxAmount < 0 {
		errs = append(errs, "treasury: max_tx_amount must not be negative")
	}

	// Matching
	if c.Matching.CooldownWindow.Duration < 0 {
		errs = append(errs, "matching: cooldown_window must not be negative")
	}
	if c.Matching.SignalLimit < 0 {
		errs = append(errs, "matching: signal_limit must not be negative")
	}

	// Fees
	if len(c.Fees.CustodyOwners) < 2 {
		errs = append(errs, "fees: at least two custody_owners are required")
	}
	if c.Fees.CustodyThreshold < 1 || c.Fees.CustodyThreshold > len(c.Fees.CustodyOwners) {
		errs = append(errs, fmt.Sprintf("fees: custody_threshold must be 1-%d, got %d", len(c.Fees.CustodyOwners), c.Fees.CustodyThreshold))
	}
	if c.Fees.BaseFee <= 0 || c.Fees.BaseReward <= 0 {
		errs = append(errs, "fees: base_fee and base_reward must be positive")
	}
	if c.Fees.StepEvery <= 0 {
		errs = append(errs, "fees: step_every must be positive")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
