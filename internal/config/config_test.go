package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns defaults completed with the fields that have no
// sensible default (custody owners).
func validConfig() Config {
	cfg := Defaults()
	cfg.Fees.CustodyOwners = []string{"op1", "op2"}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("completed defaults pass", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
		{"unknown storage", func(c *Config) { c.Storage = "sqlite" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"ledger without operator key", func(c *Config) { c.Ledger.RPCURL = "http://rpc" }},
		{"encrypted key without password", func(c *Config) {
			c.Ledger.RPCURL = "http://rpc"
			c.Operator.EncryptedKeyPath = "/keys/op.json"
		}},
		{"identity url without credentials", func(c *Config) { c.Identity.BaseURL = "http://idp" }},
		{"postgres without host or dsn", func(c *Config) { c.Postgres.Host = "" }},
		{"postgres pool min above max", func(c *Config) {
			c.Postgres.PoolMinConns = 20
			c.Postgres.PoolMaxConns = 10
		}},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"single custody owner", func(c *Config) { c.Fees.CustodyOwners = []string{"op1"} }},
		{"custody threshold above owners", func(c *Config) { c.Fees.CustodyThreshold = 3 }},
		{"zero base fee", func(c *Config) { c.Fees.BaseFee = 0 }},
		{"negative max tx amount", func(c *Config) { c.Treasury.MaxTxAmount = -1 }},
		{"archive enabled without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}},
		{"server port out of range", func(c *Config) { c.Server.Port = 70_000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("memory storage skips postgres checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage = "memory"
		cfg.Postgres.Host = ""
		cfg.Redis.Addr = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("dsn replaces host parameters", func(t *testing.T) {
		cfg := validConfig()
		cfg.Postgres.Host = ""
		cfg.Postgres.Database = ""
		cfg.Postgres.DSN = "postgres://user:pass@db:5432/pairvault"
		assert.NoError(t, cfg.Validate())
	})
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Storage = "sqlite"
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turbo")
	assert.Contains(t, err.Error(), "sqlite")
	assert.Contains(t, err.Error(), "verbose")
}

func TestRedactedConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "secret"
	cfg.S3.SecretKey = "aws-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Identity.APISecret = "idp-secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Operator.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Identity.APISecret)

	// The original is untouched.
	assert.Equal(t, "deadbeef", cfg.Operator.PrivateKey)

	// Empty secrets stay empty rather than being replaced.
	assert.Empty(t, red.Operator.EncryptedKeyPath)

	// Mutating slices on the copy does not leak back.
	red.Fees.CustodyOwners[0] = "changed"
	assert.Equal(t, "op1", cfg.Fees.CustodyOwners[0])
}
