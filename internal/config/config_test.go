package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"OutcomeMarket/internal/config"
	fpmath "OutcomeMarket/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerHex  = "0x00000000000000000000000000000000000000aa"
	oracleHex = "0x00000000000000000000000000000000000000c1"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := writeYAML(t, `
nats_url: nats://broker:4222
persist_batch_size: 200
market:
  owner: "`+ownerHex+`"
  oracles: ["`+oracleHex+`"]
  fee: "0.01"
  end_timeout: 90m
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATSURL)
	assert.Equal(t, 200, cfg.PersistBatchSize)
	assert.Equal(t, ":9090", cfg.GRPCAddr, "defaults survive")
	assert.Equal(t, 90*time.Minute, cfg.Market.EndTimeout)
	assert.Equal(t, time.Hour, cfg.Market.StartTimeout)

	mc, err := cfg.Market.CoreConfig()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(ownerHex), mc.Owner)
	assert.Equal(t, []common.Address{common.HexToAddress(oracleHex)}, mc.Oracles)
	assert.Equal(t, fpmath.MustDecimal("0.01"), mc.Fee)
	assert.Equal(t, fpmath.MustDecimal("0.5"), mc.InitialWhitePrice)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
grpc_addr: ":7000"
market:
  owner: "`+ownerHex+`"
  oracles: ["`+oracleHex+`"]
`)
	t.Setenv("BWM_GRPC_ADDR", ":7100")
	t.Setenv("BWM_MARKET_ORACLES", oracleHex+",0x00000000000000000000000000000000000000c2")
	t.Setenv("BWM_MARKET_START_GRACE_WINDOW", "30m")
	t.Setenv("BWM_MARKET_QUEUE_ONLY", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.GRPCAddr)
	assert.Len(t, cfg.Market.Oracles, 2)
	assert.Equal(t, 30*time.Minute, cfg.Market.StartGraceWindow)
	assert.True(t, cfg.Market.QueueOnly)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BWM_MARKET_OWNER", ownerHex)
	t.Setenv("BWM_MARKET_ORACLES", oracleHex)
	t.Setenv("BWM_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestRead_SkipsMarketValidation(t *testing.T) {
	t.Setenv("BWM_POSTGRES_DSN", "postgres://migrate@db/outcomemarket")

	cfg, err := config.Read("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://migrate@db/outcomemarket", cfg.PostgresURL)

	_, err = config.Load("")
	assert.Error(t, err, "no owner configured")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Market.Owner = ownerHex
		cfg.Market.Oracles = []string{oracleHex}
		return cfg
	}
	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no owner", func(c *config.Config) { c.Market.Owner = "" }},
		{"bad oracle", func(c *config.Config) { c.Market.Oracles = []string{"0x12"} }},
		{"no oracles", func(c *config.Config) { c.Market.Oracles = nil }},
		{"price of one", func(c *config.Config) { c.Market.InitialWhitePrice = "1" }},
		{"fee not a number", func(c *config.Config) { c.Market.Fee = "three" }},
		{"shared address", func(c *config.Config) { c.Market.QueueAddress = c.Market.PoolAddress }},
		{"zero batch", func(c *config.Config) { c.PersistBatchSize = 0 }},
		{"log level", func(c *config.Config) { c.LogLevel = "verbose" }},
		{"wide collateral", func(c *config.Config) { c.Market.CollateralDecimals = 24 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
