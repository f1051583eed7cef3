package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "BASE-QUOTE", cfg.Pair.Symbol)
	assert.Equal(t, uint64(100_000_000), cfg.Pair.Decimals)
	assert.Equal(t, uint64(20_000_000), cfg.Engine.InitialBase)
	assert.Equal(t, uint64(20_000_000), cfg.Engine.InitialQuote)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.Feeder.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchInterval())
	assert.Equal(t, 30*time.Second, cfg.Storage.CheckpointInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BASE_ASSET=WETH\nQUOTE_ASSET=USDC\nTXGEN_BATCH=9\n"), 0o644))

	t.Setenv("QUOTE_ASSET", "DAI") // environment wins over .env
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TXGEN_INTERVAL_MS", "250")
	t.Setenv("CHECKPOINT_INTERVAL", "2m")

	cfg, err := LoadFromEnv(envFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("BASE_ASSET")
		os.Unsetenv("TXGEN_BATCH")
	})

	assert.Equal(t, "WETH", cfg.Pair.BaseAsset)
	assert.Equal(t, "DAI", cfg.Pair.QuoteAsset)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9, cfg.Feeder.Batch)
	assert.Equal(t, 250*time.Millisecond, cfg.FeederInterval())
	assert.Equal(t, 2*time.Minute, cfg.Storage.CheckpointInterval)
}

func TestLoadFromEnvRejectsBadOperator(t *testing.T) {
	t.Setenv("OPERATOR_ADDRESS", "not-an-address")

	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Pair.Decimals = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Feeder.Enabled = true
	cfg.Feeder.Batch = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.BatchIntervalMS = 0
	assert.Error(t, cfg.Validate())
}
