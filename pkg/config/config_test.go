package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[relay]
bootstrap_relays = ["wss://relay.one", "wss://relay.two"]
max_connections = 500
health_check_interval = 15

[deduplication]
hotset_size = 2000
bloom_capacity = 50000
lru_size = 9000
rocksdb_path = "/tmp/relayer-kv"

[output]
websocket_enabled = true
websocket_port = 9000
batch_size = 25
max_latency_ms = 250

[filters]
allowed_kinds = [30931, 30933]

[postgres]
dsn = "postgres://relayer@localhost/relayer"

[nostr]
secret_key = "deadbeef"

[settlement]
poll_secs = 10
token = "hunter2"

[settlement.credit]
leader_rate = 0.004
enable = true

[monitoring]
prometheus_port = 9091
log_level = "debug"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayer.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, cfg.Relay.BootstrapRelays)
	assert.Equal(t, 500, cfg.Relay.MaxConnections)
	assert.Equal(t, 15, cfg.Relay.HealthCheckInterval)

	assert.Equal(t, 2000, cfg.Deduplication.HotsetSize)
	assert.Equal(t, "/tmp/relayer-kv", cfg.Deduplication.KVPath)

	assert.Equal(t, 25, cfg.Output.BatchSize)
	assert.Equal(t, 250, cfg.Output.MaxLatencyMs)

	assert.Equal(t, []int{30931, 30933}, cfg.Filters.AllowedKinds)

	require.NotNil(t, cfg.Postgres)
	assert.Equal(t, 5, cfg.Postgres.MaxConnections, "pool size defaults when omitted")

	require.NotNil(t, cfg.Nostr)
	assert.Equal(t, "deadbeef", cfg.Nostr.SecretKey)

	require.NotNil(t, cfg.Settlement)
	assert.Equal(t, 10, cfg.Settlement.PollSecs)
	assert.Equal(t, 50, cfg.Settlement.BatchLimit, "batch limit defaults when omitted")
	assert.Equal(t, "hunter2", cfg.Settlement.Token)
	assert.Equal(t, "https://app.hyperliquid.xyz/explorer/transaction", cfg.Settlement.ExplorerBase)

	require.NotNil(t, cfg.Settlement.Credit)
	assert.Equal(t, 0.004, cfg.Settlement.Credit.LeaderRate)
	assert.Equal(t, 0.001, cfg.Settlement.Credit.FollowerRate, "follower rate defaults when omitted")
	assert.Equal(t, 0.5, cfg.Settlement.Credit.MinCredit)
	assert.Equal(t, 1.2, cfg.Settlement.Credit.ProfitMultiplier)
	assert.Equal(t, 1.0, cfg.Settlement.Credit.TestMultiplier)

	assert.Equal(t, "debug", cfg.Monitoring.LogLevel)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10000, cfg.Deduplication.HotsetSize)
	assert.Equal(t, uint(1000000), cfg.Deduplication.BloomCapacity)
	assert.Equal(t, 100000, cfg.Deduplication.LRUSize)
	assert.Equal(t, "./data/rocksdb", cfg.Deduplication.KVPath)
	assert.Equal(t, 100, cfg.Output.BatchSize)
	assert.Equal(t, 100, cfg.Output.MaxLatencyMs)
	assert.Equal(t, []int{30931, 30932, 30933, 30934}, cfg.Filters.AllowedKinds)
	assert.Nil(t, cfg.Postgres)
	assert.Nil(t, cfg.Settlement)
}

func TestRelayURLsFromEnv(t *testing.T) {
	t.Setenv("RELAY_URLS", " wss://a.example , wss://b.example ,, ")

	cfg := Default()
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relay.BootstrapRelays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/relayer.toml")
	assert.Error(t, err)
}

func TestLoadMalformedTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "relay = [[["))
	assert.Error(t, err)
}
