package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// RelayConfig holds upstream relay pool settings
type RelayConfig struct {
	BootstrapRelays     []string `toml:"bootstrap_relays"`
	MaxConnections      int      `toml:"max_connections"`
	HealthCheckInterval int      `toml:"health_check_interval"`
}

// DeduplicationConfig holds the tier sizes of the dedup engine
type DeduplicationConfig struct {
	HotsetSize    int    `toml:"hotset_size"`
	BloomCapacity uint   `toml:"bloom_capacity"`
	LRUSize       int    `toml:"lru_size"`
	KVPath        string `toml:"rocksdb_path"`
}

// OutputConfig holds downstream delivery settings
type OutputConfig struct {
	WebsocketEnabled bool `toml:"websocket_enabled"`
	WebsocketPort    int  `toml:"websocket_port"`
	BatchSize        int  `toml:"batch_size"`
	MaxLatencyMs     int  `toml:"max_latency_ms"`
}

// FilterConfig holds the kind allow-list applied at subscribe and receive time
type FilterConfig struct {
	AllowedKinds []int `toml:"allowed_kinds"`
}

// PostgresConfig holds the relational store settings
type PostgresConfig struct {
	DSN            string `toml:"dsn"`
	MaxConnections int    `toml:"max_connections"`
}

// NostrConfig holds the platform identity.
// SecretKey is the platform secret key (hex) used to decrypt inbound
// signals and sign/encrypt outbound re-publications.
type NostrConfig struct {
	SecretKey string `toml:"secret_key"`
}

// CreditConfig controls credit awards on confirmed settlement
type CreditConfig struct {
	LeaderRate       float64 `toml:"leader_rate"`
	FollowerRate     float64 `toml:"follower_rate"`
	MinCredit        float64 `toml:"min_credit"`
	ProfitMultiplier float64 `toml:"profit_multiplier"`
	Enable           bool    `toml:"enable"`
	TestMultiplier   float64 `toml:"test_multiplier"`
}

// SettlementConfig holds explorer polling settings
type SettlementConfig struct {
	ExplorerBase string        `toml:"explorer_base"`
	PollSecs     int           `toml:"poll_secs"`
	BatchLimit   int           `toml:"batch_limit"`
	Token        string        `toml:"token"`
	Credit       *CreditConfig `toml:"credit"`
}

// MonitoringConfig holds metrics and logging settings
type MonitoringConfig struct {
	PrometheusPort int    `toml:"prometheus_port"`
	LogLevel       string `toml:"log_level"`
}

// Config is the root configuration for the relayer
type Config struct {
	Relay         RelayConfig         `toml:"relay"`
	Deduplication DeduplicationConfig `toml:"deduplication"`
	Output        OutputConfig        `toml:"output"`
	Filters       FilterConfig        `toml:"filters"`
	Postgres      *PostgresConfig     `toml:"postgres"`
	Nostr         *NostrConfig        `toml:"nostr"`
	Settlement    *SettlementConfig   `toml:"settlement"`
	Monitoring    MonitoringConfig    `toml:"monitoring"`
}

// Default returns a config populated with the service defaults. It is the
// base that Load overlays file values onto, and the config used when the
// process starts without a config file.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			BootstrapRelays:     relaysFromEnv(),
			MaxConnections:      10000,
			HealthCheckInterval: 30,
		},
		Deduplication: DeduplicationConfig{
			HotsetSize:    10000,
			BloomCapacity: 1000000,
			LRUSize:       100000,
			KVPath:        "./data/rocksdb",
		},
		Output: OutputConfig{
			WebsocketEnabled: true,
			WebsocketPort:    8080,
			BatchSize:        100,
			MaxLatencyMs:     100,
		},
		Filters: FilterConfig{
			AllowedKinds: []int{30931, 30932, 30933, 30934},
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 9090,
			LogLevel:       "info",
		},
	}
}

// Load reads a TOML config file, overlaying it on the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	if cfg.Settlement != nil {
		applySettlementDefaults(cfg.Settlement)
	}
	if cfg.Postgres != nil && cfg.Postgres.MaxConnections <= 0 {
		cfg.Postgres.MaxConnections = 5
	}

	return cfg, nil
}

func applySettlementDefaults(s *SettlementConfig) {
	if s.ExplorerBase == "" {
		s.ExplorerBase = "https://app.hyperliquid.xyz/explorer/transaction"
	}
	if s.PollSecs <= 0 {
		s.PollSecs = 30
	}
	if s.BatchLimit <= 0 {
		s.BatchLimit = 50
	}
	if s.Credit != nil {
		c := s.Credit
		if c.LeaderRate == 0 {
			c.LeaderRate = 0.002
		}
		if c.FollowerRate == 0 {
			c.FollowerRate = 0.001
		}
		if c.MinCredit == 0 {
			c.MinCredit = 0.5
		}
		if c.ProfitMultiplier == 0 {
			c.ProfitMultiplier = 1.2
		}
		if c.TestMultiplier == 0 {
			c.TestMultiplier = 1.0
		}
	}
}

// relaysFromEnv reads RELAY_URLS (comma-separated) as the bootstrap list
// when no config file supplies one.
func relaysFromEnv() []string {
	raw := os.Getenv("RELAY_URLS")
	if raw == "" {
		return nil
	}

	var urls []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
