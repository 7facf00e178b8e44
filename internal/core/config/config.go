package config

import (
	"time"
)

const DefaultFileName = "supravault.toml"

type Config struct {
	Version       int           `toml:"version"`
	Chain         Chain         `toml:"chain"`
	HTTP          HTTP          `toml:"http"`
	Indexer       Indexer       `toml:"indexer"`
	Inventory     Inventory     `toml:"inventory"`
	Sampler       Sampler       `toml:"sampler"`
	Pinning       Pinning       `toml:"pinning"`
	DB            Database      `toml:"db"`
	Observability Observability `toml:"observability"`
	Logging       Logging       `toml:"logging"`
}

type Chain struct {
	Name            string   `toml:"name"`
	RPCV1URL        string   `toml:"rpc_v1_url"`
	RPCV2URL        string   `toml:"rpc_v2_url"`
	Preferred       string   `toml:"preferred"`
	SystemAddresses []string `toml:"system_addresses"`
}

type HTTP struct {
	Timeout   time.Duration `toml:"timeout"`
	Retries   int           `toml:"retries"`
	Backoff   time.Duration `toml:"backoff"`
	RateLimit float64       `toml:"rate_limit"` // requests per second per host, 0 = unlimited
	Burst     int           `toml:"burst"`
	UserAgent string        `toml:"user_agent"`
}

type Indexer struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Name    string `toml:"name"`
}

type Inventory struct {
	ExcludeModules []string `toml:"exclude_modules"`
	ProbeNames     []string `toml:"probe_names"`
}

type Sampler struct {
	Enabled            bool   `toml:"enabled"`
	DefaultLimit       int    `toml:"default_limit"`
	ProbeAddressesFile string `toml:"probe_addresses_file"`
}

type Pinning struct {
	Concurrency int `toml:"concurrency"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Driver      string        `toml:"driver"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Address       string `toml:"address"`
	EnableMetrics bool   `toml:"enable_metrics"`
	EnableTracing bool   `toml:"enable_tracing"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	OTLPInsecure  bool   `toml:"otlp_insecure"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig is what Load produces from an empty file.
func DefaultConfig() *Config {
	cfg := &Config{
		DB:      Database{Enabled: true},
		Sampler: Sampler{Enabled: true},
		Observability: Observability{
			EnableMetrics: true,
		},
	}
	applyDefaults(cfg)
	normalize(cfg)
	return cfg
}
