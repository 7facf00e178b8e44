package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes TOML over the defaults, then applies env overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	ApplyEnvOverrides(cfg)
	applyDefaults(cfg)
	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Chain.Name) == "" {
		cfg.Chain.Name = "supra-mainnet"
	}
	if strings.TrimSpace(cfg.Chain.RPCV1URL) == "" {
		cfg.Chain.RPCV1URL = "https://rpc-mainnet.supra.com/rpc/v1"
	}
	if strings.TrimSpace(cfg.Chain.RPCV2URL) == "" {
		cfg.Chain.RPCV2URL = "https://rpc-mainnet.supra.com/rpc/v2"
	}
	if strings.TrimSpace(cfg.Chain.Preferred) == "" {
		cfg.Chain.Preferred = "v2"
	}
	if len(cfg.Chain.SystemAddresses) == 0 {
		cfg.Chain.SystemAddresses = []string{"0x1", "0x3", "0x4", "0xa"}
	}

	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 10 * time.Second
	}
	if cfg.HTTP.Retries <= 0 {
		cfg.HTTP.Retries = 2
	}
	if cfg.HTTP.Backoff <= 0 {
		cfg.HTTP.Backoff = 300 * time.Millisecond
	}
	if cfg.HTTP.Burst <= 0 {
		cfg.HTTP.Burst = 4
	}
	if strings.TrimSpace(cfg.HTTP.UserAgent) == "" {
		cfg.HTTP.UserAgent = "supravault"
	}

	if strings.TrimSpace(cfg.Indexer.Name) == "" {
		cfg.Indexer.Name = "indexer"
	}

	if cfg.Sampler.DefaultLimit <= 0 {
		cfg.Sampler.DefaultLimit = 50
	}
	if cfg.Pinning.Concurrency <= 0 {
		cfg.Pinning.Concurrency = 4
	}

	if strings.TrimSpace(cfg.DB.Driver) == "" {
		cfg.DB.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "data/supravault.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = "text"
	}
}

func normalize(cfg *Config) {
	cfg.Chain.Name = strings.TrimSpace(cfg.Chain.Name)
	cfg.Chain.RPCV1URL = strings.TrimRight(strings.TrimSpace(cfg.Chain.RPCV1URL), "/")
	cfg.Chain.RPCV2URL = strings.TrimRight(strings.TrimSpace(cfg.Chain.RPCV2URL), "/")
	cfg.Chain.Preferred = strings.ToLower(strings.TrimSpace(cfg.Chain.Preferred))
	cfg.Chain.SystemAddresses = trimAll(cfg.Chain.SystemAddresses)

	cfg.Indexer.URL = strings.TrimSpace(cfg.Indexer.URL)
	cfg.Indexer.Name = strings.TrimSpace(cfg.Indexer.Name)

	cfg.Inventory.ExcludeModules = trimAll(cfg.Inventory.ExcludeModules)
	cfg.Inventory.ProbeNames = trimAll(cfg.Inventory.ProbeNames)
	cfg.Sampler.ProbeAddressesFile = strings.TrimSpace(cfg.Sampler.ProbeAddressesFile)

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.DB.Path = strings.TrimSpace(cfg.DB.Path)
	cfg.Observability.Address = strings.TrimSpace(cfg.Observability.Address)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
