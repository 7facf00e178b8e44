package config

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/gobwas/glob"
)

var hexAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)

// Validate runs every section validator in declaration order.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateVersion,
		validateChain,
		validateHTTP,
		validateIndexer,
		validateInventory,
		validateSampler,
		validateDatabase,
		validateObservability,
		validateLogging,
	}
	for _, v := range validators {
		if err := v(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateChain(cfg *Config) error {
	if err := validateHTTPURL("chain.rpc_v1_url", cfg.Chain.RPCV1URL); err != nil {
		return err
	}
	if err := validateHTTPURL("chain.rpc_v2_url", cfg.Chain.RPCV2URL); err != nil {
		return err
	}
	switch cfg.Chain.Preferred {
	case "v1", "v2":
	default:
		return fmt.Errorf("chain.preferred must be one of: v1, v2")
	}
	for i, addr := range cfg.Chain.SystemAddresses {
		if !hexAddressRe.MatchString(addr) {
			return fmt.Errorf("chain.system_addresses[%d] %q is not a hex address", i, addr)
		}
	}
	return nil
}

func validateHTTP(cfg *Config) error {
	if cfg.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if cfg.HTTP.Retries < 0 || cfg.HTTP.Retries > 10 {
		return fmt.Errorf("http.retries must be between 0 and 10, got %d", cfg.HTTP.Retries)
	}
	if cfg.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0")
	}
	return nil
}

func validateIndexer(cfg *Config) error {
	if !cfg.Indexer.Enabled {
		return nil
	}
	if cfg.Indexer.URL == "" {
		return fmt.Errorf("indexer.url must not be empty when indexer.enabled=true")
	}
	return validateHTTPURL("indexer.url", cfg.Indexer.URL)
}

func validateInventory(cfg *Config) error {
	for i, pattern := range cfg.Inventory.ExcludeModules {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("inventory.exclude_modules[%d] %q: %w", i, pattern, err)
		}
	}
	seen := make(map[string]bool, len(cfg.Inventory.ProbeNames))
	for _, name := range cfg.Inventory.ProbeNames {
		if seen[name] {
			return fmt.Errorf("inventory.probe_names repeats %q", name)
		}
		seen[name] = true
	}
	return nil
}

func validateSampler(cfg *Config) error {
	if cfg.Sampler.DefaultLimit < 1 || cfg.Sampler.DefaultLimit > 1000 {
		return fmt.Errorf("sampler.default_limit must be between 1 and 1000, got %d", cfg.Sampler.DefaultLimit)
	}
	if cfg.Pinning.Concurrency < 1 {
		return fmt.Errorf("pinning.concurrency must be >= 1")
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Driver != "sqlite" {
		return fmt.Errorf("db.driver must be sqlite, got %q", cfg.DB.Driver)
	}
	if cfg.DB.Enabled && cfg.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if cfg.Observability.Enabled && cfg.Observability.Address == "" {
		return fmt.Errorf("observability.address must not be empty when observability.enabled=true")
	}
	if cfg.Observability.EnableTracing && cfg.Observability.OTLPEndpoint == "" {
		return fmt.Errorf("observability.otlp_endpoint must be set when observability.enable_tracing=true")
	}
	return nil
}

func validateLogging(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of: text, json")
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}
