package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: SUPRAVAULT_[SECTION]_[KEY] (e.g., SUPRAVAULT_HTTP_TIMEOUT).
func ApplyEnvOverrides(cfg *Config) {
	// Chain
	setEnvString(&cfg.Chain.RPCV1URL, "SUPRAVAULT_CHAIN_RPC_V1_URL")
	setEnvString(&cfg.Chain.RPCV2URL, "SUPRAVAULT_CHAIN_RPC_V2_URL")
	setEnvString(&cfg.Chain.Preferred, "SUPRAVAULT_CHAIN_PREFERRED")
	setEnvList(&cfg.Chain.SystemAddresses, "SUPRAVAULT_CHAIN_SYSTEM_ADDRESSES")

	// HTTP
	setEnvDuration(&cfg.HTTP.Timeout, "SUPRAVAULT_HTTP_TIMEOUT")
	setEnvInt(&cfg.HTTP.Retries, "SUPRAVAULT_HTTP_RETRIES")
	setEnvDuration(&cfg.HTTP.Backoff, "SUPRAVAULT_HTTP_BACKOFF")
	setEnvFloat64(&cfg.HTTP.RateLimit, "SUPRAVAULT_HTTP_RATE_LIMIT")
	setEnvInt(&cfg.HTTP.Burst, "SUPRAVAULT_HTTP_BURST")

	// Indexer
	setEnvBool(&cfg.Indexer.Enabled, "SUPRAVAULT_INDEXER_ENABLED")
	setEnvString(&cfg.Indexer.URL, "SUPRAVAULT_INDEXER_URL")

	// Sampler
	setEnvBool(&cfg.Sampler.Enabled, "SUPRAVAULT_SAMPLER_ENABLED")
	setEnvInt(&cfg.Sampler.DefaultLimit, "SUPRAVAULT_SAMPLER_DEFAULT_LIMIT")
	setEnvString(&cfg.Sampler.ProbeAddressesFile, "SUPRAVAULT_SAMPLER_PROBE_ADDRESSES_FILE")

	setEnvInt(&cfg.Pinning.Concurrency, "SUPRAVAULT_PINNING_CONCURRENCY")

	// Database
	setEnvBool(&cfg.DB.Enabled, "SUPRAVAULT_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "SUPRAVAULT_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "SUPRAVAULT_DB_BUSY_TIMEOUT")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "SUPRAVAULT_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "SUPRAVAULT_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "SUPRAVAULT_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "SUPRAVAULT_OBSERVABILITY_ENABLE_TRACING")
	setEnvBool(&cfg.Observability.EnableMetrics, "SUPRAVAULT_OBSERVABILITY_ENABLE_METRICS")

	setEnvString(&cfg.Logging.Level, "SUPRAVAULT_LOGGING_LEVEL")
	setEnvString(&cfg.Logging.Format, "SUPRAVAULT_LOGGING_FORMAT")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key)
		*target = val
	}
}

func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key)
		*target = strings.Split(val, ",")
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := cast.ToIntE(strings.TrimSpace(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", i)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := cast.ToBoolE(strings.ToLower(strings.TrimSpace(val))); err == nil {
			slog.Debug("applying env override", "key", key, "value", b)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := cast.ToFloat64E(strings.TrimSpace(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", f)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", d)
			*target = d
		}
	}
}
