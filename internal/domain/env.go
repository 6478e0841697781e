package domain

import (
	"os"
	"strconv"
	"time"
)

// ConfigFromEnv builds the configuration from environment variables layered
// over the tier defaults. KESTREL_TIER=pro selects the pro defaults
// (postgres, redis, NATS); everything else falls back to the community tier.
func ConfigFromEnv() *Config {
	var cfg *Config
	if os.Getenv("KESTREL_TIER") == string(TierPro) {
		cfg = ProConfig()
	} else {
		cfg = DefaultConfig()
	}

	cfg.Server.Host = envStr("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = envInt("KESTREL_PORT", cfg.Server.Port)

	cfg.Repository.Driver = envStr("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = envStr("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = envStr("KESTREL_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = envInt("KESTREL_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = envStr("KESTREL_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = envStr("KESTREL_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = envStr("KESTREL_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = envStr("KESTREL_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = envStr("KESTREL_CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = envStr("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = envStr("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = envInt("KESTREL_REDIS_DB", cfg.Cache.RedisDB)

	cfg.EventBus.Type = envStr("KESTREL_BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = envStr("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = envStr("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Decision.BlockThreshold = envFloat("KESTREL_BLOCK_THRESHOLD", cfg.Decision.BlockThreshold)
	cfg.Decision.ReviewThreshold = envFloat("KESTREL_REVIEW_THRESHOLD", cfg.Decision.ReviewThreshold)
	cfg.Decision.AlertOnReview = envBool("KESTREL_ALERT_ON_REVIEW", cfg.Decision.AlertOnReview)
	if days := envInt("KESTREL_HISTORY_WINDOW_DAYS", 0); days > 0 {
		cfg.Decision.HistoryWindow = time.Duration(days) * 24 * time.Hour
	}

	cfg.Verify.IdentityURL = envStr("KESTREL_IDENTITY_URL", cfg.Verify.IdentityURL)
	cfg.Verify.TaxRegistryURL = envStr("KESTREL_TAX_REGISTRY_URL", cfg.Verify.TaxRegistryURL)
	cfg.Verify.TimeoutSecs = envInt("KESTREL_VERIFY_TIMEOUT", cfg.Verify.TimeoutSecs)
	cfg.Verify.NameSimilarityThreshold = envInt("KESTREL_NAME_SIMILARITY", cfg.Verify.NameSimilarityThreshold)

	cfg.ML.Enabled = envBool("KESTREL_ML_ENABLED", cfg.ML.Enabled)
	cfg.ML.Endpoint = envStr("KESTREL_ML_ENDPOINT", cfg.ML.Endpoint)
	cfg.ML.TimeoutSecs = envInt("KESTREL_ML_TIMEOUT", cfg.ML.TimeoutSecs)

	cfg.Logging.Level = envStr("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envStr("KESTREL_LOG_FORMAT", cfg.Logging.Format)

	return cfg
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
