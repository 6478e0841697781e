package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing-service choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Decisioning thresholds and policy
	Decision DecisionConfig `json:"decision"`

	// External verification adapters
	Verify VerifyConfig `json:"verify"`

	// Optional ML anomaly scorer
	ML MLConfig `json:"ml"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// DecisionConfig holds the score-to-outcome policy.
type DecisionConfig struct {
	// BlockThreshold: final score at or above it blocks.
	BlockThreshold float64 `json:"blockThreshold"`

	// ReviewThreshold: scores in [ReviewThreshold, BlockThreshold) go to review.
	ReviewThreshold float64 `json:"reviewThreshold"`

	// AlertOnReview controls whether a review outcome raises an alert, not
	// only a block. The source system left this open; it is configuration
	// here and defaults to true.
	AlertOnReview bool `json:"alertOnReview"`

	// HistoryWindow bounds the subject history fetched for evaluation.
	HistoryWindow time.Duration `json:"historyWindow"`
}

// VerifyConfig holds external verification adapter settings.
type VerifyConfig struct {
	IdentityURL    string `json:"identityUrl"`
	TaxRegistryURL string `json:"taxRegistryUrl"`

	// TimeoutSecs bounds each adapter call. Defaults to 30.
	TimeoutSecs int `json:"timeoutSecs"`

	// NameSimilarityThreshold on the 0-100 fuzzy scale. Defaults to 85.
	NameSimilarityThreshold int `json:"nameSimilarityThreshold"`

	// ResultTTL caches successful registry lookups.
	ResultTTL time.Duration `json:"resultTtl"`
}

// MLConfig holds the anomaly scorer settings.
type MLConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	TimeoutSecs int    `json:"timeoutSecs"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels.
	TierCommunity Tier = "community"

	// TierPro is the tier with PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Decision: DecisionConfig{
			BlockThreshold:  0.7,
			ReviewThreshold: 0.4,
			AlertOnReview:   true,
			HistoryWindow:   30 * 24 * time.Hour,
		},
		Verify: VerifyConfig{
			TimeoutSecs:             30,
			NameSimilarityThreshold: 85,
			ResultTTL:               10 * time.Minute,
		},
		ML: MLConfig{
			Enabled:     false,
			TimeoutSecs: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:         "redis",
		RedisAddr:    "localhost:6379",
		LocalMaxSize: 1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
