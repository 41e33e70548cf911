package config

import (
	"errors"
	"time"
)

// Config represents the chat cache service configuration
type Config struct {
	Conversation ConversationConfig `mapstructure:"conversation"`
	Batcher      BatcherConfig      `mapstructure:"batcher"`
	Prefetch     PrefetchConfig     `mapstructure:"prefetch"`
	Loader       LoaderConfig       `mapstructure:"loader"`
	Store        StoreConfig        `mapstructure:"store"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ConversationConfig configures the per-conversation TTL+LRU cache
type ConversationConfig struct {
	MaxConversations           int           `mapstructure:"max_conversations"`
	ConversationTTL            time.Duration `mapstructure:"conversation_ttl"`
	MaxMessagesPerConversation int           `mapstructure:"max_messages_per_conversation"`
	MaxMessageBytes            int           `mapstructure:"max_message_bytes"`
	SweepInterval              time.Duration `mapstructure:"sweep_interval"`
}

// BatcherConfig configures the query batching layer
type BatcherConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	BatchMaxWait       time.Duration `mapstructure:"batch_max_wait"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// PrefetchConfig configures the predictive prefetcher
type PrefetchConfig struct {
	PatternAnalysisDepth       int           `mapstructure:"pattern_analysis_depth"`
	PredictionConfidenceCutoff float64       `mapstructure:"prediction_confidence_cutoff"`
	MaxPredictiveCache         int           `mapstructure:"max_predictive_cache"`
	MaxPrefetchQueries         int           `mapstructure:"max_prefetch_queries"`
	PredictiveTTL              time.Duration `mapstructure:"predictive_ttl"`
	PatternMaxAge              time.Duration `mapstructure:"pattern_max_age"`
	ConfidenceFloor            float64       `mapstructure:"confidence_floor"`
	MaintenanceInterval        time.Duration `mapstructure:"maintenance_interval"`
	IssueRatePerSecond         float64       `mapstructure:"issue_rate_per_second"`
	Workers                    int           `mapstructure:"workers"`
	QueueSize                  int           `mapstructure:"queue_size"`
}

// LoaderConfig configures the paginated lazy history loader
type LoaderConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	MaxBatches    int `mapstructure:"max_batches"`
	LoadThreshold int `mapstructure:"load_threshold"`
	PageCacheSize int `mapstructure:"page_cache_size"`
}

// StoreConfig configures the durable history store backend
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	SeedFile string         `mapstructure:"seed_file"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig represents the Redis history store configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PostgresConfig represents the PostgreSQL history store configuration
type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// AdminConfig represents the admin HTTP API configuration
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Conversation: ConversationConfig{
			MaxConversations:           100,
			ConversationTTL:            30 * time.Minute,
			MaxMessagesPerConversation: 50,
			MaxMessageBytes:            8192,
			SweepInterval:              5 * time.Minute,
		},
		Batcher: BatcherConfig{
			BatchSize:          10,
			BatchTimeout:       50 * time.Millisecond,
			BatchMaxWait:       500 * time.Millisecond,
			QueryTimeout:       5 * time.Second,
			CacheTTL:           2 * time.Minute,
			SlowQueryThreshold: time.Second,
		},
		Prefetch: PrefetchConfig{
			PatternAnalysisDepth:       20,
			PredictionConfidenceCutoff: 0.6,
			MaxPredictiveCache:         200,
			MaxPrefetchQueries:         3,
			PredictiveTTL:              time.Minute,
			PatternMaxAge:              24 * time.Hour,
			ConfidenceFloor:            0.2,
			MaintenanceInterval:        5 * time.Minute,
			IssueRatePerSecond:         10,
			Workers:                    4,
			QueueSize:                  64,
		},
		Loader: LoaderConfig{
			BatchSize:     20,
			MaxBatches:    10,
			LoadThreshold: 5,
			PageCacheSize: 100,
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Host:     "localhost",
				Port:     6379,
				PoolSize: 10,
			},
			Postgres: PostgresConfig{
				Host:           "localhost",
				Port:           5432,
				Database:       "taskhive",
				User:           "taskhive",
				MaxConnections: 10,
				MinConnections: 2,
			},
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Conversation.MaxConversations <= 0 {
		return errors.New("conversation.max_conversations must be positive")
	}
	if c.Conversation.ConversationTTL <= 0 {
		return errors.New("conversation.conversation_ttl must be positive")
	}
	if c.Conversation.MaxMessagesPerConversation <= 0 {
		return errors.New("conversation.max_messages_per_conversation must be positive")
	}
	if c.Batcher.BatchSize <= 0 {
		return errors.New("batcher.batch_size must be positive")
	}
	if c.Batcher.BatchTimeout <= 0 {
		return errors.New("batcher.batch_timeout must be positive")
	}
	if c.Batcher.BatchMaxWait < c.Batcher.BatchTimeout {
		return errors.New("batcher.batch_max_wait must be at least batcher.batch_timeout")
	}
	if c.Batcher.QueryTimeout <= 0 {
		return errors.New("batcher.query_timeout must be positive")
	}
	if c.Prefetch.PatternAnalysisDepth < 2 {
		return errors.New("prefetch.pattern_analysis_depth must be at least 2")
	}
	if c.Prefetch.PredictionConfidenceCutoff < 0 || c.Prefetch.PredictionConfidenceCutoff > 1 {
		return errors.New("prefetch.prediction_confidence_cutoff must be between 0 and 1")
	}
	if c.Prefetch.MaxPredictiveCache <= 0 {
		return errors.New("prefetch.max_predictive_cache must be positive")
	}
	if c.Prefetch.MaxPrefetchQueries <= 0 {
		return errors.New("prefetch.max_prefetch_queries must be positive")
	}
	if c.Loader.BatchSize <= 0 {
		return errors.New("loader.batch_size must be positive")
	}
	if c.Loader.MaxBatches <= 0 {
		return errors.New("loader.max_batches must be positive")
	}
	if c.Loader.PageCacheSize < c.Loader.BatchSize {
		return errors.New("loader.page_cache_size must be at least loader.batch_size")
	}
	switch c.Store.Backend {
	case "memory", "redis", "postgres":
	default:
		return errors.New("store.backend must be one of: memory, redis, postgres")
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Host == "" {
		return errors.New("store.redis.host is required")
	}
	if c.Store.Backend == "postgres" {
		if c.Store.Postgres.Host == "" {
			return errors.New("store.postgres.host is required")
		}
		if c.Store.Postgres.Database == "" {
			return errors.New("store.postgres.database is required")
		}
		if c.Store.Postgres.User == "" {
			return errors.New("store.postgres.user is required")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !isValidLogLevel(c.Logging.Level) {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
