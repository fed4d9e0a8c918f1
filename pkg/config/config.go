// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Search, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests per minute allowed per client IP;
	// zero disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// IndexConfig locates the on-disk index and controls how it is opened.
type IndexConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
	ReadOnly    bool          `yaml:"readOnly"`
}

// IndexerConfig controls how documents are batched before a commit.
type IndexerConfig struct {
	PrimaryKey     string        `yaml:"primaryKey"`
	Searchable     []string      `yaml:"searchableFields"`
	Exact          []string      `yaml:"exactAttributes"`
	Sortable       []string      `yaml:"sortableFields"`
	Criteria       []string      `yaml:"criteria"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	FlushBatchSize int           `yaml:"flushBatchSize"`
}

// SearchConfig controls query execution limits, timeouts and the geo sort
// strategy.
type SearchConfig struct {
	DefaultLimit      int           `yaml:"defaultLimit"`
	MaxResults        int           `yaml:"maxResults"`
	Timeout           time.Duration `yaml:"timeout"`
	GeoStrategy       string        `yaml:"geoStrategy"` // dynamic, iterative or rtree
	GeoStrategyValue  int           `yaml:"geoStrategyValue"`
	MinWordLenOneTypo int           `yaml:"minWordLenOneTypo"`
	MinWordLenTwoTypo int           `yaml:"minWordLenTwoTypo"`
	DebugLogger       bool          `yaml:"debugLogger"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents string `yaml:"searchEvents"`
	Documents    string `yaml:"documents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls the search-event pipeline.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled"`
	BufferSize       int           `yaml:"bufferSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`

	// SnapshotRetention is how long persisted snapshots are kept; zero keeps
	// them forever.
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the search service cannot run with.
func (c *Config) Validate() error {
	if c.Index.Path == "" {
		return fmt.Errorf("index.path must be set")
	}
	switch c.Search.GeoStrategy {
	case "dynamic", "iterative", "rtree":
	default:
		return fmt.Errorf("search.geoStrategy %q is not one of dynamic, iterative, rtree", c.Search.GeoStrategy)
	}
	if c.Search.GeoStrategyValue <= 0 {
		return fmt.Errorf("search.geoStrategyValue must be positive, got %d", c.Search.GeoStrategyValue)
	}
	if c.Indexer.FlushBatchSize <= 0 {
		return fmt.Errorf("indexer.flushBatchSize must be positive, got %d", c.Indexer.FlushBatchSize)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits are inconsistent: default=%d max=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with defaults suited to local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Index: IndexConfig{
			Path:        "data/index.db",
			OpenTimeout: 5 * time.Second,
			ReadOnly:    true,
		},
		Indexer: IndexerConfig{
			PrimaryKey:     "id",
			FlushInterval:  5 * time.Second,
			FlushBatchSize: 1000,
		},
		Search: SearchConfig{
			DefaultLimit:      20,
			MaxResults:        1000,
			Timeout:           2 * time.Second,
			GeoStrategy:       "dynamic",
			GeoStrategyValue:  1000,
			MinWordLenOneTypo: 5,
			MinWordLenTwoTypo: 9,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bucketsearch",
			User:            "bucketsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bucketsearch-analytics",
			Topics: KafkaTopics{
				SearchEvents: "search-events",
				Documents:    "documents",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Enabled:           true,
			BufferSize:        10000,
			SnapshotInterval:  time.Minute,
			SnapshotRetention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("SP_SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.Timeout = d
		}
	}
	if v := os.Getenv("SP_SEARCH_GEO_STRATEGY"); v != "" {
		cfg.Search.GeoStrategy = strings.ToLower(v)
	}
	if v := os.Getenv("SP_SEARCH_GEO_STRATEGY_VALUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.GeoStrategyValue = n
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
