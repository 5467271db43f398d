// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, Analytics, etc.).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Retrieval-Platform/pkg/errors"
)

const envPrefix = "DQ_"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
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
	DocumentIngest  string `yaml:"documentIngest"`
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls how document text is split into chunks.
type IndexerConfig struct {
	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`
}

// SearchConfig controls ranking parameters, result limits, and timeouts.
type SearchConfig struct {
	DefaultTopN       int           `yaml:"defaultTopN"`
	MaxResults        int           `yaml:"maxResults"`
	K1                float64       `yaml:"k1"`
	B                 float64       `yaml:"b"`
	ParallelThreshold int           `yaml:"parallelThreshold"`
	RankTimeout       time.Duration `yaml:"rankTimeout"`
}

// AnalyticsConfig controls the analytics collector and snapshotting.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	// SnapshotRetention is how many snapshots are kept; 0 keeps all.
	SnapshotRetention int `yaml:"snapshotRetention"`
}

// GatewayConfig holds the backend URLs the gateway proxies to and its
// per-client request budget.
type GatewayConfig struct {
	Port              int      `yaml:"port"`
	IngestionURL      string   `yaml:"ingestionURL"`
	SearcherURL       string   `yaml:"searcherURL"`
	AnalyticsURL      string   `yaml:"analyticsURL"`
	RequestsPerMinute int      `yaml:"requestsPerMinute"`
	AllowOrigins      []string `yaml:"allowOrigins"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values. The result is validated before it is returned.
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

// Validate rejects chunking and ranking settings the retrieval core cannot
// work with.
func (c *Config) Validate() error {
	if c.Indexer.ChunkSize <= 0 {
		return fmt.Errorf("%w: indexer.chunkSize must be positive, got %d", apperrors.ErrInvalidConfiguration, c.Indexer.ChunkSize)
	}
	if c.Indexer.ChunkOverlap < 0 || c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("%w: indexer.chunkOverlap must be within [0, %d), got %d",
			apperrors.ErrInvalidConfiguration, c.Indexer.ChunkSize, c.Indexer.ChunkOverlap)
	}
	if c.Search.K1 < 0 || math.IsNaN(c.Search.K1) || math.IsInf(c.Search.K1, 0) {
		return fmt.Errorf("%w: search.k1 must be a non-negative number, got %v", apperrors.ErrInvalidConfiguration, c.Search.K1)
	}
	if c.Search.B < 0 || c.Search.B > 1 || math.IsNaN(c.Search.B) {
		return fmt.Errorf("%w: search.b must be within [0, 1], got %v", apperrors.ErrInvalidConfiguration, c.Search.B)
	}
	if c.Search.DefaultTopN <= 0 {
		return fmt.Errorf("%w: search.defaultTopN must be positive, got %d", apperrors.ErrInvalidConfiguration, c.Search.DefaultTopN)
	}
	if c.Search.MaxResults < c.Search.DefaultTopN {
		return fmt.Errorf("%w: search.maxResults (%d) is below search.defaultTopN (%d)",
			apperrors.ErrInvalidConfiguration, c.Search.MaxResults, c.Search.DefaultTopN)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docqa",
			User:            "docqa",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docqa-group",
			Topics: KafkaTopics{
				DocumentIngest:  "document-ingest",
				IndexComplete:   "index.complete",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Indexer: IndexerConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
		},
		Search: SearchConfig{
			DefaultTopN:       3,
			MaxResults:        50,
			K1:                1.2,
			B:                 0.75,
			ParallelThreshold: 4096,
			RankTimeout:       2 * time.Second,
		},
		Analytics: AnalyticsConfig{
			BufferSize:        10000,
			SnapshotInterval:  time.Minute,
			SnapshotRetention: 1440,
		},
		Gateway: GatewayConfig{
			Port:              8080,
			IngestionURL:      "http://localhost:8081",
			SearcherURL:       "http://localhost:8082",
			AnalyticsURL:      "http://localhost:8084",
			RequestsPerMinute: 600,
			AllowOrigins:      []string{"*"},
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

// applyEnvOverrides reads DQ_* environment variables and overrides the
// corresponding config fields. Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setString(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setString(&cfg.Postgres.User, "POSTGRES_USER")
	setString(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Postgres.SSLMode, "POSTGRES_SSLMODE")
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString(&cfg.Kafka.ConsumerGroup, "KAFKA_CONSUMER_GROUP")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setDuration(&cfg.Redis.CacheTTL, "REDIS_CACHE_TTL")
	setInt(&cfg.Indexer.ChunkSize, "INDEXER_CHUNK_SIZE")
	setInt(&cfg.Indexer.ChunkOverlap, "INDEXER_CHUNK_OVERLAP")
	setInt(&cfg.Search.DefaultTopN, "SEARCH_DEFAULT_TOP_N")
	setInt(&cfg.Search.MaxResults, "SEARCH_MAX_RESULTS")
	setFloat(&cfg.Search.K1, "SEARCH_K1")
	setFloat(&cfg.Search.B, "SEARCH_B")
	setDuration(&cfg.Search.RankTimeout, "SEARCH_RANK_TIMEOUT")
	setDuration(&cfg.Analytics.SnapshotInterval, "ANALYTICS_SNAPSHOT_INTERVAL")
	setInt(&cfg.Analytics.SnapshotRetention, "ANALYTICS_SNAPSHOT_RETENTION")
	setInt(&cfg.Gateway.Port, "GATEWAY_PORT")
	setString(&cfg.Gateway.IngestionURL, "GATEWAY_INGESTION_URL")
	setString(&cfg.Gateway.SearcherURL, "GATEWAY_SEARCHER_URL")
	setString(&cfg.Gateway.AnalyticsURL, "GATEWAY_ANALYTICS_URL")
	setInt(&cfg.Gateway.RequestsPerMinute, "GATEWAY_REQUESTS_PER_MINUTE")
	setString(&cfg.Logging.Level, "LOGGING_LEVEL")
	setString(&cfg.Logging.Format, "LOGGING_FORMAT")
	setInt(&cfg.Metrics.Port, "METRICS_PORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
