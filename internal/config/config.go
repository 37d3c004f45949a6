package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	VectorBackendMemory   = "memory"
	VectorBackendWeaviate = "weaviate"
)

type Config struct {
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"paperqa"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"paperqa"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"memory"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI         bool `envconfig:"ENABLE_API" default:"true"`
	EnableIndexWorker bool `envconfig:"ENABLE_INDEX_WORKER" default:"true"`

	// Models
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	GenerationModel string `envconfig:"GENERATION_MODEL" default:"gemini-2.0-flash"`

	// Paper search
	ArxivURL         string        `envconfig:"ARXIV_URL" default:"http://export.arxiv.org/api/query"`
	ArxivMinInterval time.Duration `envconfig:"ARXIV_MIN_INTERVAL" default:"3s"`

	// Outbound calls
	ExternalConcurrency int           `envconfig:"EXTERNAL_CONCURRENCY" default:"8"`
	ExternalTimeout     time.Duration `envconfig:"EXTERNAL_TIMEOUT" default:"30s"`
	ExternalMaxRetries  int           `envconfig:"EXTERNAL_MAX_RETRIES" default:"3"`
	IndexCacheSize      int           `envconfig:"INDEX_CACHE_SIZE" default:"128"`
	IndexBuildTimeout   time.Duration `envconfig:"INDEX_BUILD_TIMEOUT" default:"5m"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/qa.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Environment variables take precedence; a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	switch c.VectorBackend {
	case VectorBackendMemory:
	case VectorBackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}
	if c.ExternalConcurrency <= 0 {
		return fmt.Errorf("%w: EXTERNAL_CONCURRENCY must be positive", ErrInvalidValue)
	}
	if c.ExternalMaxRetries < 0 {
		return fmt.Errorf("%w: EXTERNAL_MAX_RETRIES must not be negative", ErrInvalidValue)
	}
	return nil
}
