package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for fleetql.
// Configuration can come from an optional YAML file (config.yaml) and from
// environment variables. Environment variables always override YAML values.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// RulesPath overrides the embedded domain rule set when non-empty.
	RulesPath string `yaml:"rules_path" env:"RULES_PATH" env-default:""`

	Database  DatabaseConfig  `yaml:"database"`
	Executor  ExecutorConfig  `yaml:"executor"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Geocoder  GeocoderConfig  `yaml:"geocoder"`
	Session   SessionConfig   `yaml:"session"`
	Retriever RetrieverConfig `yaml:"retriever"`
}

// DatabaseConfig holds the fleet PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DB_USER" env-default:"fleet"`
	Password string `yaml:"-" env:"DB_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DB_NAME" env-default:"fleet"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSLMODE" env-default:"disable"`

	// Schemas limits catalog introspection. Empty means every user schema.
	Schemas []string `yaml:"schemas" env:"DB_SCHEMAS" env-separator:","`

	MinConnections    int32         `yaml:"min_connections" env:"DB_MIN_CONNECTIONS" env-default:"5"`
	MaxConnections    int32         `yaml:"max_connections" env:"DB_MAX_CONNECTIONS" env-default:"50"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" env:"DB_CONNECTION_TIMEOUT" env-default:"10s"`
	StatementTimeout  time.Duration `yaml:"statement_timeout" env:"DB_STATEMENT_TIMEOUT" env-default:"30s"`

	// CleanupThreshold is the number of consecutive acquisition failures
	// after which the pool is drained and re-created.
	CleanupThreshold int `yaml:"cleanup_threshold" env:"DB_CLEANUP_THRESHOLD" env-default:"10"`
}

// ExecutorConfig holds retry and monitoring settings for query execution.
type ExecutorConfig struct {
	MaxRetries         int           `yaml:"max_retries" env:"EXEC_MAX_RETRIES" env-default:"3"`
	RetryBase          time.Duration `yaml:"retry_base" env:"EXEC_RETRY_BASE" env-default:"500ms"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" env:"EXEC_SLOW_QUERY" env-default:"2s"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold" env:"EXEC_ERROR_RATE" env-default:"0.10"`
	ErrorRateWindow    int           `yaml:"error_rate_window" env:"EXEC_ERROR_WINDOW" env-default:"100"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider       string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	APIKey         string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Model          string        `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	BaseURL        string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Timeout        time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"60s"`
	Temperature    float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	EmbeddingModel string        `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	// Embeddings enables the optional vector signal in table retrieval.
	Embeddings bool `yaml:"embeddings" env:"LLM_EMBEDDINGS" env-default:"false"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"CACHE_ENABLED" env-default:"true"`
	// URL selects a networked backend (redis://...). Empty means in-memory.
	URL         string        `yaml:"-" env:"CACHE_URL"` // May carry a password
	MasterTTL   time.Duration `yaml:"master_ttl" env:"CACHE_MASTER_TTL" env-default:"1h"`
	ReportTTL   time.Duration `yaml:"report_ttl" env:"CACHE_REPORT_TTL" env-default:"5m"`
	RealtimeTTL time.Duration `yaml:"realtime_ttl" env:"CACHE_REALTIME_TTL" env-default:"30s"`
	DefaultTTL  time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL" env-default:"10m"`
	Timeout     time.Duration `yaml:"timeout" env:"CACHE_TIMEOUT" env-default:"500ms"`
}

// GeocoderConfig configures reverse geocoding of location columns.
type GeocoderConfig struct {
	Enabled     bool          `yaml:"enabled" env:"GEOCODER_ENABLED" env-default:"true"`
	BaseURL     string        `yaml:"base_url" env:"GEOCODER_BASE_URL" env-default:"https://nominatim.openstreetmap.org"`
	APIKey      string        `yaml:"-" env:"GEOCODER_API_KEY"` // Secret - not in YAML
	UserAgent   string        `yaml:"user_agent" env:"GEOCODER_USER_AGENT" env-default:"fleetql"`
	MinInterval time.Duration `yaml:"min_interval" env:"GEOCODER_MIN_INTERVAL" env-default:"1s"`
	Timeout     time.Duration `yaml:"timeout" env:"GEOCODER_TIMEOUT" env-default:"5s"`
}

// SessionConfig configures per-session conversation memory.
type SessionConfig struct {
	MaxFrames int           `yaml:"max_frames" env:"SESSION_MAX_FRAMES" env-default:"5"`
	TTL       time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"2h"`
	// PersistPath enables durable frames in a badger directory.
	PersistPath string `yaml:"persist_path" env:"SESSION_PERSIST_PATH" env-default:""`
	// EncryptionKey seals persisted frames. Secret - not in YAML.
	EncryptionKey string `yaml:"-" env:"SESSION_ENCRYPTION_KEY"`
}

// RetrieverConfig configures schema retrieval.
type RetrieverConfig struct {
	TopK int `yaml:"top_k" env:"RETRIEVER_TOP_K" env-default:"8"`
}

// MinSessionFrames is the smallest result stack a session may keep.
const MinSessionFrames = 5

// Load reads configuration from config.yaml (when present) with environment
// variable overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit YAML path. A missing file is not an
// error; the environment alone is then authoritative.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.MinConnections < 0 || c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database connection bounds must be positive")
	}
	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("DB_MIN_CONNECTIONS (%d) exceeds DB_MAX_CONNECTIONS (%d)",
			c.Database.MinConnections, c.Database.MaxConnections)
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("EXEC_MAX_RETRIES must not be negative")
	}
	if c.Executor.ErrorRateThreshold <= 0 || c.Executor.ErrorRateThreshold > 1 {
		return fmt.Errorf("EXEC_ERROR_RATE must be in (0, 1]")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.Cache.URL != "" {
		if _, err := url.Parse(c.Cache.URL); err != nil {
			return fmt.Errorf("invalid CACHE_URL: %w", err)
		}
	}
	if c.Session.MaxFrames < MinSessionFrames {
		c.Session.MaxFrames = MinSessionFrames
	}
	if c.Retriever.TopK <= 0 {
		c.Retriever.TopK = 8
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal when running
// inside a container so the fleet database on the host stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
