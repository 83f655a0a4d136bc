// Package config provides configuration management for the research integrator.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "RESINT"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the research integrator.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Auth contains API key settings.
	Auth AuthConfig `mapstructure:"auth"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis contains Redis connection settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Storage selects the session and preferences backends.
	Storage StorageConfig `mapstructure:"storage"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains summarization backend settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Kafka contains activity event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Resilience contains retry policies for outbound calls.
	Resilience ResilienceConfig `mapstructure:"resilience"`
	// Search contains aggregation settings.
	Search SearchConfig `mapstructure:"search"`
	// Fetch contains paper fetch settings.
	Fetch CacheConfig `mapstructure:"fetch"`
	// Summary contains summary cache settings.
	Summary CacheConfig `mapstructure:"summary"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSAllowedOrigins lists the origins allowed by CORS ("*" for any).
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// AuthConfig holds API key settings.
type AuthConfig struct {
	// APIKeys is the accepted bearer keys (loaded from RESINT_AUTH_API_KEYS,
	// comma-separated). When empty any non-empty key is accepted.
	APIKeys []string `mapstructure:"-"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from RESINT_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	// URL is the redis:// URL (loaded from RESINT_REDIS_URL).
	URL string `mapstructure:"-"`
	// KeyPrefix namespaces session keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StorageConfig selects backends.
type StorageConfig struct {
	// Sessions is "memory" or "redis".
	Sessions string `mapstructure:"sessions"`
	// Preferences is "memory" or "postgres".
	Preferences string `mapstructure:"preferences"`
	// SessionTTL is how long a session context lives after its last write.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// LLMConfig holds summarization backend configuration.
type LLMConfig struct {
	// Provider is the LLM provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout bounds a single HTTP exchange with the provider.
	Timeout time.Duration `mapstructure:"timeout"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// RateLimit is the maximum requests per second to the provider.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds settings for one LLM provider.
type ProviderConfig struct {
	// APIKey is loaded from RESINT_LLM_<PROVIDER>_API_KEY.
	APIKey string `mapstructure:"-"`
	// Model is the model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// Active returns the settings of the configured provider.
func (c *LLMConfig) Active() ProviderConfig {
	if strings.EqualFold(c.Provider, "anthropic") {
		return c.Anthropic
	}
	return c.OpenAI
}

// KafkaConfig holds activity event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether events are published to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic for activity events.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PaperSourcesConfig holds configuration for all paper source APIs.
type PaperSourcesConfig struct {
	// PubMed contains PubMed E-utilities settings.
	PubMed PaperSourceConfig `mapstructure:"pubmed"`
	// ArXiv contains arXiv API settings.
	ArXiv PaperSourceConfig `mapstructure:"arxiv"`
	// OpenAlex backs the "other" source.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// Enabled controls whether this source is registered.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from RESINT_PAPER_SOURCES_<SOURCE>_API_KEY.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the transport timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
	// Email is a contact address some APIs use for polite-pool routing.
	Email string `mapstructure:"email"`
}

// ResilienceConfig holds the two retry profiles.
type ResilienceConfig struct {
	Sources RetryPolicyConfig `mapstructure:"sources"`
	LLM     RetryPolicyConfig `mapstructure:"llm"`
}

// RetryPolicyConfig mirrors resilience.Policy.
type RetryPolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// SearchConfig holds aggregation settings.
type SearchConfig struct {
	// Timeout bounds the whole fan-out of one search.
	Timeout time.Duration `mapstructure:"timeout"`
	// CacheTTL is how long a merged result pool is reused.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// CacheCapacity is the maximum number of cached pools.
	CacheCapacity int `mapstructure:"cache_capacity"`
	// AuthorThreshold is the author overlap needed to merge same-title papers.
	AuthorThreshold float64 `mapstructure:"author_threshold"`
}

// CacheConfig holds the settings of one result cache.
type CacheConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-integrator")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come only from the environment; their fields are tagged
	// mapstructure:"-" so config files cannot set them.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadSecrets(cfg *Config) {
	cfg.Auth.APIKeys = splitList(os.Getenv(EnvPrefix + "_AUTH_API_KEYS"))
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.Redis.URL = os.Getenv(EnvPrefix + "_REDIS_URL")

	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")

	cfg.PaperSources.PubMed.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_PUBMED_API_KEY")
	cfg.PaperSources.ArXiv.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_ARXIV_API_KEY")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "resint")
	v.SetDefault("database.name", "research_integrator")
	// Use RESINT_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Redis defaults
	v.SetDefault("redis.key_prefix", "resint:session:")

	// Storage defaults
	v.SetDefault("storage.sessions", BackendMemory)
	v.SetDefault("storage.preferences", BackendMemory)
	v.SetDefault("storage.session_ttl", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.rate_limit", 2.0)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.research_integrator.activity")
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Paper sources defaults - PubMed
	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "30s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("paper_sources.pubmed.burst", 3)
	v.SetDefault("paper_sources.pubmed.max_results", 100)

	// Paper sources defaults - arXiv
	v.SetDefault("paper_sources.arxiv.enabled", true)
	v.SetDefault("paper_sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("paper_sources.arxiv.timeout", "30s")
	v.SetDefault("paper_sources.arxiv.rate_limit", 0.33) // arXiv asks for one request every 3 seconds
	v.SetDefault("paper_sources.arxiv.burst", 1)
	v.SetDefault("paper_sources.arxiv.max_results", 100)

	// Paper sources defaults - OpenAlex ("other")
	v.SetDefault("paper_sources.openalex.enabled", false)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.burst", 5)
	v.SetDefault("paper_sources.openalex.max_results", 100)
	v.SetDefault("paper_sources.openalex.email", "")

	// Retry profiles
	v.SetDefault("resilience.sources.max_attempts", 3)
	v.SetDefault("resilience.sources.base_delay", "500ms")
	v.SetDefault("resilience.sources.max_delay", "8s")
	v.SetDefault("resilience.sources.call_timeout", "10s")
	v.SetDefault("resilience.llm.max_attempts", 2)
	v.SetDefault("resilience.llm.base_delay", "1s")
	v.SetDefault("resilience.llm.max_delay", "10s")
	v.SetDefault("resilience.llm.call_timeout", "60s")

	// Caches
	v.SetDefault("search.timeout", "20s")
	v.SetDefault("search.cache_ttl", "5m")
	v.SetDefault("search.cache_capacity", 1024)
	v.SetDefault("search.author_threshold", 0.5)
	v.SetDefault("fetch.cache_ttl", "1h")
	v.SetDefault("fetch.cache_capacity", 4096)
	v.SetDefault("summary.cache_ttl", "24h")
	v.SetDefault("summary.cache_capacity", 1024)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Metrics.Enabled && c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("metrics port must differ from HTTP port (%d)", c.Server.HTTPPort)
	}

	switch c.Storage.Sessions {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("session storage %q requires %s_REDIS_URL to be set", BackendRedis, EnvPrefix)
		}
	default:
		return fmt.Errorf("invalid session storage: %q", c.Storage.Sessions)
	}
	switch c.Storage.Preferences {
	case BackendMemory:
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid preferences storage: %q", c.Storage.Preferences)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	if !c.PaperSources.PubMed.Enabled && !c.PaperSources.ArXiv.Enabled && !c.PaperSources.OpenAlex.Enabled {
		return fmt.Errorf("at least one paper source must be enabled")
	}

	if c.Resilience.Sources.MaxAttempts < 1 || c.Resilience.LLM.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Search.AuthorThreshold < 0 || c.Search.AuthorThreshold > 1 {
		return fmt.Errorf("search author_threshold must be between 0 and 1")
	}

	return nil
}

func (c *DatabaseConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}
	if c.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}
