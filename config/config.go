package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string

	Server     ServerConfig
	Database   DatabaseConfig
	Encryption EncryptionConfig
	Provider   ProviderConfig
	Usage      UsageConfig

	// CircuitBreaker configures the breakers guarding upstream providers
	CircuitBreaker CircuitBreakerConfig

	Logging LoggingConfig
	HTTP    HTTPConfig
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Host                   string
	Port                   int
	MaxRequestBodyMB       int
	ShutdownTimeoutSeconds int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL     string
	Migrate bool
}

// EncryptionConfig holds the vault key material
type EncryptionConfig struct {
	Key          string
	KeyID        string
	PreviousKeys map[string]string
}

// ProviderConfig holds upstream provider configuration
type ProviderConfig struct {
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	EnvFallback    bool
	TimeoutSeconds int
}

// UsageConfig tunes the background usage writer
type UsageConfig struct {
	QueueSize           int
	Workers             int
	MaxRetries          int
	WriteTimeoutSeconds int
}

// CircuitBreakerConfig holds breaker tuning
type CircuitBreakerConfig struct {
	MaxRequests     int
	IntervalSeconds int
	TimeoutSeconds  int
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Format string // text or json
	Level  string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	CORSAllowedOrigins string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	previous, err := parseKeyList(os.Getenv("ENCRYPTION_PREVIOUS_KEYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnvString("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:                   getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:                   getEnvInt("SERVER_PORT", 3001),
			MaxRequestBodyMB:       getEnvInt("MAX_REQUEST_BODY_MB", 100),
			ShutdownTimeoutSeconds: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		},
		Database: DatabaseConfig{
			URL:     os.Getenv("DATABASE_URL"),
			Migrate: getEnvBool("DATABASE_MIGRATE", true),
		},
		Encryption: EncryptionConfig{
			Key:          getEnvString("ENCRYPTION_KEY", os.Getenv("LLM_HUB_ENCRYPTION_KEY")),
			KeyID:        os.Getenv("ENCRYPTION_KEY_ID"),
			PreviousKeys: previous,
		},
		Provider: ProviderConfig{
			OpenAIBaseURL:  strings.TrimRight(getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
			EnvFallback:    getEnvBool("PROVIDER_ENV_FALLBACK", false),
			TimeoutSeconds: getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120),
		},
		Usage: UsageConfig{
			QueueSize:           getEnvInt("USAGE_QUEUE_SIZE", 1024),
			Workers:             getEnvInt("USAGE_WORKERS", 2),
			MaxRetries:          getEnvIntAllowZero("USAGE_MAX_RETRIES", 3),
			WriteTimeoutSeconds: getEnvInt("USAGE_WRITE_TIMEOUT_SECONDS", 10),
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:     getEnvInt("CIRCUIT_BREAKER_MAX_REQUESTS", 5),
			IntervalSeconds: getEnvInt("CIRCUIT_BREAKER_INTERVAL_SECONDS", 60),
			TimeoutSeconds:  getEnvInt("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30),
		},
		Logging: LoggingConfig{
			Format: strings.ToLower(getEnvString("LOG_FORMAT", "text")),
			Level:  strings.ToLower(getEnvString("LOG_LEVEL", "info")),
		},
		HTTP: HTTPConfig{
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxRequestBodyMB <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_MB must be positive, got %d", c.Server.MaxRequestBodyMB)
	}
	if c.Usage.QueueSize <= 0 {
		return fmt.Errorf("USAGE_QUEUE_SIZE must be positive, got %d", c.Usage.QueueSize)
	}
	if c.Usage.Workers <= 0 {
		return fmt.Errorf("USAGE_WORKERS must be positive, got %d", c.Usage.Workers)
	}
	if c.Usage.MaxRetries > 10 {
		return fmt.Errorf("USAGE_MAX_RETRIES must be at most 10, got %d", c.Usage.MaxRetries)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Logging.Format)
	}
	if c.Provider.EnvFallback && c.Provider.OpenAIAPIKey == "" {
		return fmt.Errorf("PROVIDER_ENV_FALLBACK requires OPENAI_API_KEY")
	}
	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxRequestBodyBytes returns the body ceiling in bytes
func (c *Config) MaxRequestBodyBytes() int64 {
	return int64(c.Server.MaxRequestBodyMB) * 1024 * 1024
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

func (c *Config) UsageWriteTimeout() time.Duration {
	return time.Duration(c.Usage.WriteTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// parseKeyList parses "id=base64,id2=base64" into a map
func parseKeyList(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return keys, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, key, ok := strings.Cut(entry, "=")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("ENCRYPTION_PREVIOUS_KEYS entry %q must be id=key", entry)
		}
		keys[strings.TrimSpace(id)] = strings.TrimSpace(key)
	}
	return keys, nil
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntAllowZero(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Environment: "test",
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   3001,
			MaxRequestBodyMB:       100,
			ShutdownTimeoutSeconds: 5,
		},
		Database: DatabaseConfig{
			URL: "",
		},
		Encryption: EncryptionConfig{
			// 32 zero bytes, base64
			Key:          "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
			PreviousKeys: map[string]string{},
		},
		Provider: ProviderConfig{
			OpenAIBaseURL:  "https://api.openai.com/v1",
			TimeoutSeconds: 30,
		},
		Usage: UsageConfig{
			QueueSize:           64,
			Workers:             1,
			MaxRetries:          1,
			WriteTimeoutSeconds: 2,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:     5,
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			CORSAllowedOrigins: "*",
		},
	}
}
