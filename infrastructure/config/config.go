package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	StateBucket   string
	EventBusName  string

	// Lambda configuration
	IsLambda bool

	// Redis configuration. An empty address disables the Redis-backed
	// cache and lock providers.
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	// Provider selection
	CacheProvider  string // "memory" or "redis"
	LockProvider   string // "dynamodb" or "redis"
	EventPublisher string // "direct", "outbox" or "disabled"

	// RateLimitPerMinute caps requests per canvas per minute. Zero disables
	// rate limiting.
	RateLimitPerMinute int

	// TuningFile is the yaml overlay holding hot-reloadable engine knobs.
	// A missing file leaves the defaults in place.
	TuningFile string

	// Tuning holds the engine knobs themselves
	Tuning Tuning

	// Logging
	LogLevel string

	// Observability
	EnableMetrics    bool
	EnableTracing    bool
	EnableCORS       bool
	OtelEndpoint     string
	MetricsNamespace string
}

// Tuning holds the engine knobs that can change without a redeploy: the
// lock retry schedule, the auto-collapse thresholds and the cache TTL.
type Tuning struct {
	Lock struct {
		MaxRetries     int `yaml:"maxRetries"`
		InitialDelayMs int `yaml:"initialDelayMs"`
		TTLSeconds     int `yaml:"ttlSeconds"`
	} `yaml:"lock"`

	Versioning struct {
		MaxTransactions int `yaml:"maxTransactions"`
		MaxAgeSeconds   int `yaml:"maxAgeSeconds"`
	} `yaml:"versioning"`

	Cache struct {
		TTLSeconds int `yaml:"ttlSeconds"`
	} `yaml:"cache"`
}

// defaultTuning returns the stock engine knobs
func defaultTuning() Tuning {
	var t Tuning
	t.Lock.MaxRetries = 10
	t.Lock.InitialDelayMs = 200
	t.Lock.TTLSeconds = 10
	t.Versioning.MaxTransactions = 20
	t.Versioning.MaxAgeSeconds = 300
	t.Cache.TTLSeconds = 3600
	return t
}

// LoadConfig loads configuration from environment variables, then applies
// the yaml tuning overlay when one is present.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "canvas")),
		StateBucket:   getEnv("STATE_BUCKET", "canvas-state"),
		EventBusName:  getEnv("EVENT_BUS_NAME", "canvas-events"),

		IsLambda: getEnvBool("IS_LAMBDA", false),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CacheProvider:  getEnv("CACHE_PROVIDER", "memory"),
		LockProvider:   getEnv("LOCK_PROVIDER", "dynamodb"),
		EventPublisher: getEnv("EVENT_PUBLISHER", "direct"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),

		TuningFile: getEnv("TUNING_FILE", "config/tuning.yaml"),
		Tuning:     defaultTuning(),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		EnableCORS:       getEnvBool("ENABLE_CORS", true),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "canvas"),
	}

	if err := cfg.loadTuningFile(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig for backwards compatibility
func Load() (*Config, error) {
	return LoadConfig()
}

// loadTuningFile overlays the yaml tuning file onto the defaults. A missing
// file is not an error.
func (c *Config) loadTuningFile() error {
	if c.TuningFile == "" {
		return nil
	}

	data, err := os.ReadFile(c.TuningFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tuning file %s: %w", c.TuningFile, err)
	}

	if err := yaml.Unmarshal(data, &c.Tuning); err != nil {
		return fmt.Errorf("failed to parse tuning file %s: %w", c.TuningFile, err)
	}

	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required")
		}
		if c.StateBucket == "" {
			return fmt.Errorf("STATE_BUCKET is required")
		}
		if c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}

	switch c.CacheProvider {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_PROVIDER must be \"memory\" or \"redis\", got %q", c.CacheProvider)
	}

	switch c.LockProvider {
	case "dynamodb", "redis":
	default:
		return fmt.Errorf("LOCK_PROVIDER must be \"dynamodb\" or \"redis\", got %q", c.LockProvider)
	}

	switch c.EventPublisher {
	case "direct", "outbox", "disabled":
	default:
		return fmt.Errorf("EVENT_PUBLISHER must be \"direct\", \"outbox\" or \"disabled\", got %q", c.EventPublisher)
	}

	if (c.CacheProvider == "redis" || c.LockProvider == "redis") && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when a redis provider is selected")
	}

	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}

	if c.Tuning.Lock.MaxRetries < 0 {
		return fmt.Errorf("lock.maxRetries must not be negative")
	}
	if c.Tuning.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttlSeconds must be positive")
	}
	if c.Tuning.Versioning.MaxTransactions <= 0 {
		return fmt.Errorf("versioning.maxTransactions must be positive")
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// LockInitialDelay returns the first backoff sleep as a duration
func (c *Config) LockInitialDelay() time.Duration {
	return time.Duration(c.Tuning.Lock.InitialDelayMs) * time.Millisecond
}

// LockTTL returns the lock marker expiry as a duration
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Tuning.Lock.TTLSeconds) * time.Second
}

// CacheTTL returns the cached snapshot expiry as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Tuning.Cache.TTLSeconds) * time.Second
}

// VersionMaxAge returns the auto-collapse age threshold as a duration
func (c *Config) VersionMaxAge() time.Duration {
	return time.Duration(c.Tuning.Versioning.MaxAgeSeconds) * time.Second
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
