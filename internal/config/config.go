package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the nodeai server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"NODEAI_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"NODEAI_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration; an empty address keeps runs and quota counters in memory
	Redis RedisConfig

	// Postgres configuration; an empty URL keeps deployments and credentials in memory
	Postgres PostgresConfig

	LLM       LLMConfig
	Workers   WorkerConfig
	Timeouts  TimeoutConfig
	Events    EventsConfig
	Quota     QuotaConfig
	Deploy    DeployConfig
	Retention RetentionConfig
	Tracing   TracingConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig holds the deployment and credential database connection
type PostgresConfig struct {
	URL string `env:"DATABASE_URL"`
}

// LLMConfig holds settings for the Anthropic-backed llm node type
type LLMConfig struct {
	APIKey           string        `env:"LLM_API_KEY"`
	DefaultModel     string        `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int           `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
	RequestTimeout   time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Dollar prices per million tokens, used for cost estimation and charging
	InputCostPerMTok  float64 `env:"LLM_INPUT_COST_PER_MTOK" envDefault:"3"`
	OutputCostPerMTok float64 `env:"LLM_OUTPUT_COST_PER_MTOK" envDefault:"15"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"8"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"64"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	NodeMaxRetries      int           `env:"NODE_MAX_RETRIES" envDefault:"1"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	GraphExecutionTimeout time.Duration `env:"TIMEOUT_GRAPH_EXECUTION" envDefault:"3600s"`
	NodeExecutionTimeout  time.Duration `env:"TIMEOUT_NODE_EXECUTION" envDefault:"300s"`
	ShutdownTimeout       time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// EventsConfig holds run event publisher settings
type EventsConfig struct {
	SubscriberBuffer int           `env:"EVENTS_SUBSCRIBER_BUFFER" envDefault:"256"`
	Linger           time.Duration `env:"EVENTS_LINGER" envDefault:"5m"`
	MirrorMaxLen     int64         `env:"EVENTS_MIRROR_MAXLEN" envDefault:"1000"`
	MirrorQueue      int           `env:"EVENTS_MIRROR_QUEUE" envDefault:"1024"`
}

// QuotaConfig holds quota window settings
type QuotaConfig struct {
	RateWindow    time.Duration `env:"QUOTA_RATE_WINDOW" envDefault:"1h"`
	BillingPeriod time.Duration `env:"QUOTA_BILLING_PERIOD" envDefault:"720h"`
}

// DeployConfig holds deployment health settings
type DeployConfig struct {
	HealthThreshold float64 `env:"DEPLOY_HEALTH_THRESHOLD" envDefault:"0.9"`
	HealthWindow    int     `env:"DEPLOY_HEALTH_WINDOW" envDefault:"50"`
	ConflictRetries int     `env:"DEPLOY_CONFLICT_RETRIES" envDefault:"3"`
}

// RetentionConfig controls how long finished runs are kept
type RetentionConfig struct {
	RunRetention  time.Duration `env:"RUN_RETENTION" envDefault:"24h"`
	SweepSchedule string        `env:"RUN_SWEEP_SCHEDULE" envDefault:"@every 10m"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"nodeai"`
}

// Load reads configuration from an optional .env file and environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from environment variables only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("worker queue size must not be negative")
	}
	if c.Workers.NodeMaxRetries < 0 {
		return fmt.Errorf("node max retries must not be negative")
	}

	if c.Timeouts.GraphExecutionTimeout <= 0 || c.Timeouts.NodeExecutionTimeout <= 0 {
		return fmt.Errorf("execution timeouts must be positive")
	}

	if c.Events.SubscriberBuffer < 1 {
		return fmt.Errorf("event subscriber buffer must be at least 1")
	}

	if c.Quota.RateWindow <= 0 || c.Quota.BillingPeriod <= 0 {
		return fmt.Errorf("quota windows must be positive")
	}

	if c.Deploy.HealthThreshold < 0 || c.Deploy.HealthThreshold > 1 {
		return fmt.Errorf("invalid deploy health threshold: %v (must be within [0, 1])", c.Deploy.HealthThreshold)
	}
	if c.Deploy.HealthWindow < 1 {
		return fmt.Errorf("deploy health window must be at least 1")
	}

	if c.LLM.InputCostPerMTok < 0 || c.LLM.OutputCostPerMTok < 0 {
		return fmt.Errorf("LLM token prices must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
