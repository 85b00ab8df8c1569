package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Endpoint       EndpointConfig
	Saga           SagaConfig
	Inbox          InboxConfig
	Admin          AdminConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) Configured() bool {
	return c.Host != "" || c.Port > 0
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Configured() bool {
	return c.Host != "" || c.Port > 0
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (c MongoDBConfig) Configured() bool {
	return c.URI != ""
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers    []string    `mapstructure:"brokers"`
	GroupID    string      `mapstructure:"group_id"`
	InputTopic string      `mapstructure:"input_topic"`
	DLQTopic   string      `mapstructure:"dlq_topic"`
	Retry      RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EndpointConfig shapes the receive endpoint pipe.
type EndpointConfig struct {
	Name       string           `mapstructure:"name"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	Expression ExpressionConfig `mapstructure:"expression"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type ExpressionConfig struct {
	Filter  string `mapstructure:"filter"`
	OnError string `mapstructure:"on_error"` // "allow", "deny", "error" (default: "error")
}

type SagaConfig struct {
	Store            string        `mapstructure:"store"` // memory, redis, mongodb, postgres
	RemoveOnComplete bool          `mapstructure:"remove_on_complete"`
	CompletedTTL     time.Duration `mapstructure:"completed_ttl"`
}

type InboxConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"` // "allow", "deny" (default: "deny")
}

type AdminConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
