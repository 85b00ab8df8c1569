package config

import (
	"fmt"
	"strings"

	"conduit/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateEndpoint(cfg.Endpoint); err != nil {
		errors = append(errors, err)
	}

	if err := validateSaga(cfg.Saga, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateInbox(cfg.Inbox, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.InputTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "Kafka input topic is required",
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.InitialInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Configured() {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Configured() {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.Configured() {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateEndpoint(cfg EndpointConfig) error {
	if cfg.Name == "" {
		return &ValidationError{
			Field:   "endpoint.name",
			Message: "endpoint name is required",
		}
	}

	if cfg.Timeout < 0 {
		return &ValidationError{
			Field:   "endpoint.timeout",
			Message: "timeout must be non-negative",
		}
	}

	validOnError := map[string]bool{
		constants.FallbackAllow: true, constants.FallbackDeny: true, constants.FallbackError: true,
	}
	if cfg.Expression.OnError != "" && !validOnError[strings.ToLower(cfg.Expression.OnError)] {
		return &ValidationError{
			Field:   "endpoint.expression.on_error",
			Message: fmt.Sprintf("invalid on_error value: %s (valid: allow, deny, error)", cfg.Expression.OnError),
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "endpoint.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateSaga(cfg SagaConfig, db DatabaseConfig) error {
	var configured bool
	switch strings.ToLower(cfg.Store) {
	case "", constants.SagaStoreMemory:
		configured = true
	case constants.SagaStoreRedis:
		configured = db.Redis.Configured()
	case constants.SagaStoreMongoDB:
		configured = db.MongoDB.Configured()
	case constants.SagaStorePostgres:
		configured = db.Postgres.Configured()
	default:
		return &ValidationError{
			Field:   "saga.store",
			Message: fmt.Sprintf("unknown saga store: %s (supported: memory, redis, mongodb, postgres)", cfg.Store),
		}
	}

	if !configured {
		return &ValidationError{
			Field:   "saga.store",
			Message: fmt.Sprintf("saga store %s selected but database.%s is not configured", cfg.Store, cfg.Store),
		}
	}

	if cfg.CompletedTTL < 0 {
		return &ValidationError{
			Field:   "saga.completed_ttl",
			Message: "completed_ttl must be non-negative",
		}
	}

	return nil
}

func validateInbox(cfg InboxConfig, db DatabaseConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if !db.Redis.Configured() {
		return &ValidationError{
			Field:   "inbox.enabled",
			Message: "inbox requires database.redis",
		}
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "inbox.ttl_seconds",
			Message: "TTL must be positive",
		}
	}

	validOnError := map[string]bool{
		constants.FallbackAllow: true, constants.FallbackDeny: true,
	}
	if cfg.OnRedisError != "" && !validOnError[strings.ToLower(cfg.OnRedisError)] {
		return &ValidationError{
			Field:   "inbox.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, deny)", cfg.OnRedisError),
		}
	}

	return nil
}
