package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixInbox = "inbox:"
	CacheKeyPrefixSaga  = "saga:"
)

const (
	DefaultInputTopic = "orders"
	DefaultDLQTopic   = "orders.dlq"
	DefaultGroupID    = "conduit-orders"
)

const (
	DefaultMongoDBName = "conduit"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultInboxTTLSeconds = 3600
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)

const (
	SagaStoreMemory   = "memory"
	SagaStoreRedis    = "redis"
	SagaStoreMongoDB  = "mongodb"
	SagaStorePostgres = "postgres"
)
