package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PipeMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipe_messages_total",
			Help: "Total number of messages sent through a receive endpoint pipe (count)",
		},
		[]string{"endpoint", "status"},
	)

	PipeProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipe_processing_duration_ms",
			Help:    "Processing duration of a receive endpoint pipe in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"endpoint", "status"},
	)

	ConsumerDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_dispatch_total",
			Help: "Total number of dispatch attempts by message type and result (count)",
		},
		[]string{"message_type", "result"},
	)

	ScopesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scopes_active",
			Help: "Number of message scopes currently open (count)",
		},
	)

	ScopeReleaseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scope_release_errors_total",
			Help: "Total number of scope releases that reported an error (count)",
		},
	)

	SagaOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_operations_total",
			Help: "Total number of saga repository operations (count)",
		},
		[]string{"saga", "policy", "result"},
	)

	SagaOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_operation_duration_ms",
			Help:    "Duration of saga repository operations including handler time in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"saga", "policy"},
	)

	SagaLockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_lock_wait_duration_ms",
			Help:    "Time spent waiting for the per-correlation lock in milliseconds",
			Buckets: []float64{0.1, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"saga"},
	)

	InboxMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_total",
			Help: "Total number of messages checked by the inbox duplicate guard (count)",
		},
		[]string{"endpoint", "status"},
	)

	ExpressionEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expression_evaluations_total",
			Help: "Total number of message filter expression evaluations (count)",
		},
		[]string{"endpoint", "result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"source", "status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	pipelineOnce       sync.Once
	sagaOnce           sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	adminOnce          sync.Once
	fallbackOnce       sync.Once
)

func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(PipeMessagesTotal)
		prometheus.MustRegister(PipeProcessingDuration)
		prometheus.MustRegister(ConsumerDispatchTotal)
		prometheus.MustRegister(ScopesActive)
		prometheus.MustRegister(ScopeReleaseErrorsTotal)
		prometheus.MustRegister(InboxMessagesTotal)
		prometheus.MustRegister(ExpressionEvaluationsTotal)
		registerFallbackUsageTotalOnce()
	})
}

func RegisterSagaMetrics() {
	sagaOnce.Do(func() {
		prometheus.MustRegister(SagaOperationsTotal)
		prometheus.MustRegister(SagaOperationDuration)
		prometheus.MustRegister(SagaLockWaitDuration)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func registerFallbackUsageTotalOnce() {
	fallbackOnce.Do(func() {
		prometheus.MustRegister(FallbackUsageTotal)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaConsumerLag)
		prometheus.MustRegister(KafkaReadDuration)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterAdminMetrics() {
	adminOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func ObservePipeDuration(endpoint, status string, duration time.Duration) {
	PipeProcessingDuration.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

func IncPipeMessages(endpoint, status string) {
	PipeMessagesTotal.WithLabelValues(endpoint, status).Inc()
}

func IncConsumerDispatch(messageType, result string) {
	ConsumerDispatchTotal.WithLabelValues(messageType, result).Inc()
}

func IncSagaOperation(saga, policy, result string) {
	SagaOperationsTotal.WithLabelValues(saga, policy, result).Inc()
}

func ObserveSagaOperationDuration(saga, policy string, duration time.Duration) {
	SagaOperationDuration.WithLabelValues(saga, policy).Observe(float64(duration.Milliseconds()))
}

func ObserveSagaLockWait(saga string, duration time.Duration) {
	SagaLockWaitDuration.WithLabelValues(saga).Observe(float64(duration.Microseconds()) / 1000)
}

func IncInboxMessages(endpoint, status string) {
	InboxMessagesTotal.WithLabelValues(endpoint, status).Inc()
}

func IncExpressionEvaluation(endpoint, result string) {
	ExpressionEvaluationsTotal.WithLabelValues(endpoint, result).Inc()
}

func IncRateLimitRequest(source, status string) {
	RateLimitRequestsTotal.WithLabelValues(source, status).Inc()
}

func IncFallbackUsage(service, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(service, strategy, reason).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
