package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	"conduit/internal/config"
	"conduit/internal/constants"
	"conduit/internal/logger"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/logging"
	"conduit/pkg/metrics"
	"conduit/pkg/models"
	"conduit/pkg/retry"
	"conduit/pkg/tracing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	dlqReasonFatal      = "fatal"
	dlqReasonExhausted  = "max_retries_exceeded"
	dlqReasonUnreadable = "invalid_envelope"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer      messageWriter
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: "conduit"}
}

// Publish keys messages by correlation id when there is one, so every
// message of a saga lands on the same partition and keeps its order.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg *models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := msg.CorrelationID
	if key == "" {
		key = msg.ID
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	wg          sync.WaitGroup
	reader      messageReader
	newReader   func(topic string) messageReader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
	policy      retry.Policy
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
		policy:      retryPolicy(cfg.Retry),
	}
	consumer.newReader = func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		policy.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done. Messages are handled one at a time in
// partition order and committed after they were handled or dead-lettered.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	c.reader = c.newReader(topic)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumeCtx := logging.WithServiceName(ctx, c.serviceName)
		c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

		for {
			start := time.Now()
			m, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.InfowCtx(consumeCtx, "Stopped consuming",
						"topic", topic,
						"reason", "context canceled",
					)
					return
				}
				c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
					"error", err,
					"topic", topic,
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			metrics.ObserveKafkaReadDuration(c.serviceName, topic, time.Since(start))

			if !c.handleMessage(consumeCtx, m, handler) {
				return
			}
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

// handleMessage reports false when ctx ended mid-delivery. The message is
// then left uncommitted so the group redelivers it.
func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) bool {
	metrics.IncKafkaMessagesRead(c.serviceName, m.Topic)
	metrics.ObserveKafkaMessageSize(c.serviceName, m.Topic, "in", len(m.Value))
	if m.HighWaterMark > 0 {
		metrics.SetKafkaConsumerLag(c.serviceName, m.Topic, m.Partition, m.HighWaterMark-m.Offset-1)
	}

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m)
	defer span.End()

	envelope := &models.MessageEnvelope{}
	if err := json.Unmarshal(m.Value, envelope); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to unmarshal message",
			"error", err,
			"topic", m.Topic,
			"offset", m.Offset,
		)
		span.SetStatus(codes.Error, "unreadable message")
		c.commit(msgCtx, m)
		return true
	}
	envelope.Metadata.Delivery = &models.DeliveryInfo{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	}

	if envelope.Metadata.TraceID == "" && span.SpanContext().HasTraceID() {
		envelope.Metadata.TraceID = span.SpanContext().TraceID().String()
	}
	msgCtx = logging.WithTraceID(msgCtx, envelope.Metadata.TraceID)
	msgCtx = logging.WithMessageID(msgCtx, envelope.ID)

	if err := models.ValidateMessageEnvelope(envelope); err != nil {
		c.deadLetter(msgCtx, m, envelope, pkgerrors.ErrValidation.WithCause(err), dlqReasonUnreadable, 0)
		return true
	}

	attempts, err := c.processMessageWithRetry(msgCtx, envelope, handler)
	if err == nil {
		c.commit(msgCtx, m)
		return true
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c.logger.WarnwCtx(msgCtx, "Delivery interrupted by shutdown, leaving message uncommitted",
			"topic", m.Topic,
			"offset", m.Offset,
		)
		return false
	}

	reason := dlqReasonExhausted
	if retry.IsPermanent(err) {
		reason = dlqReasonFatal
	}
	c.logger.ErrorwCtx(msgCtx, "Failed to process message",
		"error", err,
		"topic", m.Topic,
		"attempts", attempts,
		"reason", reason,
	)
	c.deadLetter(msgCtx, m, envelope, err, reason, attempts)
	return true
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, envelope *models.MessageEnvelope, handler HandlerFunc) (int, error) {
	attempts := 0
	err := retry.RetryAttempts(ctx, c.policy, func(attempt int) (err error) {
		attempts = attempt
		defer func() {
			if r := recover(); r != nil {
				err = pkgerrors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", envelope.Metadata.Delivery.Topic,
				)
			}
		}()

		envelope.Metadata.Delivery.Attempt = attempt
		return handler(ctx, envelope)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, envelope.Metadata.Delivery.Topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	return attempts, err
}

// deadLetter parks the envelope on the DLQ topic and commits the original.
// Without a DLQ the message is committed anyway so the partition keeps
// moving.
func (c *KafkaConsumer) deadLetter(ctx context.Context, m kafka.Message, envelope *models.MessageEnvelope, cause error, reason string, attempts int) {
	if c.dlqProducer == nil || c.cfg.DLQTopic == "" {
		c.logger.WarnwCtx(ctx, "No DLQ configured, committing message to avoid blocking",
			"topic", m.Topic,
			"reason", reason,
		)
		c.commit(ctx, m)
		return
	}

	info := &models.DeadLetterInfo{
		Reason:      cause.Error(),
		SourceTopic: m.Topic,
		Attempts:    attempts,
		FailedAt:    time.Now().UTC(),
	}
	var appErr *pkgerrors.Error
	if errors.As(cause, &appErr) {
		info.Code = appErr.Code
	}
	envelope.Metadata.DeadLetter = info

	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to send message to DLQ",
			"error", err,
			"topic", m.Topic,
		)
	} else {
		metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, m.Topic, reason).Inc()
		c.logger.InfowCtx(ctx, "Message sent to DLQ",
			"source_topic", m.Topic,
			"dlq_topic", c.cfg.DLQTopic,
			"reason", reason,
			"code", info.Code,
		)
	}

	c.commit(ctx, m)
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to commit message",
			"error", err,
			"topic", m.Topic,
			"offset", m.Offset,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}
