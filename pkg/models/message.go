package models

import "time"

type MessageEnvelope struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Source        string                 `json:"source"`
	Timestamp     time.Time              `json:"timestamp"`
	Payload       map[string]interface{} `json:"payload"`  // Business data
	Metadata      Metadata               `json:"metadata"` // Pipeline metadata (trace_id, delivery info)
}

type Metadata struct {
	TraceID    string          `json:"trace_id,omitempty"`
	Delivery   *DeliveryInfo   `json:"delivery,omitempty"`
	Inbox      *InboxInfo      `json:"inbox,omitempty"`
	DeadLetter *DeadLetterInfo `json:"dead_letter,omitempty"`
}

type DeliveryInfo struct {
	Topic     string `json:"topic,omitempty"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	Attempt   int    `json:"attempt,omitempty"`
}

type InboxInfo struct {
	IsUnique  bool      `json:"is_unique"`
	CheckedAt time.Time `json:"checked_at"`
}

// DeadLetterInfo is attached when a message is parked on the DLQ topic.
type DeadLetterInfo struct {
	Reason      string    `json:"reason"`
	Code        string    `json:"code,omitempty"`
	SourceTopic string    `json:"source_topic"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}
