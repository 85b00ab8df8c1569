package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() *MessageEnvelope {
	return NewMessageEnvelopeBuilder().
		WithID("msg-1").
		WithType("order.submitted").
		WithSource("checkout").
		WithCorrelationID("9b2f3c4e-0d4b-4e53-8d0c-7d1f4c1e9a10").
		Build()
}

func TestValidateMessageEnvelope(t *testing.T) {
	require.NoError(t, ValidateMessageEnvelope(validEnvelope()))

	tests := []struct {
		field  string
		mutate func(*MessageEnvelope)
	}{
		{"id", func(m *MessageEnvelope) { m.ID = "" }},
		{"type", func(m *MessageEnvelope) { m.Type = "" }},
		{"source", func(m *MessageEnvelope) { m.Source = "" }},
		{"timestamp", func(m *MessageEnvelope) { m.Timestamp = time.Time{} }},
		{"payload", func(m *MessageEnvelope) { m.Payload = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			msg := validEnvelope()
			tt.mutate(msg)

			err := ValidateMessageEnvelope(msg)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}

	var validationErr *ValidationError
	require.ErrorAs(t, ValidateMessageEnvelope(nil), &validationErr)
	assert.Equal(t, "envelope", validationErr.Field)
}

func TestPayloadFields(t *testing.T) {
	msg := &MessageEnvelope{}

	_, ok := msg.GetPayloadField("total")
	assert.False(t, ok)

	msg.SetPayloadField("total", 42.5)
	value, ok := msg.GetPayloadField("total")
	require.True(t, ok)
	assert.Equal(t, 42.5, value)
}

func TestBuilder_KeepsExplicitTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := NewMessageEnvelopeBuilder().WithTimestamp(at).Build()

	assert.Equal(t, at, msg.Timestamp)
	assert.NotNil(t, msg.Payload)
}
