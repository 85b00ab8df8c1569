// Package consume defines the per-message context that travels through a
// receive endpoint pipe and the consumers messages are dispatched to.
package consume

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Context is owned by exactly one in-flight message.
type Context struct {
	Envelope   *models.MessageEnvelope
	Endpoint   string
	ReceivedAt time.Time

	payloads pipe.Payloads
}

func NewContext(endpoint string, envelope *models.MessageEnvelope) *Context {
	return &Context{
		Envelope:   envelope,
		Endpoint:   endpoint,
		ReceivedAt: time.Now(),
	}
}

func (c *Context) Payloads() *pipe.Payloads {
	return &c.payloads
}

func (c *Context) MessageID() string {
	if c.Envelope == nil {
		return ""
	}
	return c.Envelope.ID
}

func (c *Context) MessageType() string {
	if c.Envelope == nil {
		return ""
	}
	return c.Envelope.Type
}

func (c *Context) CorrelationID() string {
	if c.Envelope == nil {
		return ""
	}
	return c.Envelope.CorrelationID
}

// Decode converts the envelope payload into T. A payload that does not fit T
// is a validation error and will fail the same way on every redelivery.
func Decode[T any](c *Context) (T, error) {
	var out T
	if c.Envelope == nil {
		return out, pkgerrors.ErrValidation.WithDetail("message", "message has no envelope")
	}

	raw, err := json.Marshal(c.Envelope.Payload)
	if err != nil {
		return out, pkgerrors.ErrValidation.WithCause(err).
			WithDetail("message", fmt.Sprintf("encode %s payload", c.MessageType()))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, pkgerrors.ErrValidation.WithCause(err).
			WithDetail("message", fmt.Sprintf("decode %s payload into %T", c.MessageType(), out))
	}
	return out, nil
}
