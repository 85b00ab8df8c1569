package orders

import (
	"context"
	"fmt"
	"time"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/saga"
)

const SagaName = "order"

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

// State is the persisted order saga state.
type State struct {
	Status         Status    `json:"status"`
	CustomerID     string    `json:"customer_id"`
	Total          float64   `json:"total"`
	Currency       string    `json:"currency"`
	Items          int       `json:"items"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	CancelReason   string    `json:"cancel_reason,omitempty"`
	Messages       []string  `json:"messages"`
	SubmittedAt    time.Time `json:"submitted_at,omitempty"`
	PaidAt         time.Time `json:"paid_at,omitempty"`
	ShippedAt      time.Time `json:"shipped_at,omitempty"`
}

// seen reports whether messageID was already applied, so a redelivery after
// a lost commit does not apply it twice.
func (s *State) seen(messageID string) bool {
	for _, id := range s.Messages {
		if id == messageID {
			return true
		}
	}
	return false
}

func (s *State) applied(messageID string) {
	if messageID != "" {
		s.Messages = append(s.Messages, messageID)
	}
}

type Saga struct {
	repository *saga.Repository[State]
	logger     logger.Logger
	now        func() time.Time
}

func NewSaga(repository *saga.Repository[State], log logger.Logger) *Saga {
	return &Saga{
		repository: repository,
		logger:     log.Component("order-saga"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Saga) Repository() *saga.Repository[State] {
	return s.repository
}

// Connect binds the order messages to the saga repository.
//
//	order.submitted   NewOrExisting
//	payment.accepted  MustExist
//	order.shipped     MustExist, completes the saga
//	order.cancelled   MustExist, completes the saga
func (s *Saga) Connect(registry *consume.Registry) {
	saga.NewConnector(s.repository).
		On(MessageOrderSubmitted, saga.NewOrExisting, s.submitted).
		On(MessagePaymentAccepted, saga.MustExist, s.paymentAccepted).
		On(MessageOrderShipped, saga.MustExist, s.shipped).
		On(MessageOrderCancelled, saga.MustExist, s.cancelled).
		Connect(registry)
}

func (s *Saga) submitted(ctx context.Context, c *consume.Context, instance *saga.Instance[State]) error {
	if instance.State.seen(c.MessageID()) {
		return nil
	}
	if !instance.IsNew && instance.State.Status != "" {
		s.logger.WarnwCtx(ctx, "Order submitted twice, keeping the first submission",
			"status", instance.State.Status,
		)
		instance.State.applied(c.MessageID())
		return nil
	}

	payload, err := consume.Decode[OrderSubmitted](c)
	if err != nil {
		return err
	}
	if payload.Total < 0 {
		return pkgerrors.ErrValidation.WithDetail("message", "order total must not be negative")
	}

	instance.State.Status = StatusSubmitted
	instance.State.CustomerID = payload.CustomerID
	instance.State.Total = payload.Total
	instance.State.Currency = payload.Currency
	instance.State.Items = payload.Items
	instance.State.SubmittedAt = s.now()
	instance.State.applied(c.MessageID())

	s.logger.InfowCtx(ctx, "Order submitted",
		"customer_id", payload.CustomerID,
		"total", payload.Total,
	)
	return nil
}

func (s *Saga) paymentAccepted(ctx context.Context, c *consume.Context, instance *saga.Instance[State]) error {
	if instance.State.seen(c.MessageID()) {
		return nil
	}
	if instance.State.Status != StatusSubmitted {
		return invalidTransition(instance.State.Status, MessagePaymentAccepted)
	}

	payload, err := consume.Decode[PaymentAccepted](c)
	if err != nil {
		return err
	}

	instance.State.Status = StatusPaid
	instance.State.PaymentID = payload.PaymentID
	instance.State.PaidAt = s.now()
	instance.State.applied(c.MessageID())

	s.logger.InfowCtx(ctx, "Order paid", "payment_id", payload.PaymentID)
	return nil
}

// shipped waits for payment: a shipment that overtakes its payment is
// returned as a retryable conflict so the broker redelivers it.
func (s *Saga) shipped(ctx context.Context, c *consume.Context, instance *saga.Instance[State]) error {
	if instance.State.seen(c.MessageID()) {
		return nil
	}
	switch instance.State.Status {
	case StatusPaid:
	case StatusSubmitted:
		return pkgerrors.ErrConflict.AsRetryable().WithDetail("message", "order shipped before payment was accepted")
	default:
		return invalidTransition(instance.State.Status, MessageOrderShipped)
	}

	payload, err := consume.Decode[OrderShipped](c)
	if err != nil {
		return err
	}

	instance.State.Status = StatusShipped
	instance.State.Carrier = payload.Carrier
	instance.State.TrackingNumber = payload.TrackingNumber
	instance.State.ShippedAt = s.now()
	instance.State.applied(c.MessageID())
	instance.Complete()

	s.logger.InfowCtx(ctx, "Order shipped", "carrier", payload.Carrier)
	return nil
}

func (s *Saga) cancelled(ctx context.Context, c *consume.Context, instance *saga.Instance[State]) error {
	if instance.State.seen(c.MessageID()) {
		return nil
	}
	if instance.State.Status == StatusShipped || instance.State.Status == StatusCancelled {
		return invalidTransition(instance.State.Status, MessageOrderCancelled)
	}

	payload, err := consume.Decode[OrderCancelled](c)
	if err != nil {
		return err
	}

	instance.State.Status = StatusCancelled
	instance.State.CancelReason = payload.Reason
	instance.State.applied(c.MessageID())
	instance.Complete()

	s.logger.InfowCtx(ctx, "Order cancelled", "reason", payload.Reason)
	return nil
}

func invalidTransition(status Status, messageType string) error {
	return pkgerrors.ErrConflict.AsFatal().
		WithDetail("message", fmt.Sprintf("%s not allowed for order in status %q", messageType, status)).
		WithDetail("status", string(status))
}
