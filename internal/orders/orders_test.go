package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/identity"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
	"conduit/pkg/saga"
	"conduit/pkg/scope"
)

type harness struct {
	saga *Saga
	pipe pipe.Pipe[*consume.Context]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := saga.NewInMemoryRepository[State](saga.WithName[State](SagaName))
	s := NewSaga(repo, logger.NopLogger())

	registry := consume.NewRegistry()
	s.Connect(registry)

	p, err := pipe.Build(consume.UseDispatch(registry))
	require.NoError(t, err)
	return &harness{saga: s, pipe: p}
}

func (h *harness) send(id uuid.UUID, messageID, messageType string, payload map[string]interface{}) error {
	envelope := models.NewMessageEnvelopeBuilder().
		WithID(messageID).
		WithType(messageType).
		WithSource("test").
		WithCorrelationID(id.String()).
		WithPayload(payload).
		Build()
	return h.pipe.Send(context.Background(), consume.NewContext("orders", envelope))
}

func (h *harness) state(t *testing.T, id uuid.UUID) *saga.Instance[State] {
	t.Helper()
	instance, err := h.saga.Repository().Find(context.Background(), id)
	require.NoError(t, err)
	return instance
}

func TestSaga_HappyPath(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	require.NoError(t, h.send(id, "m1", MessageOrderSubmitted, map[string]interface{}{
		"customer_id": "c-42", "total": 99.5, "currency": "EUR", "items": 3,
	}))
	require.NoError(t, h.send(id, "m2", MessagePaymentAccepted, map[string]interface{}{"payment_id": "p-1", "amount": 99.5}))
	require.NoError(t, h.send(id, "m3", MessageOrderShipped, map[string]interface{}{"carrier": "dhl", "tracking_number": "T1"}))

	instance := h.state(t, id)
	assert.Equal(t, StatusShipped, instance.State.Status)
	assert.Equal(t, "c-42", instance.State.CustomerID)
	assert.Equal(t, "p-1", instance.State.PaymentID)
	assert.Equal(t, "dhl", instance.State.Carrier)
	assert.Equal(t, []string{"m1", "m2", "m3"}, instance.State.Messages)
	assert.True(t, instance.Completed)
	assert.Equal(t, int64(3), instance.Version)
}

func TestSaga_PaymentForUnknownOrderIsSagaNotFound(t *testing.T) {
	h := newHarness(t)

	err := h.send(uuid.New(), "m1", MessagePaymentAccepted, map[string]interface{}{"payment_id": "p-1"})
	assert.True(t, pkgerrors.IsSagaNotFound(err))
	assert.True(t, pkgerrors.IsFatal(err))
}

func TestSaga_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	payload := map[string]interface{}{"customer_id": "c-1", "total": 10.0}

	require.NoError(t, h.send(id, "m1", MessageOrderSubmitted, payload))
	require.NoError(t, h.send(id, "m1", MessageOrderSubmitted, payload))
	require.NoError(t, h.send(id, "m2", MessagePaymentAccepted, map[string]interface{}{"payment_id": "p"}))
	require.NoError(t, h.send(id, "m2", MessagePaymentAccepted, map[string]interface{}{"payment_id": "p"}))

	instance := h.state(t, id)
	assert.Equal(t, StatusPaid, instance.State.Status)
	assert.Equal(t, []string{"m1", "m2"}, instance.State.Messages)
}

func TestSaga_ShipmentBeforePaymentIsRetryable(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	require.NoError(t, h.send(id, "m1", MessageOrderSubmitted, map[string]interface{}{"customer_id": "c"}))

	err := h.send(id, "m2", MessageOrderShipped, map[string]interface{}{"carrier": "ups"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.False(t, pkgerrors.IsFatal(err))

	instance := h.state(t, id)
	assert.Equal(t, StatusSubmitted, instance.State.Status)
	assert.Equal(t, int64(1), instance.Version)
}

func TestSaga_Cancellation(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	require.NoError(t, h.send(id, "m1", MessageOrderSubmitted, map[string]interface{}{"customer_id": "c"}))
	require.NoError(t, h.send(id, "m2", MessageOrderCancelled, map[string]interface{}{"reason": "changed mind"}))

	instance := h.state(t, id)
	assert.Equal(t, StatusCancelled, instance.State.Status)
	assert.Equal(t, "changed mind", instance.State.CancelReason)
	assert.True(t, instance.Completed)

	err := h.send(id, "m3", MessagePaymentAccepted, map[string]interface{}{"payment_id": "p"})
	assert.True(t, pkgerrors.IsConflict(err))
	assert.True(t, pkgerrors.IsFatal(err))
}

func TestSaga_InvalidPayloadIsValidationError(t *testing.T) {
	h := newHarness(t)

	err := h.send(uuid.New(), "m1", MessageOrderSubmitted, map[string]interface{}{"total": "lots"})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestAudit_LedgerFlushesOnRelease(t *testing.T) {
	container := scope.NewContainer()
	journal := NewJournal(10)
	Register(container, journal, logger.NopLogger())

	s, err := container.CreateScope(context.Background())
	require.NoError(t, err)

	id, err := scope.Resolve[identity.Identifier](s)
	require.NoError(t, err)
	id.Assign(uuid.New())

	consumer, err := scope.Resolve[*AuditConsumer](s)
	require.NoError(t, err)

	envelope := models.NewMessageEnvelopeBuilder().WithID("m1").WithType(MessageOrderSubmitted).Build()
	require.NoError(t, consumer.Consume(context.Background(), consume.NewContext("orders", envelope)))

	ledger, err := scope.Resolve[*Ledger](s)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Pending())
	assert.Equal(t, 0, journal.Len())

	require.NoError(t, s.Release())
	entries := journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, id.ID(), entries[0].ScopeCorrelation)
	assert.Equal(t, "m1", entries[0].MessageID)
}

func TestJournal_KeepsMostRecent(t *testing.T) {
	journal := NewJournal(2)
	journal.append(Entry{MessageID: "a"}, Entry{MessageID: "b"}, Entry{MessageID: "c"})

	entries := journal.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].MessageID)
	assert.Equal(t, "c", entries[1].MessageID)
}
