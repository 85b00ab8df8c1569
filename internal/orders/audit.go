package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"conduit/internal/logger"
	"conduit/pkg/consume"
	"conduit/pkg/identity"
	"conduit/pkg/scope"
)

// Entry records one delivery seen by the audit consumer.
type Entry struct {
	ScopeCorrelation uuid.UUID `json:"scope_correlation"`
	MessageID        string    `json:"message_id"`
	MessageType      string    `json:"message_type"`
	CorrelationID    string    `json:"correlation_id"`
	Attempt          int       `json:"attempt,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Journal keeps the most recent audit entries of the process.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
}

func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{limit: limit}
}

func (j *Journal) append(entries ...Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
	if over := len(j.entries) - j.limit; over > 0 {
		j.entries = append([]Entry(nil), j.entries[over:]...)
	}
}

// Entries returns the journal oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Ledger buffers the entries of one message scope and hands them to the
// journal when the scope is released.
type Ledger struct {
	mu       sync.Mutex
	journal  *Journal
	pending  []Entry
	released bool
}

func (l *Ledger) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, e)
}

func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	l.journal.append(l.pending...)
	l.pending = nil
	return nil
}

// AuditConsumer is resolved from the message scope, so the identifier it
// reads is the one the correlation identity filter assigned to this message.
type AuditConsumer struct {
	identifier identity.Identifier
	ledger     *Ledger
	logger     logger.Logger
}

func (a *AuditConsumer) Consume(ctx context.Context, c *consume.Context) error {
	entry := Entry{
		ScopeCorrelation: a.identifier.ID(),
		MessageID:        c.MessageID(),
		MessageType:      c.MessageType(),
		CorrelationID:    c.CorrelationID(),
		RecordedAt:       time.Now().UTC(),
	}
	if d := c.Envelope.Metadata.Delivery; d != nil {
		entry.Attempt = d.Attempt
	}
	a.ledger.Record(entry)

	a.logger.DebugwCtx(ctx, "Audited message", "scope_correlation", entry.ScopeCorrelation)
	return nil
}

// Register adds the audit services to the container: the journal as a
// singleton, the ledger and consumer per message scope.
func Register(container *scope.Container, journal *Journal, log logger.Logger) {
	identity.Register(container)
	scope.AddInstance(container, journal)

	scope.AddScoped(container, func(r scope.Resolver) (*Ledger, error) {
		j, err := scope.Resolve[*Journal](r)
		if err != nil {
			return nil, err
		}
		return &Ledger{journal: j}, nil
	})

	auditLog := log.Component("audit")
	scope.AddScoped(container, func(r scope.Resolver) (*AuditConsumer, error) {
		id, err := scope.Resolve[identity.Identifier](r)
		if err != nil {
			return nil, err
		}
		ledger, err := scope.Resolve[*Ledger](r)
		if err != nil {
			return nil, err
		}
		return &AuditConsumer{identifier: id, ledger: ledger, logger: auditLog}, nil
	})
}

// ConnectAudit connects the scoped audit consumer for every order message.
func ConnectAudit(registry *consume.Registry) {
	for _, messageType := range []string{
		MessageOrderSubmitted,
		MessagePaymentAccepted,
		MessageOrderShipped,
		MessageOrderCancelled,
	} {
		consume.ConnectScoped[*AuditConsumer](registry, messageType)
	}
}
