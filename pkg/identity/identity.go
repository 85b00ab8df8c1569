// Package identity assigns a correlation identifier to each message that
// travels through a scope.
package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"conduit/pkg/logging"
	"conduit/pkg/pipe"
	"conduit/pkg/scope"
)

// Identifier is the scoped holder of the correlation id for one message.
type Identifier interface {
	ID() uuid.UUID
	Assign(id uuid.UUID)
}

type CorrelationIdentifier struct {
	mu sync.RWMutex
	id uuid.UUID
}

func (c *CorrelationIdentifier) ID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *CorrelationIdentifier) Assign(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Register adds Identifier to the container as a scoped service.
func Register(c *scope.Container) {
	scope.AddScoped(c, func(scope.Resolver) (Identifier, error) {
		return &CorrelationIdentifier{}, nil
	})
}

type Option func(*options)

type options struct {
	generate func() uuid.UUID
	key      pipe.Key[scope.Scope]
}

// WithGenerator replaces uuid.New as the id source.
func WithGenerator(generate func() uuid.UUID) Option {
	return func(o *options) {
		o.generate = generate
	}
}

// WithScopeKey reads the scope from key instead of scope.ActiveKey.
func WithScopeKey(key pipe.Key[scope.Scope]) Option {
	return func(o *options) {
		o.key = key
	}
}

func newOptions(opts []Option) options {
	o := options{generate: uuid.New, key: scope.ActiveKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Filter assigns a fresh correlation id to the scoped Identifier. Without a
// scope it passes the message on untouched.
type Filter[C pipe.Context] struct {
	generate func() uuid.UUID
	key      pipe.Key[scope.Scope]
}

func NewFilter[C pipe.Context](opts ...Option) *Filter[C] {
	o := newOptions(opts)
	return &Filter[C]{generate: o.generate, key: o.key}
}

func (f *Filter[C]) Send(ctx context.Context, c C, next pipe.Pipe[C]) error {
	s, ok := pipe.TryGetPayload(c, f.key)
	if !ok {
		return next.Send(ctx, c)
	}

	identifier, err := scope.Resolve[Identifier](s)
	if err != nil {
		return err
	}

	id := f.generate()
	identifier.Assign(id)

	return next.Send(logging.WithCorrelationID(ctx, id.String()), c)
}

func (f *Filter[C]) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("correlation-identity")
}

type Specification[C pipe.Context] struct {
	opts []Option
}

func UseCorrelationIdentity[C pipe.Context](opts ...Option) *Specification[C] {
	return &Specification[C]{opts: opts}
}

func (s *Specification[C]) Apply(b pipe.Builder[C]) {
	b.AddFilter(NewFilter[C](s.opts...))
}

func (s *Specification[C]) Validate() []pipe.ValidationResult {
	return nil
}
