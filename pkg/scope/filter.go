package scope

import (
	"context"
	"errors"
	"fmt"

	"conduit/internal/logger"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/logging"
	"conduit/pkg/metrics"
	"conduit/pkg/pipe"
)

// ActiveKey is the payload under which the scope filter publishes the scope
// for the current message.
var ActiveKey = pipe.NewKey[Scope]("scope")

// FromContext returns the active scope of c, if a scope filter is upstream.
func FromContext(c pipe.Context) (Scope, bool) {
	return pipe.TryGetPayload(c, ActiveKey)
}

type Option func(*options)

type options struct {
	key    pipe.Key[Scope]
	logger logger.Logger
}

// WithKey publishes the scope under key instead of ActiveKey.
func WithKey(key pipe.Key[Scope]) Option {
	return func(o *options) {
		o.key = key
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// Filter opens one scope per message around the rest of the pipe.
type Filter[C pipe.Context] struct {
	provider Provider
	key      pipe.Key[Scope]
	logger   logger.Logger
}

func NewFilter[C pipe.Context](provider Provider, opts ...Option) *Filter[C] {
	o := options{key: ActiveKey, logger: logger.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Filter[C]{provider: provider, key: o.key, logger: o.logger}
}

func (f *Filter[C]) Send(ctx context.Context, c C, next pipe.Pipe[C]) (err error) {
	s, err := f.provider.CreateScope(ctx)
	if err != nil {
		return fmt.Errorf("create scope: %w", err)
	}

	metrics.ScopesActive.Inc()
	restore := pipe.SetPayload(c, f.key, s)

	defer func() {
		r := recover()

		restore()
		metrics.ScopesActive.Dec()

		if releaseErr := s.Release(); releaseErr != nil {
			metrics.ScopeReleaseErrorsTotal.Inc()
			f.logger.ErrorwCtx(ctx, "Failed to release scope",
				"scope_id", s.ID(),
				"error", releaseErr,
			)
			if r == nil {
				err = errors.Join(err, releaseErr)
			}
		}

		if r != nil {
			panic(r)
		}
	}()

	return next.Send(logging.WithScopeID(ctx, s.ID()), c)
}

func (f *Filter[C]) Probe(pc pipe.ProbeContext) {
	scope := pc.CreateFilterScope("scope")
	scope.Add("key", f.key.Name())
	scope.Add("provider", fmt.Sprintf("%T", f.provider))
}

// Specification adds a scope filter to a pipe.
type Specification[C pipe.Context] struct {
	provider Provider
	opts     []Option
}

// UseScope opens a fresh scope for each message that reaches this point of
// the pipe and releases it when the rest of the pipe returns.
func UseScope[C pipe.Context](provider Provider, opts ...Option) *Specification[C] {
	return &Specification[C]{provider: provider, opts: opts}
}

func (s *Specification[C]) Apply(b pipe.Builder[C]) {
	b.AddFilter(NewFilter[C](s.provider, s.opts...))
}

func (s *Specification[C]) Validate() []pipe.ValidationResult {
	if s.provider == nil {
		return []pipe.ValidationResult{pipe.Failed("scope.provider", "must not be nil")}
	}
	return nil
}

// Current resolves T from the active scope of c. A missing scope is a
// resolution error.
func Current[T any](c pipe.Context) (T, error) {
	s, ok := FromContext(c)
	if !ok {
		var zero T
		return zero, pkgerrors.ErrResolution.WithDetail("message", "no active scope for message")
	}
	return Resolve[T](s)
}
