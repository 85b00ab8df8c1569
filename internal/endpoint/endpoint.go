// Package endpoint assembles the receive endpoint pipe in a fixed order:
// recover, logging, metrics, tracing, timeout, rate limit, expression,
// inbox, scope, extra specifications, dispatch.
package endpoint

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conduit/internal/config"
	"conduit/internal/inbox"
	"conduit/internal/logger"
	"conduit/pkg/cel"
	"conduit/pkg/consume"
	"conduit/pkg/filters"
	"conduit/pkg/models"
	"conduit/pkg/pipe"
	"conduit/pkg/ratelimit"
	"conduit/pkg/scope"
)

type Builder struct {
	name     string
	registry *consume.Registry
	logger   logger.Logger

	tracerProvider trace.TracerProvider
	timeout        time.Duration

	rateLimit      bool
	rateLimitRPS   float64
	rateLimitBurst int

	expression        string
	expressionOnError string

	inbox *inbox.Inbox

	scopeProvider scope.Provider
	scopeOptions  []scope.Option

	specs []pipe.Specification[*consume.Context]
}

func NewBuilder(name string, registry *consume.Registry, log logger.Logger) *Builder {
	return &Builder{
		name:     name,
		registry: registry,
		logger:   log.Component("endpoint"),
	}
}

// Configure applies the endpoint section of the service config.
func (b *Builder) Configure(cfg config.EndpointConfig) *Builder {
	if cfg.Timeout > 0 {
		b.WithTimeout(cfg.Timeout)
	}
	if cfg.RateLimit.Enabled {
		b.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	if cfg.Expression.Filter != "" {
		b.WithExpression(cfg.Expression.Filter, cfg.Expression.OnError)
	}
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

func (b *Builder) WithRateLimit(rps float64, burst int) *Builder {
	b.rateLimit = true
	b.rateLimitRPS = rps
	b.rateLimitBurst = burst
	return b
}

func (b *Builder) WithExpression(expression, onError string) *Builder {
	b.expression = expression
	b.expressionOnError = onError
	return b
}

func (b *Builder) WithInbox(in *inbox.Inbox) *Builder {
	b.inbox = in
	return b
}

func (b *Builder) WithScope(provider scope.Provider, opts ...scope.Option) *Builder {
	b.scopeProvider = provider
	b.scopeOptions = opts
	return b
}

// Use appends a specification between the scope and dispatch filters, where
// scoped services such as the correlation identity are available.
func (b *Builder) Use(spec pipe.Specification[*consume.Context]) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

func (b *Builder) Specifications() []pipe.Specification[*consume.Context] {
	specs := []pipe.Specification[*consume.Context]{
		filters.UseRecover(b.logger),
		filters.UseLogging(b.logger),
		filters.UseMetrics(),
		filters.UseTracing(b.tracerProvider),
	}

	if b.timeout > 0 {
		specs = append(specs, filters.UseTimeout(b.timeout))
	}
	if b.rateLimit {
		specs = append(specs, ratelimit.UseRateLimit[*consume.Context](b.rateLimitRPS, b.rateLimitBurst))
	}
	if b.expression != "" {
		opts := []cel.Option{cel.WithLogger(b.logger)}
		if b.expressionOnError != "" {
			opts = append(opts, cel.WithOnError(b.expressionOnError))
		}
		specs = append(specs, cel.UseExpression(b.expression, opts...))
	}
	if b.inbox != nil {
		specs = append(specs, inbox.UseInbox(b.inbox))
	}
	if b.scopeProvider != nil {
		opts := append([]scope.Option{scope.WithLogger(b.logger)}, b.scopeOptions...)
		specs = append(specs, scope.UseScope[*consume.Context](b.scopeProvider, opts...))
	}

	specs = append(specs, b.specs...)
	return append(specs, consume.UseDispatch(b.registry, consume.WithDispatchLogger(b.logger)))
}

// Build validates every specification and freezes the pipe. On failure the
// returned error satisfies errors.Is(err, pkgerrors.ErrBuildValidation).
func (b *Builder) Build() (*Endpoint, error) {
	p, err := pipe.Build(b.Specifications()...)
	if err != nil {
		return nil, err
	}

	b.logger.Infow("Receive endpoint built",
		"endpoint", b.name,
		"message_types", b.registry.MessageTypes(),
	)
	return &Endpoint{name: b.name, pipe: p}, nil
}

// Endpoint is safe for concurrent use.
type Endpoint struct {
	name string
	pipe pipe.Pipe[*consume.Context]
}

func (e *Endpoint) Name() string {
	return e.name
}

// Handle runs one message through the pipe. Its signature matches
// broker.HandlerFunc.
func (e *Endpoint) Handle(ctx context.Context, msg *models.MessageEnvelope) error {
	return e.pipe.Send(ctx, consume.NewContext(e.name, msg))
}

// Describe probes the pipe without sending anything through it.
func (e *Endpoint) Describe() map[string]any {
	probe := pipe.NewProbe()
	probe.Add("endpoint", e.name)
	e.pipe.Probe(probe)
	return probe.Result()
}
