package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"conduit/pkg/metrics"
)

type Config struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from, to gobreaker.State)

	// IsSuccessful decides whether an error counts against the breaker.
	// Domain outcomes such as "already exists" should not trip it.
	IsSuccessful func(err error) bool
}

func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.5
		},
	}
}

// WithThresholds applies non-zero overrides, the way config sections
// describe them.
func (c Config) WithThresholds(maxRequests uint32, interval, timeout time.Duration, failureRatio float64, minRequests uint32) Config {
	if maxRequests > 0 {
		c.MaxRequests = maxRequests
	}
	if interval > 0 {
		c.Interval = interval
	}
	if timeout > 0 {
		c.Timeout = timeout
	}
	if failureRatio > 0 && minRequests > 0 {
		c.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		}
	}
	return c
}

type Wrapper struct {
	cb *gobreaker.CircuitBreaker
}

func NewWrapper(cfg Config) *Wrapper {
	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
	}

	if cfg.ReadyToTrip != nil {
		settings.ReadyToTrip = cfg.ReadyToTrip
	}

	// Metrics are updated on every transition, before any user handler.
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		updateCircuitBreakerMetrics(name, to)
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(name, from, to)
		}
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	updateCircuitBreakerMetrics(cfg.Name, cb.State())

	return &Wrapper{
		cb: cb,
	}
}

func (w *Wrapper) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return w.cb.Execute(fn)
}

// ExecuteWithContext refuses to call fn once ctx is done.
func (w *Wrapper) ExecuteWithContext(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return w.cb.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return fn()
		}
	})
}

// Do runs fn through w and records the request. A nil wrapper calls fn
// directly, which is how a disabled breaker is represented.
func Do[T any](ctx context.Context, w *Wrapper, fn func() (T, error)) (T, error) {
	if w == nil {
		return fn()
	}

	var zero T
	result, err := w.ExecuteWithContext(ctx, func() (interface{}, error) {
		return fn()
	})
	w.RecordRequest(err == nil)

	if err != nil {
		if w.IsOpen() {
			return zero, fmt.Errorf("circuit breaker is open for %s: %w", w.Name(), err)
		}
		return zero, err
	}

	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("circuit breaker %s: unexpected result type %T", w.Name(), result)
	}
	return typed, nil
}

func (w *Wrapper) State() gobreaker.State {
	return w.cb.State()
}

func (w *Wrapper) Counts() gobreaker.Counts {
	return w.cb.Counts()
}

func (w *Wrapper) Name() string {
	return w.cb.Name()
}

func (w *Wrapper) IsOpen() bool {
	return w.cb.State() == gobreaker.StateOpen
}

func (w *Wrapper) IsHalfOpen() bool {
	return w.cb.State() == gobreaker.StateHalfOpen
}

func (w *Wrapper) IsClosed() bool {
	return w.cb.State() == gobreaker.StateClosed
}

func updateCircuitBreakerMetrics(name string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateHalfOpen:
		stateValue = 1
	case gobreaker.StateOpen:
		stateValue = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue)
}

func (w *Wrapper) RecordRequest(success bool) {
	state := w.cb.State().String()
	metrics.CircuitBreakerRequests.WithLabelValues(w.cb.Name(), state).Inc()
	if !success {
		metrics.CircuitBreakerFailures.WithLabelValues(w.cb.Name()).Inc()
	}
}
