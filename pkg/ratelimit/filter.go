// Package ratelimit throttles message consumption and admin API requests with
// token buckets from golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"conduit/pkg/metrics"
	"conduit/pkg/pipe"
)

type filter[C pipe.Context] struct {
	limiter *rate.Limiter
}

// Send waits for a token before passing the message on. Messages are delayed,
// never dropped; only cancellation of ctx ends the wait early.
func (f *filter[C]) Send(ctx context.Context, c C, next pipe.Pipe[C]) error {
	if f.limiter.Allow() {
		metrics.IncRateLimitRequest("pipe", "allowed")
		return next.Send(ctx, c)
	}

	metrics.IncRateLimitRequest("pipe", "delayed")
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return next.Send(ctx, c)
}

func (f *filter[C]) Probe(pc pipe.ProbeContext) {
	scope := pc.CreateFilterScope("rate-limit")
	scope.Add("rps", float64(f.limiter.Limit()))
	scope.Add("burst", f.limiter.Burst())
}

type specification[C pipe.Context] struct {
	rps   float64
	burst int
}

// UseRateLimit shares one token bucket across every message the pipe sees.
func UseRateLimit[C pipe.Context](rps float64, burst int) pipe.Specification[C] {
	return &specification[C]{rps: rps, burst: burst}
}

func (s *specification[C]) Apply(b pipe.Builder[C]) {
	metrics.RegisterAdminMetrics()
	b.AddFilter(&filter[C]{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)})
}

func (s *specification[C]) Validate() []pipe.ValidationResult {
	var results []pipe.ValidationResult
	if s.rps <= 0 {
		results = append(results, pipe.Failed("rateLimit.rps", "must be positive"))
	}
	if s.burst <= 0 {
		results = append(results, pipe.Failed("rateLimit.burst", "must be positive"))
	}
	return results
}
