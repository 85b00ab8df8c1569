package filters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/pipe"
)

type timeoutFilter struct {
	timeout time.Duration
}

// Send bounds the rest of the pipe by the configured deadline. Only a
// deadline set here is reported as TIMEOUT; a caller's cancellation passes
// through unchanged.
func (f *timeoutFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := next.Send(tctx, c)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.ErrTimeout.WithCause(err).
			WithDetail("message", fmt.Sprintf("message %s not consumed within %s", c.MessageID(), f.timeout))
	}
	return err
}

func (f *timeoutFilter) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("timeout").Add("timeout", f.timeout.String())
}

type timeoutSpecification struct {
	timeout time.Duration
}

func UseTimeout(timeout time.Duration) pipe.Specification[*consume.Context] {
	return &timeoutSpecification{timeout: timeout}
}

func (s *timeoutSpecification) Apply(b pipe.Builder[*consume.Context]) {
	b.AddFilter(&timeoutFilter{timeout: s.timeout})
}

func (s *timeoutSpecification) Validate() []pipe.ValidationResult {
	if s.timeout <= 0 {
		return []pipe.ValidationResult{pipe.Failed("timeout", "must be positive")}
	}
	return nil
}
