package filters

import (
	"context"
	"time"

	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/metrics"
	"conduit/pkg/pipe"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFatal   = "fatal"
)

type metricsFilter struct{}

func (metricsFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	start := time.Now()
	err := next.Send(ctx, c)

	status := StatusSuccess
	if err != nil {
		status = StatusError
		if pkgerrors.IsFatal(err) {
			status = StatusFatal
		}
	}
	metrics.IncPipeMessages(c.Endpoint, status)
	metrics.ObservePipeDuration(c.Endpoint, status, time.Since(start))

	return err
}

func (metricsFilter) Probe(pc pipe.ProbeContext) {
	pc.CreateFilterScope("metrics")
}

func UseMetrics() pipe.Specification[*consume.Context] {
	metrics.RegisterPipelineMetrics()
	return pipe.UseFilter[*consume.Context](metricsFilter{})
}
