package cel

import (
	"context"

	"github.com/google/cel-go/cel"

	"conduit/internal/constants"
	"conduit/internal/logger"
	"conduit/pkg/consume"
	pkgerrors "conduit/pkg/errors"
	"conduit/pkg/metrics"
	"conduit/pkg/pipe"
)

const (
	ResultPassed   = "passed"
	ResultFiltered = "filtered"
	ResultError    = "error"
)

type expressionFilter struct {
	expression string
	program    cel.Program
	onError    string
	logger     logger.Logger
}

// Send passes the message on only when the expression is true. A false
// result ends the pipe without error so the message counts as handled.
func (f *expressionFilter) Send(ctx context.Context, c *consume.Context, next pipe.Pipe[*consume.Context]) error {
	ok, err := Evaluate(ctx, f.program, c)
	if err != nil {
		metrics.IncExpressionEvaluation(c.Endpoint, ResultError)
		switch f.onError {
		case constants.FallbackAllow:
			metrics.IncFallbackUsage("expression", f.onError, "evaluation_error")
			f.logger.WarnwCtx(ctx, "Expression failed, passing message", "expression", f.expression, "error", err)
			return next.Send(ctx, c)
		case constants.FallbackDeny:
			metrics.IncFallbackUsage("expression", f.onError, "evaluation_error")
			f.logger.WarnwCtx(ctx, "Expression failed, dropping message", "expression", f.expression, "error", err)
			return nil
		default:
			return pkgerrors.ErrValidation.WithCause(err).
				WithDetail("message", "filter expression could not be evaluated").
				WithDetail("expression", f.expression)
		}
	}

	if !ok {
		metrics.IncExpressionEvaluation(c.Endpoint, ResultFiltered)
		f.logger.DebugwCtx(ctx, "Message filtered by expression", "expression", f.expression)
		return nil
	}

	metrics.IncExpressionEvaluation(c.Endpoint, ResultPassed)
	return next.Send(ctx, c)
}

func (f *expressionFilter) Probe(pc pipe.ProbeContext) {
	scope := pc.CreateFilterScope("expression")
	scope.Add("expression", f.expression)
	scope.Add("onError", f.onError)
}

type Option func(*expressionSpecification)

// WithOnError picks what happens when evaluation fails at runtime, e.g. on a
// missing payload field: constants.FallbackAllow, FallbackDeny or
// FallbackError (the default).
func WithOnError(fallback string) Option {
	return func(s *expressionSpecification) {
		s.onError = fallback
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *expressionSpecification) {
		s.logger = log
	}
}

type expressionSpecification struct {
	expression string
	onError    string
	logger     logger.Logger
	program    cel.Program
	compileErr error
}

// UseExpression filters messages with a CEL expression over id, type,
// correlation_id, source, endpoint, timestamp, payload and metadata.
func UseExpression(expression string, opts ...Option) pipe.Specification[*consume.Context] {
	s := &expressionSpecification{
		expression: expression,
		onError:    constants.FallbackError,
		logger:     logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	evaluator, err := NewEvaluator()
	if err != nil {
		s.compileErr = err
		return s
	}
	s.program, s.compileErr = evaluator.CompileFilter(expression)
	return s
}

func (s *expressionSpecification) Apply(b pipe.Builder[*consume.Context]) {
	metrics.RegisterPipelineMetrics()
	b.AddFilter(&expressionFilter{
		expression: s.expression,
		program:    s.program,
		onError:    s.onError,
		logger:     s.logger,
	})
}

func (s *expressionSpecification) Validate() []pipe.ValidationResult {
	var results []pipe.ValidationResult
	if s.expression == "" {
		return []pipe.ValidationResult{pipe.Failed("expression", "must not be empty")}
	}
	if s.compileErr != nil {
		results = append(results, pipe.Failed("expression", s.compileErr.Error()))
	}
	switch s.onError {
	case constants.FallbackAllow, constants.FallbackDeny, constants.FallbackError:
	default:
		results = append(results, pipe.Failed("expression.onError", "must be allow, deny or error"))
	}
	return results
}
