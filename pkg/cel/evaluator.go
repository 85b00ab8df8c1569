// Package cel evaluates CEL filter expressions against consumed messages.
package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"conduit/pkg/consume"
	"conduit/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("correlation_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("endpoint", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// CompileFilter compiles an expression that must yield a bool.
func (e *Evaluator) CompileFilter(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.CompileFilter(expression)
	return err
}

// EvaluateFilter compiles and runs expression once. Pipes use CompileFilter
// up front and Evaluate per message instead.
func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, c *consume.Context) (bool, error) {
	program, err := e.CompileFilter(expression)
	if err != nil {
		return false, err
	}
	return Evaluate(ctx, program, c)
}

func Evaluate(ctx context.Context, program cel.Program, c *consume.Context) (bool, error) {
	result, _, err := program.ContextEval(ctx, variables(c))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func variables(c *consume.Context) map[string]interface{} {
	vars := map[string]interface{}{
		"id":             c.MessageID(),
		"type":           c.MessageType(),
		"correlation_id": c.CorrelationID(),
		"endpoint":       c.Endpoint,
		"source":         "",
		"timestamp":      c.ReceivedAt,
		"payload":        map[string]interface{}{},
		"metadata":       map[string]interface{}{},
	}

	if env := c.Envelope; env != nil {
		vars["source"] = env.Source
		if !env.Timestamp.IsZero() {
			vars["timestamp"] = env.Timestamp
		}
		if env.Payload != nil {
			vars["payload"] = env.Payload
		}
		vars["metadata"] = metadataToMap(env.Metadata)
	}

	return vars
}

func metadataToMap(metadata models.Metadata) map[string]interface{} {
	result := make(map[string]interface{})

	if metadata.TraceID != "" {
		result["trace_id"] = metadata.TraceID
	}

	if metadata.Delivery != nil {
		result["delivery"] = map[string]interface{}{
			"topic":     metadata.Delivery.Topic,
			"partition": metadata.Delivery.Partition,
			"offset":    metadata.Delivery.Offset,
			"attempt":   metadata.Delivery.Attempt,
		}
	}

	if metadata.Inbox != nil {
		result["inbox"] = map[string]interface{}{
			"is_unique":  metadata.Inbox.IsUnique,
			"checked_at": metadata.Inbox.CheckedAt,
		}
	}

	return result
}
