// Package pipe provides typed, immutable filter chains.
//
// A Pipe is built once from an ordered list of specifications and then shared
// by every message that flows through it. Each Filter receives the message
// context and the remainder of the chain; calling next.Send continues, not
// calling it stops the chain without failing, and returning an error unwinds
// the chain back to the caller.
//
//	p, err := pipe.Build[*consume.Context](
//		scope.UseScope[*consume.Context](container),
//		identity.UseCorrelationIdentity[*consume.Context](),
//		consume.UseDispatch(registry),
//	)
package pipe

import (
	"context"
)

// Pipe executes a frozen filter chain for one context type.
type Pipe[C Context] interface {
	Send(ctx context.Context, c C) error
	Probe(pc ProbeContext)
}

// Filter is one step of a pipe.
type Filter[C Context] interface {
	Send(ctx context.Context, c C, next Pipe[C]) error
	Probe(pc ProbeContext)
}

// FilterFunc adapts a function to a Filter.
type FilterFunc[C Context] func(ctx context.Context, c C, next Pipe[C]) error

func (f FilterFunc[C]) Send(ctx context.Context, c C, next Pipe[C]) error {
	return f(ctx, c, next)
}

func (f FilterFunc[C]) Probe(pc ProbeContext) {
	pc.CreateFilterScope("func")
}

type namedFilterFunc[C Context] struct {
	name string
	fn   FilterFunc[C]
}

// NewFilterFunc wraps fn so that it shows up under name when probed.
func NewFilterFunc[C Context](name string, fn FilterFunc[C]) Filter[C] {
	return &namedFilterFunc[C]{name: name, fn: fn}
}

func (f *namedFilterFunc[C]) Send(ctx context.Context, c C, next Pipe[C]) error {
	return f.fn(ctx, c, next)
}

func (f *namedFilterFunc[C]) Probe(pc ProbeContext) {
	pc.CreateFilterScope(f.name)
}

// filterNode binds one filter to the rest of the chain. Nodes are created at
// build time and never modified afterwards.
type filterNode[C Context] struct {
	filter Filter[C]
	next   Pipe[C]
}

func (n *filterNode[C]) Send(ctx context.Context, c C) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.filter.Send(ctx, c, n.next)
}

func (n *filterNode[C]) Probe(pc ProbeContext) {
	n.filter.Probe(pc)
	n.next.Probe(pc)
}

type emptyPipe[C Context] struct{}

func (emptyPipe[C]) Send(context.Context, C) error { return nil }

func (emptyPipe[C]) Probe(ProbeContext) {}

// Empty returns a pipe with no filters.
func Empty[C Context]() Pipe[C] {
	return emptyPipe[C]{}
}

// New freezes filters into a pipe, first filter outermost.
func New[C Context](filters ...Filter[C]) Pipe[C] {
	var p Pipe[C] = emptyPipe[C]{}
	for i := len(filters) - 1; i >= 0; i-- {
		p = &filterNode[C]{filter: filters[i], next: p}
	}
	return p
}
