package consume

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"conduit/pkg/scope"
)

// Consumer handles one message.
type Consumer interface {
	Consume(ctx context.Context, c *Context) error
}

type ConsumerFunc func(ctx context.Context, c *Context) error

func (f ConsumerFunc) Consume(ctx context.Context, c *Context) error {
	return f(ctx, c)
}

// Registry maps message types to the consumers connected to them, in
// connection order.
type Registry struct {
	mu        sync.RWMutex
	consumers map[string][]Consumer
}

func NewRegistry() *Registry {
	return &Registry{consumers: make(map[string][]Consumer)}
}

func (r *Registry) Connect(messageType string, consumer Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[messageType] = append(r.consumers[messageType], consumer)
}

func (r *Registry) ConnectFunc(messageType string, fn func(ctx context.Context, c *Context) error) {
	r.Connect(messageType, ConsumerFunc(fn))
}

// ConnectScoped connects a consumer that is resolved from the message's
// active scope each time a message of messageType is dispatched. The scope is
// required: without one the message faults with a resolution error.
func ConnectScoped[T Consumer](r *Registry, messageType string) {
	r.Connect(messageType, &scopedConsumer[T]{})
}

type scopedConsumer[T Consumer] struct{}

func (s *scopedConsumer[T]) Consume(ctx context.Context, c *Context) error {
	consumer, err := scope.Current[T](c)
	if err != nil {
		return err
	}
	return consumer.Consume(ctx, c)
}

func (s *scopedConsumer[T]) String() string {
	return fmt.Sprintf("scoped(%s)", reflect.TypeFor[T]())
}

func (r *Registry) Consumers(messageType string) []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := r.consumers[messageType]
	out := make([]Consumer, len(found))
	copy(out, found)
	return out
}

func (r *Registry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.consumers))
	for t := range r.consumers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, cs := range r.consumers {
		n += len(cs)
	}
	return n
}
