package pipe

import (
	"fmt"
	"sync"
)

// Context is the capability a message context type must provide to travel
// through a Pipe: a payload bag owned by exactly one in-flight message.
type Context interface {
	Payloads() *Payloads
}

type keyIdentity struct {
	name string
}

// Key identifies a typed payload. Keys compare by the NewKey call that
// created them, never by name, so two filters asking for "scope" with
// separately created keys never see each other's values.
type Key[T any] struct {
	id *keyIdentity
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{id: &keyIdentity{name: name}}
}

func (k Key[T]) Name() string {
	if k.id == nil {
		return ""
	}
	return k.id.name
}

func (k Key[T]) String() string {
	return fmt.Sprintf("payload(%s)", k.Name())
}

// Payloads is the per-message key/value bag. The zero value is ready to use.
type Payloads struct {
	mu     sync.RWMutex
	values map[*keyIdentity]any
}

func (p *Payloads) load(id *keyIdentity) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[id]
	return v, ok
}

func (p *Payloads) store(id *keyIdentity, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[*keyIdentity]any)
	}
	p.values[id] = v
}

func (p *Payloads) remove(id *keyIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, id)
}

// Len returns the number of payloads currently stored.
func (p *Payloads) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.values)
}

// TryGetPayload returns the payload stored under key, if any.
func TryGetPayload[T any](c Context, key Key[T]) (T, bool) {
	var zero T
	if key.id == nil {
		return zero, false
	}
	v, ok := c.Payloads().load(key.id)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// GetOrAddPayload returns the existing payload or stores the one produced by
// factory. The factory runs outside the bag's lock; if another caller stored a
// value first, that value wins and the factory result is discarded.
func GetOrAddPayload[T any](c Context, key Key[T], factory func() (T, error)) (T, error) {
	if existing, ok := TryGetPayload(c, key); ok {
		return existing, nil
	}

	created, err := factory()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s: %w", key, err)
	}

	bag := c.Payloads()
	bag.mu.Lock()
	defer bag.mu.Unlock()
	if bag.values == nil {
		bag.values = make(map[*keyIdentity]any)
	}
	if v, ok := bag.values[key.id]; ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	bag.values[key.id] = created
	return created, nil
}

func AddOrUpdatePayload[T any](c Context, key Key[T], value T) {
	c.Payloads().store(key.id, value)
}

// SetPayload stores value under key and returns a function that puts back
// whatever was there before (or removes the key if nothing was).
func SetPayload[T any](c Context, key Key[T], value T) (restore func()) {
	bag := c.Payloads()
	previous, hadPrevious := bag.load(key.id)
	bag.store(key.id, value)

	return func() {
		if hadPrevious {
			bag.store(key.id, previous)
			return
		}
		bag.remove(key.id)
	}
}
