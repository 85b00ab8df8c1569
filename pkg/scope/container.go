// Package scope implements per-message dependency scopes.
//
// A Container holds registrations. Each inbound message gets its own Scope
// from Container.CreateScope; scoped services are created at most once per
// scope and released together when the scope is released.
package scope

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	pkgerrors "conduit/pkg/errors"
)

type Lifetime int

const (
	Transient Lifetime = iota
	Scoped
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Resolver resolves services by type.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
}

// Scope is a resolver that owns what it creates until Release.
type Scope interface {
	Resolver
	ID() string
	Release() error
}

// Provider opens scopes. *Container is the standard implementation.
type Provider interface {
	CreateScope(ctx context.Context) (Scope, error)
}

// Releaser and Closer are the release hooks honoured for owned instances.
type Releaser interface {
	Release() error
}

type Closer interface {
	Close() error
}

type factory func(r Resolver) (any, error)

type registration struct {
	typ      reflect.Type
	lifetime Lifetime
	create   factory
}

// Container holds service registrations and singleton instances.
type Container struct {
	mu            sync.RWMutex
	registrations map[reflect.Type]*registration

	// singletonMu serializes singleton construction. It is held for the whole
	// singleton graph, so nested singleton resolves must not take it again.
	singletonMu    sync.Mutex
	singletons     map[reflect.Type]any
	singletonOwned []any
	closed         bool
}

func NewContainer() *Container {
	return &Container{
		registrations: make(map[reflect.Type]*registration),
		singletons:    make(map[reflect.Type]any),
	}
}

func add[T any](c *Container, lifetime Lifetime, create func(r Resolver) (T, error)) {
	typ := reflect.TypeFor[T]()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[typ] = &registration{
		typ:      typ,
		lifetime: lifetime,
		create: func(r Resolver) (any, error) {
			return create(r)
		},
	}
}

// AddTransient registers T so that every resolve creates a new instance.
func AddTransient[T any](c *Container, create func(r Resolver) (T, error)) {
	add(c, Transient, create)
}

// AddScoped registers T so that each scope creates it at most once.
func AddScoped[T any](c *Container, create func(r Resolver) (T, error)) {
	add(c, Scoped, create)
}

// AddSingleton registers T so that the container creates it at most once.
func AddSingleton[T any](c *Container, create func(r Resolver) (T, error)) {
	add(c, Singleton, create)
}

// AddInstance registers an existing value as a singleton. The container does
// not release values it did not create.
func AddInstance[T any](c *Container, value T) {
	typ := reflect.TypeFor[T]()

	c.singletonMu.Lock()
	c.singletons[typ] = value
	c.singletonMu.Unlock()

	add(c, Singleton, func(Resolver) (T, error) { return value, nil })
}

func (c *Container) Registered(t reflect.Type) bool {
	_, ok := c.lookup(t)
	return ok
}

func IsRegistered[T any](c *Container) bool {
	return c.Registered(reflect.TypeFor[T]())
}

func (c *Container) lookup(t reflect.Type) (*registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.registrations[t]
	return reg, ok
}

// Resolve resolves singletons and transients from the root. Scoped services
// cannot be resolved outside a scope.
func (c *Container) Resolve(t reflect.Type) (any, error) {
	return (&resolution{container: c}).resolve(t)
}

func (c *Container) CreateScope(ctx context.Context) (Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.singletonMu.Lock()
	closed := c.closed
	c.singletonMu.Unlock()
	if closed {
		return nil, resolutionError(nil, "container is closed")
	}

	return &messageScope{
		id:        uuid.NewString(),
		container: c,
		instances: make(map[reflect.Type]any),
	}, nil
}

// Close releases the singletons and root transients the container created,
// in reverse creation order.
func (c *Container) Close() error {
	c.singletonMu.Lock()
	if c.closed {
		c.singletonMu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.singletonOwned
	c.singletonOwned = nil
	c.singletonMu.Unlock()

	return releaseAll(owned)
}

func (c *Container) singleton(reg *registration, r *resolution) (any, error) {
	if !r.holdsSingletonLock {
		c.singletonMu.Lock()
		defer c.singletonMu.Unlock()
	}
	if c.closed {
		return nil, resolutionError(reg.typ, "container is closed")
	}
	if v, ok := c.singletons[reg.typ]; ok {
		return v, nil
	}

	nested := r.push(reg.typ)
	nested.holdsSingletonLock = true
	nested.scope = nil
	nested.rootOwned = true

	v, err := reg.create(nested)
	if err != nil {
		return nil, resolutionError(reg.typ, "singleton factory failed").WithCause(err)
	}
	c.singletons[reg.typ] = v
	c.singletonOwned = append(c.singletonOwned, v)
	return v, nil
}

// trackRootOwned records a transient created while building a singleton.
// The caller already holds singletonMu.
func (c *Container) trackRootOwned(v any) {
	c.singletonOwned = append(c.singletonOwned, v)
}

// resolution carries the state of one resolve call through nested factory
// invocations: the chain of types being built and where instances belong.
type resolution struct {
	container          *Container
	scope              *messageScope
	stack              []reflect.Type
	holdsSingletonLock bool
	rootOwned          bool
}

func (r *resolution) push(t reflect.Type) *resolution {
	stack := make([]reflect.Type, len(r.stack), len(r.stack)+1)
	copy(stack, r.stack)
	return &resolution{
		container:          r.container,
		scope:              r.scope,
		stack:              append(stack, t),
		holdsSingletonLock: r.holdsSingletonLock,
		rootOwned:          r.rootOwned,
	}
}

func (r *resolution) Resolve(t reflect.Type) (any, error) {
	return r.resolve(t)
}

func (r *resolution) resolve(t reflect.Type) (any, error) {
	for _, inProgress := range r.stack {
		if inProgress == t {
			return nil, resolutionError(t, "dependency cycle: "+r.describeCycle(t))
		}
	}

	reg, ok := r.container.lookup(t)
	if !ok {
		return nil, resolutionError(t, "no registration")
	}

	switch reg.lifetime {
	case Singleton:
		return r.container.singleton(reg, r)
	case Scoped:
		if r.scope == nil {
			if r.rootOwned {
				return nil, resolutionError(t, "singleton cannot depend on scoped service")
			}
			return nil, resolutionError(t, "scoped service resolved outside a scope")
		}
		return r.scope.scoped(reg, r)
	default:
		v, err := reg.create(r.push(t))
		if err != nil {
			return nil, resolutionError(t, "transient factory failed").WithCause(err)
		}
		switch {
		case r.scope != nil:
			if err := r.scope.track(v); err != nil {
				releaseOne(v)
				return nil, err
			}
		case r.holdsSingletonLock:
			r.container.trackRootOwned(v)
		}
		return v, nil
	}
}

func (r *resolution) describeCycle(t reflect.Type) string {
	out := ""
	for _, step := range r.stack {
		out += step.String() + " -> "
	}
	return out + t.String()
}

// Resolve is the typed form of Resolver.Resolve.
func Resolve[T any](r Resolver) (T, error) {
	var zero T
	if r == nil {
		return zero, resolutionError(reflect.TypeFor[T](), "no resolver")
	}

	v, err := r.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, resolutionError(reflect.TypeFor[T](), fmt.Sprintf("registered factory produced %T", v))
	}
	return typed, nil
}

func resolutionError(t reflect.Type, reason string) *pkgerrors.Error {
	name := "<none>"
	if t != nil {
		name = t.String()
	}
	return pkgerrors.ErrResolution.
		WithDetail("message", fmt.Sprintf("resolve %s: %s", name, reason)).
		WithDetail("type", name)
}

func releaseAll(owned []any) error {
	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		if err := releaseOne(owned[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func releaseOne(v any) error {
	switch r := v.(type) {
	case Releaser:
		return r.Release()
	case Closer:
		return r.Close()
	default:
		return nil
	}
}
