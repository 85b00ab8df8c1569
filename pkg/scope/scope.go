package scope

import (
	"reflect"
	"sync"
)

type messageScope struct {
	id        string
	container *Container

	mu        sync.Mutex
	instances map[reflect.Type]any
	owned     []any
	released  bool

	releaseOnce sync.Once
	releaseErr  error
}

func (s *messageScope) ID() string {
	return s.id
}

func (s *messageScope) Resolve(t reflect.Type) (any, error) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return nil, resolutionError(t, "scope "+s.id+" already released")
	}

	return (&resolution{container: s.container, scope: s}).resolve(t)
}

// scoped returns the instance cached in this scope, creating it if needed.
// The factory runs without the scope lock so it can resolve further services;
// if two callers race, the first stored instance wins and the other is
// released immediately.
func (s *messageScope) scoped(reg *registration, r *resolution) (any, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, resolutionError(reg.typ, "scope "+s.id+" already released")
	}
	if v, ok := s.instances[reg.typ]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	created, err := reg.create(r.push(reg.typ))
	if err != nil {
		return nil, resolutionError(reg.typ, "scoped factory failed").WithCause(err)
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = releaseOne(created)
		return nil, resolutionError(reg.typ, "scope "+s.id+" released during resolve")
	}
	if existing, ok := s.instances[reg.typ]; ok {
		s.mu.Unlock()
		_ = releaseOne(created)
		return existing, nil
	}
	s.instances[reg.typ] = created
	s.owned = append(s.owned, created)
	s.mu.Unlock()

	return created, nil
}

func (s *messageScope) track(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return resolutionError(reflect.TypeOf(v), "scope "+s.id+" released during resolve")
	}
	s.owned = append(s.owned, v)
	return nil
}

// Release releases every owned instance in reverse creation order. Only the
// first call does any work; later calls return the same result.
func (s *messageScope) Release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		owned := s.owned
		s.owned = nil
		s.instances = nil
		s.mu.Unlock()

		s.releaseErr = releaseAll(owned)
	})
	return s.releaseErr
}
