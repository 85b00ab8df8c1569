package saga

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. Stored records are never mutated;
// every write swaps in a fresh copy.
type MemoryStore struct {
	records sync.Map // key -> *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func memoryKey(saga, correlationID string) string {
	return saga + "/" + correlationID
}

func (s *MemoryStore) Load(ctx context.Context, saga, correlationID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.records.Load(memoryKey(saga, correlationID))
	if !ok {
		return nil, ErrRecordNotFound
	}
	return v.(*Record).clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, loaded := s.records.LoadOrStore(memoryKey(record.Saga, record.CorrelationID), record.clone()); loaded {
		return ErrRecordExists
	}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, record *Record, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := memoryKey(record.Saga, record.CorrelationID)

	current, ok := s.records.Load(key)
	if !ok {
		return ErrRecordNotFound
	}
	if current.(*Record).Version != expectedVersion {
		return ErrVersionConflict
	}
	if !s.records.CompareAndSwap(key, current, record.clone()) {
		return ErrVersionConflict
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, saga, correlationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, loaded := s.records.LoadAndDelete(memoryKey(saga, correlationID)); !loaded {
		return ErrRecordNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteVersion(ctx context.Context, saga, correlationID string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := memoryKey(saga, correlationID)

	current, ok := s.records.Load(key)
	if !ok {
		return ErrRecordNotFound
	}
	if current.(*Record).Version != expectedVersion {
		return ErrVersionConflict
	}
	if !s.records.CompareAndDelete(key, current) {
		return ErrVersionConflict
	}
	return nil
}

// Count returns the number of records stored for saga.
func (s *MemoryStore) Count(saga string) int {
	n := 0
	prefix := saga + "/"
	s.records.Range(func(key, _ any) bool {
		if k := key.(string); len(k) > len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
		return true
	})
	return n
}
