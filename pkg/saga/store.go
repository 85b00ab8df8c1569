package saga

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound  = errors.New("saga record not found")
	ErrRecordExists    = errors.New("saga record already exists")
	ErrVersionConflict = errors.New("saga record version conflict")
)

// Record is the persisted form of a saga instance. State holds the encoded
// saga data; stores never interpret it.
type Record struct {
	Saga          string    `json:"saga" bson:"saga"`
	CorrelationID string    `json:"correlation_id" bson:"correlation_id"`
	Version       int64     `json:"version" bson:"version"`
	State         []byte    `json:"state" bson:"state"`
	Completed     bool      `json:"completed" bson:"completed"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.State = append([]byte(nil), r.State...)
	return &out
}

// Store persists saga records. Implementations must make Insert fail with
// ErrRecordExists when the record is already present, and Update and
// DeleteVersion fail with ErrVersionConflict when the stored version is not
// expectedVersion; those checks are what keep a single instance per
// correlation id across processes. Delete is unconditional and serves
// operators.
type Store interface {
	Load(ctx context.Context, saga, correlationID string) (*Record, error)
	Insert(ctx context.Context, record *Record) error
	Update(ctx context.Context, record *Record, expectedVersion int64) error
	Delete(ctx context.Context, saga, correlationID string) error
	DeleteVersion(ctx context.Context, saga, correlationID string, expectedVersion int64) error
}

// IsRecordOutcome reports whether err is one of the expected store answers
// rather than a backend failure.
func IsRecordOutcome(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrRecordExists) ||
		errors.Is(err, ErrVersionConflict)
}
