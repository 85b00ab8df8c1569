package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"conduit/pkg/saga"
)

// SagaInstance is the JSON view of one stored saga instance.
type SagaInstance struct {
	Saga          string    `json:"saga"`
	CorrelationID string    `json:"correlation_id"`
	Version       int64     `json:"version"`
	Completed     bool      `json:"completed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	State         any       `json:"state"`
}

// SagaView exposes one saga repository to the admin API without its state
// type.
type SagaView interface {
	Name() string
	Find(ctx context.Context, id uuid.UUID) (*SagaInstance, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repositoryView[T any] struct {
	repository *saga.Repository[T]
}

func ViewOf[T any](repository *saga.Repository[T]) SagaView {
	return &repositoryView[T]{repository: repository}
}

func (v *repositoryView[T]) Name() string {
	return v.repository.Name()
}

func (v *repositoryView[T]) Find(ctx context.Context, id uuid.UUID) (*SagaInstance, error) {
	instance, err := v.repository.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SagaInstance{
		Saga:          v.repository.Name(),
		CorrelationID: instance.CorrelationID.String(),
		Version:       instance.Version,
		Completed:     instance.Completed,
		CreatedAt:     instance.CreatedAt,
		UpdatedAt:     instance.UpdatedAt,
		State:         instance.State,
	}, nil
}

func (v *repositoryView[T]) Delete(ctx context.Context, id uuid.UUID) error {
	return v.repository.Delete(ctx, id)
}
