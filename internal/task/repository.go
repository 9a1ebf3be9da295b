package task

import "context"

type ListFilter struct {
	ClientID string
	Status   Status
	Type     Type
	Limit    int
}

type Repository interface {
	Create(ctx context.Context, t *Task) error
	// Update writes t if its Version still matches the stored row and bumps
	// Version; otherwise it returns ErrStale.
	Update(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f ListFilter) ([]Task, error)
	// ClaimQueued moves the oldest QUEUED (or PENDING) task of one of the
	// given types to IN_PROGRESS. It returns nil when there is none.
	ClaimQueued(ctx context.Context, types []Type) (*Task, error)
	RecoverStale(ctx context.Context, types []Type) (int64, error)
}

// ClientDirectory resolves a client to the user who owns it.
type ClientDirectory interface {
	Owner(ctx context.Context, clientID string) (string, error)
}

// Observer is told about every persisted transition, synchronously.
type Observer interface {
	TaskChanged(ctx context.Context, t *Task, tr Transition)
}
