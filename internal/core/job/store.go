package job

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrNotReady         = errors.New("job has no engine handle yet")
	ErrDeleted          = errors.New("job is deleted")
	ErrHandleAlreadySet = errors.New("engine handle already set")
)

// Store is the durable job record contract. Implementations must be safe for
// concurrent use and hold no transaction across calls.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, includeDeleted bool) ([]*Job, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Job, error)
	// Update applies u unless the job is deleted.
	Update(ctx context.Context, id string, u Update) error
	// SetEngine records the dispatch result once and moves the job to
	// downloading. A second call fails with ErrHandleAlreadySet.
	SetEngine(ctx context.Context, id, engine, handle string) error
}
