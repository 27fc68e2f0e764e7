package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job records. Update applies the
// mutator under a per-record lock so status transitions are
// read-modify-write atomic; two concurrent updates on the same id never
// observe each other's stale read.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)
	// ListRecent returns jobs created at or after since, newest first.
	ListRecent(ctx context.Context, since time.Time) ([]*Job, error)
	// ListByStatus returns jobs currently in the given status, oldest first.
	ListByStatus(ctx context.Context, status JobStatus) ([]*Job, error)
}

// QuotaState is the persisted shape of one quota window.
type QuotaState struct {
	Window  string
	Usage   int
	ResetAt time.Time
}

// QuotaStore persists quota counters across restarts, keyed by window
// name ("daily", "monthly").
type QuotaStore interface {
	Load(ctx context.Context, window string) (*QuotaState, error)
	// Save persists all given windows as one atomic write, so a partial
	// failure never leaves the stored counters diverged from memory.
	Save(ctx context.Context, states []QuotaState) error
}

// QueueEntry is one deferred job reference. FIFO by QueuedAt, ties
// broken by insertion order.
type QueueEntry struct {
	JobID    string
	QueuedAt time.Time
}

// QueueStore is the durable FIFO holding area for deferred jobs.
type QueueStore interface {
	Enqueue(ctx context.Context, entry QueueEntry) error
	// PushFront reinserts an entry ahead of everything else, used when a
	// promotion loses the admission race.
	PushFront(ctx context.Context, entry QueueEntry) error
	// Pop removes and returns the oldest entry, ErrQueueEmpty when none.
	Pop(ctx context.Context) (QueueEntry, error)
	Len(ctx context.Context) (int, error)
}
