// Package memrepo provides in-memory implementations of the persistence
// interfaces. They back tests and local/CI runs where no DATABASE_URL
// is configured.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"dropgen/internal/domain"
)

type jobEntry struct {
	mu  sync.Mutex
	job domain.Job
}

// JobStore is a map-backed domain.JobRepository with per-record locking.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*jobEntry)}
}

func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &jobEntry{job: cloneJob(job)}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := cloneJob(&e.job)
	return &out, nil
}

// Update applies mutate under the record's lock; concurrent updates on
// the same id serialize and never observe stale reads.
func (s *JobStore) Update(ctx context.Context, id string, mutate func(*domain.Job) error) (*domain.Job, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := cloneJob(&e.job)
	if err := mutate(&working); err != nil {
		return nil, err
	}
	e.job = cloneJob(&working)
	return &working, nil
}

func (s *JobStore) ListRecent(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	return s.list(func(j *domain.Job) bool { return !j.CreatedAt.Before(since) }, func(a, b *domain.Job) bool {
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return s.list(func(j *domain.Job) bool { return j.Status == status }, func(a, b *domain.Job) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *JobStore) list(keep func(*domain.Job) bool, less func(a, b *domain.Job) bool) ([]*domain.Job, error) {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*domain.Job
	for _, e := range entries {
		e.mu.Lock()
		j := cloneJob(&e.job)
		e.mu.Unlock()
		if keep(&j) {
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return less(out[i], out[k]) })
	return out, nil
}

func cloneJob(j *domain.Job) domain.Job {
	out := *j
	if j.Result != nil {
		out.Result = append([]string(nil), j.Result...)
	}
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.FailedAt = cloneTime(j.FailedAt)
	out.LastPolledAt = cloneTime(j.LastPolledAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// QuotaStore is a map-backed domain.QuotaStore.
type QuotaStore struct {
	mu     sync.Mutex
	states map[string]domain.QuotaState
}

// NewQuotaStore creates an empty in-memory quota store.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{states: make(map[string]domain.QuotaState)}
}

func (s *QuotaStore) Load(ctx context.Context, window string) (*domain.QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[window]
	if !ok {
		return nil, nil
	}
	out := state
	return &out, nil
}

func (s *QuotaStore) Save(ctx context.Context, states []domain.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range states {
		s.states[state.Window] = state
	}
	return nil
}

// QueueStore is a slice-backed FIFO domain.QueueStore.
type QueueStore struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
}

// NewQueueStore creates an empty in-memory queue.
func NewQueueStore() *QueueStore {
	return &QueueStore{}
}

func (s *QueueStore) Enqueue(ctx context.Context, entry domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *QueueStore) PushFront(ctx context.Context, entry domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]domain.QueueEntry{entry}, s.entries...)
	return nil
}

func (s *QueueStore) Pop(ctx context.Context) (domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return domain.QueueEntry{}, domain.ErrQueueEmpty
	}
	entry := s.entries[0]
	s.entries = s.entries[1:]
	return entry, nil
}

func (s *QueueStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
