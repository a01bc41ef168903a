package egress

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("egress: job not found")

// Repository stores the latest observation of each job.
type Repository interface {
	Save(ctx context.Context, j Job) error
	Get(ctx context.Context, egressID string) (Job, error)
}

type MemoryRepo struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{jobs: make(map[string]Job)}
}

func (r *MemoryRepo) Save(_ context.Context, j Job) error {
	if j.EgressID == "" {
		return errors.New("egress: job without egress id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.EgressID] = j.clone()
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, egressID string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[egressID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.clone(), nil
}

// Tee writes to every repository and reads from the first.
type Tee []Repository

func (t Tee) Save(ctx context.Context, j Job) error {
	var errs []error
	for _, r := range t {
		if err := r.Save(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Get(ctx context.Context, egressID string) (Job, error) {
	if len(t) == 0 {
		return Job{}, ErrNotFound
	}
	return t[0].Get(ctx, egressID)
}
