package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/valpere/Importexter/internal/errors"
)

// MemoryRepository keeps jobs in process. A single mutex makes UpdateIf
// atomic.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

func (r *MemoryRepository) Create(ctx context.Context, jobs []*Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		if _, exists := r.jobs[j.ID]; exists {
			return errors.New(errors.KindInvalidState, "job %s already exists", j.ID)
		}
	}
	for _, j := range jobs {
		r.jobs[j.ID] = j.Clone()
	}
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "job %s not found", id)
	}
	return j.Clone(), nil
}

func (r *MemoryRepository) List(ctx context.Context, filter Filter) ([]*Job, error) {
	r.mu.Lock()
	var out []*Job
	for _, j := range r.jobs {
		if filter.Matches(j) {
			out = append(out, j.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (r *MemoryRepository) UpdateIf(ctx context.Context, job *Job, from Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[job.ID]
	if !ok {
		return false, errors.New(errors.KindNotFound, "job %s not found", job.ID)
	}
	if current.Status != from {
		return false, nil
	}
	r.jobs[job.ID] = job.Clone()
	return true, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return errors.New(errors.KindNotFound, "job %s not found", id)
	}
	delete(r.jobs, id)
	return nil
}

func page(jobs []*Job, offset, limit int) []*Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
