package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// MemoryStore keeps jobs in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*model.Job),
		now:  time.Now,
	}
}

// Create implements Store
func (s *MemoryStore) Create(_ context.Context, job *model.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneJob(job)
	prepareJob(c, s.now())
	if _, exists := s.jobs[c.ID]; exists {
		return "", fmt.Errorf("job already exists: %s", c.ID)
	}
	s.jobs[c.ID] = c
	return c.ID, nil
}

// Find implements Store
func (s *MemoryStore) Find(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return cloneJob(job), nil
}

// FindByLink implements Store. The oldest matching job wins.
func (s *MemoryStore) FindByLink(ctx context.Context, link string) (*model.Job, error) {
	jobs, err := s.List(ctx, Filter{Link: link})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, platform.NormalizeLink(link))
	}
	return jobs[0], nil
}

// SetStatus implements Store
func (s *MemoryStore) SetStatus(_ context.Context, id string, status model.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if job.Status == status {
		return false, nil
	}
	job.Status = status
	return true, nil
}

// MarkDone implements Store
func (s *MemoryStore) MarkDone(_ context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	job.Status = model.StatusDone
	job.Path = path
	job.CompletedAt = s.now()
	return nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Job
	for _, job := range s.jobs {
		if filter.Match(job) {
			out = append(out, cloneJob(job))
		}
	}
	sortJobs(out)
	return out, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// ResetStale implements Store
func (s *MemoryStore) ResetStale(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if !job.Status.IsRestSafe() {
			job.Status = model.StatusQueued
			n++
		}
	}
	return n, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
