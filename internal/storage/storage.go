package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bdougie/cutout/internal/models"
)

var ErrNotFound = errors.New("job not found")

// Store defines the interface for persisting job records
type Store interface {
	// Create saves a new job
	Create(ctx context.Context, job *models.Job) error

	// Update overwrites the stored job with the same ID
	Update(ctx context.Context, job *models.Job) error

	// Get returns a copy of the job, or ErrNotFound
	Get(ctx context.Context, id string) (*models.Job, error)

	// List returns up to limit jobs, newest first
	List(ctx context.Context, limit int) ([]*models.Job, error)

	Close()
}

// MemoryStore keeps jobs in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.New("job already exists: " + job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Update(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.RLock()
	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		j := j
		jobs = append(jobs, &j)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID > jobs[b].ID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) Close() {}
