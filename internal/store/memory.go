package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scrapeease/scrapeease/internal/model"
)

// MemoryStore keeps jobs in a mutex-guarded map. Reads return snapshots so
// concurrent status polls never observe a job mid-mutation. The default
// backend; suitable for single-process deployments and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.ScrapeJob
}

// NewMemory creates an empty in-memory job store.
func NewMemory() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.ScrapeJob)}
}

func (s *MemoryStore) CreateJob(_ context.Context, job model.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job.Snapshot()
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateState(_ context.Context, jobID string, state model.JobState) error {
	return s.transition(jobID, state, func(j *model.ScrapeJob) {
		j.State = state
	})
}

func (s *MemoryStore) SetStrategy(_ context.Context, jobID string, strat model.Strategy) error {
	return s.mutate(jobID, func(j *model.ScrapeJob) {
		j.Strategy = &strat
	})
}

func (s *MemoryStore) SetResult(_ context.Context, jobID string, dataset *model.NormalizedDataset, warnings []string) error {
	return s.transition(jobID, model.JobStateCompleted, func(j *model.ScrapeJob) {
		j.State = model.JobStateCompleted
		j.Dataset = dataset
		j.Warnings = append(j.Warnings, warnings...)
	})
}

func (s *MemoryStore) SetFailure(_ context.Context, jobID string, reason model.FailReason, msg string) error {
	return s.transition(jobID, model.JobStateFailed, func(j *model.ScrapeJob) {
		j.State = model.JobStateFailed
		j.FailReason = reason
		j.Error = msg
	})
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (model.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return model.ScrapeJob{}, ErrNotFound
	}
	return j.Snapshot(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ScrapeJob
	for _, j := range s.jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) mutate(jobID string, fn func(*model.ScrapeJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// transition is mutate with the forward-only lifecycle guard.
func (s *MemoryStore) transition(jobID string, to model.JobState, fn func(*model.ScrapeJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !model.CanTransition(j.State, to) {
		return ErrInvalidTransition
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}
