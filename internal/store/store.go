// Package store persists scrape jobs. The job controller owns all
// mutations; the store provides insert/lookup synchronization and snapshot
// reads for concurrent callers.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scrapeease/scrapeease/internal/model"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = eris.New("store: job not found")
	// ErrInvalidTransition is returned when a state write would move a job
	// backward or out of a terminal state.
	ErrInvalidTransition = eris.New("store: invalid state transition")
)

// transitionSources lists the states a job may be in for a move to target
// to be legal. Backends restrict state writes to these sources so the
// forward-only lifecycle holds even under concurrent writers.
func transitionSources(to model.JobState) []model.JobState {
	var out []model.JobState
	for _, from := range model.JobStates() {
		if model.CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State  model.JobState `json:"state,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

// Store defines the persistence interface for scrape jobs.
type Store interface {
	CreateJob(ctx context.Context, job model.ScrapeJob) error
	UpdateState(ctx context.Context, jobID string, state model.JobState) error
	SetStrategy(ctx context.Context, jobID string, strat model.Strategy) error
	SetResult(ctx context.Context, jobID string, dataset *model.NormalizedDataset, warnings []string) error
	SetFailure(ctx context.Context, jobID string, reason model.FailReason, msg string) error
	GetJob(ctx context.Context, jobID string) (model.ScrapeJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error)
	DeleteJob(ctx context.Context, jobID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
