package model

import "time"

// JobState is a scrape job's lifecycle phase. States only move forward;
// failed is reachable from any non-terminal state.
type JobState string

const (
	JobStatePending            JobState = "pending"
	JobStateValidating         JobState = "validating"
	JobStateDetectingStructure JobState = "detecting_structure"
	JobStateCrawling           JobState = "crawling"
	JobStateNormalizing        JobState = "normalizing"
	JobStateCompleted          JobState = "completed"
	JobStateFailed             JobState = "failed"
)

// JobStates lists every lifecycle state.
func JobStates() []JobState {
	return []JobState{
		JobStatePending,
		JobStateValidating,
		JobStateDetectingStructure,
		JobStateCrawling,
		JobStateNormalizing,
		JobStateCompleted,
		JobStateFailed,
	}
}

// Valid reports whether s is a known lifecycle state.
func (s JobState) Valid() bool {
	if s == JobStateFailed {
		return true
	}
	_, ok := stateOrder[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

var stateOrder = map[JobState]int{
	JobStatePending:            0,
	JobStateValidating:         1,
	JobStateDetectingStructure: 2,
	JobStateCrawling:           3,
	JobStateNormalizing:        4,
	JobStateCompleted:          5,
}

// CanTransition reports whether moving from one state to the next is legal.
// Forward moves may skip intermediate states.
func CanTransition(from, to JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStateFailed {
		return true
	}
	fromOrd, ok1 := stateOrder[from]
	toOrd, ok2 := stateOrder[to]
	return ok1 && ok2 && toOrd > fromOrd
}

// FailReason tags a failed job with a machine-readable cause.
type FailReason string

const (
	FailValidation       FailReason = "validation_error"
	FailPolicy           FailReason = "policy_error"
	FailFetch            FailReason = "fetch_error"
	FailNoStructure      FailReason = "no_structure_found"
	FailNoViableStrategy FailReason = "no_viable_strategy"
	FailInvalidOverride  FailReason = "invalid_override"
	FailCrawl            FailReason = "crawl_error"
	FailCancelled        FailReason = "cancelled"
	FailInternal         FailReason = "internal_error"
)

// ScrapeJob tracks one asynchronous scrape from submission to result.
type ScrapeJob struct {
	ID         string             `json:"id"`
	URL        string             `json:"url"`
	MaxPages   int                `json:"max_pages"`
	Strategy   *Strategy          `json:"strategy,omitempty"`
	State      JobState           `json:"state"`
	FailReason FailReason         `json:"fail_reason,omitempty"`
	Error      string             `json:"error,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Dataset    *NormalizedDataset `json:"dataset,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Snapshot returns a copy safe to hand to callers while the job mutates.
// The dataset pointer is shared; datasets are never modified once set.
func (j *ScrapeJob) Snapshot() ScrapeJob {
	cp := *j
	if j.Strategy != nil {
		strat := *j.Strategy
		cp.Strategy = &strat
	}
	if j.Warnings != nil {
		cp.Warnings = append([]string(nil), j.Warnings...)
	}
	return cp
}
