// Package batch drives one generation run end to end: it pulls combinations
// from a dimension model under a shared cursor, renders and quality-gates
// each one with bounded concurrency, publishes survivors through a
// rate-limited Publisher, and keeps a crash-safe, externally controllable
// per-job state machine with pause/resume/cancel/rollback.
package batch

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pagefab/publish"
)

// ErrNotFound is returned for an unknown job ID.
var ErrNotFound = errors.New("batch: job not found")

// Status is the batch-job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions is the complete legal edge set. Everything else is rejected
// with an InvalidTransitionError; terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError names both the current and the attempted state.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("batch: job %s: invalid transition from %s to %s", e.JobID, e.From, e.To)
}

// Counters track per-run outcomes. Skipped counts render failures, Rejected
// quality-gate failures, Failed exhausted publish retries.
type Counters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
	Published int `json:"published"`
}

// PublishedPage is one page created during the run, retained for rollback.
type PublishedPage struct {
	Ref            publish.PageRef `json:"ref"`
	CombinationKey string          `json:"combination_key"`
	RolledBack     bool            `json:"rolled_back"`
}

// Job is the persisted record of one generation run. It is mutated only by
// the Queue; terminal states are immutable.
type Job struct {
	ID         string    `json:"id"`
	ModelName  string    `json:"model"`
	TemplateID string    `json:"template"`
	Status     Status    `json:"status"`
	Counters   Counters  `json:"counters"`
	CursorPos  int64     `json:"cursor_pos"`
	MaxPages   int       `json:"max_pages"`
	Thresholds string    `json:"-"` // JSON-encoded quality thresholds
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Pages []PublishedPage `json:"pages,omitempty"`
}
