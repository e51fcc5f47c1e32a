package batch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pagefab/observability"
	"github.com/hazyhaar/pagefab/publish"
)

// RollbackMode selects what happens to published pages.
type RollbackMode string

const (
	// RollbackDraft sets pages back to an unpublished draft state.
	RollbackDraft RollbackMode = "draft"
	// RollbackDelete removes pages from the target.
	RollbackDelete RollbackMode = "delete"
)

// Per-page rollback outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeAlreadyHandled = "already_handled"
	OutcomeFailed         = "failed"
)

// PageResult is the rollback outcome for one page.
type PageResult struct {
	Ref     publish.PageRef `json:"ref"`
	Outcome string          `json:"outcome"`
	Error   string          `json:"error,omitempty"`
}

// RollbackReport is always per-page, never all-or-nothing.
type RollbackReport struct {
	JobID   string       `json:"job_id"`
	Mode    RollbackMode `json:"mode"`
	Results []PageResult `json:"results"`
	Partial bool         `json:"partial"`
}

// Status is "ok" or "partial_failure".
func (r *RollbackReport) Status() string {
	if r.Partial {
		return "partial_failure"
	}
	return "ok"
}

// Rollback walks the job's published-page list and drafts or deletes each
// page. It is idempotent: a page already rolled back is reported as
// already-handled, not re-attempted. The job must not have an active run.
func (q *Queue) Rollback(ctx context.Context, jobID string, mode RollbackMode) (*RollbackReport, error) {
	if mode != RollbackDraft && mode != RollbackDelete {
		return nil, fmt.Errorf("batch: unknown rollback mode %q", mode)
	}

	q.mu.Lock()
	active := q.runs[jobID] != nil
	q.mu.Unlock()
	if active {
		return nil, fmt.Errorf("%w: %s, pause or cancel it first", ErrJobActive, jobID)
	}

	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &RollbackReport{JobID: jobID, Mode: mode}
	for _, page := range job.Pages {
		if page.RolledBack {
			report.Results = append(report.Results, PageResult{
				Ref: page.Ref, Outcome: OutcomeAlreadyHandled,
			})
			continue
		}

		var opErr error
		switch mode {
		case RollbackDraft:
			opErr = q.deps.Publisher.SetStatus(ctx, page.Ref, publish.StatusDraft)
		case RollbackDelete:
			opErr = q.deps.Publisher.DeletePage(ctx, page.Ref)
		}
		if opErr != nil {
			report.Partial = true
			report.Results = append(report.Results, PageResult{
				Ref: page.Ref, Outcome: OutcomeFailed, Error: opErr.Error(),
			})
			continue
		}
		if err := q.store.MarkRolledBack(ctx, jobID, page.Ref.ID); err != nil {
			// The target-side change stuck; report it, but the page
			// will be re-reported as failed bookkeeping next time.
			report.Partial = true
			report.Results = append(report.Results, PageResult{
				Ref: page.Ref, Outcome: OutcomeFailed, Error: err.Error(),
			})
			continue
		}
		report.Results = append(report.Results, PageResult{Ref: page.Ref, Outcome: OutcomeOK})
	}

	q.deps.Events.LogEvent(ctx, observability.Event{
		EventType: "job_rollback", EntityType: "job", EntityID: jobID,
		Action: string(mode), Success: !report.Partial,
	})
	return report, nil
}
