package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/pagefab/compose"
	"github.com/hazyhaar/pagefab/dimension"
	"github.com/hazyhaar/pagefab/idgen"
	"github.com/hazyhaar/pagefab/observability"
	"github.com/hazyhaar/pagefab/publish"
	"github.com/hazyhaar/pagefab/quality"
)

// ErrJobActive is returned when an operation needs the job's run drained
// first (e.g. rollback while workers are still publishing).
var ErrJobActive = fmt.Errorf("batch: job has an active run")

// FragmentProvider supplies pre-rendered content fragments per combination.
// Content generation is an external collaborator.
type FragmentProvider interface {
	Fragments(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error)
}

// Registrar receives successfully published pages, typically the indexing
// service. Registration failures are logged, never fatal to the run.
type Registrar interface {
	RegisterPublished(ctx context.Context, ref publish.PageRef) error
}

// Config tunes one queue. Zero values take defaults.
type Config struct {
	// Workers is the worker-pool width per job. Default: 4.
	Workers int
	// RatePerSecond throttles publish calls per job, independent of
	// worker count. Default: 2.
	RatePerSecond float64
	// RateBurst is the limiter burst. Default: 1.
	RateBurst int
	// PublishAttempts bounds transient-failure retries. Default: 3.
	PublishAttempts int
	// RetryBase is the first backoff delay. Default: 500ms.
	RetryBase time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
}

// Deps wires the queue's collaborators. Registrar and Events may be nil.
type Deps struct {
	Models    map[string]*dimension.Model
	Templates map[string]*compose.Template
	Registry  *compose.Registry
	Corpus    quality.Store
	Publisher publish.Publisher
	Fragments FragmentProvider
	Registrar Registrar
	Events    *observability.EventLogger
	Logger    *slog.Logger
	NewJobID  idgen.Generator
}

// Queue drives generation runs. One Queue serves all jobs; each job gets
// its own worker pool, cursor, and rate limiter.
type Queue struct {
	store *Store
	deps  Deps
	cfg   Config
	log   *slog.Logger

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
}

// run is the in-process state of one active job.
type run struct {
	jobID  string
	pause  atomic.Bool
	cancel atomic.Bool
	done   chan struct{}
}

// New creates a Queue. Call Close to drain active runs on shutdown.
func New(store *Store, deps Deps, cfg Config) *Queue {
	cfg.defaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewJobID == nil {
		deps.NewJobID = idgen.Prefixed("job_", idgen.Default)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:           store,
		deps:            deps,
		cfg:             cfg,
		log:             deps.Logger,
		lifecycleCtx:    ctx,
		lifecycleCancel: cancel,
		runs:            make(map[string]*run),
	}
}

// Close stops drawing new combinations everywhere and waits for in-flight
// work to drain. Interrupted jobs end up paused.
func (q *Queue) Close() {
	q.mu.Lock()
	var dones []chan struct{}
	for _, r := range q.runs {
		r.pause.Store(true)
		dones = append(dones, r.done)
	}
	q.mu.Unlock()
	for _, d := range dones {
		<-d
	}
	q.lifecycleCancel()
}

// Generate creates a job for one model and template and starts running it.
// Misconfigured templates fail here, before the job exists.
func (q *Queue) Generate(ctx context.Context, modelName, templateID string, maxPages int, thresholds quality.Thresholds) (string, error) {
	model, ok := q.deps.Models[modelName]
	if !ok {
		return "", fmt.Errorf("%w: model %q", ErrNotFound, modelName)
	}
	tmpl, ok := q.deps.Templates[templateID]
	if !ok {
		return "", fmt.Errorf("%w: template %q", ErrNotFound, templateID)
	}
	renderer, err := compose.NewRenderer(tmpl, q.deps.Registry, model)
	if err != nil {
		return "", err
	}

	th, err := json.Marshal(thresholds)
	if err != nil {
		return "", fmt.Errorf("batch: encode thresholds: %w", err)
	}
	job := &Job{
		ID:         q.deps.NewJobID(),
		ModelName:  modelName,
		TemplateID: templateID,
		Status:     StatusPending,
		MaxPages:   maxPages,
		Thresholds: string(th),
	}
	if err := q.store.Create(ctx, job); err != nil {
		return "", err
	}
	q.deps.Events.LogEvent(ctx, observability.Event{
		EventType: "job_created", EntityType: "job", EntityID: job.ID,
		Action: "generate", Success: true,
	})
	if err := q.startRun(ctx, job, model, tmpl, renderer, thresholds); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Preview returns up to count admissible combinations without rendering or
// publishing anything.
func (q *Queue) Preview(ctx context.Context, modelName string, count int) ([]*dimension.Combination, error) {
	model, ok := q.deps.Models[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, modelName)
	}
	cursor := model.Combinations()
	out := make([]*dimension.Combination, 0, count)
	for len(out) < count {
		combo, ok := cursor.Next()
		if !ok {
			break
		}
		out = append(out, combo)
	}
	return out, nil
}

// Status returns the persisted job record.
func (q *Queue) Status(ctx context.Context, jobID string) (*Job, error) {
	return q.store.Get(ctx, jobID)
}

// List returns all jobs, newest first.
func (q *Queue) List(ctx context.Context) ([]*Job, error) {
	return q.store.List(ctx)
}

// Pause stops a running job after in-flight combinations finish. Only valid
// from running.
func (q *Queue) Pause(ctx context.Context, jobID string) error {
	q.mu.Lock()
	r := q.runs[jobID]
	q.mu.Unlock()

	if r == nil {
		// No active run: legal only for a job left running by a crash.
		job, err := q.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusRunning {
			return &InvalidTransitionError{JobID: jobID, From: job.Status, To: StatusPaused}
		}
		return q.store.Transition(ctx, jobID, StatusRunning, StatusPaused)
	}

	r.pause.Store(true)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume restarts a paused job from the next unconsumed combination.
func (q *Queue) Resume(ctx context.Context, jobID string) error {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != StatusPaused {
		return &InvalidTransitionError{JobID: jobID, From: job.Status, To: StatusRunning}
	}
	model, ok := q.deps.Models[job.ModelName]
	if !ok {
		return fmt.Errorf("%w: model %q", ErrNotFound, job.ModelName)
	}
	tmpl, ok := q.deps.Templates[job.TemplateID]
	if !ok {
		return fmt.Errorf("%w: template %q", ErrNotFound, job.TemplateID)
	}
	renderer, err := compose.NewRenderer(tmpl, q.deps.Registry, model)
	if err != nil {
		return err
	}
	var thresholds quality.Thresholds
	if job.Thresholds != "" {
		if err := json.Unmarshal([]byte(job.Thresholds), &thresholds); err != nil {
			return fmt.Errorf("batch: decode thresholds: %w", err)
		}
	}
	return q.startRun(ctx, job, model, tmpl, renderer, thresholds)
}

// Cancel stops a job from any non-terminal state. Published pages stay up;
// use Rollback to take them down.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	q.mu.Lock()
	r := q.runs[jobID]
	q.mu.Unlock()

	if r != nil {
		r.cancel.Store(true)
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransition(StatusCancelled) {
		return &InvalidTransitionError{JobID: jobID, From: job.Status, To: StatusCancelled}
	}
	return q.store.Transition(ctx, jobID, job.Status, StatusCancelled)
}

// startRun transitions the job to running and launches its worker pool.
func (q *Queue) startRun(ctx context.Context, job *Job, model *dimension.Model, tmpl *compose.Template, renderer *compose.Renderer, thresholds quality.Thresholds) error {
	if err := q.store.Transition(ctx, job.ID, job.Status, StatusRunning); err != nil {
		return err
	}
	r := &run{jobID: job.ID, done: make(chan struct{})}
	q.mu.Lock()
	q.runs[job.ID] = r
	q.mu.Unlock()

	go q.runLoop(r, job, model, tmpl, renderer, thresholds)
	return nil
}

// outcome of processing one combination.
type outcome int

const (
	outcomeNone outcome = iota
	outcomeSkipped
	outcomeRejected
	outcomeFailed
	outcomeSucceeded
)

func (q *Queue) runLoop(r *run, job *Job, model *dimension.Model, tmpl *compose.Template, renderer *compose.Renderer, thresholds quality.Thresholds) {
	defer close(r.done)
	defer func() {
		q.mu.Lock()
		delete(q.runs, r.jobID)
		q.mu.Unlock()
	}()

	ctx := q.lifecycleCtx
	log := q.log.With("job", job.ID)

	cursor := model.Combinations()
	cursor.Restore(job.CursorPos)
	gate := quality.NewGate(q.deps.Corpus, thresholds, tmpl)
	limiter := rate.NewLimiter(rate.Limit(q.cfg.RatePerSecond), q.cfg.RateBurst)

	// Shared cursor and counters; draws and progress writes are
	// serialized under one mutex so the persisted position is monotonic.
	// inflight counts draws that may still publish, so the MaxPages check
	// reserves a slot per draw and the cap holds exactly across workers.
	var mu sync.Mutex
	counters := job.Counters
	maxPos := job.CursorPos
	inflight := 0

	var fatal atomic.Bool

	log.Info("batch: run started",
		"model", job.ModelName, "template", job.TemplateID,
		"workers", q.cfg.Workers, "cursor", job.CursorPos,
		"total", model.TotalCombinations())

	var wg sync.WaitGroup
	for w := 0; w < q.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// Cooperative stop between combinations, never mid-render.
				if r.pause.Load() || r.cancel.Load() || fatal.Load() || ctx.Err() != nil {
					return
				}

				mu.Lock()
				if job.MaxPages > 0 && counters.Published+inflight >= job.MaxPages {
					mu.Unlock()
					return
				}
				combo, ok := cursor.Next()
				pos := cursor.Pos()
				if ok {
					inflight++
				}
				mu.Unlock()
				if !ok {
					return
				}

				result, page, isFatal := q.process(ctx, job, combo, renderer, gate, limiter)
				if isFatal {
					fatal.Store(true)
				}

				mu.Lock()
				inflight--
				switch result {
				case outcomeSkipped:
					counters.Skipped++
				case outcomeRejected:
					counters.Rejected++
				case outcomeFailed:
					counters.Failed++
				case outcomeSucceeded:
					counters.Succeeded++
					counters.Published++
				}
				if pos > maxPos {
					maxPos = pos
				}
				if err := q.store.SaveProgress(ctx, job.ID, counters, maxPos); err != nil {
					log.Warn("batch: save progress failed", "error", err)
				}
				mu.Unlock()

				if page != nil {
					if err := q.store.AddPage(ctx, job.ID, *page); err != nil {
						log.Warn("batch: record published page failed", "error", err, "page", page.Ref.ID)
					}
				}
			}
		}()
	}
	wg.Wait()

	// A pause signal that lands after the cursor ran dry has nothing left
	// to resume; the run still counts as completed.
	var final Status
	switch {
	case r.cancel.Load():
		final = StatusCancelled
	case fatal.Load(), ctx.Err() != nil:
		final = StatusPaused
	case r.pause.Load() && maxPos < model.TotalCombinations():
		final = StatusPaused
	default:
		final = StatusCompleted
	}

	// Persist once more outside worker contention, then transition.
	bg := context.Background()
	if err := q.store.SaveProgress(bg, job.ID, counters, maxPos); err != nil {
		log.Warn("batch: final save failed", "error", err)
	}
	if err := q.store.Transition(bg, job.ID, StatusRunning, final); err != nil {
		log.Error("batch: final transition failed", "error", err, "to", final)
	}

	q.deps.Events.LogEvent(bg, observability.Event{
		EventType: "job_transition", EntityType: "job", EntityID: job.ID,
		Action: string(final), Success: final == StatusCompleted,
	})
	log.Info("batch: run stopped", "status", final,
		"succeeded", counters.Succeeded, "failed", counters.Failed,
		"skipped", counters.Skipped, "rejected", counters.Rejected)
}

// process takes one combination through render, quality gate, publish, and
// index registration. The returned fatal flag stops the whole run.
func (q *Queue) process(ctx context.Context, job *Job, combo *dimension.Combination, renderer *compose.Renderer, gate *quality.Gate, limiter *rate.Limiter) (outcome, *PublishedPage, bool) {
	log := q.log.With("job", job.ID, "combination", combo.Key())

	fragments, err := q.deps.Fragments.Fragments(ctx, combo)
	if err != nil {
		log.Warn("batch: fragment fetch failed", "error", err)
		return outcomeSkipped, nil, false
	}
	asset, err := renderer.Render(combo, fragments)
	if err != nil {
		log.Warn("batch: render failed", "error", err)
		return outcomeSkipped, nil, false
	}

	report, err := gate.Admit(ctx, asset)
	if err != nil {
		log.Warn("batch: quality evaluation failed", "error", err)
		return outcomeSkipped, nil, false
	}
	if !report.Pass {
		diag, _ := json.Marshal(report)
		q.deps.Events.LogEvent(ctx, observability.Event{
			EventType: "quality_rejected", EntityType: "job", EntityID: job.ID,
			Action: combo.Key(), Details: string(diag),
		})
		log.Debug("batch: quality rejected",
			"similarity", report.MaxSimilarity,
			"unique", report.UniqueInfoRatio,
			"composite", report.Composite)
		return outcomeRejected, nil, false
	}

	if err := limiter.Wait(ctx); err != nil {
		return outcomeNone, nil, false
	}

	var ref publish.PageRef
	err = publish.Retry(ctx, q.cfg.PublishAttempts, q.cfg.RetryBase, func() error {
		got, err := q.deps.Publisher.CreatePage(ctx, asset)
		if err == nil {
			ref = got
		}
		return err
	})
	if err != nil {
		if publish.IsFatal(err) {
			q.deps.Events.LogEvent(ctx, observability.Event{
				EventType: "publish_fatal", EntityType: "job", EntityID: job.ID,
				Action: combo.Key(), Details: err.Error(),
			})
			log.Error("batch: fatal publish error, pausing job", "error", err)
			return outcomeFailed, nil, true
		}
		log.Warn("batch: publish failed after retries", "error", err)
		return outcomeFailed, nil, false
	}

	if err := q.deps.Publisher.UpdateMetadata(ctx, ref, publish.SEOFields{
		MetaTitle:    asset.Title,
		CanonicalURL: asset.Canonical.Target,
	}); err != nil {
		log.Warn("batch: metadata update failed", "error", err, "page", ref.ID)
	}

	if q.deps.Registrar != nil {
		if err := q.deps.Registrar.RegisterPublished(ctx, ref); err != nil {
			// Indexing problems never fail the publishing job.
			log.Warn("batch: index registration failed", "error", err, "page", ref.ID)
		}
	}

	return outcomeSucceeded, &PublishedPage{Ref: ref, CombinationKey: combo.Key()}, false
}
