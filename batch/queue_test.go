package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/pagefab/compose"
	"github.com/hazyhaar/pagefab/dbopen"
	"github.com/hazyhaar/pagefab/dimension"
	"github.com/hazyhaar/pagefab/publish"
	"github.com/hazyhaar/pagefab/quality"
)

// fakePublisher records creates and simulates the publish error taxonomy.
type fakePublisher struct {
	mu        sync.Mutex
	delay     time.Duration
	createErr map[string]error // by combination key, permanent
	transient map[string]int   // by combination key, fail n times then succeed
	statusErr map[string]error // by page ref ID
	created   map[string]int   // combination key -> successful create count
	statuses  map[string]publish.PageStatus
	deleted   map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		createErr: make(map[string]error),
		transient: make(map[string]int),
		statusErr: make(map[string]error),
		created:   make(map[string]int),
		statuses:  make(map[string]publish.PageStatus),
		deleted:   make(map[string]bool),
	}
}

func (f *fakePublisher) CreatePage(ctx context.Context, asset *compose.PageAsset) (publish.PageRef, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := asset.CombinationKey
	if n := f.transient[key]; n > 0 {
		f.transient[key] = n - 1
		return publish.PageRef{}, fmt.Errorf("%w: flaky endpoint", publish.ErrTransient)
	}
	if err := f.createErr[key]; err != nil {
		return publish.PageRef{}, err
	}
	f.created[key]++
	ref := publish.PageRef{ID: "pg_" + asset.Slug, URL: "https://pages.test/" + asset.Slug}
	f.statuses[ref.ID] = publish.StatusPublished
	return ref, nil
}

func (f *fakePublisher) UpdateMetadata(ctx context.Context, ref publish.PageRef, seo publish.SEOFields) error {
	return nil
}

func (f *fakePublisher) SetStatus(ctx context.Context, ref publish.PageRef, status publish.PageStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[ref.ID]; err != nil {
		return err
	}
	f.statuses[ref.ID] = status
	return nil
}

func (f *fakePublisher) DeletePage(ctx context.Context, ref publish.PageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[ref.ID] = true
	return nil
}

func (f *fakePublisher) createCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[key]
}

func (f *fakePublisher) totalCreated() (total int, maxPerKey int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.created {
		total += n
		if n > maxPerKey {
			maxPerKey = n
		}
	}
	return
}

func (f *fakePublisher) clearErrors() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = make(map[string]error)
	f.transient = make(map[string]int)
	f.statusErr = make(map[string]error)
}

type fragmentsFunc func(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error)

func (fn fragmentsFunc) Fragments(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error) {
	return fn(ctx, combo)
}

// keyedFragments returns distinct, complete fragments per combination.
func keyedFragments(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error) {
	key := combo.Key()
	return compose.Fragments{
		compose.KindSummary: "<p>Profile for " + key + " with all the usual detail.</p>",
		compose.KindFAQ:     "<h3>About " + key + "?</h3><p>Everything relevant to " + key + ".</p>",
		compose.KindCTA:     `<p><a href="/quote">Request a quote</a></p>`,
	}, nil
}

func itemModel(t *testing.T, n int) *dimension.Model {
	t.Helper()
	values := make([]dimension.Value, n)
	for i := range values {
		values[i] = dimension.Value{
			ID:    fmt.Sprintf("v%d", i),
			Label: fmt.Sprintf("Item %d", i),
			Slug:  fmt.Sprintf("item-%d", i),
		}
	}
	m, err := dimension.NewModel("items", []dimension.Dimension{
		{Name: "item", Type: "string", Required: true, Values: values},
	}, nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

func itemTemplate() *compose.Template {
	return &compose.Template{
		ID:           "item-page",
		Family:       "items",
		Components:   []compose.Kind{compose.KindSummary, compose.KindFAQ, compose.KindCTA},
		Required:     []compose.Kind{compose.KindSummary},
		Canonical:    compose.CanonicalSelf,
		TitlePattern: "{item} overview",
		SlugPattern:  "{item}",
	}
}

// looseThresholds keeps every gate effectively open so queue tests exercise
// orchestration, not scoring.
func looseThresholds() quality.Thresholds {
	return quality.Thresholds{SimilarityMax: 1.01, UniqueInfoMin: 0.000001, CompositeMin: 1, MinWords: 1}
}

type queueOpts struct {
	cfg       Config
	fragments FragmentProvider
	model     *dimension.Model
}

func newTestQueue(t *testing.T, pub publish.Publisher, opts queueOpts) *Queue {
	t.Helper()
	store := NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
	if opts.cfg.RatePerSecond == 0 {
		opts.cfg.RatePerSecond = 100000
		opts.cfg.RateBurst = 1000
	}
	if opts.cfg.RetryBase == 0 {
		opts.cfg.RetryBase = time.Millisecond
	}
	if opts.fragments == nil {
		opts.fragments = fragmentsFunc(keyedFragments)
	}
	if opts.model == nil {
		opts.model = itemModel(t, 10)
	}
	q := New(store, Deps{
		Models:    map[string]*dimension.Model{"items": opts.model},
		Templates: map[string]*compose.Template{"item-page": itemTemplate()},
		Registry:  compose.DefaultRegistry(),
		Corpus:    quality.NewMemoryStore(),
		Publisher: pub,
		Fragments: opts.fragments,
	}, opts.cfg)
	t.Cleanup(q.Close)
	return q
}

func waitStatus(t *testing.T, q *Queue, jobID string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := q.Status(context.Background(), jobID)
	t.Fatalf("job %s never reached %s (currently %s)", jobID, want, job.Status)
	return nil
}

func TestQueue_RunCompletes(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 10 || job.Counters.Published != 10 {
		t.Fatalf("counters = %+v", job.Counters)
	}
	if len(job.Pages) != 10 {
		t.Fatalf("pages = %d, want 10", len(job.Pages))
	}
	if total, maxPer := pub.totalCreated(); total != 10 || maxPer != 1 {
		t.Fatalf("creates total=%d maxPerKey=%d", total, maxPer)
	}
}

func TestQueue_RenderFailureSkipsAndContinues(t *testing.T) {
	// WHAT: one combination failing to render is counted skipped; the
	// other nine proceed and the job still completes.
	ctx := context.Background()
	pub := newFakePublisher()
	fragments := fragmentsFunc(func(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error) {
		f, _ := keyedFragments(ctx, combo)
		if v, _ := combo.Get("item"); v.ID == "v3" {
			delete(f, compose.KindSummary) // required component
		}
		return f, nil
	})
	q := newTestQueue(t, pub, queueOpts{fragments: fragments})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Skipped != 1 || job.Counters.Succeeded != 9 {
		t.Fatalf("counters = %+v", job.Counters)
	}
}

func TestQueue_DuplicateContentRejected(t *testing.T) {
	// WHAT: identical fragments for every combination pass once; the
	// cumulative corpus rejects the rest.
	ctx := context.Background()
	pub := newFakePublisher()
	constant := fragmentsFunc(func(ctx context.Context, combo *dimension.Combination) (compose.Fragments, error) {
		return compose.Fragments{
			compose.KindSummary: "<p>The same summary body every single time, word for word.</p>",
			compose.KindFAQ:     "<h3>Same?</h3><p>Yes, always the same.</p>",
			compose.KindCTA:     `<p><a href="/quote">Quote</a></p>`,
		}, nil
	})
	q := newTestQueue(t, pub, queueOpts{model: itemModel(t, 5), fragments: constant})

	th := looseThresholds()
	th.SimilarityMax = 0.85
	jobID, err := q.Generate(ctx, "items", "item-page", 0, th)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 1 || job.Counters.Rejected != 4 {
		t.Fatalf("counters = %+v", job.Counters)
	}
}

func TestQueue_TransientRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	pub.transient["item=v0"] = 2 // two failures, third attempt succeeds
	q := newTestQueue(t, pub, queueOpts{cfg: Config{PublishAttempts: 3}})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 10 || job.Counters.Failed != 0 {
		t.Fatalf("counters = %+v", job.Counters)
	}
	if pub.createCount("item=v0") != 1 {
		t.Fatalf("v0 created %d times", pub.createCount("item=v0"))
	}
}

func TestQueue_TransientExhaustedCountsFailed(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	pub.transient["item=v1"] = 100
	q := newTestQueue(t, pub, queueOpts{cfg: Config{PublishAttempts: 2}})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Failed != 1 || job.Counters.Succeeded != 9 {
		t.Fatalf("counters = %+v", job.Counters)
	}
}

func TestQueue_FatalPublishPausesJob(t *testing.T) {
	// WHAT: an auth rejection pauses the whole job instead of burning
	// through the remaining combinations; after the sink is fixed, resume
	// finishes the run.
	ctx := context.Background()
	pub := newFakePublisher()
	pub.createErr["item=v2"] = fmt.Errorf("%w: bad token", publish.ErrAuth)
	q := newTestQueue(t, pub, queueOpts{cfg: Config{Workers: 1}})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusPaused)
	if job.Counters.Failed == 0 {
		t.Fatalf("counters = %+v, expected the fatal combination counted failed", job.Counters)
	}

	pub.clearErrors()
	if err := q.Resume(ctx, jobID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	job = waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 9 || job.Counters.Failed != 1 {
		t.Fatalf("counters after resume = %+v", job.Counters)
	}
}

func TestQueue_PauseResumeProcessesEachCombinationOnce(t *testing.T) {
	// WHAT: pause mid-run, then resume; the final counters match an
	// uninterrupted run and no combination is processed twice.
	ctx := context.Background()
	pub := newFakePublisher()
	pub.delay = 2 * time.Millisecond
	q := newTestQueue(t, pub, queueOpts{
		model: itemModel(t, 100),
		cfg:   Config{Workers: 3},
	})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Let some work land before pausing.
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := q.Status(ctx, jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Counters.Succeeded >= 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never made progress")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := q.Pause(ctx, jobID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusPaused)
	atPause := job.Counters.Succeeded
	if atPause == 0 || atPause == 100 {
		t.Fatalf("pause landed at %d succeeded, wanted mid-run", atPause)
	}

	if err := q.Resume(ctx, jobID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	job = waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 100 {
		t.Fatalf("final succeeded = %d, want 100", job.Counters.Succeeded)
	}
	if total, maxPer := pub.totalCreated(); total != 100 || maxPer != 1 {
		t.Fatalf("creates total=%d maxPerKey=%d, want 100 and 1", total, maxPer)
	}
}

func TestQueue_CancelStopsConsumption(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	pub.delay = 2 * time.Millisecond
	q := newTestQueue(t, pub, queueOpts{
		model: itemModel(t, 100),
		cfg:   Config{Workers: 2},
	})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := q.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCancelled)
	if job.Counters.Succeeded == 100 {
		t.Fatal("cancel consumed the whole space")
	}

	// Terminal: every further control call is an invalid transition.
	var ite *InvalidTransitionError
	if err := q.Cancel(ctx, jobID); !errors.As(err, &ite) {
		t.Fatalf("second cancel: %v", err)
	}
	if err := q.Resume(ctx, jobID); !errors.As(err, &ite) {
		t.Fatalf("resume after cancel: %v", err)
	}
}

func TestQueue_MaxPagesStopsRun(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{
		model: itemModel(t, 20),
		cfg:   Config{Workers: 1},
	})

	jobID, err := q.Generate(ctx, "items", "item-page", 5, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Published != 5 {
		t.Fatalf("published = %d, want 5", job.Counters.Published)
	}
}

func TestQueue_MaxPagesExactAcrossWorkers(t *testing.T) {
	// WHAT: every draw reserves a slot against the page cap, so concurrent
	// workers cannot each pass the check and overshoot it together.
	ctx := context.Background()
	pub := newFakePublisher()
	pub.delay = 2 * time.Millisecond
	q := newTestQueue(t, pub, queueOpts{
		model: itemModel(t, 20),
		cfg:   Config{Workers: 4},
	})

	jobID, err := q.Generate(ctx, "items", "item-page", 5, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Published != 5 {
		t.Fatalf("published = %d, want 5", job.Counters.Published)
	}
	if total, _ := pub.totalCreated(); total != 5 {
		t.Fatalf("creates = %d, want 5", total)
	}
}

// gatedPublisher holds CreatePage open until released, so a test can line up
// control calls against a publish that is still in flight.
type gatedPublisher struct {
	*fakePublisher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPublisher) CreatePage(ctx context.Context, asset *compose.PageAsset) (publish.PageRef, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakePublisher.CreatePage(ctx, asset)
}

func TestQueue_PauseAfterLastCombinationCompletes(t *testing.T) {
	// WHAT: a pause that lands while the final combination is publishing
	// leaves nothing to resume, so the run ends completed, not paused.
	ctx := context.Background()
	pub := &gatedPublisher{
		fakePublisher: newFakePublisher(),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	q := newTestQueue(t, pub, queueOpts{
		model: itemModel(t, 1),
		cfg:   Config{Workers: 1},
	})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	<-pub.entered // the only combination is mid-publish; the cursor is dry

	pauseErr := make(chan error, 1)
	go func() { pauseErr <- q.Pause(ctx, jobID) }()
	time.Sleep(10 * time.Millisecond)
	close(pub.release)

	if err := <-pauseErr; err != nil {
		t.Fatalf("Pause: %v", err)
	}
	job := waitStatus(t, q, jobID, StatusCompleted)
	if job.Counters.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", job.Counters.Succeeded)
	}
}

func TestQueue_InvalidControlCalls(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{})

	if err := q.Pause(ctx, "job_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pause unknown job: %v", err)
	}

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitStatus(t, q, jobID, StatusCompleted)

	var ite *InvalidTransitionError
	if err := q.Pause(ctx, jobID); !errors.As(err, &ite) {
		t.Fatalf("pause completed job: %v", err)
	}
	if ite.From != StatusCompleted || ite.To != StatusPaused {
		t.Fatalf("ite = %+v", ite)
	}
}

func TestQueue_GenerateUnknownModelOrTemplate(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakePublisher(), queueOpts{})

	if _, err := q.Generate(ctx, "nope", "item-page", 0, looseThresholds()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown model: %v", err)
	}
	if _, err := q.Generate(ctx, "items", "nope", 0, looseThresholds()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown template: %v", err)
	}
}

func TestQueue_Preview(t *testing.T) {
	// WHAT: preview returns distinct, fully populated combinations and
	// publishes nothing.
	ctx := context.Background()
	m, err := dimension.NewModel("grid", []dimension.Dimension{
		{Name: "a", Required: true, Values: []dimension.Value{{ID: "1"}, {ID: "2"}, {ID: "3"}}},
		{Name: "b", Required: true, Values: []dimension.Value{{ID: "x"}, {ID: "y"}, {ID: "z"}}},
	}, nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{model: m})

	combos, err := q.Preview(ctx, "items", 5)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(combos) != 5 {
		t.Fatalf("preview returned %d, want 5", len(combos))
	}
	seen := make(map[string]struct{})
	for _, c := range combos {
		if _, dup := seen[c.Key()]; dup {
			t.Fatalf("duplicate combination %q", c.Key())
		}
		seen[c.Key()] = struct{}{}
		for _, dim := range []string{"a", "b"} {
			if _, ok := c.Get(dim); !ok {
				t.Fatalf("combination %q missing dimension %q", c.Key(), dim)
			}
		}
	}
	if total, _ := pub.totalCreated(); total != 0 {
		t.Fatalf("preview published %d pages", total)
	}
}

func TestQueue_RollbackDraftPartialFailure(t *testing.T) {
	// WHAT: rollback with one failing page reports 4 successes, 1
	// failure, and overall partial_failure; a repeat call reports the
	// handled pages as already-handled.
	ctx := context.Background()
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{model: itemModel(t, 5)})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitStatus(t, q, jobID, StatusCompleted)

	pub.statusErr["pg_item-2"] = errors.New("cms said no")
	report, err := q.Rollback(ctx, jobID, RollbackDraft)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if report.Status() != "partial_failure" {
		t.Fatalf("status = %q", report.Status())
	}
	counts := map[string]int{}
	for _, r := range report.Results {
		counts[r.Outcome]++
	}
	if counts[OutcomeOK] != 4 || counts[OutcomeFailed] != 1 {
		t.Fatalf("outcomes = %v", counts)
	}

	pub.clearErrors()
	report, err = q.Rollback(ctx, jobID, RollbackDraft)
	if err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
	if report.Status() != "ok" {
		t.Fatalf("second status = %q", report.Status())
	}
	counts = map[string]int{}
	for _, r := range report.Results {
		counts[r.Outcome]++
	}
	if counts[OutcomeAlreadyHandled] != 4 || counts[OutcomeOK] != 1 {
		t.Fatalf("second outcomes = %v", counts)
	}

	// Third call: fully idempotent, everything already handled.
	report, _ = q.Rollback(ctx, jobID, RollbackDraft)
	for _, r := range report.Results {
		if r.Outcome != OutcomeAlreadyHandled {
			t.Fatalf("third rollback outcome = %q for %s", r.Outcome, r.Ref.ID)
		}
	}
}

func TestQueue_RollbackDelete(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	q := newTestQueue(t, pub, queueOpts{model: itemModel(t, 3)})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitStatus(t, q, jobID, StatusCompleted)

	report, err := q.Rollback(ctx, jobID, RollbackDelete)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if report.Status() != "ok" || len(report.Results) != 3 {
		t.Fatalf("report = %+v", report)
	}
	pub.mu.Lock()
	deleted := len(pub.deleted)
	pub.mu.Unlock()
	if deleted != 3 {
		t.Fatalf("deleted %d pages, want 3", deleted)
	}

	// Second call: nothing re-attempted.
	report, err = q.Rollback(ctx, jobID, RollbackDelete)
	if err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
	for _, r := range report.Results {
		if r.Outcome != OutcomeAlreadyHandled {
			t.Fatalf("second rollback outcome = %q for %s", r.Outcome, r.Ref.ID)
		}
	}
}

func TestQueue_RollbackRefusedWhileRunning(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	pub.delay = 5 * time.Millisecond
	q := newTestQueue(t, pub, queueOpts{model: itemModel(t, 100), cfg: Config{Workers: 2}})

	jobID, err := q.Generate(ctx, "items", "item-page", 0, looseThresholds())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := q.Rollback(ctx, jobID, RollbackDraft); !errors.Is(err, ErrJobActive) {
		t.Fatalf("rollback on active run: %v", err)
	}
	if err := q.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}
