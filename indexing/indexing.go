// Package indexing tracks published pages through search-engine discovery:
// push submission, sitemap generation, coverage checks, and bounded
// automatic resubmission of pages that never get indexed.
package indexing

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/pagefab/observability"
	"github.com/hazyhaar/pagefab/publish"
)

// Schema creates the indexing record table. Apply via dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS indexing_records (
    url             TEXT PRIMARY KEY,
    submit_count    INTEGER NOT NULL DEFAULT 0,
    last_submitted  TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL DEFAULT 'unknown',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    needs_attention INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_indexing_state ON indexing_records(state, needs_attention);
`

// IndexState is tri-state: a page is unknown until the first coverage check.
type IndexState string

const (
	StateUnknown    IndexState = "unknown"
	StateIndexed    IndexState = "indexed"
	StateNotIndexed IndexState = "not_indexed"
)

// Record is one tracked page URL.
type Record struct {
	URL            string     `json:"url"`
	SubmitCount    int        `json:"submit_count"`
	LastSubmitted  time.Time  `json:"last_submitted,omitzero"`
	State          IndexState `json:"state"`
	RetryCount     int        `json:"retry_count"`
	NeedsAttention bool       `json:"needs_attention"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Endpoint is one push-index target accepting {host, key, urlList} JSON.
type Endpoint struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	Key  string `yaml:"key" json:"-"`
}

// EndpointResult reports one endpoint's outcome for a submission fan-out.
type EndpointResult struct {
	Endpoint string `json:"endpoint"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Coverage aggregates indexing state across all tracked pages.
type Coverage struct {
	Total      int     `json:"total"`
	Indexed    int     `json:"indexed"`
	NotIndexed int     `json:"not_indexed"`
	Unknown    int     `json:"unknown"`
	IndexRate  float64 `json:"index_rate"`
}

// Checker probes whether a URL is present in a search index. Coverage
// checking is an external collaborator; without one the service only
// aggregates previously recorded states.
type Checker interface {
	IsIndexed(ctx context.Context, url string) (bool, error)
}

// Config tunes the service. Zero values take defaults.
type Config struct {
	// Host is the site host reported in push payloads (e.g. "pages.example.com").
	Host      string
	Endpoints []Endpoint
	// MinAge is how long after submission a page may sit unconfirmed
	// before the retry sweep considers it.
	MinAge time.Duration
	// RetryInterval is the fixed backoff between resubmissions.
	RetryInterval time.Duration
	// MaxRetries bounds resubmission; beyond it the record is flagged
	// for manual attention instead of retried forever.
	MaxRetries  int
	HTTPTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MinAge <= 0 {
		c.MinAge = 24 * time.Hour
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 6 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
}

// Service is the indexing pipeline stage. It implements batch.Registrar.
type Service struct {
	db      *sql.DB
	cfg     Config
	client  *http.Client
	checker Checker
	events  *observability.EventLogger
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithChecker installs the coverage probe.
func WithChecker(c Checker) Option { return func(s *Service) { s.checker = c } }

// WithHTTPClient overrides the push-submission client.
func WithHTTPClient(c *http.Client) Option { return func(s *Service) { s.client = c } }

// WithEvents installs the business event logger.
func WithEvents(e *observability.EventLogger) Option { return func(s *Service) { s.events = e } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New builds a Service over an opened database with the record table applied.
func New(db *sql.DB, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		db:  db,
		cfg: cfg,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return s
}

// RegisterPublished starts tracking a freshly published page and submits it
// to the push endpoints right away; ScheduleRetries only handles pages this
// first submission did not get confirmed for. Re-registering a known URL is
// a no-op. Push failures are logged, never returned: the record stays
// unsubmitted and the retry sweep picks it up.
func (s *Service) RegisterPublished(ctx context.Context, ref publish.PageRef) error {
	if ref.URL == "" {
		return fmt.Errorf("indexing: page %s has no url", ref.ID)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_records (url, state, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		ref.URL, StateUnknown, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("indexing: register %s: %w", ref.URL, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 && len(s.cfg.Endpoints) > 0 {
		if _, err := s.SubmitNewPages(ctx, []string{ref.URL}); err != nil {
			s.log.Warn("indexing: initial submission failed", "url", ref.URL, "error", err)
		}
	}
	return nil
}

// pushPayload is the wire format the push endpoints accept.
type pushPayload struct {
	Host    string   `json:"host"`
	Key     string   `json:"key"`
	URLList []string `json:"urlList"`
}

// SubmitNewPages fans the URL list out to every configured endpoint and
// reports per-endpoint outcomes. Partial success is success: submission
// counters advance as long as at least one endpoint accepted the batch.
func (s *Service) SubmitNewPages(ctx context.Context, urls []string) ([]EndpointResult, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if len(s.cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("indexing: no push endpoints configured")
	}

	results := make([]EndpointResult, 0, len(s.cfg.Endpoints))
	accepted := false
	for _, ep := range s.cfg.Endpoints {
		res := EndpointResult{Endpoint: ep.Name, OK: true}
		if err := s.push(ctx, ep, urls); err != nil {
			res.OK = false
			res.Error = err.Error()
			s.log.Warn("indexing: push failed", "endpoint", ep.Name, "error", err)
		} else {
			accepted = true
		}
		results = append(results, res)
	}

	if accepted {
		if err := s.markSubmitted(ctx, urls); err != nil {
			s.log.Warn("indexing: record submission failed", "error", err)
		}
	}
	s.events.LogEvent(ctx, observability.Event{
		EventType: "index_submission", EntityType: "url_batch",
		Action: fmt.Sprintf("urls=%d endpoints=%d", len(urls), len(s.cfg.Endpoints)),
		Success: accepted,
	})
	return results, nil
}

func (s *Service) push(ctx context.Context, ep Endpoint, urls []string) error {
	body, err := json.Marshal(pushPayload{Host: s.cfg.Host, Key: ep.Key, URLList: urls})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push POST: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) markSubmitted(ctx context.Context, urls []string) error {
	now := s.now().UTC().Format(time.RFC3339)
	for _, u := range urls {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE indexing_records
			SET submit_count = submit_count + 1, last_submitted = ?
			WHERE url = ?`, now, u); err != nil {
			return err
		}
	}
	return nil
}

// CheckCoverage probes unresolved records through the checker, persists the
// answers, and returns the aggregate. Probe errors leave a record unknown.
func (s *Service) CheckCoverage(ctx context.Context) (Coverage, error) {
	if s.checker != nil {
		records, err := s.listByState(ctx, StateUnknown, StateNotIndexed)
		if err != nil {
			return Coverage{}, err
		}
		for _, rec := range records {
			indexed, err := s.checker.IsIndexed(ctx, rec.URL)
			if err != nil {
				s.log.Warn("indexing: coverage probe failed", "url", rec.URL, "error", err)
				continue
			}
			state := StateNotIndexed
			if indexed {
				state = StateIndexed
			}
			if _, err := s.db.ExecContext(ctx,
				`UPDATE indexing_records SET state = ? WHERE url = ?`,
				state, rec.URL); err != nil {
				return Coverage{}, fmt.Errorf("indexing: update state: %w", err)
			}
		}
	}

	var cov Coverage
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM indexing_records GROUP BY state`)
	if err != nil {
		return Coverage{}, fmt.Errorf("indexing: aggregate coverage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state IndexState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Coverage{}, err
		}
		cov.Total += n
		switch state {
		case StateIndexed:
			cov.Indexed += n
		case StateNotIndexed:
			cov.NotIndexed += n
		default:
			cov.Unknown += n
		}
	}
	if err := rows.Err(); err != nil {
		return Coverage{}, err
	}
	if cov.Total > 0 {
		cov.IndexRate = float64(cov.Indexed) / float64(cov.Total)
	}
	return cov, nil
}

// ScheduleRetries resubmits pages still unconfirmed after MinAge, at most
// once per RetryInterval, up to MaxRetries. Records past the retry budget
// are flagged NeedsAttention and left alone. Returns how many URLs were
// resubmitted.
func (s *Service) ScheduleRetries(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoffAge := now.Add(-s.cfg.MinAge).Format(time.RFC3339)
	cutoffRetry := now.Add(-s.cfg.RetryInterval).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, `
		SELECT url, retry_count FROM indexing_records
		WHERE state != ? AND needs_attention = 0
		  AND created_at <= ?
		  AND (last_submitted = '' OR last_submitted <= ?)`,
		StateIndexed, cutoffAge, cutoffRetry)
	if err != nil {
		return 0, fmt.Errorf("indexing: select retry candidates: %w", err)
	}

	var due []string
	var exhausted []string
	for rows.Next() {
		var url string
		var retries int
		if err := rows.Scan(&url, &retries); err != nil {
			rows.Close()
			return 0, err
		}
		if retries >= s.cfg.MaxRetries {
			exhausted = append(exhausted, url)
		} else {
			due = append(due, url)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, url := range exhausted {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE indexing_records SET needs_attention = 1 WHERE url = ?`, url); err != nil {
			return 0, fmt.Errorf("indexing: flag %s: %w", url, err)
		}
		s.log.Warn("indexing: retry budget exhausted", "url", url)
	}

	if len(due) == 0 {
		return 0, nil
	}
	if _, err := s.SubmitNewPages(ctx, due); err != nil {
		return 0, err
	}
	for _, url := range due {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE indexing_records SET retry_count = retry_count + 1 WHERE url = ?`, url); err != nil {
			return 0, fmt.Errorf("indexing: bump retry %s: %w", url, err)
		}
	}
	return len(due), nil
}

// Records returns every tracked page, oldest first.
func (s *Service) Records(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `
		SELECT url, submit_count, last_submitted, state, retry_count, needs_attention, created_at
		FROM indexing_records ORDER BY created_at, url`)
}

func (s *Service) listByState(ctx context.Context, states ...IndexState) ([]Record, error) {
	q := `SELECT url, submit_count, last_submitted, state, retry_count, needs_attention, created_at
		FROM indexing_records WHERE state IN (?` + repeat(",?", len(states)-1) + `) ORDER BY created_at, url`
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}
	return s.query(ctx, q, args...)
}

func repeat(s string, n int) string {
	var out string
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("indexing: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var submitted, created string
		var attention int
		if err := rows.Scan(&rec.URL, &rec.SubmitCount, &submitted, &rec.State,
			&rec.RetryCount, &attention, &created); err != nil {
			return nil, err
		}
		rec.NeedsAttention = attention != 0
		if submitted != "" {
			rec.LastSubmitted, _ = time.Parse(time.RFC3339, submitted)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
