package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/pagefab/compose"
)

// HTTPPublisher talks to a CMS REST API:
//
//	POST   {base}/pages               create
//	PATCH  {base}/pages/{id}          metadata
//	POST   {base}/pages/{id}/status   draft/published
//	DELETE {base}/pages/{id}          remove
//
// Responses map onto the error taxonomy: 401/403 are auth failures, 400/422
// validation failures, 429 and 5xx (and transport errors) transient.
type HTTPPublisher struct {
	base   string
	token  string
	client *http.Client
}

// HTTPOption configures an HTTPPublisher.
type HTTPOption func(*HTTPPublisher)

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) HTTPOption { return func(p *HTTPPublisher) { p.client = c } }

// NewHTTP builds a publisher against a CMS base URL with bearer auth.
func NewHTTP(baseURL, token string, opts ...HTTPOption) *HTTPPublisher {
	p := &HTTPPublisher{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 30 * time.Second}
	}
	return p
}

type createPageRequest struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Canonical   string `json:"canonical"`
	Body        string `json:"body"`
	TemplateID  string `json:"template_id"`
	Combination string `json:"combination"`
}

type createPageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (p *HTTPPublisher) CreatePage(ctx context.Context, asset *compose.PageAsset) (PageRef, error) {
	req := createPageRequest{
		Title:       asset.Title,
		Slug:        asset.Slug,
		Canonical:   asset.Canonical.Target,
		Body:        asset.Body(),
		TemplateID:  asset.TemplateID,
		Combination: asset.CombinationKey,
	}
	var resp createPageResponse
	if err := p.do(ctx, http.MethodPost, "/pages", req, &resp); err != nil {
		return PageRef{}, fmt.Errorf("publish: create %s: %w", asset.Slug, err)
	}
	if resp.ID == "" {
		return PageRef{}, fmt.Errorf("publish: create %s: %w: response without page id", asset.Slug, ErrValidation)
	}
	return PageRef{ID: resp.ID, URL: resp.URL}, nil
}

func (p *HTTPPublisher) UpdateMetadata(ctx context.Context, ref PageRef, seo SEOFields) error {
	if err := p.do(ctx, http.MethodPatch, "/pages/"+ref.ID, seo, nil); err != nil {
		return fmt.Errorf("publish: metadata %s: %w", ref.ID, err)
	}
	return nil
}

func (p *HTTPPublisher) SetStatus(ctx context.Context, ref PageRef, status PageStatus) error {
	body := map[string]string{"status": string(status)}
	if err := p.do(ctx, http.MethodPost, "/pages/"+ref.ID+"/status", body, nil); err != nil {
		return fmt.Errorf("publish: set status %s: %w", ref.ID, err)
	}
	return nil
}

// DeletePage treats 404 as success: a page already gone satisfies a delete.
func (p *HTTPPublisher) DeletePage(ctx context.Context, ref PageRef) error {
	err := p.do(ctx, http.MethodDelete, "/pages/"+ref.ID, nil, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("publish: delete %s: %w", ref.ID, err)
	}
	return nil
}

// statusError carries the HTTP status alongside the taxonomy sentinel.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return fmt.Sprintf("cms returned %d: %v", e.code, e.err) }
func (e *statusError) Unwrap() error { return e.err }

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func (p *HTTPPublisher) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, err: classify(resp.StatusCode, string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransient, err)
		}
	}
	return nil
}

func classify(code int, msg string) error {
	msg = strings.TrimSpace(msg)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: %s", ErrTransient, msg)
	default:
		return fmt.Errorf("%w: %s", ErrValidation, msg)
	}
}
