// Package publish defines the contract pagefab drives to put pages on a
// target system. The wire format of any single target is out of scope: the
// batch queue only sees this interface and the error taxonomy below.
package publish

import (
	"context"
	"errors"

	"github.com/hazyhaar/pagefab/compose"
)

// Error taxonomy. Targets wrap their failures in exactly one of these:
// transient errors are retried with backoff, the others pause the job.
var (
	// ErrAuth means the target rejected our credentials. Fatal.
	ErrAuth = errors.New("publish: authentication rejected")
	// ErrValidation means the target rejected the asset itself. Fatal.
	ErrValidation = errors.New("publish: asset rejected by target")
	// ErrTransient covers timeouts, rate limits and 5xx responses.
	ErrTransient = errors.New("publish: transient failure")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err should pause the whole job rather than burn
// through the remaining combinations against a broken sink.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrValidation)
}

// PageRef identifies a page on the publishing target.
type PageRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PageStatus is the lifecycle state of a published page on the target.
type PageStatus string

const (
	StatusPublished PageStatus = "published"
	StatusDraft     PageStatus = "draft"
)

// SEOFields is the metadata set after a successful create.
type SEOFields struct {
	MetaTitle       string `json:"meta_title"`
	MetaDescription string `json:"meta_description"`
	CanonicalURL    string `json:"canonical_url"`
}

// Publisher abstracts "create/update page" on a publishing target.
type Publisher interface {
	// CreatePage publishes the asset and returns its reference and URL.
	CreatePage(ctx context.Context, asset *compose.PageAsset) (PageRef, error)
	// UpdateMetadata sets SEO fields on an existing page.
	UpdateMetadata(ctx context.Context, ref PageRef, seo SEOFields) error
	// SetStatus moves a page between published and draft, used by
	// rollback's draft mode.
	SetStatus(ctx context.Context, ref PageRef, status PageStatus) error
	// DeletePage removes a page, used by rollback's delete mode.
	DeletePage(ctx context.Context, ref PageRef) error
}
