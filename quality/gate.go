// Package quality gates candidate page assets against a corpus of already
// accepted ones: near-duplicate similarity, unique-information ratio,
// required-component presence, and a weighted composite score.
//
// Pass/fail is the conjunction of four independent gates. A single extreme
// factor can never be averaged away by a good composite.
package quality

import (
	"context"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/pagefab/compose"
)

// Thresholds are the accept/reject knobs of the gate.
type Thresholds struct {
	// SimilarityMax rejects a candidate whose max similarity against the
	// corpus reaches this value. Default: 0.85.
	SimilarityMax float64 `yaml:"similarity_max" json:"similarity_max"`
	// UniqueInfoMin is the accept floor for the unique-information ratio.
	// Default: 0.30.
	UniqueInfoMin float64 `yaml:"unique_info_min" json:"unique_info_min"`
	// CompositeMin is the accept floor for the composite score (0-100).
	// Default: 60.
	CompositeMin int `yaml:"composite_min" json:"composite_min"`
	// MinWords is the word count granting full length adequacy in the
	// composite. Default: 300.
	MinWords int `yaml:"min_words" json:"min_words"`
}

func (t *Thresholds) defaults() {
	if t.SimilarityMax <= 0 {
		t.SimilarityMax = 0.85
	}
	if t.UniqueInfoMin <= 0 {
		t.UniqueInfoMin = 0.30
	}
	if t.CompositeMin <= 0 {
		t.CompositeMin = 60
	}
	if t.MinWords <= 0 {
		t.MinWords = 300
	}
}

// Report is the diagnostic outcome of one evaluation.
type Report struct {
	MaxSimilarity     float64        `json:"max_similarity"`
	UniqueInfoRatio   float64        `json:"unique_info_ratio"`
	MissingComponents []compose.Kind `json:"missing_components,omitempty"`
	Composite         int            `json:"composite"`
	Pass              bool           `json:"pass"`
}

// Gate evaluates candidates for one template against a shared corpus.
//
// The corpus is shared mutable state: Admit runs the whole
// evaluate-then-insert sequence under one lock so two concurrent workers can
// never both accept near-duplicates against a stale corpus.
type Gate struct {
	mu         sync.Mutex
	store      Store
	thresholds Thresholds
	required   []compose.Kind
	selected   int
}

// NewGate builds a gate for the given template.
func NewGate(store Store, thresholds Thresholds, tmpl *compose.Template) *Gate {
	thresholds.defaults()
	return &Gate{
		store:      store,
		thresholds: thresholds,
		required:   tmpl.Required,
		selected:   len(tmpl.Components),
	}
}

// Evaluate scores a candidate against the corpus without admitting it.
func (g *Gate) Evaluate(ctx context.Context, asset *compose.PageAsset) (Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluate(ctx, asset)
}

// Admit evaluates the candidate and, on pass, adds it to the corpus so that
// duplicate detection is cumulative within the run. Evaluation and insertion
// are atomic with respect to other Admit calls.
func (g *Gate) Admit(ctx context.Context, asset *compose.PageAsset) (Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	report, err := g.evaluate(ctx, asset)
	if err != nil || !report.Pass {
		return report, err
	}
	if err := g.store.Add(ctx, Member{
		Key:    asset.CombinationKey,
		Family: asset.Family,
		Body:   asset.Body(),
	}); err != nil {
		return report, err
	}
	return report, nil
}

func (g *Gate) evaluate(ctx context.Context, asset *compose.PageAsset) (Report, error) {
	members, err := g.store.Members(ctx, asset.Family)
	if err != nil {
		return Report{}, err
	}

	body := asset.Body()
	candidate := bigramSet(normalize(body))

	var report Report
	report.UniqueInfoRatio = 1.0
	if len(candidate) == 0 {
		report.UniqueInfoRatio = 0.0
	}

	corpus := make([]map[string]struct{}, 0, len(members))
	for _, m := range members {
		set := bigramSet(normalize(m.Body))
		corpus = append(corpus, set)
		if sim := dice(candidate, set); sim > report.MaxSimilarity {
			report.MaxSimilarity = sim
		}
	}
	if len(corpus) > 0 {
		report.UniqueInfoRatio = uniqueRatio(candidate, corpus)
	}

	kinds := asset.Kinds()
	for _, k := range g.required {
		if !kinds[k] {
			report.MissingComponents = append(report.MissingComponents, k)
		}
	}

	report.Composite = g.composite(asset)

	report.Pass = report.Composite >= g.thresholds.CompositeMin &&
		report.MaxSimilarity < g.thresholds.SimilarityMax &&
		report.UniqueInfoRatio >= g.thresholds.UniqueInfoMin &&
		len(report.MissingComponents) == 0
	return report, nil
}

// composite maps three weighted sub-scores to 0-100: structure completeness
// (40), length adequacy (30), SEO-bearing elements (30).
func (g *Gate) composite(asset *compose.PageAsset) int {
	structure := 0.0
	if g.selected > 0 {
		structure = float64(len(asset.Sections)) / float64(g.selected)
	}

	length := float64(asset.WordCount) / float64(g.thresholds.MinWords)
	if length > 1 {
		length = 1
	}

	score := 40*structure + 30*length + 30*seoScore(asset.Body())
	return int(score + 0.5)
}

// seoScore inspects the rendered HTML for search-relevant structure:
// headings, anchors, and tabular or list content.
func seoScore(body string) float64 {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0
	}
	score := 0.0
	headings := doc.Find("h1,h2,h3").Length()
	switch {
	case headings >= 2:
		score += 0.4
	case headings == 1:
		score += 0.2
	}
	if doc.Find("a[href]").Length() > 0 {
		score += 0.3
	}
	if doc.Find("table,ul,ol").Length() > 0 {
		score += 0.3
	}
	return score
}
