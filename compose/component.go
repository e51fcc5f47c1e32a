// Package compose assembles page assets from a combination plus externally
// supplied content fragments.
//
// Rendering units form a closed set of tagged kinds behind one Component
// interface, registered in a Registry. A Template selects an ordered subset
// of kinds, declares which of them are mandatory, and fixes the
// canonical-target strategy for every page it produces.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/pagefab/dimension"
)

// ErrConfiguration marks a malformed template; raised at build time.
var ErrConfiguration = errors.New("compose: invalid template configuration")

// ErrRender is returned when a combination cannot be rendered (typically a
// missing required fragment). Per-combination, non-fatal to a run.
var ErrRender = errors.New("compose: render failed")

// Kind tags a rendering unit.
type Kind string

const (
	KindSummary         Kind = "summary"
	KindComparisonTable Kind = "comparison_table"
	KindFAQ             Kind = "faq"
	KindSpecList        Kind = "spec_list"
	KindCTA             Kind = "cta"
	KindProsCons        Kind = "pros_cons"
	KindPriceTable      Kind = "price_table"
)

// Fragments carries pre-rendered HTML per component kind. Content generation
// itself is an external collaborator; pagefab only assembles and gates.
type Fragments map[Kind]string

// Section is one rendered body block of a page asset.
type Section struct {
	Kind Kind
	HTML string
}

// Component turns a sanitized fragment into a body section for one
// combination.
type Component interface {
	Kind() Kind
	Render(combo *dimension.Combination, fragment string) (Section, error)
}

// Registry is the closed set of available components.
type Registry struct {
	components map[Kind]Component
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[Kind]Component)}
}

// Register adds a component. Registering the same kind twice is an error.
func (r *Registry) Register(c Component) error {
	if _, dup := r.components[c.Kind()]; dup {
		return fmt.Errorf("%w: component %q registered twice", ErrConfiguration, c.Kind())
	}
	r.components[c.Kind()] = c
	return nil
}

// Get returns the component for a kind.
func (r *Registry) Get(kind Kind) (Component, bool) {
	c, ok := r.components[kind]
	return c, ok
}

// DefaultRegistry returns a registry with all built-in components.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []Component{
		summaryComponent{},
		comparisonTableComponent{},
		faqComponent{},
		specListComponent{},
		ctaComponent{},
		prosConsComponent{},
		priceTableComponent{},
	} {
		// Built-ins have distinct kinds; Register cannot fail here.
		_ = r.Register(c)
	}
	return r
}

// wrap produces the uniform section envelope all built-ins share.
func wrap(kind Kind, heading, fragment string) Section {
	var b strings.Builder
	b.WriteString(`<section data-component="`)
	b.WriteString(string(kind))
	b.WriteString(`">`)
	if heading != "" {
		b.WriteString("<h2>")
		b.WriteString(heading)
		b.WriteString("</h2>")
	}
	b.WriteString(fragment)
	b.WriteString("</section>")
	return Section{Kind: kind, HTML: b.String()}
}

func comboLabels(combo *dimension.Combination) string {
	var labels []string
	for _, a := range combo.Assignments() {
		labels = append(labels, a.Value.Label)
	}
	return strings.Join(labels, " ")
}

type summaryComponent struct{}

func (summaryComponent) Kind() Kind { return KindSummary }
func (summaryComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	return wrap(KindSummary, "", fragment), nil
}

type comparisonTableComponent struct{}

func (comparisonTableComponent) Kind() Kind { return KindComparisonTable }
func (comparisonTableComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	if !strings.Contains(fragment, "<table") {
		return Section{}, fmt.Errorf("%w: comparison_table fragment contains no <table>", ErrRender)
	}
	return wrap(KindComparisonTable, comboLabels(combo)+" compared", fragment), nil
}

type faqComponent struct{}

func (faqComponent) Kind() Kind { return KindFAQ }
func (faqComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	return wrap(KindFAQ, "Frequently asked questions", fragment), nil
}

type specListComponent struct{}

func (specListComponent) Kind() Kind { return KindSpecList }
func (specListComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	return wrap(KindSpecList, comboLabels(combo)+" specifications", fragment), nil
}

type ctaComponent struct{}

func (ctaComponent) Kind() Kind { return KindCTA }
func (ctaComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	return wrap(KindCTA, "", fragment), nil
}

type prosConsComponent struct{}

func (prosConsComponent) Kind() Kind { return KindProsCons }
func (prosConsComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	return wrap(KindProsCons, "Pros and cons", fragment), nil
}

type priceTableComponent struct{}

func (priceTableComponent) Kind() Kind { return KindPriceTable }
func (priceTableComponent) Render(combo *dimension.Combination, fragment string) (Section, error) {
	if !strings.Contains(fragment, "<table") {
		return Section{}, fmt.Errorf("%w: price_table fragment contains no <table>", ErrRender)
	}
	return wrap(KindPriceTable, "Prices", fragment), nil
}
