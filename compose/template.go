package compose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/pagefab/dimension"
)

// CanonicalStrategy selects how a page's canonical target is resolved.
type CanonicalStrategy string

const (
	// CanonicalSelf assigns the page its own URL.
	CanonicalSelf CanonicalStrategy = "self"
	// CanonicalPrimaryDimension collapses attribute combinations onto the
	// page representing only the primary dimension's value.
	CanonicalPrimaryDimension CanonicalStrategy = "primary_dimension"
	// CanonicalHubPage points every page at an externally designated hub.
	CanonicalHubPage CanonicalStrategy = "hub_page"
)

// Canonical is the resolved canonicalization of one asset.
type Canonical struct {
	Strategy CanonicalStrategy
	Target   string
}

// Template selects and orders components, fixes the canonical strategy, and
// interpolates titles and slugs from dimension values.
//
// TitlePattern and SlugPattern use {dimension} placeholders; titles expand to
// value labels, slugs to value slug fragments.
type Template struct {
	ID         string `yaml:"id"`
	Family     string `yaml:"family"`
	Components []Kind `yaml:"components"`
	// Required components must render; a missing fragment for one of them
	// fails the whole render.
	Required []Kind `yaml:"required"`
	// AnyOf, when non-empty, demands that at least one listed kind renders.
	AnyOf []Kind `yaml:"any_of"`
	// Canonical strategy plus its strategy-specific fields. PrimaryDimension
	// is mandatory for primary_dimension (never inferred from dimension
	// order); HubURL is mandatory for hub_page.
	Canonical        CanonicalStrategy `yaml:"canonical"`
	PrimaryDimension string            `yaml:"primary_dimension"`
	HubURL           string            `yaml:"hub_url"`
	TitlePattern     string            `yaml:"title_pattern"`
	SlugPattern      string            `yaml:"slug_pattern"`
}

// PageAsset is the rendered output for one combination. It is ephemeral: it
// exists only while traversing the quality gate and is persisted only once
// accepted and published.
type PageAsset struct {
	CombinationKey string
	Combination    *dimension.Combination
	TemplateID     string
	Family         string
	Title          string
	Slug           string
	Canonical      Canonical
	Sections       []Section
	WordCount      int
}

// Body returns the concatenated section HTML.
func (a *PageAsset) Body() string {
	var b strings.Builder
	for _, s := range a.Sections {
		b.WriteString(s.HTML)
	}
	return b.String()
}

// Kinds returns the set of component kinds present in the asset.
func (a *PageAsset) Kinds() map[Kind]bool {
	out := make(map[Kind]bool, len(a.Sections))
	for _, s := range a.Sections {
		out[s.Kind] = true
	}
	return out
}

// Renderer binds a template to a registry, a dimension model, and a
// sanitization policy.
type Renderer struct {
	tmpl     *Template
	registry *Registry
	model    *dimension.Model
	policy   *bluemonday.Policy
}

// NewRenderer validates the template against the registry and model. All
// misconfigurations surface here wrapped in ErrConfiguration, never during a
// run.
func NewRenderer(tmpl *Template, registry *Registry, model *dimension.Model) (*Renderer, error) {
	if tmpl.ID == "" {
		return nil, fmt.Errorf("%w: template id is empty", ErrConfiguration)
	}
	if len(tmpl.Components) == 0 {
		return nil, fmt.Errorf("%w: template %q selects no components", ErrConfiguration, tmpl.ID)
	}
	selected := make(map[Kind]bool, len(tmpl.Components))
	for _, k := range tmpl.Components {
		if _, ok := registry.Get(k); !ok {
			return nil, fmt.Errorf("%w: template %q selects unknown component %q", ErrConfiguration, tmpl.ID, k)
		}
		if selected[k] {
			return nil, fmt.Errorf("%w: template %q selects component %q twice", ErrConfiguration, tmpl.ID, k)
		}
		selected[k] = true
	}
	for _, k := range tmpl.Required {
		if !selected[k] {
			return nil, fmt.Errorf("%w: template %q requires unselected component %q", ErrConfiguration, tmpl.ID, k)
		}
	}
	for _, k := range tmpl.AnyOf {
		if !selected[k] {
			return nil, fmt.Errorf("%w: template %q lists unselected component %q in any-of group", ErrConfiguration, tmpl.ID, k)
		}
	}

	switch tmpl.Canonical {
	case CanonicalSelf:
	case CanonicalPrimaryDimension:
		if tmpl.PrimaryDimension == "" {
			return nil, fmt.Errorf("%w: template %q: canonical strategy primary_dimension requires primary_dimension", ErrConfiguration, tmpl.ID)
		}
		d := model.Dimension(tmpl.PrimaryDimension)
		if d == nil {
			return nil, fmt.Errorf("%w: template %q: primary_dimension %q is not a dimension of model %q", ErrConfiguration, tmpl.ID, tmpl.PrimaryDimension, model.Name)
		}
		if !d.Required {
			return nil, fmt.Errorf("%w: template %q: primary_dimension %q must be a required dimension", ErrConfiguration, tmpl.ID, tmpl.PrimaryDimension)
		}
	case CanonicalHubPage:
		if tmpl.HubURL == "" {
			return nil, fmt.Errorf("%w: template %q: canonical strategy hub_page requires hub_url", ErrConfiguration, tmpl.ID)
		}
	default:
		return nil, fmt.Errorf("%w: template %q: unknown canonical strategy %q", ErrConfiguration, tmpl.ID, tmpl.Canonical)
	}

	if tmpl.TitlePattern == "" || tmpl.SlugPattern == "" {
		return nil, fmt.Errorf("%w: template %q: title and slug patterns are required", ErrConfiguration, tmpl.ID)
	}
	if err := checkPlaceholders(tmpl.TitlePattern, model); err != nil {
		return nil, fmt.Errorf("%w: template %q title pattern: %v", ErrConfiguration, tmpl.ID, err)
	}
	if err := checkPlaceholders(tmpl.SlugPattern, model); err != nil {
		return nil, fmt.Errorf("%w: template %q slug pattern: %v", ErrConfiguration, tmpl.ID, err)
	}

	return &Renderer{
		tmpl:     tmpl,
		registry: registry,
		model:    model,
		policy:   bluemonday.UGCPolicy(),
	}, nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

func checkPlaceholders(pattern string, model *dimension.Model) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(pattern, -1) {
		if model.Dimension(m[1]) == nil {
			return fmt.Errorf("unknown dimension %q", m[1])
		}
	}
	return nil
}

// Render assembles a PageAsset for one combination. A missing fragment for a
// required component fails with ErrRender; optional components lacking
// fragments are omitted. Fragment HTML is sanitized before assembly.
func (r *Renderer) Render(combo *dimension.Combination, fragments Fragments) (*PageAsset, error) {
	sections := make([]Section, 0, len(r.tmpl.Components))
	rendered := make(map[Kind]bool, len(r.tmpl.Components))

	for _, kind := range r.tmpl.Components {
		fragment, ok := fragments[kind]
		if !ok || strings.TrimSpace(fragment) == "" {
			if r.isRequired(kind) {
				return nil, fmt.Errorf("%w: combination %q: missing fragment for required component %q", ErrRender, combo.Key(), kind)
			}
			continue
		}
		comp, _ := r.registry.Get(kind)
		section, err := comp.Render(combo, r.policy.Sanitize(fragment))
		if err != nil {
			if r.isRequired(kind) {
				return nil, err
			}
			continue
		}
		sections = append(sections, section)
		rendered[kind] = true
	}

	if len(r.tmpl.AnyOf) > 0 {
		any := false
		for _, k := range r.tmpl.AnyOf {
			if rendered[k] {
				any = true
				break
			}
		}
		if !any {
			return nil, fmt.Errorf("%w: combination %q: none of %v rendered", ErrRender, combo.Key(), r.tmpl.AnyOf)
		}
	}

	title := r.expand(r.tmpl.TitlePattern, combo, false)
	slug := Slugify(r.expand(r.tmpl.SlugPattern, combo, true))

	asset := &PageAsset{
		CombinationKey: combo.Key(),
		Combination:    combo,
		TemplateID:     r.tmpl.ID,
		Family:         r.tmpl.Family,
		Title:          title,
		Slug:           slug,
		Sections:       sections,
	}
	asset.Canonical = r.resolveCanonical(combo, slug)
	asset.WordCount = countWords(asset.Body())
	return asset, nil
}

func (r *Renderer) isRequired(kind Kind) bool {
	for _, k := range r.tmpl.Required {
		if k == kind {
			return true
		}
	}
	return false
}

// expand replaces {dimension} placeholders with the combination's value
// label (or slug fragment when forSlug is set). Unset optional dimensions
// expand to the empty string.
func (r *Renderer) expand(pattern string, combo *dimension.Combination, forSlug bool) string {
	return placeholderRe.ReplaceAllStringFunc(pattern, func(ph string) string {
		name := ph[1 : len(ph)-1]
		v, ok := combo.Get(name)
		if !ok {
			return ""
		}
		if forSlug {
			return v.Slug
		}
		return v.Label
	})
}

// resolveCanonical applies the template's single strategy. The result can
// never cycle: self targets terminate immediately, primary_dimension targets
// are themselves self-canonical by construction, and hub targets are
// external fixed URLs.
func (r *Renderer) resolveCanonical(combo *dimension.Combination, slug string) Canonical {
	switch r.tmpl.Canonical {
	case CanonicalPrimaryDimension:
		v, ok := combo.Get(r.tmpl.PrimaryDimension)
		if !ok {
			// Validated at build time; unreachable for enumerated
			// combinations.
			return Canonical{Strategy: CanonicalSelf, Target: "/" + slug}
		}
		target := "/" + Slugify(v.Slug)
		if target == "/"+slug {
			// The page for the bare primary value is its own canonical.
			return Canonical{Strategy: CanonicalSelf, Target: target}
		}
		return Canonical{Strategy: CanonicalPrimaryDimension, Target: target}
	case CanonicalHubPage:
		return Canonical{Strategy: CanonicalHubPage, Target: r.tmpl.HubURL}
	default:
		return Canonical{Strategy: CanonicalSelf, Target: "/" + slug}
	}
}

var (
	slugStripRe    = regexp.MustCompile(`[^a-z0-9]+`)
	slugCollapseRe = regexp.MustCompile(`-{2,}`)
)

// Slugify lowercases and reduces a string to URL-safe slug characters.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = slugStripRe.ReplaceAllString(s, "-")
	s = slugCollapseRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func countWords(html string) int {
	return len(strings.Fields(tagRe.ReplaceAllString(html, " ")))
}
