package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/pagefab/compose"
)

const sampleYAML = `
listen: ":9090"
log_level: debug
site:
  base_url: https://pages.example.com
  host: pages.example.com
publisher:
  url: https://cms.example.com/api
  token: secret
queue:
  workers: 8
  rate_per_second: 5
  retry_base: 250ms
thresholds:
  similarity_max: 0.9
  min_words: 200
models:
  - name: tanks
    dimensions:
      - name: material
        required: true
        values:
          - {id: steel, label: Steel, slug: steel}
          - {id: plastic, label: Plastic, slug: plastic}
      - name: capacity
        required: true
        values:
          - {id: "10", label: 10 L, slug: 10l}
    rules:
      - kind: deny
        match: {material: plastic, capacity: "10"}
templates:
  - id: tank-page
    family: tanks
    components: [summary, faq, cta]
    required: [summary]
    canonical: self
    title_pattern: "{material} tanks {capacity}"
    slug_pattern: "{material}-{capacity}"
indexing:
  endpoints:
    - {name: push, url: https://index.example.com/push, key: k}
  max_retries: 5
schedules:
  coverage: "@every 1h"
  retries: "@every 30m"
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Listen != ":9090" || f.LogLevel != "debug" {
		t.Fatalf("listen/level = %q/%q", f.Listen, f.LogLevel)
	}
	if f.DBPath != "db/pagefab.db" || f.ContentDir != "content" {
		t.Fatalf("defaults not applied: %q %q", f.DBPath, f.ContentDir)
	}
	if f.Queue.Workers != 8 || f.Queue.Batch().RetryBase != 250*time.Millisecond {
		t.Fatalf("queue = %+v", f.Queue)
	}
	if f.Thresholds.SimilarityMax != 0.9 || f.Thresholds.MinWords != 200 {
		t.Fatalf("thresholds = %+v", f.Thresholds)
	}
	if f.Indexing.Host != "pages.example.com" {
		t.Fatalf("indexing host not inherited from site: %q", f.Indexing.Host)
	}
	if f.Indexing.MaxRetries != 5 || len(f.Indexing.Endpoints) != 1 {
		t.Fatalf("indexing = %+v", f.Indexing)
	}
}

func TestBuildModels(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	models, err := f.BuildModels()
	if err != nil {
		t.Fatalf("BuildModels: %v", err)
	}
	m, ok := models["tanks"]
	if !ok {
		t.Fatal("model tanks missing")
	}
	if got := m.TotalCombinations(); got != 2 {
		t.Fatalf("TotalCombinations = %d, want 2", got)
	}

	// A rule naming an unknown value fails at build, not at iteration.
	bad := strings.Replace(sampleYAML, "material: plastic", "material: titanium", 1)
	f, err = Parse([]byte(bad))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := f.BuildModels(); err == nil {
		t.Fatal("expected rule validation error")
	}
}

func TestTemplateMap(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tmpl, ok := f.TemplateMap()["tank-page"]
	if !ok {
		t.Fatal("template tank-page missing")
	}
	if tmpl.Canonical != compose.CanonicalSelf || len(tmpl.Components) != 3 {
		t.Fatalf("template = %+v", tmpl)
	}
}

func TestParseRejects(t *testing.T) {
	if _, err := Parse([]byte("listen: \":1\"\nbogus_key: 1\n")); err == nil {
		t.Fatal("unknown key accepted")
	}
	if _, err := Parse([]byte(`
templates:
  - id: t1
    components: [summary]
  - id: t1
    components: [summary]
`)); err == nil {
		t.Fatal("duplicate template accepted")
	}
	if _, err := Parse([]byte(`
models:
  - name: m1
  - name: m1
`)); err == nil {
		t.Fatal("duplicate model accepted")
	}
	if _, err := Parse([]byte("queue:\n  retry_base: fast\n")); err == nil {
		t.Fatal("bad duration accepted")
	}
}
