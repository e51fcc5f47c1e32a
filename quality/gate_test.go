package quality

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/pagefab/compose"
	"github.com/hazyhaar/pagefab/dbopen"
	_ "modernc.org/sqlite"
)

func testTemplate() *compose.Template {
	return &compose.Template{
		ID:         "tank-page",
		Family:     "tanks",
		Components: []compose.Kind{compose.KindSummary, compose.KindFAQ, compose.KindCTA},
		Required:   []compose.Kind{compose.KindSummary},
	}
}

// mkAsset builds a minimal asset with one section per kind, splitting body
// HTML evenly across them for word counting.
func mkAsset(key, body string, kinds ...compose.Kind) *compose.PageAsset {
	sections := make([]compose.Section, len(kinds))
	for i, k := range kinds {
		html := ""
		if i == 0 {
			html = body
		}
		sections[i] = compose.Section{Kind: k, HTML: html}
	}
	a := &compose.PageAsset{
		CombinationKey: key,
		Family:         "tanks",
		Title:          key,
		Slug:           key,
		Sections:       sections,
	}
	a.WordCount = len(strings.Fields(body))
	return a
}

// richBody produces SEO-complete content whose tokens all carry the seed,
// so bodies for different seeds share almost no bigrams.
func richBody(seed string) string {
	var b strings.Builder
	b.WriteString("<h2>" + seed + " overview</h2><h2>Details</h2>")
	b.WriteString(`<p><a href="/quote">quote</a></p><ul>`)
	for i := 0; i < 40; i++ {
		b.WriteString(fmt.Sprintf("<li>%s-spec-%d</li>", seed, i))
	}
	b.WriteString("</ul>")
	return b.String()
}

func TestGate_IdenticalCandidateFails(t *testing.T) {
	// WHAT: a candidate identical to a corpus member scores similarity 1.0
	// and is rejected.
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), Thresholds{MinWords: 30}, testTemplate())

	first := mkAsset("a", richBody("steel"), compose.KindSummary, compose.KindFAQ, compose.KindCTA)
	report, err := gate.Admit(ctx, first)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !report.Pass {
		t.Fatalf("first candidate rejected: %+v", report)
	}

	clone := mkAsset("b", richBody("steel"), compose.KindSummary, compose.KindFAQ, compose.KindCTA)
	report, err = gate.Admit(ctx, clone)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if report.Pass {
		t.Fatalf("identical candidate passed: %+v", report)
	}
	if report.MaxSimilarity < 0.999 {
		t.Fatalf("MaxSimilarity = %f, want 1.0", report.MaxSimilarity)
	}
}

func TestGate_EmptyBodyFailsUniqueFloor(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), Thresholds{}, testTemplate())

	empty := mkAsset("a", "", compose.KindSummary)
	report, err := gate.Admit(ctx, empty)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if report.Pass {
		t.Fatal("empty candidate passed")
	}
	if report.UniqueInfoRatio != 0 {
		t.Fatalf("UniqueInfoRatio = %f, want 0", report.UniqueInfoRatio)
	}
}

func TestGate_MissingRequiredComponentIsIndependent(t *testing.T) {
	// WHAT: a missing required component rejects even when every score is
	// excellent.
	// WHY: the four gates are AND-conditions, not a blend.
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), Thresholds{MinWords: 30}, testTemplate())

	asset := mkAsset("a", richBody("steel"), compose.KindFAQ, compose.KindCTA)
	report, err := gate.Admit(ctx, asset)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if report.Pass {
		t.Fatal("candidate without required summary passed")
	}
	if len(report.MissingComponents) != 1 || report.MissingComponents[0] != compose.KindSummary {
		t.Fatalf("MissingComponents = %v", report.MissingComponents)
	}
}

func TestGate_DistinctCandidatesAccumulate(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), Thresholds{MinWords: 30}, testTemplate())

	for _, seed := range []string{"steel", "aluminium", "polyethylene"} {
		asset := mkAsset(seed, richBody(seed), compose.KindSummary, compose.KindFAQ, compose.KindCTA)
		report, err := gate.Admit(ctx, asset)
		if err != nil {
			t.Fatalf("Admit(%s): %v", seed, err)
		}
		if !report.Pass {
			t.Fatalf("%s rejected: %+v", seed, report)
		}
	}
	n, err := NewMemoryStore().Len(ctx)
	if err != nil || n != 0 {
		t.Fatalf("fresh store Len = %d, %v", n, err)
	}
}

func TestGate_ConcurrentAdmitIsSerialized(t *testing.T) {
	// WHAT: N workers admitting identical content concurrently accept
	// exactly one.
	// WHY: evaluate-then-insert must be atomic per candidate or two
	// workers both see a stale corpus (the one hard exclusivity
	// requirement of the pipeline).
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), Thresholds{MinWords: 30}, testTemplate())

	const workers = 16
	var wg sync.WaitGroup
	passes := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			asset := mkAsset(string(rune('a'+n)), richBody("steel"),
				compose.KindSummary, compose.KindFAQ, compose.KindCTA)
			report, err := gate.Admit(ctx, asset)
			if err != nil {
				t.Errorf("Admit: %v", err)
				return
			}
			passes <- report.Pass
		}(i)
	}
	wg.Wait()
	close(passes)

	accepted := 0
	for pass := range passes {
		if pass {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted %d identical candidates, want exactly 1", accepted)
	}
}

func TestGate_EvaluateDoesNotAdmit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	gate := NewGate(store, Thresholds{MinWords: 30}, testTemplate())

	asset := mkAsset("a", richBody("steel"), compose.KindSummary, compose.KindFAQ, compose.KindCTA)
	if _, err := gate.Evaluate(ctx, asset); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Fatalf("Evaluate admitted to corpus: Len = %d", n)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(SQLiteSchema))
	store := NewSQLiteStore(db)

	if err := store.Add(ctx, Member{Key: "a", Family: "tanks", Body: "<p>one</p>"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, Member{Key: "b", Family: "pumps", Body: "<p>two</p>"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	members, err := store.Members(ctx, "tanks")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || members[0].Key != "a" {
		t.Fatalf("Members(tanks) = %+v", members)
	}
	if n, _ := store.Len(ctx); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}

func TestDice(t *testing.T) {
	a := bigramSet([]string{"steel", "tank", "storage"})
	if got := dice(a, a); got != 1.0 {
		t.Fatalf("dice(a,a) = %f", got)
	}
	b := bigramSet([]string{"wooden", "barrel", "cellar"})
	if got := dice(a, b); got != 0.0 {
		t.Fatalf("dice(a,b) = %f", got)
	}
	if got := dice(nil, nil); got != 1.0 {
		t.Fatalf("dice(nil,nil) = %f", got)
	}
	if got := dice(a, nil); got != 0.0 {
		t.Fatalf("dice(a,nil) = %f", got)
	}
}

func TestUniqueRatio(t *testing.T) {
	candidate := bigramSet([]string{"a", "b", "c"}) // "a b", "b c"
	corpus := []map[string]struct{}{bigramSet([]string{"a", "b"})}
	if got := uniqueRatio(candidate, corpus); got != 0.5 {
		t.Fatalf("uniqueRatio = %f, want 0.5", got)
	}
	if got := uniqueRatio(nil, corpus); got != 0.0 {
		t.Fatalf("uniqueRatio(empty) = %f, want 0", got)
	}
}
