package dimension

import (
	"errors"
	"testing"
)

func testDims() []Dimension {
	return []Dimension{
		{
			Name: "material", Type: "string", Required: true,
			Values: []Value{
				{ID: "steel", Label: "Steel", Slug: "steel"},
				{ID: "alu", Label: "Aluminium", Slug: "aluminium"},
				{ID: "wood", Label: "Wood", Slug: "wood"},
			},
		},
		{
			Name: "capacity", Type: "int", Required: true,
			Values: []Value{
				{ID: "10", Label: "10 L", Slug: "10l"},
				{ID: "20", Label: "20 L", Slug: "20l"},
				{ID: "50", Label: "50 L", Slug: "50l"},
			},
		},
	}
}

func TestNewModel_NoRequiredDimensions(t *testing.T) {
	// WHAT: a model with zero required dimensions fails at build time.
	// WHY: a silent empty run would look like success.
	dims := testDims()
	dims[0].Required = false
	dims[1].Required = false
	_, err := NewModel("m", dims, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewModel_DuplicateValueID(t *testing.T) {
	dims := testDims()
	dims[0].Values = append(dims[0].Values, Value{ID: "steel"})
	_, err := NewModel("m", dims, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewModel_RuleUnknownDimension(t *testing.T) {
	// WHAT: rule references fail at model build, never at iteration.
	_, err := NewModel("m", testDims(), []Rule{
		{Kind: RuleDeny, Match: map[string]string{"colour": "red"}},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewModel_RuleUnknownValue(t *testing.T) {
	_, err := NewModel("m", testDims(), []Rule{
		{Kind: RuleDeny, Match: map[string]string{"material": "plastic"}},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNewModel_RuleBadKind(t *testing.T) {
	_, err := NewModel("m", testDims(), []Rule{
		{Kind: "maybe", Match: map[string]string{"material": "steel"}},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTotalCombinations_IgnoresRules(t *testing.T) {
	// WHAT: TotalCombinations is the raw product of cardinalities.
	// WHY: rules reduce the space only at iteration time.
	m, err := NewModel("m", testDims(), []Rule{
		{Kind: RuleDeny, Match: map[string]string{"material": "wood"}},
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if got := m.TotalCombinations(); got != 9 {
		t.Fatalf("TotalCombinations = %d, want 9", got)
	}
}

func TestCursor_EmitsDistinctFullyPopulated(t *testing.T) {
	m, err := NewModel("m", testDims(), nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	cur := m.Combinations()
	seen := make(map[string]struct{})
	for {
		combo, ok := cur.Next()
		if !ok {
			break
		}
		if _, dup := seen[combo.Key()]; dup {
			t.Fatalf("duplicate combination %q", combo.Key())
		}
		seen[combo.Key()] = struct{}{}
		for _, dim := range []string{"material", "capacity"} {
			if _, ok := combo.Get(dim); !ok {
				t.Fatalf("combination %q missing required dimension %q", combo.Key(), dim)
			}
		}
	}
	if len(seen) != 9 {
		t.Fatalf("emitted %d combinations, want 9", len(seen))
	}
}

func TestCursor_DenyRuleFilters(t *testing.T) {
	m, err := NewModel("m", testDims(), []Rule{
		{Kind: RuleDeny, Match: map[string]string{"material": "wood", "capacity": "50"}},
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	cur := m.Combinations()
	count := 0
	for {
		combo, ok := cur.Next()
		if !ok {
			break
		}
		mat, _ := combo.Get("material")
		cap_, _ := combo.Get("capacity")
		if mat.ID == "wood" && cap_.ID == "50" {
			t.Fatal("denied tuple was emitted")
		}
		count++
	}
	if count != 8 {
		t.Fatalf("emitted %d, want 8", count)
	}
}

func TestCursor_AllowRuleRestricts(t *testing.T) {
	// WHAT: with allow rules present, only matching tuples are admitted.
	m, err := NewModel("m", testDims(), []Rule{
		{Kind: RuleAllow, Match: map[string]string{"material": "steel"}},
	})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	cur := m.Combinations()
	count := 0
	for {
		combo, ok := cur.Next()
		if !ok {
			break
		}
		mat, _ := combo.Get("material")
		if mat.ID != "steel" {
			t.Fatalf("allow rule leaked material %q", mat.ID)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("emitted %d, want 3", count)
	}
}

func TestCursor_RestoreResumesWithoutSkipOrRepeat(t *testing.T) {
	// WHAT: Pos/Restore round-trips so a paused run resumes exactly where
	// it stopped.
	// WHY: the batch queue persists the cursor position across pause/resume.
	m, err := NewModel("m", testDims(), nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	full := m.Combinations()
	var want []string
	for {
		combo, ok := full.Next()
		if !ok {
			break
		}
		want = append(want, combo.Key())
	}

	first := m.Combinations()
	var got []string
	for i := 0; i < 4; i++ {
		combo, ok := first.Next()
		if !ok {
			t.Fatal("cursor exhausted early")
		}
		got = append(got, combo.Key())
	}

	second := m.Combinations()
	second.Restore(first.Pos())
	for {
		combo, ok := second.Next()
		if !ok {
			break
		}
		got = append(got, combo.Key())
	}

	if len(got) != len(want) {
		t.Fatalf("resumed walk emitted %d combinations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCursor_RestorePastEnd(t *testing.T) {
	m, err := NewModel("m", testDims(), nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	cur := m.Combinations()
	cur.Restore(1000)
	if _, ok := cur.Next(); ok {
		t.Fatal("cursor past end should be exhausted")
	}
}

func TestCombination_Key(t *testing.T) {
	m, err := NewModel("m", testDims(), nil)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	combo, ok := m.Combinations().Next()
	if !ok {
		t.Fatal("no combination")
	}
	if combo.Key() != "material=steel|capacity=10" {
		t.Fatalf("Key = %q", combo.Key())
	}
}
