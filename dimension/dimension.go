// Package dimension declares the attribute axes a page set is generated
// from, and enumerates their admissible combinations lazily.
//
// A Model holds named dimensions (material, capacity, use-case, ...) plus
// admission rules. The combination space is never materialized: a Cursor
// walks it with a mixed-radix counter and tests each candidate tuple against
// compiled predicates before yielding it.
package dimension

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks a malformed model or rule. It is always raised at
// build time (NewModel), never during iteration.
var ErrConfiguration = errors.New("dimension: invalid configuration")

// Value is one entry on a dimension axis.
type Value struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Slug  string `yaml:"slug"`
}

// Dimension is a named, enumerable attribute axis.
type Dimension struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Required bool    `yaml:"required"`
	Values   []Value `yaml:"values"`
}

// RuleKind selects allow or deny semantics for a rule.
type RuleKind string

const (
	RuleAllow RuleKind = "allow"
	RuleDeny  RuleKind = "deny"
)

// Rule is a partial assignment of dimension name to value ID. A combination
// matches when every pair in Match agrees with it.
//
// Deny rules reject any matching combination. When at least one allow rule
// exists, a combination must additionally match one of them to be admitted.
type Rule struct {
	Kind  RuleKind          `yaml:"kind"`
	Match map[string]string `yaml:"match"`
}

// compiled rule: dimension indices resolved up front so iteration does no
// name lookups.
type predicate struct {
	kind  RuleKind
	pairs []predicatePair
}

type predicatePair struct {
	dim     int
	valueID string
}

// Model is a validated set of dimensions and admission rules.
type Model struct {
	Name       string
	Dimensions []Dimension

	required   []int // indices into Dimensions, iteration order
	predicates []predicate
	hasAllow   bool
}

// NewModel validates dimensions and rules and returns a Model. All
// configuration problems surface here, wrapped in ErrConfiguration:
// duplicate dimension names, duplicate value IDs within a dimension, zero
// required dimensions, or a rule referencing an unknown dimension or value.
func NewModel(name string, dims []Dimension, rules []Rule) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: model name is empty", ErrConfiguration)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: model %q has no dimensions", ErrConfiguration, name)
	}

	byName := make(map[string]int, len(dims))
	m := &Model{Name: name, Dimensions: dims}
	for i, d := range dims {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: dimension %d has no name", ErrConfiguration, i)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate dimension %q", ErrConfiguration, d.Name)
		}
		byName[d.Name] = i
		if len(d.Values) == 0 {
			return nil, fmt.Errorf("%w: dimension %q has no values", ErrConfiguration, d.Name)
		}
		seen := make(map[string]struct{}, len(d.Values))
		for _, v := range d.Values {
			if v.ID == "" {
				return nil, fmt.Errorf("%w: dimension %q has a value with empty id", ErrConfiguration, d.Name)
			}
			if _, dup := seen[v.ID]; dup {
				return nil, fmt.Errorf("%w: dimension %q: duplicate value id %q", ErrConfiguration, d.Name, v.ID)
			}
			seen[v.ID] = struct{}{}
		}
		if d.Required {
			m.required = append(m.required, i)
		}
	}

	if len(m.required) == 0 {
		return nil, fmt.Errorf("%w: model %q has no required dimensions, nothing to enumerate", ErrConfiguration, name)
	}

	for ri, r := range rules {
		if r.Kind != RuleAllow && r.Kind != RuleDeny {
			return nil, fmt.Errorf("%w: rule %d: unknown kind %q", ErrConfiguration, ri, r.Kind)
		}
		if len(r.Match) == 0 {
			return nil, fmt.Errorf("%w: rule %d: empty match", ErrConfiguration, ri)
		}
		p := predicate{kind: r.Kind}
		for dimName, valueID := range r.Match {
			di, ok := byName[dimName]
			if !ok {
				return nil, fmt.Errorf("%w: rule %d references unknown dimension %q", ErrConfiguration, ri, dimName)
			}
			if !hasValue(dims[di], valueID) {
				return nil, fmt.Errorf("%w: rule %d references unknown value %q in dimension %q", ErrConfiguration, ri, valueID, dimName)
			}
			p.pairs = append(p.pairs, predicatePair{dim: di, valueID: valueID})
		}
		m.predicates = append(m.predicates, p)
		if r.Kind == RuleAllow {
			m.hasAllow = true
		}
	}

	return m, nil
}

func hasValue(d Dimension, id string) bool {
	for _, v := range d.Values {
		if v.ID == id {
			return true
		}
	}
	return false
}

// TotalCombinations returns the product of the required dimensions'
// cardinalities. Admission rules do NOT reduce this figure; they are applied
// lazily during iteration.
func (m *Model) TotalCombinations() int64 {
	total := int64(1)
	for _, di := range m.required {
		total *= int64(len(m.Dimensions[di].Values))
	}
	return total
}

// Dimension returns the named dimension, or nil when unknown.
func (m *Model) Dimension(name string) *Dimension {
	for i := range m.Dimensions {
		if m.Dimensions[i].Name == name {
			return &m.Dimensions[i]
		}
	}
	return nil
}

// admits tests a raw tuple (value index per required dimension) against the
// compiled rules.
func (m *Model) admits(tuple []int) bool {
	allowed := !m.hasAllow
	for _, p := range m.predicates {
		if !m.matches(p, tuple) {
			continue
		}
		if p.kind == RuleDeny {
			return false
		}
		allowed = true
	}
	return allowed
}

func (m *Model) matches(p predicate, tuple []int) bool {
	for _, pair := range p.pairs {
		pos := m.requiredPos(pair.dim)
		if pos < 0 {
			// Rule over an optional dimension never matches an
			// enumerated tuple.
			return false
		}
		d := m.Dimensions[pair.dim]
		if d.Values[tuple[pos]].ID != pair.valueID {
			return false
		}
	}
	return true
}

func (m *Model) requiredPos(dimIndex int) int {
	for pos, di := range m.required {
		if di == dimIndex {
			return pos
		}
	}
	return -1
}

// Assignment pairs a dimension name with the chosen value.
type Assignment struct {
	Dimension string
	Value     Value
}

// Combination is one concrete assignment of exactly one value per required
// dimension, in the model's dimension order.
type Combination struct {
	assignments []Assignment
}

// Get returns the value chosen for a dimension.
func (c *Combination) Get(dim string) (Value, bool) {
	for _, a := range c.assignments {
		if a.Dimension == dim {
			return a.Value, true
		}
	}
	return Value{}, false
}

// Assignments returns the (dimension, value) pairs in model order.
func (c *Combination) Assignments() []Assignment {
	return c.assignments
}

// Key is the canonical identity of the combination: "dim=id" pairs joined in
// model order. Two combinations with the same Key are the same combination.
func (c *Combination) Key() string {
	parts := make([]string, len(c.assignments))
	for i, a := range c.assignments {
		parts[i] = a.Dimension + "=" + a.Value.ID
	}
	return strings.Join(parts, "|")
}
