package dimension

// Cursor walks the combination space lazily with a mixed-radix counter.
// position counts raw tuples consumed, including rule-rejected ones, so a
// persisted position can be restored with Restore and the walk resumes
// exactly where it stopped, with no combination skipped or repeated.
type Cursor struct {
	model    *Model
	radices  []int
	position int64
	total    int64
}

// Combinations returns a fresh cursor at position zero.
func (m *Model) Combinations() *Cursor {
	radices := make([]int, len(m.required))
	for pos, di := range m.required {
		radices[pos] = len(m.Dimensions[di].Values)
	}
	return &Cursor{
		model:   m,
		radices: radices,
		total:   m.TotalCombinations(),
	}
}

// Pos returns the number of raw tuples consumed so far. Persist this to
// resume a run later.
func (c *Cursor) Pos() int64 {
	return c.position
}

// Restore jumps the cursor to a raw position previously obtained from Pos.
// Positions past the end simply exhaust the cursor.
func (c *Cursor) Restore(pos int64) {
	if pos < 0 {
		pos = 0
	}
	c.position = pos
}

// Next yields the next admissible combination, or ok=false when the space is
// exhausted. Tuples rejected by admission rules are consumed silently and
// never materialize as combinations.
func (c *Cursor) Next() (*Combination, bool) {
	for c.position < c.total {
		tuple := c.decode(c.position)
		c.position++
		if !c.model.admits(tuple) {
			continue
		}
		return c.materialize(tuple), true
	}
	return nil, false
}

// decode expands a raw position into one value index per required dimension
// (most-significant digit first, matching model dimension order).
func (c *Cursor) decode(pos int64) []int {
	tuple := make([]int, len(c.radices))
	for i := len(c.radices) - 1; i >= 0; i-- {
		r := int64(c.radices[i])
		tuple[i] = int(pos % r)
		pos /= r
	}
	return tuple
}

func (c *Cursor) materialize(tuple []int) *Combination {
	assignments := make([]Assignment, len(tuple))
	for pos, vi := range tuple {
		d := c.model.Dimensions[c.model.required[pos]]
		assignments[pos] = Assignment{Dimension: d.Name, Value: d.Values[vi]}
	}
	return &Combination{assignments: assignments}
}
