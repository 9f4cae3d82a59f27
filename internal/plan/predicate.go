package plan

import "github.com/bits-and-blooms/bitset"

// Conjunct is one element of a predicate vector: a normalized comparison
// plus its cached left/right table bitsets. The cached bitsets are what push-down and join-key detection
// test cheaply against a child subtree's TableBitset.
type Conjunct struct {
	Cond        BinaryConditionExpr
	LeftTables  *bitset.BitSet
	RightTables *bitset.BitSet
}

// AllTables is the union of LeftTables and RightTables.
func (c Conjunct) AllTables() *bitset.BitSet {
	return c.LeftTables.Clone().Union(c.RightTables)
}

// IsEquiJoin reports whether c is an equality conjunct whose two operands
// reference disjoint, non-empty table sets: the shape a join-graph edge
// or a hash-join key requires.
func (c Conjunct) IsEquiJoin() bool {
	if c.Cond.Op != OpEq {
		return false
	}
	if c.LeftTables.None() || c.RightTables.None() {
		return false
	}
	return c.LeftTables.IntersectionCardinality(c.RightTables) == 0
}

// BuildVector splits the given boolean-ish expressions into a predicate
// vector, normalizing each to comparison shape and computing its cached
// table bitsets via tableBit (schema's table-alias -> base-table-bit map).
func BuildVector(exprs []*Expr, schema OutputSchema, tableBit map[string]uint) []Conjunct {
	out := make([]Conjunct, 0, len(exprs))
	for _, e := range exprs {
		cond := NormalizeConjunct(e)
		out = append(out, Conjunct{
			Cond:        cond,
			LeftTables:  exprTables(cond.Left, schema, tableBit),
			RightTables: exprTables(cond.Right, schema, tableBit),
		})
	}
	return out
}

// exprTables returns the set of base-table bits referenced anywhere in e.
func exprTables(e *Expr, schema OutputSchema, tableBit map[string]uint) *bitset.BitSet {
	bs := bitset.New(uint(len(tableBit)))
	if e == nil {
		return bs
	}
	switch e.Kind {
	case ExprColumn:
		if e.ColIndex >= 0 && e.ColIndex < len(schema) {
			if bit, ok := tableBit[schema[e.ColIndex].TableAlias]; ok {
				bs.Set(bit)
			}
		}
	case ExprBinary:
		bs.InPlaceUnion(exprTables(e.Left, schema, tableBit))
		bs.InPlaceUnion(exprTables(e.Right, schema, tableBit))
	}
	return bs
}

// Merge returns the conjunction of two predicate vectors (for
// PushDownFilter's "merge into existing Filter" rule).
func Merge(a, b []Conjunct) []Conjunct {
	out := make([]Conjunct, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
