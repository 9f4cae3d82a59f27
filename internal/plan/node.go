package plan

import "github.com/bits-and-blooms/bitset"

// Kind tags a plan node's variant.
type Kind uint8

const (
	KindSeqScan Kind = iota
	KindRangeScan
	KindFilter
	KindProject
	KindJoin
	KindHashJoin
	KindAggregate
	KindOrderBy
	KindLimit
	KindDistinct
	KindPrint
	KindInsert
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	names := [...]string{
		"SeqScan", "RangeScan", "Filter", "Project", "Join", "HashJoin",
		"Aggregate", "OrderBy", "Limit", "Distinct", "Print", "Insert",
		"Update", "Delete",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// AggFunc is one aggregate function kind.
type AggFunc uint8

const (
	AggSum AggFunc = iota
	AggMin
	AggMax
	AggAvg
	AggCount
	AggCountStar
)

// AggExpr is one aggregate output column: Func applied to Arg (Arg is
// nil for count(*)).
type AggExpr struct {
	Func  AggFunc
	Arg   *Expr
	Alias string
}

// OrderKey is one ORDER BY key: an expression plus direction.
type OrderKey struct {
	Expr *Expr
	Desc bool
}

// Node is every plan-node variant as one tagged struct. Fields irrelevant to Kind are simply unused.
type Node struct {
	Kind         Kind
	OutputSchema OutputSchema
	TableBitset  *bitset.BitSet
	Children     [2]*Node
	NumChildren  int

	// SeqScan / RangeScan
	TableName  string
	TableAlias string
	Predicate  []Conjunct
	RangeLo, RangeHi Bound
	// PKColIndex is the position of the PK column in OutputSchema, or -1
	// if unknown; the range-scan derivation rule needs this to recognize a
	// PK-equality/range filter.
	PKColIndex int

	// Filter
	FilterPred []Conjunct

	// Project
	ProjectExprs []*Expr

	// Join / HashJoin
	JoinPred       []Conjunct
	LeftHashExprs  []*Expr
	RightHashExprs []*Expr

	// Aggregate
	GroupByExprs []*Expr
	AggExprs     []AggExpr
	HavingPred   []Conjunct

	// OrderBy
	OrderKeys []OrderKey

	// Limit
	Offset, LimitCount int

	// Distinct: no extra fields (whole-row dedup)

	// Insert / Update / Delete
	DMLTable     string
	InsertRows   [][]*Expr
	UpdateAssign map[string]*Expr

	// Estimated cost/cardinality, filled in by the optimizer.
	EstCard float64
	EstCost float64
}

// Bound mirrors table.Bound for a RangeScan's endpoints, kept in plan
// terms (literal expressions, not yet evaluated) until the executor binds
// them.
type Bound struct {
	Value     *Expr
	Unbounded bool
	Inclusive bool
}

// Child0/Child1 are convenience accessors for the 0-2 children a node
// may carry.
func (n *Node) Child0() *Node { return n.Children[0] }
func (n *Node) Child1() *Node { return n.Children[1] }

// NewLeaf builds a childless node (SeqScan/RangeScan/Insert literal rows).
func NewLeaf(kind Kind, bits *bitset.BitSet) *Node {
	return &Node{Kind: kind, TableBitset: bits}
}

// NewUnary builds a single-child node, unioning the child's table bitset.
func NewUnary(kind Kind, child *Node) *Node {
	return &Node{Kind: kind, Children: [2]*Node{child, nil}, NumChildren: 1, TableBitset: child.TableBitset.Clone()}
}

// NewBinary builds a two-child node, unioning both children's table bitsets.
func NewBinary(kind Kind, left, right *Node) *Node {
	bits := left.TableBitset.Clone()
	bits.InPlaceUnion(right.TableBitset)
	return &Node{Kind: kind, Children: [2]*Node{left, right}, NumChildren: 2, TableBitset: bits}
}
