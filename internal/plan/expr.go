package plan

// ExprKind tags a scalar expression node.
type ExprKind uint8

const (
	ExprColumn ExprKind = iota
	ExprLiteral
	ExprBinary
)

// BinOp is a binary operator; the comparison operators are the ones a
// predicate conjunct normalizes to.
type BinOp uint8

const (
	OpEq BinOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
)

// IsComparison reports whether op is one of the six comparison operators.
func (op BinOp) IsComparison() bool { return op <= OpGe }

func (op BinOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return "?"
	}
}

// Expr is a scalar expression: a column reference, a constant, or a
// binary operation over two sub-expressions.
type Expr struct {
	Kind ExprKind

	// ExprColumn
	ColIndex int // index into the referencing node's input schema

	// ExprLiteral
	Literal any

	// ExprBinary
	Op          BinOp
	Left, Right *Expr
}

// Col builds a column-reference expression.
func Col(index int) *Expr { return &Expr{Kind: ExprColumn, ColIndex: index} }

// Lit builds a constant expression.
func Lit(v any) *Expr { return &Expr{Kind: ExprLiteral, Literal: v} }

// Bin builds a binary-operator expression.
func Bin(op BinOp, l, r *Expr) *Expr { return &Expr{Kind: ExprBinary, Op: op, Left: l, Right: r} }

// BinaryConditionExpr is a comparison-shaped expression: the unit a
// predicate vector's conjuncts are always normalized to.
type BinaryConditionExpr struct {
	Op          BinOp
	Left, Right *Expr
}

// NormalizeConjunct rewrites an arbitrary boolean expr into comparison
// shape: a bare comparison passes through; anything else becomes
// `expr != 0`.
func NormalizeConjunct(e *Expr) BinaryConditionExpr {
	if e.Kind == ExprBinary && e.Op.IsComparison() {
		return BinaryConditionExpr{Op: e.Op, Left: e.Left, Right: e.Right}
	}
	return BinaryConditionExpr{Op: OpNe, Left: e, Right: Lit(int64(0))}
}

// SplitConjunction normalizes each of exprs, the conjuncts of an
// already-split top-level AND, into comparison shape; it does no
// splitting of its own. Since
// Expr has no boolean AND operator of its own (every condition is already
// comparison-shaped or combined structurally by the caller), this package
// exposes the list form directly; callers building from an AST call this
// on the AST's own AND tree before constructing Expr conjuncts. Kept here
// so rewrite/optimize share one vocabulary for "a list of conjuncts".
func SplitConjunction(exprs ...*Expr) []BinaryConditionExpr {
	out := make([]BinaryConditionExpr, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, NormalizeConjunct(e))
	}
	return out
}
