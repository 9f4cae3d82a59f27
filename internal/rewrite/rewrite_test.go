package rewrite

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"

	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/table"
)

func bits(n uint, set ...uint) *bitset.BitSet {
	b := bitset.New(n)
	for _, i := range set {
		b.Set(i)
	}
	return b
}

func TestPushDownFilterIntoSeqScan(t *testing.T) {
	scanSchema := plan.OutputSchema{
		{StableID: 0, TableAlias: "t", ColumnAlias: "a", Type: table.TypeInt64},
	}
	scan := &plan.Node{
		Kind:         plan.KindSeqScan,
		TableName:    "t",
		TableAlias:   "t",
		OutputSchema: scanSchema,
		TableBitset:  bits(1, 0),
		PKColIndex:   -1,
	}

	pred := plan.BuildVector([]*plan.Expr{
		plan.Bin(plan.OpGt, plan.Col(0), plan.Lit(int64(10))),
	}, scanSchema, map[string]uint{"t": 0})

	filter := &plan.Node{
		Kind:         plan.KindFilter,
		OutputSchema: scanSchema,
		TableBitset:  scan.TableBitset.Clone(),
		Children:     [2]*plan.Node{scan, nil},
		NumChildren:  1,
		FilterPred:   pred,
	}

	out := Rewrite(filter)
	require.Equal(t, plan.KindSeqScan, out.Kind)
	require.Len(t, out.Predicate, 1)
	require.Equal(t, plan.OpGt, out.Predicate[0].Cond.Op)
}

func TestPushDownFilterThroughOrderBy(t *testing.T) {
	scanSchema := plan.OutputSchema{
		{StableID: 0, TableAlias: "t", ColumnAlias: "a", Type: table.TypeInt64},
	}
	scan := &plan.Node{
		Kind:         plan.KindSeqScan,
		TableName:    "t",
		OutputSchema: scanSchema,
		TableBitset:  bits(1, 0),
		PKColIndex:   -1,
	}
	order := plan.NewUnary(plan.KindOrderBy, scan)
	order.OutputSchema = scanSchema
	order.OrderKeys = []plan.OrderKey{{Expr: plan.Col(0)}}

	pred := plan.BuildVector([]*plan.Expr{
		plan.Bin(plan.OpEq, plan.Col(0), plan.Lit(int64(1))),
	}, scanSchema, map[string]uint{"t": 0})

	filter := &plan.Node{
		Kind:         plan.KindFilter,
		OutputSchema: scanSchema,
		TableBitset:  order.TableBitset.Clone(),
		Children:     [2]*plan.Node{order, nil},
		NumChildren:  1,
		FilterPred:   pred,
	}

	out := Rewrite(filter)
	// Filter must end up below OrderBy, pushed all the way into the scan.
	require.Equal(t, plan.KindOrderBy, out.Kind)
	require.Equal(t, plan.KindSeqScan, out.Child0().Kind)
	require.Len(t, out.Child0().Predicate, 1)
}

func TestConvertToHashJoinSplitsEquiConjunct(t *testing.T) {
	leftSchema := plan.OutputSchema{
		{StableID: 0, TableAlias: "l", ColumnAlias: "id", Type: table.TypeInt64},
	}
	rightSchema := plan.OutputSchema{
		{StableID: 1, TableAlias: "r", ColumnAlias: "lid", Type: table.TypeInt64},
	}
	left := &plan.Node{Kind: plan.KindSeqScan, TableName: "l", OutputSchema: leftSchema, TableBitset: bits(2, 0)}
	right := &plan.Node{Kind: plan.KindSeqScan, TableName: "r", OutputSchema: rightSchema, TableBitset: bits(2, 1)}

	join := plan.NewBinary(plan.KindJoin, left, right)
	join.OutputSchema = append(append(plan.OutputSchema{}, leftSchema...), rightSchema...)
	join.JoinPred = plan.BuildVector([]*plan.Expr{
		plan.Bin(plan.OpEq, plan.Col(0), plan.Col(1)),
	}, join.OutputSchema, map[string]uint{"l": 0, "r": 1})

	out := Rewrite(join)
	require.Equal(t, plan.KindHashJoin, out.Kind)
	require.Len(t, out.LeftHashExprs, 1)
	require.Len(t, out.RightHashExprs, 1)
	require.Empty(t, out.JoinPred, "the equi-conjunct is fully consumed as a hash key, no residual filter left")
}

func TestPushDownJoinPredicateLiftsSingleSidePredicate(t *testing.T) {
	leftSchema := plan.OutputSchema{
		{StableID: 0, TableAlias: "l", ColumnAlias: "id", Type: table.TypeInt64},
	}
	rightSchema := plan.OutputSchema{
		{StableID: 1, TableAlias: "r", ColumnAlias: "lid", Type: table.TypeInt64},
	}
	left := &plan.Node{Kind: plan.KindSeqScan, TableName: "l", OutputSchema: leftSchema, TableBitset: bits(2, 0), PKColIndex: -1}
	right := &plan.Node{Kind: plan.KindSeqScan, TableName: "r", OutputSchema: rightSchema, TableBitset: bits(2, 1)}

	join := plan.NewBinary(plan.KindJoin, left, right)
	join.OutputSchema = append(append(plan.OutputSchema{}, leftSchema...), rightSchema...)
	// A join-predicate conjunct that only references the left side (l.id > 5)
	// should be lifted into a Filter on the left child, then pushed into the scan.
	join.JoinPred = plan.BuildVector([]*plan.Expr{
		plan.Bin(plan.OpGt, plan.Col(0), plan.Lit(int64(5))),
	}, join.OutputSchema, map[string]uint{"l": 0, "r": 1})

	out := Rewrite(join)
	require.Equal(t, plan.KindJoin, out.Kind)
	require.Empty(t, out.JoinPred)
	require.Equal(t, plan.KindSeqScan, out.Child0().Kind)
	require.Len(t, out.Child0().Predicate, 1)
}
