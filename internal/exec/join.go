package exec

import (
	"fmt"
	"strings"

	"github.com/nmarchenko/ridgeline/internal/plan"
)

// nestedLoopJoin is the fallback join when no equi-join key exists: for
// every left row it rescans the right side, returning every pair
// satisfying the predicate.
type nestedLoopJoin struct {
	node        *plan.Node
	left, right Operator
	curLeft     Row
	haveLeft    bool
	n           uint64
}

func newNestedLoopJoin(n *plan.Node, left, right Operator) *nestedLoopJoin {
	return &nestedLoopJoin{node: n, left: left, right: right}
}

func (j *nestedLoopJoin) Init() error {
	return j.left.Init()
}

func (j *nestedLoopJoin) advanceLeft() (bool, error) {
	row, ok, err := j.left.Next()
	if err != nil || !ok {
		return false, err
	}
	j.curLeft = row
	j.haveLeft = true
	return true, j.right.Init()
}

func (j *nestedLoopJoin) Next() (Row, bool, error) {
	if !j.haveLeft {
		if ok, err := j.advanceLeft(); err != nil || !ok {
			return nil, ok, err
		}
	}
	for {
		rrow, ok, err := j.right.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if ok, err := j.advanceLeft(); err != nil || !ok {
				return nil, ok, err
			}
			continue
		}
		combined := concatRows(j.curLeft, rrow)
		match, err := evalAll(j.node.JoinPred, combined)
		if err != nil {
			return nil, false, err
		}
		if match {
			j.n++
			return combined, true, nil
		}
	}
}

func (j *nestedLoopJoin) TotalOutputSize() uint64 { return j.n }

// hashJoin drains the build side (Child0) into a hash multimap during
// init, then probes per right row (Child1) during next, emitting every
// match that also satisfies the residual predicate. The build side completes before any probe row is read;
// results come out in probe-then-match order.
type hashJoin struct {
	node         *plan.Node
	build, probe Operator
	buckets      map[string][]Row
	curMatches   []Row
	matchIdx     int
	curProbeRow  Row
	n            uint64
}

func newHashJoin(n *plan.Node, build, probe Operator) *hashJoin {
	return &hashJoin{node: n, build: build, probe: probe}
}

func (j *hashJoin) Init() error {
	if err := j.build.Init(); err != nil {
		return err
	}
	j.buckets = make(map[string][]Row)
	for {
		row, ok, err := j.build.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key, err := hashKey(j.node.LeftHashExprs, row)
		if err != nil {
			return err
		}
		j.buckets[key] = append(j.buckets[key], row)
	}
	return j.probe.Init()
}

func hashKey(exprs []*plan.Expr, row Row) (string, error) {
	var b strings.Builder
	for i, e := range exprs {
		v, err := evalExpr(e, row)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte('\x00')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String(), nil
}

func (j *hashJoin) Next() (Row, bool, error) {
	for {
		for j.matchIdx < len(j.curMatches) {
			buildRow := j.curMatches[j.matchIdx]
			j.matchIdx++
			combined := concatRows(buildRow, j.curProbeRow)
			ok, err := evalAll(j.node.JoinPred, combined)
			if err != nil {
				return nil, false, err
			}
			if ok {
				j.n++
				return combined, true, nil
			}
		}
		row, ok, err := j.probe.Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		j.curProbeRow = row
		key, err := hashKey(j.node.RightHashExprs, row)
		if err != nil {
			return nil, false, err
		}
		j.curMatches = j.buckets[key]
		j.matchIdx = 0
	}
}

func (j *hashJoin) TotalOutputSize() uint64 { return j.n }

func concatRows(left, right Row) Row {
	out := make(Row, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}
