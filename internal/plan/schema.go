// Package plan implements the plan-node IR: a tagged
// plan-node tree carrying an output schema and a table bitset per node,
// plus the predicate vector used throughout the rewriter and optimizer.
package plan

import "github.com/nmarchenko/ridgeline/internal/table"

// OutputColumn is one column of a node's output schema.
type OutputColumn struct {
	StableID     int
	TableAlias   string
	ColumnAlias  string
	Type         table.ColumnType
	Size         int
}

// OutputSchema is the ordered column list a plan node produces.
type OutputSchema []OutputColumn

// IndexOf returns the position of a column by table alias + name, or -1.
func (s OutputSchema) IndexOf(tableAlias, col string) int {
	for i, c := range s {
		if c.ColumnAlias == col && (tableAlias == "" || c.TableAlias == tableAlias) {
			return i
		}
	}
	return -1
}
