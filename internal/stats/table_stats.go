package stats

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmarchenko/ridgeline/internal/table"
)

// ColumnStats is one column's contribution to a TableStatistics: its
// observed min/max, distinct-value rate, and frequency sketch.
type ColumnStats struct {
	Min, Max     any
	DistinctRate float64
	CMS          *CountMinSketch
}

// TableStatistics is the immutable per-table statistics snapshot the
// optimizer's cardinality estimator consults.
type TableStatistics struct {
	TupleNum uint64
	Columns  []ColumnStats // indexed by Schema.Columns position
}

func (s *TableStatistics) GetMin(col int) any                { return s.Columns[col].Min }
func (s *TableStatistics) GetMax(col int) any                { return s.Columns[col].Max }
func (s *TableStatistics) GetDistinctRate(col int) float64   { return s.Columns[col].DistinctRate }
func (s *TableStatistics) GetCountMinSketch(col int) *CountMinSketch {
	return s.Columns[col].CMS
}

// Manager owns the ANALYZE'd statistics for every table, consulted by the
// cost-based optimizer. Rebuilding a table's stats
// swaps in a new *TableStatistics under the map lock; it never mutates an
// existing snapshot in place, so a planner thread holding a reference from
// before the swap keeps a consistent view for its statement.
type Manager struct {
	mu    sync.RWMutex
	byTbl map[string]*TableStatistics
}

// NewManager returns an empty statistics manager; tables have no
// statistics until ANALYZE runs, in which case the optimizer falls back to
// selectivity 1.
func NewManager() *Manager {
	return &Manager{byTbl: make(map[string]*TableStatistics)}
}

// Get returns the current statistics snapshot for table, or nil if it has
// never been ANALYZE'd.
func (m *Manager) Get(tableName string) *TableStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byTbl[tableName]
}

// Set installs snap as table's current statistics snapshot directly,
// bypassing a full ANALYZE scan. Used to restore persisted statistics at
// startup and by tests that seed known cardinalities.
func (m *Manager) Set(tableName string, snap *TableStatistics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTbl[tableName] = snap
}

// Analyze performs `ANALYZE <table>`: a single full-table
// scan that rebuilds every column's min/max/distinct-rate/CMS, then
// installs the new snapshot.
func (m *Manager) Analyze(cat *table.Catalog, tableName string) (*TableStatistics, error) {
	t, err := cat.Open(tableName)
	if err != nil {
		return nil, err
	}
	schema := t.Schema()

	cols := make([]ColumnStats, len(schema.Columns))
	hll := make([]*HyperLogLog, len(schema.Columns))
	for i := range cols {
		cols[i] = ColumnStats{CMS: NewDefaultCountMinSketch()}
		hll[i] = NewDefaultHyperLogLog()
	}

	it, err := t.GetIterator()
	if err != nil {
		return nil, err
	}
	var tupleNum uint64
	for it.Valid() {
		row := it.Row()
		for i, c := range schema.Columns {
			v := row[i]
			enc, err := table.EncodeKey(c, v)
			if err != nil {
				return nil, fmt.Errorf("stats: analyze %s: %w", tableName, err)
			}
			cols[i].CMS.Add(enc, 1)
			hll[i].Add(enc)
			if cols[i].Min == nil || compareValues(v, cols[i].Min) < 0 {
				cols[i].Min = v
			}
			if cols[i].Max == nil || compareValues(v, cols[i].Max) > 0 {
				cols[i].Max = v
			}
		}
		tupleNum++
		if more, err := it.Next(); err != nil {
			return nil, err
		} else if !more {
			break
		}
	}

	for i := range cols {
		if tupleNum == 0 {
			cols[i].DistinctRate = 0
			continue
		}
		cols[i].DistinctRate = hll[i].Estimate() / float64(tupleNum)
	}

	snap := &TableStatistics{TupleNum: tupleNum, Columns: cols}
	m.mu.Lock()
	m.byTbl[tableName] = snap
	m.mu.Unlock()
	slog.Debug("stats.Analyze", "table", tableName, "tuple_num", tupleNum)
	return snap, nil
}

// compareValues orders two same-typed column values (int64/float64/string)
// for min/max tracking.
func compareValues(a, b any) int {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
