// Package engine wires the storage, transaction, planning, and execution
// layers into a single Database: open/close a page file, run DDL directly
// against the catalog, and drive DML/SELECT statements through the
// planner -> rewriter -> optimizer -> executor pipeline under their own
// transaction.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nmarchenko/ridgeline/internal/config"
	"github.com/nmarchenko/ridgeline/internal/exec"
	"github.com/nmarchenko/ridgeline/internal/optimize"
	"github.com/nmarchenko/ridgeline/internal/page"
	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/rewrite"
	"github.com/nmarchenko/ridgeline/internal/sql/parser"
	"github.com/nmarchenko/ridgeline/internal/sql/planner"
	"github.com/nmarchenko/ridgeline/internal/stats"
	"github.com/nmarchenko/ridgeline/internal/table"
	"github.com/nmarchenko/ridgeline/internal/txn"
)

// Database is the top-level handle a session (shell, server connection,
// or test) drives every statement through.
type Database struct {
	cfg  config.Config
	opts optimize.Options

	pm    *page.Manager
	cat   *table.Catalog
	locks *txn.LockManager
	txns  *txn.Manager
	stats *stats.Manager
}

// Open opens (or creates) the page file at cfg.Storage.File and wires the
// full engine stack over it.
func Open(cfg config.Config) (*Database, error) {
	bufPages := cfg.Storage.BufferPages
	if bufPages <= 0 {
		bufPages = 1024
	}
	pm, err := page.Open(cfg.Storage.File, true, bufPages)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", cfg.Storage.File, err)
	}
	cat, err := table.OpenCatalog(pm)
	if err != nil {
		_ = pm.Close()
		return nil, fmt.Errorf("engine: open catalog: %w", err)
	}
	lm := txn.NewLockManager()
	db := &Database{
		cfg:   cfg,
		opts:  cfg.OptimizeOptions(),
		pm:    pm,
		cat:   cat,
		locks: lm,
		txns:  txn.NewManager(lm, cat),
		stats: stats.NewManager(),
	}
	slog.Info("engine.Open", "file", cfg.Storage.File)
	return db, nil
}

// Close flushes and closes the underlying page manager.
func (db *Database) Close() error {
	return db.pm.Close()
}

// Result is one statement's outcome: SELECT/SHOW/STATS/EXPLAIN populate
// Columns/Rows, DML populates Affected, and shell meta-commands may set
// Message/Exit.
type Result struct {
	Columns  []string
	Rows     [][]any
	Affected int64
	Message  string
	Exit     bool
}

// Execute runs one already-parsed statement to completion.
func (db *Database) Execute(stmt parser.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStmt:
		return db.execCreateTable(s)
	case *parser.DropTableStmt:
		return db.execDropTable(s)
	case *parser.InsertStmt:
		return db.execDML(func(b *planner.Builder) (*plan.Node, error) { return b.BuildInsert(s) })
	case *parser.UpdateStmt:
		return db.execDML(func(b *planner.Builder) (*plan.Node, error) { return b.BuildUpdate(s) })
	case *parser.DeleteStmt:
		return db.execDML(func(b *planner.Builder) (*plan.Node, error) { return b.BuildDelete(s) })
	case *parser.SelectStmt:
		return db.execSelect(s)
	case *parser.ExplainStmt:
		return db.execExplain(s)
	case *parser.ShowTableStmt:
		return db.execShowTable()
	case *parser.AnalyzeStmt:
		return db.execAnalyze(s)
	case *parser.StatsStmt:
		return db.execStats(s)
	case *parser.ExitStmt:
		return &Result{Exit: true}, nil
	default:
		return nil, fmt.Errorf("engine: unsupported statement type %T", stmt)
	}
}

// execCreateTable and execDropTable run DDL directly against the catalog
// without going through the plan/exec pipeline at all.
func (db *Database) execCreateTable(s *parser.CreateTableStmt) (*Result, error) {
	b := planner.New(db.cat)
	schema, err := b.BuildSchema(s)
	if err != nil {
		return nil, err
	}
	if _, err := db.cat.CreateTable(schema); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %s created", s.TableName)}, nil
}

func (db *Database) execDropTable(s *parser.DropTableStmt) (*Result, error) {
	if err := db.cat.DropTable(s.TableName); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("table %s dropped", s.TableName)}, nil
}

// execDML runs one INSERT/UPDATE/DELETE plan under its own transaction,
// committing on success and aborting (replaying the undo log) on any
// build or execution error.
func (db *Database) execDML(build func(*planner.Builder) (*plan.Node, error)) (*Result, error) {
	b := planner.New(db.cat)
	node, err := build(b)
	if err != nil {
		return nil, err
	}

	t := db.txns.Begin()
	rows, err := db.run(node, t)
	if err != nil {
		_ = db.txns.Abort(t)
		return nil, err
	}
	if err := db.txns.Commit(t); err != nil {
		return nil, err
	}

	var affected int64
	if len(rows) == 1 && len(rows[0]) == 1 {
		if n, ok := rows[0][0].(int64); ok {
			affected = n
		}
	}
	return &Result{Affected: affected}, nil
}

// execSelect lowers, rewrites, and optimizes stmt, then runs it under its
// own read-only transaction.
func (db *Database) execSelect(s *parser.SelectStmt) (*Result, error) {
	node, err := db.planSelect(s)
	if err != nil {
		return nil, err
	}

	t := db.txns.Begin()
	rows, err := db.run(node, t)
	if err != nil {
		_ = db.txns.Abort(t)
		return nil, err
	}
	if err := db.txns.Commit(t); err != nil {
		return nil, err
	}

	cols := make([]string, len(node.OutputSchema))
	for i, c := range node.OutputSchema {
		cols[i] = c.ColumnAlias
	}
	return &Result{Columns: cols, Rows: rows}, nil
}

// planSelect builds, rewrites, and optimizes a SELECT's plan, shared by
// execSelect and execExplain.
func (db *Database) planSelect(s *parser.SelectStmt) (*plan.Node, error) {
	b := planner.New(db.cat)
	node, err := b.BuildQuery(s)
	if err != nil {
		return nil, err
	}
	node = rewrite.Rewrite(node)
	node = optimize.Optimize(node, db.stats, db.opts, nil)
	return node, nil
}

func (db *Database) run(node *plan.Node, t *txn.Txn) ([]exec.Row, error) {
	op, err := exec.Build(node, &exec.Context{Catalog: db.cat, Txn: t, Locks: db.locks})
	if err != nil {
		return nil, err
	}
	return exec.Run(op)
}

// execExplain renders a SELECT's rewritten/optimized plan tree without
// running it.
func (db *Database) execExplain(s *parser.ExplainStmt) (*Result, error) {
	sel, ok := s.Stmt.(*parser.SelectStmt)
	if !ok {
		return nil, fmt.Errorf("engine: EXPLAIN only supports SELECT statements")
	}
	node, err := db.planSelect(sel)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	explainNode(&b, node, 0)
	return &Result{Message: b.String()}, nil
}

func explainNode(b *strings.Builder, n *plan.Node, depth int) {
	if n == nil {
		return
	}
	fmt.Fprintf(b, "%s%s  card=%.1f cost=%.3f\n", strings.Repeat("  ", depth), n.Kind, n.EstCard, n.EstCost)
	for i := 0; i < n.NumChildren; i++ {
		explainNode(b, n.Children[i], depth+1)
	}
}

// execShowTable lists every user-visible table.
func (db *Database) execShowTable() (*Result, error) {
	names, err := db.cat.ListTables()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	rows := make([][]any, len(names))
	for i, n := range names {
		rows[i] = []any{n}
	}
	return &Result{Columns: []string{"table"}, Rows: rows}, nil
}

// execAnalyze runs ANALYZE <table>.
func (db *Database) execAnalyze(s *parser.AnalyzeStmt) (*Result, error) {
	snap, err := db.stats.Analyze(db.cat, s.TableName)
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("analyzed %s: %d rows", s.TableName, snap.TupleNum)}, nil
}

// execStats prints a table's current statistics snapshot.
func (db *Database) execStats(s *parser.StatsStmt) (*Result, error) {
	tbl, err := db.cat.Open(s.TableName)
	if err != nil {
		return nil, err
	}
	snap := db.stats.Get(s.TableName)
	if snap == nil {
		return &Result{Message: fmt.Sprintf("%s has not been analyzed", s.TableName)}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d rows\n", s.TableName, snap.TupleNum)
	for i, c := range tbl.Schema().Columns {
		fmt.Fprintf(&b, "  %s: min=%v max=%v distinct_rate=%.4f\n", c.Name, snap.GetMin(i), snap.GetMax(i), snap.GetDistinctRate(i))
	}
	return &Result{Message: b.String()}, nil
}
