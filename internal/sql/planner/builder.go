// Package planner builds plan.Node trees from the typed AST in
// internal/sql/parser, resolving column references against the table
// catalog's schemas before handing the tree to internal/rewrite and
// internal/optimize.
//
// Joins are folded left-deep over the FROM list, GROUP BY/HAVING lower
// to a single Aggregate node, and WHERE/HAVING both go through
// parser.SplitAnd before becoming a plan.Conjunct vector.
package planner

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/nmarchenko/ridgeline/internal/plan"
	"github.com/nmarchenko/ridgeline/internal/sql/parser"
	"github.com/nmarchenko/ridgeline/internal/table"
)

// Builder converts parsed statements into plan.Node trees, consulting
// the catalog for table schemas.
type Builder struct {
	Catalog *table.Catalog
}

// New returns a Builder over cat.
func New(cat *table.Catalog) *Builder {
	return &Builder{Catalog: cat}
}

// BuildSchema translates a CREATE TABLE statement's column list into a
// table.Schema, honoring declared PRIMARY KEY/AUTO_INCREMENT/FOREIGN KEY
// clauses.
func (b *Builder) BuildSchema(stmt *parser.CreateTableStmt) (table.Schema, error) {
	cols := make([]table.Column, len(stmt.Columns))
	var pkCol string
	var autoIncrement bool
	var fks []table.ForeignKey
	for i, c := range stmt.Columns {
		t, err := mapColumnType(c.Type)
		if err != nil {
			return table.Schema{}, err
		}
		cols[i] = table.Column{Name: c.Name, Type: t, Size: c.Size}
		if c.PrimaryKey {
			pkCol = c.Name
			autoIncrement = c.AutoIncrement
		}
		if c.References != nil {
			fks = append(fks, table.ForeignKey{
				Column:   c.Name,
				RefTable: c.References.Table,
				RefCol:   c.References.Column,
			})
		}
	}
	return table.NewSchema(stmt.TableName, cols, pkCol, autoIncrement, fks), nil
}

func mapColumnType(name string) (table.ColumnType, error) {
	switch name {
	case "int32":
		return table.TypeInt32, nil
	case "int64":
		return table.TypeInt64, nil
	case "float64":
		return table.TypeFloat64, nil
	case "char":
		return table.TypeChar, nil
	case "varchar":
		return table.TypeVarchar, nil
	default:
		return 0, fmt.Errorf("planner: unknown column type %q", name)
	}
}

// scanScope is the column-resolution context threaded through a query's
// FROM/WHERE/GROUP BY/HAVING/SELECT/ORDER BY clauses: the schema built up
// so far plus the base-table-bit map BuildVector needs.
type scanScope struct {
	schema   plan.OutputSchema
	tableBit map[string]uint
}

// BuildQuery lowers a SELECT statement into a plan.Node tree: FROM
// (left-deep cross joins) -> WHERE -> GROUP BY/aggregate+HAVING or plain
// Project -> DISTINCT -> ORDER BY -> LIMIT/OFFSET.
func (b *Builder) BuildQuery(stmt *parser.SelectStmt) (*plan.Node, error) {
	node, scope, err := b.buildFrom(stmt.From)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		node, err = b.buildFilter(node, scope, stmt.Where)
		if err != nil {
			return nil, err
		}
	}

	node, scope, err = b.buildProjection(node, scope, stmt)
	if err != nil {
		return nil, err
	}

	if stmt.Distinct {
		d := plan.NewUnary(plan.KindDistinct, node)
		d.OutputSchema = node.OutputSchema
		node = d
	}

	if len(stmt.OrderBy) > 0 {
		keys := make([]plan.OrderKey, len(stmt.OrderBy))
		for i, o := range stmt.OrderBy {
			e, err := b.resolveExpr(o.Expr, scope)
			if err != nil {
				return nil, err
			}
			keys[i] = plan.OrderKey{Expr: e, Desc: o.Desc}
		}
		ob := plan.NewUnary(plan.KindOrderBy, node)
		ob.OutputSchema = node.OutputSchema
		ob.OrderKeys = keys
		node = ob
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		l := plan.NewUnary(plan.KindLimit, node)
		l.OutputSchema = node.OutputSchema
		l.LimitCount = -1
		if stmt.Limit != nil {
			l.LimitCount = *stmt.Limit
		}
		if stmt.Offset != nil {
			l.Offset = *stmt.Offset
		}
		node = l
	}

	return node, nil
}

// buildFrom builds the left-deep cross-join tree over stmt.From, each
// base table contributing one bit of the eventual TableBitset in FROM
// order.
func (b *Builder) buildFrom(refs []parser.TableRef) (*plan.Node, scanScope, error) {
	if len(refs) == 0 {
		return nil, scanScope{}, fmt.Errorf("planner: SELECT requires a FROM clause")
	}

	tableBit := make(map[string]uint, len(refs))
	var node *plan.Node
	var schema plan.OutputSchema

	for i, ref := range refs {
		alias := ref.Alias
		if alias == "" {
			alias = ref.Table
		}
		tbl, err := b.Catalog.Open(ref.Table)
		if err != nil {
			return nil, scanScope{}, fmt.Errorf("planner: FROM %s: %w", ref.Table, err)
		}
		s := tbl.Schema()

		leafSchema := make(plan.OutputSchema, len(s.Columns))
		for ci, c := range s.Columns {
			leafSchema[ci] = plan.OutputColumn{StableID: ci, TableAlias: alias, ColumnAlias: c.Name, Type: c.Type, Size: c.Size}
		}

		bits := bitset.New(uint(len(refs)))
		bits.Set(uint(i))
		leaf := plan.NewLeaf(plan.KindSeqScan, bits)
		leaf.TableName = ref.Table
		leaf.TableAlias = alias
		leaf.OutputSchema = leafSchema
		leaf.PKColIndex = s.PKIndex
		tableBit[alias] = uint(i)

		if node == nil {
			node = leaf
			schema = leafSchema
			continue
		}
		joined := plan.NewBinary(plan.KindJoin, node, leaf)
		joined.OutputSchema = append(append(plan.OutputSchema{}, schema...), leafSchema...)
		node = joined
		schema = joined.OutputSchema
	}

	return node, scanScope{schema: schema, tableBit: tableBit}, nil
}

func (b *Builder) buildFilter(node *plan.Node, scope scanScope, where parser.Expr) (*plan.Node, error) {
	conjuncts := parser.SplitAnd(where)
	exprs := make([]*plan.Expr, len(conjuncts))
	for i, c := range conjuncts {
		e, err := b.resolveExpr(c, scope)
		if err != nil {
			return nil, err
		}
		exprs[i] = e
	}
	f := plan.NewUnary(plan.KindFilter, node)
	f.OutputSchema = node.OutputSchema
	f.FilterPred = plan.BuildVector(exprs, node.OutputSchema, scope.tableBit)
	return f, nil
}

// buildProjection lowers the SELECT list, handling the GROUP BY/aggregate
// path when needed, otherwise a plain Project (or a straight pass-through
// for "SELECT *"). Returns the new node and the scanScope callers further
// up the clause chain (DISTINCT/ORDER BY) must resolve expressions
// against.
func (b *Builder) buildProjection(node *plan.Node, scope scanScope, stmt *parser.SelectStmt) (*plan.Node, scanScope, error) {
	isAgg := len(stmt.GroupBy) > 0
	if !isAgg {
		for _, item := range stmt.Columns {
			if _, ok := item.Expr.(*parser.FuncExpr); ok {
				isAgg = true
				break
			}
		}
	}
	if isAgg {
		return b.buildAggregate(node, scope, stmt)
	}

	if len(stmt.Columns) == 0 {
		return node, scope, nil
	}

	exprs := make([]*plan.Expr, len(stmt.Columns))
	outSchema := make(plan.OutputSchema, len(stmt.Columns))
	for i, item := range stmt.Columns {
		e, err := b.resolveExpr(item.Expr, scope)
		if err != nil {
			return nil, scanScope{}, err
		}
		exprs[i] = e
		outSchema[i] = plan.OutputColumn{StableID: i, ColumnAlias: projectAlias(item)}
	}
	p := plan.NewUnary(plan.KindProject, node)
	p.OutputSchema = outSchema
	p.ProjectExprs = exprs
	return p, scanScope{schema: outSchema, tableBit: scope.tableBit}, nil
}

func projectAlias(item parser.SelectItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	if col, ok := item.Expr.(*parser.ColumnRef); ok {
		return col.Column
	}
	return ""
}

// buildAggregate lowers GROUP BY/aggregate SELECT lists and HAVING to a
// single Aggregate node, then a Project mapping
// the SELECT list back onto the aggregate's [group-by..., agg...] output
// order (which need not match the SELECT list's own order).
func (b *Builder) buildAggregate(node *plan.Node, scope scanScope, stmt *parser.SelectStmt) (*plan.Node, scanScope, error) {
	groupExprs := make([]*plan.Expr, len(stmt.GroupBy))
	aggOutSchema := make(plan.OutputSchema, 0, len(stmt.GroupBy)+len(stmt.Columns))
	for i, g := range stmt.GroupBy {
		e, err := b.resolveExpr(g, scope)
		if err != nil {
			return nil, scanScope{}, err
		}
		groupExprs[i] = e
		name := ""
		if col, ok := g.(*parser.ColumnRef); ok {
			name = col.Column
		}
		aggOutSchema = append(aggOutSchema, plan.OutputColumn{StableID: i, ColumnAlias: name})
	}

	var aggExprs []plan.AggExpr
	aggIndexByName := make(map[string]int)
	for _, item := range stmt.Columns {
		fn, ok := item.Expr.(*parser.FuncExpr)
		if !ok {
			continue
		}
		af, err := mapAggFunc(fn)
		if err != nil {
			return nil, scanScope{}, err
		}
		var arg *plan.Expr
		if !fn.Star {
			arg, err = b.resolveExpr(fn.Arg, scope)
			if err != nil {
				return nil, scanScope{}, err
			}
		}
		alias := item.Alias
		if alias == "" {
			alias = fn.Name
		}
		aggIndexByName[alias] = len(aggExprs)
		aggExprs = append(aggExprs, plan.AggExpr{Func: af, Arg: arg, Alias: alias})
		aggOutSchema = append(aggOutSchema, plan.OutputColumn{StableID: len(aggOutSchema), ColumnAlias: alias})
	}

	agg := plan.NewUnary(plan.KindAggregate, node)
	agg.OutputSchema = aggOutSchema
	agg.GroupByExprs = groupExprs
	agg.AggExprs = aggExprs

	if stmt.Having != nil {
		conjuncts := parser.SplitAnd(stmt.Having)
		exprs := make([]*plan.Expr, len(conjuncts))
		havingScope := scanScope{schema: aggOutSchema, tableBit: map[string]uint{"": 0}}
		for i, c := range conjuncts {
			e, err := b.resolveExpr(c, havingScope)
			if err != nil {
				return nil, scanScope{}, err
			}
			exprs[i] = e
		}
		agg.HavingPred = plan.BuildVector(exprs, aggOutSchema, map[string]uint{"": 0})
	}

	// Map the SELECT list onto the aggregate's own output order: a bare
	// column must name a GROUP BY key, a func() must match one of the
	// aggregate expressions just built.
	if len(stmt.Columns) == 0 {
		return agg, scanScope{schema: aggOutSchema, tableBit: map[string]uint{"": 0}}, nil
	}

	projExprs := make([]*plan.Expr, len(stmt.Columns))
	outSchema := make(plan.OutputSchema, len(stmt.Columns))
	for i, item := range stmt.Columns {
		switch e := item.Expr.(type) {
		case *parser.FuncExpr:
			alias := item.Alias
			if alias == "" {
				alias = e.Name
			}
			idx, ok := aggIndexByName[alias]
			if !ok {
				return nil, scanScope{}, fmt.Errorf("planner: internal: aggregate %s not found in built list", alias)
			}
			projExprs[i] = plan.Col(len(groupExprs) + idx)
			outSchema[i] = plan.OutputColumn{StableID: i, ColumnAlias: alias}
		case *parser.ColumnRef:
			gi := -1
			for j, g := range stmt.GroupBy {
				if gc, ok := g.(*parser.ColumnRef); ok && gc.Column == e.Column {
					gi = j
					break
				}
			}
			if gi < 0 {
				return nil, scanScope{}, fmt.Errorf("planner: column %q must appear in GROUP BY or be an aggregate", e.Column)
			}
			projExprs[i] = plan.Col(gi)
			outSchema[i] = plan.OutputColumn{StableID: i, ColumnAlias: projectAlias(item)}
		default:
			return nil, scanScope{}, fmt.Errorf("planner: unsupported SELECT list expression in an aggregate query")
		}
	}

	p := plan.NewUnary(plan.KindProject, agg)
	p.OutputSchema = outSchema
	p.ProjectExprs = projExprs
	return p, scanScope{schema: outSchema, tableBit: map[string]uint{"": 0}}, nil
}

func mapAggFunc(fn *parser.FuncExpr) (plan.AggFunc, error) {
	if fn.Star {
		if fn.Name != "count" {
			return 0, fmt.Errorf("planner: %s(*) is not supported", fn.Name)
		}
		return plan.AggCountStar, nil
	}
	switch fn.Name {
	case "sum":
		return plan.AggSum, nil
	case "min":
		return plan.AggMin, nil
	case "max":
		return plan.AggMax, nil
	case "avg":
		return plan.AggAvg, nil
	case "count":
		return plan.AggCount, nil
	default:
		return 0, fmt.Errorf("planner: unknown aggregate function %q", fn.Name)
	}
}

// resolveExpr lowers a parser.Expr into a plan.Expr, resolving column
// references against scope.schema.
func (b *Builder) resolveExpr(e parser.Expr, scope scanScope) (*plan.Expr, error) {
	switch x := e.(type) {
	case *parser.ColumnRef:
		idx := scope.schema.IndexOf(x.Table, x.Column)
		if idx < 0 {
			if x.Table != "" {
				return nil, fmt.Errorf("planner: unknown column %s.%s", x.Table, x.Column)
			}
			return nil, fmt.Errorf("planner: unknown column %s", x.Column)
		}
		return plan.Col(idx), nil
	case *parser.LiteralExpr:
		return plan.Lit(x.Value), nil
	case *parser.BinaryExpr:
		op, err := mapBinOp(x.Op)
		if err != nil {
			return nil, err
		}
		l, err := b.resolveExpr(x.Left, scope)
		if err != nil {
			return nil, err
		}
		r, err := b.resolveExpr(x.Right, scope)
		if err != nil {
			return nil, err
		}
		return plan.Bin(op, l, r), nil
	case *parser.FuncExpr:
		return nil, fmt.Errorf("planner: aggregate function %s() is only valid in a SELECT list or HAVING clause", x.Name)
	default:
		return nil, fmt.Errorf("planner: unsupported expression type %T", e)
	}
}

func mapBinOp(op parser.BinOp) (plan.BinOp, error) {
	switch op {
	case parser.OpEq:
		return plan.OpEq, nil
	case parser.OpNe:
		return plan.OpNe, nil
	case parser.OpLt:
		return plan.OpLt, nil
	case parser.OpLe:
		return plan.OpLe, nil
	case parser.OpGt:
		return plan.OpGt, nil
	case parser.OpGe:
		return plan.OpGe, nil
	case parser.OpAdd:
		return plan.OpAdd, nil
	case parser.OpSub:
		return plan.OpSub, nil
	case parser.OpMul:
		return plan.OpMul, nil
	case parser.OpDiv:
		return plan.OpDiv, nil
	default:
		return 0, fmt.Errorf("planner: operator %q cannot appear inside an expression (only top-level AND is split before lowering)", op)
	}
}

// BuildInsert lowers INSERT ... VALUES to a leaf Insert node carrying
// literal row expressions, and INSERT ... SELECT to an Insert node whose
// child plan produces the rows to insert.
func (b *Builder) BuildInsert(stmt *parser.InsertStmt) (*plan.Node, error) {
	if stmt.Select != nil {
		return b.buildInsertSelect(stmt)
	}
	tbl, err := b.Catalog.Open(stmt.TableName)
	if err != nil {
		return nil, fmt.Errorf("planner: INSERT INTO %s: %w", stmt.TableName, err)
	}
	schema := tbl.Schema()

	colOrder := stmt.Columns
	if len(colOrder) == 0 {
		for _, c := range schema.Columns {
			if schema.HiddenPK && c.Name == table.HiddenPKName {
				continue
			}
			colOrder = append(colOrder, c.Name)
		}
	}

	bits := bitset.New(1)
	bits.Set(0)
	node := plan.NewLeaf(plan.KindInsert, bits)
	node.DMLTable = stmt.TableName

	rows := make([][]*plan.Expr, len(stmt.Rows))
	for ri, vals := range stmt.Rows {
		if len(vals) != len(colOrder) {
			return nil, fmt.Errorf("planner: INSERT INTO %s: %d values for %d columns", stmt.TableName, len(vals), len(colOrder))
		}
		row := make([]*plan.Expr, len(schema.Columns))
		for ci, colName := range colOrder {
			idx := schema.ColumnIndex(colName)
			if idx < 0 {
				return nil, fmt.Errorf("planner: INSERT INTO %s: unknown column %s", stmt.TableName, colName)
			}
			e, err := b.resolveExpr(vals[ci], scanScope{})
			if err != nil {
				return nil, err
			}
			row[idx] = e
		}
		if schema.HiddenPK && row[schema.PKIndex] == nil {
			row[schema.PKIndex] = plan.Lit(nil)
		}
		rows[ri] = row
	}
	node.InsertRows = rows
	return node, nil
}

// buildInsertSelect lowers INSERT INTO t SELECT ...: the SELECT becomes
// the Insert node's child, and each produced row maps positionally onto
// t's declared (non-hidden) columns.
func (b *Builder) buildInsertSelect(stmt *parser.InsertStmt) (*plan.Node, error) {
	tbl, err := b.Catalog.Open(stmt.TableName)
	if err != nil {
		return nil, fmt.Errorf("planner: INSERT INTO %s: %w", stmt.TableName, err)
	}
	schema := tbl.Schema()

	visible := len(schema.Columns)
	if schema.HiddenPK {
		visible--
	}

	child, err := b.BuildQuery(stmt.Select)
	if err != nil {
		return nil, err
	}
	if got := len(child.OutputSchema); got != visible {
		return nil, fmt.Errorf("planner: INSERT INTO %s: SELECT produces %d columns, table has %d", stmt.TableName, got, visible)
	}

	node := plan.NewUnary(plan.KindInsert, child)
	node.DMLTable = stmt.TableName
	return node, nil
}

// BuildUpdate lowers an UPDATE statement to an Update node atop a
// SeqScan/Filter chain over TableName. An UPDATE ... FROM joins the
// extra tables behind TableName so SET/WHERE can reference their
// columns; the mutated row set is still TableName's alone, whose
// columns form the prefix of every joined row (TableName is always the
// leftmost leaf).
func (b *Builder) BuildUpdate(stmt *parser.UpdateStmt) (*plan.Node, error) {
	refs := append([]parser.TableRef{{Table: stmt.TableName}}, stmt.From...)
	scanNode, scope, err := b.buildFrom(refs)
	if err != nil {
		return nil, err
	}
	child := scanNode
	if stmt.Where != nil {
		child, err = b.buildFilter(child, scope, stmt.Where)
		if err != nil {
			return nil, err
		}
	}

	assign := make(map[string]*plan.Expr, len(stmt.Assignments))
	for _, a := range stmt.Assignments {
		e, err := b.resolveExpr(a.Value, scope)
		if err != nil {
			return nil, err
		}
		assign[a.Column] = e
	}

	u := plan.NewUnary(plan.KindUpdate, child)
	u.DMLTable = stmt.TableName
	u.UpdateAssign = assign
	return u, nil
}

// BuildDelete lowers a DELETE statement to a Delete node atop a
// SeqScan/Filter chain over TableName.
func (b *Builder) BuildDelete(stmt *parser.DeleteStmt) (*plan.Node, error) {
	scanNode, scope, err := b.buildFrom([]parser.TableRef{{Table: stmt.TableName}})
	if err != nil {
		return nil, err
	}
	child := scanNode
	if stmt.Where != nil {
		child, err = b.buildFilter(child, scope, stmt.Where)
		if err != nil {
			return nil, err
		}
	}
	d := plan.NewUnary(plan.KindDelete, child)
	d.DMLTable = stmt.TableName
	return d, nil
}
