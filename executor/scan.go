package executor

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	sp "github.com/xwb1989/sqlparser"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/projection"
	"github.com/teamlint/pg-implicit/tuple"
	"github.com/teamlint/pg-implicit/types"
)

// scanRow a deformed row and where it is stored.
type scanRow struct {
	relid types.Oid
	tid   engine.TID
	row   []types.Datum
}

// source the relation a statement reads from.
type source struct {
	name string
	// rel/layout 为 nil 表示虚拟关系(目录视图)
	rel     *engine.Relation
	layout  *tuple.Layout
	star    []projection.Column
	resolve func(name string) (projection.Column, error)
	rows    []scanRow
}

// viewColumns pg_implicit_columns_view columns.
var viewColumns = []projection.Column{
	{Name: catalog.ViewColumns[0], TypeID: types.OidOid, Index: 0},
	{Name: catalog.ViewColumns[1], TypeID: types.NameOid, Index: 1},
	{Name: catalog.ViewColumns[2], TypeID: types.NameOid, Index: 2},
	{Name: catalog.ViewColumns[3], TypeID: types.Int2Oid, Index: 3},
	{Name: catalog.ViewColumns[4], TypeID: types.BoolOid, Index: 4},
}

func resolveIn(table string, cols []projection.Column) func(string) (projection.Column, error) {
	return func(name string) (projection.Column, error) {
		for _, c := range cols {
			if c.Name == name {
				return c, nil
			}
		}
		return projection.Column{}, pgerror.UndefinedColumnError(table, name)
	}
}

// tableName extracts the single table of a FROM list.
func tableName(exprs sp.TableExprs) (string, error) {
	if len(exprs) != 1 {
		return "", unsupported("more than one table in FROM")
	}
	aliased, ok := exprs[0].(*sp.AliasedTableExpr)
	if !ok {
		return "", unsupported("joins")
	}
	tn, ok := aliased.Expr.(sp.TableName)
	if !ok {
		return "", unsupported("subqueries in FROM")
	}
	return tn.Name.String(), nil
}

// lookup finds a relation by name, falling back to the case folded name.
func (e *Executor) lookup(name string) (*engine.Relation, bool) {
	if rel, ok := e.eng.RelationByName(name); ok {
		return rel, true
	}
	return e.eng.RelationByName(strings.ToLower(name))
}

// openSource locks and scans the named relation.
func (e *Executor) openSource(tx *engine.Txn, name string, mode engine.LockMode) (*source, error) {
	if strings.EqualFold(name, catalog.ViewName) {
		return e.viewSource(tx)
	}
	found, ok := e.lookup(name)
	if !ok {
		return nil, pgerror.UndefinedTableError(name)
	}
	rel, err := e.eng.OpenRelation(tx, found.Oid, mode)
	if err != nil {
		return nil, err
	}
	if rel.Oid == catalog.RelationID {
		return e.catalogSource(tx, rel)
	}
	switch rel.Kind {
	case engine.RelKindTable, engine.RelKindPartitioned:
	default:
		return nil, unsupported(fmt.Sprintf("scan of %s %q", rel.Kind, rel.Name))
	}
	layout, err := e.cache.Get(tx, rel.Oid)
	if err != nil {
		return nil, err
	}
	src := &source{
		name:   rel.Name,
		rel:    rel,
		layout: layout,
		star:   e.filter.ExpandStar(layout),
		resolve: func(col string) (projection.Column, error) {
			return e.filter.Resolve(layout, col)
		},
	}
	if e.filter.SupportsImplicitColumns(tx, rel) {
		logrus.WithField("table", rel.Name).Debugln("wildcard hides invisible implicit columns")
	}
	if rel.Kind == engine.RelKindPartitioned {
		for _, part := range e.eng.Partitions(rel.Oid) {
			if _, err := e.eng.OpenRelation(tx, part.Oid, mode); err != nil {
				return nil, err
			}
			pl, err := e.cache.Get(tx, part.Oid)
			if err != nil {
				return nil, err
			}
			rows, err := e.scanHeap(pl)
			if err != nil {
				return nil, err
			}
			for _, r := range rows {
				r.row = e.reshape(pl, layout, r.row)
				src.rows = append(src.rows, r)
			}
		}
		return src, nil
	}
	src.rows, err = e.scanHeap(layout)
	return src, err
}

func (e *Executor) scanHeap(layout *tuple.Layout) ([]scanRow, error) {
	tuples, err := e.eng.HeapScan(layout.Relid)
	if err != nil {
		return nil, err
	}
	out := make([]scanRow, 0, len(tuples))
	for _, t := range tuples {
		row, err := tuple.Deform(layout, t.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, scanRow{relid: layout.Relid, tid: t.TID, row: row})
	}
	return out, nil
}

func (e *Executor) viewSource(tx *engine.Txn) (*source, error) {
	rows, err := e.cat.View(tx)
	if err != nil {
		return nil, err
	}
	src := &source{
		name:    catalog.ViewName,
		star:    viewColumns,
		resolve: resolveIn(catalog.ViewName, viewColumns),
	}
	for _, r := range rows {
		src.rows = append(src.rows, scanRow{row: []types.Datum{r.TableID, r.TableName, r.ColumnName, r.AttNum, r.Visible}})
	}
	return src, nil
}

func (e *Executor) catalogSource(tx *engine.Txn, rel *engine.Relation) (*source, error) {
	ds, err := e.cat.Descriptors(tx)
	if err != nil {
		return nil, err
	}
	cols := make([]projection.Column, len(rel.Attrs))
	for i, a := range rel.Attrs {
		cols[i] = projection.Column{Name: a.Name, AttNum: a.Num, TypeID: a.TypeID, Index: i}
	}
	src := &source{name: rel.Name, star: cols, resolve: resolveIn(rel.Name, cols)}
	for _, d := range ds {
		src.rows = append(src.rows, scanRow{
			relid: rel.Oid,
			row:   []types.Datum{d.TableID, d.Name, int16(d.AttNum), d.TypeID, d.Visible, d.Epoch},
		})
	}
	return src, nil
}

// reshape moves row from the from layout into the to layout, matching
// attributes by name.
func (e *Executor) reshape(from, to *tuple.Layout, row []types.Datum) []types.Datum {
	out := make([]types.Datum, to.NumAttrs())
	for i := range out {
		name, dropped := nameAt(to, i)
		if dropped {
			continue
		}
		col, err := e.filter.Resolve(from, name)
		if err == nil && col.Index < len(row) {
			out[i] = row[col.Index]
		}
	}
	return out
}

func nameAt(l *tuple.Layout, i int) (string, bool) {
	if i < len(l.Declared) {
		return l.Declared[i].Name, l.Declared[i].Dropped
	}
	return l.Implicit[i-len(l.Declared)].Name, false
}

// where keeps the rows for which cond is true.
func (src *source) where(tx *engine.Txn, cond *sp.Where) ([]scanRow, error) {
	if cond == nil || cond.Expr == nil {
		return src.rows, nil
	}
	var out []scanRow
	for _, r := range src.rows {
		sc := scope{tx: tx, resolve: src.resolve, row: r.row}
		ok, err := sc.truth(cond.Expr)
		if err != nil {
			return nil, err
		}
		if ok != nil && *ok {
			out = append(out, r)
		}
	}
	return out, nil
}
