package executor

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	sp "github.com/xwb1989/sqlparser"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/compat"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/projection"
	"github.com/teamlint/pg-implicit/types"
)

// output a select list entry.
type output struct {
	name string
	col  *projection.Column
	expr sp.Expr
}

func (e *Executor) execSelect(tx *engine.Txn, st *sp.Select) (*Result, error) {
	if st.Distinct != "" || len(st.GroupBy) > 0 || st.Having != nil {
		return nil, unsupported("DISTINCT, GROUP BY and HAVING")
	}
	name, err := tableName(st.From)
	if err != nil {
		return nil, err
	}
	src, err := e.openSource(tx, name, engine.AccessShareLock)
	if err != nil {
		return nil, err
	}
	if src.rel != nil && !e.guard.ValidateOperationCompatibility(tx, src.rel.Oid, compat.OpSelect) {
		return nil, pgerror.CompatibilityError("SELECT", fmt.Sprintf("table %q", src.name))
	}

	var outs []output
	for _, se := range st.SelectExprs {
		switch x := se.(type) {
		case *sp.StarExpr:
			for i := range src.star {
				outs = append(outs, output{name: src.star[i].Name, col: &src.star[i]})
			}
		case *sp.AliasedExpr:
			o := output{name: x.As.String(), expr: x.Expr}
			if cn, ok := x.Expr.(*sp.ColName); ok {
				col, err := src.resolve(cn.Name.Lowered())
				if err != nil {
					return nil, err
				}
				o.col = &col
				if o.name == "" {
					o.name = col.Name
				}
			}
			if o.name == "" {
				o.name = "?column?"
			}
			outs = append(outs, o)
		default:
			return nil, unsupported(sp.String(se))
		}
	}

	rows, err := src.where(tx, st.Where)
	if err != nil {
		return nil, err
	}
	if err := orderRows(tx, src, rows, st.OrderBy); err != nil {
		return nil, err
	}
	rows, err = limitRows(rows, st.Limit)
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: make([]string, len(outs))}
	for i, o := range outs {
		res.Columns[i] = o.name
	}
	for _, r := range rows {
		out := make([]types.Datum, len(outs))
		for i, o := range outs {
			if o.col != nil {
				out[i] = projection.Project([]projection.Column{*o.col}, r.row)[0]
				continue
			}
			sc := scope{tx: tx, resolve: src.resolve, row: r.row}
			v, err := sc.eval(o.expr)
			if err != nil {
				return nil, err
			}
			out[i] = v.d
		}
		res.Rows = append(res.Rows, out)
	}
	res.RowsAffected = int64(len(res.Rows))
	res.Tag = fmt.Sprintf("SELECT %d", len(res.Rows))
	return res, nil
}

func orderRows(tx *engine.Txn, src *source, rows []scanRow, by sp.OrderBy) error {
	if len(by) == 0 {
		return nil
	}
	var firstErr error
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range by {
			a := scope{tx: tx, resolve: src.resolve, row: rows[i].row}
			b := scope{tx: tx, resolve: src.resolve, row: rows[j].row}
			va, err := a.eval(o.Expr)
			if err == nil {
				var vb value
				vb, err = b.eval(o.Expr)
				if err == nil {
					var c int
					c, err = nullsLast(va, vb)
					if err == nil && c != 0 {
						if o.Direction == sp.DescScr {
							return c > 0
						}
						return c < 0
					}
				}
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return false
	})
	return firstErr
}

// nullsLast orders NULL after every value.
func nullsLast(a, b value) (int, error) {
	switch {
	case a.null() && b.null():
		return 0, nil
	case a.null():
		return 1, nil
	case b.null():
		return -1, nil
	}
	c, err := compareValues(a, b)
	if err != nil || c == nil {
		return 0, err
	}
	return *c, nil
}

func limitRows(rows []scanRow, limit *sp.Limit) ([]scanRow, error) {
	if limit == nil {
		return rows, nil
	}
	count := func(expr sp.Expr) (int, error) {
		v, ok := expr.(*sp.SQLVal)
		if !ok || v.Type != sp.IntVal {
			return 0, unsupported("non-constant LIMIT")
		}
		return strconv.Atoi(string(v.Val))
	}
	if limit.Offset != nil {
		n, err := count(limit.Offset)
		if err != nil {
			return nil, err
		}
		if n >= len(rows) {
			return nil, nil
		}
		rows = rows[n:]
	}
	if limit.Rowcount != nil {
		n, err := count(limit.Rowcount)
		if err != nil {
			return nil, err
		}
		if n < len(rows) {
			rows = rows[:n]
		}
	}
	return rows, nil
}

// openTarget opens the table an INSERT, UPDATE or DELETE writes to.
func (e *Executor) openTarget(tx *engine.Txn, name string, op compat.Operation) (*engine.Relation, error) {
	if name == catalog.ViewName {
		return nil, unsupported(fmt.Sprintf("%s on view %q", op, name))
	}
	found, ok := e.lookup(name)
	if !ok {
		return nil, pgerror.UndefinedTableError(name)
	}
	rel, err := e.eng.OpenRelation(tx, found.Oid, engine.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	if rel.IsSystem() {
		return nil, pgerror.UserError(pgerror.CodeInsufficientPrivilege,
			fmt.Sprintf("permission denied for table %s", rel.Name),
			"system catalogs are maintained by DDL only", "Use ALTER TABLE ... ADD|DROP IMPLICIT TIME.")
	}
	if !e.guard.ValidateOperationCompatibility(tx, rel.Oid, op) {
		return nil, pgerror.CompatibilityError(string(op), fmt.Sprintf("table %q", rel.Name))
	}
	return rel, nil
}

func (e *Executor) execInsert(tx *engine.Txn, st *sp.Insert) (*Result, error) {
	if st.Action != sp.InsertStr || len(st.OnDup) > 0 {
		return nil, unsupported("REPLACE and ON DUPLICATE KEY")
	}
	rel, err := e.openTarget(tx, st.Table.Name.String(), compat.OpInsert)
	if err != nil {
		return nil, err
	}
	if rel.Kind == engine.RelKindPartitioned {
		perr := pgerror.FeatureNotSupportedError(fmt.Sprintf("INSERT into partitioned table %q", rel.Name))
		perr.Hint = "Insert into one of its partitions."
		return nil, perr
	}
	layout, err := e.cache.Get(tx, rel.Oid)
	if err != nil {
		return nil, err
	}

	var cols []projection.Column
	if len(st.Columns) == 0 {
		for i, a := range layout.Declared {
			if !a.Dropped {
				cols = append(cols, projection.Column{Name: a.Name, AttNum: a.Num, TypeID: a.TypeID, Index: i})
			}
		}
	} else {
		seen := make(map[string]bool, len(st.Columns))
		for _, c := range st.Columns {
			col, err := e.filter.Resolve(layout, c.Lowered())
			if err != nil {
				return nil, err
			}
			if seen[col.Name] {
				return nil, pgerror.UserError(pgerror.CodeDuplicateColumn,
					fmt.Sprintf("column %q specified more than once", col.Name),
					"each target column may appear once", "Remove the duplicate column.")
			}
			seen[col.Name] = true
			cols = append(cols, col)
		}
	}

	values, ok := st.Rows.(sp.Values)
	if !ok {
		return nil, unsupported("INSERT ... SELECT")
	}
	for _, vt := range values {
		if len(vt) != len(cols) {
			return nil, pgerror.SyntaxError(
				fmt.Sprintf("INSERT has %d expressions for %d target columns", len(vt), len(cols)), -1)
		}
		row := make([]types.Datum, layout.NumAttrs())
		sc := scope{tx: tx}
		for i, expr := range vt {
			v, err := sc.eval(expr)
			if err != nil {
				return nil, err
			}
			if cols[i].Implicit {
				row[cols[i].Index] = v.d
				continue
			}
			if row[cols[i].Index], err = v.as(cols[i].TypeID); err != nil {
				return nil, err
			}
		}
		data, err := e.aug.FormInsert(tx, rel.Oid, row)
		if err != nil {
			return nil, err
		}
		if _, err := e.eng.HeapInsert(tx, rel.Oid, data); err != nil {
			return nil, err
		}
	}
	logrus.WithField("table", rel.Name).WithField("rows", len(values)).Debugln("insert")
	return &Result{RowsAffected: int64(len(values)), Tag: fmt.Sprintf("INSERT 0 %d", len(values))}, nil
}

func (e *Executor) execUpdate(tx *engine.Txn, st *sp.Update) (*Result, error) {
	name, err := tableName(st.TableExprs)
	if err != nil {
		return nil, err
	}
	rel, err := e.openTarget(tx, name, compat.OpUpdate)
	if err != nil {
		return nil, err
	}
	src, err := e.openSource(tx, rel.Name, engine.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	type assignment struct {
		col  projection.Column
		expr sp.Expr
	}
	var sets []assignment
	for _, ue := range st.Exprs {
		col, err := src.resolve(ue.Name.Name.Lowered())
		if err != nil {
			return nil, err
		}
		if col.Implicit {
			logrus.WithField("table", rel.Name).
				WithField("column", col.Name).
				Debugln("assignment to implicit column ignored")
			continue
		}
		sets = append(sets, assignment{col: col, expr: ue.Expr})
	}
	rows, err := src.where(tx, st.Where)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		next := make([]types.Datum, len(r.row))
		copy(next, r.row)
		sc := scope{tx: tx, resolve: src.resolve, row: r.row}
		for _, a := range sets {
			v, err := sc.eval(a.expr)
			if err != nil {
				return nil, err
			}
			if next[a.col.Index], err = v.as(a.col.TypeID); err != nil {
				return nil, err
			}
		}
		if r.relid != rel.Oid {
			target, err := e.cache.Get(tx, r.relid)
			if err != nil {
				return nil, err
			}
			next = e.reshape(src.layout, target, next)
		}
		data, err := e.aug.FormUpdate(tx, r.relid, next)
		if err != nil {
			return nil, err
		}
		if err := e.eng.HeapUpdate(tx, r.relid, r.tid, data); err != nil {
			return nil, err
		}
	}
	logrus.WithField("table", rel.Name).WithField("rows", len(rows)).Debugln("update")
	return &Result{RowsAffected: int64(len(rows)), Tag: fmt.Sprintf("UPDATE %d", len(rows))}, nil
}

func (e *Executor) execDelete(tx *engine.Txn, st *sp.Delete) (*Result, error) {
	if len(st.Targets) > 0 {
		return nil, unsupported("multi-table DELETE")
	}
	name, err := tableName(st.TableExprs)
	if err != nil {
		return nil, err
	}
	rel, err := e.openTarget(tx, name, compat.OpDelete)
	if err != nil {
		return nil, err
	}
	src, err := e.openSource(tx, rel.Name, engine.RowExclusiveLock)
	if err != nil {
		return nil, err
	}
	rows, err := src.where(tx, st.Where)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := e.eng.HeapDelete(tx, r.relid, r.tid); err != nil {
			return nil, err
		}
	}
	logrus.WithField("table", rel.Name).WithField("rows", len(rows)).Debugln("delete")
	return &Result{RowsAffected: int64(len(rows)), Tag: fmt.Sprintf("DELETE %d", len(rows))}, nil
}
