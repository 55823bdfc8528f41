package executor

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/ddl"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
)

// execDDL runs the DDL statements the executor knows. ok is false when sql
// is not one of them.
func (e *Executor) execDDL(tx *engine.Txn, sql string) (res *Result, ok bool, err error) {
	if ct, ok, err := parseCreateTable(sql); ok {
		if err != nil {
			return nil, true, err
		}
		return e.createTable(tx, ct)
	}
	if m := reCreateView.FindStringSubmatch(sql); m != nil {
		opt, err := parseOption(m[2])
		if err != nil {
			return nil, true, err
		}
		spec := engine.RelationSpec{Name: normalizeIdent(m[1]), Kind: engine.RelKindView}
		if _, err := e.ddl.CreateTable(tx, spec, ddl.CreateOptions{Time: opt}); err != nil {
			return nil, true, err
		}
		return &Result{Tag: "CREATE VIEW"}, true, nil
	}
	if m := reAlterImplicit.FindStringSubmatch(sql); m != nil {
		if err := e.ddl.AlterImplicitTime(tx, normalizeIdent(m[1]), strings.EqualFold(m[2], "add")); err != nil {
			return nil, true, err
		}
		return &Result{Tag: "ALTER TABLE"}, true, nil
	}
	if m := reAlterDropCol.FindStringSubmatch(sql); m != nil {
		if _, err := e.ddl.DropColumn(tx, normalizeIdent(m[1]), normalizeIdent(m[2])); err != nil {
			return nil, true, err
		}
		return &Result{Tag: "ALTER TABLE"}, true, nil
	}
	if m := reAlterAddColumn.FindStringSubmatch(sql); m != nil {
		col, err := parseColumnDef(m[2], m[3])
		if err != nil {
			return nil, true, err
		}
		if _, err := e.ddl.AddColumn(tx, normalizeIdent(m[1]), col); err != nil {
			return nil, true, err
		}
		return &Result{Tag: "ALTER TABLE"}, true, nil
	}
	if m := reDropTable.FindStringSubmatch(sql); m != nil {
		name := normalizeIdent(m[2])
		if _, exists := e.eng.RelationByName(name); !exists && m[1] != "" {
			logrus.WithField("table", name).Infoln("table does not exist, skipping")
			return &Result{Tag: "DROP TABLE"}, true, nil
		}
		if err := e.ddl.DropTable(tx, name); err != nil {
			return nil, true, err
		}
		return &Result{Tag: "DROP TABLE"}, true, nil
	}
	return nil, false, nil
}

func (e *Executor) createTable(tx *engine.Txn, ct *createTable) (*Result, bool, error) {
	if ct.parent != "" {
		parent, ok := e.eng.RelationByName(ct.parent)
		if !ok {
			return nil, true, pgerror.UndefinedTableError(ct.parent)
		}
		ct.spec.Parent = parent.Oid
	}
	rel, err := e.ddl.CreateTable(tx, ct.spec, ddl.CreateOptions{Time: ct.opt})
	if err != nil {
		return nil, true, err
	}
	logrus.WithField("table", rel.Name).
		WithField("columns", len(rel.Attrs)).
		WithField("time", ct.opt.String()).
		Debugln("create table")
	return &Result{Tag: "CREATE TABLE"}, true, nil
}
