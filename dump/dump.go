package dump

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/dump/handler"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
)

// Dumper exports pg_implicit_columns_view through a handler.
type Dumper struct {
	cat  *catalog.Catalog
	node string
}

// New create a Dumper
func New(cat *catalog.Catalog, node string) *Dumper {
	return &Dumper{cat: cat, node: node}
}

// Dump hands every view row to h, then closes h. It returns the number of
// rows exported.
func (d *Dumper) Dump(tx *engine.Txn, h handler.Handler) (int, error) {
	rows, err := d.cat.View(tx)
	if err != nil {
		return 0, err
	}
	for i, row := range rows {
		rec := handler.Record{
			ID:         handler.DocID(row.TableID, row.ColumnName),
			Node:       d.node,
			TableID:    row.TableID,
			TableName:  row.TableName,
			ColumnName: row.ColumnName,
			AttNum:     row.AttNum,
			Visible:    row.Visible,
			ExportedAt: tx.StartTimestamp(),
		}
		if err := h.Handle(&rec); err != nil {
			logrus.WithError(err).WithField("table", row.TableName).Errorln("dump handler")
			return i, err
		}
	}
	if err := h.Close(); err != nil {
		return len(rows), err
	}
	logrus.WithField("rows", len(rows)).Infoln("dump complete")
	return len(rows), nil
}

// Migrator adds implicit time columns by table name.
type Migrator interface {
	AlterImplicitTime(tx *engine.Txn, name string, add bool) error
}

// Restore reads a dump written by the sql handler and gives every table it
// names an implicit time column. Tables that no longer exist are skipped.
func Restore(tx *engine.Txn, m Migrator, r io.Reader) (int, error) {
	n := 0
	err := newSQLParser(r).Parse(func(rec *handler.Record) error {
		if rec.ColumnName != catalog.ImplicitTimeColumnName {
			logrus.WithField("column", rec.ColumnName).Warnln("unknown implicit column kind, skipped")
			return nil
		}
		if err := m.AlterImplicitTime(tx, rec.TableName, true); err != nil {
			if pgerror.HasCode(err, pgerror.CodeUndefinedTable) {
				logrus.WithField("table", rec.TableName).Warnln("table not found, skipped")
				return nil
			}
			return err
		}
		n++
		return nil
	})
	return n, err
}
