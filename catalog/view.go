package catalog

import (
	"github.com/teamlint/pg-implicit/engine"
)

// ViewColumns column names of pg_implicit_columns_view.
var ViewColumns = []string{"table_oid", "table_name", "column_name", "attnum", "visible"}

// View returns the rows of pg_implicit_columns_view: descriptors joined with
// the relations they belong to.
func (c *Catalog) View(tx *engine.Txn) ([]ViewRow, error) {
	rows, err := c.Descriptors(tx)
	if err != nil {
		return nil, err
	}
	out := make([]ViewRow, 0, len(rows))
	for _, d := range rows {
		rel, ok := c.eng.RelationByOid(d.TableID)
		if !ok {
			continue
		}
		out = append(out, ViewRow{
			TableID:    d.TableID,
			TableName:  rel.Name,
			ColumnName: d.Name,
			AttNum:     int16(d.AttNum),
			Visible:    d.Visible,
		})
	}
	return out, nil
}
