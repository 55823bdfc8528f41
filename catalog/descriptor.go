package catalog

import (
	"errors"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/types"
)

// 隐含列目录关系
const (
	RelationID   types.Oid = 7000
	RelationName           = "pg_implicit_columns"
	IndexID      types.Oid = 7003
	IndexName              = "pg_implicit_columns_relid_attname_index"
	ViewName               = "pg_implicit_columns_view"
)

// ImplicitTimeColumnName is the name of the automatic timestamp column.
const ImplicitTimeColumnName = "time"

// ImplicitTimeTypeID is the storage type of the automatic timestamp column.
const ImplicitTimeTypeID = types.TimestampTzOid

// ErrDuplicateDescriptor a row with the same (relid, name) already exists.
var ErrDuplicateDescriptor = errors.New(`duplicate key value violates unique constraint "` + IndexName + `"`)

// relationSpec columns of pg_implicit_columns.
var relationSpec = engine.RelationSpec{
	Name: RelationName,
	Columns: []engine.ColumnSpec{
		{Name: "ic_relid", TypeID: types.OidOid, NotNull: true},
		{Name: "ic_attname", TypeID: types.NameOid, NotNull: true},
		{Name: "ic_attnum", TypeID: types.Int2Oid, NotNull: true},
		{Name: "ic_atttypid", TypeID: types.OidOid, NotNull: true},
		{Name: "ic_visible", TypeID: types.BoolOid, NotNull: true},
		{Name: "ic_epoch", TypeID: types.OidOid, NotNull: true},
	},
}

// Descriptor one row of pg_implicit_columns.
// Rows are inserted and deleted, never updated.
type Descriptor struct {
	TableID types.Oid
	Name    string
	AttNum  types.AttrNumber
	TypeID  types.Oid
	Visible bool
	// Epoch 每次添加分配新值, 写入行中的隐含值只在 epoch 相同时有效
	Epoch types.Oid
}

// Key returns the unique index key of d.
func (d Descriptor) Key() Key {
	return Key{TableID: d.TableID, Name: d.Name}
}

// Key unique index key (ic_relid, ic_attname).
type Key struct {
	TableID types.Oid
	Name    string
}

// Less orders keys by table, then name.
func (k Key) Less(o Key) bool {
	if k.TableID != o.TableID {
		return k.TableID < o.TableID
	}
	return k.Name < o.Name
}

// ImplicitColumn an implicit column of a table.
type ImplicitColumn struct {
	Name    string
	AttNum  types.AttrNumber
	TypeID  types.Oid
	Visible bool
	Epoch   types.Oid
}

// TableImplicitInfo is assembled per call from the table's descriptors and
// belongs to the caller.
type TableImplicitInfo struct {
	TableID         types.Oid
	HasImplicitTime bool
	TimeAttNum      types.AttrNumber
	Columns         []ImplicitColumn
}

// ViewRow one row of pg_implicit_columns_view.
type ViewRow struct {
	TableID    types.Oid `json:"table_oid"`
	TableName  string    `json:"table_name"`
	ColumnName string    `json:"column_name"`
	AttNum     int16     `json:"attnum"`
	Visible    bool      `json:"visible"`
}
