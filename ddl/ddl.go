package ddl

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/compat"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
)

// Handler is what the DDL dispatcher calls for tables that may carry
// implicit columns.
type Handler struct {
	eng   *engine.Engine
	cat   *catalog.Catalog
	guard *compat.Guard
}

// New creates a handler.
func New(eng *engine.Engine, cat *catalog.Catalog, guard *compat.Guard) *Handler {
	return &Handler{eng: eng, cat: cat, guard: guard}
}

// CreateOptions CREATE TABLE options.
type CreateOptions struct {
	Time TimeOption
}

// CreateTable creates a table and, in the same transaction, its implicit
// time column. A partition without a time clause follows its parent.
func (h *Handler) CreateTable(tx *engine.Txn, spec engine.RelationSpec, opts CreateOptions) (*engine.Relation, error) {
	rel, err := h.eng.CreateRelation(tx, spec)
	if err != nil {
		return nil, err
	}
	withTime := opts.Time == TimeWith
	if opts.Time == TimeUnspecified && rel.Parent.IsValid() {
		withTime = h.cat.HasImplicitTime(tx, rel.Parent)
	}
	if !withTime {
		return rel, nil
	}
	if err := h.guard.MigrateExistingTable(tx, rel.Oid, true); err != nil {
		return nil, pgerror.Wrap(err, "CreateTable", "while creating table %q", rel.Name)
	}
	if rel.Kind == engine.RelKindPartitioned {
		partitionCaveat(rel)
	}
	return rel, nil
}

// AlterImplicitTime implements ALTER TABLE name ADD|DROP IMPLICIT TIME. On a
// partitioned table the change cascades to the existing partitions.
func (h *Handler) AlterImplicitTime(tx *engine.Txn, name string, add bool) error {
	rel, err := h.eng.OpenRelationByName(tx, name, engine.AccessExclusiveLock)
	if err != nil {
		return err
	}
	if err := h.guard.MigrateExistingTable(tx, rel.Oid, add); err != nil {
		return err
	}
	if rel.Kind != engine.RelKindPartitioned {
		return nil
	}
	if add {
		partitionCaveat(rel)
	}
	for _, part := range h.eng.Partitions(rel.Oid) {
		if err := h.guard.MigrateExistingTable(tx, part.Oid, add); err != nil {
			return pgerror.Wrap(err, "AlterImplicitTime", "while altering partition %q", part.Name)
		}
	}
	return nil
}

// PartitionCaveat 分区表添加隐含列时的性能提示
const PartitionCaveat = "implicit time on a partitioned table is filled in for every partition on each write, adding per-partition augmentation cost"

func partitionCaveat(rel *engine.Relation) {
	logrus.WithField("table", rel.Name).Warnln(PartitionCaveat)
}

// AddColumn implements ALTER TABLE ADD COLUMN. While the table carries an
// implicit column the slot after the declared columns is taken, so adding
// is refused.
func (h *Handler) AddColumn(tx *engine.Txn, name string, col engine.ColumnSpec) (*engine.Relation, error) {
	rel, err := h.eng.OpenRelationByName(tx, name, engine.AccessExclusiveLock)
	if err != nil {
		return nil, err
	}
	if h.cat.HasImplicitTime(tx, rel.Oid) {
		e := pgerror.FeatureNotSupportedError(fmt.Sprintf("ADD COLUMN on table %q with an implicit time column", rel.Name))
		e.Hint = "Drop the implicit time column, add the column, then add the implicit time column again."
		return nil, e
	}
	next, err := h.eng.AddColumn(tx, rel.Oid, col)
	if err != nil {
		return nil, err
	}
	if col.Name == catalog.ImplicitTimeColumnName {
		h.guard.CheckCompatibility(tx, rel.Oid)
	}
	return next, nil
}

// DropColumn implements ALTER TABLE DROP COLUMN for declared columns.
func (h *Handler) DropColumn(tx *engine.Txn, name, column string) (*engine.Relation, error) {
	rel, err := h.eng.OpenRelationByName(tx, name, engine.AccessExclusiveLock)
	if err != nil {
		return nil, err
	}
	if _, declared := rel.Attr(column); !declared && h.cat.IsImplicitColumn(tx, rel.Oid, column) {
		e := pgerror.FeatureNotSupportedError(fmt.Sprintf("DROP COLUMN of implicit column %q", column))
		e.Hint = "Use ALTER TABLE ... DROP IMPLICIT TIME."
		return nil, e
	}
	return h.eng.DropColumn(tx, rel.Oid, column)
}

// DropTable drops a table, its partitions and their implicit columns.
func (h *Handler) DropTable(tx *engine.Txn, name string) error {
	rel, err := h.eng.OpenRelationByName(tx, name, engine.AccessExclusiveLock)
	if err != nil {
		return err
	}
	for _, part := range h.eng.Partitions(rel.Oid) {
		if err := h.dropOne(tx, part); err != nil {
			return err
		}
	}
	return h.dropOne(tx, rel)
}

func (h *Handler) dropOne(tx *engine.Txn, rel *engine.Relation) error {
	if _, err := h.cat.RemoveAll(tx, rel.Oid); err != nil {
		return err
	}
	if err := h.eng.DropRelation(tx, rel.Oid); err != nil {
		return err
	}
	logrus.WithField("table", rel.Name).Debugln("table dropped")
	return nil
}
