package catalog

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// Catalog records which tables carry implicit columns.
type Catalog struct {
	eng   *engine.Engine
	store Store
}

// New bootstraps pg_implicit_columns in eng and returns a catalog over store.
func New(eng *engine.Engine, store Store) (*Catalog, error) {
	if _, err := eng.BootstrapRelation(RelationID, relationSpec); err != nil {
		return nil, err
	}
	return &Catalog{eng: eng, store: store}, nil
}

// Engine returns the engine the catalog lives in.
func (c *Catalog) Engine() *engine.Engine {
	return c.eng
}

func (c *Catalog) lockShared(tx *engine.Txn) error {
	return c.eng.LockRelation(tx, RelationID, engine.AccessShareLock)
}

// 目录修改使用自冲突的锁, 并发添加串行执行
func (c *Catalog) lockExclusive(tx *engine.Txn) error {
	return c.eng.LockRelation(tx, RelationID, engine.ShareRowExclusiveLock)
}

// LookupImplicitTime returns the implicit time descriptor of relid.
func (c *Catalog) LookupImplicitTime(tx *engine.Txn, relid types.Oid) (Descriptor, bool, error) {
	if !relid.IsValid() {
		return Descriptor{}, false, nil
	}
	if err := c.lockShared(tx); err != nil {
		return Descriptor{}, false, err
	}
	d, ok, err := c.store.Lookup(tx, Key{TableID: relid, Name: ImplicitTimeColumnName})
	if err != nil {
		return Descriptor{}, false, storageError("lookup", err)
	}
	return d, ok, nil
}

// HasImplicitTime reports whether relid carries the implicit time column.
// Invalid or unknown relids report false.
func (c *Catalog) HasImplicitTime(tx *engine.Txn, relid types.Oid) bool {
	if !relid.IsValid() {
		pgerror.DebugLog("HasImplicitTime", fmt.Sprintf("invalid table oid %s", relid))
		return false
	}
	_, ok, err := c.LookupImplicitTime(tx, relid)
	if err != nil {
		logrus.WithError(err).WithField("rel_id", relid).Warnln("implicit time lookup failed")
		return false
	}
	logrus.WithField("rel_id", relid).WithField("found", ok).Debugln("has implicit time")
	return ok
}

// ImplicitTimeAttNum returns the attribute number of the implicit time
// column, InvalidAttrNumber if there is none.
func (c *Catalog) ImplicitTimeAttNum(tx *engine.Txn, relid types.Oid) types.AttrNumber {
	d, ok, err := c.LookupImplicitTime(tx, relid)
	if err != nil {
		logrus.WithError(err).WithField("rel_id", relid).Warnln("implicit time lookup failed")
		return types.InvalidAttrNumber
	}
	if !ok {
		return types.InvalidAttrNumber
	}
	return d.AttNum
}

// IsImplicitColumn reports whether name is an implicit column of relid.
func (c *Catalog) IsImplicitColumn(tx *engine.Txn, relid types.Oid, name string) bool {
	if !relid.IsValid() || name == "" {
		return false
	}
	if err := c.lockShared(tx); err != nil {
		return false
	}
	_, ok, err := c.store.Lookup(tx, Key{TableID: relid, Name: name})
	return err == nil && ok
}

// ValidateImplicitColumnType checks typeID against the allowed implicit
// column types.
func ValidateImplicitColumnType(typeID types.Oid) error {
	if types.IsTimeType(typeID) {
		return nil
	}
	return pgerror.FeatureNotSupportedError(fmt.Sprintf("implicit column of type %s", types.TypeName(typeID)))
}

// CheckRelation returns the feature-not-supported error for relations that
// can never carry implicit columns, nil otherwise.
func CheckRelation(rel *engine.Relation) error {
	if rel.IsSystem() {
		return pgerror.FeatureNotSupportedError(fmt.Sprintf("system catalog %q", rel.Name))
	}
	switch rel.Kind {
	case engine.RelKindTable, engine.RelKindPartitioned:
		return nil
	}
	return pgerror.FeatureNotSupportedError(fmt.Sprintf("%s %q", rel.Kind, rel.Name))
}

// AddImplicitTimeColumn attaches the implicit time column to rel at
// attribute number relnatts + 1. It is a no-op if the column exists.
func (c *Catalog) AddImplicitTimeColumn(tx *engine.Txn, rel *engine.Relation) error {
	if rel == nil {
		return pgerror.InternalError("AddImplicitTimeColumn", "invalid relation descriptor")
	}
	if err := CheckRelation(rel); err != nil {
		return err
	}
	if err := c.lockExclusive(tx); err != nil {
		return err
	}
	key := Key{TableID: rel.Oid, Name: ImplicitTimeColumnName}
	if _, ok, err := c.store.Lookup(tx, key); err != nil {
		return storageError("lookup", err)
	} else if ok {
		pgerror.DebugLog("AddImplicitTimeColumn", fmt.Sprintf("table %s already has an implicit time column", rel.Name))
		return nil
	}

	attnum := rel.NumAttrs() + 1
	if attnum > int(types.MaxAttrNumber) {
		return pgerror.UserError(pgerror.CodeTooManyColumns,
			"tables can have at most 1600 columns",
			fmt.Sprintf("table %q has no room for an implicit time column", rel.Name),
			"Drop unused columns first.")
	}
	if err := ValidateImplicitColumnType(ImplicitTimeTypeID); err != nil {
		return err
	}
	d := Descriptor{
		TableID: rel.Oid,
		Name:    ImplicitTimeColumnName,
		AttNum:  types.AttrNumber(attnum),
		TypeID:  ImplicitTimeTypeID,
		Visible: false,
		Epoch:   c.eng.NewOid(),
	}
	if err := c.store.Insert(tx, d); err != nil {
		if errors.Is(err, ErrDuplicateDescriptor) {
			// 并发添加方已写入
			pgerror.DebugLog("AddImplicitTimeColumn", fmt.Sprintf("table %s gained its implicit time column concurrently", rel.Name))
			return nil
		}
		return storageError("insert", err)
	}
	c.eng.CacheInvalidateRelcache(tx, rel.Oid, "add implicit time")
	logrus.WithField("table", rel.Name).
		WithField("rel_id", rel.Oid).
		WithField("attnum", d.AttNum).
		Debugln("implicit time column added")
	return nil
}

// RemoveImplicitTimeColumn detaches the implicit time column from rel. A
// table without one gets a warning, not an error.
func (c *Catalog) RemoveImplicitTimeColumn(tx *engine.Txn, rel *engine.Relation) error {
	if rel == nil {
		return pgerror.InternalError("RemoveImplicitTimeColumn", "invalid relation descriptor")
	}
	if err := c.lockExclusive(tx); err != nil {
		return err
	}
	n, err := c.store.Delete(tx, Key{TableID: rel.Oid, Name: ImplicitTimeColumnName})
	if err != nil {
		return storageError("delete", err)
	}
	if n == 0 {
		return pgerror.Report(pgerror.ColumnNotFoundWarning(rel.Name))
	}
	c.eng.CacheInvalidateRelcache(tx, rel.Oid, "drop implicit time")
	logrus.WithField("table", rel.Name).WithField("rel_id", rel.Oid).Debugln("implicit time column removed")
	return nil
}

// RemoveAll deletes every descriptor of relid, used when the table goes away.
func (c *Catalog) RemoveAll(tx *engine.Txn, relid types.Oid) (int, error) {
	if err := c.lockExclusive(tx); err != nil {
		return 0, err
	}
	n, err := c.store.DeleteTable(tx, relid)
	if err != nil {
		return n, storageError("delete", err)
	}
	if n > 0 {
		c.eng.CacheInvalidateRelcache(tx, relid, "drop table")
	}
	return n, nil
}

// TableImplicitInfo assembles the implicit columns of relid. A table without
// any gets an empty snapshot.
func (c *Catalog) TableImplicitInfo(tx *engine.Txn, relid types.Oid) (*TableImplicitInfo, error) {
	info := &TableImplicitInfo{TableID: relid}
	if !relid.IsValid() {
		return info, nil
	}
	if err := c.lockShared(tx); err != nil {
		return nil, err
	}
	rows, err := c.store.Scan(tx, relid)
	if err != nil {
		return nil, storageError("scan", err)
	}
	seen := make(map[types.AttrNumber]string, len(rows))
	for _, d := range rows {
		if !d.AttNum.IsValid() {
			return nil, pgerror.InternalError("TableImplicitInfo",
				fmt.Sprintf("implicit column %q of table %s has invalid attribute number %d", d.Name, relid, d.AttNum))
		}
		if other, dup := seen[d.AttNum]; dup {
			return nil, pgerror.InternalError("TableImplicitInfo",
				fmt.Sprintf("implicit columns %q and %q of table %s share attribute number %d", other, d.Name, relid, d.AttNum))
		}
		seen[d.AttNum] = d.Name
		info.Columns = append(info.Columns, ImplicitColumn{
			Name:    d.Name,
			AttNum:  d.AttNum,
			TypeID:  d.TypeID,
			Visible: d.Visible,
			Epoch:   d.Epoch,
		})
		if d.Name == ImplicitTimeColumnName {
			info.HasImplicitTime = true
			info.TimeAttNum = d.AttNum
		}
	}
	return info, nil
}

// Descriptors returns every row of pg_implicit_columns.
func (c *Catalog) Descriptors(tx *engine.Txn) ([]Descriptor, error) {
	if err := c.lockShared(tx); err != nil {
		return nil, err
	}
	rows, err := c.store.ScanAll(tx)
	if err != nil {
		return nil, storageError("scan", err)
	}
	return rows, nil
}

func storageError(op string, err error) error {
	if pgErr, ok := pgerror.As(err); ok {
		return pgErr
	}
	e := pgerror.StorageError(op, err.Error())
	e.Cause = err
	return e
}
