package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// 系统目录 oid
const (
	TypeRelationID      types.Oid = 1247
	AttributeRelationID types.Oid = 1249
	ClassRelationID     types.Oid = 1259
)

var systemRelations = []struct {
	oid  types.Oid
	spec RelationSpec
}{
	{TypeRelationID, RelationSpec{Name: "pg_type", Columns: []ColumnSpec{
		{Name: "oid", TypeID: types.OidOid, NotNull: true},
		{Name: "typname", TypeID: types.NameOid, NotNull: true},
		{Name: "typlen", TypeID: types.Int2Oid, NotNull: true},
	}}},
	{AttributeRelationID, RelationSpec{Name: "pg_attribute", Columns: []ColumnSpec{
		{Name: "attrelid", TypeID: types.OidOid, NotNull: true},
		{Name: "attname", TypeID: types.NameOid, NotNull: true},
		{Name: "atttypid", TypeID: types.OidOid, NotNull: true},
		{Name: "attnum", TypeID: types.Int2Oid, NotNull: true},
		{Name: "attnotnull", TypeID: types.BoolOid, NotNull: true},
		{Name: "attisdropped", TypeID: types.BoolOid, NotNull: true},
	}}},
	{ClassRelationID, RelationSpec{Name: "pg_class", Columns: []ColumnSpec{
		{Name: "oid", TypeID: types.OidOid, NotNull: true},
		{Name: "relname", TypeID: types.NameOid, NotNull: true},
		{Name: "relkind", TypeID: types.TextOid, NotNull: true},
		{Name: "relpersistence", TypeID: types.TextOid, NotNull: true},
		{Name: "relnatts", TypeID: types.Int2Oid, NotNull: true},
	}}},
}

func hasStorage(kind RelKind) bool {
	switch kind {
	case RelKindTable, RelKindMatView, RelKindToast:
		return true
	}
	return false
}

func buildAttrs(rel string, cols []ColumnSpec) ([]Attribute, error) {
	if len(cols) > int(types.MaxAttrNumber) {
		return nil, pgerror.UserError(pgerror.CodeTooManyColumns,
			"tables can have at most 1600 columns",
			fmt.Sprintf("relation %q declares %d columns", rel, len(cols)),
			"Split the table.")
	}
	seen := make(map[string]struct{}, len(cols))
	attrs := make([]Attribute, 0, len(cols))
	for i, c := range cols {
		if _, dup := seen[c.Name]; dup {
			return nil, pgerror.UserError(pgerror.CodeDuplicateColumn,
				fmt.Sprintf("column %q specified more than once", c.Name),
				fmt.Sprintf("relation %q", rel),
				"Remove the duplicate column definition.")
		}
		seen[c.Name] = struct{}{}
		if _, ok := types.Lookup(c.TypeID); !ok {
			return nil, pgerror.UserError(pgerror.CodeUndefinedObject,
				fmt.Sprintf("type with oid %s does not exist", c.TypeID),
				fmt.Sprintf("column %q of relation %q", c.Name, rel),
				"Use one of the builtin types.")
		}
		attrs = append(attrs, Attribute{
			Name:    c.Name,
			Num:     types.AttrNumber(i + 1),
			TypeID:  c.TypeID,
			NotNull: c.NotNull,
		})
	}
	return attrs, nil
}

func truncateName(name string) string {
	if len(name) < types.NameDataLen {
		return name
	}
	short := name[:types.NameDataLen-1]
	logrus.WithField("name", name).Infof("identifier will be truncated to %q", short)
	return short
}

// BootstrapRelation registers a system catalog under a fixed oid. Calling it
// again for an existing catalog returns the existing snapshot.
func (e *Engine) BootstrapRelation(oid types.Oid, spec RelationSpec) (*Relation, error) {
	if oid >= types.FirstNormalObjectID || !oid.IsValid() {
		return nil, pgerror.InternalError("BootstrapRelation", fmt.Sprintf("oid %s is outside the system range", oid))
	}
	attrs, err := buildAttrs(spec.Name, spec.Columns)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.rels[oid]; ok {
		if cur.Name != spec.Name {
			return nil, pgerror.InternalError("BootstrapRelation", fmt.Sprintf("oid %s already used by %q", oid, cur.Name))
		}
		return cur, nil
	}
	rel := &Relation{
		Oid:         oid,
		Namespace:   NamespaceCatalog,
		Name:        spec.Name,
		Kind:        RelKindTable,
		Persistence: PersistencePermanent,
		Attrs:       attrs,
	}
	e.rels[oid] = rel
	e.names[rel.Name] = oid
	e.heaps[oid] = newHeap()
	return rel, nil
}

// CreateRelation creates a user relation inside tx and locks it exclusively.
func (e *Engine) CreateRelation(tx *Txn, spec RelationSpec) (*Relation, error) {
	if err := checkActive(tx); err != nil {
		return nil, err
	}
	name := truncateName(spec.Name)
	if name == "" {
		return nil, pgerror.UserError(pgerror.CodeSyntaxError,
			"zero-length relation name", "CREATE requires a relation name", "Name the relation.")
	}
	rel := &Relation{
		Name:        name,
		Namespace:   spec.Namespace,
		Kind:        spec.Kind,
		Persistence: spec.Persistence,
		Parent:      spec.Parent,
	}
	if rel.Kind == 0 {
		rel.Kind = RelKindTable
	}
	if rel.Persistence == 0 {
		rel.Persistence = PersistencePermanent
	}
	if rel.Namespace == "" {
		rel.Namespace = NamespacePublic
		if rel.Persistence == PersistenceTemp {
			rel.Namespace = NamespaceTemp
		}
	}
	cols := spec.Columns
	if spec.Parent.IsValid() {
		parent, err := e.OpenRelation(tx, spec.Parent, ShareUpdateExclusiveLock)
		if err != nil {
			return nil, err
		}
		if parent.Kind != RelKindPartitioned {
			return nil, pgerror.UserError(pgerror.CodeWrongObjectType,
				fmt.Sprintf("%q is not partitioned", parent.Name),
				fmt.Sprintf("%q is a %s", parent.Name, parent.Kind),
				"Create the parent with PARTITION BY.")
		}
		if len(cols) == 0 {
			for _, a := range parent.LiveAttrs() {
				cols = append(cols, ColumnSpec{Name: a.Name, TypeID: a.TypeID, NotNull: a.NotNull})
			}
		}
	}
	attrs, err := buildAttrs(name, cols)
	if err != nil {
		return nil, err
	}
	rel.Attrs = attrs

	e.mu.Lock()
	if _, ok := e.names[name]; ok {
		e.mu.Unlock()
		return nil, pgerror.UserError(pgerror.CodeDuplicateTable,
			fmt.Sprintf("relation %q already exists", name),
			"a relation with this name is already visible",
			"Choose another name or drop the existing relation.")
	}
	rel.Oid = e.nextOid
	e.nextOid++
	e.rels[rel.Oid] = rel
	e.names[name] = rel.Oid
	if hasStorage(rel.Kind) {
		e.heaps[rel.Oid] = newHeap()
	}
	e.mu.Unlock()

	oid := rel.Oid
	tx.RegisterUndo(func() {
		e.mu.Lock()
		delete(e.rels, oid)
		delete(e.names, name)
		delete(e.heaps, oid)
		e.mu.Unlock()
	})
	if err := e.locks.Acquire(tx.ctx, tx.ID, oid, AccessExclusiveLock, name); err != nil {
		return nil, err
	}
	e.CacheInvalidateRelcache(tx, oid, "create relation")
	logrus.WithField("rel_id", oid).
		WithField("table", name).
		WithField("kind", rel.Kind).
		Debugln("relation created")
	return rel, nil
}

// replaceRelation installs next as the snapshot of next.Oid, undone on
// rollback.
func (e *Engine) replaceRelation(tx *Txn, next *Relation, reason string) {
	e.mu.Lock()
	prev := e.rels[next.Oid]
	e.rels[next.Oid] = next
	e.mu.Unlock()
	tx.RegisterUndo(func() {
		e.mu.Lock()
		e.rels[prev.Oid] = prev
		e.mu.Unlock()
	})
	e.CacheInvalidateRelcache(tx, next.Oid, reason)
}

// AddColumn appends a declared column at attribute number relnatts + 1.
func (e *Engine) AddColumn(tx *Txn, relid types.Oid, col ColumnSpec) (*Relation, error) {
	cur, err := e.OpenRelation(tx, relid, AccessExclusiveLock)
	if err != nil {
		return nil, err
	}
	if _, ok := cur.Attr(col.Name); ok {
		return nil, pgerror.UserError(pgerror.CodeDuplicateColumn,
			fmt.Sprintf("column %q of relation %q already exists", col.Name, cur.Name),
			"a live column with this name is declared",
			"Choose another column name.")
	}
	if _, ok := types.Lookup(col.TypeID); !ok {
		return nil, pgerror.UserError(pgerror.CodeUndefinedObject,
			fmt.Sprintf("type with oid %s does not exist", col.TypeID),
			fmt.Sprintf("column %q of relation %q", col.Name, cur.Name),
			"Use one of the builtin types.")
	}
	if cur.NumAttrs() >= int(types.MaxAttrNumber) {
		return nil, pgerror.UserError(pgerror.CodeTooManyColumns,
			"tables can have at most 1600 columns",
			fmt.Sprintf("relation %q already has %d attributes", cur.Name, cur.NumAttrs()),
			"Split the table.")
	}
	next := cur.clone()
	next.Attrs = append(next.Attrs, Attribute{
		Name:    col.Name,
		Num:     types.AttrNumber(cur.NumAttrs() + 1),
		TypeID:  col.TypeID,
		NotNull: col.NotNull,
	})
	e.replaceRelation(tx, next, "add column")
	return next, nil
}

// DropColumn marks a column dropped; its attribute number is never reused.
func (e *Engine) DropColumn(tx *Txn, relid types.Oid, name string) (*Relation, error) {
	cur, err := e.OpenRelation(tx, relid, AccessExclusiveLock)
	if err != nil {
		return nil, err
	}
	attr, ok := cur.Attr(name)
	if !ok {
		return nil, pgerror.UndefinedColumnError(cur.Name, name)
	}
	next := cur.clone()
	next.Attrs[attr.Num-1].Dropped = true
	next.Attrs[attr.Num-1].NotNull = false
	e.replaceRelation(tx, next, "drop column")
	return next, nil
}

// DropRelation removes a relation and its heap.
func (e *Engine) DropRelation(tx *Txn, relid types.Oid) error {
	rel, err := e.OpenRelation(tx, relid, AccessExclusiveLock)
	if err != nil {
		return err
	}
	if rel.IsSystem() {
		return pgerror.UserError(pgerror.CodeInsufficientPrivilege,
			fmt.Sprintf("permission denied: %q is a system catalog", rel.Name),
			"system catalogs cannot be dropped",
			"Drop a user relation instead.")
	}
	e.mu.Lock()
	h := e.heaps[relid]
	delete(e.rels, relid)
	delete(e.names, rel.Name)
	delete(e.heaps, relid)
	e.mu.Unlock()
	tx.RegisterUndo(func() {
		e.mu.Lock()
		e.rels[relid] = rel
		e.names[rel.Name] = relid
		if h != nil {
			e.heaps[relid] = h
		}
		e.mu.Unlock()
	})
	e.CacheInvalidateRelcache(tx, relid, "drop relation")
	return nil
}
