package engine

import (
	"sort"

	"github.com/teamlint/pg-implicit/types"
)

// RelKind 关系类型, 同 pg_class.relkind
type RelKind byte

const (
	RelKindTable       RelKind = 'r'
	RelKindPartitioned RelKind = 'p'
	RelKindView        RelKind = 'v'
	RelKindIndex       RelKind = 'i'
	RelKindSequence    RelKind = 'S'
	RelKindForeign     RelKind = 'f'
	RelKindMatView     RelKind = 'm'
	RelKindToast       RelKind = 't'
)

func (k RelKind) String() string {
	switch k {
	case RelKindTable:
		return "table"
	case RelKindPartitioned:
		return "partitioned table"
	case RelKindView:
		return "view"
	case RelKindIndex:
		return "index"
	case RelKindSequence:
		return "sequence"
	case RelKindForeign:
		return "foreign table"
	case RelKindMatView:
		return "materialized view"
	case RelKindToast:
		return "TOAST table"
	}
	return "relation"
}

// Persistence 关系持久化方式, 同 pg_class.relpersistence
type Persistence byte

const (
	PersistencePermanent Persistence = 'p'
	PersistenceTemp      Persistence = 't'
	PersistenceUnlogged  Persistence = 'u'
)

// Namespaces
const (
	NamespaceCatalog = "pg_catalog"
	NamespacePublic  = "public"
	NamespaceTemp    = "pg_temp"
)

// Attribute a declared column of a relation.
// Dropped columns keep their number and type so stored rows stay decodable.
type Attribute struct {
	Name    string
	Num     types.AttrNumber
	TypeID  types.Oid
	NotNull bool
	Dropped bool
}

// Relation is an immutable snapshot of a relation's catalog entry.
// DDL replaces the snapshot, it never modifies one in place.
type Relation struct {
	Oid         types.Oid
	Namespace   string
	Name        string
	Kind        RelKind
	Persistence Persistence
	// Parent partitioned table, InvalidOid for a standalone relation.
	Parent types.Oid
	Attrs  []Attribute
}

// NumAttrs returns the declared attribute count, dropped columns included
// (relnatts).
func (r *Relation) NumAttrs() int {
	return len(r.Attrs)
}

// IsSystem reports whether r is a bootstrapped system catalog.
func (r *Relation) IsSystem() bool {
	return r.Oid < types.FirstNormalObjectID
}

// IsTemp reports whether r lives only for the session.
func (r *Relation) IsTemp() bool {
	return r.Persistence == PersistenceTemp
}

// Attr looks up a live column by name.
func (r *Relation) Attr(name string) (*Attribute, bool) {
	for i := range r.Attrs {
		if !r.Attrs[i].Dropped && r.Attrs[i].Name == name {
			return &r.Attrs[i], true
		}
	}
	return nil, false
}

// LiveAttrs returns the columns that have not been dropped.
func (r *Relation) LiveAttrs() []Attribute {
	out := make([]Attribute, 0, len(r.Attrs))
	for _, a := range r.Attrs {
		if !a.Dropped {
			out = append(out, a)
		}
	}
	return out
}

func (r *Relation) clone() *Relation {
	c := *r
	c.Attrs = make([]Attribute, len(r.Attrs))
	copy(c.Attrs, r.Attrs)
	return &c
}

// ColumnSpec a column in CREATE TABLE or ALTER TABLE ADD COLUMN.
type ColumnSpec struct {
	Name    string
	TypeID  types.Oid
	NotNull bool
}

// RelationSpec describes a relation to create.
type RelationSpec struct {
	Name        string
	Namespace   string
	Kind        RelKind
	Persistence Persistence
	// Parent 分区表父表, 分区不指定列时继承父表的列
	Parent  types.Oid
	Columns []ColumnSpec
}

func sortRelations(rels []*Relation) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].Oid < rels[j].Oid })
}
