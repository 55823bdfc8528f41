package projection

import (
	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/tuple"
	"github.com/teamlint/pg-implicit/types"
)

// Column an output column of a projection.
type Column struct {
	Name     string
	AttNum   types.AttrNumber
	TypeID   types.Oid
	Implicit bool
	// Index position of the attribute in a deformed row
	Index int
}

// Filter decides which attributes a projection returns. It never changes
// what is stored.
type Filter struct {
	cat *catalog.Catalog
}

// New creates a filter.
func New(cat *catalog.Catalog) *Filter {
	return &Filter{cat: cat}
}

// SupportsImplicitColumns reports whether scans of rel must apply the
// filter.
func (f *Filter) SupportsImplicitColumns(tx *engine.Txn, rel *engine.Relation) bool {
	if rel == nil || catalog.CheckRelation(rel) != nil {
		return false
	}
	return f.cat.HasImplicitTime(tx, rel.Oid)
}

// ExpandStar returns the columns of `*`: live declared attributes, then
// implicit attributes marked visible.
func (f *Filter) ExpandStar(layout *tuple.Layout) []Column {
	cols := make([]Column, 0, layout.NumAttrs())
	for i, a := range layout.Declared {
		if a.Dropped {
			continue
		}
		cols = append(cols, Column{Name: a.Name, AttNum: a.Num, TypeID: a.TypeID, Index: i})
	}
	for i, s := range layout.Implicit {
		if !s.Visible {
			continue
		}
		cols = append(cols, Column{
			Name:     s.Name,
			AttNum:   s.AttNum,
			TypeID:   s.TypeID,
			Implicit: true,
			Index:    layout.NumDeclared() + i,
		})
	}
	return cols
}

// SuppressImplicit shapes a deformed row for a wildcard caller.
func (f *Filter) SuppressImplicit(layout *tuple.Layout, row []types.Datum) []types.Datum {
	return Project(f.ExpandStar(layout), row)
}

// Resolve finds the attribute an explicit reference names. Declared columns
// win over implicit ones of the same name; invisible implicit columns are
// still addressable.
func (f *Filter) Resolve(layout *tuple.Layout, name string) (Column, error) {
	for i, a := range layout.Declared {
		if !a.Dropped && a.Name == name {
			return Column{Name: a.Name, AttNum: a.Num, TypeID: a.TypeID, Index: i}, nil
		}
	}
	for i, s := range layout.Implicit {
		if s.Name == name {
			return Column{
				Name:     s.Name,
				AttNum:   s.AttNum,
				TypeID:   s.TypeID,
				Implicit: true,
				Index:    layout.NumDeclared() + i,
			}, nil
		}
	}
	return Column{}, pgerror.UndefinedColumnError(layout.Name, name)
}

// Project picks cols out of row.
func Project(cols []Column, row []types.Datum) []types.Datum {
	out := make([]types.Datum, len(cols))
	for i, c := range cols {
		if c.Index < len(row) {
			out[i] = row[c.Index]
		}
	}
	return out
}

// Names returns the column names.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
