package tuple

import (
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/types"
)

// ImplicitSlot an implicit attribute trailing the declared ones.
type ImplicitSlot struct {
	Name    string
	AttNum  types.AttrNumber
	TypeID  types.Oid
	Visible bool
	Epoch   types.Oid
}

// Layout is the physical attribute layout of a relation: its declared
// attributes followed by its implicit ones.
type Layout struct {
	Relid    types.Oid
	Name     string
	Declared []engine.Attribute
	Implicit []ImplicitSlot
}

// LayoutSource resolves layouts. Tuple code never derives the attribute
// count of a relation any other way.
type LayoutSource interface {
	Layout(tx *engine.Txn, relid types.Oid) (*Layout, error)
}

// NumAttrs is declared + implicit attribute count.
func (l *Layout) NumAttrs() int {
	return len(l.Declared) + len(l.Implicit)
}

// NumDeclared returns the declared attribute count, dropped ones included.
func (l *Layout) NumDeclared() int {
	return len(l.Declared)
}

// Implicit attribute lookup by number.
func (l *Layout) ImplicitByNum(attnum types.AttrNumber) (*ImplicitSlot, bool) {
	for i := range l.Implicit {
		if l.Implicit[i].AttNum == attnum {
			return &l.Implicit[i], true
		}
	}
	return nil, false
}

// ImplicitTimeAttNum returns the number of the implicit time attribute.
func (l *Layout) ImplicitTimeAttNum() types.AttrNumber {
	for _, s := range l.Implicit {
		if types.IsTimeType(s.TypeID) {
			return s.AttNum
		}
	}
	return types.InvalidAttrNumber
}

// HasImplicit reports whether the layout has any implicit attributes.
func (l *Layout) HasImplicit() bool {
	return len(l.Implicit) > 0
}

// Index maps an attribute number to its position in a deformed row.
func (l *Layout) Index(attnum types.AttrNumber) (int, bool) {
	if attnum.IsValid() && int(attnum) <= len(l.Declared) {
		return int(attnum) - 1, true
	}
	for i, s := range l.Implicit {
		if s.AttNum == attnum {
			return len(l.Declared) + i, true
		}
	}
	return -1, false
}

// TypeAt returns the type of the attribute at row position i.
func (l *Layout) TypeAt(i int) types.Oid {
	if i < len(l.Declared) {
		return l.Declared[i].TypeID
	}
	return l.Implicit[i-len(l.Declared)].TypeID
}
