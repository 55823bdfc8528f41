package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/tuple"
	"github.com/teamlint/pg-implicit/types"
)

func layoutWith(declared int, visible bool) *tuple.Layout {
	l := &tuple.Layout{Name: "t"}
	for i := 0; i < declared; i++ {
		l.Declared = append(l.Declared, engine.Attribute{
			Name:   string(rune('a' + i)),
			Num:    types.AttrNumber(i + 1),
			TypeID: types.Int4Oid,
		})
	}
	l.Implicit = []tuple.ImplicitSlot{{
		Name:    "time",
		AttNum:  types.AttrNumber(declared + 1),
		TypeID:  types.TimestampTzOid,
		Visible: visible,
	}}
	return l
}

func TestInvisibility(t *testing.T) {
	f := New(nil)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		declared int
		want     []string
	}{
		{"zero columns", 0, []string{}},
		{"one column", 1, []string{"a"}},
		{"many columns", 5, []string{"a", "b", "c", "d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := layoutWith(tt.declared, false)
			cols := f.ExpandStar(l)
			assert.Equal(t, tt.want, Names(cols))

			row := make([]types.Datum, l.NumAttrs())
			for i := 0; i < tt.declared; i++ {
				row[i] = int32(i)
			}
			row[tt.declared] = ts
			out := f.SuppressImplicit(l, row)
			assert.Len(t, out, tt.declared)
			assert.NotContains(t, out, ts)
		})
	}
}

func TestVisibleImplicitExpands(t *testing.T) {
	f := New(nil)
	cols := f.ExpandStar(layoutWith(2, true))
	assert.Equal(t, []string{"a", "b", "time"}, Names(cols))
	assert.True(t, cols[2].Implicit)
	assert.Equal(t, 2, cols[2].Index)
}

func TestDroppedColumnsSkipped(t *testing.T) {
	f := New(nil)
	l := layoutWith(3, false)
	l.Declared[1].Dropped = true
	cols := f.ExpandStar(l)
	assert.Equal(t, []string{"a", "c"}, Names(cols))
	assert.Equal(t, []types.Datum{int32(1), int32(3)}, f.SuppressImplicit(l, []types.Datum{int32(1), int32(2), int32(3), nil}))

	_, err := f.Resolve(l, "b")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedColumn))
}

func TestResolve(t *testing.T) {
	f := New(nil)
	l := layoutWith(2, false)

	c, err := f.Resolve(l, "time")
	require.NoError(t, err)
	assert.True(t, c.Implicit)
	assert.Equal(t, types.AttrNumber(3), c.AttNum)
	assert.Equal(t, 2, c.Index)

	c, err = f.Resolve(l, "b")
	require.NoError(t, err)
	assert.False(t, c.Implicit)
	assert.Equal(t, 1, c.Index)

	_, err = f.Resolve(l, "missing")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedColumn))
}

func TestResolvePrefersDeclared(t *testing.T) {
	f := New(nil)
	l := layoutWith(0, false)
	l.Declared = []engine.Attribute{{Name: "time", Num: 1, TypeID: types.TextOid}}
	l.Implicit[0].AttNum = 2
	c, err := f.Resolve(l, "time")
	require.NoError(t, err)
	assert.False(t, c.Implicit)
	assert.Equal(t, types.TextOid, c.TypeID)
}

func TestSupportsImplicitColumns(t *testing.T) {
	eng := engine.New()
	cat, err := catalog.New(eng, catalog.NewMemStore())
	require.NoError(t, err)
	f := New(cat)

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	rel, err := eng.CreateRelation(tx, engine.RelationSpec{Name: "t"})
	require.NoError(t, err)
	assert.False(t, f.SupportsImplicitColumns(tx, rel))
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	assert.True(t, f.SupportsImplicitColumns(tx, rel))

	view, err := eng.CreateRelation(tx, engine.RelationSpec{Name: "v", Kind: engine.RelKindView})
	require.NoError(t, err)
	assert.False(t, f.SupportsImplicitColumns(tx, view))
	assert.False(t, f.SupportsImplicitColumns(tx, nil))
}
