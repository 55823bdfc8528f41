package relcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/event"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

func setup(t *testing.T, opts ...engine.Option) (*engine.Engine, *catalog.Catalog, *Manager, *engine.Relation) {
	t.Helper()
	eng := engine.New(opts...)
	cat, err := catalog.New(eng, catalog.NewMemStore())
	require.NoError(t, err)
	m := New(eng, cat)

	tx := eng.Begin(context.Background())
	rel, err := eng.CreateRelation(tx, engine.RelationSpec{Name: "orders", Columns: []engine.ColumnSpec{
		{Name: "id", TypeID: types.Int4Oid},
		{Name: "amount", TypeID: types.NumericOid},
	}})
	require.NoError(t, err)
	require.NoError(t, eng.Commit(tx))
	return eng, cat, m, rel
}

func TestGetCachesLayout(t *testing.T) {
	eng, _, m, rel := setup(t)
	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)

	l1, err := m.Get(tx, rel.Oid)
	require.NoError(t, err)
	l2, err := m.Layout(tx, rel.Oid)
	require.NoError(t, err)
	assert.Same(t, l1, l2)
	assert.Equal(t, 2, l1.NumAttrs())
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(tx, 99999)
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedTable))
}

func TestCatalogChangeInvalidates(t *testing.T) {
	eng, cat, m, rel := setup(t)
	tx := eng.Begin(context.Background())
	before, err := m.Get(tx, rel.Oid)
	require.NoError(t, err)
	assert.False(t, before.HasImplicit())

	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	after, err := m.Get(tx, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 3, after.NumAttrs(), "attribute count is declared + implicit")
	assert.Equal(t, types.AttrNumber(3), after.ImplicitTimeAttNum())
	require.NoError(t, eng.Rollback(tx))

	tx = eng.Begin(context.Background())
	defer eng.Rollback(tx)
	l, err := m.Get(tx, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 2, l.NumAttrs(), "rollback drops the layout built inside the transaction")
}

func TestUncommittedLayoutNotShared(t *testing.T) {
	eng, cat, m, rel := setup(t)
	writer := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(writer, rel))
	own, err := m.Get(writer, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 3, own.NumAttrs())
	assert.Zero(t, m.Len(), "layout built from uncommitted rows is not cached")

	reader := eng.Begin(context.Background())
	l, err := m.Get(reader, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 2, l.NumAttrs())
	require.NoError(t, eng.Commit(reader))

	// 写事务仍看到自己的布局, 而不是读事务缓存的布局
	own, err = m.Get(writer, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 3, own.NumAttrs())
	require.NoError(t, eng.Commit(writer))

	reader = eng.Begin(context.Background())
	defer eng.Rollback(reader)
	l, err = m.Get(reader, rel.Oid)
	require.NoError(t, err)
	assert.Equal(t, 3, l.NumAttrs())
}

func TestInvalidateAll(t *testing.T) {
	eng, _, m, rel := setup(t)
	tx := eng.Begin(context.Background())
	_, err := m.Get(tx, rel.Oid)
	require.NoError(t, err)
	eng.CacheInvalidateAll(tx, "reset")
	assert.Zero(t, m.Len())
	require.NoError(t, eng.Commit(tx))
}

func TestRemoteInvalidation(t *testing.T) {
	bus := event.NewLocal()
	eng, _, m, rel := setup(t, engine.WithNodeID("node-a"))
	_, err := m.Subscribe(bus, "implicit")
	require.NoError(t, err)

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	_, err = m.Get(tx, rel.Oid)
	require.NoError(t, err)

	require.NoError(t, bus.Publish("implicit_relcache", &event.Event{Origin: "node-a", RelID: rel.Oid}))
	assert.Equal(t, 1, m.Len(), "own events are ignored")

	require.NoError(t, bus.Publish("implicit_relcache", &event.Event{Origin: "node-b", RelID: rel.Oid}))
	assert.Zero(t, m.Len())

	_, err = m.Get(tx, rel.Oid)
	require.NoError(t, err)
	require.NoError(t, bus.Publish("implicit_relcache", &event.Event{Origin: "node-b", All: true}))
	assert.Zero(t, m.Len())
}

func TestCorruptDescriptorRejected(t *testing.T) {
	eng := engine.New()
	store := catalog.NewMemStore()
	cat, err := catalog.New(eng, store)
	require.NoError(t, err)
	m := New(eng, cat)

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	rel, err := eng.CreateRelation(tx, engine.RelationSpec{Name: "t", Columns: []engine.ColumnSpec{
		{Name: "a", TypeID: types.Int4Oid},
		{Name: "b", TypeID: types.Int4Oid},
	}})
	require.NoError(t, err)
	require.NoError(t, store.Insert(tx, catalog.Descriptor{TableID: rel.Oid, Name: "time", AttNum: 2, TypeID: types.TimestampTzOid}))

	_, err = m.Get(tx, rel.Oid)
	assert.True(t, pgerror.HasKind(err, pgerror.KindInternal))
}
