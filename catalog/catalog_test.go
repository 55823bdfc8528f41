package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

func newCatalog(t *testing.T, opts ...engine.Option) (*engine.Engine, *Catalog) {
	t.Helper()
	eng := engine.New(opts...)
	cat, err := New(eng, NewMemStore())
	require.NoError(t, err)
	return eng, cat
}

func createTable(t *testing.T, eng *engine.Engine, spec engine.RelationSpec) *engine.Relation {
	t.Helper()
	tx := eng.Begin(context.Background())
	rel, err := eng.CreateRelation(tx, spec)
	require.NoError(t, err)
	require.NoError(t, eng.Commit(tx))
	return rel
}

func columns(n int) []engine.ColumnSpec {
	cols := make([]engine.ColumnSpec, n)
	for i := range cols {
		cols[i] = engine.ColumnSpec{Name: string(rune('a' + i)), TypeID: types.Int4Oid}
	}
	return cols
}

func TestCatalogRelationBootstrapped(t *testing.T) {
	eng, _ := newCatalog(t)
	rel, ok := eng.RelationByOid(RelationID)
	require.True(t, ok)
	assert.Equal(t, RelationName, rel.Name)
	assert.True(t, rel.IsSystem())
	assert.Len(t, rel.Attrs, 6)
}

func TestAddAssignsNextAttNum(t *testing.T) {
	tests := []struct {
		name     string
		declared int
		want     types.AttrNumber
	}{
		{"no columns", 0, 1},
		{"one column", 1, 2},
		{"orders", 2, 3},
		{"many columns", 12, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, cat := newCatalog(t)
			rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(tt.declared)})

			tx := eng.Begin(context.Background())
			require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
			require.NoError(t, eng.Commit(tx))

			tx = eng.Begin(context.Background())
			defer eng.Commit(tx)
			assert.True(t, cat.HasImplicitTime(tx, rel.Oid))
			assert.Equal(t, tt.want, cat.ImplicitTimeAttNum(tx, rel.Oid))

			d, ok, err := cat.LookupImplicitTime(tx, rel.Oid)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ImplicitTimeColumnName, d.Name)
			assert.Equal(t, types.TimestampTzOid, d.TypeID)
			assert.False(t, d.Visible)
		})
	}
}

func TestAddAfterDroppedColumnCountsIt(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(3)})

	tx := eng.Begin(context.Background())
	rel, err := eng.DropColumn(tx, rel.Oid, "b")
	require.NoError(t, err)
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	assert.Equal(t, types.AttrNumber(4), cat.ImplicitTimeAttNum(tx, rel.Oid))
	require.NoError(t, eng.Commit(tx))
}

func TestIdempotence(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(2)})

	tx := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	rows, err := cat.Descriptors(tx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	hook := test.NewGlobal()
	defer hook.Reset()
	require.NoError(t, cat.RemoveImplicitTimeColumn(tx, rel))
	require.NoError(t, cat.RemoveImplicitTimeColumn(tx, rel))
	rows, err = cat.Descriptors(tx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, eng.Commit(tx))

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "implicit time column not found" {
			warned = true
		}
	}
	assert.True(t, warned, "second remove warns")
}

func TestRollbackIsolation(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(2)})

	tx := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	assert.True(t, cat.HasImplicitTime(tx, rel.Oid))
	require.NoError(t, eng.Rollback(tx))

	tx = eng.Begin(context.Background())
	assert.False(t, cat.HasImplicitTime(tx, rel.Oid))
	assert.Equal(t, types.InvalidAttrNumber, cat.ImplicitTimeAttNum(tx, rel.Oid))
	require.NoError(t, eng.Commit(tx))
}

func TestUncommittedChangesInvisibleToOtherTxns(t *testing.T) {
	tests := []struct {
		name   string
		commit bool
		want   int
	}{
		{"commit", true, 1},
		{"rollback", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, cat := newCatalog(t)
			rel := createTable(t, eng, engine.RelationSpec{Name: "orders", Columns: columns(2)})

			writer := eng.Begin(context.Background())
			require.NoError(t, cat.AddImplicitTimeColumn(writer, rel))

			reader := eng.Begin(context.Background())
			assert.False(t, cat.HasImplicitTime(reader, rel.Oid))
			rows, err := cat.View(reader)
			require.NoError(t, err)
			assert.Empty(t, rows)
			require.NoError(t, eng.Commit(reader))

			if tt.commit {
				require.NoError(t, eng.Commit(writer))
			} else {
				require.NoError(t, eng.Rollback(writer))
			}

			reader = eng.Begin(context.Background())
			defer eng.Rollback(reader)
			rows, err = cat.View(reader)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestUncommittedRemoveInvisibleToOtherTxns(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "orders", Columns: columns(2)})
	tx := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	require.NoError(t, eng.Commit(tx))

	writer := eng.Begin(context.Background())
	require.NoError(t, cat.RemoveImplicitTimeColumn(writer, rel))
	assert.False(t, cat.HasImplicitTime(writer, rel.Oid))

	reader := eng.Begin(context.Background())
	assert.Equal(t, types.AttrNumber(3), cat.ImplicitTimeAttNum(reader, rel.Oid))
	require.NoError(t, eng.Commit(reader))

	require.NoError(t, eng.Commit(writer))
	reader = eng.Begin(context.Background())
	defer eng.Rollback(reader)
	assert.False(t, cat.HasImplicitTime(reader, rel.Oid))
}

func TestRejectedRelations(t *testing.T) {
	tests := []struct {
		name string
		kind engine.RelKind
	}{
		{"view", engine.RelKindView},
		{"index", engine.RelKindIndex},
		{"sequence", engine.RelKindSequence},
		{"foreign table", engine.RelKindForeign},
		{"materialized view", engine.RelKindMatView},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, cat := newCatalog(t)
			rel := createTable(t, eng, engine.RelationSpec{Name: "r", Kind: tt.kind, Columns: columns(1)})

			tx := eng.Begin(context.Background())
			err := cat.AddImplicitTimeColumn(tx, rel)
			assert.True(t, pgerror.HasKind(err, pgerror.KindFeatureNotSupported), "got %v", err)
			assert.True(t, pgerror.HasCode(err, pgerror.CodeFeatureNotSupported))
			rows, err := cat.Descriptors(tx)
			require.NoError(t, err)
			assert.Empty(t, rows, "no catalog row is written")
			require.NoError(t, eng.Rollback(tx))
		})
	}
}

func TestSystemCatalogRejected(t *testing.T) {
	eng, cat := newCatalog(t)
	rel, ok := eng.RelationByName("pg_class")
	require.True(t, ok)

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	err := cat.AddImplicitTimeColumn(tx, rel)
	assert.True(t, pgerror.HasKind(err, pgerror.KindFeatureNotSupported))
	assert.False(t, cat.HasImplicitTime(tx, rel.Oid))
}

func TestNilRelation(t *testing.T) {
	eng, cat := newCatalog(t)
	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	assert.True(t, pgerror.HasKind(cat.AddImplicitTimeColumn(tx, nil), pgerror.KindInternal))
	assert.True(t, pgerror.HasKind(cat.RemoveImplicitTimeColumn(tx, nil), pgerror.KindInternal))
}

func TestInvalidRelid(t *testing.T) {
	eng, cat := newCatalog(t)
	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	assert.False(t, cat.HasImplicitTime(tx, types.InvalidOid))
	assert.False(t, cat.HasImplicitTime(tx, 99999))
	assert.Equal(t, types.InvalidAttrNumber, cat.ImplicitTimeAttNum(tx, types.InvalidOid))
	info, err := cat.TableImplicitInfo(tx, types.InvalidOid)
	require.NoError(t, err)
	assert.False(t, info.HasImplicitTime)
	assert.Empty(t, info.Columns)
}

func TestTableImplicitInfo(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(2)})

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	info, err := cat.TableImplicitInfo(tx, rel.Oid)
	require.NoError(t, err)
	assert.False(t, info.HasImplicitTime)

	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	info, err = cat.TableImplicitInfo(tx, rel.Oid)
	require.NoError(t, err)
	assert.True(t, info.HasImplicitTime)
	assert.Equal(t, types.AttrNumber(3), info.TimeAttNum)
	require.Len(t, info.Columns, 1)
	assert.True(t, cat.IsImplicitColumn(tx, rel.Oid, "time"))
	assert.False(t, cat.IsImplicitColumn(tx, rel.Oid, "a"))
}

func TestTableImplicitInfoSanityChecks(t *testing.T) {
	tests := []struct {
		name string
		rows []Descriptor
	}{
		{"zero attnum", []Descriptor{{TableID: 16384, Name: "time", AttNum: 0, TypeID: types.TimestampTzOid}}},
		{"attnum above max", []Descriptor{{TableID: 16384, Name: "time", AttNum: types.MaxAttrNumber + 1, TypeID: types.TimestampTzOid}}},
		{"shared attnum", []Descriptor{
			{TableID: 16384, Name: "time", AttNum: 3, TypeID: types.TimestampTzOid},
			{TableID: 16384, Name: "other", AttNum: 3, TypeID: types.TimestampOid},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := engine.New()
			store := NewMemStore()
			cat, err := New(eng, store)
			require.NoError(t, err)
			tx := eng.Begin(context.Background())
			defer eng.Rollback(tx)
			for _, d := range tt.rows {
				require.NoError(t, store.Insert(tx, d))
			}
			_, err = cat.TableImplicitInfo(tx, 16384)
			assert.True(t, pgerror.HasKind(err, pgerror.KindInternal), "got %v", err)
		})
	}
}

func TestValidateImplicitColumnType(t *testing.T) {
	assert.NoError(t, ValidateImplicitColumnType(types.TimestampTzOid))
	assert.NoError(t, ValidateImplicitColumnType(types.TimestampOid))
	for _, id := range []types.Oid{types.DateOid, types.TextOid, types.Int8Oid} {
		assert.True(t, pgerror.HasKind(ValidateImplicitColumnType(id), pgerror.KindFeatureNotSupported))
	}
}

func TestConcurrentAdd(t *testing.T) {
	eng, cat := newCatalog(t, engine.WithLockTimeout(5*time.Second))
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(2)})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx := eng.Begin(context.Background())
			if err := cat.AddImplicitTimeColumn(tx, rel); err != nil {
				errs <- err
				_ = eng.Rollback(tx)
				return
			}
			errs <- eng.Commit(tx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	rows, err := cat.Descriptors(tx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestViewAndRemoveAll(t *testing.T) {
	eng, cat := newCatalog(t)
	orders := createTable(t, eng, engine.RelationSpec{Name: "orders", Columns: columns(2)})
	events := createTable(t, eng, engine.RelationSpec{Name: "events", Columns: columns(1)})

	tx := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(tx, orders))
	require.NoError(t, cat.AddImplicitTimeColumn(tx, events))
	rows, err := cat.View(tx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "orders", rows[0].TableName)
	assert.Equal(t, "time", rows[0].ColumnName)
	assert.EqualValues(t, 3, rows[0].AttNum)
	assert.False(t, rows[0].Visible)
	assert.Equal(t, "events", rows[1].TableName)

	n, err := cat.RemoveAll(tx, events.Oid)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows, err = cat.View(tx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.NoError(t, eng.Commit(tx))
}

func TestMutationsInvalidateRelcache(t *testing.T) {
	eng, cat := newCatalog(t)
	rel := createTable(t, eng, engine.RelationSpec{Name: "t", Columns: columns(1)})
	var got []types.Oid
	eng.OnInvalidate(func(relid types.Oid) { got = append(got, relid) })

	tx := eng.Begin(context.Background())
	require.NoError(t, cat.AddImplicitTimeColumn(tx, rel))
	assert.Equal(t, []types.Oid{rel.Oid}, got)
	require.NoError(t, cat.RemoveImplicitTimeColumn(tx, rel))
	require.NoError(t, eng.Commit(tx))
	assert.Contains(t, got, rel.Oid)
	assert.Len(t, got, 3)
}
