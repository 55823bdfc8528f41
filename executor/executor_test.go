package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 15, 250000000, time.UTC)

func newSession(t *testing.T, opts ...Option) (*engine.ManualClock, *Executor, *Session) {
	t.Helper()
	clock := engine.NewManualClock(t0)
	ex, err := New(engine.New(engine.WithClock(clock)), catalog.NewMemStore(), opts...)
	require.NoError(t, err)
	s := ex.NewSession()
	t.Cleanup(func() { s.Close() })
	return clock, ex, s
}

func mustExec(t *testing.T, s *Session, sql string) *Result {
	t.Helper()
	res, err := s.Exec(context.Background(), sql)
	require.NoError(t, err, sql)
	return res
}

func assertTime(t *testing.T, want time.Time, got types.Datum) {
	t.Helper()
	ts, ok := got.(time.Time)
	require.True(t, ok, "%T", got)
	assert.True(t, want.Truncate(time.Second).Equal(ts), "want %v got %v", want, ts)
}

func TestOrdersScenario(t *testing.T) {
	clock, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int NOT NULL, amount numeric(10,2)) WITH TIME")
	res := mustExec(t, s, "INSERT INTO orders VALUES (1, 9.99), (2, 20)")
	assert.Equal(t, "INSERT 0 2", res.Tag)

	res = mustExec(t, s, "SELECT * FROM orders ORDER BY id")
	assert.Equal(t, []string{"id", "amount"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int32(1), res.Rows[0][0])
	assert.Equal(t, "9.99", types.Format(res.Rows[0][1]))

	res = mustExec(t, s, "SELECT id, time FROM orders WHERE id = 1")
	assert.Equal(t, []string{"id", "time"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assertTime(t, t0, res.Rows[0][1])

	clock.Advance(5 * time.Second)
	res = mustExec(t, s, "UPDATE orders SET amount = 10 WHERE id = 1")
	assert.Equal(t, "UPDATE 1", res.Tag)

	res = mustExec(t, s, "SELECT id, amount, time FROM orders ORDER BY id")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "10", types.Format(res.Rows[0][1]))
	assertTime(t, t0.Add(5*time.Second), res.Rows[0][2])
	assertTime(t, t0, res.Rows[1][2])

	res = mustExec(t, s, "SELECT id FROM orders WHERE time > '2026-03-01 09:30:15'")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int32(1), res.Rows[0][0])

	res = mustExec(t, s, "SELECT table_name, column_name, attnum, visible FROM pg_implicit_columns_view")
	assert.Equal(t, [][]types.Datum{{"orders", "time", int16(3), false}}, res.Rows)

	res = mustExec(t, s, "DELETE FROM orders WHERE id = 2")
	assert.Equal(t, "DELETE 1", res.Tag)
}

func TestWildcardHidesImplicitColumn(t *testing.T) {
	tests := []struct {
		name    string
		create  string
		insert  string
		columns []string
	}{
		{"no columns", "CREATE TABLE t ()", "", []string{}},
		{"one column", "CREATE TABLE t (a int)", "INSERT INTO t VALUES (1)", []string{"a"}},
		{"many columns", "CREATE TABLE t (a int, b text, c float8)", "INSERT INTO t VALUES (1, 'x', 2.5)", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ex, s := newSession(t)
			mustExec(t, s, tt.create+" WITH TIME")
			if tt.insert != "" {
				mustExec(t, s, tt.insert)
			}
			res := mustExec(t, s, "SELECT * FROM t")
			assert.Equal(t, tt.columns, res.Columns)
			for _, row := range res.Rows {
				assert.Len(t, row, len(tt.columns))
			}

			rel, ok := ex.Engine().RelationByName("t")
			require.True(t, ok)
			tx := ex.Engine().Begin(context.Background())
			defer ex.Engine().Commit(tx)
			assert.Equal(t, types.AttrNumber(len(tt.columns)+1), ex.Catalog().ImplicitTimeAttNum(tx, rel.Oid))
		})
	}
}

func TestExplicitValueForImplicitColumnDiscarded(t *testing.T) {
	_, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int, amount numeric) WITH TIME")
	mustExec(t, s, "INSERT INTO orders (id, amount, time) VALUES (1, 5, '2000-01-01 00:00:00')")
	mustExec(t, s, "UPDATE orders SET time = '2000-01-01 00:00:00', amount = 6")

	res := mustExec(t, s, "SELECT amount, time FROM orders")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "6", types.Format(res.Rows[0][0]))
	assertTime(t, t0, res.Rows[0][1])
}

func TestPreExistingRowsUnaffected(t *testing.T) {
	clock, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE events (id int, note text)")
	mustExec(t, s, "INSERT INTO events VALUES (1, 'before')")

	clock.Advance(time.Minute)
	mustExec(t, s, "ALTER TABLE events ADD IMPLICIT TIME")
	mustExec(t, s, "INSERT INTO events VALUES (2, 'after')")

	res := mustExec(t, s, "SELECT * FROM events ORDER BY id")
	assert.Equal(t, [][]types.Datum{{int32(1), "before"}, {int32(2), "after"}}, res.Rows)

	res = mustExec(t, s, "SELECT id, time FROM events ORDER BY id")
	require.Len(t, res.Rows, 2)
	assert.Nil(t, res.Rows[0][1])
	assertTime(t, t0.Add(time.Minute), res.Rows[1][1])

	res = mustExec(t, s, "SELECT id FROM events WHERE time IS NULL")
	assert.Equal(t, [][]types.Datum{{int32(1)}}, res.Rows)
}

func TestDropAndReAddImplicitTime(t *testing.T) {
	clock, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int, amount numeric) WITH TIME")
	mustExec(t, s, "INSERT INTO orders VALUES (1, 1)")
	mustExec(t, s, "ALTER TABLE orders DROP IMPLICIT TIME")

	_, err := s.Exec(context.Background(), "SELECT time FROM orders")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedColumn))
	res := mustExec(t, s, "SELECT * FROM orders")
	assert.Equal(t, []string{"id", "amount"}, res.Columns)

	// 重复删除只告警
	mustExec(t, s, "ALTER TABLE orders DROP IMPLICIT TIME")

	clock.Advance(time.Hour)
	mustExec(t, s, "ALTER TABLE orders ADD IMPLICIT TIME")
	mustExec(t, s, "INSERT INTO orders VALUES (2, 2)")
	res = mustExec(t, s, "SELECT * FROM orders ORDER BY id")
	assert.Equal(t, []string{"id", "amount"}, res.Columns)
	assert.Len(t, res.Rows, 2)

	res = mustExec(t, s, "SELECT time FROM orders WHERE id = 2")
	require.Len(t, res.Rows, 1)
	assertTime(t, t0.Add(time.Hour), res.Rows[0][0])

	// 删除前写入的行不会取回旧的时间值
	res = mustExec(t, s, "SELECT id, time FROM orders WHERE id = 1")
	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0][1])

	res = mustExec(t, s, "SELECT ic_attname, ic_attnum FROM pg_implicit_columns")
	assert.Equal(t, [][]types.Datum{{"time", int16(3)}}, res.Rows)
}

func TestViewRejected(t *testing.T) {
	_, ex, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int)")

	_, err := s.Exec(context.Background(), "CREATE VIEW v WITH TIME AS SELECT * FROM orders")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeFeatureNotSupported))
	_, ok := ex.Engine().RelationByName("v")
	assert.False(t, ok)

	mustExec(t, s, "CREATE VIEW v AS SELECT * FROM orders")
	_, err = s.Exec(context.Background(), "ALTER TABLE v ADD IMPLICIT TIME")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeFeatureNotSupported))

	res := mustExec(t, s, "SELECT * FROM pg_implicit_columns_view")
	assert.Empty(t, res.Rows)
}

func TestRollbackIsolation(t *testing.T) {
	_, _, s := newSession(t)
	mustExec(t, s, "BEGIN")
	mustExec(t, s, "CREATE TABLE orders (id int) WITH TIME")
	mustExec(t, s, "INSERT INTO orders VALUES (1)")
	res := mustExec(t, s, "SELECT * FROM pg_implicit_columns_view")
	assert.Len(t, res.Rows, 1)
	mustExec(t, s, "ROLLBACK")

	_, err := s.Exec(context.Background(), "SELECT * FROM orders")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedTable))
	res = mustExec(t, s, "SELECT * FROM pg_implicit_columns_view")
	assert.Empty(t, res.Rows)
}

func TestRollbackOfAlterKeepsRows(t *testing.T) {
	_, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int) WITH TIME")
	mustExec(t, s, "INSERT INTO orders VALUES (1)")
	mustExec(t, s, "BEGIN")
	mustExec(t, s, "ALTER TABLE orders DROP IMPLICIT TIME")
	mustExec(t, s, "ROLLBACK")

	res := mustExec(t, s, "SELECT id, time FROM orders")
	require.Len(t, res.Rows, 1)
	assertTime(t, t0, res.Rows[0][1])
}

func TestUncommittedAlterInvisibleToOtherSessions(t *testing.T) {
	_, ex, a := newSession(t)
	mustExec(t, a, "CREATE TABLE orders (id int)")
	b := ex.NewSession()
	defer b.Close()

	mustExec(t, a, "BEGIN")
	mustExec(t, a, "ALTER TABLE orders ADD IMPLICIT TIME")
	res := mustExec(t, a, "SELECT * FROM pg_implicit_columns_view")
	assert.Len(t, res.Rows, 1)

	res = mustExec(t, b, "SELECT * FROM pg_implicit_columns_view")
	assert.Empty(t, res.Rows)

	mustExec(t, a, "COMMIT")
	res = mustExec(t, b, "SELECT * FROM pg_implicit_columns_view")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "orders", res.Rows[0][1])
}

func TestFailedTransactionBlock(t *testing.T) {
	_, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE orders (id int)")
	mustExec(t, s, "BEGIN")
	mustExec(t, s, "INSERT INTO orders VALUES (1)")
	_, err := s.Exec(context.Background(), "SELECT * FROM missing")
	require.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedTable))

	_, err = s.Exec(context.Background(), "INSERT INTO orders VALUES (2)")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeInFailedTransaction))
	assert.True(t, s.InTransaction())

	res := mustExec(t, s, "COMMIT")
	assert.Equal(t, "ROLLBACK", res.Tag)
	assert.False(t, s.InTransaction())

	res = mustExec(t, s, "SELECT * FROM orders")
	assert.Empty(t, res.Rows)
}

func TestTransactionControlWarnings(t *testing.T) {
	_, _, s := newSession(t)
	assert.Equal(t, "COMMIT", mustExec(t, s, "COMMIT").Tag)
	assert.Equal(t, "ROLLBACK", mustExec(t, s, "ROLLBACK").Tag)
	mustExec(t, s, "BEGIN")
	assert.Equal(t, "BEGIN", mustExec(t, s, "BEGIN").Tag)
	assert.Equal(t, "COMMIT", mustExec(t, s, "END").Tag)
	assert.False(t, s.InTransaction())
}

func TestDDLGuards(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		code pgerror.Code
	}{
		{"add column", "ALTER TABLE orders ADD COLUMN note text", pgerror.CodeFeatureNotSupported},
		{"drop implicit column", "ALTER TABLE orders DROP COLUMN time", pgerror.CodeFeatureNotSupported},
		{"unknown table", "ALTER TABLE nope ADD IMPLICIT TIME", pgerror.CodeUndefinedTable},
		{"bad option", "CREATE TABLE x (a int) WITH DATE", pgerror.CodeSyntaxError},
		{"system catalog", "ALTER TABLE pg_class ADD IMPLICIT TIME", pgerror.CodeFeatureNotSupported},
		{"write catalog", "DELETE FROM pg_implicit_columns", pgerror.CodeInsufficientPrivilege},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, s := newSession(t)
			mustExec(t, s, "CREATE TABLE orders (id int) WITH TIME")
			_, err := s.Exec(context.Background(), tt.sql)
			require.Error(t, err)
			e, ok := pgerror.As(err)
			require.True(t, ok, err.Error())
			assert.Equal(t, tt.code, e.Code, err.Error())
		})
	}
}

func TestStrictConflicts(t *testing.T) {
	_, _, s := newSession(t, WithStrictConflicts(true))
	_, err := s.Exec(context.Background(), `CREATE TABLE logs (id int, "time" timestamp) WITH TIME`)
	require.Error(t, err)
	e, ok := pgerror.As(err)
	require.True(t, ok)
	assert.Equal(t, pgerror.KindCompatibility, e.Kind)

	_, _, s = newSession(t)
	mustExec(t, s, `CREATE TABLE logs (id int, "time" timestamp) WITH TIME`)
	mustExec(t, s, "INSERT INTO logs VALUES (1, '2001-02-03 04:05:06')")
	res := mustExec(t, s, "SELECT * FROM logs")
	assert.Equal(t, []string{"id", "time"}, res.Columns)
	assertTime(t, time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC), res.Rows[0][1])
}

func TestPartitionedTable(t *testing.T) {
	_, _, s := newSession(t)
	mustExec(t, s, "CREATE TABLE m (id int, v text) PARTITION BY RANGE (id) WITH TIME")
	mustExec(t, s, "CREATE TABLE m1 PARTITION OF m FOR VALUES FROM (0) TO (100)")
	mustExec(t, s, "CREATE TABLE m2 PARTITION OF m FOR VALUES FROM (100) TO (200) WITHOUT TIME")
	mustExec(t, s, "INSERT INTO m1 VALUES (1, 'a')")
	mustExec(t, s, "INSERT INTO m2 VALUES (150, 'b')")

	_, err := s.Exec(context.Background(), "INSERT INTO m VALUES (2, 'c')")
	assert.True(t, pgerror.HasCode(err, pgerror.CodeFeatureNotSupported))

	res := mustExec(t, s, "SELECT * FROM m ORDER BY id")
	assert.Equal(t, [][]types.Datum{{int32(1), "a"}, {int32(150), "b"}}, res.Rows)

	res = mustExec(t, s, "SELECT id, time FROM m ORDER BY id")
	require.Len(t, res.Rows, 2)
	assertTime(t, t0, res.Rows[0][1])
	assert.Nil(t, res.Rows[1][1])

	res = mustExec(t, s, "UPDATE m SET v = 'z' WHERE id < 100")
	assert.Equal(t, "UPDATE 1", res.Tag)
	res = mustExec(t, s, "SELECT v FROM m1")
	assert.Equal(t, [][]types.Datum{{"z"}}, res.Rows)

	mustExec(t, s, "DROP TABLE m")
	res = mustExec(t, s, "SELECT * FROM pg_implicit_columns_view")
	assert.Empty(t, res.Rows)
}

func TestExecScript(t *testing.T) {
	_, _, s := newSession(t)
	results, err := s.ExecScript(context.Background(), `
-- orders; with implicit time
CREATE TABLE orders (id int, note text) WITH TIME;
INSERT INTO orders VALUES (1, 'a;b');
SELECT * FROM orders;
`)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, [][]types.Datum{{int32(1), "a;b"}}, results[2].Rows)
	assert.Contains(t, results[2].String(), "(1 rows)")
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"empty", " ; ;", nil},
		{"two", "select 1; select 2", []string{"select 1", "select 2"}},
		{"quoted", `insert into t values ('x;y'); select "a;b" from t`, []string{"insert into t values ('x;y')", `select "a;b" from t`}},
		{"comment", "select 1 -- one; two\n;", []string{"select 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestQuoteIdents(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"select time from t", "select `time` from t"},
		{`select "Time" from t`, "select `Time` from t"},
		{"select 'time' from t", "select 'time' from t"},
		{"select times, x_time from t", "select times, x_time from t"},
		{"select 'it''s time' from t", "select 'it''s time' from t"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, quoteIdents(tt.in))
		})
	}
}
