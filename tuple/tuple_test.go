package tuple

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

type staticSource map[types.Oid]*Layout

func (s staticSource) Layout(_ *engine.Txn, relid types.Oid) (*Layout, error) {
	l, ok := s[relid]
	if !ok {
		return nil, pgerror.UndefinedTableError(relid.String())
	}
	return l, nil
}

func ordersLayout(withTime bool) *Layout {
	l := &Layout{
		Relid: 16384,
		Name:  "orders",
		Declared: []engine.Attribute{
			{Name: "id", Num: 1, TypeID: types.Int4Oid, NotNull: true},
			{Name: "amount", Num: 2, TypeID: types.NumericOid},
		},
	}
	if withTime {
		l.Implicit = []ImplicitSlot{{Name: "time", AttNum: 3, TypeID: types.TimestampTzOid}}
	}
	return l
}

func TestEncodeDeform(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		declared []Value
		implicit []ImplicitValue
	}{
		{"empty", nil, nil},
		{"no nulls", []Value{
			{TypeID: types.Int2Oid, Datum: int16(7)},
			{TypeID: types.TextOid, Datum: "hello"},
			{TypeID: types.Float8Oid, Datum: 2.5},
			{TypeID: types.BoolOid, Datum: true},
		}, nil},
		{"nulls", []Value{
			{TypeID: types.Int8Oid, Datum: nil},
			{TypeID: types.VarcharOid, Datum: "x"},
			{TypeID: types.Int8Oid, Datum: int64(1) << 40},
		}, nil},
		{"implicit", []Value{
			{TypeID: types.BoolOid, Datum: false},
			{TypeID: types.ByteaOid, Datum: []byte{1, 2, 3}},
		}, []ImplicitValue{{AttNum: 3, TypeID: types.TimestampTzOid, Datum: ts}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.declared, tt.implicit)
			require.NoError(t, err)

			h, err := ReadHeader(data)
			require.NoError(t, err)
			assert.EqualValues(t, len(tt.declared)+len(tt.implicit), h.NAtts)
			assert.EqualValues(t, len(tt.implicit), h.NImplicit)
			assert.Zero(t, h.HOff%8)

			layout := &Layout{Name: "t"}
			for i, v := range tt.declared {
				layout.Declared = append(layout.Declared, engine.Attribute{Num: types.AttrNumber(i + 1), TypeID: v.TypeID})
			}
			for _, v := range tt.implicit {
				layout.Implicit = append(layout.Implicit, ImplicitSlot{AttNum: v.AttNum, TypeID: v.TypeID})
			}
			row, err := Deform(layout, data)
			require.NoError(t, err)
			require.Len(t, row, layout.NumAttrs())
			for i, v := range tt.declared {
				assert.Equal(t, v.Datum, row[i])
			}
			for i, v := range tt.implicit {
				assert.Equal(t, v.Datum, row[len(tt.declared)+i])
			}
		})
	}
}

func TestEncodeTypeMismatch(t *testing.T) {
	_, err := Encode([]Value{{TypeID: types.Int4Oid, Datum: "nope"}}, nil)
	assert.True(t, pgerror.HasCode(err, pgerror.CodeDatatypeMismatch))
}

func TestReadHeaderCorruption(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{1, 0}},
		{"implicit above natts", []byte{1, 0, 2, 0, 0, 0, 8, 0}},
		{"hoff beyond tuple", []byte{1, 0, 0, 0, 0, 0, 64, 0}},
		{"hoff inside header", []byte{1, 0, 0, 0, 0, 0, 4, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(tt.data)
			assert.True(t, pgerror.HasCode(err, pgerror.CodeDataCorrupted), "got %v", err)
		})
	}
}

func TestShorterRowReadsNull(t *testing.T) {
	old, err := Encode([]Value{{TypeID: types.Int4Oid, Datum: int32(1)}}, nil)
	require.NoError(t, err)

	layout := &Layout{
		Name: "t",
		Declared: []engine.Attribute{
			{Num: 1, TypeID: types.Int4Oid},
			{Num: 2, TypeID: types.TextOid},
		},
		Implicit: []ImplicitSlot{{Name: "time", AttNum: 3, TypeID: types.TimestampTzOid}},
	}
	row, err := Deform(layout, old)
	require.NoError(t, err)
	assert.Equal(t, []types.Datum{int32(1), nil, nil}, row)
}

func TestStaleImplicitEntryIgnored(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// written while attribute 2 was the implicit time column
	old, err := Encode(
		[]Value{{TypeID: types.Int4Oid, Datum: int32(1)}},
		[]ImplicitValue{{AttNum: 2, TypeID: types.TimestampTzOid, Datum: ts}},
	)
	require.NoError(t, err)

	// attribute 2 is now a declared text column, implicit time moved to 3
	layout := &Layout{
		Name: "t",
		Declared: []engine.Attribute{
			{Num: 1, TypeID: types.Int4Oid},
			{Num: 2, TypeID: types.TextOid},
		},
		Implicit: []ImplicitSlot{{Name: "time", AttNum: 3, TypeID: types.TimestampTzOid}},
	}
	row, err := Deform(layout, old)
	require.NoError(t, err)
	assert.Equal(t, []types.Datum{int32(1), nil, nil}, row)
}

func TestReaddedImplicitEntryIgnored(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	old, err := Encode(
		[]Value{{TypeID: types.Int4Oid, Datum: int32(1)}},
		[]ImplicitValue{{AttNum: 2, TypeID: types.TimestampTzOid, Epoch: 16390, Datum: ts}},
	)
	require.NoError(t, err)

	tests := []struct {
		name  string
		epoch types.Oid
		want  types.Datum
	}{
		{"same descriptor", 16390, ts},
		{"dropped and added again", 16401, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout := &Layout{
				Name:     "t",
				Declared: []engine.Attribute{{Num: 1, TypeID: types.Int4Oid}},
				Implicit: []ImplicitSlot{{Name: "time", AttNum: 2, TypeID: types.TimestampTzOid, Epoch: tt.epoch}},
			}
			row, err := Deform(layout, old)
			require.NoError(t, err)
			assert.Equal(t, []types.Datum{int32(1), tt.want}, row)
		})
	}
}

func TestDroppedColumnReadsNull(t *testing.T) {
	data, err := Encode([]Value{
		{TypeID: types.Int4Oid, Datum: int32(1)},
		{TypeID: types.TextOid, Datum: "gone"},
	}, nil)
	require.NoError(t, err)
	layout := &Layout{Name: "t", Declared: []engine.Attribute{
		{Num: 1, TypeID: types.Int4Oid},
		{Num: 2, TypeID: types.TextOid, Dropped: true},
	}}
	row, err := Deform(layout, data)
	require.NoError(t, err)
	assert.Equal(t, []types.Datum{int32(1), nil}, row)
}

func TestFormInsertSetsImplicitTime(t *testing.T) {
	clock := engine.NewManualClock(time.Date(2024, 5, 1, 10, 0, 0, 987654321, time.UTC))
	eng := engine.New(engine.WithClock(clock))
	aug := NewAugmenter(staticSource{16384: ordersLayout(true)})

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	amount, err := decimal.NewFromString("9.99")
	require.NoError(t, err)
	data, err := aug.FormInsert(tx, 16384, []types.Datum{int32(1), amount})
	require.NoError(t, err)

	row, err := Deform(ordersLayout(true), data)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, int32(1), row[0])
	assert.True(t, amount.Equal(row[1].(decimal.Decimal)))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), row[2], "sub-second part is truncated")
}

func TestFormDiscardsCallerImplicitValue(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	eng := engine.New(engine.WithClock(engine.NewManualClock(start)))
	aug := NewAugmenter(staticSource{16384: ordersLayout(true)})

	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)
	forged := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := aug.FormUpdate(tx, 16384, []types.Datum{int32(1), nil, forged})
	require.NoError(t, err)
	row, err := Deform(ordersLayout(true), data)
	require.NoError(t, err)
	assert.Equal(t, start, row[2])
}

func TestFormWithoutImplicit(t *testing.T) {
	eng := engine.New()
	aug := NewAugmenter(staticSource{16384: ordersLayout(false)})
	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)

	data, err := aug.FormInsert(tx, 16384, []types.Datum{int32(1), nil})
	require.NoError(t, err)
	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.NAtts)
	assert.Zero(t, h.NImplicit)
}

func TestFormErrors(t *testing.T) {
	eng := engine.New()
	aug := NewAugmenter(staticSource{16384: ordersLayout(true)})
	tx := eng.Begin(context.Background())
	defer eng.Rollback(tx)

	_, err := aug.FormInsert(tx, 16384, []types.Datum{nil, nil})
	assert.True(t, pgerror.HasCode(err, pgerror.CodeNotNullViolation))

	_, err = aug.FormInsert(tx, 16384, []types.Datum{int32(1)})
	assert.True(t, pgerror.HasKind(err, pgerror.KindInternal))

	_, err = aug.FormInsert(tx, 1, []types.Datum{int32(1), nil})
	assert.True(t, pgerror.HasCode(err, pgerror.CodeUndefinedTable))
}

func TestLayout(t *testing.T) {
	l := ordersLayout(true)
	assert.Equal(t, 3, l.NumAttrs())
	assert.Equal(t, 2, l.NumDeclared())
	assert.True(t, l.HasImplicit())
	assert.Equal(t, types.AttrNumber(3), l.ImplicitTimeAttNum())
	idx, ok := l.Index(3)
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = l.Index(4)
	assert.False(t, ok)
	assert.Equal(t, types.TimestampTzOid, l.TypeAt(2))
	assert.Equal(t, types.InvalidAttrNumber, ordersLayout(false).ImplicitTimeAttNum())
}
