package types

import (
	"fmt"
	"strings"
)

// 内置数据类型 oid
const (
	BoolOid        Oid = 16
	ByteaOid       Oid = 17
	NameOid        Oid = 19
	Int8Oid        Oid = 20
	Int2Oid        Oid = 21
	Int4Oid        Oid = 23
	TextOid        Oid = 25
	OidOid         Oid = 26
	Float4Oid      Oid = 700
	Float8Oid      Oid = 701
	VarcharOid     Oid = 1043
	DateOid        Oid = 1082
	TimeOid        Oid = 1083
	TimestampOid   Oid = 1114
	TimestampTzOid Oid = 1184
	NumericOid     Oid = 1700
)

// 类型对齐方式, 同 pg_type.typalign
const (
	AlignChar   byte = 'c'
	AlignShort  byte = 's'
	AlignInt    byte = 'i'
	AlignDouble byte = 'd'
)

// VarLena marks a variable-length type.
const VarLena int16 = -1

// TypeInfo storage properties of a data type.
type TypeInfo struct {
	ID    Oid
	Name  string
	Len   int16 // 定长类型的字节数, 变长为 VarLena
	Align byte
}

// IsVarLena reports whether values of the type carry a length prefix.
func (t *TypeInfo) IsVarLena() bool {
	return t.Len == VarLena
}

// AlignBytes returns the byte alignment required by the type.
func (t *TypeInfo) AlignBytes() int {
	switch t.Align {
	case AlignShort:
		return 2
	case AlignInt:
		return 4
	case AlignDouble:
		return 8
	default:
		return 1
	}
}

var builtinTypes = map[Oid]*TypeInfo{
	BoolOid:        {ID: BoolOid, Name: "boolean", Len: 1, Align: AlignChar},
	ByteaOid:       {ID: ByteaOid, Name: "bytea", Len: VarLena, Align: AlignInt},
	NameOid:        {ID: NameOid, Name: "name", Len: NameDataLen, Align: AlignChar},
	OidOid:         {ID: OidOid, Name: "oid", Len: 4, Align: AlignInt},
	Int8Oid:        {ID: Int8Oid, Name: "bigint", Len: 8, Align: AlignDouble},
	Int2Oid:        {ID: Int2Oid, Name: "smallint", Len: 2, Align: AlignShort},
	Int4Oid:        {ID: Int4Oid, Name: "integer", Len: 4, Align: AlignInt},
	TextOid:        {ID: TextOid, Name: "text", Len: VarLena, Align: AlignInt},
	Float4Oid:      {ID: Float4Oid, Name: "real", Len: 4, Align: AlignInt},
	Float8Oid:      {ID: Float8Oid, Name: "double precision", Len: 8, Align: AlignDouble},
	VarcharOid:     {ID: VarcharOid, Name: "character varying", Len: VarLena, Align: AlignInt},
	DateOid:        {ID: DateOid, Name: "date", Len: 4, Align: AlignInt},
	TimeOid:        {ID: TimeOid, Name: "time without time zone", Len: 8, Align: AlignDouble},
	TimestampOid:   {ID: TimestampOid, Name: "timestamp without time zone", Len: 8, Align: AlignDouble},
	TimestampTzOid: {ID: TimestampTzOid, Name: "timestamp with time zone", Len: 8, Align: AlignDouble},
	NumericOid:     {ID: NumericOid, Name: "numeric", Len: VarLena, Align: AlignInt},
}

// SQL 类型名称到类型 oid 的映射
var typeNames = map[string]Oid{
	"bool":                        BoolOid,
	"boolean":                     BoolOid,
	"bytea":                       ByteaOid,
	"blob":                        ByteaOid,
	"binary":                      ByteaOid,
	"varbinary":                   ByteaOid,
	"bigint":                      Int8Oid,
	"int8":                        Int8Oid,
	"smallint":                    Int2Oid,
	"int2":                        Int2Oid,
	"tinyint":                     Int2Oid,
	"int":                         Int4Oid,
	"int4":                        Int4Oid,
	"integer":                     Int4Oid,
	"mediumint":                   Int4Oid,
	"text":                        TextOid,
	"name":                        NameOid,
	"oid":                         OidOid,
	"char":                        TextOid,
	"character":                   TextOid,
	"real":                        Float4Oid,
	"float":                       Float4Oid,
	"float4":                      Float4Oid,
	"double":                      Float8Oid,
	"double precision":            Float8Oid,
	"float8":                      Float8Oid,
	"varchar":                     VarcharOid,
	"character varying":           VarcharOid,
	"date":                        DateOid,
	"time":                        TimeOid,
	"time without time zone":      TimeOid,
	"timestamp":                   TimestampOid,
	"datetime":                    TimestampOid,
	"timestamp without time zone": TimestampOid,
	"timestamptz":                 TimestampTzOid,
	"timestamp with time zone":    TimestampTzOid,
	"decimal":                     NumericOid,
	"numeric":                     NumericOid,
}

// Lookup returns the storage properties of a builtin type.
func Lookup(id Oid) (*TypeInfo, bool) {
	t, ok := builtinTypes[id]
	return t, ok
}

// MustLookup is Lookup for types known to be builtin.
func MustLookup(id Oid) *TypeInfo {
	t, ok := builtinTypes[id]
	if !ok {
		panic(fmt.Sprintf("types: unknown type oid %d", id))
	}
	return t
}

// ParseTypeName resolves an SQL type name such as "varchar" or
// "timestamp with time zone".
func ParseTypeName(name string) (Oid, error) {
	n := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}
	if id, ok := typeNames[n]; ok {
		return id, nil
	}
	return InvalidOid, fmt.Errorf("type %q does not exist", name)
}

// IsTimeType reports whether id is one of the time-with/without-zone types.
func IsTimeType(id Oid) bool {
	return id == TimestampOid || id == TimestampTzOid
}

// TypeName returns the display name of a type oid.
func TypeName(id Oid) string {
	if t, ok := builtinTypes[id]; ok {
		return t.Name
	}
	return id.String()
}
