package types

import "strconv"

// Oid object identifier, 同 PostgreSQL 的 oid.
type Oid uint32

// InvalidOid 无效的对象标识
const InvalidOid Oid = 0

// FirstNormalObjectID 用户对象的起始 oid, 小于该值的对象属于系统目录.
const FirstNormalObjectID Oid = 16384

// IsValid reports whether the oid refers to an object at all.
func (o Oid) IsValid() bool {
	return o != InvalidOid
}

func (o Oid) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// AttrNumber is the 1-based position of an attribute inside a physical tuple.
type AttrNumber int16

const (
	// InvalidAttrNumber is returned by lookups that found nothing.
	InvalidAttrNumber AttrNumber = 0
	// MaxAttrNumber is the widest tuple the engine accepts.
	MaxAttrNumber AttrNumber = 1600
)

// IsValid reports whether a is a usable user attribute number.
func (a AttrNumber) IsValid() bool {
	return a > InvalidAttrNumber && a <= MaxAttrNumber
}

// NameDataLen 标识符最大字节数(含结尾), 同 NAMEDATALEN.
const NameDataLen = 64
