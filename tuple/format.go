package tuple

import (
	"encoding/binary"
	"fmt"

	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// Physical tuple format:
//
//	header   natts uint16 | nimplicit uint16 | infomask uint16 | hoff uint16
//	bitmap   one bit per attribute when InfoHasNulls is set, set = not null
//	data     declared attributes 1..natts-nimplicit, aligned per type
//	implicit nimplicit entries of attnum uint16 | pad | typid uint32 | epoch uint32 | value
//
// A row written before a column existed simply stores fewer attributes. An
// implicit entry is only read back while the descriptor that wrote it, named
// by its epoch, is still the one in the layout.
const (
	HeaderSize = 8
	// ImplicitEntrySize attnum, pad, typid, epoch
	ImplicitEntrySize = 12

	InfoHasNulls uint16 = 0x0001
)

// Header tuple header.
type Header struct {
	NAtts     uint16
	NImplicit uint16
	InfoMask  uint16
	HOff      uint16
}

// NDeclared number of declared attributes stored.
func (h Header) NDeclared() int {
	return int(h.NAtts) - int(h.NImplicit)
}

// HasNulls reports whether the tuple carries a null bitmap.
func (h Header) HasNulls() bool {
	return h.InfoMask&InfoHasNulls != 0
}

// Value an attribute to store.
type Value struct {
	TypeID types.Oid
	Datum  types.Datum
}

// ImplicitValue an implicit attribute to store.
type ImplicitValue struct {
	AttNum types.AttrNumber
	TypeID types.Oid
	Epoch  types.Oid
	Datum  types.Datum
}

func alignOf(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func pad(buf []byte, align int) []byte {
	for len(buf)%align != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// Encode builds a tuple from declared values followed by implicit values.
// A nil datum is stored as NULL.
func Encode(declared []Value, implicit []ImplicitValue) ([]byte, error) {
	natts := len(declared) + len(implicit)
	if natts > int(types.MaxAttrNumber) {
		return nil, pgerror.UserError(pgerror.CodeTooManyColumns,
			"tuple has too many attributes",
			fmt.Sprintf("%d attributes", natts),
			"Tables can have at most 1600 columns.")
	}
	h := Header{NAtts: uint16(natts), NImplicit: uint16(len(implicit)), HOff: HeaderSize}
	var bitmap []byte
	isNull := func(i int) bool {
		if i < len(declared) {
			return declared[i].Datum == nil
		}
		return implicit[i-len(declared)].Datum == nil
	}
	for i := 0; i < natts; i++ {
		if isNull(i) {
			h.InfoMask |= InfoHasNulls
			break
		}
	}
	if h.HasNulls() {
		bitmap = make([]byte, (natts+7)/8)
		for i := 0; i < natts; i++ {
			if !isNull(i) {
				bitmap[i/8] |= 1 << uint(i%8)
			}
		}
		h.HOff = uint16(alignOf(HeaderSize+len(bitmap), 8))
	}

	buf := make([]byte, HeaderSize, int(h.HOff)+natts*8)
	binary.LittleEndian.PutUint16(buf[0:], h.NAtts)
	binary.LittleEndian.PutUint16(buf[2:], h.NImplicit)
	binary.LittleEndian.PutUint16(buf[4:], h.InfoMask)
	binary.LittleEndian.PutUint16(buf[6:], h.HOff)
	buf = append(buf, bitmap...)
	buf = pad(buf, 8)

	var err error
	for i, v := range declared {
		if v.Datum == nil {
			continue
		}
		if buf, err = appendValue(buf, v.TypeID, v.Datum); err != nil {
			return nil, storeError(i+1, err)
		}
	}
	for _, v := range implicit {
		buf = pad(buf, 4)
		var hdr [ImplicitEntrySize]byte
		binary.LittleEndian.PutUint16(hdr[0:], uint16(v.AttNum))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(v.TypeID))
		binary.LittleEndian.PutUint32(hdr[8:], uint32(v.Epoch))
		buf = append(buf, hdr[:]...)
		if v.Datum == nil {
			continue
		}
		if buf, err = appendValue(buf, v.TypeID, v.Datum); err != nil {
			return nil, storeError(int(v.AttNum), err)
		}
	}
	return buf, nil
}

func appendValue(buf []byte, typeID types.Oid, d types.Datum) ([]byte, error) {
	t, ok := types.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("unknown type oid %s", typeID)
	}
	return types.AppendDatum(pad(buf, t.AlignBytes()), t, d)
}

func storeError(attnum int, err error) error {
	e := pgerror.UserError(pgerror.CodeDatatypeMismatch,
		fmt.Sprintf("cannot store value of attribute %d", attnum),
		err.Error(),
		"Check the value against the column type.")
	e.Cause = err
	return e
}

// ReadHeader decodes and checks the tuple header.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, pgerror.DataCorruptedError("ReadHeader", fmt.Sprintf("tuple of %d bytes has no header", len(data)))
	}
	h := Header{
		NAtts:     binary.LittleEndian.Uint16(data[0:]),
		NImplicit: binary.LittleEndian.Uint16(data[2:]),
		InfoMask:  binary.LittleEndian.Uint16(data[4:]),
		HOff:      binary.LittleEndian.Uint16(data[6:]),
	}
	if h.NImplicit > h.NAtts {
		return h, pgerror.DataCorruptedError("ReadHeader", fmt.Sprintf("%d implicit of %d attributes", h.NImplicit, h.NAtts))
	}
	if int(h.HOff) < HeaderSize || int(h.HOff) > len(data) {
		return h, pgerror.DataCorruptedError("ReadHeader", fmt.Sprintf("data offset %d outside tuple of %d bytes", h.HOff, len(data)))
	}
	if h.HasNulls() && HeaderSize+(int(h.NAtts)+7)/8 > int(h.HOff) {
		return h, pgerror.DataCorruptedError("ReadHeader", "null bitmap overlaps data")
	}
	return h, nil
}

// Deform decodes data into a row of layout.NumAttrs() values ordered as
// layout.Index. Attributes the tuple does not store read as NULL.
func Deform(layout *Layout, data []byte) ([]types.Datum, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	notNull := func(i int) bool {
		if !h.HasNulls() {
			return true
		}
		return data[HeaderSize+i/8]&(1<<uint(i%8)) != 0
	}

	row := make([]types.Datum, layout.NumAttrs())
	off := int(h.HOff)
	ndeclared := h.NDeclared()
	if ndeclared > len(layout.Declared) {
		return nil, pgerror.DataCorruptedError("Deform",
			fmt.Sprintf("tuple stores %d declared attributes, relation %q has %d", ndeclared, layout.Name, len(layout.Declared)))
	}
	for i := 0; i < ndeclared; i++ {
		if !notNull(i) {
			continue
		}
		attr := layout.Declared[i]
		v, next, err := readValue(attr.TypeID, data, off)
		if err != nil {
			return nil, pgerror.Wrap(err, "Deform", "attribute %d of relation %q", i+1, layout.Name)
		}
		off = next
		if !attr.Dropped {
			row[i] = v
		}
	}
	for j := 0; j < int(h.NImplicit); j++ {
		off = alignOf(off, 4)
		if off+ImplicitEntrySize > len(data) {
			return nil, pgerror.DataCorruptedError("Deform", "implicit entry beyond end of tuple")
		}
		attnum := types.AttrNumber(binary.LittleEndian.Uint16(data[off:]))
		typeID := types.Oid(binary.LittleEndian.Uint32(data[off+4:]))
		epoch := types.Oid(binary.LittleEndian.Uint32(data[off+8:]))
		off += ImplicitEntrySize
		if !notNull(ndeclared + j) {
			continue
		}
		v, next, err := readValue(typeID, data, off)
		if err != nil {
			return nil, pgerror.Wrap(err, "Deform", "implicit attribute %d of relation %q", attnum, layout.Name)
		}
		off = next
		// 只有当前布局中仍是同一隐含列的属性才取值, 删除后重新添加的列 epoch 不同
		slot, ok := layout.ImplicitByNum(attnum)
		if !ok || slot.Epoch != epoch {
			continue
		}
		if idx, ok := layout.Index(attnum); ok {
			row[idx] = v
		}
	}
	return row, nil
}

func readValue(typeID types.Oid, data []byte, off int) (types.Datum, int, error) {
	t, ok := types.Lookup(typeID)
	if !ok {
		return nil, off, pgerror.DataCorruptedError("Deform", fmt.Sprintf("unknown type oid %s", typeID))
	}
	off = alignOf(off, t.AlignBytes())
	v, next, err := types.ReadDatum(t, data, off)
	if err != nil {
		e := pgerror.DataCorruptedError("Deform", err.Error())
		e.Cause = err
		return nil, off, e
	}
	return v, next, nil
}
