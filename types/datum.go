package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Datum is a single attribute value. nil is SQL NULL.
//
// Go representations per type:
//   boolean                    bool
//   smallint/integer/bigint    int16/int32/int64
//   real/double precision      float32/float64
//   text/character varying     string
//   numeric                    decimal.Decimal
//   date/timestamp/timestamptz time.Time (UTC)
//   time                       time.Duration since midnight
//   bytea                      []byte
//   oid                        Oid
//   name                       string (at most NameDataLen-1 bytes)
type Datum interface{}

// postgresEpoch 2000-01-01 00:00:00 UTC, 时间类型的存储起点
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const usecsPerDay = int64(24 * time.Hour / time.Microsecond)

var (
	ErrTypeMismatch  = errors.New("datum type does not match column type")
	ErrShortTuple    = errors.New("tuple data is shorter than its header claims")
	ErrValueOverflow = errors.New("value out of range for type")
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// TimestampToMicros encodes t as microseconds since 2000-01-01 UTC.
func TimestampToMicros(t time.Time) int64 {
	t = t.UTC()
	return (t.Unix()-postgresEpoch.Unix())*int64(time.Second/time.Microsecond) + int64(t.Nanosecond()/int(time.Microsecond))
}

// MicrosToTimestamp is the inverse of TimestampToMicros.
func MicrosToTimestamp(us int64) time.Time {
	sec := us / 1e6
	rem := us % 1e6
	if rem < 0 {
		sec--
		rem += 1e6
	}
	return time.Unix(postgresEpoch.Unix()+sec, rem*int64(time.Microsecond)).UTC()
}

// AppendDatum appends the stored form of d to buf. Fixed-length types are
// written in exactly t.Len bytes, varlena types with a 4-byte length prefix.
// The caller is responsible for alignment.
func AppendDatum(buf []byte, t *TypeInfo, d Datum) ([]byte, error) {
	var scratch [8]byte
	switch t.ID {
	case BoolOid:
		v, ok := d.(bool)
		if !ok {
			return nil, mismatch(t, d)
		}
		if v {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case Int2Oid:
		v, ok := d.(int16)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint16(scratch[:2], uint16(v))
		return append(buf, scratch[:2]...), nil
	case Int4Oid:
		v, ok := d.(int32)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(v))
		return append(buf, scratch[:4]...), nil
	case Int8Oid:
		v, ok := d.(int64)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		return append(buf, scratch[:]...), nil
	case Float4Oid:
		v, ok := d.(float32)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(v))
		return append(buf, scratch[:4]...), nil
	case Float8Oid:
		v, ok := d.(float64)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v))
		return append(buf, scratch[:]...), nil
	case DateOid:
		v, ok := d.(time.Time)
		if !ok {
			return nil, mismatch(t, d)
		}
		days := TimestampToMicros(v) / usecsPerDay
		binary.LittleEndian.PutUint32(scratch[:4], uint32(int32(days)))
		return append(buf, scratch[:4]...), nil
	case TimeOid:
		v, ok := d.(time.Duration)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(int64(v/time.Microsecond)))
		return append(buf, scratch[:]...), nil
	case TimestampOid, TimestampTzOid:
		v, ok := d.(time.Time)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint64(scratch[:], uint64(TimestampToMicros(v)))
		return append(buf, scratch[:]...), nil
	case OidOid:
		v, ok := d.(Oid)
		if !ok {
			return nil, mismatch(t, d)
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(v))
		return append(buf, scratch[:4]...), nil
	case NameOid:
		v, ok := d.(string)
		if !ok {
			return nil, mismatch(t, d)
		}
		if len(v) >= NameDataLen {
			return nil, errors.Wrapf(ErrValueOverflow, "name %q", v)
		}
		var name [NameDataLen]byte
		copy(name[:], v)
		return append(buf, name[:]...), nil
	case TextOid, VarcharOid:
		v, ok := d.(string)
		if !ok {
			return nil, mismatch(t, d)
		}
		return appendVarLena(buf, []byte(v)), nil
	case ByteaOid:
		v, ok := d.([]byte)
		if !ok {
			return nil, mismatch(t, d)
		}
		return appendVarLena(buf, v), nil
	case NumericOid:
		v, ok := d.(decimal.Decimal)
		if !ok {
			return nil, mismatch(t, d)
		}
		return appendVarLena(buf, []byte(v.String())), nil
	}
	return nil, errors.Errorf("types: no storage routine for type %d", t.ID)
}

func appendVarLena(buf, payload []byte) []byte {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	buf = append(buf, hdr[:]...)
	return append(buf, payload...)
}

// ReadDatum decodes a value of type t stored at data[off:] and returns it
// together with the offset just past it.
func ReadDatum(t *TypeInfo, data []byte, off int) (Datum, int, error) {
	if t.IsVarLena() {
		if off+4 > len(data) {
			return nil, off, ErrShortTuple
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		start := off + 4
		if start+n > len(data) {
			return nil, off, ErrShortTuple
		}
		payload := data[start : start+n]
		end := start + n
		switch t.ID {
		case TextOid, VarcharOid:
			return string(payload), end, nil
		case ByteaOid:
			out := make([]byte, n)
			copy(out, payload)
			return out, end, nil
		case NumericOid:
			v, err := decimal.NewFromString(string(payload))
			if err != nil {
				return nil, off, errors.Wrap(err, "decode numeric")
			}
			return v, end, nil
		}
		return nil, off, errors.Errorf("types: no storage routine for type %d", t.ID)
	}

	end := off + int(t.Len)
	if end > len(data) {
		return nil, off, ErrShortTuple
	}
	b := data[off:end]
	switch t.ID {
	case BoolOid:
		return b[0] != 0, end, nil
	case Int2Oid:
		return int16(binary.LittleEndian.Uint16(b)), end, nil
	case Int4Oid:
		return int32(binary.LittleEndian.Uint32(b)), end, nil
	case Int8Oid:
		return int64(binary.LittleEndian.Uint64(b)), end, nil
	case Float4Oid:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), end, nil
	case Float8Oid:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), end, nil
	case DateOid:
		days := int64(int32(binary.LittleEndian.Uint32(b)))
		return MicrosToTimestamp(days * usecsPerDay), end, nil
	case TimeOid:
		return time.Duration(int64(binary.LittleEndian.Uint64(b))) * time.Microsecond, end, nil
	case TimestampOid, TimestampTzOid:
		return MicrosToTimestamp(int64(binary.LittleEndian.Uint64(b))), end, nil
	case OidOid:
		return Oid(binary.LittleEndian.Uint32(b)), end, nil
	case NameOid:
		n := 0
		for n < len(b) && b[n] != 0 {
			n++
		}
		return string(b[:n]), end, nil
	}
	return nil, off, errors.Errorf("types: no storage routine for type %d", t.ID)
}

func mismatch(t *TypeInfo, d Datum) error {
	return errors.Wrapf(ErrTypeMismatch, "%T for %s", d, t.Name)
}

// Coerce converts a literal value (int64, float64, string, bool,
// []byte, time.Time, decimal.Decimal) into the datum representation of t.
func Coerce(t *TypeInfo, v interface{}) (Datum, error) {
	if v == nil {
		return nil, nil
	}
	switch t.ID {
	case BoolOid:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(x))
			if err != nil {
				return nil, invalidInput(t, x)
			}
			return b, nil
		}
	case Int2Oid, Int4Oid, Int8Oid:
		var n int64
		switch x := v.(type) {
		case int64:
			n = x
		case int32:
			n = int64(x)
		case int16:
			n = int64(x)
		case float64:
			if x != math.Trunc(x) {
				return nil, invalidInput(t, strconv.FormatFloat(x, 'g', -1, 64))
			}
			n = int64(x)
		case string:
			p, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, invalidInput(t, x)
			}
			n = p
		default:
			return nil, mismatch(t, v)
		}
		switch t.ID {
		case Int2Oid:
			if n < math.MinInt16 || n > math.MaxInt16 {
				return nil, errors.Wrapf(ErrValueOverflow, "smallint %d", n)
			}
			return int16(n), nil
		case Int4Oid:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, errors.Wrapf(ErrValueOverflow, "integer %d", n)
			}
			return int32(n), nil
		}
		return n, nil
	case Float4Oid, Float8Oid:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		case int64:
			f = float64(x)
		case string:
			p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, invalidInput(t, x)
			}
			f = p
		default:
			return nil, mismatch(t, v)
		}
		if t.ID == Float4Oid {
			return float32(f), nil
		}
		return f, nil
	case OidOid:
		switch x := v.(type) {
		case Oid:
			return x, nil
		case int64:
			if x < 0 || x > math.MaxUint32 {
				return nil, errors.Wrapf(ErrValueOverflow, "oid %d", x)
			}
			return Oid(x), nil
		case string:
			p, err := strconv.ParseUint(strings.TrimSpace(x), 10, 32)
			if err != nil {
				return nil, invalidInput(t, x)
			}
			return Oid(p), nil
		}
	case NameOid:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(t, v)
		}
		if len(s) >= NameDataLen {
			s = s[:NameDataLen-1]
		}
		return s, nil
	case TextOid, VarcharOid:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return fmt.Sprint(v), nil
	case ByteaOid:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	case NumericOid:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case int64:
			return decimal.New(x, 0), nil
		case float64:
			return decimal.NewFromFloat(x), nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(x))
			if err != nil {
				return nil, invalidInput(t, x)
			}
			return d, nil
		}
	case DateOid, TimestampOid, TimestampTzOid:
		var ts time.Time
		switch x := v.(type) {
		case time.Time:
			ts = x.UTC()
		case string:
			p, err := parseTime(x)
			if err != nil {
				return nil, invalidInput(t, x)
			}
			ts = p
		default:
			return nil, mismatch(t, v)
		}
		if t.ID == DateOid {
			ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		}
		return ts, nil
	case TimeOid:
		switch x := v.(type) {
		case time.Duration:
			return x, nil
		case string:
			p, err := time.Parse("15:04:05.999999", strings.TrimSpace(x))
			if err != nil {
				return nil, invalidInput(t, x)
			}
			return time.Duration(p.Hour())*time.Hour + time.Duration(p.Minute())*time.Minute +
				time.Duration(p.Second())*time.Second + time.Duration(p.Nanosecond()), nil
		}
	}
	return nil, mismatch(t, v)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func invalidInput(t *TypeInfo, s string) error {
	return errors.Errorf("invalid input syntax for type %s: %q", t.Name, s)
}

// Compare orders two non-null datums. Numeric kinds compare across widths.
func Compare(a, b Datum) (int, error) {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Cmp(db), nil
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			switch {
			case x.Before(y):
				return -1, nil
			case x.After(y):
				return 1, nil
			}
			return 0, nil
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	}
	return 0, errors.Errorf("cannot compare %T with %T", a, b)
}

func toDecimal(d Datum) (decimal.Decimal, bool) {
	switch x := d.(type) {
	case int16:
		return decimal.New(int64(x), 0), true
	case int32:
		return decimal.New(int64(x), 0), true
	case int64:
		return decimal.New(x, 0), true
	case Oid:
		return decimal.New(int64(x), 0), true
	case float32:
		return decimal.NewFromFloat(float64(x)), true
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	}
	return decimal.Decimal{}, false
}

// Format renders a datum for display.
func Format(d Datum) string {
	switch x := d.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999")
	case []byte:
		return fmt.Sprintf("\\x%x", x)
	case bool:
		if x {
			return "t"
		}
		return "f"
	}
	return fmt.Sprint(d)
}
