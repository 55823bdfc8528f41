package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	sp "github.com/xwb1989/sqlparser"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/projection"
	"github.com/teamlint/pg-implicit/types"
)

// value an evaluated expression. Literals carry no type until compared
// with or stored into a typed attribute.
type value struct {
	d   types.Datum
	typ types.Oid
	// raw 数值字面量原文, 转换 numeric 时不丢精度
	raw string
}

func (v value) null() bool {
	return v.d == nil
}

// as converts v to the attribute type typeID.
func (v value) as(typeID types.Oid) (types.Datum, error) {
	if v.d == nil {
		return nil, nil
	}
	if v.typ == typeID {
		return v.d, nil
	}
	t, ok := types.Lookup(typeID)
	if !ok {
		return nil, pgerror.InternalError("coerce", fmt.Sprintf("unknown type oid %s", typeID))
	}
	in := interface{}(v.d)
	if v.raw != "" {
		in = v.raw
	}
	d, err := types.Coerce(t, in)
	if err != nil {
		return nil, pgerror.UserError(pgerror.CodeInvalidTextRep, err.Error(),
			fmt.Sprintf("value %s cannot be stored as %s", types.Format(v.d), t.Name),
			"Cast the value to the column type.")
	}
	return d, nil
}

// scope resolves column references of the row being evaluated.
type scope struct {
	tx      *engine.Txn
	resolve func(name string) (projection.Column, error)
	row     []types.Datum
}

func (s *scope) eval(expr sp.Expr) (value, error) {
	switch x := expr.(type) {
	case *sp.NullVal:
		return value{}, nil
	case sp.BoolVal:
		return value{d: bool(x), typ: types.BoolOid}, nil
	case *sp.SQLVal:
		return literal(x)
	case *sp.ColName:
		if s.resolve == nil {
			return value{}, pgerror.UserError(pgerror.CodeUndefinedColumn,
				fmt.Sprintf("column %q does not exist", x.Name.Lowered()),
				"column references are not allowed here", "Use a constant.")
		}
		col, err := s.resolve(x.Name.Lowered())
		if err != nil {
			return value{}, err
		}
		var d types.Datum
		if col.Index < len(s.row) {
			d = s.row[col.Index]
		}
		return value{d: d, typ: col.TypeID}, nil
	case *sp.ParenExpr:
		return s.eval(x.Expr)
	case *sp.UnaryExpr:
		v, err := s.eval(x.Expr)
		if err != nil || v.null() {
			return v, err
		}
		if x.Operator != sp.UMinusStr {
			return value{}, unsupported(fmt.Sprintf("operator %s", x.Operator))
		}
		return negate(v)
	case *sp.FuncExpr:
		if x.Name.Lowered() == "now" && len(x.Exprs) == 0 {
			return value{d: s.tx.StartTimestamp(), typ: types.TimestampTzOid}, nil
		}
		return value{}, unsupported(fmt.Sprintf("function %s", x.Name.String()))
	case *sp.AndExpr, *sp.OrExpr, *sp.NotExpr, *sp.ComparisonExpr, *sp.IsExpr:
		b, err := s.truth(x)
		if err != nil {
			return value{}, err
		}
		if b == nil {
			return value{}, nil
		}
		return value{d: *b, typ: types.BoolOid}, nil
	}
	return value{}, unsupported(fmt.Sprintf("expression %s", sp.String(expr)))
}

// truth evaluates a boolean expression with SQL three-valued logic; nil is
// unknown.
func (s *scope) truth(expr sp.Expr) (*bool, error) {
	switch x := expr.(type) {
	case *sp.AndExpr:
		l, err := s.truth(x.Left)
		if err != nil {
			return nil, err
		}
		if l != nil && !*l {
			return l, nil
		}
		r, err := s.truth(x.Right)
		if err != nil {
			return nil, err
		}
		if r != nil && !*r {
			return r, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return boolPtr(true), nil
	case *sp.OrExpr:
		l, err := s.truth(x.Left)
		if err != nil {
			return nil, err
		}
		if l != nil && *l {
			return l, nil
		}
		r, err := s.truth(x.Right)
		if err != nil {
			return nil, err
		}
		if r != nil && *r {
			return r, nil
		}
		if l == nil || r == nil {
			return nil, nil
		}
		return boolPtr(false), nil
	case *sp.NotExpr:
		v, err := s.truth(x.Expr)
		if err != nil || v == nil {
			return v, err
		}
		return boolPtr(!*v), nil
	case *sp.ParenExpr:
		return s.truth(x.Expr)
	case *sp.IsExpr:
		v, err := s.eval(x.Expr)
		if err != nil {
			return nil, err
		}
		switch x.Operator {
		case sp.IsNullStr:
			return boolPtr(v.null()), nil
		case sp.IsNotNullStr:
			return boolPtr(!v.null()), nil
		}
		return nil, unsupported(x.Operator)
	case *sp.ComparisonExpr:
		return s.compare(x)
	}
	v, err := s.eval(expr)
	if err != nil || v.null() {
		return nil, err
	}
	b, ok := v.d.(bool)
	if !ok {
		return nil, pgerror.UserError(pgerror.CodeDatatypeMismatch,
			"argument of WHERE must be type boolean",
			fmt.Sprintf("got %s", types.Format(v.d)), "Compare the value with something.")
	}
	return &b, nil
}

func (s *scope) compare(x *sp.ComparisonExpr) (*bool, error) {
	l, err := s.eval(x.Left)
	if err != nil {
		return nil, err
	}
	switch x.Operator {
	case sp.InStr, sp.NotInStr:
		tuple, ok := x.Right.(sp.ValTuple)
		if !ok {
			return nil, unsupported("IN with a subquery")
		}
		if l.null() {
			return nil, nil
		}
		found := false
		for _, e := range tuple {
			r, err := s.eval(e)
			if err != nil {
				return nil, err
			}
			c, err := compareValues(l, r)
			if err != nil {
				return nil, err
			}
			if c != nil && *c == 0 {
				found = true
				break
			}
		}
		return boolPtr(found == (x.Operator == sp.InStr)), nil
	}
	r, err := s.eval(x.Right)
	if err != nil {
		return nil, err
	}
	c, err := compareValues(l, r)
	if err != nil || c == nil {
		return nil, err
	}
	switch x.Operator {
	case sp.EqualStr, sp.NullSafeEqualStr:
		return boolPtr(*c == 0), nil
	case sp.NotEqualStr, "<>":
		return boolPtr(*c != 0), nil
	case sp.LessThanStr:
		return boolPtr(*c < 0), nil
	case sp.LessEqualStr:
		return boolPtr(*c <= 0), nil
	case sp.GreaterThanStr:
		return boolPtr(*c > 0), nil
	case sp.GreaterEqualStr:
		return boolPtr(*c >= 0), nil
	}
	return nil, unsupported(fmt.Sprintf("operator %s", x.Operator))
}

// compareValues orders l and r, converting an untyped literal to the type
// of the other side first. nil means one side is NULL.
func compareValues(l, r value) (*int, error) {
	if l.null() || r.null() {
		return nil, nil
	}
	var err error
	switch {
	case l.typ != types.InvalidOid && r.typ == types.InvalidOid:
		r.d, err = r.as(l.typ)
	case r.typ != types.InvalidOid && l.typ == types.InvalidOid:
		l.d, err = l.as(r.typ)
	}
	if err != nil {
		return nil, err
	}
	c, err := types.Compare(l.d, r.d)
	if err != nil {
		return nil, pgerror.UserError(pgerror.CodeDatatypeMismatch, err.Error(),
			fmt.Sprintf("%s compared with %s", types.Format(l.d), types.Format(r.d)),
			"Compare values of the same type.")
	}
	return &c, nil
}

func literal(x *sp.SQLVal) (value, error) {
	s := string(x.Val)
	switch x.Type {
	case sp.StrVal:
		return value{d: s}, nil
	case sp.IntVal:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return value{d: s, raw: s}, nil
		}
		return value{d: n}, nil
	case sp.FloatVal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value{}, pgerror.SyntaxError("invalid number "+s, -1)
		}
		return value{d: f, raw: s}, nil
	}
	return value{}, unsupported(fmt.Sprintf("literal %s", s))
}

func negate(v value) (value, error) {
	switch x := v.d.(type) {
	case int64:
		v.d = -x
	case int32:
		v.d = -x
	case int16:
		v.d = -x
	case float64:
		v.d = -x
	case float32:
		v.d = -x
	case decimal.Decimal:
		v.d = x.Neg()
	default:
		return value{}, pgerror.UserError(pgerror.CodeDatatypeMismatch,
			fmt.Sprintf("cannot negate %s", types.Format(v.d)), "unary minus needs a number", "")
	}
	if v.raw != "" && !strings.HasPrefix(v.raw, "-") {
		v.raw = "-" + v.raw
	}
	return v, nil
}

func boolPtr(b bool) *bool {
	return &b
}

func unsupported(what string) error {
	return pgerror.FeatureNotSupportedError(what)
}
