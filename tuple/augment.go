package tuple

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// Augmenter builds physical tuples and fills in implicit attributes.
type Augmenter struct {
	src LayoutSource
}

// NewAugmenter creates an augmenter resolving layouts through src.
func NewAugmenter(src LayoutSource) *Augmenter {
	return &Augmenter{src: src}
}

// ImplicitTime is the implicit time value written by tx: its start
// timestamp with the sub-second part discarded.
func ImplicitTime(tx *engine.Txn) time.Time {
	return tx.StartTimestamp().UTC().Truncate(time.Second)
}

// FormInsert builds the tuple for a new row of relid. values holds either
// the declared attributes or all layout.NumAttrs() attributes; a nil datum
// is NULL. Values given for implicit attributes are discarded.
func (a *Augmenter) FormInsert(tx *engine.Txn, relid types.Oid, values []types.Datum) ([]byte, error) {
	return a.form(tx, relid, values, "insert")
}

// FormUpdate builds the new version of an updated row. The implicit time
// is recomputed, never carried over from the old version.
func (a *Augmenter) FormUpdate(tx *engine.Txn, relid types.Oid, values []types.Datum) ([]byte, error) {
	return a.form(tx, relid, values, "update")
}

func (a *Augmenter) form(tx *engine.Txn, relid types.Oid, values []types.Datum, op string) ([]byte, error) {
	layout, err := a.src.Layout(tx, relid)
	if err != nil {
		return nil, err
	}
	if len(values) != layout.NumDeclared() && len(values) != layout.NumAttrs() {
		return nil, pgerror.InternalError("Form"+op,
			fmt.Sprintf("relation %q takes %d or %d values, got %d", layout.Name, layout.NumDeclared(), layout.NumAttrs(), len(values)))
	}

	declared := make([]Value, layout.NumDeclared())
	for i, attr := range layout.Declared {
		v := values[i]
		if attr.Dropped {
			v = nil
		}
		if v == nil && attr.NotNull {
			return nil, pgerror.UserError(pgerror.CodeNotNullViolation,
				fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", attr.Name, layout.Name),
				fmt.Sprintf("failing row is a new %s", op),
				"Provide a value for the column.")
		}
		declared[i] = Value{TypeID: attr.TypeID, Datum: v}
	}

	if len(values) > layout.NumDeclared() {
		for i, v := range values[layout.NumDeclared():] {
			if v != nil {
				logrus.WithField("table", layout.Name).
					WithField("attnum", layout.Implicit[i].AttNum).
					Debugln("discarding caller value for implicit column")
			}
		}
	}

	implicit := make([]ImplicitValue, len(layout.Implicit))
	now := ImplicitTime(tx)
	for i, slot := range layout.Implicit {
		implicit[i] = ImplicitValue{AttNum: slot.AttNum, TypeID: slot.TypeID, Epoch: slot.Epoch}
		if types.IsTimeType(slot.TypeID) {
			implicit[i].Datum = now
		}
	}
	data, err := Encode(declared, implicit)
	if err != nil {
		return nil, pgerror.Wrap(err, "Form"+op, "while forming %s tuple for %q", op, layout.Name)
	}
	if len(implicit) > 0 {
		logrus.WithField("table", layout.Name).
			WithField("op", op).
			WithField("time", now).
			Debugln("implicit time set")
	}
	return data, nil
}
