package compat

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// Operation a DML statement kind.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpSelect Operation = "SELECT"
)

// Verdict result of a compatibility check.
type Verdict struct {
	// Compatible the table keeps working, with or without the feature.
	Compatible bool
	// Affected the table may carry implicit columns.
	Affected    bool
	Temporary   bool
	Partitioned bool
	// Conflict a declared column already uses the implicit column's name
	// with another type.
	Conflict bool
	Reason   string
}

// Guard decides whether tables may gain or keep implicit columns.
type Guard struct {
	eng    *engine.Engine
	cat    *catalog.Catalog
	strict bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithStrictConflicts turns name collisions into hard errors on add.
func WithStrictConflicts(strict bool) Option {
	return func(g *Guard) { g.strict = strict }
}

// New creates a guard.
func New(eng *engine.Engine, cat *catalog.Catalog, opts ...Option) *Guard {
	g := &Guard{eng: eng, cat: cat}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckCompatibility inspects relid. Relations that can never carry
// implicit columns are compatible and unaffected.
func (g *Guard) CheckCompatibility(tx *engine.Txn, relid types.Oid) Verdict {
	if !relid.IsValid() {
		logrus.WithField("rel_id", relid).Warnln("compatibility check of invalid table oid")
		return Verdict{Reason: "invalid table oid"}
	}
	rel, ok := g.eng.RelationByOid(relid)
	if !ok {
		logrus.WithField("rel_id", relid).Warnln("compatibility check of missing table")
		return Verdict{Reason: fmt.Sprintf("table %s does not exist", relid)}
	}
	return g.check(rel)
}

func (g *Guard) check(rel *engine.Relation) Verdict {
	log := logrus.WithField("table", rel.Name).WithField("rel_id", rel.Oid)
	if rel.IsSystem() {
		log.Debugln("system catalog, implicit columns not applied")
		return Verdict{Compatible: true, Reason: "system catalog"}
	}
	v := Verdict{Compatible: true, Affected: true}
	switch rel.Kind {
	case engine.RelKindTable:
	case engine.RelKindPartitioned:
		v.Partitioned = true
		v.Reason = "partitioned table: existing partitions follow the parent, rows are not routed through it"
	default:
		log.WithField("kind", rel.Kind).Debugln("not an ordinary table, implicit columns not applied")
		return Verdict{Compatible: true, Reason: fmt.Sprintf("%s cannot carry implicit columns", rel.Kind)}
	}
	if rel.IsTemp() {
		v.Temporary = true
		log.Debugln("temporary table, implicit columns last for the session only")
	}
	if attr, ok := rel.Attr(catalog.ImplicitTimeColumnName); ok && attr.TypeID != catalog.ImplicitTimeTypeID {
		v.Conflict = true
		v.Reason = fmt.Sprintf("column %q already declared as %s", attr.Name, types.TypeName(attr.TypeID))
		log.WithField("column", attr.Name).
			WithField("type", types.TypeName(attr.TypeID)).
			Warnln("declared column may conflict with the implicit time column")
	}
	return v
}

// MigrateExistingTable adds or removes the implicit time column of relid
// under an access-exclusive lock. Repeating a migration is a no-op with a
// warning.
func (g *Guard) MigrateExistingTable(tx *engine.Txn, relid types.Oid, add bool) error {
	if _, ok := g.eng.RelationByOid(relid); !ok {
		return pgerror.UndefinedTableError(fmt.Sprintf("oid %s", relid))
	}
	rel, err := g.eng.OpenRelation(tx, relid, engine.AccessExclusiveLock)
	if err != nil {
		return err
	}
	v := g.check(rel)
	if !v.Compatible {
		return pgerror.InvalidTableError(rel.Name, v.Reason)
	}
	if add {
		if !v.Affected {
			if err := catalog.CheckRelation(rel); err != nil {
				return err
			}
			return pgerror.FeatureNotSupportedError(v.Reason)
		}
		if v.Conflict && g.strict {
			return pgerror.CompatibilityError(fmt.Sprintf("column %q", catalog.ImplicitTimeColumnName), v.Reason)
		}
		if g.cat.HasImplicitTime(tx, relid) {
			return pgerror.Report(pgerror.ColumnExistsWarning(rel.Name))
		}
		if err := g.cat.AddImplicitTimeColumn(tx, rel); err != nil {
			return pgerror.Wrap(err, "MigrateExistingTable", "while adding implicit time to %q", rel.Name)
		}
		logrus.WithField("table", rel.Name).Infoln("implicit time column added")
		return nil
	}
	if !g.cat.HasImplicitTime(tx, relid) {
		return pgerror.Report(pgerror.ColumnNotFoundWarning(rel.Name))
	}
	if err := g.cat.RemoveImplicitTimeColumn(tx, rel); err != nil {
		return pgerror.Wrap(err, "MigrateExistingTable", "while removing implicit time from %q", rel.Name)
	}
	logrus.WithField("table", rel.Name).Infoln("implicit time column removed")
	return nil
}

// ParseOperation maps a statement keyword to an Operation.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpInsert, OpUpdate, OpDelete, OpSelect:
		return op, true
	}
	return op, false
}

// ValidateOperationCompatibility reports whether op may run against relid.
// The check is permissive; unknown operations are rejected.
func (g *Guard) ValidateOperationCompatibility(tx *engine.Txn, relid types.Oid, op Operation) bool {
	if _, ok := ParseOperation(string(op)); !ok {
		logrus.WithField("op", op).Warnln("unknown operation")
		return false
	}
	g.EnsureLegacyBehavior(tx, relid)
	if !g.cat.HasImplicitTime(tx, relid) {
		return true
	}
	log := logrus.WithField("rel_id", relid).WithField("op", op)
	switch op {
	case OpInsert:
		log.Debugln("insert fills the implicit time column")
	case OpUpdate:
		log.Debugln("update refreshes the implicit time column")
	case OpDelete:
		log.Debugln("delete is unaffected by implicit columns")
	case OpSelect:
		log.Debugln("wildcard select hides invisible implicit columns")
	}
	return true
}

// EnsureLegacyBehavior reports whether relid has no implicit columns and so
// behaves exactly as before; such tables still get the name collision check.
func (g *Guard) EnsureLegacyBehavior(tx *engine.Txn, relid types.Oid) bool {
	if g.cat.HasImplicitTime(tx, relid) {
		return false
	}
	logrus.WithField("rel_id", relid).Debugln("no implicit columns, legacy behavior")
	if rel, ok := g.eng.RelationByOid(relid); ok {
		g.check(rel)
	}
	return true
}

// CompatibilityInfo renders a human readable report for relid.
func (g *Guard) CompatibilityInfo(tx *engine.Txn, relid types.Oid) string {
	var b strings.Builder
	rel, ok := g.eng.RelationByOid(relid)
	if !ok {
		fmt.Fprintf(&b, "table %s: does not exist\n", relid)
		return b.String()
	}
	v := g.check(rel)
	fmt.Fprintf(&b, "table: %s (oid %s)\n", rel.Name, rel.Oid)
	fmt.Fprintf(&b, "kind: %s\n", rel.Kind)
	fmt.Fprintf(&b, "system catalog: %s\n", yesNo(rel.IsSystem()))
	fmt.Fprintf(&b, "temporary: %s\n", yesNo(v.Temporary))
	fmt.Fprintf(&b, "compatible: %s\n", yesNo(v.Compatible))
	fmt.Fprintf(&b, "supports implicit columns: %s\n", yesNo(v.Affected))
	fmt.Fprintf(&b, "name conflict: %s\n", yesNo(v.Conflict))
	if v.Reason != "" {
		fmt.Fprintf(&b, "note: %s\n", v.Reason)
	}
	info, err := g.cat.TableImplicitInfo(tx, relid)
	if err != nil {
		fmt.Fprintf(&b, "implicit columns: error: %v\n", err)
		return b.String()
	}
	fmt.Fprintf(&b, "has implicit time: %s\n", yesNo(info.HasImplicitTime))
	for _, c := range info.Columns {
		fmt.Fprintf(&b, "  %s attnum=%d type=%s visible=%s\n", c.Name, c.AttNum, types.TypeName(c.TypeID), yesNo(c.Visible))
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
