package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	sp "github.com/xwb1989/sqlparser"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/compat"
	"github.com/teamlint/pg-implicit/ddl"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/projection"
	"github.com/teamlint/pg-implicit/relcache"
	"github.com/teamlint/pg-implicit/tuple"
)

// Executor runs SQL statements against an engine with implicit column
// support wired in.
type Executor struct {
	eng    *engine.Engine
	cat    *catalog.Catalog
	cache  *relcache.Manager
	guard  *compat.Guard
	ddl    *ddl.Handler
	aug    *tuple.Augmenter
	filter *projection.Filter
}

// Option executor option.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrictConflicts makes a declared column named time block ADD IMPLICIT
// TIME.
func WithStrictConflicts(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// New wires the implicit column components around eng. store holds the
// pg_implicit_columns rows.
func New(eng *engine.Engine, store catalog.Store, opts ...Option) (*Executor, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cat, err := catalog.New(eng, store)
	if err != nil {
		return nil, err
	}
	cache := relcache.New(eng, cat)
	guard := compat.New(eng, cat, compat.WithStrictConflicts(o.strict))
	return &Executor{
		eng:    eng,
		cat:    cat,
		cache:  cache,
		guard:  guard,
		ddl:    ddl.New(eng, cat, guard),
		aug:    tuple.NewAugmenter(cache),
		filter: projection.New(cat),
	}, nil
}

// Engine returns the host engine.
func (e *Executor) Engine() *engine.Engine { return e.eng }

// Catalog returns the implicit column catalog.
func (e *Executor) Catalog() *catalog.Catalog { return e.cat }

// Relcache returns the layout cache.
func (e *Executor) Relcache() *relcache.Manager { return e.cache }

// Guard returns the compatibility guard.
func (e *Executor) Guard() *compat.Guard { return e.guard }

// DDL returns the DDL handler.
func (e *Executor) DDL() *ddl.Handler { return e.ddl }

// NewSession opens a session in autocommit mode.
func (e *Executor) NewSession() *Session {
	return &Session{ex: e}
}

// Session executes statements one at a time. It is not safe for
// concurrent use.
type Session struct {
	ex *Executor
	tx *engine.Txn
	// failed 显式事务中语句出错, 直到 ROLLBACK 前拒绝其他语句
	failed bool
}

// InTransaction reports whether an explicit transaction block is open.
func (s *Session) InTransaction() bool {
	return s.tx != nil || s.failed
}

// Close rolls back an open transaction block.
func (s *Session) Close() error {
	s.failed = false
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return s.ex.eng.Rollback(tx)
}

// ExecScript runs every statement of script, stopping at the first error.
func (s *Session) ExecScript(ctx context.Context, script string) ([]*Result, error) {
	var out []*Result
	for _, stmt := range SplitStatements(script) {
		res, err := s.Exec(ctx, stmt)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Exec runs one statement. Outside a transaction block the statement runs
// in its own transaction.
func (s *Session) Exec(ctx context.Context, sql string) (*Result, error) {
	sql = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";"))
	if sql == "" {
		return &Result{Tag: "EMPTY"}, nil
	}
	log := logrus.WithField("sql", sql)
	if ctl, ok := txnControl(sql); ok {
		return s.control(ctx, ctl)
	}
	if s.failed {
		return nil, pgerror.UserError(pgerror.CodeInFailedTransaction,
			"current transaction is aborted, commands ignored until end of transaction block",
			"an earlier statement of the transaction failed", "Issue ROLLBACK.")
	}

	tx := s.tx
	autocommit := tx == nil
	if autocommit {
		tx = s.ex.eng.Begin(ctx)
	}
	res, err := s.ex.execute(tx, sql)
	if err != nil {
		log.WithError(err).Errorln("statement failed")
		if rbErr := s.ex.eng.Rollback(tx); rbErr != nil {
			log.WithError(rbErr).Errorln("rollback")
		}
		if !autocommit {
			s.tx = nil
			s.failed = true
		}
		return nil, err
	}
	if autocommit {
		if err := s.ex.eng.Commit(tx); err != nil {
			log.WithError(err).Errorln("commit failed")
			return nil, err
		}
	}
	log.WithField("tag", res.Tag).Debugln("statement done")
	return res, nil
}

type txnCtl int

const (
	ctlBegin txnCtl = iota + 1
	ctlCommit
	ctlRollback
)

// txnControl recognizes transaction control statements.
func txnControl(sql string) (txnCtl, bool) {
	if m := reEnd.FindStringSubmatch(sql); m != nil {
		if strings.EqualFold(m[1], "end") {
			return ctlCommit, true
		}
		return ctlRollback, true
	}
	lower := strings.ToLower(sql)
	if !strings.HasPrefix(lower, "begin") && !strings.HasPrefix(lower, "start") &&
		!strings.HasPrefix(lower, "commit") && !strings.HasPrefix(lower, "rollback") {
		return 0, false
	}
	stmt, err := sp.Parse(sql)
	if err != nil {
		return 0, false
	}
	switch stmt.(type) {
	case *sp.Begin:
		return ctlBegin, true
	case *sp.Commit:
		return ctlCommit, true
	case *sp.Rollback:
		return ctlRollback, true
	}
	return 0, false
}

func (s *Session) control(ctx context.Context, ctl txnCtl) (*Result, error) {
	switch ctl {
	case ctlBegin:
		if s.InTransaction() {
			return &Result{Tag: "BEGIN"}, pgerror.Report(pgerror.Warning(pgerror.CodeActiveTransaction,
			"there is already a transaction in progress", "BEGIN inside a transaction block"))
		}
		s.tx = s.ex.eng.Begin(ctx)
		return &Result{Tag: "BEGIN"}, nil
	case ctlCommit:
		if s.failed {
			s.failed = false
			return &Result{Tag: "ROLLBACK"}, nil
		}
		if s.tx == nil {
			return &Result{Tag: "COMMIT"}, pgerror.Report(pgerror.Warning(pgerror.CodeNoActiveTransaction,
			"there is no transaction in progress", "COMMIT outside a transaction block"))
		}
		tx := s.tx
		s.tx = nil
		if err := s.ex.eng.Commit(tx); err != nil {
			return nil, err
		}
		return &Result{Tag: "COMMIT"}, nil
	}
	if !s.InTransaction() {
		return &Result{Tag: "ROLLBACK"}, pgerror.Report(pgerror.Warning(pgerror.CodeNoActiveTransaction,
			"there is no transaction in progress", "ROLLBACK outside a transaction block"))
	}
	if err := s.Close(); err != nil {
		return nil, err
	}
	return &Result{Tag: "ROLLBACK"}, nil
}

// execute dispatches a statement other than transaction control.
func (e *Executor) execute(tx *engine.Txn, sql string) (*Result, error) {
	if res, ok, err := e.execDDL(tx, sql); ok {
		return res, err
	}
	stmt, err := sp.Parse(quoteIdents(sql))
	if err != nil {
		return nil, pgerror.SyntaxError(err.Error(), -1)
	}
	switch st := stmt.(type) {
	case *sp.Select:
		return e.execSelect(tx, st)
	case *sp.Insert:
		return e.execInsert(tx, st)
	case *sp.Update:
		return e.execUpdate(tx, st)
	case *sp.Delete:
		return e.execDelete(tx, st)
	}
	return nil, unsupported(fmt.Sprintf("statement %T", stmt))
}
