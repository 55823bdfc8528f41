package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/event"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// InvalidationFunc receives relcache invalidation signals. relid is
// InvalidOid when every cached relation must be dropped.
type InvalidationFunc func(relid types.Oid)

// Engine is the row store the implicit column subsystem plugs into: it owns
// relation metadata, heap storage, transactions and table locks.
type Engine struct {
	nodeID string
	clock  Clock
	locks  *LockManager

	mu      sync.RWMutex
	rels    map[types.Oid]*Relation
	names   map[string]types.Oid
	heaps   map[types.Oid]*heap
	nextOid types.Oid

	cbMu      sync.RWMutex
	callbacks []InvalidationFunc

	publisher event.Publisher
	subject   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of transaction start timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLockTimeout bounds lock waits, 0 waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.locks = NewLockManager(d) }
}

// WithNodeID names this process in published invalidation events.
func WithNodeID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.nodeID = id
		}
	}
}

// WithPublisher publishes committed invalidations to other processes.
func WithPublisher(pub event.Publisher, topicPrefix string) Option {
	return func(e *Engine) {
		e.publisher = pub
		e.subject = event.Event{}.GetSubject(topicPrefix)
	}
}

// New creates an engine with the core system catalogs bootstrapped.
func New(opts ...Option) *Engine {
	e := &Engine{
		nodeID:  uuid.New().String(),
		clock:   SystemClock,
		locks:   NewLockManager(0),
		rels:    make(map[types.Oid]*Relation),
		names:   make(map[string]types.Oid),
		heaps:   make(map[types.Oid]*heap),
		nextOid: types.FirstNormalObjectID,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, sys := range systemRelations {
		if _, err := e.BootstrapRelation(sys.oid, sys.spec); err != nil {
			panic(err)
		}
	}
	return e
}

// NewOid allocates an object id from the same counter as relations.
func (e *Engine) NewOid() types.Oid {
	e.mu.Lock()
	defer e.mu.Unlock()
	oid := e.nextOid
	e.nextOid++
	return oid
}

// NodeID identifies this engine instance.
func (e *Engine) NodeID() string {
	return e.nodeID
}

// Begin starts a transaction whose start timestamp is read from the clock.
func (e *Engine) Begin(ctx context.Context) *Txn {
	tx := newTxn(ctx, e.clock.Now().UTC())
	logrus.WithField("txn", tx.ID).Debugln("begin")
	return tx
}

// Commit makes the transaction's work permanent, sends its invalidation
// signals and releases its locks.
func (e *Engine) Commit(tx *Txn) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	for _, fn := range tx.onCommit {
		if err := fn(); err != nil {
			if rbErr := e.Rollback(tx); rbErr != nil {
				logrus.WithError(rbErr).WithField("txn", tx.ID).Errorln("rollback after failed commit")
			}
			return pgerror.Wrap(err, "Commit", "while committing transaction %s", tx.ID)
		}
	}
	tx.status = TxnCommitted
	e.sendInvalidations(tx, true)
	e.locks.ReleaseAll(tx.ID)
	logrus.WithField("txn", tx.ID).Debugln("commit")
	return nil
}

// Rollback undoes the transaction's work in reverse order.
func (e *Engine) Rollback(tx *Txn) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	for _, fn := range tx.onAbort {
		fn()
	}
	tx.status = TxnAborted
	e.sendInvalidations(tx, false)
	e.locks.ReleaseAll(tx.ID)
	logrus.WithField("txn", tx.ID).Debugln("rollback")
	return nil
}

func checkActive(tx *Txn) error {
	if tx == nil {
		return pgerror.UserError(pgerror.CodeNoActiveTransaction,
			"there is no transaction in progress", "nil transaction", "Start a transaction first.")
	}
	if !tx.Active() {
		return pgerror.UserError(pgerror.CodeInvalidTransaction,
			"transaction is not active",
			fmt.Sprintf("transaction %s is %s", tx.ID, tx.status),
			"Start a new transaction.")
	}
	return nil
}

// OnInvalidate registers fn for relcache invalidation signals.
func (e *Engine) OnInvalidate(fn InvalidationFunc) {
	e.cbMu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.cbMu.Unlock()
}

func (e *Engine) notify(relid types.Oid) {
	e.cbMu.RLock()
	fns := make([]InvalidationFunc, len(e.callbacks))
	copy(fns, e.callbacks)
	e.cbMu.RUnlock()
	for _, fn := range fns {
		fn(relid)
	}
}

// CacheInvalidateRelcache signals that the cached layout of relid is stale.
// Local listeners hear it at once and again when the transaction ends;
// other processes hear it after commit.
func (e *Engine) CacheInvalidateRelcache(tx *Txn, relid types.Oid, reason string) {
	e.notify(relid)
	if tx != nil {
		tx.addInvalidation(invalidation{relid: relid, reason: reason})
	}
}

// CacheInvalidateAll signals that every cached layout is stale.
func (e *Engine) CacheInvalidateAll(tx *Txn, reason string) {
	e.CacheInvalidateRelcache(tx, types.InvalidOid, reason)
}

func (e *Engine) sendInvalidations(tx *Txn, committed bool) {
	for _, inv := range tx.inval {
		e.notify(inv.relid)
		if !committed || e.publisher == nil {
			continue
		}
		evt := &event.Event{
			ID:         uuid.New().String(),
			Origin:     e.nodeID,
			RelID:      inv.relid,
			All:        inv.relid == types.InvalidOid,
			Reason:     inv.reason,
			CommitTime: e.clock.Now().UTC(),
		}
		if err := e.publisher.Publish(e.subject, evt); err != nil {
			logrus.WithError(err).WithField("rel_id", inv.relid).Warnln("publish relcache invalidation")
		}
	}
	tx.inval = nil
}

// LockRelation acquires mode on relid for the rest of the transaction.
func (e *Engine) LockRelation(tx *Txn, relid types.Oid, mode LockMode) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	name := relid.String()
	if rel, ok := e.RelationByOid(relid); ok {
		name = rel.Name
	}
	return e.locks.Acquire(tx.ctx, tx.ID, relid, mode, name)
}

// HoldsLock reports whether tx holds at least mode on relid.
func (e *Engine) HoldsLock(tx *Txn, relid types.Oid, mode LockMode) bool {
	return e.locks.Holds(tx.ID, relid, mode)
}

// OpenRelation locks relid in mode and returns its current snapshot.
func (e *Engine) OpenRelation(tx *Txn, relid types.Oid, mode LockMode) (*Relation, error) {
	if _, ok := e.RelationByOid(relid); !ok {
		return nil, pgerror.UndefinedTableError(fmt.Sprintf("oid %s", relid))
	}
	if err := e.LockRelation(tx, relid, mode); err != nil {
		return nil, err
	}
	// 等锁期间关系可能已被删除
	rel, ok := e.RelationByOid(relid)
	if !ok {
		return nil, pgerror.UndefinedTableError(fmt.Sprintf("oid %s", relid))
	}
	return rel, nil
}

// OpenRelationByName resolves name, then behaves like OpenRelation.
func (e *Engine) OpenRelationByName(tx *Txn, name string, mode LockMode) (*Relation, error) {
	rel, ok := e.RelationByName(name)
	if !ok {
		return nil, pgerror.UndefinedTableError(name)
	}
	if err := e.LockRelation(tx, rel.Oid, mode); err != nil {
		return nil, err
	}
	cur, ok := e.RelationByOid(rel.Oid)
	if !ok || cur.Name != name {
		return nil, pgerror.UndefinedTableError(name)
	}
	return cur, nil
}

// RelationByOid returns the current snapshot without locking.
func (e *Engine) RelationByOid(relid types.Oid) (*Relation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rel, ok := e.rels[relid]
	return rel, ok
}

// RelationByName returns the current snapshot without locking.
func (e *Engine) RelationByName(name string) (*Relation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	oid, ok := e.names[name]
	if !ok {
		return nil, false
	}
	return e.rels[oid], true
}

// Relations lists every relation ordered by oid.
func (e *Engine) Relations() []*Relation {
	e.mu.RLock()
	out := make([]*Relation, 0, len(e.rels))
	for _, rel := range e.rels {
		out = append(out, rel)
	}
	e.mu.RUnlock()
	sortRelations(out)
	return out
}

// Partitions lists the partitions attached to parent.
func (e *Engine) Partitions(parent types.Oid) []*Relation {
	var out []*Relation
	for _, rel := range e.Relations() {
		if rel.Parent == parent && parent.IsValid() {
			out = append(out, rel)
		}
	}
	return out
}
