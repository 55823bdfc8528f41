package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teamlint/pg-implicit/types"
)

// TxnStatus transaction state.
type TxnStatus int

const (
	TxnActive TxnStatus = iota
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return "unknown"
}

// Txn is a unit of work. All catalog rows and heap writes made through a Txn
// become permanent at Commit or are undone at Rollback, together.
//
// A Txn is used by one goroutine at a time.
type Txn struct {
	ID     uuid.UUID
	ctx    context.Context
	start  time.Time
	status TxnStatus

	undo     []func()
	onCommit []func() error
	onAbort  []func()

	// 待发送的缓存失效信号
	inval    []invalidation
	invalSet map[types.Oid]struct{}
}

// invalidation relid 为 InvalidOid 时表示全部失效
type invalidation struct {
	relid  types.Oid
	reason string
}

func newTxn(ctx context.Context, start time.Time) *Txn {
	return &Txn{
		ID:       uuid.New(),
		ctx:      ctx,
		start:    start,
		status:   TxnActive,
		invalSet: make(map[types.Oid]struct{}),
	}
}

// Context returns the context the transaction was started with.
func (tx *Txn) Context() context.Context {
	return tx.ctx
}

// StartTimestamp is the transaction-consistent "now": every call within one
// transaction returns the same instant.
func (tx *Txn) StartTimestamp() time.Time {
	return tx.start
}

// Status returns the transaction state.
func (tx *Txn) Status() TxnStatus {
	return tx.status
}

// Active reports whether the transaction can still do work.
func (tx *Txn) Active() bool {
	return tx.status == TxnActive
}

// RegisterUndo pushes fn onto the undo stack; Rollback runs the stack in
// reverse order.
func (tx *Txn) RegisterUndo(fn func()) {
	tx.undo = append(tx.undo, fn)
}

// OnCommit registers fn to run before the transaction becomes committed. An
// error from fn rolls the transaction back instead.
func (tx *Txn) OnCommit(fn func() error) {
	tx.onCommit = append(tx.onCommit, fn)
}

// OnAbort registers fn to run after the undo stack on rollback.
func (tx *Txn) OnAbort(fn func()) {
	tx.onAbort = append(tx.onAbort, fn)
}

// Invalidates reports whether tx has queued an invalidation covering relid,
// i.e. it holds uncommitted changes to the relation's descriptors.
func (tx *Txn) Invalidates(relid types.Oid) bool {
	if tx == nil {
		return false
	}
	if _, ok := tx.invalSet[types.InvalidOid]; ok {
		return true
	}
	_, ok := tx.invalSet[relid]
	return ok
}

func (tx *Txn) addInvalidation(inv invalidation) {
	if _, ok := tx.invalSet[inv.relid]; ok {
		return
	}
	tx.invalSet[inv.relid] = struct{}{}
	tx.inval = append(tx.inval, inv)
}
