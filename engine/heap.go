package engine

import (
	"fmt"

	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// TID locates a tuple inside its relation's heap.
type TID uint32

// HeapTuple a stored row.
type HeapTuple struct {
	TID  TID
	Data []byte
}

// heap 关系的行存储, 删除的行槽位为 nil
type heap struct {
	slots [][]byte
}

func newHeap() *heap {
	return &heap{}
}

func (e *Engine) heapFor(relid types.Oid) (*heap, error) {
	h, ok := e.heaps[relid]
	if ok {
		return h, nil
	}
	rel, exists := e.rels[relid]
	if !exists {
		return nil, pgerror.UndefinedTableError(fmt.Sprintf("oid %s", relid))
	}
	return nil, pgerror.UserError(pgerror.CodeWrongObjectType,
		fmt.Sprintf("cannot store rows in %s %q", rel.Kind, rel.Name),
		fmt.Sprintf("%q has no storage of its own", rel.Name),
		"Write to an ordinary table or one of the partitions.")
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// HeapInsert stores data as a new tuple.
func (e *Engine) HeapInsert(tx *Txn, relid types.Oid, data []byte) (TID, error) {
	if err := checkActive(tx); err != nil {
		return 0, err
	}
	e.mu.Lock()
	h, err := e.heapFor(relid)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	tid := TID(len(h.slots))
	h.slots = append(h.slots, copyBytes(data))
	e.mu.Unlock()

	tx.RegisterUndo(func() {
		e.mu.Lock()
		h.slots[tid] = nil
		e.mu.Unlock()
	})
	return tid, nil
}

// HeapUpdate replaces the tuple at tid.
func (e *Engine) HeapUpdate(tx *Txn, relid types.Oid, tid TID, data []byte) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	e.mu.Lock()
	h, err := e.heapFor(relid)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if int(tid) >= len(h.slots) || h.slots[tid] == nil {
		e.mu.Unlock()
		return pgerror.InternalError("HeapUpdate", fmt.Sprintf("tuple %d of relation %s is not live", tid, relid))
	}
	prev := h.slots[tid]
	h.slots[tid] = copyBytes(data)
	e.mu.Unlock()

	tx.RegisterUndo(func() {
		e.mu.Lock()
		h.slots[tid] = prev
		e.mu.Unlock()
	})
	return nil
}

// HeapDelete removes the tuple at tid.
func (e *Engine) HeapDelete(tx *Txn, relid types.Oid, tid TID) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	e.mu.Lock()
	h, err := e.heapFor(relid)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if int(tid) >= len(h.slots) || h.slots[tid] == nil {
		e.mu.Unlock()
		return pgerror.InternalError("HeapDelete", fmt.Sprintf("tuple %d of relation %s is not live", tid, relid))
	}
	prev := h.slots[tid]
	h.slots[tid] = nil
	e.mu.Unlock()

	tx.RegisterUndo(func() {
		e.mu.Lock()
		h.slots[tid] = prev
		e.mu.Unlock()
	})
	return nil
}

// HeapScan returns the live tuples of relid in TID order.
func (e *Engine) HeapScan(relid types.Oid) ([]HeapTuple, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, err := e.heapFor(relid)
	if err != nil {
		return nil, err
	}
	out := make([]HeapTuple, 0, len(h.slots))
	for i, data := range h.slots {
		if data == nil {
			continue
		}
		out = append(out, HeapTuple{TID: TID(i), Data: data})
	}
	return out, nil
}

// HeapFetch returns the tuple at tid, if live.
func (e *Engine) HeapFetch(relid types.Oid, tid TID) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.heaps[relid]
	if !ok || int(tid) >= len(h.slots) || h.slots[tid] == nil {
		return nil, false
	}
	return h.slots[tid], true
}
