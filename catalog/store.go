package catalog

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/types"
)

// Store gives access to the rows of pg_implicit_columns. Writes belong to
// tx: other transactions see them after tx commits, never if it rolls back.
// A nil tx reads committed rows and writes through.
type Store interface {
	// Lookup point lookup on the unique index.
	Lookup(tx *engine.Txn, key Key) (Descriptor, bool, error)
	// Scan returns the rows of one table ordered by name.
	Scan(tx *engine.Txn, relid types.Oid) ([]Descriptor, error)
	// ScanAll returns every row ordered by (table, name).
	ScanAll(tx *engine.Txn) ([]Descriptor, error)
	// Insert adds d, failing with ErrDuplicateDescriptor on a key collision.
	Insert(tx *engine.Txn, d Descriptor) error
	// Delete removes the row with key and reports how many rows went away.
	Delete(tx *engine.Txn, key Key) (int, error)
	// DeleteTable removes every row of relid.
	DeleteTable(tx *engine.Txn, relid types.Oid) (int, error)
}

const btreeDegree = 16

// MemStore keeps pg_implicit_columns in an ordered in-memory index. The
// tree holds committed rows only; a transaction's own inserts and deletes
// stay in its pending set until commit.
type MemStore struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[Descriptor]
	pending map[uuid.UUID]*pendingRows
}

// pendingRows uncommitted changes of one transaction.
type pendingRows struct {
	put map[Key]Descriptor
	del map[Key]struct{}
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		tree: btree.NewG[Descriptor](btreeDegree, func(a, b Descriptor) bool {
			return a.Key().Less(b.Key())
		}),
		pending: make(map[uuid.UUID]*pendingRows),
	}
}

// rowsOf returns the pending set of tx, nil if it has none. Caller holds mu.
func (s *MemStore) rowsOf(tx *engine.Txn) *pendingRows {
	if tx == nil {
		return nil
	}
	return s.pending[tx.ID]
}

// writable returns the pending set of tx, creating it on first write.
// Caller holds mu for writing.
func (s *MemStore) writable(tx *engine.Txn) *pendingRows {
	if p, ok := s.pending[tx.ID]; ok {
		return p
	}
	p := &pendingRows{put: make(map[Key]Descriptor), del: make(map[Key]struct{})}
	s.pending[tx.ID] = p
	id := tx.ID
	tx.OnCommit(func() error {
		s.publish(tx, id)
		return nil
	})
	tx.OnAbort(func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	})
	return p
}

// publish moves the pending rows of id into the tree. A later commit hook
// failing rolls tx back, so the move registers its own undo.
func (s *MemStore) publish(tx *engine.Txn, id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	var removed, added []Descriptor
	for key := range p.del {
		if d, ok := s.tree.Delete(Descriptor{TableID: key.TableID, Name: key.Name}); ok {
			removed = append(removed, d)
		}
	}
	for _, d := range p.put {
		s.tree.ReplaceOrInsert(d)
		added = append(added, d)
	}
	tx.RegisterUndo(func() {
		s.mu.Lock()
		for _, d := range added {
			s.tree.Delete(d)
		}
		for _, d := range removed {
			s.tree.ReplaceOrInsert(d)
		}
		s.mu.Unlock()
	})
}

// lookup resolves key as tx sees it. Caller holds mu.
func (s *MemStore) lookup(tx *engine.Txn, key Key) (Descriptor, bool) {
	if p := s.rowsOf(tx); p != nil {
		if d, ok := p.put[key]; ok {
			return d, true
		}
		if _, ok := p.del[key]; ok {
			return Descriptor{}, false
		}
	}
	return s.tree.Get(Descriptor{TableID: key.TableID, Name: key.Name})
}

// Lookup implements Store.
func (s *MemStore) Lookup(tx *engine.Txn, key Key) (Descriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.lookup(tx, key)
	return d, ok, nil
}

// visible merges the committed rows from ascend with the pending rows of tx
// that match.
func (s *MemStore) visible(tx *engine.Txn, ascend func(btree.ItemIteratorG[Descriptor]), match func(Key) bool) []Descriptor {
	p := s.rowsOf(tx)
	var out []Descriptor
	ascend(func(d Descriptor) bool {
		if p != nil {
			if _, ok := p.del[d.Key()]; ok {
				return true
			}
			if _, ok := p.put[d.Key()]; ok {
				return true
			}
		}
		out = append(out, d)
		return true
	})
	if p == nil {
		return out
	}
	for key, d := range p.put {
		if match(key) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Scan implements Store.
func (s *MemStore) Scan(tx *engine.Txn, relid types.Oid) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible(tx, func(fn btree.ItemIteratorG[Descriptor]) {
		s.tree.AscendRange(Descriptor{TableID: relid}, Descriptor{TableID: relid + 1}, fn)
	}, func(k Key) bool { return k.TableID == relid }), nil
}

// ScanAll implements Store.
func (s *MemStore) ScanAll(tx *engine.Txn) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible(tx, s.tree.Ascend, func(Key) bool { return true }), nil
}

// Insert implements Store.
func (s *MemStore) Insert(tx *engine.Txn, d Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := d.Key()
	if _, ok := s.lookup(tx, key); ok {
		return ErrDuplicateDescriptor
	}
	// 其他事务未提交的同键插入
	for id, p := range s.pending {
		if tx != nil && id == tx.ID {
			continue
		}
		if _, ok := p.put[key]; ok {
			return ErrDuplicateDescriptor
		}
	}
	if tx == nil {
		s.tree.ReplaceOrInsert(d)
		return nil
	}
	s.writable(tx).put[key] = d
	return nil
}

// Delete implements Store.
func (s *MemStore) Delete(tx *engine.Txn, key Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(tx, key); !ok {
		return 0, nil
	}
	if tx == nil {
		s.tree.Delete(Descriptor{TableID: key.TableID, Name: key.Name})
		return 1, nil
	}
	p := s.writable(tx)
	delete(p.put, key)
	if s.tree.Has(Descriptor{TableID: key.TableID, Name: key.Name}) {
		p.del[key] = struct{}{}
	}
	return 1, nil
}

// DeleteTable implements Store.
func (s *MemStore) DeleteTable(tx *engine.Txn, relid types.Oid) (int, error) {
	rows, _ := s.Scan(tx, relid)
	n := 0
	for _, d := range rows {
		deleted, err := s.Delete(tx, d.Key())
		if err != nil {
			return n, err
		}
		n += deleted
	}
	return n, nil
}
