package relcache

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/catalog"
	"github.com/teamlint/pg-implicit/engine"
	"github.com/teamlint/pg-implicit/event"
	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/tuple"
	"github.com/teamlint/pg-implicit/types"
)

// Manager caches relation layouts for the whole process. Entries are built
// lazily and dropped on every invalidation signal.
type Manager struct {
	eng *engine.Engine
	cat *catalog.Catalog

	mu      sync.RWMutex
	entries map[types.Oid]*tuple.Layout
	// gen 每次失效加一, 构建期间发生失效的条目不入缓存
	gen uint64
}

var _ tuple.LayoutSource = (*Manager)(nil)

// New creates a manager listening to eng's invalidation signals.
func New(eng *engine.Engine, cat *catalog.Catalog) *Manager {
	m := &Manager{
		eng:     eng,
		cat:     cat,
		entries: make(map[types.Oid]*tuple.Layout),
	}
	eng.OnInvalidate(m.onInvalidate)
	return m
}

func (m *Manager) onInvalidate(relid types.Oid) {
	if relid == types.InvalidOid {
		m.InvalidateAll()
		return
	}
	m.Invalidate(relid)
}

// Get returns the layout of relid, building it on a miss.
func (m *Manager) Get(tx *engine.Txn, relid types.Oid) (*tuple.Layout, error) {
	// 本事务修改过的表按本事务的视图构建, 不读也不写共享缓存
	if tx.Invalidates(relid) {
		return m.build(tx, relid)
	}
	m.mu.RLock()
	l, ok := m.entries[relid]
	gen := m.gen
	m.mu.RUnlock()
	if ok {
		return l, nil
	}
	l, err := m.build(tx, relid)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.gen == gen {
		m.entries[relid] = l
	}
	m.mu.Unlock()
	return l, nil
}

// Layout implements tuple.LayoutSource.
func (m *Manager) Layout(tx *engine.Txn, relid types.Oid) (*tuple.Layout, error) {
	return m.Get(tx, relid)
}

func (m *Manager) build(tx *engine.Txn, relid types.Oid) (*tuple.Layout, error) {
	rel, ok := m.eng.RelationByOid(relid)
	if !ok {
		return nil, pgerror.UndefinedTableError(fmt.Sprintf("oid %s", relid))
	}
	info, err := m.cat.TableImplicitInfo(tx, relid)
	if err != nil {
		return nil, err
	}
	l := &tuple.Layout{
		Relid:    relid,
		Name:     rel.Name,
		Declared: make([]engine.Attribute, len(rel.Attrs)),
	}
	copy(l.Declared, rel.Attrs)
	for _, c := range info.Columns {
		if int(c.AttNum) <= len(rel.Attrs) {
			return nil, pgerror.InternalError("relcache.Get",
				fmt.Sprintf("implicit column %q of %q has attribute number %d inside the declared range", c.Name, rel.Name, c.AttNum))
		}
		l.Implicit = append(l.Implicit, tuple.ImplicitSlot{
			Name:    c.Name,
			AttNum:  c.AttNum,
			TypeID:  c.TypeID,
			Visible: c.Visible,
			Epoch:   c.Epoch,
		})
	}
	logrus.WithField("rel_id", relid).
		WithField("natts", l.NumAttrs()).
		Debugln("relcache entry built")
	return l, nil
}

// Invalidate drops the cached layout of relid.
func (m *Manager) Invalidate(relid types.Oid) {
	m.mu.Lock()
	delete(m.entries, relid)
	m.gen++
	m.mu.Unlock()
}

// InvalidateAll drops every cached layout.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.entries = make(map[types.Oid]*tuple.Layout)
	m.gen++
	m.mu.Unlock()
}

// Len returns the number of cached layouts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Subscribe applies invalidation events published by other processes.
// Events sent by this process are ignored.
func (m *Manager) Subscribe(sub event.Subscriber, topicPrefix string) (event.Subscription, error) {
	subject := event.Event{}.GetSubject(topicPrefix)
	return sub.Subscribe(subject, func(evt *event.Event) {
		if evt.Origin == m.eng.NodeID() {
			return
		}
		logrus.WithField("origin", evt.Origin).
			WithField("rel_id", evt.RelID).
			WithField("reason", evt.Reason).
			Debugln("remote relcache invalidation")
		if evt.All {
			m.InvalidateAll()
			return
		}
		m.Invalidate(evt.RelID)
	})
}
