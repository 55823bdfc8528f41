package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamlint/pg-implicit/pgerror"
	"github.com/teamlint/pg-implicit/types"
)

// LockMode table-level lock modes, weakest first.
type LockMode int

const (
	NoLock LockMode = iota
	AccessShareLock
	RowShareLock
	RowExclusiveLock
	ShareUpdateExclusiveLock
	ShareLock
	ShareRowExclusiveLock
	ExclusiveLock
	AccessExclusiveLock
)

var lockModeNames = [...]string{
	"NoLock",
	"AccessShareLock",
	"RowShareLock",
	"RowExclusiveLock",
	"ShareUpdateExclusiveLock",
	"ShareLock",
	"ShareRowExclusiveLock",
	"ExclusiveLock",
	"AccessExclusiveLock",
}

func (m LockMode) String() string {
	if m < 0 || int(m) >= len(lockModeNames) {
		return "InvalidLock"
	}
	return lockModeNames[m]
}

func lockBit(m LockMode) uint16 { return 1 << uint(m) }

// 锁冲突矩阵, 同 PostgreSQL 表级锁
var lockConflicts = [...]uint16{
	NoLock:          0,
	AccessShareLock: lockBit(AccessExclusiveLock),
	RowShareLock:    lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	RowExclusiveLock: lockBit(ShareLock) | lockBit(ShareRowExclusiveLock) |
		lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	ShareUpdateExclusiveLock: lockBit(ShareUpdateExclusiveLock) | lockBit(ShareLock) |
		lockBit(ShareRowExclusiveLock) | lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	ShareLock: lockBit(RowExclusiveLock) | lockBit(ShareUpdateExclusiveLock) |
		lockBit(ShareRowExclusiveLock) | lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	ShareRowExclusiveLock: lockBit(RowExclusiveLock) | lockBit(ShareUpdateExclusiveLock) |
		lockBit(ShareLock) | lockBit(ShareRowExclusiveLock) | lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	ExclusiveLock: lockBit(RowShareLock) | lockBit(RowExclusiveLock) | lockBit(ShareUpdateExclusiveLock) |
		lockBit(ShareLock) | lockBit(ShareRowExclusiveLock) | lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
	AccessExclusiveLock: lockBit(AccessShareLock) | lockBit(RowShareLock) | lockBit(RowExclusiveLock) |
		lockBit(ShareUpdateExclusiveLock) | lockBit(ShareLock) | lockBit(ShareRowExclusiveLock) |
		lockBit(ExclusiveLock) | lockBit(AccessExclusiveLock),
}

// Conflicts reports whether m and other cannot be held by two transactions at once.
func (m LockMode) Conflicts(other LockMode) bool {
	if m <= NoLock || other <= NoLock {
		return false
	}
	return lockConflicts[m]&lockBit(other) != 0
}

type relLock struct {
	granted map[uuid.UUID]uint16
	// changed 在锁释放时关闭, 唤醒等待者
	changed chan struct{}
}

// LockManager grants table-level locks held until transaction end.
type LockManager struct {
	mu      sync.Mutex
	locks   map[types.Oid]*relLock
	held    map[uuid.UUID]map[types.Oid]struct{}
	timeout time.Duration
}

// NewLockManager creates a lock manager; timeout 0 waits forever.
func NewLockManager(timeout time.Duration) *LockManager {
	return &LockManager{
		locks:   make(map[types.Oid]*relLock),
		held:    make(map[uuid.UUID]map[types.Oid]struct{}),
		timeout: timeout,
	}
}

// Acquire blocks until owner holds mode on relid, the context is done or the
// lock timeout expires.
func (m *LockManager) Acquire(ctx context.Context, owner uuid.UUID, relid types.Oid, mode LockMode, name string) error {
	if mode <= NoLock {
		return nil
	}
	var deadline <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		m.mu.Lock()
		l := m.locks[relid]
		if l == nil {
			l = &relLock{granted: make(map[uuid.UUID]uint16), changed: make(chan struct{})}
			m.locks[relid] = l
		}
		if !l.conflicts(owner, mode) {
			l.granted[owner] |= lockBit(mode)
			if m.held[owner] == nil {
				m.held[owner] = make(map[types.Oid]struct{})
			}
			m.held[owner][relid] = struct{}{}
			m.mu.Unlock()
			return nil
		}
		wait := l.changed
		m.mu.Unlock()

		logrus.WithField("rel_id", relid).
			WithField("mode", mode).
			WithField("txn", owner).
			Debugln("waiting for lock")
		select {
		case <-wait:
		case <-deadline:
			return pgerror.LockNotAvailableError(name, mode.String())
		case <-ctx.Done():
			e := pgerror.UserError(pgerror.CodeQueryCanceled,
				"canceling statement due to user request",
				ctx.Err().Error(),
				"The lock wait was interrupted.")
			e.Cause = ctx.Err()
			return e
		}
	}
}

func (l *relLock) conflicts(owner uuid.UUID, mode LockMode) bool {
	for id, mask := range l.granted {
		if id == owner {
			continue
		}
		if lockConflicts[mode]&mask != 0 {
			return true
		}
	}
	return false
}

// Holds reports whether owner holds at least mode on relid.
func (m *LockManager) Holds(owner uuid.UUID, relid types.Oid, mode LockMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[relid]
	if l == nil {
		return false
	}
	mask := l.granted[owner]
	for held := mode; held <= AccessExclusiveLock; held++ {
		if mask&lockBit(held) != 0 {
			return true
		}
	}
	return false
}

// ReleaseAll drops every lock held by owner and wakes waiters.
func (m *LockManager) ReleaseAll(owner uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for relid := range m.held[owner] {
		l := m.locks[relid]
		if l == nil {
			continue
		}
		delete(l.granted, owner)
		close(l.changed)
		if len(l.granted) == 0 {
			delete(m.locks, relid)
			continue
		}
		l.changed = make(chan struct{})
	}
	delete(m.held, owner)
}
