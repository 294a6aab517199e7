package lockwaiter

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/util/deadlock"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

func conflicts(a, b Mode) bool {
	return a == Exclusive || b == Exclusive
}

// ErrLockTimeout is returned when a lock is not granted within the requested bound.
type ErrLockTimeout struct {
	Txn     uint64
	Key     string
	Mode    Mode
	Timeout time.Duration
}

func (e *ErrLockTimeout) Error() string {
	return fmt.Sprintf("txn %d timed out after %v waiting for %s lock on %q", e.Txn, e.Timeout, e.Mode, e.Key)
}

type Waiter struct {
	txn     uint64
	key     string
	keyHash uint64
	mode    Mode
	upgrade bool
	ch      chan error
	// done is set under the manager lock once the waiter was granted or chosen as a
	// deadlock victim; the outcome is then already in ch.
	done bool
}

func (w *Waiter) wait(timeout time.Duration) (result error, timedOut bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result = <-w.ch:
		return result, false
	case <-timer.C:
		return nil, true
	}
}

type lockEntry struct {
	holders map[uint64]Mode
	waiters []*Waiter
}

// Manager is a lock table of shared/exclusive locks keyed by string. Waiters queue in FIFO
// order except lock upgrades, which go first. Every wait is registered in a wait-for graph
// so that a request closing a cycle fails immediately instead of timing out.
type Manager struct {
	mu       sync.Mutex
	locks    map[string]*lockEntry
	held     map[uint64]map[string]struct{}
	detector *deadlock.Detector
}

func NewManager() *Manager {
	return &Manager{
		locks:    map[string]*lockEntry{},
		held:     map[uint64]map[string]struct{}{},
		detector: deadlock.NewDetector(),
	}
}

func hashKey(key string) uint64 {
	return farm.Fingerprint64([]byte(key))
}

// Acquire blocks until txn holds key in at least the requested mode. It fails with a
// *deadlock.ErrDeadlock if waiting would deadlock, and with an *ErrLockTimeout if the lock
// is not granted within timeout.
func (m *Manager) Acquire(txn uint64, key string, mode Mode, timeout time.Duration) error {
	m.mu.Lock()
	e := m.locks[key]
	if e == nil {
		e = &lockEntry{holders: map[uint64]Mode{}}
		m.locks[key] = e
	}
	cur, holds := e.holders[txn]
	if holds && (cur == Exclusive || mode == Shared) {
		m.mu.Unlock()
		return nil
	}
	w := &Waiter{
		txn:     txn,
		key:     key,
		keyHash: hashKey(key),
		mode:    mode,
		upgrade: holds,
		ch:      make(chan error, 1),
	}
	if (w.upgrade || len(e.waiters) == 0) && grantable(e, w) {
		m.grant(e, w)
		m.mu.Unlock()
		return nil
	}
	for _, blocker := range blockers(e, w, len(e.waiters)) {
		if err := m.detector.Detect(txn, blocker, w.keyHash); err != nil {
			m.detector.CleanUpWaitFor(txn, w.keyHash)
			m.dropIfUnused(key, e)
			m.mu.Unlock()
			log.Infof("txn %d chosen as deadlock victim on key %q, waiting for txn %d", txn, key, blocker)
			return err
		}
	}
	if w.upgrade {
		pos := 0
		for pos < len(e.waiters) && e.waiters[pos].upgrade {
			pos++
		}
		e.waiters = append(e.waiters, nil)
		copy(e.waiters[pos+1:], e.waiters[pos:])
		e.waiters[pos] = w
	} else {
		e.waiters = append(e.waiters, w)
	}
	m.mu.Unlock()

	result, timedOut := w.wait(timeout)
	if !timedOut {
		return result
	}

	m.mu.Lock()
	if w.done {
		m.mu.Unlock()
		return <-w.ch
	}
	w.done = true
	removeWaiter(e, w)
	m.detector.CleanUpWaitFor(txn, w.keyHash)
	m.wakeUp(key, e)
	m.mu.Unlock()
	log.Debugf("txn %d lock wait on key %q timed out after %v", txn, key, timeout)
	return &ErrLockTimeout{Txn: txn, Key: key, Mode: mode, Timeout: timeout}
}

// grantable must be called under the manager lock.
func grantable(e *lockEntry, w *Waiter) bool {
	for holder, mode := range e.holders {
		if holder != w.txn && conflicts(mode, w.mode) {
			return false
		}
	}
	return true
}

// blockers returns the transactions w waits for: conflicting holders and conflicting
// waiters among the first ahead queued entries.
func blockers(e *lockEntry, w *Waiter, ahead int) []uint64 {
	var res []uint64
	for holder, mode := range e.holders {
		if holder != w.txn && conflicts(mode, w.mode) {
			res = append(res, holder)
		}
	}
	if w.upgrade {
		return res
	}
	for _, other := range e.waiters[:ahead] {
		if other.txn != w.txn && conflicts(other.mode, w.mode) {
			res = append(res, other.txn)
		}
	}
	return res
}

func (m *Manager) grant(e *lockEntry, w *Waiter) {
	e.holders[w.txn] = w.mode
	keys := m.held[w.txn]
	if keys == nil {
		keys = map[string]struct{}{}
		m.held[w.txn] = keys
	}
	keys[w.key] = struct{}{}
}

func removeWaiter(e *lockEntry, w *Waiter) {
	for i, waiter := range e.waiters {
		if waiter == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

// wakeUp grants queued requests in order while possible, then refreshes the wait-for edges
// of the ones still waiting. It must be called under the manager lock.
func (m *Manager) wakeUp(key string, e *lockEntry) {
	for {
		m.grantReady(e)
		if !m.refreshWaitFor(key, e) {
			break
		}
	}
	m.dropIfUnused(key, e)
}

func (m *Manager) grantReady(e *lockEntry) {
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		if !grantable(e, w) {
			break
		}
		e.waiters = e.waiters[1:]
		m.grant(e, w)
		w.done = true
		m.detector.CleanUpWaitFor(w.txn, w.keyHash)
		w.ch <- nil
	}
}

// refreshWaitFor re-registers the edges of every queued waiter against the current holders
// and queue. It reports whether a waiter was removed as a deadlock victim.
func (m *Manager) refreshWaitFor(key string, e *lockEntry) bool {
	removed := false
	for i := 0; i < len(e.waiters); i++ {
		w := e.waiters[i]
		m.detector.CleanUpWaitFor(w.txn, w.keyHash)
		for _, blocker := range blockers(e, w, i) {
			if err := m.detector.Detect(w.txn, blocker, w.keyHash); err != nil {
				m.detector.CleanUpWaitFor(w.txn, w.keyHash)
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				i--
				w.done = true
				w.ch <- err
				removed = true
				log.Infof("txn %d chosen as deadlock victim on key %q, waiting for txn %d", w.txn, key, blocker)
				break
			}
		}
	}
	return removed
}

func (m *Manager) dropIfUnused(key string, e *lockEntry) {
	if len(e.holders) == 0 && len(e.waiters) == 0 {
		delete(m.locks, key)
	}
}

// Release releases one lock held by txn.
func (m *Manager) Release(txn uint64, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(txn, key)
	if keys := m.held[txn]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.held, txn)
		}
	}
}

// ReleaseAll releases every lock held by txn and returns how many were released.
func (m *Manager) ReleaseAll(txn uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.held[txn]
	delete(m.held, txn)
	for key := range keys {
		m.release(txn, key)
	}
	m.detector.CleanUp(txn)
	return len(keys)
}

func (m *Manager) release(txn uint64, key string) {
	e := m.locks[key]
	if e == nil {
		return
	}
	if _, ok := e.holders[txn]; !ok {
		return
	}
	delete(e.holders, txn)
	m.wakeUp(key, e)
}

// HeldMode reports the mode txn holds key in.
func (m *Manager) HeldMode(txn uint64, key string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.locks[key]
	if e == nil {
		return Shared, false
	}
	mode, ok := e.holders[txn]
	return mode, ok
}

// NumHeld is the number of locks held by txn.
func (m *Manager) NumHeld(txn uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held[txn])
}

// NumWaiting is the number of queued requests on key.
func (m *Manager) NumWaiting(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.locks[key]; e != nil {
		return len(e.waiters)
	}
	return 0
}
