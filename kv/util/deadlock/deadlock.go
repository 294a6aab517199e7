package deadlock

import (
	"fmt"
	"sync"
)

// ErrDeadlock is returned when adding a wait-for edge would close a cycle.
type ErrDeadlock struct {
	Txn             uint64
	WaitForTxn      uint64
	KeyHash         uint64
	DeadlockKeyHash uint64
}

func (e *ErrDeadlock) Error() string {
	return fmt.Sprintf("deadlock: txn %d waiting for txn %d closes a cycle", e.Txn, e.WaitForTxn)
}

type waitForEntry struct {
	waitForTxn uint64
	keyHash    uint64
}

// Detector keeps the local wait-for graph. An edge txn -> waitForTxn means txn is blocked on
// a lock held (or requested first) by waitForTxn.
type Detector struct {
	mu         sync.Mutex
	waitForMap map[uint64][]waitForEntry
}

func NewDetector() *Detector {
	return &Detector{
		waitForMap: map[uint64][]waitForEntry{},
	}
}

// Detect records that txn waits for waitForTxn on keyHash, unless doing so would create a
// cycle, in which case the edge is not recorded and an ErrDeadlock is returned.
func (d *Detector) Detect(txn, waitForTxn, keyHash uint64) *ErrDeadlock {
	d.mu.Lock()
	defer d.mu.Unlock()
	if txn == waitForTxn {
		return nil
	}
	if deadlockKeyHash, ok := d.reachable(waitForTxn, txn); ok {
		return &ErrDeadlock{
			Txn:             txn,
			WaitForTxn:      waitForTxn,
			KeyHash:         keyHash,
			DeadlockKeyHash: deadlockKeyHash,
		}
	}
	for _, e := range d.waitForMap[txn] {
		if e.waitForTxn == waitForTxn && e.keyHash == keyHash {
			return nil
		}
	}
	d.waitForMap[txn] = append(d.waitForMap[txn], waitForEntry{waitForTxn: waitForTxn, keyHash: keyHash})
	return nil
}

// reachable reports whether to can be reached from from, and the key hash of the last edge
// on the path into to.
func (d *Detector) reachable(from, to uint64) (uint64, bool) {
	visited := map[uint64]struct{}{from: {}}
	stack := []uint64{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range d.waitForMap[cur] {
			if e.waitForTxn == to {
				return e.keyHash, true
			}
			if _, ok := visited[e.waitForTxn]; !ok {
				visited[e.waitForTxn] = struct{}{}
				stack = append(stack, e.waitForTxn)
			}
		}
	}
	return 0, false
}

// CleanUpWaitFor removes every edge out of txn on keyHash.
func (d *Detector) CleanUpWaitFor(txn, keyHash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.waitForMap[txn]
	kept := entries[:0]
	for _, e := range entries {
		if e.keyHash != keyHash {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(d.waitForMap, txn)
	} else {
		d.waitForMap[txn] = kept
	}
}

// CleanUp removes every edge out of txn.
func (d *Detector) CleanUp(txn uint64) {
	d.mu.Lock()
	delete(d.waitForMap, txn)
	d.mu.Unlock()
}

// Len is the number of waiting transactions.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waitForMap)
}
