package latches

import (
	"sync"
)

// Latches is a table of binary per-object locks used by the in-memory store. A latch exists for as long as its
// object exists (or is being created); it is either free or held. Holding a latch gives exclusive write access to
// the object.
//
// Latches are kept in a fixed number of slots chosen by object id. Each slot has one mutex and one condition
// variable, so a thread waiting for a latch sleeps on its slot's condition variable and is woken whenever a latch
// in the same slot is released or removed. Threads then re-check their own latch.
type Latches struct {
	slots []*slot
	mask  uint64
}

type slot struct {
	mu   sync.Mutex
	cond *sync.Cond
	// held maps every existing latch to whether it is currently held.
	held map[int64]bool
}

const defaultSlots = 256

// NewLatches creates a new Latches object. There should only be one such object per store, shared between all
// threads.
func NewLatches() *Latches {
	return NewLatchesWithSlots(defaultSlots)
}

// NewLatchesWithSlots creates a table with at least n slots, rounded up to a power of two.
func NewLatchesWithSlots(n int) *Latches {
	size := 1
	for size < n {
		size <<= 1
	}
	l := &Latches{slots: make([]*slot, size), mask: uint64(size - 1)}
	for i := range l.slots {
		s := &slot{held: make(map[int64]bool)}
		s.cond = sync.NewCond(&s.mu)
		l.slots[i] = s
	}
	return l
}

func (l *Latches) slot(id int64) *slot {
	// Fibonacci hashing spreads consecutive ids across slots.
	return l.slots[(uint64(id)*0x9E3779B97F4A7C15)>>32&l.mask]
}

// Insert creates a held latch for a new object. It returns false if the latch already exists.
func (l *Latches) Insert(id int64) bool {
	s := l.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[id]; ok {
		return false
	}
	s.held[id] = true
	return true
}

// Acquire waits until the latch for id is free and takes it. It returns false if the latch does not exist, either
// because the object never existed or because it was removed while waiting. Acquire may block for an unbounded
// length of time.
func (l *Latches) Acquire(id int64) bool {
	s := l.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		held, ok := s.held[id]
		if !ok {
			return false
		}
		if !held {
			s.held[id] = true
			return true
		}
		s.cond.Wait()
	}
}

// Release frees the latch for id and wakes its waiters.
func (l *Latches) Release(id int64) {
	s := l.slot(id)
	s.mu.Lock()
	if _, ok := s.held[id]; ok {
		s.held[id] = false
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Remove deletes the latch for id. Waiters wake and fail to acquire it.
func (l *Latches) Remove(id int64) {
	s := l.slot(id)
	s.mu.Lock()
	delete(s.held, id)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Held reports whether the latch for id exists and is held.
func (l *Latches) Held(id int64) bool {
	s := l.slot(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[id]
}

// Len is the number of existing latches.
func (l *Latches) Len() int {
	n := 0
	for _, s := range l.slots {
		s.mu.Lock()
		n += len(s.held)
		s.mu.Unlock()
	}
	return n
}
