package transaction

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

type State int32

const (
	StateActive State = iota
	StatePreparing
	StatePrepared
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Txn is one unit of work. It is driven by a single goroutine; only its state may be read concurrently.
type Txn struct {
	id      uint64
	state   atomic.Int32
	start   time.Time
	timeout time.Duration

	mu           sync.Mutex
	participants []Participant
}

// NewTxn creates an active transaction. A zero timeout never expires.
func NewTxn(id uint64, timeout time.Duration) *Txn {
	return &Txn{
		id:      id,
		start:   time.Now(),
		timeout: timeout,
	}
}

func (t *Txn) ID() uint64 {
	return t.id
}

func (t *Txn) State() State {
	return State(t.state.Load())
}

func (t *Txn) casState(from, to State) bool {
	return t.state.CAS(int32(from), int32(to))
}

func (t *Txn) setState(s State) {
	t.state.Store(int32(s))
}

// Join records that p takes part in t. Joining twice has the effect of joining once.
func (t *Txn) Join(p Participant) error {
	if s := t.State(); s != StateActive {
		return &ErrNotActive{TxnID: t.id, State: s}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, joined := range t.participants {
		if joined == p {
			return nil
		}
	}
	t.participants = append(t.participants, p)
	return nil
}

// Participants returns the joined participants in join order.
func (t *Txn) Participants() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]Participant, len(t.participants))
	copy(res, t.participants)
	return res
}

// CheckTimeout returns an error if t can no longer be used: it is not active or it ran longer than its timeout.
func (t *Txn) CheckTimeout() error {
	if s := t.State(); s != StateActive {
		return &ErrNotActive{TxnID: t.id, State: s}
	}
	if t.timeout <= 0 {
		return nil
	}
	if elapsed := time.Since(t.start); elapsed > t.timeout {
		return &ErrTimeout{TxnID: t.id, Timeout: t.timeout, Elapsed: elapsed}
	}
	return nil
}

// Remaining is the time left before t times out. ok is false if t has no timeout.
func (t *Txn) Remaining() (remaining time.Duration, ok bool) {
	if t.timeout <= 0 {
		return 0, false
	}
	remaining = t.timeout - time.Since(t.start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func (t *Txn) Timeout() time.Duration {
	return t.timeout
}
