package transaction

import (
	"fmt"
	"time"
)

// ErrTimeout is returned once a transaction has run longer than its timeout. The caller should abort and may
// retry with a new transaction.
type ErrTimeout struct {
	TxnID   uint64
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("txn %d timed out: elapsed %v, timeout %v", e.TxnID, e.Elapsed, e.Timeout)
}

// ErrNotActive is returned when a transaction is used after it started committing or was aborted.
type ErrNotActive struct {
	TxnID uint64
	State State
}

func (e *ErrNotActive) Error() string {
	return fmt.Sprintf("txn %d is not active: %s", e.TxnID, e.State)
}

// ErrNotPrepared is returned by a participant asked to commit a transaction it never prepared.
type ErrNotPrepared struct {
	TxnID uint64
}

func (e *ErrNotPrepared) Error() string {
	return fmt.Sprintf("txn %d was not prepared", e.TxnID)
}

// ErrCommitFailed means a participant failed to commit after every participant prepared. The outcome of the
// transaction is undefined and it must not be retried.
type ErrCommitFailed struct {
	TxnID uint64
	Err   error
}

func (e *ErrCommitFailed) Error() string {
	return fmt.Sprintf("txn %d failed after prepare: %v", e.TxnID, e.Err)
}
