package storage

import (
	"fmt"

	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap/errors"
)

// ErrObjectNotFound is returned when an object does not exist or was removed in a transaction visible to the caller.
type ErrObjectNotFound struct {
	ID int64
}

func (e *ErrObjectNotFound) Error() string {
	return fmt.Sprintf("object %d not found", e.ID)
}

// ErrNameNotBound is returned when a name has no binding.
type ErrNameNotBound struct {
	Name string
}

func (e *ErrNameNotBound) Error() string {
	return fmt.Sprintf("name %q is not bound", e.Name)
}

// ErrTxnConflict means the transaction lost a deadlock or serialization conflict. The caller should abort and may
// retry.
type ErrTxnConflict struct {
	TxnID uint64
	Err   error
}

func (e *ErrTxnConflict) Error() string {
	return fmt.Sprintf("txn %d conflict: %v", e.TxnID, e.Err)
}

// ErrTxnTimeout means a lock was not granted in time. The caller should abort and may retry.
type ErrTxnTimeout struct {
	TxnID uint64
	Err   error
}

func (e *ErrTxnTimeout) Error() string {
	return fmt.Sprintf("txn %d timed out: %v", e.TxnID, e.Err)
}

// ErrNameCollision is returned by prepare when another transaction changed a name this transaction binds or unbinds.
type ErrNameCollision struct {
	TxnID uint64
	Name  string
}

func (e *ErrNameCollision) Error() string {
	return fmt.Sprintf("txn %d: name %q was changed by another transaction", e.TxnID, e.Name)
}

// ErrStorage wraps any other engine failure.
type ErrStorage struct {
	Err error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage error: %v", e.Err)
}

// ErrRecoveryRequired is returned by a store that hit an unrecoverable engine failure, or found an unfinished
// prepared transaction when opening. The store must be closed and the process restarted.
var ErrRecoveryRequired = errors.New("store requires recovery")

// ErrContract is a programming error by the caller. It is never retried.
type ErrContract struct {
	Msg string
}

func (e *ErrContract) Error() string {
	return "contract violation: " + e.Msg
}

func contractErrorf(format string, args ...interface{}) error {
	return errors.WithStack(&ErrContract{Msg: fmt.Sprintf(format, args...)})
}

// CheckObjectID rejects negative object identifiers.
func CheckObjectID(id int64) error {
	if id < 0 {
		return contractErrorf("negative object id %d", id)
	}
	return nil
}

var ErrClosed = &ErrContract{Msg: "store is closed"}

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindConflict
	KindTimeout
	KindNameCollision
	KindStorage
	KindContract
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "transaction-conflict"
	case KindTimeout:
		return "transaction-timeout"
	case KindNameCollision:
		return "namespace-collision"
	case KindStorage:
		return "storage"
	case KindContract:
		return "contract-violation"
	}
	return "unknown"
}

// KindOf classifies err. Errors this package does not know are storage errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	cause := errors.Cause(err)
	if cause == ErrRecoveryRequired {
		return KindStorage
	}
	switch cause.(type) {
	case *ErrObjectNotFound, *ErrNameNotBound:
		return KindNotFound
	case *ErrTxnConflict:
		return KindConflict
	case *ErrTxnTimeout, *transaction.ErrTimeout:
		return KindTimeout
	case *ErrNameCollision:
		return KindNameCollision
	case *ErrContract, *transaction.ErrNotActive, *transaction.ErrNotPrepared:
		return KindContract
	}
	return KindStorage
}

// IsRetryable reports whether the whole transaction may be retried after err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindTimeout:
		return true
	}
	return false
}
