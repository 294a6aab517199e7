package transaction

// Participant is implemented by anything that joins a transaction and takes part in its two-phase commit. The
// coordinator calls each method at most once per transaction, from the goroutine driving the transaction.
type Participant interface {
	// Prepare makes the participant's changes durable without making them visible. A participant that made no
	// changes may release its state and report readOnly, in which case Commit is not called.
	Prepare(txn *Txn) (readOnly bool, err error)
	// Commit makes prepared changes visible. It returns ErrNotPrepared if Prepare did not succeed first.
	Commit(txn *Txn) error
	// PrepareAndCommit is used when the participant is the only one in the transaction.
	PrepareAndCommit(txn *Txn) error
	// Abort discards every change made in txn. Aborting a transaction the participant knows nothing about, or
	// one already aborted, is a no-op.
	Abort(txn *Txn) error
}

// IDSource hands out transaction identifiers which are never repeated.
type IDSource interface {
	NextTxnID() (uint64, error)
}
