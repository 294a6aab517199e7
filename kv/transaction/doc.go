package transaction

// The transaction package implements tinyobj's transaction coordinator. A transaction is a single unit of work that
// spans any number of participants, typically object stores. Callers begin a transaction from a Coordinator, run
// store operations which join the store to the transaction, and finally commit or abort through the coordinator.
//
// Commit uses two-phase commit. Every participant is asked to prepare in the order it joined. If any prepare fails,
// every participant is aborted and the prepare error is returned unchanged; nothing is made visible. Once all
// participants prepared, each participant which did not report itself read-only is asked to commit. A failure at
// that point cannot be retried since some participants may already have committed; it is returned as an
// ErrCommitFailed, which callers must treat as fatal.
//
// Two shortcuts apply: a transaction nobody joined commits trivially, and a transaction with a single participant
// calls that participant's PrepareAndCommit directly, since there is nothing to coordinate.
//
// Transactions are single use. Once committed or aborted, a Txn rejects every further operation with ErrNotActive.
// A Txn also carries a timeout; participants call CheckTimeout before doing work so that a transaction that ran
// too long fails with ErrTimeout, which is retryable.
//
// Transaction identifiers come from an IDSource. Participants use them only as map keys and recovery tags; the
// coordinator attaches no meaning to them beyond uniqueness.
