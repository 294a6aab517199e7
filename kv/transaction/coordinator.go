package transaction

import (
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Coordinator begins transactions and drives their commit or abort.
type Coordinator struct {
	ids     IDSource
	timeout time.Duration
}

// NewCoordinator creates a coordinator whose transactions time out after timeout; zero means never.
func NewCoordinator(ids IDSource, timeout time.Duration) *Coordinator {
	return &Coordinator{ids: ids, timeout: timeout}
}

// Begin starts a new transaction.
func (c *Coordinator) Begin() (*Txn, error) {
	id, err := c.ids.NextTxnID()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewTxn(id, c.timeout), nil
}

// Commit commits txn. If a participant fails to prepare, every participant is aborted and the prepare error is
// returned as is. An *ErrCommitFailed means the transaction failed after prepare and its outcome is undefined.
func (c *Coordinator) Commit(txn *Txn) error {
	start := time.Now()
	if err := txn.CheckTimeout(); err != nil {
		if _, ok := err.(*ErrTimeout); ok {
			c.abortParticipants(txn)
		}
		txnCounter.WithLabelValues("rejected").Inc()
		return err
	}
	if !txn.casState(StateActive, StatePreparing) {
		return &ErrNotActive{TxnID: txn.id, State: txn.State()}
	}
	participants := txn.Participants()
	err := c.commit(txn, participants)
	result := "committed"
	switch err.(type) {
	case nil:
		participantHistogram.Observe(float64(len(participants)))
	case *ErrCommitFailed:
		result = "failed"
	default:
		result = "aborted"
	}
	txnCounter.WithLabelValues(result).Inc()
	txnDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

func (c *Coordinator) commit(txn *Txn, participants []Participant) error {
	switch len(participants) {
	case 0:
		txn.setState(StateCommitted)
		return nil
	case 1:
		if err := participants[0].PrepareAndCommit(txn); err != nil {
			log.Info("prepare and commit failed, aborting", zap.Uint64("txn-id", txn.id), zap.Error(err))
			c.abortAll(txn, participants)
			return err
		}
		txn.setState(StateCommitted)
		return nil
	}

	readOnly := make([]bool, len(participants))
	for i, p := range participants {
		ro, err := p.Prepare(txn)
		if err != nil {
			log.Info("prepare failed, aborting",
				zap.Uint64("txn-id", txn.id),
				zap.Int("participant", i),
				zap.Error(err))
			c.abortAll(txn, participants)
			return err
		}
		readOnly[i] = ro
	}
	txn.setState(StatePrepared)

	var firstErr error
	for i, p := range participants {
		if readOnly[i] {
			continue
		}
		if err := p.Commit(txn); err != nil {
			// Keep going: the participants after this one prepared and can still commit.
			log.Error("commit failed after prepare",
				zap.Uint64("txn-id", txn.id),
				zap.Int("participant", i),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		txn.setState(StateAborted)
		return &ErrCommitFailed{TxnID: txn.id, Err: firstErr}
	}
	txn.setState(StateCommitted)
	return nil
}

// Abort aborts txn on every participant. Aborting an aborted transaction is a no-op; aborting a committed one
// returns ErrNotActive.
func (c *Coordinator) Abort(txn *Txn) error {
	if !txn.casState(StateActive, StateAborted) {
		if s := txn.State(); s != StateAborted {
			return &ErrNotActive{TxnID: txn.id, State: s}
		}
		return nil
	}
	err := c.abortParticipants(txn)
	txnCounter.WithLabelValues("aborted").Inc()
	return err
}

func (c *Coordinator) abortParticipants(txn *Txn) error {
	txn.setState(StateAborted)
	return c.abortAll(txn, txn.Participants())
}

// abortAll aborts every participant even if some fail, and returns the first failure.
func (c *Coordinator) abortAll(txn *Txn, participants []Participant) error {
	txn.setState(StateAborted)
	var firstErr error
	for i, p := range participants {
		if err := p.Abort(txn); err != nil {
			log.Warn("abort failed",
				zap.Uint64("txn-id", txn.id),
				zap.Int("participant", i),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run executes fn in a new transaction and commits it, or aborts it if fn returns an error.
func (c *Coordinator) Run(fn func(txn *Txn) error) error {
	txn, err := c.Begin()
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		if abortErr := c.Abort(txn); abortErr != nil {
			log.Warn("abort after failure failed", zap.Uint64("txn-id", txn.id), zap.Error(abortErr))
		}
		return err
	}
	return c.Commit(txn)
}
