package transaction

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the calls made to every fakeParticipant in one test.
type recorder struct {
	calls []string
}

type fakeParticipant struct {
	name       string
	rec        *recorder
	readOnly   bool
	prepareErr error
	commitErr  error
	abortErr   error
}

func (p *fakeParticipant) record(op string) {
	p.rec.calls = append(p.rec.calls, p.name+"."+op)
}

func (p *fakeParticipant) Prepare(txn *Txn) (bool, error) {
	p.record("prepare")
	return p.readOnly, p.prepareErr
}

func (p *fakeParticipant) Commit(txn *Txn) error {
	p.record("commit")
	return p.commitErr
}

func (p *fakeParticipant) PrepareAndCommit(txn *Txn) error {
	p.record("prepareAndCommit")
	return p.prepareErr
}

func (p *fakeParticipant) Abort(txn *Txn) error {
	p.record("abort")
	return p.abortErr
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewMemIDSource(), 0)
}

func TestCommitNoParticipants(t *testing.T) {
	c := newTestCoordinator()
	txn, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, c.Commit(txn))
	assert.Equal(t, StateCommitted, txn.State())

	// Single use.
	err = c.Commit(txn)
	require.IsType(t, &ErrNotActive{}, err)
	require.IsType(t, &ErrNotActive{}, c.Abort(txn))
}

func TestCommitSingleParticipant(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	p := &fakeParticipant{name: "a", rec: rec}
	txn, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, txn.Join(p))
	require.Nil(t, txn.Join(p))
	require.Nil(t, c.Commit(txn))
	assert.Equal(t, []string{"a.prepareAndCommit"}, rec.calls)
}

func TestCommitSingleParticipantFails(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	failure := fmt.Errorf("boom")
	p := &fakeParticipant{name: "a", rec: rec, prepareErr: failure}
	txn, _ := c.Begin()
	require.Nil(t, txn.Join(p))
	assert.Equal(t, failure, c.Commit(txn))
	assert.Equal(t, []string{"a.prepareAndCommit", "a.abort"}, rec.calls)
	assert.Equal(t, StateAborted, txn.State())
}

func TestCommitTwoPhase(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	a := &fakeParticipant{name: "a", rec: rec}
	b := &fakeParticipant{name: "b", rec: rec, readOnly: true}
	d := &fakeParticipant{name: "d", rec: rec}
	txn, _ := c.Begin()
	for _, p := range []*fakeParticipant{a, b, d, a} {
		require.Nil(t, txn.Join(p))
	}
	assert.Len(t, txn.Participants(), 3)

	require.Nil(t, c.Commit(txn))
	assert.Equal(t, []string{"a.prepare", "b.prepare", "d.prepare", "a.commit", "d.commit"}, rec.calls)
	assert.Equal(t, StateCommitted, txn.State())
}

func TestPrepareFailureAbortsAll(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	failure := fmt.Errorf("collision")
	a := &fakeParticipant{name: "a", rec: rec}
	b := &fakeParticipant{name: "b", rec: rec, prepareErr: failure}
	d := &fakeParticipant{name: "d", rec: rec}
	txn, _ := c.Begin()
	for _, p := range []*fakeParticipant{a, b, d} {
		require.Nil(t, txn.Join(p))
	}

	assert.Equal(t, failure, c.Commit(txn))
	assert.Equal(t, []string{"a.prepare", "b.prepare", "a.abort", "b.abort", "d.abort"}, rec.calls)
	assert.Equal(t, StateAborted, txn.State())
}

func TestCommitFailureIsFatal(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	a := &fakeParticipant{name: "a", rec: rec, commitErr: &ErrNotPrepared{}}
	b := &fakeParticipant{name: "b", rec: rec}
	txn, _ := c.Begin()
	require.Nil(t, txn.Join(a))
	require.Nil(t, txn.Join(b))

	err := c.Commit(txn)
	require.IsType(t, &ErrCommitFailed{}, err)
	assert.IsType(t, &ErrNotPrepared{}, err.(*ErrCommitFailed).Err)
	assert.Equal(t, []string{"a.prepare", "b.prepare", "a.commit", "b.commit"}, rec.calls)
}

func TestAbort(t *testing.T) {
	c := newTestCoordinator()
	txn, _ := c.Begin()
	// Aborting a transaction that did nothing is a no-op, and so is aborting twice.
	require.Nil(t, c.Abort(txn))
	require.Nil(t, c.Abort(txn))

	rec := new(recorder)
	failure := fmt.Errorf("abort failed")
	a := &fakeParticipant{name: "a", rec: rec, abortErr: failure}
	b := &fakeParticipant{name: "b", rec: rec}
	txn, _ = c.Begin()
	require.Nil(t, txn.Join(a))
	require.Nil(t, txn.Join(b))
	assert.Equal(t, failure, c.Abort(txn))
	assert.Equal(t, []string{"a.abort", "b.abort"}, rec.calls)

	require.IsType(t, &ErrNotActive{}, txn.Join(a))
	require.IsType(t, &ErrNotActive{}, txn.CheckTimeout())
}

func TestTimeout(t *testing.T) {
	c := NewCoordinator(NewMemIDSource(), 10*time.Millisecond)
	rec := new(recorder)
	a := &fakeParticipant{name: "a", rec: rec}
	txn, _ := c.Begin()
	require.Nil(t, txn.CheckTimeout())
	remaining, ok := txn.Remaining()
	assert.True(t, ok)
	assert.True(t, remaining <= 10*time.Millisecond)
	require.Nil(t, txn.Join(a))

	time.Sleep(20 * time.Millisecond)
	require.IsType(t, &ErrTimeout{}, txn.CheckTimeout())
	require.IsType(t, &ErrTimeout{}, c.Commit(txn))
	assert.Equal(t, []string{"a.abort"}, rec.calls)
	assert.Equal(t, StateAborted, txn.State())
}

func TestRun(t *testing.T) {
	c := newTestCoordinator()
	rec := new(recorder)
	a := &fakeParticipant{name: "a", rec: rec}
	require.Nil(t, c.Run(func(txn *Txn) error {
		return txn.Join(a)
	}))

	failure := fmt.Errorf("fn failed")
	assert.Equal(t, failure, c.Run(func(txn *Txn) error {
		require.Nil(t, txn.Join(a))
		return failure
	}))
	assert.Equal(t, []string{"a.prepareAndCommit", "a.abort"}, rec.calls)
}

func TestMemIDSource(t *testing.T) {
	ids := NewMemIDSource()
	seen := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		id, err := ids.NextTxnID()
		require.Nil(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
