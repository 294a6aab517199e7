// Package storetest holds behaviour tests shared by every storage.Store implementation.
package storetest

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyobj/kv/storage"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store. cleanup closes it and removes its data.
type Factory func(t *testing.T) (store storage.ParticipantStore, ids transaction.IDSource, cleanup func())

// Run runs every shared test against stores made by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator)
	}{
		{"LastWriteWins", testLastWriteWins},
		{"ReadYourWrites", testReadYourWrites},
		{"RemoveScenario", testRemoveScenario},
		{"AbortDiscards", testAbortDiscards},
		{"AbortIdle", testAbortIdle},
		{"AbortedIDsNotReused", testAbortedIDsNotReused},
		{"NotFound", testNotFound},
		{"NegativeID", testNegativeID},
		{"BindingRoundTrip", testBindingRoundTrip},
		{"BindingOutlivesObjectRemoval", testBindingIndependentOfObject},
		{"SingleWriter", testSingleWriter},
		{"Cursors", testCursors},
		{"UseAfterCommit", testUseAfterCommit},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, ids, cleanup := factory(t)
			defer cleanup()
			tt.fn(t, s, transaction.NewCoordinator(ids, 0))
		})
	}
	t.Run("TwoStoresOneTxn", func(t *testing.T) {
		s1, ids, cleanup1 := factory(t)
		defer cleanup1()
		s2, _, cleanup2 := factory(t)
		defer cleanup2()
		testTwoStoresOneTxn(t, s1, s2, transaction.NewCoordinator(ids, 0))
	})
}

func mustBegin(t *testing.T, c *transaction.Coordinator) *transaction.Txn {
	txn, err := c.Begin()
	require.Nil(t, err)
	return txn
}

// createWith creates and commits an object holding data.
func createWith(t *testing.T, s storage.Store, c *transaction.Coordinator, data []byte) int64 {
	txn := mustBegin(t, c)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, id, data))
	require.Nil(t, c.Commit(txn))
	return id
}

func read(t *testing.T, s storage.Store, c *transaction.Coordinator, id int64) ([]byte, error) {
	txn := mustBegin(t, c)
	data, err := s.GetObject(txn, id, false)
	require.Nil(t, c.Abort(txn))
	return data, err
}

func testLastWriteWins(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	assert.True(t, id >= 0)
	for i := 0; i < 5; i++ {
		require.Nil(t, s.SetObject(txn, id, bytes.Repeat([]byte{byte('a' + i)}, 10*(i+1))))
	}
	data, err := s.GetObject(txn, id, false)
	require.Nil(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'e'}, 50), data)
	require.Nil(t, c.Commit(txn))

	data, err = read(t, s, c, id)
	require.Nil(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'e'}, 50), data)

	// Large values survive whatever encoding the store uses.
	big := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	txn = mustBegin(t, c)
	require.Nil(t, s.SetObject(txn, id, big))
	require.Nil(t, c.Commit(txn))
	data, err = read(t, s, c, id)
	require.Nil(t, err)
	assert.Equal(t, big, data)
}

func testReadYourWrites(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	id := createWith(t, s, c, []byte("v1"))

	txn := mustBegin(t, c)
	require.Nil(t, s.SetObject(txn, id, []byte("v2")))
	data, err := s.GetObject(txn, id, false)
	require.Nil(t, err)
	assert.Equal(t, []byte("v2"), data)
	data, err = s.GetObject(txn, id, true)
	require.Nil(t, err)
	assert.Equal(t, []byte("v2"), data)

	// Returned slices are copies.
	data[0] = 'x'
	data, err = s.GetObject(txn, id, false)
	require.Nil(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.Nil(t, s.RemoveObject(txn, id))
	_, err = s.GetObject(txn, id, false)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
	require.Nil(t, c.Commit(txn))
}

func testRemoveScenario(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	n := createWith(t, s, c, []byte("hello"))

	data, err := read(t, s, c, n)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), data)

	txn := mustBegin(t, c)
	require.Nil(t, s.RemoveObject(txn, n))
	require.Nil(t, c.Commit(txn))

	_, err = read(t, s, c, n)
	require.NotNil(t, err)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
}

func testAbortDiscards(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	id := createWith(t, s, c, []byte("kept"))

	txn := mustBegin(t, c)
	require.Nil(t, s.SetObject(txn, id, []byte("dropped")))
	created, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, created, []byte("never visible")))
	require.Nil(t, s.SetBinding(txn, "dropped", created))
	require.Nil(t, c.Abort(txn))

	data, err := read(t, s, c, id)
	require.Nil(t, err)
	assert.Equal(t, []byte("kept"), data)
	_, err = read(t, s, c, created)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))

	txn = mustBegin(t, c)
	_, err = s.GetBinding(txn, "dropped")
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
	// The aborted transaction released its write lock.
	require.Nil(t, s.SetObject(txn, id, []byte("next")))
	require.Nil(t, c.Commit(txn))
}

func testAbortIdle(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	require.Nil(t, c.Abort(txn))
	require.Nil(t, s.Abort(txn))

	txn = mustBegin(t, c)
	require.Nil(t, s.Abort(txn))
	require.Nil(t, c.Commit(txn))
}

func testAbortedIDsNotReused(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	a1, err := s.CreateObject(txn)
	require.Nil(t, err)
	a2, err := s.CreateObject(txn)
	require.Nil(t, err)
	assert.NotEqual(t, a1, a2)
	require.Nil(t, c.Abort(txn))

	txn = mustBegin(t, c)
	seen := map[int64]bool{a1: true, a2: true}
	for i := 0; i < 25; i++ {
		id, err := s.CreateObject(txn)
		require.Nil(t, err)
		require.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
	require.Nil(t, c.Commit(txn))
}

func testNotFound(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	_, err := s.GetObject(txn, 987654, false)
	assert.IsType(t, &storage.ErrObjectNotFound{}, err)
	_, err = s.GetObject(txn, 987654, true)
	assert.IsType(t, &storage.ErrObjectNotFound{}, err)
	assert.IsType(t, &storage.ErrObjectNotFound{}, s.SetObject(txn, 987654, []byte("x")))
	assert.IsType(t, &storage.ErrObjectNotFound{}, s.MarkForUpdate(txn, 987654))
	assert.IsType(t, &storage.ErrObjectNotFound{}, s.RemoveObject(txn, 987654))
	_, err = s.GetBinding(txn, "missing")
	assert.IsType(t, &storage.ErrNameNotBound{}, err)
	assert.IsType(t, &storage.ErrNameNotBound{}, s.RemoveBinding(txn, "missing"))

	// A created object has no content until it is set, but can be set in the same transaction.
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	_, err = s.GetObject(txn, id, false)
	assert.IsType(t, &storage.ErrObjectNotFound{}, err)
	require.Nil(t, s.MarkForUpdate(txn, id))
	require.Nil(t, s.SetObject(txn, id, []byte("x")))
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	require.Nil(t, s.RemoveObject(txn, id))
	assert.IsType(t, &storage.ErrObjectNotFound{}, s.RemoveObject(txn, id))
	assert.IsType(t, &storage.ErrObjectNotFound{}, s.SetObject(txn, id, []byte("y")))
	require.Nil(t, c.Commit(txn))
}

func testNegativeID(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	_, err := s.GetObject(txn, -1, false)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
	assert.Equal(t, storage.KindContract, storage.KindOf(s.SetObject(txn, -5, nil)))
	assert.Equal(t, storage.KindContract, storage.KindOf(s.RemoveObject(txn, -5)))
	assert.Equal(t, storage.KindContract, storage.KindOf(s.MarkForUpdate(txn, -5)))
	assert.Equal(t, storage.KindContract, storage.KindOf(s.SetBinding(txn, "neg", -5)))
	assert.False(t, storage.IsRetryable(err))
	require.Nil(t, c.Abort(txn))
}

func testBindingRoundTrip(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	id := createWith(t, s, c, []byte("bound"))

	txn := mustBegin(t, c)
	require.Nil(t, s.SetBinding(txn, "player.alice", id))
	got, err := s.GetBinding(txn, "player.alice")
	require.Nil(t, err)
	assert.Equal(t, id, got)
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	got, err = s.GetBinding(txn, "player.alice")
	require.Nil(t, err)
	assert.Equal(t, id, got)
	require.Nil(t, s.RemoveBinding(txn, "player.alice"))
	_, err = s.GetBinding(txn, "player.alice")
	assert.IsType(t, &storage.ErrNameNotBound{}, err)
	// Aborting the removal keeps the binding.
	require.Nil(t, c.Abort(txn))

	txn = mustBegin(t, c)
	got, err = s.GetBinding(txn, "player.alice")
	require.Nil(t, err)
	assert.Equal(t, id, got)
	require.Nil(t, s.RemoveBinding(txn, "player.alice"))
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	_, err = s.GetBinding(txn, "player.alice")
	assert.IsType(t, &storage.ErrNameNotBound{}, err)
	// The object outlives its binding.
	_, err = s.GetObject(txn, id, false)
	require.Nil(t, err)
	require.Nil(t, c.Commit(txn))
}

func testBindingIndependentOfObject(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	a := createWith(t, s, c, []byte("a"))
	b := createWith(t, s, c, []byte("b"))

	txn := mustBegin(t, c)
	require.Nil(t, s.SetBinding(txn, "x", a))
	require.Nil(t, c.Commit(txn))

	// Rebinding replaces the old value.
	txn = mustBegin(t, c)
	require.Nil(t, s.SetBinding(txn, "x", b))
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	require.Nil(t, s.RemoveObject(txn, a))
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	got, err := s.GetBinding(txn, "x")
	require.Nil(t, err)
	assert.Equal(t, b, got)
	require.Nil(t, c.Commit(txn))
}

func testSingleWriter(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	id := createWith(t, s, c, []byte("0"))

	first := mustBegin(t, c)
	_, err := s.GetObject(first, id, true)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(first, id, []byte("1")))

	var wg sync.WaitGroup
	wg.Add(1)
	got := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		defer wg.Done()
		second, err := c.Begin()
		if err != nil {
			errs <- err
			return
		}
		data, err := s.GetObject(second, id, true)
		if err != nil {
			c.Abort(second)
			errs <- err
			return
		}
		got <- data
		errs <- c.Commit(second)
	}()

	select {
	case <-got:
		t.Fatal("second writer proceeded while the first holds the object")
	case <-time.After(50 * time.Millisecond):
	}
	require.Nil(t, c.Commit(first))
	wg.Wait()

	require.Nil(t, <-errs)
	assert.Equal(t, []byte("1"), <-got)
}

func testTwoStoresOneTxn(t *testing.T, s1, s2 storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	id1, err := s1.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s1.SetObject(txn, id1, []byte("one")))
	id2, err := s2.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s2.SetObject(txn, id2, []byte("two")))
	assert.Len(t, txn.Participants(), 2)
	require.Nil(t, c.Commit(txn))

	data, err := read(t, s1, c, id1)
	require.Nil(t, err)
	assert.Equal(t, []byte("one"), data)
	data, err = read(t, s2, c, id2)
	require.Nil(t, err)
	assert.Equal(t, []byte("two"), data)

	// A store that only read reports read-only and is not asked to commit.
	txn = mustBegin(t, c)
	_, err = s1.GetObject(txn, id1, false)
	require.Nil(t, err)
	require.Nil(t, s2.SetObject(txn, id2, []byte("two'")))
	require.Nil(t, c.Commit(txn))
	data, err = read(t, s2, c, id2)
	require.Nil(t, err)
	assert.Equal(t, []byte("two'"), data)
}

func testCursors(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	a := createWith(t, s, c, []byte("a"))
	b := createWith(t, s, c, []byte("b"))
	d := createWith(t, s, c, []byte("d"))

	txn := mustBegin(t, c)
	require.Nil(t, s.SetBinding(txn, "beta", b))
	require.Nil(t, s.SetBinding(txn, "alpha", a))
	require.Nil(t, s.SetBinding(txn, "delta", d))
	require.Nil(t, c.Commit(txn))

	txn = mustBegin(t, c)
	require.Nil(t, s.RemoveObject(txn, b))
	e, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, e, []byte("e")))
	require.Nil(t, s.RemoveBinding(txn, "beta"))
	require.Nil(t, s.SetBinding(txn, "charlie", e))

	var ids []int64
	for id := int64(-1); ; {
		id, err = s.NextObjectID(txn, id)
		require.Nil(t, err)
		if id == -1 {
			break
		}
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{a, d, e}, ids)

	var names []string
	for name := ""; ; {
		name, err = s.NextBoundName(txn, name)
		require.Nil(t, err)
		if name == "" {
			break
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"alpha", "charlie", "delta"}, names)
	require.Nil(t, c.Commit(txn))
}

func testUseAfterCommit(t *testing.T, s storage.ParticipantStore, c *transaction.Coordinator) {
	txn := mustBegin(t, c)
	_, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, c.Commit(txn))

	_, err = s.CreateObject(txn)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
}
