package storage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyobj/kv/storage"
	"github.com/pingcap-incubator/tinyobj/kv/storage/storetest"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) (storage.ParticipantStore, transaction.IDSource, func()) {
	s := storage.NewMemStorage()
	return s, transaction.NewMemIDSource(), func() { s.Close() }
}

func TestMemStorage(t *testing.T) {
	storetest.Run(t, newMemStore)
}

func newCoordinator() *transaction.Coordinator {
	return transaction.NewCoordinator(transaction.NewMemIDSource(), 0)
}

func TestMemNameCollision(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()

	setup, _ := c.Begin()
	idA, err := s.CreateObject(setup)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(setup, idA, []byte("a")))
	idB, err := s.CreateObject(setup)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(setup, idB, []byte("b")))
	require.Nil(t, c.Commit(setup))

	// Both bind the same new name; two participants force a real prepare phase.
	other := storage.NewMemStorage()
	txnA, _ := c.Begin()
	txnB, _ := c.Begin()
	require.Nil(t, s.SetBinding(txnA, "x", idA))
	require.Nil(t, s.SetBinding(txnB, "x", idB))
	_, err = other.CreateObject(txnA)
	require.Nil(t, err)
	_, err = other.CreateObject(txnB)
	require.Nil(t, err)

	require.Nil(t, c.Commit(txnA))
	err = c.Commit(txnB)
	require.IsType(t, &storage.ErrNameCollision{}, err)
	assert.Equal(t, storage.KindNameCollision, storage.KindOf(err))
	assert.False(t, storage.IsRetryable(err))

	check, _ := c.Begin()
	got, err := s.GetBinding(check, "x")
	require.Nil(t, err)
	assert.Equal(t, idA, got)
	require.Nil(t, c.Commit(check))
}

func TestMemConcurrentNameCollision(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()

	const n = 8
	var wg, ready sync.WaitGroup
	results := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		ready.Add(1)
		go func() {
			defer wg.Done()
			txn, err := c.Begin()
			if err == nil {
				var id int64
				id, err = s.CreateObject(txn)
				if err == nil {
					err = s.SetObject(txn, id, []byte("v"))
				}
				if err == nil {
					err = s.SetBinding(txn, "x", id)
				}
			}
			ready.Done()
			if err != nil {
				c.Abort(txn)
				results <- err
				return
			}
			<-start
			results <- c.Commit(txn)
		}()
	}
	ready.Wait()
	close(start)
	wg.Wait()
	close(results)

	committed := 0
	for err := range results {
		if err == nil {
			committed++
			continue
		}
		assert.IsType(t, &storage.ErrNameCollision{}, err)
	}
	// Every binder saw the name unbound, so only one may win.
	assert.Equal(t, 1, committed)

	txn, _ := c.Begin()
	_, err := s.GetBinding(txn, "x")
	require.Nil(t, err)
	require.Nil(t, c.Commit(txn))
}

func TestMemPrepareHidesReservedName(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()

	txn, _ := c.Begin()
	id, _ := s.CreateObject(txn)
	require.Nil(t, s.SetObject(txn, id, []byte("v")))
	require.Nil(t, s.SetBinding(txn, "x", id))
	readOnly, err := s.Prepare(txn)
	require.Nil(t, err)
	assert.False(t, readOnly)

	reader, _ := c.Begin()
	_, err = s.GetBinding(reader, "x")
	assert.IsType(t, &storage.ErrNameNotBound{}, err)
	name, err := s.NextBoundName(reader, "")
	require.Nil(t, err)
	assert.Equal(t, "", name)

	require.Nil(t, s.Commit(txn))
	got, err := s.GetBinding(reader, "x")
	require.Nil(t, err)
	assert.Equal(t, id, got)
	require.Nil(t, c.Abort(reader))
}

func TestMemCommitUnprepared(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()
	txn, _ := c.Begin()
	_, err := s.CreateObject(txn)
	require.Nil(t, err)
	err = s.Commit(txn)
	require.IsType(t, &transaction.ErrNotPrepared{}, err)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
	require.Nil(t, c.Abort(txn))
}

func TestMemRemoveWakesWriter(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()

	setup, _ := c.Begin()
	id, _ := s.CreateObject(setup)
	require.Nil(t, s.SetObject(setup, id, []byte("v")))
	require.Nil(t, c.Commit(setup))

	remover, _ := c.Begin()
	require.Nil(t, s.RemoveObject(remover, id))

	done := make(chan error, 1)
	go func() {
		writer, _ := c.Begin()
		err := s.SetObject(writer, id, []byte("w"))
		c.Abort(writer)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, c.Commit(remover))

	select {
	case err := <-done:
		assert.IsType(t, &storage.ErrObjectNotFound{}, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer was not woken by the removal")
	}
}

func TestMemRemoveObjectDropsItsBinding(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()

	txn, _ := c.Begin()
	id, _ := s.CreateObject(txn)
	require.Nil(t, s.SetObject(txn, id, []byte("v")))
	require.Nil(t, s.SetBinding(txn, "owner", id))
	require.Nil(t, c.Commit(txn))

	txn, _ = c.Begin()
	require.Nil(t, s.RemoveObject(txn, id))
	require.Nil(t, c.Commit(txn))

	txn, _ = c.Begin()
	_, err := s.GetBinding(txn, "owner")
	assert.IsType(t, &storage.ErrNameNotBound{}, err)
	require.Nil(t, c.Commit(txn))
}

func TestMemClosed(t *testing.T) {
	s := storage.NewMemStorage()
	c := newCoordinator()
	require.Nil(t, s.Close())
	txn, _ := c.Begin()
	_, err := s.CreateObject(txn)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
}
