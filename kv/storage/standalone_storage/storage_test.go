package standalone_storage

import (
	"bytes"
	"io/ioutil"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/pingcap-incubator/tinyobj/kv/storage"
	"github.com/pingcap-incubator/tinyobj/kv/storage/meta"
	"github.com/pingcap-incubator/tinyobj/kv/storage/storetest"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap-incubator/tinyobj/kv/util/codec"
	"github.com/pingcap-incubator/tinyobj/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestConfig(t *testing.T) *config.Config {
	dir, err := ioutil.TempDir("", "tinyobj")
	require.Nil(t, err)
	conf := config.NewTestConfig()
	conf.DBPath = dir
	return conf
}

func openTestStore(t *testing.T, conf *config.Config) (*StandAloneStorage, *transaction.Coordinator) {
	s, err := Open(conf)
	require.Nil(t, err)
	return s, transaction.NewCoordinator(s, 0)
}

func cleanUp(s *StandAloneStorage, conf *config.Config) {
	s.Close()
	engine_util.DestroyDB(conf.DBPath)
}

func TestStandAloneStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (storage.ParticipantStore, transaction.IDSource, func()) {
		conf := newTestConfig(t)
		s, err := Open(conf)
		require.Nil(t, err)
		return s, s, func() { cleanUp(s, conf) }
	})
}

func TestIDsIncreaseAcrossRestart(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)

	var last int64
	var lastTxn uint64
	for i := 0; i < 15; i++ {
		txn, err := c.Begin()
		require.Nil(t, err)
		id, err := s.CreateObject(txn)
		require.Nil(t, err)
		require.Nil(t, s.SetObject(txn, id, []byte("x")))
		require.Nil(t, c.Commit(txn))
		assert.True(t, id > last)
		assert.True(t, txn.ID() > lastTxn)
		last, lastTxn = id, txn.ID()
	}
	require.Nil(t, s.Close())

	s, c = openTestStore(t, conf)
	defer cleanUp(s, conf)
	txn, err := c.Begin()
	require.Nil(t, err)
	assert.True(t, txn.ID() > lastTxn)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	assert.True(t, id > last)
	require.Nil(t, c.Abort(txn))

	h, err := s.Header()
	require.Nil(t, err)
	assert.Equal(t, meta.Magic, h.Magic)
	assert.True(t, h.NextObjectID > uint64(id))
}

func TestUnfinishedPrepareRequiresRecovery(t *testing.T) {
	conf := newTestConfig(t)
	defer os.RemoveAll(conf.DBPath)
	s, c := openTestStore(t, conf)

	txn, err := c.Begin()
	require.Nil(t, err)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, id, []byte("in doubt")))
	readOnly, err := s.Prepare(txn)
	require.Nil(t, err)
	assert.False(t, readOnly)
	require.Nil(t, s.Close())

	_, err = Open(conf)
	assert.Equal(t, storage.ErrRecoveryRequired, err)
	assert.Equal(t, storage.KindStorage, storage.KindOf(err))
}

func TestAbortRemovesPreparedRecord(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)

	txn, err := c.Begin()
	require.Nil(t, err)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, id, []byte("dropped")))
	_, err = s.Prepare(txn)
	require.Nil(t, err)
	require.Nil(t, c.Abort(txn))
	require.Nil(t, s.Close())

	s, c = openTestStore(t, conf)
	defer cleanUp(s, conf)
	txn, err = c.Begin()
	require.Nil(t, err)
	_, err = s.GetObject(txn, id, false)
	assert.IsType(t, &storage.ErrObjectNotFound{}, err)
	require.Nil(t, c.Commit(txn))
}

func TestHeaderMismatch(t *testing.T) {
	conf := newTestConfig(t)
	defer os.RemoveAll(conf.DBPath)
	db, err := engine_util.CreateDB(conf)
	require.Nil(t, err)
	_, _, err = meta.InitHeader(db)
	require.Nil(t, err)
	require.Nil(t, engine_util.PutCF(db, engine_util.CfMeta, meta.HeaderKey(meta.KeyMajorVersion), codec.EncodeUint64(meta.MajorVersion+1)))
	require.Nil(t, db.Close())

	_, err = Open(conf)
	require.IsType(t, &storage.ErrStorage{}, err)
	assert.IsType(t, &meta.ErrHeaderMismatch{}, errors.Cause(err.(*storage.ErrStorage).Err))
}

func TestInvalidConfig(t *testing.T) {
	conf := newTestConfig(t)
	defer os.RemoveAll(conf.DBPath)
	conf.Isolation = "snapshot"
	_, err := Open(conf)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
}

func TestLockTimeout(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)
	id := createObject(t, s, c, []byte("v"))

	holder, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.MarkForUpdate(holder, id))

	waiter, err := c.Begin()
	require.Nil(t, err)
	start := time.Now()
	err = s.SetObject(waiter, id, []byte("w"))
	require.IsType(t, &storage.ErrTxnTimeout{}, err)
	assert.True(t, storage.IsRetryable(err))
	assert.True(t, time.Since(start) >= conf.LockTimeout.Duration)
	require.Nil(t, c.Abort(waiter))
	require.Nil(t, c.Commit(holder))
}

func TestLockWaitBoundedByTxnTimeout(t *testing.T) {
	conf := newTestConfig(t)
	conf.LockTimeout = config.NewDuration(5 * time.Second)
	s, err := Open(conf)
	require.Nil(t, err)
	defer cleanUp(s, conf)
	c := transaction.NewCoordinator(s, 0)
	id := createObject(t, s, c, []byte("v"))

	holder, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.MarkForUpdate(holder, id))

	short := transaction.NewCoordinator(s, 100*time.Millisecond)
	waiter, err := short.Begin()
	require.Nil(t, err)
	start := time.Now()
	err = s.MarkForUpdate(waiter, id)
	assert.Equal(t, storage.KindTimeout, storage.KindOf(err))
	assert.True(t, time.Since(start) < conf.LockTimeout.Duration)
	short.Abort(waiter)
	require.Nil(t, c.Commit(holder))
}

func TestDeadlockIsConflict(t *testing.T) {
	conf := newTestConfig(t)
	conf.LockTimeout = config.NewDuration(5 * time.Second)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)
	a := createObject(t, s, c, []byte("a"))
	b := createObject(t, s, c, []byte("b"))

	t1, err := c.Begin()
	require.Nil(t, err)
	t2, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.MarkForUpdate(t1, a))
	require.Nil(t, s.MarkForUpdate(t2, b))

	done := make(chan error, 1)
	go func() {
		done <- s.SetObject(t1, b, []byte("b1"))
	}()
	deadline := time.Now().Add(5 * time.Second)
	for s.locks.NumWaiting(objectLockKey(b)) != 1 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}

	err = s.SetObject(t2, a, []byte("a2"))
	require.IsType(t, &storage.ErrTxnConflict{}, err)
	assert.True(t, storage.IsRetryable(err))
	require.Nil(t, c.Abort(t2))

	require.Nil(t, <-done)
	require.Nil(t, c.Commit(t1))
	data, err := readObject(t, s, c, b)
	require.Nil(t, err)
	assert.Equal(t, []byte("b1"), data)
}

func TestIsolationLevels(t *testing.T) {
	for _, level := range []string{config.IsolationReadUncommitted, config.IsolationReadCommitted, config.IsolationSerializable} {
		t.Run(level, func(t *testing.T) {
			conf := newTestConfig(t)
			conf.Isolation = level
			s, c := openTestStore(t, conf)
			defer cleanUp(s, conf)
			id := createObject(t, s, c, []byte("old"))

			writer, err := c.Begin()
			require.Nil(t, err)
			require.Nil(t, s.SetObject(writer, id, []byte("new")))

			data, err := readObject(t, s, c, id)
			if level == config.IsolationSerializable {
				assert.IsType(t, &storage.ErrTxnTimeout{}, err)
			} else {
				// Readers take no locks and see the last committed content.
				require.Nil(t, err)
				assert.Equal(t, []byte("old"), data)
			}
			require.Nil(t, c.Commit(writer))

			data, err = readObject(t, s, c, id)
			require.Nil(t, err)
			assert.Equal(t, []byte("new"), data)
		})
	}
}

func TestBindingsSerializeWriters(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)
	a := createObject(t, s, c, []byte("a"))
	b := createObject(t, s, c, []byte("b"))

	first, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.SetBinding(first, "shared", a))

	second, err := c.Begin()
	require.Nil(t, err)
	err = s.SetBinding(second, "shared", b)
	assert.IsType(t, &storage.ErrTxnTimeout{}, err)
	require.Nil(t, c.Abort(second))
	require.Nil(t, c.Commit(first))

	// Removing an object leaves its binding in place.
	txn, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.RemoveObject(txn, a))
	require.Nil(t, c.Commit(txn))
	txn, err = c.Begin()
	require.Nil(t, err)
	got, err := s.GetBinding(txn, "shared")
	require.Nil(t, err)
	assert.Equal(t, a, got)
	require.Nil(t, c.Commit(txn))
}

func TestConcurrentBindersCollide(t *testing.T) {
	conf := newTestConfig(t)
	conf.LockTimeout = config.NewDuration(5 * time.Second)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)
	a := createObject(t, s, c, []byte("a"))
	b := createObject(t, s, c, []byte("b"))

	first, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.SetBinding(first, "x", a))

	second, err := c.Begin()
	require.Nil(t, err)
	done := make(chan error, 1)
	go func() {
		done <- s.SetBinding(second, "x", b)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for s.locks.NumWaiting(nameLockKey("x")) != 1 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
	require.Nil(t, c.Commit(first))

	err = <-done
	require.IsType(t, &storage.ErrNameCollision{}, err)
	assert.Equal(t, storage.KindNameCollision, storage.KindOf(err))
	// The loser cannot commit even if it ignores the failed bind.
	err = c.Commit(second)
	assert.IsType(t, &storage.ErrNameCollision{}, err)

	txn, err := c.Begin()
	require.Nil(t, err)
	got, err := s.GetBinding(txn, "x")
	require.Nil(t, err)
	assert.Equal(t, a, got)
	require.Nil(t, c.Commit(txn))

	// Rebinding a committed name without contention is fine.
	txn, err = c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.SetBinding(txn, "x", b))
	require.Nil(t, c.Commit(txn))
}

func TestValuesAreCompressed(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)

	big := bytes.Repeat([]byte("compress me "), 1000)
	small := []byte("tiny")
	bigID := createObject(t, s, c, big)
	smallID := createObject(t, s, c, small)

	raw, err := engine_util.GetCF(s.db, engine_util.CfObject, codec.EncodeObjectID(bigID))
	require.Nil(t, err)
	assert.Equal(t, codec.ValueFormatLZ4, raw[0])
	assert.True(t, len(raw) < len(big))
	raw, err = engine_util.GetCF(s.db, engine_util.CfObject, codec.EncodeObjectID(smallID))
	require.Nil(t, err)
	assert.Equal(t, codec.ValueFormatRaw, raw[0])

	data, err := readObject(t, s, c, bigID)
	require.Nil(t, err)
	assert.Equal(t, big, data)
}

func TestClosedStore(t *testing.T) {
	conf := newTestConfig(t)
	s, c := openTestStore(t, conf)
	defer os.RemoveAll(conf.DBPath)
	id := createObject(t, s, c, []byte("v"))

	objects, names, err := s.Counts()
	require.Nil(t, err)
	assert.Equal(t, 1, objects)
	assert.Equal(t, 0, names)
	assert.True(t, s.Alive())

	txn, err := c.Begin()
	require.Nil(t, err)
	require.Nil(t, s.Close())
	require.Nil(t, s.Close())
	assert.False(t, s.Alive())

	_, err = s.GetObject(txn, id, false)
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
	_, err = s.NextTxnID()
	assert.Equal(t, storage.KindContract, storage.KindOf(err))
	assert.Equal(t, storage.KindContract, storage.KindOf(s.Checkpoint()))
}

func TestCheckpoint(t *testing.T) {
	conf := newTestConfig(t)
	conf.RemoveLogs = true
	conf.CheckpointSize = config.ByteSize(64)
	s, c := openTestStore(t, conf)
	defer cleanUp(s, conf)

	require.Nil(t, s.Checkpoint())
	createObject(t, s, c, bytes.Repeat([]byte{'z'}, 128))
	// Crossing the size threshold resets the byte count.
	assert.Equal(t, int64(0), s.checkpointer.written.Load())
	require.Nil(t, s.Checkpoint())
}

func TestCheckpointerPublishesSizeOnStart(t *testing.T) {
	conf := newTestConfig(t)
	defer os.RemoveAll(conf.DBPath)
	db, err := engine_util.CreateDB(conf)
	require.Nil(t, err)
	defer db.Close()

	engineSizeGauge.Reset()
	h := &checkpointHandler{db: db, closing: atomic.NewBool(false)}
	h.Start()

	families, err := prometheus.DefaultGatherer.Gather()
	require.Nil(t, err)
	var types []string
	for _, mf := range families {
		if mf.GetName() != "tinyobj_store_engine_size_bytes" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				types = append(types, l.GetValue())
			}
		}
	}
	assert.ElementsMatch(t, []string{"lsm", "vlog"}, types)
}

func TestIDAllocatorConcurrent(t *testing.T) {
	conf := newTestConfig(t)
	s, _ := openTestStore(t, conf)
	defer cleanUp(s, conf)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen []uint64
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := s.objectIDs.Alloc()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen = append(seen, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 400)
	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i := 1; i < len(seen); i++ {
		require.NotEqual(t, seen[i-1], seen[i])
	}
	assert.Equal(t, meta.InitNextObjectID, seen[0])
}

func createObject(t *testing.T, s storage.Store, c *transaction.Coordinator, data []byte) int64 {
	txn, err := c.Begin()
	require.Nil(t, err)
	id, err := s.CreateObject(txn)
	require.Nil(t, err)
	require.Nil(t, s.SetObject(txn, id, data))
	require.Nil(t, c.Commit(txn))
	return id
}

func readObject(t *testing.T, s storage.Store, c *transaction.Coordinator, id int64) ([]byte, error) {
	txn, err := c.Begin()
	require.Nil(t, err)
	data, err := s.GetObject(txn, id, false)
	require.Nil(t, c.Abort(txn))
	return data, err
}
