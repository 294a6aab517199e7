package standalone_storage

import (
	"sync"
	"time"

	"github.com/coocood/badger"
	"github.com/cznic/mathutil"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/pingcap-incubator/tinyobj/kv/storage"
	"github.com/pingcap-incubator/tinyobj/kv/storage/meta"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap-incubator/tinyobj/kv/util/codec"
	"github.com/pingcap-incubator/tinyobj/kv/util/engine_util"
	"github.com/pingcap-incubator/tinyobj/kv/util/lockwaiter"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// StandAloneStorage is a durable object store kept in a local badger environment.
//
// Transactions use strict two-phase locking on objects and names through a lock table with deadlock detection.
// Writes are buffered per transaction and applied in a single engine transaction at commit, together with the
// removal of the transaction's prepared record. Reads take shared locks only under the serializable isolation
// level; otherwise they see the latest committed data.
type StandAloneStorage struct {
	conf   *config.Config
	db     *badger.DB
	header *meta.Header

	locks       *lockwaiter.Manager
	lockTimeout time.Duration
	objectIDs   *idAllocator
	txnIDs      *idAllocator

	txnMu sync.Mutex
	txns  map[uint64]*txnState

	checkpointer *checkpointer

	// closeMu is held shared by every operation and exclusively by Close.
	closeMu sync.RWMutex
	closed  atomic.Bool
	// dead is set when a commit failed half way. Only a restart can tell what reached the disk.
	dead atomic.Bool
}

// Open opens or creates the store under conf.DBPath.
func Open(conf *config.Config) (*StandAloneStorage, error) {
	if err := conf.Validate(); err != nil {
		return nil, &storage.ErrContract{Msg: err.Error()}
	}
	db, err := engine_util.CreateDB(conf)
	if err != nil {
		return nil, &storage.ErrStorage{Err: err}
	}
	header, created, err := meta.InitHeader(db)
	if err != nil {
		db.Close()
		return nil, &storage.ErrStorage{Err: err}
	}
	pending, err := unfinishedPrepares(db)
	if err != nil {
		db.Close()
		return nil, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	if pending > 0 {
		db.Close()
		log.Errorf("store at %s has %d prepared transactions that never finished", conf.DBPath, pending)
		return nil, storage.ErrRecoveryRequired
	}
	if created {
		log.Infof("created store at %s, %s", conf.DBPath, header)
	} else {
		log.Infof("opened store at %s, %s", conf.DBPath, header)
	}
	blockSize := uint64(conf.AllocationBlockSize)
	s := &StandAloneStorage{
		conf:        conf,
		db:          db,
		header:      header,
		locks:       lockwaiter.NewManager(),
		lockTimeout: conf.EffectiveLockTimeout(),
		objectIDs:   newIDAllocator(db, meta.KeyNextObjectID, "object", blockSize),
		txnIDs:      newIDAllocator(db, meta.KeyNextTxnID, "txn", blockSize),
		txns:        map[uint64]*txnState{},
	}
	s.checkpointer = newCheckpointer(db, conf.CheckpointInterval.Duration, int64(conf.CheckpointSize), conf.RemoveLogs)
	return s, nil
}

// Close stops the checkpointer and closes the engine. Open transactions are dropped without committing.
func (s *StandAloneStorage) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	s.checkpointer.stop()
	s.txnMu.Lock()
	if n := len(s.txns); n > 0 {
		log.Warnf("closing store with %d open transactions", n)
	}
	s.txns = map[uint64]*txnState{}
	s.txnMu.Unlock()
	if err := s.db.Close(); err != nil {
		return &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	log.Infof("closed store at %s", s.conf.DBPath)
	return nil
}

// NextTxnID hands out durable transaction identifiers, so that StandAloneStorage can serve as the IDSource of a
// transaction.Coordinator.
func (s *StandAloneStorage) NextTxnID() (uint64, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	id, err := s.txnIDs.Alloc()
	if err != nil {
		return 0, &storage.ErrStorage{Err: err}
	}
	return id, nil
}

// Header reads the current header from the engine.
func (s *StandAloneStorage) Header() (*meta.Header, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	var h *meta.Header
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		h, err = meta.GetHeader(txn)
		return err
	})
	if err != nil {
		return nil, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	return h, nil
}

// Alive reports whether the store is open and has not hit a failure that needs recovery.
func (s *StandAloneStorage) Alive() bool {
	return !s.closed.Load() && !s.dead.Load()
}

// Counts returns the number of committed objects and bound names.
func (s *StandAloneStorage) Counts() (objects, names int, err error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return 0, 0, storage.ErrClosed
	}
	err = s.db.View(func(txn *badger.Txn) error {
		objects = engine_util.CountCF(txn, engine_util.CfObject)
		names = engine_util.CountCF(txn, engine_util.CfName)
		return nil
	})
	if err != nil {
		return 0, 0, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	return objects, names, nil
}

// Checkpoint runs a checkpoint now and waits for it.
func (s *StandAloneStorage) Checkpoint() error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if !s.checkpointer.runNow() {
		return &storage.ErrStorage{Err: errors.New("checkpoint queue is full")}
	}
	return nil
}

func (s *StandAloneStorage) serializable() bool {
	return s.conf.Isolation == config.IsolationSerializable
}

// begin checks that the store and txn may be used, joins the store to txn and returns its state. The caller must
// hold closeMu shared.
func (s *StandAloneStorage) begin(txn *transaction.Txn) (*txnState, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if s.dead.Load() {
		return nil, storage.ErrRecoveryRequired
	}
	if err := txn.CheckTimeout(); err != nil {
		return nil, err
	}
	if err := txn.Join(s); err != nil {
		return nil, err
	}
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	st := s.txns[txn.ID()]
	if st == nil {
		st = newTxnState()
		s.txns[txn.ID()] = st
	}
	return st, nil
}

func (s *StandAloneStorage) state(txn *transaction.Txn) *txnState {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	return s.txns[txn.ID()]
}

func (s *StandAloneStorage) dropState(txn *transaction.Txn) {
	s.txnMu.Lock()
	delete(s.txns, txn.ID())
	s.txnMu.Unlock()
}

func objectLockKey(id int64) string {
	return "o" + string(codec.EncodeObjectID(id))
}

func nameLockKey(name string) string {
	return "n" + name
}

// acquire takes key in mode for txn. The wait is bounded by the lock timeout and by what is left of the
// transaction timeout.
func (s *StandAloneStorage) acquire(txn *transaction.Txn, key string, mode lockwaiter.Mode) error {
	if held, ok := s.locks.HeldMode(txn.ID(), key); ok && (held == lockwaiter.Exclusive || mode == lockwaiter.Shared) {
		return nil
	}
	timeout := s.lockTimeout
	if remaining, ok := txn.Remaining(); ok {
		timeout = time.Duration(mathutil.MinInt64(int64(timeout), int64(remaining)))
	}
	start := time.Now()
	err := s.locks.Acquire(txn.ID(), key, mode, timeout)
	lockWaitDuration.Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "fail"
	}
	lockWaitCounter.WithLabelValues(mode.String(), result).Inc()
	return translate(txn.ID(), err)
}

// readObject reads the committed content of id.
func (s *StandAloneStorage) readObject(id int64) (data []byte, exists bool, err error) {
	raw, err := engine_util.GetCF(s.db, engine_util.CfObject, codec.EncodeObjectID(id))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	data, err = codec.DecodeValue(raw)
	if err != nil {
		return nil, false, &storage.ErrStorage{Err: errors.Annotatef(err, "object %d", id)}
	}
	return data, true, nil
}

func (s *StandAloneStorage) objectExists(id int64) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(engine_util.KeyWithCF(engine_util.CfObject, codec.EncodeObjectID(id)))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	return true, nil
}

// lockForWrite takes the exclusive lock on id and checks the object exists for txn. Objects created by txn need
// no lock since no other transaction can see them.
func (s *StandAloneStorage) lockForWrite(txn *transaction.Txn, st *txnState, id int64) error {
	if _, exists, known := st.own(id); known {
		if exists || (st.created[id] && st.writes[id] == nil) {
			return nil
		}
		return &storage.ErrObjectNotFound{ID: id}
	}
	key := objectLockKey(id)
	_, heldBefore := s.locks.HeldMode(txn.ID(), key)
	if err := s.acquire(txn, key, lockwaiter.Exclusive); err != nil {
		return err
	}
	exists, err := s.objectExists(id)
	if err != nil {
		return err
	}
	if !exists {
		if !heldBefore {
			s.locks.Release(txn.ID(), key)
		}
		return &storage.ErrObjectNotFound{ID: id}
	}
	return nil
}

func (s *StandAloneStorage) CreateObject(txn *transaction.Txn) (int64, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	id, err := s.objectIDs.Alloc()
	if err != nil {
		return 0, translate(txn.ID(), err)
	}
	st.created[int64(id)] = true
	return int64(id), nil
}

func (s *StandAloneStorage) MarkForUpdate(txn *transaction.Txn, id int64) error {
	if err := storage.CheckObjectID(id); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	return s.lockForWrite(txn, st, id)
}

func (s *StandAloneStorage) GetObject(txn *transaction.Txn, id int64, forUpdate bool) ([]byte, error) {
	if err := storage.CheckObjectID(id); err != nil {
		return nil, err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return nil, err
	}
	if forUpdate {
		if err := s.lockForWrite(txn, st, id); err != nil {
			return nil, err
		}
	}
	if data, exists, known := st.own(id); known {
		if !exists {
			return nil, &storage.ErrObjectNotFound{ID: id}
		}
		return append([]byte{}, data...), nil
	}
	if !forUpdate && s.serializable() {
		if err := s.acquire(txn, objectLockKey(id), lockwaiter.Shared); err != nil {
			return nil, err
		}
	}
	data, exists, err := s.readObject(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &storage.ErrObjectNotFound{ID: id}
	}
	return data, nil
}

func (s *StandAloneStorage) SetObject(txn *transaction.Txn, id int64, data []byte) error {
	if err := storage.CheckObjectID(id); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	if err := s.lockForWrite(txn, st, id); err != nil {
		return err
	}
	st.writes[id] = &objectWrite{data: append([]byte{}, data...)}
	return nil
}

func (s *StandAloneStorage) RemoveObject(txn *transaction.Txn, id int64) error {
	if err := storage.CheckObjectID(id); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	if _, exists, known := st.own(id); known && !exists {
		return &storage.ErrObjectNotFound{ID: id}
	}
	if err := s.lockForWrite(txn, st, id); err != nil {
		return err
	}
	st.writes[id] = &objectWrite{deleted: true}
	return nil
}

// readBinding reads the committed binding of name.
func (s *StandAloneStorage) readBinding(name string) (nameWrite, error) {
	raw, err := engine_util.GetCF(s.db, engine_util.CfName, codec.EncodeName(name))
	if err == badger.ErrKeyNotFound {
		return nameWrite{}, nil
	}
	if err != nil {
		return nameWrite{}, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	id, err := codec.DecodeObjectID(raw)
	if err != nil {
		return nameWrite{}, &storage.ErrStorage{Err: errors.Annotatef(err, "name %q", name)}
	}
	return nameWrite{id: id, bound: true}, nil
}

// binding returns the binding of name as seen by txn, taking a lock in mode first unless txn changed the name.
func (s *StandAloneStorage) binding(txn *transaction.Txn, st *txnState, name string, mode lockwaiter.Mode) (nameWrite, error) {
	if b, ok := st.names[name]; ok {
		return b, nil
	}
	if mode == lockwaiter.Exclusive || s.serializable() {
		if err := s.acquire(txn, nameLockKey(name), mode); err != nil {
			return nameWrite{}, err
		}
	}
	return s.readBinding(name)
}

func (s *StandAloneStorage) GetBinding(txn *transaction.Txn, name string) (int64, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	b, err := s.binding(txn, st, name, lockwaiter.Shared)
	if err != nil {
		return 0, err
	}
	if !b.bound {
		return 0, &storage.ErrNameNotBound{Name: name}
	}
	return b.id, nil
}

func (s *StandAloneStorage) SetBinding(txn *transaction.Txn, name string, id int64) error {
	if err := storage.CheckObjectID(id); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	if _, ok := st.names[name]; !ok {
		if err := s.lockName(txn, st, name); err != nil {
			return err
		}
	}
	st.names[name] = nameWrite{id: id, bound: true}
	return nil
}

// lockName takes the exclusive lock on name for a writer. If another transaction changed the binding while txn
// waited, txn lost the race for the name and can no longer commit.
func (s *StandAloneStorage) lockName(txn *transaction.Txn, st *txnState, name string) error {
	if held, ok := s.locks.HeldMode(txn.ID(), nameLockKey(name)); ok && held == lockwaiter.Exclusive {
		return nil
	}
	observed, err := s.readBinding(name)
	if err != nil {
		return err
	}
	if err := s.acquire(txn, nameLockKey(name), lockwaiter.Exclusive); err != nil {
		return err
	}
	current, err := s.readBinding(name)
	if err != nil {
		return err
	}
	if current != observed {
		log.Debugf("txn %d collides on name %q", txn.ID(), name)
		st.collision = &storage.ErrNameCollision{TxnID: txn.ID(), Name: name}
		return st.collision
	}
	return nil
}

func (s *StandAloneStorage) RemoveBinding(txn *transaction.Txn, name string) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	b, err := s.binding(txn, st, name, lockwaiter.Exclusive)
	if err != nil {
		return err
	}
	if !b.bound {
		return &storage.ErrNameNotBound{Name: name}
	}
	st.names[name] = nameWrite{}
	return nil
}

// scanObjects returns the smallest committed id greater than after which txn did not write, or -1.
func (s *StandAloneStorage) scanObjects(st *txnState, after int64) (int64, error) {
	next := int64(-1)
	err := s.db.View(func(txn *badger.Txn) error {
		it := engine_util.NewCFIterator(engine_util.CfObject, txn)
		defer it.Close()
		for it.Seek(codec.EncodeObjectID(after + 1)); it.Valid(); it.Next() {
			id, err := codec.DecodeObjectID(it.Item().Key())
			if err != nil {
				return err
			}
			if _, own := st.writes[id]; own {
				continue
			}
			next = id
			return nil
		}
		return nil
	})
	if err != nil {
		return 0, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	return next, nil
}

func (s *StandAloneStorage) NextObjectID(txn *transaction.Txn, id int64) (int64, error) {
	if id < -1 {
		return 0, &storage.ErrContract{Msg: "invalid object id"}
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	next, after := int64(-1), id
	for {
		next, err = s.scanObjects(st, after)
		if err != nil || next == -1 || !s.serializable() {
			break
		}
		if err = s.acquire(txn, objectLockKey(next), lockwaiter.Shared); err != nil {
			return 0, err
		}
		// The object may have been removed while we waited for it.
		exists, err := s.objectExists(next)
		if err != nil {
			return 0, err
		}
		if exists {
			break
		}
		after = next
	}
	if err != nil {
		return 0, err
	}
	for cur, w := range st.writes {
		if !w.deleted && cur > id && (next == -1 || cur < next) {
			next = cur
		}
	}
	return next, nil
}

// scanNames returns the smallest committed name greater than after which txn did not change.
func (s *StandAloneStorage) scanNames(st *txnState, after string) (string, bool, error) {
	var (
		next  string
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		it := engine_util.NewCFIterator(engine_util.CfName, txn)
		defer it.Close()
		for it.Seek(codec.EncodeName(after)); it.Valid(); it.Next() {
			name, err := codec.DecodeName(it.Item().Key())
			if err != nil {
				return err
			}
			if name == after {
				continue
			}
			if _, own := st.names[name]; own {
				continue
			}
			next, found = name, true
			return nil
		}
		return nil
	})
	if err != nil {
		return "", false, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	return next, found, nil
}

func (s *StandAloneStorage) NextBoundName(txn *transaction.Txn, name string) (string, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st, err := s.begin(txn)
	if err != nil {
		return "", err
	}
	after := name
	var (
		next  string
		found bool
	)
	for {
		next, found, err = s.scanNames(st, after)
		if err != nil {
			return "", err
		}
		if !found || !s.serializable() {
			break
		}
		if err := s.acquire(txn, nameLockKey(next), lockwaiter.Shared); err != nil {
			return "", err
		}
		b, err := s.readBinding(next)
		if err != nil {
			return "", err
		}
		if b.bound {
			break
		}
		after = next
	}
	for cur, b := range st.names {
		if b.bound && cur > name && (!found || cur < next) {
			next, found = cur, true
		}
	}
	return next, nil
}

// unfinishedPrepares logs and counts the prepared records left behind by transactions that never committed or
// aborted.
func unfinishedPrepares(db *badger.DB) (int, error) {
	pending := 0
	err := db.View(func(txn *badger.Txn) error {
		it := engine_util.NewCFIterator(engine_util.CfPrepared, txn)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.Value()
			if err != nil {
				return err
			}
			id, err := codec.DecodeUint64(item.Key())
			if err != nil {
				return errors.Annotate(err, "prepared record key")
			}
			changes, err := codec.DecodeUint64(val)
			if err != nil {
				return errors.Annotatef(err, "prepared record of txn %d", id)
			}
			log.Errorf("txn %d prepared %d changes and never finished", id, changes)
			pending++
		}
		return nil
	})
	return pending, err
}

func preparedKey(txn *transaction.Txn) []byte {
	return codec.EncodeUint64(txn.ID())
}

// Prepare makes txn's changes ready to commit by writing its prepared record. A transaction without changes
// releases its locks and reports read-only.
func (s *StandAloneStorage) Prepare(txn *transaction.Txn) (bool, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st := s.state(txn)
	if st == nil {
		return true, nil
	}
	if s.closed.Load() {
		return false, storage.ErrClosed
	}
	if s.dead.Load() {
		return false, storage.ErrRecoveryRequired
	}
	if st.collision != nil {
		return false, st.collision
	}
	if st.readOnly() {
		s.finish(txn)
		return true, nil
	}
	n := uint64(len(st.writes) + len(st.names))
	if err := engine_util.PutCF(s.db, engine_util.CfPrepared, preparedKey(txn), codec.EncodeUint64(n)); err != nil {
		return false, &storage.ErrStorage{Err: errors.WithStack(err)}
	}
	st.prepared = true
	return false, nil
}

// finish releases every lock of txn and forgets its state.
func (s *StandAloneStorage) finish(txn *transaction.Txn) {
	s.locks.ReleaseAll(txn.ID())
	s.dropState(txn)
}

func (s *StandAloneStorage) Commit(txn *transaction.Txn) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st := s.state(txn)
	if st == nil || !st.prepared {
		return &transaction.ErrNotPrepared{TxnID: txn.ID()}
	}
	return s.apply(txn, st)
}

// apply writes the changes of txn and removes its prepared record in one engine transaction.
func (s *StandAloneStorage) apply(txn *transaction.Txn, st *txnState) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if s.dead.Load() {
		return storage.ErrRecoveryRequired
	}
	wb := new(engine_util.WriteBatch)
	for id, w := range st.writes {
		key := codec.EncodeObjectID(id)
		if w.deleted {
			wb.DeleteCF(engine_util.CfObject, key)
			continue
		}
		wb.SetCF(engine_util.CfObject, key, codec.EncodeValue(w.data, s.conf.ShouldCompress(len(w.data))))
	}
	for name, b := range st.names {
		key := codec.EncodeName(name)
		if b.bound {
			wb.SetCF(engine_util.CfName, key, codec.EncodeObjectID(b.id))
		} else {
			wb.DeleteCF(engine_util.CfName, key)
		}
	}
	if st.prepared {
		wb.DeleteCF(engine_util.CfPrepared, preparedKey(txn))
	}
	if err := wb.WriteToDB(s.db); err != nil {
		if err = translate(txn.ID(), err); storage.KindOf(err) == storage.KindConflict {
			// The engine rejected the batch as a whole, so nothing of it was written.
			log.Warnf("commit of txn %d conflicted: %v", txn.ID(), err)
			if abortErr := s.abort(txn, st); abortErr != nil {
				return abortErr
			}
			return err
		}
		s.dead.Store(true)
		s.finish(txn)
		log.Errorf("commit of txn %d failed, store needs recovery: %v", txn.ID(), err)
		return storage.ErrRecoveryRequired
	}
	size := wb.Size()
	commitBytesCounter.Add(float64(size))
	s.finish(txn)
	s.checkpointer.noteWritten(size)
	return nil
}

// PrepareAndCommit commits txn in one step. No prepared record is written since the engine transaction is atomic.
func (s *StandAloneStorage) PrepareAndCommit(txn *transaction.Txn) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st := s.state(txn)
	if st == nil {
		return nil
	}
	if st.collision != nil {
		return st.collision
	}
	if st.readOnly() {
		s.finish(txn)
		return nil
	}
	return s.apply(txn, st)
}

// Abort drops txn's changes, removes its prepared record if any and releases its locks.
func (s *StandAloneStorage) Abort(txn *transaction.Txn) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	st := s.state(txn)
	if st == nil {
		return nil
	}
	return s.abort(txn, st)
}

func (s *StandAloneStorage) abort(txn *transaction.Txn, st *txnState) error {
	defer s.finish(txn)
	if st.prepared && !s.closed.Load() {
		if err := engine_util.DeleteCF(s.db, engine_util.CfPrepared, preparedKey(txn)); err != nil {
			s.dead.Store(true)
			log.Errorf("abort of prepared txn %d failed, store needs recovery: %v", txn.ID(), err)
			return storage.ErrRecoveryRequired
		}
	}
	return nil
}
