package storage

import (
	"sync"

	"github.com/google/btree"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/transaction"
	"github.com/pingcap-incubator/tinyobj/kv/transaction/latches"
	"go.uber.org/atomic"
)

// MemStorage is an object store backed by memory. Data is not written to disk. It is intended for testing and
// as the reference for the locking discipline of the durable store.
//
// Writers take a per-object latch which is held until the transaction ends; readers never latch and see the last
// committed content. Name bindings are checked optimistically: prepare reserves every name the transaction binds
// or unbinds and fails with ErrNameCollision if another transaction changed it since it was first observed.
// Lock waits have no timeout.
type MemStorage struct {
	// mu guards objects, names and owners.
	mu      sync.RWMutex
	objects *btree.BTree
	names   *btree.BTree
	// owners maps an object to the last name bound to it, so that removing the object also removes the binding.
	owners map[int64]string

	latches *latches.Latches
	lastID  atomic.Int64
	closed  atomic.Bool

	txnMu sync.Mutex
	txns  map[uint64]*memTxnState
}

type objectItem struct {
	id   int64
	data []byte
}

func (i *objectItem) Less(than btree.Item) bool {
	return i.id < than.(*objectItem).id
}

type nameItem struct {
	name string
	id   int64
	// A reserved name is being changed by a prepared transaction. Other transactions keep seeing the previous
	// binding, if there was one.
	reserved   bool
	reservedBy uint64
	hasPrev    bool
	prev       int64
}

func (i *nameItem) Less(than btree.Item) bool {
	return i.name < than.(*nameItem).name
}

// visible returns the committed binding of the item.
func (i *nameItem) visible() (int64, bool) {
	if i.reserved {
		return i.prev, i.hasPrev
	}
	return i.id, true
}

type memObject struct {
	data []byte
	// set is false for created objects without content and for objects locked without being written.
	set bool
}

// binding is the value of a name as observed or written by a transaction.
type binding struct {
	id    int64
	bound bool
}

// memTxnState is the per transaction state. An id is in at most one of created, locked and deleted.
type memTxnState struct {
	created map[int64]*memObject
	locked  map[int64]*memObject
	peeked  map[int64][]byte
	// deleted maps each removed object to whether it was created in this transaction.
	deleted map[int64]bool

	// names maps every name bound or unbound in this transaction to its new binding. observed holds the
	// committed binding the transaction saw before its first change to the name.
	names    map[string]binding
	observed map[string]binding
	reserved []string
	prepared bool
}

func newMemTxnState() *memTxnState {
	return &memTxnState{
		created:  map[int64]*memObject{},
		locked:   map[int64]*memObject{},
		peeked:   map[int64][]byte{},
		deleted:  map[int64]bool{},
		names:    map[string]binding{},
		observed: map[string]binding{},
	}
}

func (st *memTxnState) readOnly() bool {
	if len(st.created) > 0 || len(st.deleted) > 0 || len(st.names) > 0 {
		return false
	}
	for _, obj := range st.locked {
		if obj.set {
			return false
		}
	}
	return true
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		objects: btree.New(32),
		names:   btree.New(32),
		owners:  map[int64]string{},
		latches: latches.NewLatches(),
		txns:    map[uint64]*memTxnState{},
	}
}

func copyBytes(b []byte) []byte {
	res := make([]byte, len(b))
	copy(res, b)
	return res
}

// begin checks that txn may still be used, joins the store to it and returns its state.
func (s *MemStorage) begin(txn *transaction.Txn) (*memTxnState, error) {
	if s.closed.Load() {
		return nil, ErrClosed
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
		st = newMemTxnState()
		s.txns[txn.ID()] = st
	}
	return st, nil
}

func (s *MemStorage) state(txn *transaction.Txn) *memTxnState {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	return s.txns[txn.ID()]
}

func (s *MemStorage) dropState(txn *transaction.Txn) {
	s.txnMu.Lock()
	delete(s.txns, txn.ID())
	s.txnMu.Unlock()
}

func (s *MemStorage) committed(id int64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.objects.Get(&objectItem{id: id})
	if item == nil {
		return nil, false
	}
	return item.(*objectItem).data, true
}

func (s *MemStorage) CreateObject(txn *transaction.Txn) (int64, error) {
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	id := s.lastID.Inc()
	if !s.latches.Insert(id) {
		panic("object id reused")
	}
	st.created[id] = &memObject{}
	return id, nil
}

// lock takes the latch of a committed object for txn, blocking while another transaction holds it.
func (s *MemStorage) lock(st *memTxnState, id int64) (*memObject, error) {
	if obj, ok := st.created[id]; ok {
		return obj, nil
	}
	if obj, ok := st.locked[id]; ok {
		return obj, nil
	}
	if _, ok := st.deleted[id]; ok {
		return nil, &ErrObjectNotFound{ID: id}
	}
	if _, ok := s.committed(id); !ok {
		return nil, &ErrObjectNotFound{ID: id}
	}
	if !s.latches.Acquire(id) {
		// Removed by the transaction we waited for.
		return nil, &ErrObjectNotFound{ID: id}
	}
	data, ok := s.committed(id)
	if !ok {
		s.latches.Release(id)
		return nil, &ErrObjectNotFound{ID: id}
	}
	obj := &memObject{data: data}
	st.locked[id] = obj
	delete(st.peeked, id)
	return obj, nil
}

func (s *MemStorage) MarkForUpdate(txn *transaction.Txn, id int64) error {
	if err := CheckObjectID(id); err != nil {
		return err
	}
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	_, err = s.lock(st, id)
	return err
}

func (s *MemStorage) GetObject(txn *transaction.Txn, id int64, forUpdate bool) ([]byte, error) {
	if err := CheckObjectID(id); err != nil {
		return nil, err
	}
	st, err := s.begin(txn)
	if err != nil {
		return nil, err
	}
	if forUpdate {
		obj, err := s.lock(st, id)
		if err != nil {
			return nil, err
		}
		if _, created := st.created[id]; created && !obj.set {
			return nil, &ErrObjectNotFound{ID: id}
		}
		return copyBytes(obj.data), nil
	}
	return s.peek(st, id)
}

// peek reads id without latching. Committed content is cached for the rest of the transaction.
func (s *MemStorage) peek(st *memTxnState, id int64) ([]byte, error) {
	if _, ok := st.deleted[id]; ok {
		return nil, &ErrObjectNotFound{ID: id}
	}
	if obj, ok := st.created[id]; ok {
		if !obj.set {
			return nil, &ErrObjectNotFound{ID: id}
		}
		return copyBytes(obj.data), nil
	}
	if obj, ok := st.locked[id]; ok {
		return copyBytes(obj.data), nil
	}
	if data, ok := st.peeked[id]; ok {
		return copyBytes(data), nil
	}
	data, ok := s.committed(id)
	if !ok {
		return nil, &ErrObjectNotFound{ID: id}
	}
	st.peeked[id] = data
	return copyBytes(data), nil
}

func (s *MemStorage) SetObject(txn *transaction.Txn, id int64, data []byte) error {
	if err := CheckObjectID(id); err != nil {
		return err
	}
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	obj, err := s.lock(st, id)
	if err != nil {
		return err
	}
	obj.data = copyBytes(data)
	obj.set = true
	return nil
}

func (s *MemStorage) RemoveObject(txn *transaction.Txn, id int64) error {
	if err := CheckObjectID(id); err != nil {
		return err
	}
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	if obj, ok := st.created[id]; ok {
		if !obj.set {
			return &ErrObjectNotFound{ID: id}
		}
		delete(st.created, id)
		st.deleted[id] = true
		return nil
	}
	if _, err := s.lock(st, id); err != nil {
		return err
	}
	delete(st.locked, id)
	delete(st.peeked, id)
	st.deleted[id] = false
	return nil
}

// committedBinding returns the binding of name visible to transactions other than the one reserving it.
func (s *MemStorage) committedBinding(name string) binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.names.Get(&nameItem{name: name})
	if item == nil {
		return binding{}
	}
	id, ok := item.(*nameItem).visible()
	return binding{id: id, bound: ok}
}

func (s *MemStorage) GetBinding(txn *transaction.Txn, name string) (int64, error) {
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	b, ok := st.names[name]
	if !ok {
		b = s.committedBinding(name)
	}
	if !b.bound {
		return 0, &ErrNameNotBound{Name: name}
	}
	return b.id, nil
}

func (s *MemStorage) changeBinding(st *memTxnState, name string, b binding) {
	if _, ok := st.observed[name]; !ok {
		st.observed[name] = s.committedBinding(name)
	}
	st.names[name] = b
}

func (s *MemStorage) SetBinding(txn *transaction.Txn, name string, id int64) error {
	if err := CheckObjectID(id); err != nil {
		return err
	}
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	s.changeBinding(st, name, binding{id: id, bound: true})
	return nil
}

func (s *MemStorage) RemoveBinding(txn *transaction.Txn, name string) error {
	st, err := s.begin(txn)
	if err != nil {
		return err
	}
	b, ok := st.names[name]
	if !ok {
		b = s.committedBinding(name)
	}
	if !b.bound {
		return &ErrNameNotBound{Name: name}
	}
	s.changeBinding(st, name, binding{})
	return nil
}

func (s *MemStorage) NextObjectID(txn *transaction.Txn, id int64) (int64, error) {
	if id < -1 {
		return 0, contractErrorf("invalid object id %d", id)
	}
	st, err := s.begin(txn)
	if err != nil {
		return 0, err
	}
	next := int64(-1)
	s.mu.RLock()
	s.objects.AscendGreaterOrEqual(&objectItem{id: id + 1}, func(i btree.Item) bool {
		cur := i.(*objectItem).id
		if _, ok := st.deleted[cur]; ok {
			return true
		}
		next = cur
		return false
	})
	s.mu.RUnlock()
	for cur, obj := range st.created {
		if obj.set && cur > id && (next == -1 || cur < next) {
			next = cur
		}
	}
	return next, nil
}

func (s *MemStorage) NextBoundName(txn *transaction.Txn, name string) (string, error) {
	st, err := s.begin(txn)
	if err != nil {
		return "", err
	}
	next, found := "", false
	s.mu.RLock()
	s.names.AscendGreaterOrEqual(&nameItem{name: name}, func(i btree.Item) bool {
		item := i.(*nameItem)
		if item.name == name {
			return true
		}
		// Names changed by txn are handled below.
		if _, own := st.names[item.name]; own {
			return true
		}
		if _, ok := item.visible(); !ok {
			return true
		}
		next, found = item.name, true
		return false
	})
	s.mu.RUnlock()
	for cur, b := range st.names {
		if b.bound && cur > name && (!found || cur < next) {
			next, found = cur, true
		}
	}
	return next, nil
}

// Prepare reserves every name txn changes. A transaction without changes releases its latches and reports
// read-only.
func (s *MemStorage) Prepare(txn *transaction.Txn) (bool, error) {
	st := s.state(txn)
	if st == nil {
		return true, nil
	}
	if st.readOnly() {
		for id := range st.locked {
			s.latches.Release(id)
		}
		s.dropState(txn)
		return true, nil
	}
	if err := s.reserveNames(txn, st); err != nil {
		return false, err
	}
	st.prepared = true
	return false, nil
}

func (s *MemStorage) reserveNames(txn *transaction.Txn, st *memTxnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range st.names {
		observed := st.observed[name]
		var item *nameItem
		if i := s.names.Get(&nameItem{name: name}); i != nil {
			item = i.(*nameItem)
		}
		var current binding
		if item != nil {
			id, ok := item.visible()
			current = binding{id: id, bound: ok}
		}
		if (item != nil && item.reserved) || current != observed {
			s.unreserveLocked(txn, st)
			log.Debugf("txn %d collides on name %q", txn.ID(), name)
			return &ErrNameCollision{TxnID: txn.ID(), Name: name}
		}
		s.names.ReplaceOrInsert(&nameItem{
			name:       name,
			id:         current.id,
			reserved:   true,
			reservedBy: txn.ID(),
			hasPrev:    current.bound,
			prev:       current.id,
		})
		st.reserved = append(st.reserved, name)
	}
	return nil
}

// unreserveLocked puts back the bindings reserved by txn. s.mu must be held.
func (s *MemStorage) unreserveLocked(txn *transaction.Txn, st *memTxnState) {
	for _, name := range st.reserved {
		i := s.names.Get(&nameItem{name: name})
		if i == nil {
			continue
		}
		item := i.(*nameItem)
		if !item.reserved || item.reservedBy != txn.ID() {
			continue
		}
		if item.hasPrev {
			s.names.ReplaceOrInsert(&nameItem{name: name, id: item.prev})
		} else {
			s.names.Delete(item)
		}
	}
	st.reserved = nil
}

func (s *MemStorage) Commit(txn *transaction.Txn) error {
	st := s.state(txn)
	if st == nil || !st.prepared {
		return &transaction.ErrNotPrepared{TxnID: txn.ID()}
	}

	s.mu.Lock()
	for id, obj := range st.created {
		if obj.set {
			s.objects.ReplaceOrInsert(&objectItem{id: id, data: obj.data})
		}
	}
	for id, obj := range st.locked {
		if obj.set {
			s.objects.ReplaceOrInsert(&objectItem{id: id, data: obj.data})
		}
	}
	for _, name := range st.reserved {
		b := st.names[name]
		if b.bound {
			s.names.ReplaceOrInsert(&nameItem{name: name, id: b.id})
			s.owners[b.id] = name
		} else {
			s.names.Delete(&nameItem{name: name})
		}
	}
	for id := range st.deleted {
		s.objects.Delete(&objectItem{id: id})
		if name, ok := s.owners[id]; ok {
			delete(s.owners, id)
			if i := s.names.Get(&nameItem{name: name}); i != nil {
				if item := i.(*nameItem); !item.reserved && item.id == id {
					s.names.Delete(item)
				}
			}
		}
	}
	s.mu.Unlock()

	// Latches go after the data is published, so that a woken waiter sees the new state.
	for id, obj := range st.created {
		if obj.set {
			s.latches.Release(id)
		} else {
			s.latches.Remove(id)
		}
	}
	for id := range st.locked {
		s.latches.Release(id)
	}
	for id := range st.deleted {
		s.latches.Remove(id)
	}
	s.dropState(txn)
	return nil
}

func (s *MemStorage) PrepareAndCommit(txn *transaction.Txn) error {
	readOnly, err := s.Prepare(txn)
	if err != nil || readOnly {
		return err
	}
	return s.Commit(txn)
}

// Abort releases everything txn holds without publishing any change. It is a no-op for unknown transactions.
func (s *MemStorage) Abort(txn *transaction.Txn) error {
	st := s.state(txn)
	if st == nil {
		return nil
	}
	if len(st.reserved) > 0 {
		s.mu.Lock()
		s.unreserveLocked(txn, st)
		s.mu.Unlock()
	}
	for id := range st.created {
		s.latches.Remove(id)
	}
	for id := range st.locked {
		s.latches.Release(id)
	}
	for id, createdHere := range st.deleted {
		if createdHere {
			s.latches.Remove(id)
		} else {
			s.latches.Release(id)
		}
	}
	s.dropState(txn)
	return nil
}

// Close makes every later operation fail. Transactions still open are not aborted.
func (s *MemStorage) Close() error {
	s.closed.Store(true)
	return nil
}
