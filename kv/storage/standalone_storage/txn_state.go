package standalone_storage

type objectWrite struct {
	data    []byte
	deleted bool
}

type nameWrite struct {
	id    int64
	bound bool
}

// txnState buffers the changes of one transaction until commit. Locks are tracked by the lock table, not here.
type txnState struct {
	// created holds the ids allocated by the transaction. They have no record until written.
	created map[int64]bool
	writes  map[int64]*objectWrite
	names   map[string]nameWrite
	// prepared is set once the prepared record is written.
	prepared bool
	// collision is set when another transaction bound a name first. Such a transaction can only abort.
	collision error
}

func newTxnState() *txnState {
	return &txnState{
		created: map[int64]bool{},
		writes:  map[int64]*objectWrite{},
		names:   map[string]nameWrite{},
	}
}

func (st *txnState) readOnly() bool {
	return len(st.writes) == 0 && len(st.names) == 0
}

// own returns the transaction's view of id. known is false when the engine must be consulted.
func (st *txnState) own(id int64) (data []byte, exists, known bool) {
	if w, ok := st.writes[id]; ok {
		return w.data, !w.deleted, true
	}
	if st.created[id] {
		// Created but never set.
		return nil, false, true
	}
	return nil, false, false
}
