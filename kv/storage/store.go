package storage

import "github.com/pingcap-incubator/tinyobj/kv/transaction"

// Store is the object store. Every operation runs inside txn, joining the store to it on first use, and observes
// the transaction's own uncommitted changes. Changes become visible to other transactions when txn commits.
type Store interface {
	// CreateObject reserves a new object identifier. The object has no content until SetObject is called.
	CreateObject(txn *transaction.Txn) (int64, error)
	// MarkForUpdate takes write intent on id without reading it.
	MarkForUpdate(txn *transaction.Txn, id int64) error
	// GetObject returns the content of id, taking write intent first if forUpdate is set.
	GetObject(txn *transaction.Txn, id int64, forUpdate bool) ([]byte, error)
	SetObject(txn *transaction.Txn, id int64, data []byte) error
	RemoveObject(txn *transaction.Txn, id int64) error

	GetBinding(txn *transaction.Txn, name string) (int64, error)
	SetBinding(txn *transaction.Txn, name string, id int64) error
	RemoveBinding(txn *transaction.Txn, name string) error

	// NextObjectID returns the smallest live object identifier greater than id, or -1 if there is none. Pass -1 to
	// start from the beginning.
	NextObjectID(txn *transaction.Txn, id int64) (int64, error)
	// NextBoundName returns the smallest bound name greater than name, or "" if there is none. Pass "" to start
	// from the beginning.
	NextBoundName(txn *transaction.Txn, name string) (string, error)

	Close() error
}

// ParticipantStore is a store which takes part in two-phase commit.
type ParticipantStore interface {
	Store
	transaction.Participant
}
