package engine_util

import (
	"github.com/coocood/badger"
	"github.com/pingcap/errors"
)

type batchEntry struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch buffers writes across key spaces and applies them in one badger transaction.
// An empty value is a legal value, deletes are tracked explicitly.
type WriteBatch struct {
	entries []batchEntry
	size    int
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int {
	return wb.size
}

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:   KeyWithCF(cf, key),
		value: val,
	})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:    KeyWithCF(cf, key),
		delete: true,
	})
	wb.size += len(key)
}

// WriteToTxn stages the batch into an update transaction.
func (wb *WriteBatch) WriteToTxn(txn *badger.Txn) error {
	for _, entry := range wb.entries {
		var err error
		if entry.delete {
			err = txn.Delete(entry.key)
		} else {
			err = txn.Set(entry.key, entry.value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) > 0 {
		err := db.Update(wb.WriteToTxn)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
