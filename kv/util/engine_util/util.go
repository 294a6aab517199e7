package engine_util

import (
	"github.com/coocood/badger"
)

// Logical key spaces. Badger has no column families, so every key is prefixed with its
// key space name.
const (
	CfObject   string = "obj"
	CfName     string = "name"
	CfMeta     string = "meta"
	CfPrepared string = "prep"
)

func KeyWithCF(cf string, key []byte) []byte {
	res := make([]byte, 0, len(cf)+1+len(key))
	res = append(res, cf...)
	res = append(res, '_')
	return append(res, key...)
}

func GetCF(db *badger.DB, cf string, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		val, err = GetCFFromTxn(txn, cf, key)
		return err
	})
	return
}

// GetCFFromTxn returns a copy of the value, or badger.ErrKeyNotFound.
func GetCFFromTxn(txn *badger.Txn, cf string, key []byte) (val []byte, err error) {
	item, err := txn.Get(KeyWithCF(cf, key))
	if err != nil {
		return nil, err
	}
	val, err = item.ValueCopy(val)
	return
}

func PutCF(db *badger.DB, cf string, key []byte, val []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(KeyWithCF(cf, key), val)
	})
}

func DeleteCF(db *badger.DB, cf string, key []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(KeyWithCF(cf, key))
	})
}

// CountCF returns the number of keys in a key space.
func CountCF(txn *badger.Txn, cf string) int {
	it := NewCFIterator(cf, txn)
	defer it.Close()
	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
