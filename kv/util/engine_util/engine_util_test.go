package engine_util

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinyobj/kv/config"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*badger.DB, string) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	conf := config.NewTestConfig()
	conf.DBPath = dir
	db, err := CreateDB(conf)
	require.Nil(t, err)
	return db, dir
}

func TestEngineUtil(t *testing.T) {
	db, dir := newTestDB(t)
	defer os.RemoveAll(dir)
	defer db.Close()

	batch := new(WriteBatch)
	batch.SetCF(CfObject, []byte("a"), []byte("a1"))
	batch.SetCF(CfObject, []byte("b"), []byte("b1"))
	batch.SetCF(CfObject, []byte("c"), []byte("c1"))
	batch.SetCF(CfObject, []byte("d"), []byte("d1"))
	batch.SetCF(CfName, []byte("a"), []byte("a2"))
	batch.SetCF(CfName, []byte("b"), []byte("b2"))
	batch.SetCF(CfName, []byte("d"), []byte("d2"))
	batch.SetCF(CfMeta, []byte("a"), []byte("a3"))
	batch.SetCF(CfMeta, []byte("c"), []byte("c3"))
	batch.SetCF(CfObject, []byte("e"), []byte("e1"))
	batch.DeleteCF(CfObject, []byte("e"))
	require.Equal(t, 11, batch.Len())
	err := batch.WriteToDB(db)
	require.Nil(t, err)

	_, err = GetCF(db, CfObject, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	err = PutCF(db, CfObject, []byte("e"), []byte("e2"))
	require.Nil(t, err)
	val, _ := GetCF(db, CfObject, []byte("e"))
	require.Equal(t, val, []byte("e2"))
	err = DeleteCF(db, CfObject, []byte("e"))
	require.Nil(t, err)
	_, err = GetCF(db, CfObject, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	txn := db.NewTransaction(false)
	defer txn.Discard()
	objIter := NewCFIterator(CfObject, txn)
	objIter.Seek([]byte("a"))
	for _, expect := range []string{"a", "b", "c", "d"} {
		require.True(t, objIter.Valid())
		item := objIter.Item()
		require.True(t, bytes.Equal(item.Key(), []byte(expect)))
		val, _ = item.Value()
		require.True(t, bytes.Equal(val, []byte(expect+"1")))
		objIter.Next()
	}
	require.False(t, objIter.Valid())
	objIter.Close()

	nameIter := NewCFIterator(CfName, txn)
	nameIter.Seek([]byte("b"))
	item := nameIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("b")))
	nameIter.Next()
	item = nameIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("d")))
	nameIter.Next()
	require.False(t, nameIter.Valid())
	nameIter.Close()

	metaIter := NewCFIterator(CfMeta, txn)
	metaIter.Seek([]byte("d"))
	require.False(t, metaIter.Valid())
	metaIter.Close()

	require.Equal(t, 4, CountCF(txn, CfObject))
	require.Equal(t, 0, CountCF(txn, CfPrepared))
}

func TestWriteBatchEmptyValue(t *testing.T) {
	db, dir := newTestDB(t)
	defer os.RemoveAll(dir)
	defer db.Close()

	batch := new(WriteBatch)
	batch.SetCF(CfObject, []byte("empty"), []byte{})
	require.Nil(t, batch.WriteToDB(db))

	val, err := GetCF(db, CfObject, []byte("empty"))
	require.Nil(t, err)
	require.Len(t, val, 0)
}
