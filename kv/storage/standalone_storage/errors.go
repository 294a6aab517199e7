package standalone_storage

import (
	"github.com/coocood/badger"
	"github.com/pingcap-incubator/tinyobj/kv/storage"
	"github.com/pingcap-incubator/tinyobj/kv/util/deadlock"
	"github.com/pingcap-incubator/tinyobj/kv/util/lockwaiter"
	"github.com/pingcap/errors"
)

// translate maps an engine or lock table failure onto the store's error kinds. Errors that already are store or
// coordinator errors pass through.
func translate(txnID uint64, err error) error {
	if err == nil {
		return nil
	}
	cause := errors.Cause(err)
	switch e := cause.(type) {
	case *deadlock.ErrDeadlock:
		return &storage.ErrTxnConflict{TxnID: txnID, Err: e}
	case *lockwaiter.ErrLockTimeout:
		return &storage.ErrTxnTimeout{TxnID: txnID, Err: e}
	case *storage.ErrStorage:
		return err
	}
	if cause == badger.ErrConflict {
		return &storage.ErrTxnConflict{TxnID: txnID, Err: err}
	}
	if cause == storage.ErrRecoveryRequired || storage.KindOf(err) != storage.KindStorage {
		return err
	}
	return &storage.ErrStorage{Err: err}
}
