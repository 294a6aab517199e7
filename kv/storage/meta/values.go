package meta

import (
	"fmt"

	"github.com/coocood/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyobj/kv/util/codec"
	"github.com/pingcap-incubator/tinyobj/kv/util/engine_util"
	"github.com/pingcap/errors"
)

type Header struct {
	Magic        uint64
	MajorVersion uint64
	MinorVersion uint64
	NextObjectID uint64
	NextTxnID    uint64
}

func (h *Header) String() string {
	return fmt.Sprintf("magic %#x, version %d.%d, next object id %d, next txn id %d",
		h.Magic, h.MajorVersion, h.MinorVersion, h.NextObjectID, h.NextTxnID)
}

// ErrHeaderMismatch is returned when a directory holds data of another format or an incompatible version.
type ErrHeaderMismatch struct {
	Field    string
	Expected uint64
	Actual   uint64
}

func (e *ErrHeaderMismatch) Error() string {
	return fmt.Sprintf("header %s mismatch: expected %#x, found %#x", e.Field, e.Expected, e.Actual)
}

func getUint64(txn *badger.Txn, key uint64) (uint64, error) {
	val, err := engine_util.GetCFFromTxn(txn, engine_util.CfMeta, HeaderKey(key))
	if err != nil {
		return 0, err
	}
	return codec.DecodeUint64(val)
}

func putUint64(txn *badger.Txn, key, val uint64) error {
	return txn.Set(engine_util.KeyWithCF(engine_util.CfMeta, HeaderKey(key)), codec.EncodeUint64(val))
}

// GetHeader reads the header. It returns badger.ErrKeyNotFound if the store was never initialized.
func GetHeader(txn *badger.Txn) (*Header, error) {
	h := new(Header)
	fields := []struct {
		key uint64
		val *uint64
	}{
		{KeyMagic, &h.Magic},
		{KeyMajorVersion, &h.MajorVersion},
		{KeyMinorVersion, &h.MinorVersion},
		{KeyNextObjectID, &h.NextObjectID},
		{KeyNextTxnID, &h.NextTxnID},
	}
	for _, f := range fields {
		v, err := getUint64(txn, f.key)
		if err != nil {
			return nil, err
		}
		*f.val = v
	}
	return h, nil
}

// Verify checks that the header belongs to a compatible store.
func (h *Header) Verify() error {
	if h.Magic != Magic {
		return &ErrHeaderMismatch{Field: "magic", Expected: Magic, Actual: h.Magic}
	}
	if h.MajorVersion != MajorVersion {
		return &ErrHeaderMismatch{Field: "major version", Expected: MajorVersion, Actual: h.MajorVersion}
	}
	if h.MinorVersion != MinorVersion {
		log.Infof("store minor version %d differs from %d", h.MinorVersion, MinorVersion)
	}
	return nil
}

// InitHeader writes a new header, or verifies the existing one. created reports whether the header was written.
func InitHeader(db *badger.DB) (h *Header, created bool, err error) {
	err = db.Update(func(txn *badger.Txn) error {
		h, err = GetHeader(txn)
		if err == nil {
			return h.Verify()
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		// A store with data but no complete header is not ours.
		if n := engine_util.CountCF(txn, engine_util.CfObject) + engine_util.CountCF(txn, engine_util.CfMeta); n > 0 {
			return &ErrHeaderMismatch{Field: "magic", Expected: Magic}
		}
		h = &Header{
			Magic:        Magic,
			MajorVersion: MajorVersion,
			MinorVersion: MinorVersion,
			NextObjectID: InitNextObjectID,
			NextTxnID:    InitNextTxnID,
		}
		for key, val := range map[uint64]uint64{
			KeyMagic:        h.Magic,
			KeyMajorVersion: h.MajorVersion,
			KeyMinorVersion: h.MinorVersion,
			KeyNextObjectID: h.NextObjectID,
			KeyNextTxnID:    h.NextTxnID,
		} {
			if err := putUint64(txn, key, val); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	return h, created, nil
}

// AllocateBlock reserves blockSize ids from the counter at key in its own transaction and returns the reserved
// range [first, last).
func AllocateBlock(db *badger.DB, key uint64, blockSize uint64) (first, last uint64, err error) {
	if key != KeyNextObjectID && key != KeyNextTxnID {
		return 0, 0, errors.Errorf("%d is not a counter key", key)
	}
	err = db.Update(func(txn *badger.Txn) error {
		next, err := getUint64(txn, key)
		if err != nil {
			return err
		}
		first, last = next, next+blockSize
		return putUint64(txn, key, last)
	})
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}
	return first, last, nil
}
