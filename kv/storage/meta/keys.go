package meta

import (
	"github.com/pingcap-incubator/tinyobj/kv/util/codec"
)

// Header keys in the meta key space.
const (
	KeyMagic uint64 = iota
	KeyMajorVersion
	KeyMinorVersion
	KeyNextObjectID
	KeyNextTxnID
)

const (
	// Magic marks a directory as a tinyobj store.
	Magic uint64 = 0x74696e796f626a01
	// MajorVersion must match exactly. MinorVersion is informational; readers accept any minor version.
	MajorVersion uint64 = 1
	MinorVersion uint64 = 0
)

const (
	// Object id 0 is never handed out.
	InitNextObjectID uint64 = 1
	InitNextTxnID    uint64 = 1
)

func HeaderKey(key uint64) []byte {
	return codec.EncodeUint64(key)
}
