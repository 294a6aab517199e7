package codec

import (
	"encoding/binary"

	"github.com/pierrec/lz4"
	"github.com/pingcap/errors"
)

// Stored object values start with one format byte.
const (
	ValueFormatRaw byte = 0
	ValueFormatLZ4 byte = 1
)

var ErrDecompress = errors.New("error during decompress")

// EncodeValue prefixes value with its format byte. If compress is set the value is stored lz4-compressed, unless
// compression does not save at least an eighth of its size.
func EncodeValue(value []byte, compress bool) []byte {
	if compress && len(value) > 0 {
		if compressed := lz4Compress(value); compressed != nil && isGoodCompressionRatio(compressed, value) {
			return compressed
		}
	}
	res := make([]byte, 1+len(value))
	res[0] = ValueFormatRaw
	copy(res[1:], value)
	return res
}

// DecodeValue returns the object bytes of a value written by EncodeValue. The result never aliases b.
func DecodeValue(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty value")
	}
	switch b[0] {
	case ValueFormatRaw:
		res := make([]byte, len(b)-1)
		copy(res, b[1:])
		return res, nil
	case ValueFormatLZ4:
		return lz4Decompress(b[1:])
	}
	return nil, errors.Errorf("unknown value format %d", b[0])
}

// lz4Compress writes [format][uvarint raw length][lz4 block].
func lz4Compress(input []byte) []byte {
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(input)))
	header := 1 + n
	dst := make([]byte, header+lz4.CompressBlockBound(len(input)))
	dst[0] = ValueFormatLZ4
	copy(dst[1:], varintBuf[:n])
	var ht [1 << 16]int
	size, err := lz4.CompressBlock(input, dst[header:], ht[:])
	if err != nil || size == 0 {
		return nil
	}
	return dst[:header+size]
}

func isGoodCompressionRatio(compressed, input []byte) bool {
	cl, rl := len(compressed), len(input)
	return cl < rl-(rl/8)
}

// An lz4 block never inflates by more than this factor.
const lz4MaxExpansion = 255

func lz4Decompress(input []byte) ([]byte, error) {
	size, n := binary.Uvarint(input)
	if n <= 0 || size > uint64(len(input)-n)*lz4MaxExpansion {
		return nil, ErrDecompress
	}
	dst := make([]byte, size)
	written, err := lz4.UncompressBlock(input[n:], dst)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if uint64(written) != size {
		return nil, ErrDecompress
	}
	return dst, nil
}
