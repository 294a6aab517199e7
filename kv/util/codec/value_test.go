package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCompression(t *testing.T) {
	repetitive := bytes.Repeat([]byte("tinyobj "), 512)
	encoded := EncodeValue(repetitive, true)
	assert.Equal(t, ValueFormatLZ4, encoded[0])
	assert.True(t, len(encoded) < len(repetitive))
	decoded, err := DecodeValue(encoded)
	require.Nil(t, err)
	assert.Equal(t, repetitive, decoded)

	// Too small to be worth compressing.
	encoded = EncodeValue([]byte("hello"), true)
	assert.Equal(t, ValueFormatRaw, encoded[0])
	decoded, err = DecodeValue(encoded)
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), decoded)

	encoded = EncodeValue(repetitive, false)
	assert.Equal(t, ValueFormatRaw, encoded[0])
	assert.Len(t, encoded, len(repetitive)+1)
}

func TestDecodeValueEmptyObject(t *testing.T) {
	decoded, err := DecodeValue(EncodeValue(nil, true))
	require.Nil(t, err)
	assert.Len(t, decoded, 0)
}

func TestDecodeValueCorrupt(t *testing.T) {
	_, err := DecodeValue(nil)
	assert.NotNil(t, err)
	_, err = DecodeValue([]byte{9, 1, 2})
	assert.NotNil(t, err)
	_, err = DecodeValue([]byte{ValueFormatLZ4})
	assert.NotNil(t, err)
}

func TestDecodeValueRejectsHugeLength(t *testing.T) {
	b := []byte{ValueFormatLZ4}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], 1<<40)
	b = append(b, buf[:n]...)
	b = append(b, 0x10, 'a')
	_, err := DecodeValue(b)
	assert.Equal(t, ErrDecompress, err)
}

func TestDecodeValueDoesNotAlias(t *testing.T) {
	encoded := EncodeValue([]byte("abc"), false)
	decoded, err := DecodeValue(encoded)
	require.Nil(t, err)
	decoded[0] = 'z'
	assert.Equal(t, byte('a'), encoded[1])
}
