package xdr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpaque_Padding tests the 4-byte alignment rule across lengths.
func TestOpaque_Padding(t *testing.T) {
	for length := 0; length <= 8; length++ {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i + 1)
		}

		buf := new(bytes.Buffer)
		require.NoError(t, WriteOpaque(buf, data))
		assert.Zero(t, buf.Len()%4, "length %d must encode 4-byte aligned", length)

		got, err := DecodeOpaque(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

// TestString_Roundtrip tests string encoding including multi-byte UTF-8.
func TestString_Roundtrip(t *testing.T) {
	for _, s := range []string{"", "a", "abcd", "héllo", "name.with.dots"} {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteString(buf, s))

		got, err := DecodeString(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

// TestIntegers_Roundtrip tests the fixed-width integer encodings.
func TestIntegers_Roundtrip(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteUint32(buf, 0xdeadbeef))
	require.NoError(t, WriteUint64(buf, 1<<40))
	require.NoError(t, WriteInt64(buf, -7))
	require.NoError(t, WriteBool(buf, true))

	r := bytes.NewReader(buf.Bytes())

	u32, err := DecodeUint32(r)
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, u32)

	u64, err := DecodeUint64(r)
	require.NoError(t, err)
	assert.EqualValues(t, 1<<40, u64)

	i64, err := DecodeInt64(r)
	require.NoError(t, err)
	assert.EqualValues(t, -7, i64)

	b, err := DecodeBool(r)
	require.NoError(t, err)
	assert.True(t, b)
}

// TestOpaque_RejectsHugeLength tests the corrupt-length guard.
func TestOpaque_RejectsHugeLength(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteUint32(buf, 1<<30))

	_, err := DecodeOpaque(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}
