package record

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Operation{
		&OpCreate{ID: "doc-1", DocType: "_doc", Source: []byte(`{"a":1}`), HasRoute: true, Routing: "shard-0",
			Version: 1, Timestamp: 1000, TTL: 0, VerType: VersionTypeInternal},
		&OpSave{ID: "doc-2", DocType: "_doc", Source: []byte(`{"b":2}`), HasParent: true, Parent: "doc-1",
			Version: 2, Timestamp: 2000, VerType: VersionTypeExternal},
		&OpDelete{UIDField: "_id", UIDText: "doc-1", Version: 3, VerType: VersionTypeForce},
	}

	for _, op := range cases {
		encoded, err := Encode(op)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, op, decoded)
	}
}

func TestEncodeRefusesDeleteByQuery(t *testing.T) {
	_, err := Encode(&OpDeleteByQuery{Types: []string{"t"}})
	assert.Error(t, err)
}

func TestDecodeDeleteByQuery(t *testing.T) {
	body := []byte{byte(DeleteByQuery)}
	body = appendUvarint(body, 2) // serializationFormat
	body = appendBytes(body, []byte("query"))
	body = appendUvarint(body, 1)
	body = appendString(body, "type1")
	body = appendUvarint(body, 2)
	body = appendString(body, "alias1")
	body = appendString(body, "alias2")

	rec := buildRecord(t, body)
	op, err := Decode(rec)
	require.NoError(t, err)

	dbq, ok := op.(*OpDeleteByQuery)
	require.True(t, ok)
	assert.Equal(t, []byte("query"), dbq.Source)
	assert.Equal(t, []string{"type1"}, dbq.Types)
	assert.Equal(t, []string{"alias1", "alias2"}, dbq.Aliases)
}

func TestDecodeStreamDetectsTruncation(t *testing.T) {
	op := &OpDelete{UIDField: "_id", UIDText: "doc-1", Version: 1}
	full, err := Encode(op)
	require.NoError(t, err)

	truncated := full[:len(full)-3]
	_, _, err = DecodeStream(bytes.NewReader(truncated))
	var truncErr *TruncatedError
	assert.True(t, errors.As(err, &truncErr))
}

func TestDecodeStreamDetectsCorruption(t *testing.T) {
	op := &OpCreate{ID: "doc-1", DocType: "_doc", Source: []byte("x")}
	full, err := Encode(op)
	require.NoError(t, err)

	full[len(full)-1] ^= 0xFF // flip every bit of the checksum's last byte
	_, _, err = DecodeStream(bytes.NewReader(full))
	var corruptErr *CorruptedError
	assert.True(t, errors.As(err, &corruptErr))
}

func TestDecodeStreamEOFAtCleanBoundary(t *testing.T) {
	_, _, err := DecodeStream(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestDecodeStreamPartialOpSizeIsTruncatedNotEOF(t *testing.T) {
	_, _, err := DecodeStream(bytes.NewReader([]byte{0x00, 0x00}))
	var truncErr *TruncatedError
	assert.True(t, errors.As(err, &truncErr))
	assert.NotEqual(t, io.EOF, err)
}

func TestDecodeStreamConsumesExactlyOneRecordAtATime(t *testing.T) {
	op1, err := Encode(&OpDelete{UIDField: "_id", UIDText: "a", Version: 1})
	require.NoError(t, err)
	op2, err := Encode(&OpDelete{UIDField: "_id", UIDText: "b", Version: 2})
	require.NoError(t, err)

	r := bytes.NewReader(append(append([]byte{}, op1...), op2...))
	first, n1, err := DecodeStream(r)
	require.NoError(t, err)
	assert.Equal(t, int64(len(op1)), n1)
	assert.Equal(t, "a", first.(*OpDelete).UIDText)

	second, n2, err := DecodeStream(r)
	require.NoError(t, err)
	assert.Equal(t, int64(len(op2)), n2)
	assert.Equal(t, "b", second.(*OpDelete).UIDText)

	_, _, err = DecodeStream(r)
	assert.Equal(t, io.EOF, err)
}

func buildRecord(t *testing.T, body []byte) []byte {
	t.Helper()
	crc := crc32.ChecksumIEEE(body)
	out := appendInt32(nil, int32(len(body)+checksumLenBytes))
	out = append(out, body...)
	out = appendUint32(out, crc)
	return out
}
