package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Record layout on disk:
//
//	opSize:int32 | opTypeTag:int8 | op body (variant-specific) | checksum:int32
//
// opSize covers everything after itself (tag + body + checksum). checksum
// is a CRC-32 (IEEE polynomial, matching hash/crc32's default table) over
// tag+body only; opSize is never included in the checksum.
const (
	opSizeLenBytes   = 4
	opTagLenBytes    = 1
	checksumLenBytes = 4

	serializationFormatCreateSave = 6
	serializationFormatDelete     = 2
	serializationFormatDBQ        = 2
)

// Encode serializes op into a single, self-contained, checksummed
// record ready to append to a generation file. It measures the body by
// building it in full before emitting opSize: the buffer's length after
// writing tag+body is exactly opSize-checksumLenBytes.
func Encode(op Operation) ([]byte, error) {
	if op.OpType() == DeleteByQuery {
		return nil, fmt.Errorf("translog: DELETE_BY_QUERY is decode-only, refusing to encode")
	}

	body := make([]byte, 0, op.EstimateSize()+opTagLenBytes)
	body = append(body, byte(op.OpType()))

	var err error
	switch o := op.(type) {
	case *OpCreate:
		body, err = encodeCreateOrSave(body, o.ID, o.DocType, o.Source, o.HasRoute, o.Routing, o.HasParent, o.Parent, o.Version, o.Timestamp, o.TTL, o.VerType)
	case *OpSave:
		body, err = encodeCreateOrSave(body, o.ID, o.DocType, o.Source, o.HasRoute, o.Routing, o.HasParent, o.Parent, o.Version, o.Timestamp, o.TTL, o.VerType)
	case *OpDelete:
		body, err = encodeDelete(body, o)
	default:
		return nil, fmt.Errorf("translog: unsupported operation type %T", op)
	}
	if err != nil {
		return nil, err
	}

	crc := crc32.ChecksumIEEE(body)
	opSize := len(body) + checksumLenBytes

	out := make([]byte, 0, opSizeLenBytes+len(body)+checksumLenBytes)
	out = appendInt32(out, int32(opSize))
	out = append(out, body...)
	out = appendUint32(out, crc)
	return out, nil
}

// Decode parses a complete record (as produced by Encode, including its
// opSize prefix) into an Operation. buf must hold exactly one record.
func Decode(buf []byte) (Operation, error) {
	if len(buf) < opSizeLenBytes {
		return nil, truncated(0, "record shorter than opSize prefix")
	}
	opSize := int(int32(binary.BigEndian.Uint32(buf[:opSizeLenBytes])))
	rest := buf[opSizeLenBytes:]
	if opSize < opTagLenBytes+checksumLenBytes {
		return nil, corrupted(0, "opSize smaller than minimum record body")
	}
	if len(rest) < opSize {
		return nil, truncated(int64(len(buf)), "fewer bytes available than opSize declares")
	}
	body := rest[:opSize-checksumLenBytes]
	storedCRC := binary.BigEndian.Uint32(rest[opSize-checksumLenBytes : opSize])

	return decodeBody(body, storedCRC)
}

// DecodeStream reads exactly one record from r, which must be positioned
// at a record boundary, and returns the decoded operation plus the total
// number of bytes consumed (including the opSize prefix and checksum).
// A premature EOF is reported as *TruncatedError so a forward iterator
// can treat it as "end of valid records" rather than a hard failure.
func DecodeStream(r io.Reader) (Operation, int64, error) {
	var sizeBuf [opSizeLenBytes]byte
	n, err := io.ReadFull(r, sizeBuf[:])
	if err == io.EOF {
		// Clean end of stream: nothing at all was read of the next record.
		return nil, 0, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, 0, truncated(0, "premature EOF reading opSize prefix (%d/%d bytes)", n, opSizeLenBytes)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("translog: reading opSize: %w", err)
	}
	opSize := int(int32(binary.BigEndian.Uint32(sizeBuf[:])))
	if opSize < opTagLenBytes+checksumLenBytes {
		return nil, 0, corrupted(0, "opSize smaller than minimum record body")
	}

	rest := make([]byte, opSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, 0, truncated(0, "reading %d body bytes: %v", opSize, err)
	}

	body := rest[:opSize-checksumLenBytes]
	storedCRC := binary.BigEndian.Uint32(rest[opSize-checksumLenBytes:])

	op, err := decodeBody(body, storedCRC)
	if err != nil {
		return nil, 0, err
	}
	return op, int64(opSizeLenBytes + opSize), nil
}

func decodeBody(body []byte, storedCRC uint32) (Operation, error) {
	computed := crc32.ChecksumIEEE(body)
	if computed != storedCRC {
		return nil, corrupted(0, "checksum mismatch: computed %08x, stored %08x", computed, storedCRC)
	}
	if len(body) < 1 {
		return nil, corrupted(0, "empty record body")
	}
	tag := Type(body[0])
	rd := bytes.NewReader(body[1:])
	switch tag {
	case Create:
		return decodeCreateOrSave(rd, true)
	case Save:
		return decodeCreateOrSave(rd, false)
	case Delete:
		return decodeDelete(rd)
	case DeleteByQuery:
		return decodeDeleteByQuery(rd)
	default:
		return nil, corrupted(0, "unknown operation type tag %d", tag)
	}
}

// --- CREATE / SAVE ---
//
// vint serializationFormat(=6) | string id | string type | bytes source |
// bool hasRouting [string routing] | bool hasParent [string parent] |
// int64 version | int64 timestamp | int64 ttl | int8 versionType

func encodeCreateOrSave(buf []byte, id, docType string, source []byte, hasRouting bool, routing string,
	hasParent bool, parent string, version, timestamp, ttl int64, verType VersionType,
) ([]byte, error) {
	buf = appendUvarint(buf, serializationFormatCreateSave)
	buf = appendString(buf, id)
	buf = appendString(buf, docType)
	buf = appendBytes(buf, source)
	buf = appendBool(buf, hasRouting)
	if hasRouting {
		buf = appendString(buf, routing)
	}
	buf = appendBool(buf, hasParent)
	if hasParent {
		buf = appendString(buf, parent)
	}
	buf = appendInt64(buf, version)
	buf = appendInt64(buf, timestamp)
	buf = appendInt64(buf, ttl)
	buf = append(buf, byte(verType))
	return buf, nil
}

func decodeCreateOrSave(r *bytes.Reader, isCreate bool) (Operation, error) {
	format, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	id, err := readString(r)
	if err != nil {
		return nil, err
	}
	docType, err := readString(r)
	if err != nil {
		return nil, err
	}
	source, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var routing string
	var hasRouting bool
	if format >= 1 {
		hasRouting, err = readBool(r)
		if err != nil {
			return nil, err
		}
		if hasRouting {
			routing, err = readString(r)
			if err != nil {
				return nil, err
			}
		}
	}
	var parent string
	var hasParent bool
	if format >= 2 {
		hasParent, err = readBool(r)
		if err != nil {
			return nil, err
		}
		if hasParent {
			parent, err = readString(r)
			if err != nil {
				return nil, err
			}
		}
	}
	var version int64
	if format >= 3 {
		version, err = readInt64(r)
		if err != nil {
			return nil, err
		}
	}
	var timestamp int64
	if format >= 4 {
		timestamp, err = readInt64(r)
		if err != nil {
			return nil, err
		}
	}
	var ttl int64
	if format >= 5 {
		ttl, err = readInt64(r)
		if err != nil {
			return nil, err
		}
	}
	verType := VersionTypeInternal
	if format >= 6 {
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		verType = VersionType(b)
		if !validVersionType(verType) {
			return nil, corrupted(0, "invalid version type id %d", b)
		}
	}

	if isCreate {
		return &OpCreate{ID: id, DocType: docType, Source: source, Routing: routing, HasRoute: hasRouting,
			Parent: parent, HasParent: hasParent, Version: version, Timestamp: timestamp, TTL: ttl, VerType: verType}, nil
	}
	return &OpSave{ID: id, DocType: docType, Source: source, Routing: routing, HasRoute: hasRouting,
		Parent: parent, HasParent: hasParent, Version: version, Timestamp: timestamp, TTL: ttl, VerType: verType}, nil
}

// --- DELETE ---
//
// vint serializationFormat(=2) | string uidField | string uidText |
// int64 version | int8 versionType

func encodeDelete(buf []byte, o *OpDelete) ([]byte, error) {
	buf = appendUvarint(buf, serializationFormatDelete)
	buf = appendString(buf, o.UIDField)
	buf = appendString(buf, o.UIDText)
	buf = appendInt64(buf, o.Version)
	buf = append(buf, byte(o.VerType))
	return buf, nil
}

func decodeDelete(r *bytes.Reader) (Operation, error) {
	format, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	uidField, err := readString(r)
	if err != nil {
		return nil, err
	}
	uidText, err := readString(r)
	if err != nil {
		return nil, err
	}
	var version int64
	if format >= 1 {
		version, err = readInt64(r)
		if err != nil {
			return nil, err
		}
	}
	verType := VersionType(VersionTypeInternal)
	if format >= 2 {
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		verType = VersionType(b)
		if !validVersionType(verType) {
			return nil, corrupted(0, "invalid version type id %d", b)
		}
	}
	return &OpDelete{UIDField: uidField, UIDText: uidText, Version: version, VerType: verType}, nil
}

// --- DELETE_BY_QUERY (decode-only, legacy) ---
//
// vint serializationFormat(=2) | bytes source | vint typeCount [string
// type]* | vint aliasCount [string alias]*

func decodeDeleteByQuery(r *bytes.Reader) (Operation, error) {
	format, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	source, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var types, aliases []string
	if format >= 1 {
		types, err = readStringList(r)
		if err != nil {
			return nil, err
		}
	}
	if format >= 2 {
		aliases, err = readStringList(r)
		if err != nil {
			return nil, err
		}
	}
	return &OpDeleteByQuery{Source: source, Types: types, Aliases: aliases}, nil
}

func readStringList(r *bytes.Reader) ([]string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// --- primitive framing helpers ---

func appendInt32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func readByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, corrupted(0, "unexpected end of record body")
	}
	return b, nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := readByte(r)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, corrupted(0, "unexpected end of record body reading int64")
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, corrupted(0, "malformed varint")
	}
	return v, nil
}

const maxFieldLen = 64 << 20 // 64MiB sanity ceiling against corrupted length fields

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, corrupted(0, "implausible field length %d", n)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, corrupted(0, "unexpected end of record body reading length-prefixed field")
	}
	return out, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
