package segment

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Every generation file starts with a small fixed header, written once at
// creation, that is never part of the record stream itself. It carries
// a magic number, the generation id (so a reader can
// cross-check the filename-derived id), and a trailing operation count
// that the writer back-patches when it rolls — letting a later reader
// serve totalOperations() without a full scan.
const (
	headerMagic      uint32 = 0x544c4731 // "TLG1"
	headerSize       int64  = 4 + 8 + 8
	headerOpCountOff int64  = 4 + 8

	// UnknownOpCount marks a header whose writer has not yet rolled
	// (or crashed before doing so); Reader.TotalOperations then reports
	// UnknownOperations, and no scan is made to count the records.
	UnknownOpCount int64 = -1
)

func writeHeader(f *os.File, gen int64) error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(gen))
	unknownOpCount := UnknownOpCount
	binary.BigEndian.PutUint64(buf[12:20], uint64(unknownOpCount))
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("translog: writing generation %d header: %w", gen, err)
	}
	return nil
}

func readHeader(f *os.File) (gen int64, opCount int64, err error) {
	var buf [headerSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, 0, fmt.Errorf("translog: reading generation header: %w", err)
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		return 0, 0, fmt.Errorf("translog: bad generation header magic %08x", magic)
	}
	gen = int64(binary.BigEndian.Uint64(buf[4:12]))
	opCount = int64(binary.BigEndian.Uint64(buf[12:20]))
	return gen, opCount, nil
}

// writeOpCount back-patches the header's operation count, called once
// when a writer rolls into an immutable reader.
func writeOpCount(f *os.File, opCount int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(opCount))
	if _, err := f.WriteAt(buf[:], headerOpCountOff); err != nil {
		return fmt.Errorf("translog: writing generation op count: %w", err)
	}
	return nil
}
