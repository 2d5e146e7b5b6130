package record

import (
	"fmt"

	"github.com/quiverdb/translog/internal/logging"
)

// TruncatedError means the record stream ended before a complete,
// checksummed record could be read. It is recoverable at the tail of a
// generation: everything read before it remains valid.
type TruncatedError struct {
	Offset int64
	Reason string
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("translog: truncated record at offset %d: %s", e.Offset, e.Reason)
}

// CorruptedError means a record was read in full but failed to validate:
// checksum mismatch, unknown type tag, or a malformed body (negative
// length, invalid version-type). Unlike TruncatedError this is never
// recoverable by treating it as "end of file".
type CorruptedError struct {
	Offset int64
	Reason string
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("translog: corrupted record at offset %d: %s", e.Offset, e.Reason)
}

func truncated(offset int64, format string, args ...interface{}) error {
	err := &TruncatedError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
	logging.Warn(err.Error())
	return err
}

func corrupted(offset int64, format string, args ...interface{}) error {
	err := &CorruptedError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
	logging.Error(err.Error())
	return err
}
