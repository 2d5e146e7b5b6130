// Package translog is the per-shard write-ahead transaction log: the
// orchestrator that ties the operation codec (package record) and the
// on-disk generation files (package segment) into generations,
// checkpoints, snapshots, views, and the two-phase commit handshake with
// the segment store.
package translog

import (
	"fmt"

	"github.com/quiverdb/translog/internal/logging"
)

// IllegalStateError reports an operation attempted in a state that
// forbids it: prepareCommit while already committing, or any call after
// Close.
type IllegalStateError struct {
	Reason string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("translog: illegal state: %s", e.Reason)
}

// InvalidLocationError is returned by Read when the location names a
// generation that is neither the current writer nor the committing
// reader — recovered generations are replayed via snapshots only, never
// addressed directly.
type InvalidLocationError struct {
	Location fmt.Stringer
}

func (e *InvalidLocationError) Error() string {
	return fmt.Sprintf("translog: invalid location %s: not the current or committing generation", e.Location)
}

// IOError wraps a filesystem error with the offending path.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("translog: I/O error on %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// OperationError wraps a failure to append or encode a specific
// operation, carrying a description for diagnostics.
type OperationError struct {
	OpDescription string
	Err           error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("translog: operation failed (%s): %v", e.OpDescription, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func illegalState(format string, args ...interface{}) error {
	err := &IllegalStateError{Reason: fmt.Sprintf(format, args...)}
	logging.Error(err.Error())
	return err
}

func ioError(path string, err error) error {
	wrapped := &IOError{Path: path, Err: err}
	logging.Error(wrapped.Error())
	return wrapped
}
