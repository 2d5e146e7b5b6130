// Package segment implements the on-disk generation file: the immutable
// reader, the active writer, and the refcounted channel they share.
package segment

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/quiverdb/translog/internal/logging"
)

// ReleaseFunc is invoked exactly once, when the last holder of a Channel
// releases it. It receives the generation id and path so the manager can
// decide whether the file is now eligible for deletion. It may run with
// the manager's structural lock already held (e.g. a Channel.Close
// reached transitively from PrepareCommit) or with no manager lock held
// at all (e.g. a Snapshot.Close called independently by an application
// goroutine), so the function handed in here must never itself try to
// acquire that lock — see translog.Manager.releaseChannel, which reads
// only a lock-free watermark.
//
// It is attached to the Channel at open time as a closure rather than a
// back-pointer to the owning manager: the channel never reaches back
// into the manager through a strong field, it only ever calls a
// function handed to it once.
type ReleaseFunc func(gen int64, path string)

// Channel is a reference-counted handle around one open generation file.
// The writer, every immutable reader cloned from it, every snapshot and
// view that includes it, and the manager's committing slot each hold one
// reference. The underlying *os.File is closed, and release fires, only
// when the last reference is dropped.
type Channel struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	gen     int64
	refs    int32
	closed  bool
	release ReleaseFunc
}

// NewChannel wraps an already-open file with an initial refcount of 1.
func NewChannel(file *os.File, path string, gen int64, release ReleaseFunc) *Channel {
	return &Channel{file: file, path: path, gen: gen, refs: 1, release: release}
}

// Clone increments the refcount and returns the same Channel. Cheap: it
// never touches the filesystem.
func (c *Channel) Clone() *Channel {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Generation returns the generation id this channel backs.
func (c *Channel) Generation() int64 { return c.gen }

// Path returns the filesystem path of the backing file.
func (c *Channel) Path() string { return c.path }

// File returns the underlying *os.File for I/O. Callers must not close it
// directly; use Close to release a reference instead.
func (c *Channel) File() *os.File { return c.file }

// Close releases one reference. At zero, the file is closed and the
// release hook (if any) fires exactly once. Not idempotent per caller: a
// double Close from the same holder double-decrements, which is a caller
// bug, not something Close can detect generically — callers are expected
// to Close exactly once per Clone/NewChannel they performed, matching the
// discipline in translog.Snapshot/View.
func (c *Channel) Close() error {
	remaining := atomic.AddInt32(&c.refs, -1)
	if remaining > 0 {
		return nil
	}
	if remaining < 0 {
		logging.Warn("translog: channel %s released more times than acquired", c.path)
		return nil
	}

	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if already {
		return nil
	}

	err := c.file.Close()
	if c.release != nil {
		c.release(c.gen, c.path)
	}
	if err != nil {
		return fmt.Errorf("translog: closing generation %d file: %w", c.gen, err)
	}
	return nil
}
