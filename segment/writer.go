package segment

import (
	"fmt"
	"os"
	"sync"

	"github.com/quiverdb/translog/internal/logging"
	"github.com/quiverdb/translog/record"
)

// WriterType selects how an active Writer batches bytes before they hit
// the file (the index.translog.fs.type setting).
type WriterType int

const (
	// Simple flushes every append straight through to the file; only an
	// explicit Sync fsyncs it.
	Simple WriterType = iota
	// Buffered accumulates up to a configured number of bytes before
	// flushing.
	Buffered
)

const DefaultBufferSize = 64 * 1024

// Writer is the active (writable) tail of one generation. Appends are
// thread-safe with each other: the caller's outer RW lock only needs to
// be held shared, because this internal mutex serializes bytes into the
// buffer and file.
type Writer struct {
	mu         sync.Mutex
	channel    *Channel
	gen        int64
	writerType WriterType
	bufferSize int
	buf        []byte

	writtenOffset int64 // bytes appended so far, past the header
	syncedOffset  int64
	opCount       int64
}

// CreateWriter creates a brand-new generation file, writes its header,
// and returns a Writer ready for append. release is attached to the
// channel backing this writer (see Channel.Close).
func CreateWriter(dir string, gen int64, writerType WriterType, bufferSize int, release ReleaseFunc) (*Writer, error) {
	path := FileName(dir, gen)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("translog: creating generation %d file: %w", gen, err)
	}
	if err := writeHeader(f, gen); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(headerSize, os.SEEK_SET); err != nil {
		f.Close()
		return nil, fmt.Errorf("translog: seeking past header of generation %d: %w", gen, err)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ch := NewChannel(f, path, gen, release)
	return &Writer{channel: ch, gen: gen, writerType: writerType, bufferSize: bufferSize}, nil
}

// Generation returns the generation id this writer is the tail of.
func (w *Writer) Generation() int64 { return w.gen }

// Append buffers the encoded record and returns its Location. The
// location is stable as soon as this returns; whether it has been
// fsynced depends on the manager's durability policy.
func (w *Writer) Append(encoded []byte) (Location, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loc := Location{Gen: w.gen, Offset: w.writtenOffset, Size: int64(len(encoded))}
	w.buf = append(w.buf, encoded...)
	w.writtenOffset += int64(len(encoded))
	w.opCount++

	if w.writerType == Simple || len(w.buf) >= w.bufferSize {
		if err := w.flushLocked(); err != nil {
			return Location{}, err
		}
	}
	return loc, nil
}

func (w *Writer) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.channel.File().Write(w.buf); err != nil {
		return fmt.Errorf("translog: writing generation %d: %w", w.gen, err)
	}
	w.buf = w.buf[:0]
	return nil
}

// Sync flushes any buffered bytes and fsyncs the file. Idempotent: it
// records the highest offset that has been durably synced.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.channel.File().Sync(); err != nil {
		return fmt.Errorf("translog: fsync generation %d: %w", w.gen, err)
	}
	w.syncedOffset = w.writtenOffset
	return nil
}

// SyncUpTo syncs only if offset has not already been synced, returning
// whether a sync actually happened.
func (w *Writer) SyncUpTo(offset int64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.syncedOffset >= offset {
		return false, nil
	}
	if err := w.syncLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// SyncNeeded reports whether there are appended bytes not yet fsynced.
func (w *Writer) SyncNeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writtenOffset > w.syncedOffset
}

// UpdateBufferSize resizes the append buffer, flushing first if needed.
func (w *Writer) UpdateBufferSize(n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	if n > 0 {
		w.bufferSize = n
	}
	return nil
}

// TotalOperations returns the number of records appended so far.
func (w *Writer) TotalOperations() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opCount
}

// SizeInBytes returns the number of record-stream bytes appended so far
// (header excluded), whether or not they've been flushed to the OS.
func (w *Writer) SizeInBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writtenOffset
}

// ReadAt serves a random read of one record directly from the writer's
// own channel, used by translog.Manager.Read when the location names the
// current generation.
func (w *Writer) ReadAt(offset, size int64) (record.Operation, error) {
	buf := make([]byte, size)
	if _, err := w.channel.File().ReadAt(buf, headerSize+offset); err != nil {
		return nil, fmt.Errorf("translog: reading generation %d at offset %d: %w", w.gen, offset, err)
	}
	return record.Decode(buf)
}

// Roll flushes and syncs this writer's final bytes, back-patches the
// header with the now-final operation count, and returns an immutable
// Reader sharing its channel. The writer must not be appended to again
// after Roll; the caller (translog.Manager) is responsible for then
// releasing the writer's own channel reference via Close.
func (w *Writer) Roll() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.syncLocked(); err != nil {
		return nil, err
	}
	if err := writeOpCount(w.channel.File(), w.opCount); err != nil {
		return nil, err
	}
	logging.Debug("translog: rolled generation %d (%d ops, %d bytes)", w.gen, w.opCount, w.writtenOffset)

	return &Reader{
		channel:  w.channel.Clone(),
		gen:      w.gen,
		opCount:  w.opCount,
		sizeInB:  w.writtenOffset,
		scanOnly: false,
	}, nil
}

// Close releases this writer's own reference to its channel. Call after
// Roll has handed out a Reader holding its own reference, or directly
// when abandoning an unrolled writer (e.g. rollback).
func (w *Writer) Close() error {
	return w.channel.Close()
}

// FlushForRead flushes any buffered-but-unwritten bytes so a concurrent
// ReadAt or iterator sees them. It does not fsync; readers don't need
// durability, only visibility.
func (w *Writer) FlushForRead() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// SnapshotReader returns a Reader over this writer's channel frozen at
// the current offset and operation count: later appends to this writer
// are invisible through it. Used by translog.Manager's one-shot
// Snapshot, which must not observe operations appended after it was
// taken.
func (w *Writer) SnapshotReader() *Reader {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	return &Reader{
		channel: w.channel.Clone(),
		gen:     w.gen,
		opCount: w.opCount,
		sizeInB: w.writtenOffset,
	}
}

// LiveReader returns a Reader over this writer's channel that keeps
// growing as the writer is appended to: every ChannelSnapshot re-flushes
// and re-stats. Used as the "current generation" slot of a long-lived
// View, which must observe records appended after the view was
// constructed.
func (w *Writer) LiveReader() *Reader {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	return &Reader{
		channel: w.channel.Clone(),
		gen:     w.gen,
		opCount: UnknownOperations,
		live:    true,
		flush:   w.FlushForRead,
	}
}
