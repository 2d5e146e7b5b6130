package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quiverdb/translog/internal/logging"
	"github.com/quiverdb/translog/record"
)

// UnknownOperations is returned by TotalOperations when the count is
// not known: the header was never back-patched (the generation was
// recovered from an interrupted write and never cleanly rolled), or the
// reader is a live reader over a still-active writer. A Reader never
// scans its records to pin down the true count.
const UnknownOperations int64 = -1

// Reader is an immutable, reference-counted view of a closed (or
// rolled) generation file. Clone is cheap: it just bumps the shared
// Channel's refcount.
type Reader struct {
	channel  *Channel
	gen      int64
	opCount  int64 // UnknownOperations until known
	sizeInB  int64
	scanOnly bool // true for readers opened directly from disk via Open

	// live and flush are set only for the dynamic "current generation"
	// reader a View tracks (Writer.LiveReader): each ChannelSnapshot call
	// re-flushes the still-active writer and re-stats the file so a view
	// observes records appended after the reader was handed out. A
	// one-shot Snapshot's reader (Writer.SnapshotReader) leaves these
	// unset and is frozen at the size captured when it was created.
	live  bool
	flush func() error
}

// Open opens an existing, already-rolled generation file read-only. It
// parses the generation id from the filename and reads the fixed header
// the writer produced at creation, rejecting a file whose header names a
// different generation than its filename.
func Open(path string, release ReleaseFunc) (*Reader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("translog: opening generation file %s: %w", path, err)
	}
	gen, opCount, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if fileGen, ok := ParseGeneration(filepath.Base(path)); ok && fileGen != gen {
		f.Close()
		return nil, fmt.Errorf("translog: generation file %s holds header generation %d", path, gen)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("translog: stat generation file %s: %w", path, err)
	}
	size := fi.Size() - headerSize
	if size < 0 {
		size = 0
	}

	ch := NewChannel(f, path, gen, release)
	return &Reader{channel: ch, gen: gen, opCount: opCount, sizeInB: size, scanOnly: true}, nil
}

// Generation returns the generation id this reader serves.
func (r *Reader) Generation() int64 { return r.gen }

// SizeInBytes returns the number of record-stream bytes in this
// generation (header excluded). A live reader flushes the writer and
// re-stats the file, so its figure includes appends made after it was
// handed out.
func (r *Reader) SizeInBytes() int64 {
	if r.live {
		if r.flush != nil {
			if err := r.flush(); err != nil {
				logging.Warn("translog: flushing generation %d for a live size: %v", r.gen, err)
			}
		}
		if fi, err := r.channel.File().Stat(); err == nil {
			return fi.Size() - headerSize
		}
	}
	return r.sizeInB
}

// TotalOperations returns the known operation count, or
// UnknownOperations if the writer never back-patched the header (e.g. a
// crash before Roll). Callers that need an exact count in that case
// should iterate a ChannelSnapshot and count records themselves.
func (r *Reader) TotalOperations() int64 { return r.opCount }

// Clone returns a Reader sharing the same underlying channel, with its
// own reference. Cheap.
func (r *Reader) Clone() *Reader {
	return &Reader{
		channel: r.channel.Clone(),
		gen:     r.gen,
		opCount: r.opCount,
		sizeInB: r.sizeInB,
		live:    r.live,
		flush:   r.flush,
	}
}

// Close releases this reader's reference to the underlying channel.
func (r *Reader) Close() error {
	return r.channel.Close()
}

// ReadAt performs a random read of exactly one record at the given
// location, which must name this reader's generation. It must succeed
// bit-exactly for any location returned by the writer for this file.
func (r *Reader) ReadAt(offset, size int64) (record.Operation, error) {
	buf := make([]byte, size)
	if _, err := r.channel.File().ReadAt(buf, headerSize+offset); err != nil {
		return nil, fmt.Errorf("translog: reading generation %d at offset %d: %w", r.gen, offset, err)
	}
	return record.Decode(buf)
}

// Iterator is a once-forward cursor over the records in one generation,
// starting just past the header.
type Iterator struct {
	r      *io.SectionReader
	offset int64
	gen    int64
	done   bool
}

// ChannelSnapshot returns a forward iterator over every record from just
// past the header to the last successfully-written one. It uses an
// io.SectionReader bound to the channel's ReaderAt, so it never disturbs
// the shared *os.File's position and is safe to use concurrently with
// appends or with other iterators over the same channel.
func (r *Reader) ChannelSnapshot() *Iterator {
	size := r.sizeInB
	if r.live {
		// Flush any buffered-but-unwritten bytes out of the active writer
		// before re-stating, or a recent append would be invisible here.
		if r.flush != nil {
			if err := r.flush(); err != nil {
				logging.Warn("translog: flushing generation %d for a live read: %v", r.gen, err)
			}
		}
		if fi, err := r.channel.File().Stat(); err == nil {
			size = fi.Size() - headerSize
		}
	}
	return &Iterator{
		r:   io.NewSectionReader(r.channel.File(), headerSize, size),
		gen: r.gen,
	}
}

// Next returns the next operation and the location it was read from, or
// io.EOF once the iterator is exhausted. A *record.TruncatedError or
// *record.CorruptedError from a malformed tail or a flipped bit
// propagates with its Offset set to the failing record's offset in this
// generation's record stream.
func (it *Iterator) Next() (record.Operation, Location, error) {
	if it.done {
		return nil, Location{}, io.EOF
	}
	startOffset := it.offset
	op, n, err := record.DecodeStream(it.r)
	if err != nil {
		it.done = true
		if err == io.EOF {
			return nil, Location{}, io.EOF
		}
		logging.Warn("translog: stopping iteration of generation %d at offset %d: %v", it.gen, startOffset, err)
		var trunc *record.TruncatedError
		var corrupt *record.CorruptedError
		if errors.As(err, &trunc) {
			trunc.Offset += startOffset
		} else if errors.As(err, &corrupt) {
			corrupt.Offset += startOffset
		}
		return nil, Location{}, err
	}
	it.offset += n
	return op, Location{Gen: it.gen, Offset: startOffset, Size: n}, nil
}
