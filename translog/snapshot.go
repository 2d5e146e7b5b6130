package translog

import (
	"io"
	"sync"

	"github.com/quiverdb/translog/record"
	"github.com/quiverdb/translog/segment"
)

// Snapshot is a point-in-time, forward-only iterator over every
// generation the manager held when it was taken: recovered generations,
// the committing generation if one was in flight, and the current
// generation frozen at its size at that instant. Generations are
// visited oldest-first.
type Snapshot struct {
	mu      sync.Mutex
	readers []*segment.Reader
	idx     int
	it      *segment.Iterator
	closed  bool
}

func newSnapshot(readers []*segment.Reader) *Snapshot {
	return &Snapshot{readers: readers}
}

// NewSnapshot takes a point-in-time snapshot of every generation
// currently held by the manager.
func (m *Manager) NewSnapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, illegalState("newSnapshot called after close")
	}

	readers := make([]*segment.Reader, 0, len(m.recovered)+2)
	for _, r := range m.recovered {
		readers = append(readers, r.Clone())
	}
	if m.committing != nil {
		readers = append(readers, m.committing.Clone())
	}
	readers = append(readers, m.current.SnapshotReader())
	return newSnapshot(readers), nil
}

// Next returns the next operation and its Location, or io.EOF once every
// generation in the snapshot has been exhausted.
func (s *Snapshot) Next() (record.Operation, Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.it == nil {
			if s.idx >= len(s.readers) {
				return nil, Location{}, io.EOF
			}
			s.it = s.readers[s.idx].ChannelSnapshot()
		}
		op, loc, err := s.it.Next()
		if err == io.EOF {
			s.it = nil
			s.idx++
			continue
		}
		if err != nil {
			return nil, Location{}, err
		}
		return op, loc, nil
	}
}

// TotalOperations sums the known operation counts across every
// generation this snapshot covers. If any generation's count isn't
// pinned down yet (segment.UnknownOperations), the total as a whole is
// unknown and reported as -1 rather than under-counted.
func (s *Snapshot) TotalOperations() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, r := range s.readers {
		n := r.TotalOperations()
		if n == segment.UnknownOperations {
			return segment.UnknownOperations
		}
		total += n
	}
	return total
}

// Close releases every generation reference this snapshot holds.
// Idempotent.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	readers := s.readers
	s.readers = nil
	s.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
