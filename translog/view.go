package translog

import (
	"sync"

	"github.com/quiverdb/translog/segment"
)

// View is a long-lived retention handle: as long as it is open, the
// generations it was constructed with — and every generation rolled
// afterward, up to and including whatever is current at any given
// moment — stay on disk even past a Commit that would otherwise make
// them deletable. Its own Snapshot calls always include the live tail of
// the current generation.
type View struct {
	manager *Manager

	mu      sync.Mutex
	readers []*segment.Reader
	closed  bool
}

// NewView opens a View anchored at the committing generation (if a
// commit is in flight) plus the live current generation. It registers
// itself with the manager so future PrepareCommit calls keep it in sync
// via onNewTranslog.
func (m *Manager) NewView() (*View, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, illegalState("newView called after close")
	}
	var readers []*segment.Reader
	if m.committing != nil {
		readers = append(readers, m.committing.Clone())
	}
	readers = append(readers, m.current.LiveReader())
	m.mu.RUnlock()

	v := &View{manager: m, readers: readers}
	m.viewsMu.Lock()
	m.views[v] = struct{}{}
	m.viewsMu.Unlock()
	return v, nil
}

// onNewTranslog is called by PrepareCommit under the manager's write
// lock whenever the current generation rolls: the view's former "live"
// last element is replaced by a fixed reader over what is now the
// committing generation, and a new live reader tracks the new current
// generation. Called with fresh, already-cloned readers this view now
// owns outright.
func (v *View) onNewTranslog(oldFixed, newLive *segment.Reader) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		oldFixed.Close()
		newLive.Close()
		return
	}
	var superseded *segment.Reader
	if len(v.readers) > 0 {
		superseded = v.readers[len(v.readers)-1]
		v.readers = v.readers[:len(v.readers)-1]
	}
	v.readers = append(v.readers, oldFixed, newLive)
	v.mu.Unlock()

	if superseded != nil {
		superseded.Close()
	}
}

// Snapshot takes a snapshot of everything this view currently retains,
// including whatever has been appended to the live current generation
// since the view (or its last roll) began. Rolled generations are fixed,
// but the current generation's reader stays live: records appended after
// Snapshot returns and before iteration reaches that generation are
// returned as well.
func (v *View) Snapshot() (*Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, illegalState("snapshot called on a closed view")
	}
	clones := make([]*segment.Reader, len(v.readers))
	for i, r := range v.readers {
		clones[i] = r.Clone()
	}
	return newSnapshot(clones), nil
}

// MinGen returns the oldest generation this view currently retains, or 0
// if the view is closed or holds nothing.
func (v *View) MinGen() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || len(v.readers) == 0 {
		return 0
	}
	min := v.readers[0].Generation()
	for _, r := range v.readers[1:] {
		if g := r.Generation(); g < min {
			min = g
		}
	}
	return min
}

// TotalOperations sums the known operation counts across every
// generation this view retains. If any generation's count isn't pinned
// down yet (segment.UnknownOperations), the total as a whole is
// unknown and reported as -1 rather than under-counted.
func (v *View) TotalOperations() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total int64
	for _, r := range v.readers {
		n := r.TotalOperations()
		if n == segment.UnknownOperations {
			return segment.UnknownOperations
		}
		total += n
	}
	return total
}

// SizeInBytes sums the on-disk size of every generation this view
// retains.
func (v *View) SizeInBytes() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total int64
	for _, r := range v.readers {
		total += r.SizeInBytes()
	}
	return total
}

// Close releases every generation this view retains and deregisters it
// from the manager. Idempotent.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	readers := v.readers
	v.readers = nil
	v.mu.Unlock()

	v.manager.viewsMu.Lock()
	delete(v.manager.views, v)
	v.manager.viewsMu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
