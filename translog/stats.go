package translog

import (
	"os"
	"time"

	"github.com/quiverdb/translog/segment"
)

// Stats reports the translog's current shape, plus the additive
// uncommitted-operations and earliest-last-modified-age fields.
type Stats struct {
	CurrentGeneration       int64
	NumberOfOperations      int64
	TranslogSizeInBytes     int64
	UncommittedOperations   int64
	EarliestLastModifiedAge time.Duration
}

// Stats computes a snapshot of the manager's current counters. It does
// not itself retain anything; the numbers may already be stale by the
// time the caller reads them.
func (m *Manager) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Stats{}, illegalState("stats called after close")
	}

	st := Stats{
		CurrentGeneration:   m.current.Generation(),
		NumberOfOperations:  m.current.TotalOperations(),
		TranslogSizeInBytes: m.current.SizeInBytes(),
	}

	uncommitted := m.current.TotalOperations()
	if m.committing != nil {
		uncommitted += m.committing.TotalOperations()
	}
	st.UncommittedOperations = uncommitted

	oldestGen := m.current.Generation()
	if m.committing != nil && m.committing.Generation() < oldestGen {
		oldestGen = m.committing.Generation()
	}
	for _, r := range m.recovered {
		if r.Generation() < oldestGen {
			oldestGen = r.Generation()
		}
	}

	if fi, err := os.Stat(segment.FileName(m.dir, oldestGen)); err == nil {
		st.EarliestLastModifiedAge = time.Since(fi.ModTime())
	}

	return st, nil
}
