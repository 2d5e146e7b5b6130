package main

import (
	"fmt"

	"github.com/quiverdb/translog/segment"
)

// openGenerations opens every generation file found in dir, read-only,
// oldest first. Unlike translog.Open(ModeRecover, ...) this never writes
// a new current generation or checkpoint: a pure inspection tool should
// leave the directory untouched.
func openGenerations(dir string) ([]*segment.Reader, error) {
	found, err := segment.FindGenerations(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	readers := make([]*segment.Reader, 0, len(found))
	for _, f := range found {
		r, err := segment.Open(f.Path, nil)
		if err != nil {
			closeReaders(readers)
			return nil, fmt.Errorf("opening %s: %w", f.Path, err)
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func closeReaders(readers []*segment.Reader) {
	for _, r := range readers {
		r.Close()
	}
}
