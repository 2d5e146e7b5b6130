package segment

import "fmt"

// Location names one record within one generation: (gen, offset, size).
// It is totally ordered by (gen, offset) and is the opaque pointer
// returned by append and consumed by read.
type Location struct {
	Gen    int64
	Offset int64
	Size   int64
}

func (l Location) String() string {
	return fmt.Sprintf("Location{gen=%d, offset=%d, size=%d}", l.Gen, l.Offset, l.Size)
}

// Less orders locations by (gen, offset), their total order.
func (l Location) Less(other Location) bool {
	if l.Gen != other.Gen {
		return l.Gen < other.Gen
	}
	return l.Offset < other.Offset
}
