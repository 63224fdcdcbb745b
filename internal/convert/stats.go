package convert

import "sync/atomic"

// Stats are the shared counters of one conversion run. All fields are safe
// for concurrent update from any number of workers.
type Stats struct {
	Lines     atomic.Uint64 // non-blank input lines seen
	Converted atomic.Uint64 // records emitted to the slice writer
	Vertices  atomic.Uint64
	Edges     atomic.Uint64
	Malformed atomic.Uint64 // records skipped for per-record recoverable errors
}

// Summary is an immutable snapshot of Stats.
type Summary struct {
	Lines     uint64
	Converted uint64
	Vertices  uint64
	Edges     uint64
	Malformed uint64
}

// Snapshot captures the current counter values.
func (s *Stats) Snapshot() Summary {
	return Summary{
		Lines:     s.Lines.Load(),
		Converted: s.Converted.Load(),
		Vertices:  s.Vertices.Load(),
		Edges:     s.Edges.Load(),
		Malformed: s.Malformed.Load(),
	}
}
