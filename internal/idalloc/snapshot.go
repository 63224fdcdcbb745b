package idalloc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Dictionary snapshot format, little-endian:
//
//	[count u64] then per entry [rawLen u32][raw bytes][dense u64]
//
// Entry order is unspecified; the pairs are self-describing.

const maxRawIDLen = 1 << 20 // 1MB per raw identifier is already absurd

// Snapshot writes the complete raw→dense dictionary to w.
// Callers must ensure no concurrent GetOrAssign while snapshotting;
// a run snapshots only after all workers have finished.
func (a *Allocator) Snapshot(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.LittleEndian, a.next.Load()); err != nil {
		return fmt.Errorf("failed to write dictionary count: %w", err)
	}

	var hdr [4]byte
	for i := range a.shards {
		s := &a.shards[i]
		s.mu.RLock()
		for raw, id := range s.m {
			binary.LittleEndian.PutUint32(hdr[:], uint32(len(raw)))
			if _, err := bw.Write(hdr[:]); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("failed to write dictionary entry: %w", err)
			}
			if _, err := bw.WriteString(raw); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("failed to write dictionary entry: %w", err)
			}
			if err := binary.Write(bw, binary.LittleEndian, id); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("failed to write dictionary entry: %w", err)
			}
		}
		s.mu.RUnlock()
	}

	return bw.Flush()
}

// LoadSnapshot reconstructs an allocator from a dictionary written by Snapshot.
// The next dense id continues after the highest id in the snapshot.
func LoadSnapshot(r io.Reader) (*Allocator, error) {
	br := bufio.NewReader(r)

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read dictionary count: %w", err)
	}

	a := New()
	var next uint64
	for i := uint64(0); i < count; i++ {
		var rawLen uint32
		if err := binary.Read(br, binary.LittleEndian, &rawLen); err != nil {
			return nil, fmt.Errorf("failed to read dictionary entry %d: %w", i, err)
		}
		if rawLen > maxRawIDLen {
			return nil, fmt.Errorf("dictionary entry %d: raw identifier length %d exceeds limit", i, rawLen)
		}
		raw := make([]byte, rawLen)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("failed to read dictionary entry %d: %w", i, err)
		}
		var id uint64
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("failed to read dictionary entry %d: %w", i, err)
		}

		s := &a.shards[shardIndex(raw)]
		if _, dup := s.m[string(raw)]; dup {
			return nil, fmt.Errorf("dictionary entry %d: duplicate raw identifier", i)
		}
		s.m[string(raw)] = id
		if id >= next {
			next = id + 1
		}
	}
	a.next.Store(next)

	return a, nil
}
