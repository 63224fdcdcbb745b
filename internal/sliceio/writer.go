// Package sliceio persists converted binary records into per-slice segment
// files. Appends to different slices proceed independently; appends to the
// same slice are serialized by a per-slice lock, so no record is lost,
// duplicated, or torn by interleaved workers. Record order within a slice is
// not meaningful.
package sliceio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/graphmill/graphmill/pkg/models"
)

// Segment file format constants
var (
	SegmentMagic   = []byte{'G', 'M', 'S', '1'} // Magic bytes
	SegmentVersion = uint16(0x0001)             // Version 1
)

const (
	SegmentChecksumCRC32 = 0x01 // CRC32 checksum type

	// Entry format: [Length: 4 bytes] [Checksum: 4 bytes] [Record: N bytes]
	entryHeaderSize   = 8
	segmentHeaderSize = 7 // Magic(4) + Version(2) + ChecksumType(1)

	// DefaultMaxRecordSize bounds a single record. The limit prevents integer
	// overflow during buffer allocation when reading segments back.
	DefaultMaxRecordSize = 64 * 1024 * 1024 // 64MB

	writerBufferSize = 256 * 1024
)

var (
	// ErrRecordTooLarge indicates a record exceeds the configured maximum size.
	ErrRecordTooLarge = errors.New("record exceeds maximum allowed size")
	// ErrBadSlice indicates a slice id outside [0, sliceCount).
	ErrBadSlice = errors.New("slice id out of range")
	// ErrWriterClosed indicates a write after Close.
	ErrWriterClosed = errors.New("slice writer is closed")
)

// WriterConfig holds configuration for a segment writer.
type WriterConfig struct {
	Dir           string // Directory segments are written into
	SliceCount    int    // Number of slices (one segment per slice)
	Compression   string // "none" or "zstd"
	MaxRecordSize int64  // 0 means DefaultMaxRecordSize
	Logger        zerolog.Logger
}

// Writer appends binary records to one segment file per slice.
type Writer struct {
	cfg      WriterConfig
	logger   zerolog.Logger
	segments []*segment
	closed   bool
	mu       sync.RWMutex // guards closed
}

type segment struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	buf     *bufio.Writer
	zst     *zstd.Encoder
	out     io.Writer // points at zst when compressing, else buf
	records uint64
	bytes   uint64
}

// NewWriter creates the output directory and opens one segment per slice.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.SliceCount <= 0 {
		return nil, fmt.Errorf("slice count must be positive, got %d", cfg.SliceCount)
	}
	switch cfg.Compression {
	case "", "none", "zstd":
	default:
		return nil, fmt.Errorf("unsupported segment compression %q", cfg.Compression)
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = DefaultMaxRecordSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	w := &Writer{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "slice-writer").Logger(),
		segments: make([]*segment, cfg.SliceCount),
	}

	for i := 0; i < cfg.SliceCount; i++ {
		seg, err := w.openSegment(i)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.segments[i] = seg
	}

	w.logger.Info().
		Str("dir", cfg.Dir).
		Int("slices", cfg.SliceCount).
		Str("compression", w.compression()).
		Msg("Slice writer initialized")

	return w, nil
}

func (w *Writer) compression() string {
	if w.cfg.Compression == "zstd" {
		return "zstd"
	}
	return "none"
}

// SegmentName returns the file name of the segment for a slice.
func SegmentName(sliceID int, compression string) string {
	name := fmt.Sprintf("slice-%05d.gms", sliceID)
	if compression == "zstd" {
		name += ".zst"
	}
	return name
}

func (w *Writer) openSegment(sliceID int) (*segment, error) {
	path := filepath.Join(w.cfg.Dir, SegmentName(sliceID, w.compression()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", path, err)
	}

	seg := &segment{path: path, file: file}
	seg.buf = bufio.NewWriterSize(file, writerBufferSize)
	seg.out = seg.buf
	if w.cfg.Compression == "zstd" {
		zst, err := zstd.NewWriter(seg.buf)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		seg.zst = zst
		seg.out = zst
	}

	// Segment header
	var hdr [segmentHeaderSize]byte
	copy(hdr[0:4], SegmentMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], SegmentVersion)
	hdr[6] = SegmentChecksumCRC32
	if _, err := seg.out.Write(hdr[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}

	return seg, nil
}

// Write appends one record to the segment of sliceID.
// Safe for concurrent use across and within slices.
func (w *Writer) Write(sliceID int, rec models.BinaryRecord) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	if sliceID < 0 || sliceID >= len(w.segments) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrBadSlice, sliceID, len(w.segments))
	}
	if len(rec) == 0 {
		return fmt.Errorf("refusing to write empty record to slice %d", sliceID)
	}
	if int64(len(rec)) > w.cfg.MaxRecordSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrRecordTooLarge, len(rec), w.cfg.MaxRecordSize)
	}

	var hdr [entryHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(rec)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(rec))

	seg := w.segments[sliceID]
	seg.mu.Lock()
	defer seg.mu.Unlock()

	if _, err := seg.out.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to append to slice %d: %w", sliceID, err)
	}
	if _, err := seg.out.Write(rec); err != nil {
		return fmt.Errorf("failed to append to slice %d: %w", sliceID, err)
	}
	seg.records++
	seg.bytes += uint64(entryHeaderSize + len(rec))
	return nil
}

// RecordCounts returns the number of records written to each slice.
func (w *Writer) RecordCounts() []uint64 {
	counts := make([]uint64, len(w.segments))
	for i, seg := range w.segments {
		if seg == nil {
			continue
		}
		seg.mu.Lock()
		counts[i] = seg.records
		seg.mu.Unlock()
	}
	return counts
}

// ByteCounts returns the payload bytes written to each slice, before
// compression.
func (w *Writer) ByteCounts() []uint64 {
	counts := make([]uint64, len(w.segments))
	for i, seg := range w.segments {
		if seg == nil {
			continue
		}
		seg.mu.Lock()
		counts[i] = seg.bytes
		seg.mu.Unlock()
	}
	return counts
}

// Paths returns the segment file paths in slice order.
func (w *Writer) Paths() []string {
	paths := make([]string, len(w.segments))
	for i, seg := range w.segments {
		if seg != nil {
			paths[i] = seg.path
		}
	}
	return paths
}

// Close flushes and closes every segment. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	var total uint64
	for i, seg := range w.segments {
		if seg == nil {
			continue
		}
		seg.mu.Lock()
		if seg.zst != nil {
			if err := seg.zst.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to finish slice %d: %w", i, err)
			}
		}
		if err := seg.buf.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush slice %d: %w", i, err)
		}
		if err := seg.file.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to sync slice %d: %w", i, err)
		}
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close slice %d: %w", i, err)
		}
		total += seg.records
		seg.mu.Unlock()
	}

	w.logger.Info().
		Uint64("records", total).
		Int("slices", len(w.segments)).
		Msg("Slice writer closed")

	return firstErr
}
