package sliceio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrBadSegmentHeader indicates a file that is not a slice segment.
	ErrBadSegmentHeader = errors.New("invalid segment header")
	// ErrCorruptEntry indicates an entry whose checksum does not match its payload.
	ErrCorruptEntry = errors.New("corrupt segment entry")
)

// Reader iterates the records of one slice segment file.
type Reader struct {
	file *os.File
	zst  *zstd.Decoder
	in   *bufio.Reader

	maxRecordSize int64
}

// Open opens a segment file for reading, transparently handling zstd
// compression (selected by the ".zst" suffix), and validates the header.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}

	r := &Reader{file: file, maxRecordSize: DefaultMaxRecordSize}

	var src io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		zst, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open zstd segment: %w", err)
		}
		r.zst = zst
		src = zst
	}
	r.in = bufio.NewReaderSize(src, writerBufferSize)

	var hdr [segmentHeaderSize]byte
	if _, err := io.ReadFull(r.in, hdr[:]); err != nil {
		r.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadSegmentHeader, err)
	}
	if !bytes.Equal(hdr[0:4], SegmentMagic) {
		r.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrBadSegmentHeader)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != SegmentVersion {
		r.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSegmentHeader, v)
	}
	if hdr[6] != SegmentChecksumCRC32 {
		r.Close()
		return nil, fmt.Errorf("%w: unknown checksum type %d", ErrBadSegmentHeader, hdr[6])
	}

	return r, nil
}

// Next returns the next record payload, or io.EOF after the last entry.
// The returned buffer is owned by the caller.
func (r *Reader) Next() ([]byte, error) {
	var hdr [entryHeaderSize]byte
	if _, err := io.ReadFull(r.in, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated entry header: %v", ErrCorruptEntry, err)
	}

	length := binary.LittleEndian.Uint32(hdr[0:4])
	checksum := binary.LittleEndian.Uint32(hdr[4:8])
	if length == 0 || int64(length) > r.maxRecordSize {
		return nil, fmt.Errorf("%w: implausible entry length %d", ErrCorruptEntry, length)
	}

	rec := make([]byte, length)
	if _, err := io.ReadFull(r.in, rec); err != nil {
		return nil, fmt.Errorf("%w: truncated entry payload: %v", ErrCorruptEntry, err)
	}
	if crc32.ChecksumIEEE(rec) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptEntry)
	}

	return rec, nil
}

// Close releases the underlying file and decoder.
func (r *Reader) Close() error {
	if r.zst != nil {
		r.zst.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll drains a segment and returns every record. Intended for tests and
// small verification passes, not for bulk loading.
func ReadAll(path string) ([][]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records [][]byte
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
