// Package manifest records the outcome of a conversion run. The manifest is
// written next to the segments after a successful run; a run without a
// manifest is treated as incomplete by downstream loaders.
package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// FileName is the manifest file written into the output directory.
const FileName = "manifest.mp"

// Segment describes one finished slice segment.
type Segment struct {
	SliceID int    `msgpack:"slice_id"`
	Path    string `msgpack:"path"`
	Records uint64 `msgpack:"records"`
	Bytes   uint64 `msgpack:"bytes"`
}

// Manifest is the msgpack run summary.
type Manifest struct {
	RunID             string    `msgpack:"run_id"`
	CreatedAt         time.Time `msgpack:"created_at"`
	SliceCount        int       `msgpack:"slice_count"`
	Compression       string    `msgpack:"compression"`
	FieldDelim        string    `msgpack:"field_delim"`
	TokenDelim        string    `msgpack:"token_delim"`
	SchemaFingerprint uint64    `msgpack:"schema_fingerprint"`
	Records           uint64    `msgpack:"records"`
	Vertices          uint64    `msgpack:"vertices"`
	Edges             uint64    `msgpack:"edges"`
	Malformed         uint64    `msgpack:"malformed"`
	UniqueIDs         uint64    `msgpack:"unique_ids"`
	Segments          []Segment `msgpack:"segments"`
}

// New creates a manifest with a fresh run id and the current timestamp.
func New() *Manifest {
	return &Manifest{
		RunID:     uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
}

// Encode writes the manifest to w.
func (m *Manifest) Encode(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(m); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return nil
}

// Decode reads a manifest from r.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.SliceCount <= 0 {
		return nil, fmt.Errorf("manifest has invalid slice count %d", m.SliceCount)
	}
	return &m, nil
}

// WriteFile atomically writes the manifest into dir as FileName.
func (m *Manifest) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create manifest: %w", err)
	}
	if err := m.Encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish manifest: %w", err)
	}
	return path, nil
}

// ReadFile loads the manifest from dir.
func ReadFile(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
