package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LocalBackend stores artifacts on the local filesystem under a base
// directory. Writes are atomic: data lands in a temp file and is renamed into
// place, so a crash never leaves a partial artifact at its final key.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// Created directories are cached so concurrent segment uploads do not
	// hammer MkdirAll for the same prefix.
	dirMu    sync.RWMutex
	dirCache map[string]bool
}

// NewLocalBackend creates a local backend rooted at basePath, creating it if
// needed.
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

func (b *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	fullPath, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := b.ensureDir(filepath.Dir(fullPath)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".graphmill-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug().Str("path", path).Int("size", len(data)).Msg("Wrote file")
	return nil
}

func (b *LocalBackend) WriteReader(ctx context.Context, path string, r io.Reader, size int64) error {
	fullPath, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := b.ensureDir(filepath.Dir(fullPath)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".graphmill-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	written, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug().Str("path", path).Int64("size", written).Msg("Wrote file from reader")
	return nil
}

func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := b.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var results []string
	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		results = append(results, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return results, nil
}

func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted file")
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

func (b *LocalBackend) Close() error {
	return nil
}

// BasePath returns the absolute base directory.
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

func (b *LocalBackend) Type() string {
	return "local"
}

func (b *LocalBackend) ensureDir(dir string) error {
	b.dirMu.RLock()
	ok := b.dirCache[dir]
	b.dirMu.RUnlock()
	if ok {
		return nil
	}

	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	if !b.dirCache[dir] {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		b.dirCache[dir] = true
	}
	return nil
}

// resolve joins path onto the base directory and rejects anything that would
// escape it.
func (b *LocalBackend) resolve(path string) (string, error) {
	cleaned := strings.TrimPrefix(path, "/")
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")

	fullPath, err := filepath.Abs(filepath.Join(b.basePath, cleaned))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(b.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	return fullPath, nil
}
