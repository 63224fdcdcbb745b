// Package storage publishes finished run artifacts (slice segments, the
// dense-id dictionary, the run manifest) to a local directory or an object
// store.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/graphmill/graphmill/internal/config"
)

// Backend is the destination for run artifacts.
type Backend interface {
	// Write stores data at path.
	Write(ctx context.Context, path string, data []byte) error

	// WriteReader streams data from r to path. size may be -1 when unknown.
	WriteReader(ctx context.Context, path string, r io.Reader, size int64) error

	// Read returns the object at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns the object keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at path. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Close releases backend resources.
	Close() error

	// Type returns the backend identifier ("local", "s3", "azure").
	Type() string
}

// New builds the backend selected by cfg, wrapped with retry handling.
func New(cfg config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	var (
		inner Backend
		err   error
	)

	switch cfg.Backend {
	case "local":
		inner, err = NewLocalBackend(cfg.LocalPath, logger)
	case "s3":
		inner, err = NewS3Backend(&S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure":
		inner, err = NewAzureBlobBackend(&AzureBlobConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			SASToken:           cfg.AzureSASToken,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			ContainerName:      cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewResilientBackend(inner, nil, logger), nil
}
