package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"
)

// AzureBlobBackend publishes artifacts to an Azure Blob Storage container.
type AzureBlobBackend struct {
	client        *azblob.Client
	containerName string
	logger        zerolog.Logger
}

// AzureBlobConfig holds Azure Blob Storage backend configuration. Exactly one
// authentication method must be supplied.
type AzureBlobConfig struct {
	ConnectionString string

	AccountName string
	AccountKey  string

	SASToken string

	UseManagedIdentity bool

	// Container name (required)
	ContainerName string

	// Custom endpoint (for Azurite testing)
	Endpoint string
}

// NewAzureBlobBackend creates an Azure Blob backend and verifies the
// container is reachable.
func NewAzureBlobBackend(cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("Azure container name is required")
	}

	log := logger.With().Str("component", "azure-storage").Logger()

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountName != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var client *azblob.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		log.Info().Msg("Using connection string authentication for Azure Blob Storage")

	case cfg.AccountName != "" && cfg.SASToken != "":
		serviceURL := fmt.Sprintf("%s?%s", endpoint, strings.TrimPrefix(cfg.SASToken, "?"))
		client, err = azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
		log.Info().Msg("Using SAS token authentication for Azure Blob Storage")

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		log.Info().Msg("Using shared key authentication for Azure Blob Storage")

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", credErr)
		}
		client, err = azblob.NewClient(endpoint, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with managed identity: %w", err)
		}
		log.Info().Msg("Using managed identity authentication for Azure Blob Storage")

	default:
		return nil, fmt.Errorf("no valid Azure authentication method configured: provide connection_string, account_name+account_key, account_name+sas_token, or account_name+use_managed_identity")
	}

	backend := &AzureBlobBackend{
		client:        client,
		containerName: cfg.ContainerName,
		logger:        log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	containerClient := client.ServiceClient().NewContainerClient(cfg.ContainerName)
	if _, err := containerClient.GetProperties(ctx, nil); err != nil {
		log.Warn().Err(err).Str("container", cfg.ContainerName).Msg("Could not verify container exists")
	} else {
		log.Info().Str("container", cfg.ContainerName).Msg("Connected to Azure Blob Storage container")
	}

	return backend, nil
}

func (b *AzureBlobBackend) Write(ctx context.Context, path string, data []byte) error {
	return b.WriteReader(ctx, path, bytes.NewReader(data), int64(len(data)))
}

func (b *AzureBlobBackend) WriteReader(ctx context.Context, path string, r io.Reader, size int64) error {
	start := time.Now()

	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlockBlobClient(path)
	if _, err := blobClient.UploadStream(ctx, r, nil); err != nil {
		return fmt.Errorf("failed to write to Azure Blob Storage: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", size).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Read(ctx context.Context, path string) ([]byte, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read from Azure Blob Storage: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Azure blob body: %w", err)
	}
	return data, nil
}

func (b *AzureBlobBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var blobs []string

	containerClient := b.client.ServiceClient().NewContainerClient(b.containerName)
	pager := containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				blobs = append(blobs, *item.Name)
			}
		}
	}
	return blobs, nil
}

func (b *AzureBlobBackend) Delete(ctx context.Context, path string) error {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob Storage: %w", err)
	}
	b.logger.Debug().Str("path", path).Msg("Deleted from Azure Blob Storage")
	return nil
}

func (b *AzureBlobBackend) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check Azure blob existence: %w", err)
	}
	return true, nil
}

func (b *AzureBlobBackend) Close() error {
	return nil
}

// Container returns the container name.
func (b *AzureBlobBackend) Container() string {
	return b.containerName
}

func (b *AzureBlobBackend) Type() string {
	return "azure"
}

func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	s := err.Error()
	return strings.Contains(s, "BlobNotFound") || strings.Contains(s, "404")
}
