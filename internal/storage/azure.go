package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore implements ArchiveStore on Azure Blob Storage
type AzureStore struct {
	containerURL azblob.ContainerURL
	container    string
}

// NewAzureStore creates an Azure-backed archive store
func NewAzureStore(config AzureConfig) (*AzureStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, storageErr("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, storageErr("failed to parse Azure service URL", err)
	}

	return &AzureStore{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		container:    config.ContainerName,
	}, nil
}

// Put streams an archive to Azure with its metadata attached to the blob
func (a *AzureStore) Put(ctx context.Context, path string, contents io.Reader, meta ObjectMetadata) error {
	blobURL := a.containerURL.NewBlockBlobURL(path)
	_, err := azblob.UploadStreamToBlockBlob(ctx, contents, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 16,
		Metadata: azblob.Metadata{
			"org_id":        meta.OrgID,
			"backup_number": meta.BackupNumber,
			"checksum":      meta.Checksum,
			"encrypted":     strconv.FormatBool(meta.Encrypted),
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/zip"},
	})
	if err != nil {
		return storageErr("failed to upload archive to Azure", err)
	}
	return nil
}

// Get downloads an archive's bytes
func (a *AzureStore) Get(ctx context.Context, path string) ([]byte, error) {
	blobURL := a.containerURL.NewBlockBlobURL(path)
	response, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to download archive %s from Azure", path), err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, storageErr("failed to read archive body", err)
	}
	return data, nil
}

// Delete removes an archive blob
func (a *AzureStore) Delete(ctx context.Context, path string) error {
	blobURL := a.containerURL.NewBlockBlobURL(path)
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if storageErrHasCode(err, azblob.ServiceCodeBlobNotFound) {
			return storageErr(fmt.Sprintf("archive %s not found", path), err)
		}
		return storageErr("failed to delete archive from Azure", err)
	}
	return nil
}

// Exists reports whether an archive blob is present
func (a *AzureStore) Exists(ctx context.Context, path string) (bool, error) {
	blobURL := a.containerURL.NewBlockBlobURL(path)
	_, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if storageErrHasCode(err, azblob.ServiceCodeBlobNotFound) {
			return false, nil
		}
		return false, storageErr("failed to check archive existence", err)
	}
	return true, nil
}

// Disk returns the disk identifier
func (a *AzureStore) Disk() string {
	return "azure"
}

// HealthCheck verifies the container is reachable
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	_, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return storageErr("Azure health check failed: container not accessible", err)
	}
	return nil
}

func storageErrHasCode(err error, code azblob.ServiceCodeType) bool {
	if stgErr, ok := err.(azblob.StorageError); ok {
		return stgErr.ServiceCode() == code
	}
	return false
}
