package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore implements ArchiveStore on Google Cloud Storage
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore creates a GCS-backed archive store. Without an explicit
// credentials file the client uses ambient credentials.
func NewGCSStore(ctx context.Context, config GCSConfig) (*GCSStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client *gcs.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, storageErr("failed to create GCS client", err)
	}

	return &GCSStore{client: client, bucket: config.Bucket}, nil
}

// Put streams an archive to GCS with its metadata attached to the object
func (g *GCSStore) Put(ctx context.Context, path string, contents io.Reader, meta ObjectMetadata) error {
	writer := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/zip"
	writer.Metadata = map[string]string{
		"org-id":        meta.OrgID,
		"backup-number": meta.BackupNumber,
		"checksum":      meta.Checksum,
		"encrypted":     strconv.FormatBool(meta.Encrypted),
	}

	if _, err := io.Copy(writer, contents); err != nil {
		writer.Close()
		return storageErr("failed to upload archive to GCS", err)
	}
	if err := writer.Close(); err != nil {
		return storageErr("failed to finalize GCS upload", err)
	}
	return nil
}

// Get downloads an archive's bytes
func (g *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := g.client.Bucket(g.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to download archive %s from GCS", path), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, storageErr("failed to read archive body", err)
	}
	return data, nil
}

// Delete removes an archive object
func (g *GCSStore) Delete(ctx context.Context, path string) error {
	err := g.client.Bucket(g.bucket).Object(path).Delete(ctx)
	if err == gcs.ErrObjectNotExist {
		return storageErr(fmt.Sprintf("archive %s not found", path), err)
	}
	if err != nil {
		return storageErr("failed to delete archive from GCS", err)
	}
	return nil
}

// Exists reports whether an archive object is present
func (g *GCSStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(path).Attrs(ctx)
	if err == gcs.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, storageErr("failed to check archive existence", err)
	}
	return true, nil
}

// Disk returns the disk identifier
func (g *GCSStore) Disk() string {
	return "gcs"
}

// HealthCheck verifies the bucket is reachable
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return storageErr("GCS health check failed: bucket not accessible", err)
	}
	return nil
}
