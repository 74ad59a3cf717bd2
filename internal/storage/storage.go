// Package storage persists backup archives on the storage disks a tenant's
// plan permits: local disk, S3, GCS or Azure Blob Storage. Archive listing
// and lifecycle state live in the metadata store, not here; providers only
// move bytes.
package storage

import (
	"context"
	"io"

	"org-backup-engine/internal/errors"
)

// ObjectMetadata travels with a stored archive so an object found without
// its metadata row can still be attributed.
type ObjectMetadata struct {
	OrgID        string `json:"org_id"`
	BackupNumber string `json:"backup_number"`
	Checksum     string `json:"checksum"`
	Encrypted    bool   `json:"encrypted"`
}

// ArchiveStore is the port backup archives are written through
type ArchiveStore interface {
	// Put stores an archive at the given path, overwriting any existing
	// object. The contents are streamed; archives can be larger than memory.
	Put(ctx context.Context, path string, contents io.Reader, meta ObjectMetadata) error

	// Get retrieves an archive's raw bytes
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes an archive. Deleting a missing archive is an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an archive is present
	Exists(ctx context.Context, path string) (bool, error)

	// Disk returns the disk identifier used in plan entitlement checks
	Disk() string

	// HealthCheck verifies the store is reachable and writable
	HealthCheck(ctx context.Context) error
}

// Config selects and configures one archive store
type Config struct {
	Disk  string      `yaml:"disk" mapstructure:"disk"`
	Local LocalConfig `yaml:"local" mapstructure:"local"`
	S3    S3Config    `yaml:"s3" mapstructure:"s3"`
	GCS   GCSConfig   `yaml:"gcs" mapstructure:"gcs"`
	Azure AzureConfig `yaml:"azure" mapstructure:"azure"`
}

// LocalConfig configures the local filesystem store
type LocalConfig struct {
	BasePath string `yaml:"base_path" mapstructure:"base_path"`
}

// Validate checks the local configuration
func (c *LocalConfig) Validate() error {
	if c.BasePath == "" {
		return errors.NewConfigurationError("local storage base path is required", nil)
	}
	return nil
}

// S3Config configures the Amazon S3 store
type S3Config struct {
	Region    string `yaml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// Validate checks the S3 configuration
func (c *S3Config) Validate() error {
	if c.Region == "" {
		return errors.NewConfigurationError("S3 region is required", nil)
	}
	if c.Bucket == "" {
		return errors.NewConfigurationError("S3 bucket is required", nil)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.NewConfigurationError("S3 credentials are required", nil)
	}
	return nil
}

// GCSConfig configures the Google Cloud Storage store
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
}

// Validate checks the GCS configuration
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return errors.NewConfigurationError("GCS bucket is required", nil)
	}
	return nil
}

// AzureConfig configures the Azure Blob Storage store
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
}

// Validate checks the Azure configuration
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return errors.NewConfigurationError("Azure account credentials are required", nil)
	}
	if c.ContainerName == "" {
		return errors.NewConfigurationError("Azure container name is required", nil)
	}
	return nil
}

func storageErr(message string, cause error) error {
	return errors.NewStorageError(message, cause)
}

func validationErr(message string) error {
	return errors.NewValidationError(message, nil)
}

// NewStore creates the archive store named by the configuration's disk
func NewStore(ctx context.Context, config Config) (ArchiveStore, error) {
	switch config.Disk {
	case "", "local":
		return NewLocalStore(config.Local)
	case "s3":
		return NewS3Store(config.S3)
	case "gcs":
		return NewGCSStore(ctx, config.GCS)
	case "azure":
		return NewAzureStore(config.Azure)
	}
	return nil, errors.NewConfigurationError(
		"unsupported storage disk: "+config.Disk, nil)
}
