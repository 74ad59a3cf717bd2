package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Store implements ArchiveStore on Amazon S3
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Store creates an S3-backed archive store
func NewS3Store(config S3Config) (*S3Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		),
	})
	if err != nil {
		return nil, storageErr("failed to create AWS session", err)
	}

	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   config.Bucket,
	}, nil
}

// Put streams an archive to S3 as a multipart upload with its metadata
// attached as object metadata.
func (s *S3Store) Put(ctx context.Context, path string, contents io.Reader, meta ObjectMetadata) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        contents,
		ContentType: aws.String("application/zip"),
		Metadata: map[string]*string{
			"org-id":        aws.String(meta.OrgID),
			"backup-number": aws.String(meta.BackupNumber),
			"checksum":      aws.String(meta.Checksum),
			"encrypted":     aws.String(strconv.FormatBool(meta.Encrypted)),
		},
	})
	if err != nil {
		return storageErr("failed to upload archive to S3", err)
	}
	return nil
}

// Get downloads an archive's bytes
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, storageErr(fmt.Sprintf("failed to download archive %s from S3", path), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, storageErr("failed to read archive body", err)
	}
	return data, nil
}

// Delete removes an archive object
func (s *S3Store) Delete(ctx context.Context, path string) error {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return storageErr(fmt.Sprintf("archive %s not found", path), nil)
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return storageErr("failed to delete archive from S3", err)
	}
	return nil
}

// Exists reports whether an archive object is present
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case "NotFound", s3.ErrCodeNoSuchKey:
				return false, nil
			}
		}
		return false, storageErr("failed to check archive existence", err)
	}
	return true, nil
}

// Disk returns the disk identifier
func (s *S3Store) Disk() string {
	return "s3"
}

// HealthCheck verifies the bucket is reachable
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return storageErr("S3 health check failed: bucket not accessible", err)
	}
	return nil
}
