// ABOUTME: Durable blob storage for outbound media, audio clips, and avatars
// ABOUTME: Uploader interface with a MinIO-backed implementation

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUploadFailure is returned when a blob storage write fails. Nothing is
// staged in the optimistic pipeline until the upload has succeeded.
var ErrUploadFailure = errors.New("blob upload failed")

// Uploader writes bytes to durable storage and returns a stable public URL.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64, contentType, path string) (string, error)
}

// MinioUploader stores objects in a MinIO (S3-compatible) bucket with a
// public read policy, so the gateway and clients can fetch media by URL.
type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *slog.Logger
}

// Options configures the MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
	UseSSL    bool
}

// NewMinioUploader connects to MinIO and ensures the bucket exists with a
// public read-only policy.
func NewMinioUploader(ctx context.Context, opts Options, logger *slog.Logger) (*MinioUploader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}

		policy := `{
			"Version": "2012-10-17",
			"Statement": [
				{
					"Action": ["s3:GetObject"],
					"Effect": "Allow",
					"Principal": "*",
					"Resource": "arn:aws:s3:::` + opts.Bucket + `/*"
				}
			]
		}`
		if err := client.SetBucketPolicy(ctx, opts.Bucket, policy); err != nil {
			return nil, fmt.Errorf("setting bucket policy: %w", err)
		}
	}

	logger.Info("blob storage ready", "endpoint", opts.Endpoint, "bucket", opts.Bucket)
	return &MinioUploader{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		logger:    logger.With("component", "blob"),
	}, nil
}

// Upload writes the object and returns its public URL.
func (u *MinioUploader) Upload(ctx context.Context, r io.Reader, size int64, contentType, path string) (string, error) {
	_, err := u.client.PutObject(ctx, u.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		u.logger.Warn("upload failed", "path", path, "error", err)
		return "", fmt.Errorf("%w: %v", ErrUploadFailure, err)
	}

	url := fmt.Sprintf("%s/%s/%s", u.publicURL, u.bucket, path)
	u.logger.Debug("object uploaded", "path", path, "size", size)
	return url, nil
}
