// Package archive copies finished outputs to S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bdougie/cutout/internal/models"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type MinIOArchive struct {
	client *miniogo.Client
	bucket string
}

func NewMinIOArchive(cfg Config) (*MinIOArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOArchive{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *MinIOArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Archive uploads the job output and returns its object key.
func (a *MinIOArchive) Archive(ctx context.Context, job *models.Job) (string, error) {
	if job.OutputPath == "" {
		return "", errors.New("job has no output to archive")
	}
	key := ObjectKey(job)
	_, err := a.client.FPutObject(ctx, a.bucket, key, job.OutputPath, miniogo.PutObjectOptions{
		ContentType: ContentType(job.OutputPath),
		UserMetadata: map[string]string{
			"job-id": job.ID,
			"source": job.SourceName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey is <kind>/<job id><output extension>.
func ObjectKey(job *models.Job) string {
	return string(job.Kind) + "/" + job.ID + strings.ToLower(filepath.Ext(job.OutputPath))
}

func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}
