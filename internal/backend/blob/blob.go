// Package blob uploads profile pictures to S3-compatible object storage.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ventapp/ventfeed/internal/config"
	"github.com/ventapp/ventfeed/internal/errs"
)

// Uploader implements backend.BlobStore against MinIO/S3.
type Uploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New creates an uploader from config.
func New(cfg *config.Upload) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// UploadBlob stores the blob under key and returns its public URL.
func (u *Uploader) UploadBlob(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", errs.Transient(fmt.Errorf("upload %s: %w", key, err))
	}
	return u.publicURL + "/" + key, nil
}

// RemoveBlob deletes the blob under key. Deletion failures are surfaced but
// callers treat them as best-effort.
func (u *Uploader) RemoveBlob(ctx context.Context, key string) error {
	if err := u.client.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errs.Transient(fmt.Errorf("remove %s: %w", key, err))
	}
	return nil
}
