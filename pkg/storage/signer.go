// Package storage issues time-limited read URLs for stored objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"supashowcase/pkg/supabase"
)

// ErrObjectNotFound is returned when the object to sign does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Signer creates a signed GET URL for bucket/path. token is the caller's
// platform access token; signers that hold their own credentials ignore it.
type Signer interface {
	SignURL(ctx context.Context, token, bucket, path string, ttl time.Duration) (string, error)
}

// PlatformSigner signs through the platform storage API as the caller, so
// the bucket's access policies apply.
type PlatformSigner struct {
	Client *supabase.Client
}

func (s PlatformSigner) SignURL(ctx context.Context, token, bucket, path string, ttl time.Duration) (string, error) {
	if s.Client == nil {
		return "", errors.New("platform signer: client required")
	}
	secs := int(ttl / time.Second)
	return s.Client.WithAccessToken(token).Storage(bucket).CreateSignedURL(ctx, path, secs)
}

// MinioSigner presigns against an S3-compatible endpoint that mirrors the
// platform buckets.
type MinioSigner struct {
	client *minio.Client
}

// MinioConfig configures MinioSigner.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region avoids a bucket location lookup per signature.
	Region string
}

func NewMinioSigner(cfg MinioConfig) (*MinioSigner, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioSigner{client: client}, nil
}

// CheckBucket verifies that bucket exists on the endpoint.
func (m *MinioSigner) CheckBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q not found", bucket)
	}
	return nil
}

// SignURL presigns bucket/path once the object is known to exist.
func (m *MinioSigner) SignURL(ctx context.Context, _ string, bucket, path string, ttl time.Duration) (string, error) {
	if _, err := m.client.StatObject(ctx, bucket, path, minio.StatObjectOptions{}); err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("stat object: %w", err)
	}
	u, err := m.client.PresignedGetObject(ctx, bucket, path, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}
