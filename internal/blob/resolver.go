package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// DefaultExpiry bounds how long a presigned attachment URL stays valid.
	DefaultExpiry = 15 * time.Minute
	// region is fixed so signing never has to look up the bucket location.
	region = "us-east-1"
)

// ErrEmptyRef is returned for blank blob references.
var ErrEmptyRef = errors.New("blob: empty reference")

// PresignClient signs time-limited GET URLs for objects in a MinIO/S3 bucket.
type PresignClient struct {
	bucket string
	expiry time.Duration
	client *minio.Client
	logger *slog.Logger
}

// NewPresignClient configures a resolver against an S3-compatible endpoint.
func NewPresignClient(endpoint string, useSSL bool, accessKey, secretKey, bucket string, expiry time.Duration, logger *slog.Logger) (*PresignClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("blob: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	client, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}
	return &PresignClient{
		bucket: bucket,
		expiry: expiry,
		client: client,
		logger: logger.With("component", "blob"),
	}, nil
}

// URL presigns a GET for ref. Refs may carry a leading slash or the bucket name.
func (c *PresignClient) URL(ctx context.Context, ref string) (string, error) {
	key := objectKey(ref, c.bucket)
	if key == "" {
		return "", ErrEmptyRef
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, c.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("blob: presign %s: %w", key, err)
	}
	c.logger.DebugContext(ctx, "presigned attachment url", "key", key)
	return u.String(), nil
}

// StaticResolver joins refs onto a public base URL, for buckets served directly.
type StaticResolver struct {
	base   string
	bucket string
}

// NewStaticResolver builds a resolver producing "<base>/<bucket>/<key>" URLs.
// An empty bucket yields "<base>/<key>".
func NewStaticResolver(base, bucket string) StaticResolver {
	return StaticResolver{base: strings.TrimRight(strings.TrimSpace(base), "/"), bucket: strings.Trim(bucket, "/")}
}

func (r StaticResolver) URL(_ context.Context, ref string) (string, error) {
	key := objectKey(ref, r.bucket)
	if key == "" {
		return "", ErrEmptyRef
	}
	if r.bucket == "" {
		return fmt.Sprintf("%s/%s", r.base, key), nil
	}
	return fmt.Sprintf("%s/%s/%s", r.base, r.bucket, key), nil
}

func objectKey(ref, bucket string) string {
	key := strings.Trim(strings.TrimSpace(ref), "/")
	if bucket != "" {
		key = strings.TrimPrefix(key, bucket+"/")
	}
	return key
}

func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
