// Package s3 uploads marker artifacts to an S3-compatible object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/bnema/arpipe/internal/port"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// PublicBaseURL, when set, replaces the endpoint in returned URLs
	// (e.g. a CDN in front of the bucket).
	PublicBaseURL string
}

type Store struct {
	client  *minio.Client
	baseURL string

	mu      sync.Mutex
	ensured map[string]bool
}

func NewStore(opts Options) (*Store, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required when ARTIFACT_BACKEND=s3")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	baseURL := strings.TrimRight(opts.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(client.EndpointURL().String(), "/")
	}
	return &Store{client: client, baseURL: baseURL, ensured: make(map[string]bool)}, nil
}

// Upload puts localPath at bucket/objectName, creating the bucket on first
// use, and returns the object's public URL.
func (s *Store) Upload(ctx context.Context, localPath, bucket, objectName, contentType string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	objectName = strings.TrimLeft(strings.TrimSpace(objectName), "/")
	if bucket == "" || objectName == "" {
		return "", errors.New("s3 upload: bucket and object name are required")
	}
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.FPutObject(ctx, bucket, objectName, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("s3 put %s/%s: %w", bucket, objectName, err)
	}
	return s.publicURL(bucket, objectName), nil
}

func (s *Store) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[bucket] {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("s3 make bucket %s: %w", bucket, err)
		}
	}
	s.ensured[bucket] = true
	return nil
}

func (s *Store) publicURL(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

var _ port.ArtifactStore = (*Store)(nil)
