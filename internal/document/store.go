// Package document reads and writes whole documents either on the local
// filesystem or in an S3-compatible bucket, chosen by the target string.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/property-etl/internal/config"
)

const objectScheme = "s3://"

// Target is a parsed document location: either a file path or a bucket and
// object key.
type Target struct {
	Path   string
	Bucket string
	Key    string
}

// ParseTarget accepts a filesystem path or s3://bucket/key.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, errors.New("empty document target")
	}
	if !strings.HasPrefix(s, objectScheme) {
		return Target{Path: s}, nil
	}

	rest := strings.TrimPrefix(s, objectScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(key, "/") == "" {
		return Target{}, fmt.Errorf("invalid object target %q, want s3://bucket/key", s)
	}
	return Target{Bucket: bucket, Key: strings.TrimPrefix(key, "/")}, nil
}

// IsObject reports whether the target lives in object storage.
func (t Target) IsObject() bool {
	return t.Bucket != ""
}

func (t Target) String() string {
	if t.IsObject() {
		return objectScheme + t.Bucket + "/" + t.Key
	}
	return t.Path
}

// Store reads and writes documents. The object storage client is created on
// first use so file-only runs need no credentials.
type Store struct {
	cfg config.MinioConfig

	mu     sync.Mutex
	client *minio.Client
}

// NewStore creates a store using cfg for s3:// targets.
func NewStore(cfg config.MinioConfig) *Store {
	return &Store{cfg: cfg}
}

// Read returns the full contents of target.
func (s *Store) Read(ctx context.Context, target string) ([]byte, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	if !t.IsObject() {
		data, err := os.ReadFile(t.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", t.Path, err)
		}
		return data, nil
	}

	client, err := s.objectClient()
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, t.Bucket, t.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", t, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t, err)
	}
	return data, nil
}

// Write stores data at target, creating parent directories or the bucket as
// needed.
func (s *Store) Write(ctx context.Context, target string, data []byte) error {
	t, err := ParseTarget(target)
	if err != nil {
		return err
	}

	if !t.IsObject() {
		if dir := filepath.Dir(t.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(t.Path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", t.Path, err)
		}
		return nil
	}

	client, err := s.objectClient()
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx, client, t.Bucket); err != nil {
		return err
	}

	_, err = client.PutObject(ctx, t.Bucket, t.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", t, err)
	}
	return nil
}

func (s *Store) objectClient() (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.cfg.Endpoint == "" {
		return nil, errors.New("object storage endpoint not configured (MINIO_ENDPOINT)")
	}

	client, err := minio.New(s.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		Secure: s.cfg.UseSSL,
		Region: s.cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	s.client = client
	return client, nil
}

func (s *Store) ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}
