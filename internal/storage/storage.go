// Package storage provides content-addressed object storage for page
// snapshots and captured media (spec §6: "object store... keyed by
// SHA-256"), backed by any S3-compatible endpoint (Tigris, MinIO, R2).
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store puts and gets content-addressed blobs in an S3-compatible bucket.
// A disabled Store (from New with Enabled false) silently no-ops Put so callers don't need to branch
// on whether object storage is configured.
type Store struct {
	client  *s3.Client
	bucket  string
	prefix  string
	enabled bool
	logger  *slog.Logger
}

// Config configures a Store.
type Config struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Prefix namespaces keys within the bucket, e.g. "snapshots" or "screenshots".
	Prefix string
}

// New creates a Store. When cfg.Enabled is false, the returned Store's Put
// is a no-op and Get always returns ErrNotFound, matching the teacher's
// StorageService "disabled" mode.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		logger.Info("object storage disabled - no bucket configured")
		return &Store{enabled: false, logger: logger}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	logger.Info("object storage initialized", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint, "prefix", cfg.Prefix)
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, enabled: true, logger: logger}, nil
}

// ErrNotFound is returned by Get when the Store is disabled or the digest
// has no corresponding object.
var ErrNotFound = fmt.Errorf("storage: object not found")

// Put stores body and returns its SHA-256 digest (hex-encoded), which
// doubles as the object key. Storing is idempotent: identical content always
// resolves to the same key, so repeated snapshots of an unchanged render
// cost a single PUT.
func (s *Store) Put(ctx context.Context, contentType string, body []byte) (digest string, err error) {
	sum := sha256.Sum256(body)
	digest = hex.EncodeToString(sum[:])
	if !s.enabled {
		return digest, nil
	}

	key := s.key(digest)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	s.logger.Debug("stored object", "key", key, "size_bytes", len(body))
	return digest, nil
}

// Get retrieves the object for digest.
func (s *Store) Get(ctx context.Context, digest string) ([]byte, error) {
	if !s.enabled {
		return nil, ErrNotFound
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(digest)),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", digest, err)
	}
	defer func() { _ = out.Body.Close() }()

	return io.ReadAll(out.Body)
}

// IsEnabled reports whether the store is backed by a real bucket.
func (s *Store) IsEnabled() bool {
	return s.enabled
}

func (s *Store) key(digest string) string {
	if s.prefix == "" {
		return digest
	}
	return s.prefix + "/" + digest
}
