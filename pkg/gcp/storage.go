package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// ErrObjectNotFound indicates the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// StorageConfig configures the Cloud Storage audio store.
type StorageConfig struct {
	Credentials     string
	DownloadTimeout time.Duration
	MaxObjectBytes  int64
}

// AudioStore downloads recorded answers from Cloud Storage.
type AudioStore struct {
	client  *storage.Client
	timeout time.Duration
	limit   int64
	logger  zerolog.Logger
}

// NewAudioStore creates a read-only Cloud Storage client.
func NewAudioStore(ctx context.Context, cfg StorageConfig, logger zerolog.Logger) (*AudioStore, error) {
	opts := ClientOptions(cfg.Credentials)
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = 100 << 20
	}

	return &AudioStore{
		client:  client,
		timeout: cfg.DownloadTimeout,
		limit:   cfg.MaxObjectBytes,
		logger:  logger.With().Str("component", "gcs_audio_store").Logger(),
	}, nil
}

// Download reads the object at bucket/path and returns its bytes and content type.
func (s *AudioStore) Download(ctx context.Context, bucket, path string) ([]byte, string, error) {
	bucket = strings.TrimSpace(bucket)
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if bucket == "" || path == "" {
		return nil, "", fmt.Errorf("bucket and path are required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reader, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, path)
		}
		return nil, "", fmt.Errorf("open gs://%s/%s: %w", bucket, path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, s.limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read gs://%s/%s: %w", bucket, path, err)
	}
	if int64(len(data)) > s.limit {
		return nil, "", fmt.Errorf("object gs://%s/%s exceeds %d bytes", bucket, path, s.limit)
	}

	contentType := reader.Attrs.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	s.logger.Debug().Str("bucket", bucket).Str("path", path).Int("bytes", len(data)).Msg("audio downloaded")
	return data, contentType, nil
}

// Close releases the storage client.
func (s *AudioStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
