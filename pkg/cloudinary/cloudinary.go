package cloudinary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName       string
	APIKey          string
	APISecret       string
	DownloadTimeout time.Duration
}

// AudioStore fetches recorded answers stored as Cloudinary video assets.
type AudioStore struct {
	client  *cloudinary.Cloudinary
	timeout time.Duration
	logger  zerolog.Logger
}

// New constructs a Cloudinary audio store.
func New(cfg Config, logger zerolog.Logger) (*AudioStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	cld.Config.URL.Secure = true

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}

	return &AudioStore{
		client:  cld,
		timeout: cfg.DownloadTimeout,
		logger:  logger.With().Str("component", "cloudinary_audio_store").Logger(),
	}, nil
}

// Download resolves bucket/path to a delivery URL and fetches it. The bucket
// is the Cloudinary folder the recording was uploaded into.
func (s *AudioStore) Download(ctx context.Context, bucket, path string) ([]byte, string, error) {
	publicID := buildPublicID(bucket, path)
	if publicID == "" {
		return nil, "", fmt.Errorf("audio path is required")
	}

	asset, err := s.client.Video(publicID)
	if err != nil {
		return nil, "", fmt.Errorf("build asset %s: %w", publicID, err)
	}
	url, err := asset.String()
	if err != nil {
		return nil, "", fmt.Errorf("build delivery url for %s: %w", publicID, err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, "", context.DeadlineExceeded
	}

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)

	agent := fiber.Get(url).Timeout(timeout).MaxRedirectsCount(3).SetResponse(resp)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("download %s: %w", publicID, errors.Join(errs...))
	}
	if status != fiber.StatusOK {
		return nil, "", fmt.Errorf("download %s: unexpected status %d", publicID, status)
	}

	data := append([]byte(nil), body...)
	contentType := string(resp.Header.ContentType())
	if contentType == "" || contentType == fiber.MIMEOctetStream {
		contentType = mimetype.Detect(data).String()
	}

	s.logger.Debug().Str("public_id", publicID).Int("bytes", len(data)).Msg("audio downloaded from cloudinary")
	return data, contentType, nil
}

func buildPublicID(folder, path string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	if folder == "" || strings.HasPrefix(path, folder+"/") {
		return path
	}
	return folder + "/" + path
}
