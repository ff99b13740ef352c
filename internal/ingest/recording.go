package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novameet/backend/pkg/storage"
)

// Uploader streams a blob into durable storage and returns its public URL.
// Satisfied by *storage.S3.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// RecordingRelay moves recordings from the platform's short-lived URLs into
// durable storage under fresh opaque names.
type RecordingRelay struct {
	uploader   Uploader
	bucket     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRecordingRelay creates a recording relay targeting the given bucket.
func NewRecordingRelay(uploader Uploader, bucket string, httpClient *http.Client, logger *zap.Logger) *RecordingRelay {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingRelay{uploader: uploader, bucket: bucket, httpClient: httpClient, logger: logger}
}

// Relay downloads the recording at shortLivedURL and streams it into durable
// storage, returning the durable URL. Unlike transcript fetching this fails
// loudly: a Completed meeting without a durable recording URL is not an
// acceptable terminal state.
func (r *RecordingRelay) Relay(ctx context.Context, shortLivedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortLivedURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download recording status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(uuid.New().String())

	durableURL, err := r.uploader.Upload(ctx, r.bucket, key, contentType, resp.Body, resp.ContentLength)
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}

	r.logger.Info("recording relayed", zap.String("key", key))
	return durableURL, nil
}
