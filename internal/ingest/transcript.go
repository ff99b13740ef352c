// Package ingest pulls meeting artifacts from the call platform: transcript
// feeds and recordings relayed into durable storage.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TranscriptItem is one utterance in the platform's transcript feed.
type TranscriptItem struct {
	SpeakerID string  `json:"speaker_id"`
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	StartTS   float64 `json:"start_ts"`
	StopTS    float64 `json:"stop_ts"`
}

// TranscriptFetcher downloads and parses transcript feeds.
type TranscriptFetcher struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTranscriptFetcher creates a transcript fetcher.
func NewTranscriptFetcher(httpClient *http.Client, logger *zap.Logger) *TranscriptFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptFetcher{httpClient: httpClient, logger: logger}
}

// Fetch downloads the transcript feed at url and parses its JSONL items.
// Fetching is best-effort: any failure yields an empty transcript, never an
// error, so a flaky feed cannot corrupt the meeting record.
func (f *TranscriptFetcher) Fetch(ctx context.Context, url string) []TranscriptItem {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.logger.Warn("transcript request", zap.String("url", url), zap.Error(err))
		return nil
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("transcript fetch", zap.String("url", url), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("transcript fetch status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil
	}

	var items []TranscriptItem
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item TranscriptItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			f.logger.Warn("transcript line skipped", zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		f.logger.Warn("transcript read", zap.String("url", url), zap.Error(err))
		return nil
	}
	return items
}

// Text flattens transcript items into speaker-attributed lines for the LLM.
func Text(items []TranscriptItem) string {
	var b strings.Builder
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		b.WriteString(item.SpeakerID)
		b.WriteString(": ")
		b.WriteString(item.Text)
		b.WriteString("\n")
	}
	return b.String()
}
