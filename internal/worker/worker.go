// Package worker runs the background transcript summarization loop.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/ingest"
	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/pkg/queue"
)

// Store is the meeting persistence the worker needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	SetSummary(ctx context.Context, id uuid.UUID, summary string) error
}

// Jobs is the queue surface the worker consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Transcripts fetches transcript feeds. *ingest.TranscriptFetcher implements it.
type Transcripts interface {
	Fetch(ctx context.Context, url string) []ingest.TranscriptItem
}

// Summarizer condenses a transcript. *llm.Client implements it.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Worker consumes summary jobs and writes summaries back onto meetings.
type Worker struct {
	jobs        Jobs
	store       Store
	transcripts Transcripts
	summarizer  Summarizer
	logger      *zap.Logger
}

// New creates a summary worker.
func New(jobs Jobs, store Store, transcripts Transcripts, summarizer Summarizer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{jobs: jobs, store: store, transcripts: transcripts, summarizer: summarizer, logger: logger}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("summary worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("summary worker stopping")
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		if err := w.Process(ctx, job); err != nil {
			w.logger.Error("process job", zap.Error(err), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
			if err := w.jobs.Retry(ctx, job); err != nil {
				w.logger.Error("retry job", zap.Error(err), zap.String("job_id", job.ID))
			}
		}
	}
}

// Process handles a single job. Jobs are redelivered on failure, so every
// step must tolerate running more than once.
func (w *Worker) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSummarize {
		w.logger.Warn("dropping unknown job type", zap.String("type", string(job.Type)), zap.String("job_id", job.ID))
		return nil
	}

	var payload queue.SummarizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Warn("dropping malformed job", zap.Error(err), zap.String("job_id", job.ID))
		return nil
	}

	meeting, err := w.store.GetByID(ctx, payload.MeetingID)
	if err != nil {
		return fmt.Errorf("fetch meeting: %w", err)
	}
	if meeting.Summary != "" {
		// already summarized by an earlier delivery
		return nil
	}

	items := w.transcripts.Fetch(ctx, payload.TranscriptURL)
	text := ingest.Text(items)
	if text == "" {
		w.logger.Warn("empty transcript, skipping summary", zap.String("meeting_id", payload.MeetingID.String()))
		return nil
	}

	summary, err := w.summarizer.Summarize(ctx, text)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := w.store.SetSummary(ctx, payload.MeetingID, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	w.logger.Info("meeting summarized", zap.String("meeting_id", payload.MeetingID.String()))
	return nil
}
