package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/ingest"
	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/pkg/queue"
)

type fakeStore struct {
	meetings  map[uuid.UUID]*models.Meeting
	summaries map[uuid.UUID]string
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, ok := s.meetings[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m, nil
}

func (s *fakeStore) SetSummary(_ context.Context, id uuid.UUID, summary string) error {
	s.summaries[id] = summary
	if m, ok := s.meetings[id]; ok {
		m.Summary = summary
	}
	return nil
}

type fakeTranscripts struct {
	items []ingest.TranscriptItem
}

func (f *fakeTranscripts) Fetch(context.Context, string) []ingest.TranscriptItem {
	return f.items
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	f.calls++
	return f.summary, f.err
}

func summarizeJob(t *testing.T, meetingID uuid.UUID) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.SummarizePayload{
		MeetingID:     meetingID,
		TranscriptURL: "https://cdn.example.com/t.jsonl",
	})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeSummarize, Payload: payload}
}

func TestProcessSummarizes(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		meetings:  map[uuid.UUID]*models.Meeting{id: {ID: id, Status: models.StatusProcessing}},
		summaries: map[uuid.UUID]string{},
	}
	transcripts := &fakeTranscripts{items: []ingest.TranscriptItem{{SpeakerID: "ana", Text: "lets ship friday"}}}
	summarizer := &fakeSummarizer{summary: "decided to ship friday"}
	w := New(nil, store, transcripts, summarizer, zap.NewNop())

	err := w.Process(context.Background(), summarizeJob(t, id))
	require.NoError(t, err)

	assert.Equal(t, "decided to ship friday", store.summaries[id])
	assert.Equal(t, 1, summarizer.calls)
}

func TestProcessSkipsAlreadySummarized(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		meetings:  map[uuid.UUID]*models.Meeting{id: {ID: id, Summary: "already done"}},
		summaries: map[uuid.UUID]string{},
	}
	summarizer := &fakeSummarizer{summary: "new summary"}
	w := New(nil, store, &fakeTranscripts{}, summarizer, zap.NewNop())

	err := w.Process(context.Background(), summarizeJob(t, id))
	require.NoError(t, err)

	assert.Empty(t, store.summaries)
	assert.Zero(t, summarizer.calls)
}

func TestProcessEmptyTranscriptDropsJob(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		meetings:  map[uuid.UUID]*models.Meeting{id: {ID: id}},
		summaries: map[uuid.UUID]string{},
	}
	summarizer := &fakeSummarizer{}
	w := New(nil, store, &fakeTranscripts{}, summarizer, zap.NewNop())

	err := w.Process(context.Background(), summarizeJob(t, id))
	require.NoError(t, err)
	assert.Zero(t, summarizer.calls)
}

func TestProcessSummarizerFailureIsRetryable(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		meetings:  map[uuid.UUID]*models.Meeting{id: {ID: id}},
		summaries: map[uuid.UUID]string{},
	}
	transcripts := &fakeTranscripts{items: []ingest.TranscriptItem{{SpeakerID: "ana", Text: "hello"}}}
	w := New(nil, store, transcripts, &fakeSummarizer{err: errors.New("rate limited")}, zap.NewNop())

	err := w.Process(context.Background(), summarizeJob(t, id))
	require.Error(t, err)
	assert.Empty(t, store.summaries)
}

func TestProcessDropsMalformedJob(t *testing.T) {
	w := New(nil, &fakeStore{meetings: map[uuid.UUID]*models.Meeting{}, summaries: map[uuid.UUID]string{}},
		&fakeTranscripts{}, &fakeSummarizer{}, zap.NewNop())

	err := w.Process(context.Background(), &queue.Job{
		ID: uuid.NewString(), Type: queue.JobTypeSummarize, Payload: json.RawMessage(`{bad`),
	})
	require.NoError(t, err)
}

func TestProcessDropsUnknownJobType(t *testing.T) {
	w := New(nil, &fakeStore{meetings: map[uuid.UUID]*models.Meeting{}, summaries: map[uuid.UUID]string{}},
		&fakeTranscripts{}, &fakeSummarizer{}, zap.NewNop())

	err := w.Process(context.Background(), &queue.Job{ID: uuid.NewString(), Type: "unknown"})
	require.NoError(t, err)
}
