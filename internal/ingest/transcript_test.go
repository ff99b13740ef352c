package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleFeed = `{"speaker_id":"alice","type":"speech","text":"Good morning everyone.","start_ts":0,"stop_ts":2.5}
{"speaker_id":"bob","type":"speech","text":"Morning! Ready to start?","start_ts":2.6,"stop_ts":4.1}

{"speaker_id":"alice","type":"speech","text":"Yes, let's begin.","start_ts":4.2,"stop_ts":5.8}`

func TestFetchTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	f := NewTranscriptFetcher(nil, zap.NewNop())
	items := f.Fetch(context.Background(), server.URL)
	require.Len(t, items, 3)
	assert.Equal(t, "alice", items[0].SpeakerID)
	assert.Equal(t, "Good morning everyone.", items[0].Text)
	assert.Equal(t, 2.6, items[1].StartTS)
	assert.Equal(t, 5.8, items[2].StopTS)
}

func TestFetchTranscriptSkipsBadLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all\n" + `{"speaker_id":"bob","text":"hi","start_ts":1,"stop_ts":2}` + "\n"))
	}))
	defer server.Close()

	f := NewTranscriptFetcher(nil, zap.NewNop())
	items := f.Fetch(context.Background(), server.URL)
	require.Len(t, items, 1)
	assert.Equal(t, "bob", items[0].SpeakerID)
}

func TestFetchTranscriptUnreachable(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close() // immediately unreachable

	f := NewTranscriptFetcher(nil, zap.NewNop())
	assert.Empty(t, f.Fetch(context.Background(), server.URL))
}

func TestFetchTranscriptErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	f := NewTranscriptFetcher(nil, zap.NewNop())
	assert.Empty(t, f.Fetch(context.Background(), server.URL))
}

func TestText(t *testing.T) {
	items := []TranscriptItem{
		{SpeakerID: "alice", Text: "Good morning everyone."},
		{SpeakerID: "bob", Text: "   "},
		{SpeakerID: "bob", Text: "Morning!"},
	}
	assert.Equal(t, "alice: Good morning everyone.\nbob: Morning!\n", Text(items))
	assert.Empty(t, Text(nil))
}
