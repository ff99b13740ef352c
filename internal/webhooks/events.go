// Package webhooks receives call platform events and drives the meeting
// lifecycle: session start and end, transcript and recording ingestion.
package webhooks

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EventType is a call platform webhook event kind.
type EventType string

// The closed set of events this service handles. Anything else is rejected.
const (
	EventSessionStarted     EventType = "call.session_started"
	EventParticipantLeft    EventType = "call.session_participant_left"
	EventSessionEnded       EventType = "call.session_ended"
	EventTranscriptionReady EventType = "call.transcription_ready"
	EventRecordingReady     EventType = "call.recording_ready"
)

// Event is the decoded webhook payload. Only the fields this service reads
// are modeled; the platform sends much more.
type Event struct {
	Type    EventType `json:"type"`
	CallCID string    `json:"call_cid"`
	Call    struct {
		CID    string            `json:"cid"`
		Custom map[string]string `json:"custom"`
	} `json:"call"`
	CallTranscription struct {
		URL string `json:"url"`
	} `json:"call_transcription"`
	CallRecording struct {
		URL string `json:"url"`
	} `json:"call_recording"`
	Participant struct {
		User struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"user"`
	} `json:"participant"`
}

// MeetingID resolves the meeting this event belongs to. The meeting id rides
// in the call's custom metadata; events that omit call.custom carry it as the
// id half of the call cid ("type:id").
func (e *Event) MeetingID() (uuid.UUID, error) {
	if raw, ok := e.Call.Custom["meetingId"]; ok && raw != "" {
		return uuid.Parse(raw)
	}

	cid := e.CallCID
	if cid == "" {
		cid = e.Call.CID
	}
	if _, id, found := strings.Cut(cid, ":"); found && id != "" {
		return uuid.Parse(id)
	}
	return uuid.Nil, fmt.Errorf("no meeting id on event %q", e.Type)
}
