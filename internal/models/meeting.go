package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MeetingStatus represents the meeting lifecycle state.
type MeetingStatus string

const (
	// StatusUpcoming is the initial state for a meeting starting now.
	StatusUpcoming MeetingStatus = "Upcoming"
	// StatusSchedule is the initial state for a meeting with a future start date.
	StatusSchedule MeetingStatus = "Schedule"
	// StatusActive means the call session has started.
	StatusActive MeetingStatus = "Active"
	// StatusProcessing means the session ended and artifacts are being ingested.
	StatusProcessing MeetingStatus = "Processing"
	// StatusCompleted is terminal: the durable recording is stored.
	StatusCompleted MeetingStatus = "Completed"
	// StatusCancelled is terminal: the user cancelled before completion.
	StatusCancelled MeetingStatus = "Cancelled"
)

// nextStatuses maps each state to the states it may move to.
// Transitions are monotonic: nothing moves a meeting backward.
var nextStatuses = map[MeetingStatus][]MeetingStatus{
	StatusUpcoming:   {StatusActive, StatusCancelled},
	StatusSchedule:   {StatusActive, StatusCancelled},
	StatusActive:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// ValidStatus reports whether s is a known meeting status.
func ValidStatus(s MeetingStatus) bool {
	_, ok := nextStatuses[s]
	return ok
}

// CanTransition reports whether a meeting may move from one status to another.
func CanTransition(from, to MeetingStatus) bool {
	for _, n := range nextStatuses[from] {
		if n == to {
			return true
		}
	}
	return false
}

// ErrDuplicateParticipant is returned when a join collides on id or email.
var ErrDuplicateParticipant = errors.New("participant already exists in this meeting")

// Participant is a person who joined a meeting, embedded on the meeting row.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joined_at"`
}

// Meeting represents an AI-assisted call and its lifecycle record.
type Meeting struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	UserID        uuid.UUID     `json:"user_id"`
	AgentID       uuid.UUID     `json:"agent_id"`
	Status        MeetingStatus `json:"status"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	TranscriptURL string        `json:"transcript_url,omitempty"`
	RecordingURL  string        `json:"recording_url,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	StartDate     *time.Time    `json:"start_date,omitempty"`
	IsPaid        bool          `json:"is_paid"`
	Participants  []Participant `json:"participants"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AddParticipant appends p to the meeting's participant list.
// A collision on either id or email is rejected, never merged.
func (m *Meeting) AddParticipant(p Participant) error {
	for _, existing := range m.Participants {
		if existing.ID == p.ID || existing.Email == p.Email {
			return ErrDuplicateParticipant
		}
	}
	m.Participants = append(m.Participants, p)
	return nil
}

// InitialStatus returns Schedule when a future start date is supplied, Upcoming otherwise.
func InitialStatus(startDate *time.Time) MeetingStatus {
	if startDate != nil && startDate.After(time.Now()) {
		return StatusSchedule
	}
	return StatusUpcoming
}
