// Package scheduling creates follow-up meetings on behalf of an in-call AI
// agent: the bridge between the schedule_meeting tool and the meeting store,
// call platform, token ledger, and the host's calendar.
package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/calendar"
	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/models"
)

// Store persists the follow-up meeting record.
type Store interface {
	Create(ctx context.Context, m *models.Meeting) error
}

// AgentStore resolves the agent that will join the follow-up.
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// Ledger is the token accounting the bridge needs.
type Ledger interface {
	GetCostAndBalance(ctx context.Context, userID uuid.UUID) (*ledger.Costs, error)
	TrySpend(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
}

// CallProvisioner creates the video call backing a meeting.
type CallProvisioner interface {
	CreateMeetingCall(ctx context.Context, meeting *models.Meeting, agent *models.Agent) error
}

// Calendar mirrors the Google Calendar client surface the bridge uses.
type Calendar interface {
	FreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	CreateEvent(ctx context.Context, accessToken string, event calendar.Event) (*calendar.Event, error)
}

// TokenSource resolves a user's stored Google refresh token.
type TokenSource interface {
	GetGoogleRefreshToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// Request describes a follow-up meeting to schedule mid-call. Source is the
// meeting the tool call originated from; the follow-up inherits its host and
// agent, and the calendar invite goes to its first known participant email.
type Request struct {
	Topic     string
	StartTime time.Time
	Source    *models.Meeting
}

// Bridge schedules follow-up meetings requested from inside an active call.
type Bridge struct {
	store  Store
	agents AgentStore
	ledger Ledger
	calls  CallProvisioner
	cal    Calendar
	tokens TokenSource
	logger *zap.Logger
}

// NewBridge creates a scheduling bridge. cal and tokens may be nil when
// calendar sync is not configured.
func NewBridge(store Store, agents AgentStore, ledger Ledger, calls CallProvisioner, cal Calendar, tokens TokenSource, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{store: store, agents: agents, ledger: ledger, calls: calls, cal: cal, tokens: tokens, logger: logger}
}

// ScheduleFollowUp creates a follow-up meeting during an active call.
//
// Unlike user-initiated creation, an empty token balance does not block the
// request: the agent already committed to the schedule in conversation, so the
// meeting is created unpaid and the debit simply doesn't happen. Call
// provisioning failure aborts; the debit is not rolled back in that case.
// Calendar sync is best-effort and never fails the request.
func (b *Bridge) ScheduleFollowUp(ctx context.Context, req Request) (*models.Meeting, error) {
	if req.Topic == "" {
		return nil, fmt.Errorf("meeting topic required")
	}
	if req.StartTime.IsZero() {
		return nil, fmt.Errorf("start time required")
	}
	if req.Source == nil {
		return nil, fmt.Errorf("source meeting required")
	}

	agent, err := b.agents.GetByID(ctx, req.Source.AgentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}

	hostID := req.Source.UserID
	isPaid := false
	costs, err := b.ledger.GetCostAndBalance(ctx, hostID)
	if err != nil {
		b.logger.Warn("resolve plan costs, scheduling unpaid",
			zap.Error(err), zap.String("user_id", hostID.String()))
	} else {
		spent, err := b.ledger.TrySpend(ctx, hostID, costs.MeetingCost)
		if err != nil {
			b.logger.Warn("debit tokens, scheduling unpaid", zap.Error(err))
		} else {
			isPaid = spent
		}
	}

	start := req.StartTime
	meeting := &models.Meeting{
		ID:           uuid.New(),
		Name:         req.Topic,
		UserID:       hostID,
		AgentID:      req.Source.AgentID,
		Status:       models.StatusSchedule,
		StartDate:    &start,
		IsPaid:       isPaid,
		Participants: []models.Participant{},
	}

	if err := b.calls.CreateMeetingCall(ctx, meeting, agent); err != nil {
		return nil, fmt.Errorf("provision call: %w", err)
	}

	b.syncCalendar(ctx, meeting, sourceAttendee(req.Source))

	if err := b.store.Create(ctx, meeting); err != nil {
		return nil, fmt.Errorf("store meeting: %w", err)
	}

	b.logger.Info("follow-up meeting scheduled",
		zap.String("meeting_id", meeting.ID.String()),
		zap.String("status", string(meeting.Status)),
		zap.Bool("is_paid", meeting.IsPaid))
	return meeting, nil
}

// sourceAttendee returns the first known participant email of the source
// meeting, or "" when nobody with an email has joined yet.
func sourceAttendee(m *models.Meeting) string {
	for _, p := range m.Participants {
		if p.Email != "" {
			return p.Email
		}
	}
	return ""
}

// syncCalendar mirrors the follow-up onto the host's Google calendar as a
// one-hour event. With no attendee email known there is nobody to invite, so
// the event is skipped. Missing credentials or API failures are logged and
// swallowed.
func (b *Bridge) syncCalendar(ctx context.Context, m *models.Meeting, attendee string) {
	if b.cal == nil || b.tokens == nil || attendee == "" {
		return
	}

	refreshToken, err := b.tokens.GetGoogleRefreshToken(ctx, m.UserID)
	if err != nil || refreshToken == "" {
		b.logger.Debug("no google refresh token, skipping calendar sync",
			zap.String("user_id", m.UserID.String()))
		return
	}

	accessToken, err := b.cal.FreshAccessToken(ctx, refreshToken)
	if err != nil {
		b.logger.Warn("calendar token exchange", zap.Error(err))
		return
	}

	event := calendar.Event{
		Summary:     m.Name,
		Description: "Scheduled from meeting " + m.ID.String(),
		Start:       calendar.EventTime{DateTime: m.StartDate.UTC().Format(time.RFC3339)},
		End:         calendar.EventTime{DateTime: m.StartDate.Add(time.Hour).UTC().Format(time.RFC3339)},
		Attendees:   []calendar.Attendee{{Email: attendee}},
	}

	if _, err := b.cal.CreateEvent(ctx, accessToken, event); err != nil {
		b.logger.Warn("calendar event creation", zap.Error(err),
			zap.String("meeting_id", m.ID.String()))
	}
}
