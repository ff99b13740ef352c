package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/calendar"
	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/models"
)

type fakeStore struct {
	created []*models.Meeting
	err     error
}

func (s *fakeStore) Create(_ context.Context, m *models.Meeting) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, m)
	return nil
}

type fakeAgents struct {
	agent *models.Agent
}

func (a *fakeAgents) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	if a.agent == nil || a.agent.ID != id {
		return nil, pgx.ErrNoRows
	}
	return a.agent, nil
}

type fakeLedger struct {
	costs ledger.Costs
}

func (l *fakeLedger) GetCostAndBalance(context.Context, uuid.UUID) (*ledger.Costs, error) {
	c := l.costs
	return &c, nil
}

func (l *fakeLedger) TrySpend(_ context.Context, _ uuid.UUID, amount int) (bool, error) {
	if l.costs.Tokens < amount {
		return false, nil
	}
	l.costs.Tokens -= amount
	return true, nil
}

type fakeCalls struct {
	err     error
	created int
}

func (f *fakeCalls) CreateMeetingCall(_ context.Context, _ *models.Meeting, _ *models.Agent) error {
	if f.err != nil {
		return f.err
	}
	f.created++
	return nil
}

type fakeCalendar struct {
	tokenErr error
	events   []calendar.Event
}

func (f *fakeCalendar) FreshAccessToken(_ context.Context, refreshToken string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "access-" + refreshToken, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, event calendar.Event) (*calendar.Event, error) {
	f.events = append(f.events, event)
	return &event, nil
}

type fakeTokens struct {
	refreshToken string
}

func (f *fakeTokens) GetGoogleRefreshToken(context.Context, uuid.UUID) (string, error) {
	return f.refreshToken, nil
}

type bridgeFixture struct {
	bridge *Bridge
	store  *fakeStore
	ledger *fakeLedger
	calls  *fakeCalls
	cal    *fakeCalendar
	agent  *models.Agent
	userID uuid.UUID
}

func newBridgeFixture(tokens, meetingCost int) *bridgeFixture {
	agent := &models.Agent{ID: uuid.New(), Name: "Notetaker", Instruction: "take notes"}
	f := &bridgeFixture{
		store:  &fakeStore{},
		ledger: &fakeLedger{costs: ledger.Costs{Tokens: tokens, MeetingCost: meetingCost}},
		calls:  &fakeCalls{},
		cal:    &fakeCalendar{},
		agent:  agent,
		userID: uuid.New(),
	}
	f.bridge = NewBridge(f.store, &fakeAgents{agent: agent}, f.ledger, f.calls,
		f.cal, &fakeTokens{refreshToken: "refresh"}, zap.NewNop())
	return f
}

func (f *bridgeFixture) source() *models.Meeting {
	return &models.Meeting{
		ID:      uuid.New(),
		Name:    "weekly sync",
		UserID:  f.userID,
		AgentID: f.agent.ID,
		Status:  models.StatusActive,
		Participants: []models.Participant{
			{ID: "u1", Name: "Ana", Email: "ana@example.com", JoinedAt: time.Now()},
		},
	}
}

func (f *bridgeFixture) request() Request {
	return Request{
		Topic:     "follow-up",
		StartTime: time.Now().Add(24 * time.Hour),
		Source:    f.source(),
	}
}

func TestScheduleFollowUpPaid(t *testing.T) {
	f := newBridgeFixture(50, 10)

	m, err := f.bridge.ScheduleFollowUp(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, m.IsPaid)
	assert.Equal(t, models.StatusSchedule, m.Status)
	assert.Equal(t, f.userID, m.UserID)
	assert.Equal(t, f.agent.ID, m.AgentID)
	assert.Equal(t, 40, f.ledger.costs.Tokens)
	assert.Equal(t, 1, f.calls.created)
	require.Len(t, f.store.created, 1)
	assert.Equal(t, m.ID, f.store.created[0].ID)
}

func TestScheduleFollowUpUnpaidWhenBroke(t *testing.T) {
	f := newBridgeFixture(5, 10)

	m, err := f.bridge.ScheduleFollowUp(context.Background(), f.request())
	require.NoError(t, err)

	assert.False(t, m.IsPaid)
	assert.Equal(t, models.StatusSchedule, m.Status)
	assert.Equal(t, 5, f.ledger.costs.Tokens)
	require.Len(t, f.store.created, 1)
}

func TestScheduleFollowUpCallFailureAborts(t *testing.T) {
	f := newBridgeFixture(50, 10)
	f.calls.err = errors.New("platform down")

	_, err := f.bridge.ScheduleFollowUp(context.Background(), f.request())
	require.Error(t, err)

	assert.Empty(t, f.store.created)
	// the debit already happened and is not rolled back
	assert.Equal(t, 40, f.ledger.costs.Tokens)
}

func TestScheduleFollowUpCreatesCalendarEvent(t *testing.T) {
	f := newBridgeFixture(50, 10)
	req := f.request()

	_, err := f.bridge.ScheduleFollowUp(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.cal.events, 1)
	event := f.cal.events[0]
	assert.Equal(t, "follow-up", event.Summary)
	require.Len(t, event.Attendees, 1)
	assert.Equal(t, "ana@example.com", event.Attendees[0].Email)

	start, err := time.Parse(time.RFC3339, event.Start.DateTime)
	require.NoError(t, err)
	end, err := time.Parse(time.RFC3339, event.End.DateTime)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, end.Sub(start))
}

func TestScheduleFollowUpNoAttendeeSkipsCalendar(t *testing.T) {
	f := newBridgeFixture(50, 10)
	req := f.request()
	req.Source.Participants = nil

	_, err := f.bridge.ScheduleFollowUp(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, f.cal.events)
	require.Len(t, f.store.created, 1)
}

func TestScheduleFollowUpCalendarFailureIgnored(t *testing.T) {
	f := newBridgeFixture(50, 10)
	f.cal.tokenErr = errors.New("oauth down")

	m, err := f.bridge.ScheduleFollowUp(context.Background(), f.request())
	require.NoError(t, err)

	assert.Empty(t, f.cal.events)
	require.Len(t, f.store.created, 1)
	assert.True(t, m.IsPaid)
}

func TestScheduleFollowUpValidation(t *testing.T) {
	f := newBridgeFixture(50, 10)

	req := f.request()
	req.Topic = ""
	_, err := f.bridge.ScheduleFollowUp(context.Background(), req)
	require.Error(t, err)

	req = f.request()
	req.StartTime = time.Time{}
	_, err = f.bridge.ScheduleFollowUp(context.Background(), req)
	require.Error(t, err)

	req = f.request()
	req.Source = nil
	_, err = f.bridge.ScheduleFollowUp(context.Background(), req)
	require.Error(t, err)

	assert.Empty(t, f.store.created)
	assert.Equal(t, 50, f.ledger.costs.Tokens)
}

func TestScheduleFollowUpUnknownAgent(t *testing.T) {
	f := newBridgeFixture(50, 10)
	req := f.request()
	req.Source.AgentID = uuid.New()

	_, err := f.bridge.ScheduleFollowUp(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 50, f.ledger.costs.Tokens)
}
