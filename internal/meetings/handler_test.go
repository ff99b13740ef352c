package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/internal/models"
)

type fakeStore struct {
	meetings  map[uuid.UUID]*models.Meeting
	createErr error
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{meetings: make(map[uuid.UUID]*models.Meeting)}
}

func (s *fakeStore) Create(_ context.Context, m *models.Meeting) error {
	if s.createErr != nil {
		return s.createErr
	}
	copied := *m
	s.meetings[m.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, ok := s.meetings[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *m
	return &copied, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	var out []models.Meeting
	for _, m := range s.meetings {
		if m.UserID == userID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, m *models.Meeting) error {
	copied := *m
	s.meetings[m.ID] = &copied
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	if m, ok := s.meetings[id]; ok && m.UserID == userID {
		delete(s.meetings, id)
	}
	return nil
}

func (s *fakeStore) AppendParticipant(_ context.Context, id uuid.UUID, p models.Participant) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	m, ok := s.meetings[id]
	if !ok {
		return pgx.ErrNoRows
	}
	for _, existing := range m.Participants {
		if existing.ID == p.ID || existing.Email == p.Email {
			return models.ErrDuplicateParticipant
		}
	}
	m.Participants = append(m.Participants, p)
	return nil
}

type fakeAgents struct {
	agents map[uuid.UUID]*models.Agent
}

func (a *fakeAgents) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	agent, ok := a.agents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return agent, nil
}

type fakeLedger struct {
	costs  ledger.Costs
	spends []int
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
	l.spends = append(l.spends, amount)
	return true, nil
}

type fakeCalls struct {
	created []uuid.UUID
	err     error
}

func (f *fakeCalls) CreateMeetingCall(_ context.Context, m *models.Meeting, _ *models.Agent) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, m.ID)
	return nil
}

type fakeChatter struct {
	reply string
	err   error

	transcript string
	question   string
}

func (f *fakeChatter) Chat(_ context.Context, transcript, question string) (string, error) {
	f.transcript = transcript
	f.question = question
	return f.reply, f.err
}

type fixture struct {
	handler *Handler
	store   *fakeStore
	agents  *fakeAgents
	ledger  *fakeLedger
	calls   *fakeCalls
	chat    *fakeChatter
	userID  uuid.UUID
	agentID uuid.UUID
}

func newFixture(tokens, meetingCost int) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:   newFakeStore(),
		ledger:  &fakeLedger{costs: ledger.Costs{Tokens: tokens, MeetingCost: meetingCost, AgentCost: 2}},
		calls:   &fakeCalls{},
		chat:    &fakeChatter{reply: "the team agreed to ship"},
		userID:  uuid.New(),
		agentID: uuid.New(),
	}
	f.agents = &fakeAgents{agents: map[uuid.UUID]*models.Agent{
		f.agentID: {ID: f.agentID, Name: "Notetaker", Instruction: "take notes"},
	}}
	f.handler = NewHandler(f.store, f.agents, f.ledger, f.calls, f.chat, zap.NewNop())
	return f
}

func (f *fixture) do(method, path string, body any, authed bool, handle gin.HandlerFunc, params ...gin.Param) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	if authed {
		c.Set(middleware.ContextUserID, f.userID)
	}
	handle(c)
	return rec
}

func TestCreateDebitsAndProvisions(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()

	rec := f.do(http.MethodPost, "/meetings", CreateRequest{ID: id, Name: "standup", AgentID: f.agentID}, true, f.handler.Create)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int{10}, f.ledger.spends)
	assert.Equal(t, []uuid.UUID{id}, f.calls.created)

	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, stored.Status)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, f.userID, stored.UserID)
}

func TestCreateFutureStartDateSchedules(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	future := time.Now().Add(48 * time.Hour)

	rec := f.do(http.MethodPost, "/meetings", CreateRequest{ID: id, Name: "planning", AgentID: f.agentID, StartDate: &future}, true, f.handler.Create)

	require.Equal(t, http.StatusCreated, rec.Code)
	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSchedule, stored.Status)
}

func TestCreateInsufficientTokens(t *testing.T) {
	f := newFixture(5, 10)

	rec := f.do(http.MethodPost, "/meetings", CreateRequest{ID: uuid.New(), Name: "standup", AgentID: f.agentID}, true, f.handler.Create)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough tokens")
	assert.Empty(t, f.ledger.spends)
	assert.Empty(t, f.calls.created)
	assert.Empty(t, f.store.meetings)
}

func TestCreateUnknownAgent(t *testing.T) {
	f := newFixture(100, 10)

	rec := f.do(http.MethodPost, "/meetings", CreateRequest{ID: uuid.New(), Name: "standup", AgentID: uuid.New()}, true, f.handler.Create)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.ledger.spends)
}

func TestCreateCallFailure(t *testing.T) {
	f := newFixture(100, 10)
	f.calls.err = errors.New("upstream down")

	rec := f.do(http.MethodPost, "/meetings", CreateRequest{ID: uuid.New(), Name: "standup", AgentID: f.agentID}, true, f.handler.Create)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.store.meetings)
}

func TestGetByIDNotFound(t *testing.T) {
	f := newFixture(100, 10)

	rec := f.do(http.MethodGet, "/meetings/x", nil, true, f.handler.GetByID,
		gin.Param{Key: "id", Value: uuid.NewString()})

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateCancel(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Name: "standup", Status: models.StatusUpcoming}

	cancelled := models.StatusCancelled
	rec := f.do(http.MethodPatch, "/meetings/"+id.String(), UpdateRequest{Status: &cancelled}, true, f.handler.Update,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	stored, _ := f.store.GetByID(context.Background(), id)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusCompleted}

	cancelled := models.StatusCancelled
	rec := f.do(http.MethodPatch, "/meetings/"+id.String(), UpdateRequest{Status: &cancelled}, true, f.handler.Update,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	stored, _ := f.store.GetByID(context.Background(), id)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestUpdateForbiddenForOtherUser(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: uuid.New(), Status: models.StatusUpcoming}

	name := "renamed"
	rec := f.do(http.MethodPatch, "/meetings/"+id.String(), UpdateRequest{Name: &name}, true, f.handler.Update,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestJoinAddsParticipant(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusActive}

	rec := f.do(http.MethodPost, "/meetings/"+id.String()+"/participants",
		JoinRequest{ID: "p1", Name: "Ana", Email: "ana@example.com"}, true, f.handler.Join,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	stored, _ := f.store.GetByID(context.Background(), id)
	require.Len(t, stored.Participants, 1)
	assert.Equal(t, "ana@example.com", stored.Participants[0].Email)
}

func TestJoinDuplicateEmailConflicts(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusActive,
		Participants: []models.Participant{{ID: "p1", Name: "Ana", Email: "ana@example.com"}}}

	rec := f.do(http.MethodPost, "/meetings/"+id.String()+"/participants",
		JoinRequest{ID: "p2", Name: "Other Ana", Email: "ana@example.com"}, true, f.handler.Join,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusConflict, rec.Code)
	stored, _ := f.store.GetByID(context.Background(), id)
	assert.Len(t, stored.Participants, 1)
}

func TestJoinConcurrentDuplicateConflicts(t *testing.T) {
	// a second join lands between this handler's read and its write; the
	// store-level guard rejects it even though the read saw no duplicate
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusActive}
	f.store.appendErr = models.ErrDuplicateParticipant

	rec := f.do(http.MethodPost, "/meetings/"+id.String()+"/participants",
		JoinRequest{ID: "p1", Name: "Ana", Email: "ana@example.com"}, true, f.handler.Join,
		gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusConflict, rec.Code)
	stored, _ := f.store.GetByID(context.Background(), id)
	assert.Empty(t, stored.Participants)
}

func TestChatAnswersFromSummary(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusCompleted,
		Summary: "decisions: ship friday"}

	rec := f.do(http.MethodPost, "/meetings/chat", ChatRequest{MeetingID: id, Question: "when do we ship?"}, true, f.handler.Chat)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "decisions: ship friday", f.chat.transcript)
	assert.Equal(t, "when do we ship?", f.chat.question)
	assert.Contains(t, rec.Body.String(), "the team agreed to ship")
}

func TestChatWithoutSummary(t *testing.T) {
	f := newFixture(100, 10)
	id := uuid.New()
	f.store.meetings[id] = &models.Meeting{ID: id, UserID: f.userID, Status: models.StatusActive}

	rec := f.do(http.MethodPost, "/meetings/chat", ChatRequest{MeetingID: id, Question: "anything?"}, true, f.handler.Chat)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
