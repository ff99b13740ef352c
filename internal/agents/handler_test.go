package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

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
	agents map[uuid.UUID]*models.Agent
}

func (s *fakeStore) Create(_ context.Context, a *models.Agent) error {
	a.ID = uuid.New()
	copied := *a
	s.agents[a.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Agent, error) {
	var out []models.Agent
	for _, a := range s.agents {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, a *models.Agent) error {
	copied := *a
	s.agents[a.ID] = &copied
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	if a, ok := s.agents[id]; ok && a.UserID == userID {
		delete(s.agents, id)
	}
	return nil
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

func setup(tokens, agentCost int) (*Handler, *fakeStore, *fakeLedger, uuid.UUID) {
	gin.SetMode(gin.TestMode)
	store := &fakeStore{agents: make(map[uuid.UUID]*models.Agent)}
	led := &fakeLedger{costs: ledger.Costs{Tokens: tokens, MeetingCost: 10, AgentCost: agentCost}}
	return NewHandler(store, led, zap.NewNop()), store, led, uuid.New()
}

func do(userID uuid.UUID, body any, handle gin.HandlerFunc, params ...gin.Param) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/agents", &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	c.Set(middleware.ContextUserID, userID)
	handle(c)
	c.Writer.WriteHeaderNow()
	return rec
}

func TestCreateDebitsAgentCost(t *testing.T) {
	h, store, led, userID := setup(10, 2)

	rec := do(userID, CreateRequest{Name: "Notetaker", Instruction: "take notes"}, h.Create)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int{2}, led.spends)
	assert.Len(t, store.agents, 1)
}

func TestCreateInsufficientTokens(t *testing.T) {
	h, store, led, userID := setup(1, 2)

	rec := do(userID, CreateRequest{Name: "Notetaker", Instruction: "take notes"}, h.Create)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough tokens")
	assert.Empty(t, led.spends)
	assert.Empty(t, store.agents)
}

func TestUpdateOwnedAgent(t *testing.T) {
	h, store, _, userID := setup(10, 2)
	id := uuid.New()
	store.agents[id] = &models.Agent{ID: id, Name: "Old", Instruction: "old", UserID: userID}

	name := "New"
	rec := do(userID, UpdateRequest{Name: &name}, h.Update, gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "New", store.agents[id].Name)
	assert.Equal(t, "old", store.agents[id].Instruction)
}

func TestUpdateForeignAgentForbidden(t *testing.T) {
	h, store, _, userID := setup(10, 2)
	id := uuid.New()
	store.agents[id] = &models.Agent{ID: id, Name: "Old", UserID: uuid.New()}

	name := "New"
	rec := do(userID, UpdateRequest{Name: &name}, h.Update, gin.Param{Key: "id", Value: id.String()})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Old", store.agents[id].Name)
}

func TestDeleteScopedToOwner(t *testing.T) {
	h, store, _, userID := setup(10, 2)
	mine, theirs := uuid.New(), uuid.New()
	store.agents[mine] = &models.Agent{ID: mine, UserID: userID}
	store.agents[theirs] = &models.Agent{ID: theirs, UserID: uuid.New()}

	rec := do(userID, nil, h.Delete, gin.Param{Key: "id", Value: mine.String()})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(userID, nil, h.Delete, gin.Param{Key: "id", Value: theirs.String()})
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.NotContains(t, store.agents, mine)
	assert.Contains(t, store.agents, theirs)
}
