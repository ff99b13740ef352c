package meetings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/pkg/response"
)

// Store is the meeting persistence the handler needs. *Repository implements it.
type Store interface {
	Create(ctx context.Context, m *models.Meeting) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error)
	Save(ctx context.Context, m *models.Meeting) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
	AppendParticipant(ctx context.Context, id uuid.UUID, p models.Participant) error
}

// AgentStore resolves the agent attached to a meeting.
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// Ledger is the token accounting the handler needs.
type Ledger interface {
	GetCostAndBalance(ctx context.Context, userID uuid.UUID) (*ledger.Costs, error)
	TrySpend(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
}

// CallProvisioner creates the video call backing a meeting.
type CallProvisioner interface {
	CreateMeetingCall(ctx context.Context, meeting *models.Meeting, agent *models.Agent) error
}

// Chatter answers questions grounded on a meeting transcript.
type Chatter interface {
	Chat(ctx context.Context, transcript, question string) (string, error)
}

// Handler handles meeting HTTP endpoints.
type Handler struct {
	store  Store
	agents AgentStore
	ledger Ledger
	calls  CallProvisioner
	chat   Chatter
	logger *zap.Logger
}

// NewHandler creates a meetings handler.
func NewHandler(store Store, agents AgentStore, ledger Ledger, calls CallProvisioner, chat Chatter, logger *zap.Logger) *Handler {
	return &Handler{store: store, agents: agents, ledger: ledger, calls: calls, chat: chat, logger: logger}
}

// CreateRequest is the body for POST /meetings. The client supplies the
// meeting id so the video call and the record share one identifier.
type CreateRequest struct {
	ID        uuid.UUID  `json:"id" binding:"required"`
	Name      string     `json:"name" binding:"required"`
	AgentID   uuid.UUID  `json:"agent_id" binding:"required"`
	StartDate *time.Time `json:"start_date"`
}

// Create handles POST /meetings. The meeting cost is debited up front;
// a user who cannot cover it is refused.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	agent, err := h.agents.GetByID(c.Request.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "agent not found")
			return
		}
		h.logger.Error("fetch agent", zap.Error(err))
		response.Internal(c, "failed to fetch agent")
		return
	}

	costs, err := h.ledger.GetCostAndBalance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("resolve plan costs", zap.Error(err), zap.String("user_id", userID.String()))
		response.NotFound(c, err.Error())
		return
	}
	if costs.Tokens < costs.MeetingCost {
		response.Forbidden(c, "not enough tokens")
		return
	}

	spent, err := h.ledger.TrySpend(c.Request.Context(), userID, costs.MeetingCost)
	if err != nil {
		h.logger.Error("debit tokens", zap.Error(err))
		response.Internal(c, "failed to debit tokens")
		return
	}
	if !spent {
		response.Forbidden(c, "not enough tokens")
		return
	}

	meeting := &models.Meeting{
		ID:           req.ID,
		Name:         req.Name,
		UserID:       userID,
		AgentID:      req.AgentID,
		Status:       models.InitialStatus(req.StartDate),
		StartDate:    req.StartDate,
		IsPaid:       true,
		Participants: []models.Participant{},
	}

	if err := h.calls.CreateMeetingCall(c.Request.Context(), meeting, agent); err != nil {
		h.logger.Error("create call", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		response.Internal(c, "failed to create call")
		return
	}

	if err := h.store.Create(c.Request.Context(), meeting); err != nil {
		h.logger.Error("create meeting", zap.Error(err))
		response.Internal(c, "failed to create meeting")
		return
	}

	response.Created(c, meeting)
}

// List handles GET /meetings.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	meetings, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list meetings", zap.Error(err))
		response.Internal(c, "failed to list meetings")
		return
	}
	if meetings == nil {
		meetings = []models.Meeting{}
	}
	response.OK(c, meetings)
}

// GetByID handles GET /meetings/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}

	meeting, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	response.OK(c, meeting)
}

// UpdateRequest is the body for PATCH /meetings/:id. All fields optional.
type UpdateRequest struct {
	Name      *string               `json:"name"`
	StartDate *time.Time            `json:"start_date"`
	Status    *models.MeetingStatus `json:"status"`
}

// Update handles PATCH /meetings/:id. Status changes must follow the
// lifecycle; the only user-initiated transition is cancellation.
func (h *Handler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	meeting, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	if meeting.UserID != userID {
		response.Forbidden(c, "not your meeting")
		return
	}

	if req.Name != nil {
		meeting.Name = *req.Name
	}
	if req.StartDate != nil {
		meeting.StartDate = req.StartDate
	}
	if req.Status != nil {
		if !models.ValidStatus(*req.Status) {
			response.BadRequest(c, "unknown status")
			return
		}
		if !models.CanTransition(meeting.Status, *req.Status) {
			response.BadRequest(c, "invalid status transition")
			return
		}
		meeting.Status = *req.Status
	}

	if err := h.store.Save(c.Request.Context(), meeting); err != nil {
		h.logger.Error("update meeting", zap.Error(err))
		response.Internal(c, "failed to update meeting")
		return
	}
	response.OK(c, meeting)
}

// Delete handles DELETE /meetings/:id.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}

	if err := h.store.Delete(c.Request.Context(), id, userID); err != nil {
		h.logger.Error("delete meeting", zap.Error(err))
		response.Internal(c, "failed to delete meeting")
		return
	}
	response.NoContent(c)
}

// JoinRequest is the body for POST /meetings/:id/participants.
type JoinRequest struct {
	ID    string `json:"id" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

// Join handles POST /meetings/:id/participants. A participant whose id or
// email already appears on the meeting is rejected, never merged.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	meeting, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}

	participant := models.Participant{ID: req.ID, Name: req.Name, Email: req.Email, JoinedAt: time.Now().UTC()}
	if err := meeting.AddParticipant(participant); err != nil {
		response.Conflict(c, err.Error())
		return
	}

	// the row-level guard catches a join that raced past the read above
	if err := h.store.AppendParticipant(c.Request.Context(), meeting.ID, participant); err != nil {
		if errors.Is(err, models.ErrDuplicateParticipant) {
			response.Conflict(c, err.Error())
			return
		}
		h.logger.Error("append participant", zap.Error(err))
		response.Internal(c, "failed to add participant")
		return
	}
	response.OK(c, meeting)
}

// ChatRequest is the body for POST /meetings/chat.
type ChatRequest struct {
	MeetingID uuid.UUID `json:"meeting_id" binding:"required"`
	Question  string    `json:"question" binding:"required"`
}

// ChatResponse carries the model's answer.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// Chat handles POST /meetings/chat: answers a question about a completed
// meeting, grounded on its stored summary.
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	meeting, err := h.store.GetByID(c.Request.Context(), req.MeetingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	if meeting.Summary == "" {
		response.BadRequest(c, "meeting has no summary yet")
		return
	}

	reply, err := h.chat.Chat(c.Request.Context(), meeting.Summary, req.Question)
	if err != nil {
		h.logger.Error("chat completion", zap.Error(err), zap.String("meeting_id", meeting.ID.String()))
		response.Internal(c, "failed to answer question")
		return
	}
	response.OK(c, ChatResponse{Reply: reply})
}
