package agents

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/ledger"
	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/pkg/response"
)

// Store is the agent persistence the handler needs. *Repository implements it.
type Store interface {
	Create(ctx context.Context, a *models.Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Agent, error)
	Update(ctx context.Context, a *models.Agent) error
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// Ledger is the token accounting the handler needs.
type Ledger interface {
	GetCostAndBalance(ctx context.Context, userID uuid.UUID) (*ledger.Costs, error)
	TrySpend(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
}

// Handler handles agent HTTP endpoints.
type Handler struct {
	store  Store
	ledger Ledger
	logger *zap.Logger
}

// NewHandler creates an agents handler.
func NewHandler(store Store, ledger Ledger, logger *zap.Logger) *Handler {
	return &Handler{store: store, ledger: ledger, logger: logger}
}

// CreateRequest is the body for POST /agents.
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
}

// Create handles POST /agents. Creating an agent debits the plan's agent cost.
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

	costs, err := h.ledger.GetCostAndBalance(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("resolve plan costs", zap.Error(err), zap.String("user_id", userID.String()))
		response.NotFound(c, err.Error())
		return
	}
	if costs.Tokens < costs.AgentCost {
		response.Forbidden(c, "not enough tokens")
		return
	}

	spent, err := h.ledger.TrySpend(c.Request.Context(), userID, costs.AgentCost)
	if err != nil {
		h.logger.Error("debit tokens", zap.Error(err))
		response.Internal(c, "failed to debit tokens")
		return
	}
	if !spent {
		response.Forbidden(c, "not enough tokens")
		return
	}

	agent := &models.Agent{Name: req.Name, Instruction: req.Instruction, UserID: userID}
	if err := h.store.Create(c.Request.Context(), agent); err != nil {
		h.logger.Error("create agent", zap.Error(err))
		response.Internal(c, "failed to create agent")
		return
	}
	response.Created(c, agent)
}

// List handles GET /agents.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	agents, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list agents", zap.Error(err))
		response.Internal(c, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	response.OK(c, agents)
}

// GetByID handles GET /agents/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid agent id")
		return
	}

	agent, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "agent not found")
			return
		}
		h.logger.Error("fetch agent", zap.Error(err))
		response.Internal(c, "failed to fetch agent")
		return
	}
	response.OK(c, agent)
}

// UpdateRequest is the body for PATCH /agents/:id.
type UpdateRequest struct {
	Name        *string `json:"name"`
	Instruction *string `json:"instruction"`
}

// Update handles PATCH /agents/:id.
func (h *Handler) Update(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid agent id")
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	agent, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "agent not found")
			return
		}
		h.logger.Error("fetch agent", zap.Error(err))
		response.Internal(c, "failed to fetch agent")
		return
	}
	if agent.UserID != userID {
		response.Forbidden(c, "not your agent")
		return
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.Instruction != nil {
		agent.Instruction = *req.Instruction
	}

	if err := h.store.Update(c.Request.Context(), agent); err != nil {
		h.logger.Error("update agent", zap.Error(err))
		response.Internal(c, "failed to update agent")
		return
	}
	response.OK(c, agent)
}

// Delete handles DELETE /agents/:id.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid agent id")
		return
	}

	if err := h.store.Delete(c.Request.Context(), id, userID); err != nil {
		h.logger.Error("delete agent", zap.Error(err))
		response.Internal(c, "failed to delete agent")
		return
	}
	response.NoContent(c)
}
