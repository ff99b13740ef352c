package ledger

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/pkg/response"
)

// PlanLister reads the plan catalog. *PlanRepository implements it.
type PlanLister interface {
	ListPlans(ctx context.Context) ([]models.Plan, error)
}

// Handler exposes the ledger read endpoints.
type Handler struct {
	ledger *Ledger
	plans  PlanLister
	logger *zap.Logger
}

// NewHandler creates a ledger handler.
func NewHandler(ledger *Ledger, plans PlanLister, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, plans: plans, logger: logger}
}

// GetTokens handles GET /tokens. Returns the session user's plan costs and balance.
func (h *Handler) GetTokens(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	costs, err := h.ledger.GetCostAndBalance(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoPlan), errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrUserNotFound):
			response.NotFound(c, err.Error())
		default:
			h.logger.Error("fetch cost and token info", zap.Error(err))
			response.Internal(c, "failed to fetch token info")
		}
		return
	}

	response.OK(c, costs)
}

// GetPlans handles GET /plans.
func (h *Handler) GetPlans(c *gin.Context) {
	plans, err := h.plans.ListPlans(c.Request.Context())
	if err != nil {
		h.logger.Error("list plans", zap.Error(err))
		response.Internal(c, "failed to list plans")
		return
	}
	if plans == nil {
		plans = []models.Plan{}
	}
	response.OK(c, plans)
}
