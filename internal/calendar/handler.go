package calendar

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/pkg/response"
)

// TokenStore persists per-user Google refresh tokens.
type TokenStore interface {
	GetGoogleRefreshToken(ctx context.Context, userID uuid.UUID) (string, error)
	SetGoogleRefreshToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Handler exposes the authenticated user's Google calendar.
type Handler struct {
	client *Client
	tokens TokenStore
	logger *zap.Logger
}

// NewHandler creates a calendar handler.
func NewHandler(client *Client, tokens TokenStore, logger *zap.Logger) *Handler {
	return &Handler{client: client, tokens: tokens, logger: logger}
}

// ConnectRequest is the body for POST /calendar/connect.
type ConnectRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Connect handles POST /calendar/connect: stores the Google refresh token the
// client obtained through the OAuth consent flow.
func (h *Handler) Connect(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	// reject tokens google won't accept before storing them
	if _, err := h.client.FreshAccessToken(c.Request.Context(), req.RefreshToken); err != nil {
		h.logger.Warn("refresh token rejected", zap.Error(err), zap.String("user_id", userID.String()))
		response.BadRequest(c, "refresh token rejected by google")
		return
	}

	if err := h.tokens.SetGoogleRefreshToken(c.Request.Context(), userID, req.RefreshToken); err != nil {
		h.logger.Error("store refresh token", zap.Error(err))
		response.Internal(c, "failed to store refresh token")
		return
	}
	response.OK(c, gin.H{"status": "connected"})
}

func (h *Handler) accessToken(c *gin.Context, userID uuid.UUID) (string, bool) {
	refreshToken, err := h.tokens.GetGoogleRefreshToken(c.Request.Context(), userID)
	if err != nil || refreshToken == "" {
		response.BadRequest(c, "google calendar not connected")
		return "", false
	}
	accessToken, err := h.client.FreshAccessToken(c.Request.Context(), refreshToken)
	if err != nil {
		h.logger.Error("token exchange", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to reach google")
		return "", false
	}
	return accessToken, true
}

// ListEvents handles GET /calendar/events.
func (h *Handler) ListEvents(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	accessToken, ok := h.accessToken(c, userID)
	if !ok {
		return
	}

	events, err := h.client.ListUpcoming(c.Request.Context(), accessToken)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	if events == nil {
		events = []Event{}
	}
	response.OK(c, events)
}

// CreateEvent handles POST /calendar/events.
func (h *Handler) CreateEvent(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	var event Event
	if err := c.ShouldBindJSON(&event); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if event.Summary == "" || event.Start.DateTime == "" || event.End.DateTime == "" {
		response.BadRequest(c, "summary, start and end are required")
		return
	}

	accessToken, ok := h.accessToken(c, userID)
	if !ok {
		return
	}

	created, err := h.client.CreateEvent(c.Request.Context(), accessToken, event)
	if err != nil {
		h.logger.Error("create event", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, created)
}
