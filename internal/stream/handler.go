package stream

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/middleware"
	"github.com/novameet/backend/pkg/response"
)

const userTokenValidity = 24 * time.Hour

// Handler issues call platform credentials to authenticated users.
type Handler struct {
	client *Client
	logger *zap.Logger
}

// NewHandler creates a stream token handler.
func NewHandler(client *Client, logger *zap.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// TokenResponse carries a platform user token and the public API key the
// client SDK needs alongside it.
type TokenResponse struct {
	Token  string `json:"token"`
	APIKey string `json:"api_key"`
}

// GetToken handles POST /stream-token: registers the user on the platform
// and issues a token for joining calls.
func (h *Handler) GetToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	name := c.GetString(middleware.ContextUserEmail)
	if err := h.client.UpsertUser(c.Request.Context(), userID.String(), name, "user"); err != nil {
		h.logger.Error("upsert platform user", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to register platform user")
		return
	}

	token, err := h.client.CreateUserToken(userID.String(), userTokenValidity)
	if err != nil {
		h.logger.Error("create platform token", zap.Error(err))
		response.Internal(c, "failed to create token")
		return
	}
	response.OK(c, TokenResponse{Token: token, APIKey: h.client.APIKey()})
}
