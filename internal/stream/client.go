// Package stream wraps the external call platform: call provisioning,
// platform user tokens, webhook signature verification, and the realtime
// control channel for in-call AI participants.
package stream

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/models"
)

// CallType is the platform call type used for all meetings.
const CallType = "default"

// Config holds call platform credentials and endpoints.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	RealtimeURL string
}

// Client talks to the call platform REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a call platform client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type callSettings struct {
	Transcription struct {
		Language          string `json:"language"`
		Mode              string `json:"mode"`
		ClosedCaptionMode string `json:"closed_caption_mode"`
	} `json:"transcription"`
	Recording struct {
		Mode    string `json:"mode"`
		Quality string `json:"quality"`
	} `json:"recording"`
}

func autoOnSettings() callSettings {
	var s callSettings
	s.Transcription.Language = "en"
	s.Transcription.Mode = "auto-on"
	s.Transcription.ClosedCaptionMode = "auto-on"
	s.Recording.Mode = "auto-on"
	s.Recording.Quality = "1080p"
	return s
}

type createCallRequest struct {
	Data struct {
		CreatedByID      string            `json:"created_by_id"`
		Custom           map[string]string `json:"custom"`
		SettingsOverride callSettings      `json:"settings_override"`
	} `json:"data"`
}

type upsertUserRequest struct {
	Users []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"users"`
}

// CreateCall provisions a call with custom metadata and transcription and
// recording switched on. The call id is the meeting id; the meeting id also
// rides along in custom metadata so webhooks can resolve it either way.
func (c *Client) CreateCall(ctx context.Context, callID, createdByID string, custom map[string]string) error {
	var req createCallRequest
	req.Data.CreatedByID = createdByID
	req.Data.Custom = custom
	req.Data.SettingsOverride = autoOnSettings()

	url := fmt.Sprintf("%s/video/call/%s/%s", c.cfg.BaseURL, CallType, callID)
	return c.post(ctx, url, req)
}

// UpsertUser registers or updates a platform user (e.g. the AI agent identity).
func (c *Client) UpsertUser(ctx context.Context, id, name, role string) error {
	var req upsertUserRequest
	req.Users = append(req.Users, struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	}{ID: id, Name: name, Role: role})

	return c.post(ctx, c.cfg.BaseURL+"/users", req)
}

// CreateMeetingCall provisions the call for a meeting and registers its agent
// as a platform user.
func (c *Client) CreateMeetingCall(ctx context.Context, meeting *models.Meeting, agent *models.Agent) error {
	custom := map[string]string{
		"meetingId":   meeting.ID.String(),
		"meetingName": meeting.Name,
	}
	if err := c.CreateCall(ctx, meeting.ID.String(), meeting.UserID.String(), custom); err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	if err := c.UpsertUser(ctx, agent.ID.String(), agent.Name, "user"); err != nil {
		return fmt.Errorf("upsert agent user: %w", err)
	}
	return nil
}

// CreateUserToken issues a platform user token: an HS256 JWT signed with the
// API secret, the platform's documented token format.
func (c *Client) CreateUserToken(userID string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(validity).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.cfg.APISecret))
}

// VerifyWebhook checks the platform signature over the raw webhook body:
// hex-encoded HMAC-SHA256 keyed with the API secret.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// APIKey returns the configured platform API key.
func (c *Client) APIKey() string { return c.cfg.APIKey }

func (c *Client) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	serverToken, err := c.CreateUserToken("server", time.Hour)
	if err != nil {
		return fmt.Errorf("server token: %w", err)
	}
	req.Header.Set("Authorization", serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call platform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("call platform status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
