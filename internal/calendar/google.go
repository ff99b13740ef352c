// Package calendar integrates with Google Calendar: OAuth refresh-token
// exchange and event creation/listing over the v3 REST API.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultEventsURL = "https://www.googleapis.com/calendar/v3"
)

// Config holds Google OAuth credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	CalendarID   string
}

// Client talks to Google's OAuth and Calendar endpoints.
type Client struct {
	cfg        Config
	tokenURL   string
	eventsURL  string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithEndpoints overrides the OAuth and Calendar endpoints (for tests).
func WithEndpoints(tokenURL, eventsURL string) Option {
	return func(c *Client) {
		if tokenURL != "" {
			c.tokenURL = tokenURL
		}
		if eventsURL != "" {
			c.eventsURL = eventsURL
		}
	}
}

// NewClient creates a Google Calendar client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	c := &Client{
		cfg:        cfg,
		tokenURL:   defaultTokenURL,
		eventsURL:  defaultEventsURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CalendarID returns the configured target calendar.
func (c *Client) CalendarID() string { return c.cfg.CalendarID }

// EventTime is a calendar event boundary.
type EventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Attendee is an invited participant.
type Attendee struct {
	Email string `json:"email"`
}

// Event is a Google Calendar event.
type Event struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
}

// FreshAccessToken exchanges a stored refresh token for a short-lived access token.
func (c *Client) FreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token")
	}
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	return parsed.AccessToken, nil
}

// CreateEvent inserts an event into the configured calendar.
func (c *Client) CreateEvent(ctx context.Context, accessToken string, event Event) (*Event, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.eventsURL, url.PathEscape(c.cfg.CalendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var created Event
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &created, nil
}

// ListUpcoming returns events starting after now, ordered by start time.
func (c *Client) ListUpcoming(ctx context.Context, accessToken string) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", time.Now().UTC().Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.eventsURL, url.PathEscape(c.cfg.CalendarID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Items []Event `json:"items"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return parsed.Items, nil
}
