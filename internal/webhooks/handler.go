package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/novameet/backend/internal/models"
	"github.com/novameet/backend/internal/scheduling"
	"github.com/novameet/backend/internal/stream"
	"github.com/novameet/backend/pkg/queue"
	"github.com/novameet/backend/pkg/response"
)

// Verifier authenticates inbound webhook requests.
type Verifier interface {
	VerifyWebhook(body []byte, signature string) bool
	APIKey() string
}

// Store is the meeting persistence the webhook handler drives.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	MarkActive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, recordingURL string) (bool, error)
	SetTranscriptURL(ctx context.Context, id uuid.UUID, url string) error
}

// AgentStore resolves the agent joining a started session.
type AgentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// Gateway attaches the AI participant to a live call.
type Gateway interface {
	ConnectAI(ctx context.Context, callID, agentUserID string) (stream.AISession, error)
}

// Scheduler creates follow-up meetings on the agent's behalf.
type Scheduler interface {
	ScheduleFollowUp(ctx context.Context, req scheduling.Request) (*models.Meeting, error)
}

// SummaryQueue enqueues transcript summarization jobs.
type SummaryQueue interface {
	EnqueueSummarize(ctx context.Context, payload queue.SummarizePayload) error
}

// Relay copies a short-lived recording to durable storage.
type Relay interface {
	Relay(ctx context.Context, sourceURL string) (string, error)
}

// Handler receives call platform webhooks and advances meeting lifecycles.
type Handler struct {
	verifier  Verifier
	store     Store
	agents    AgentStore
	gateway   Gateway
	scheduler Scheduler
	queue     SummaryQueue
	relay     Relay
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]stream.AISession
}

// NewHandler creates a webhook handler.
func NewHandler(verifier Verifier, store Store, agents AgentStore, gateway Gateway,
	scheduler Scheduler, summaries SummaryQueue, relay Relay, logger *zap.Logger) *Handler {
	return &Handler{
		verifier:  verifier,
		store:     store,
		agents:    agents,
		gateway:   gateway,
		scheduler: scheduler,
		queue:     summaries,
		relay:     relay,
		logger:    logger,
		sessions:  make(map[uuid.UUID]stream.AISession),
	}
}

// Handle is POST /webhooks/stream. The signature is checked over the raw body
// before any side effect; the platform redelivers on non-2xx responses, so
// every branch must tolerate redelivery.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}

	signature := c.GetHeader("X-Signature")
	apiKey := c.GetHeader("X-Api-Key")
	if signature == "" || apiKey == "" {
		response.BadRequest(c, "missing signature or API key")
		return
	}
	if apiKey != h.verifier.APIKey() || !h.verifier.VerifyWebhook(body, signature) {
		response.Unauthorized(c, "invalid signature")
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}

	switch event.Type {
	case EventSessionStarted:
		h.sessionStarted(c, &event)
	case EventParticipantLeft:
		h.participantLeft(c, &event)
	case EventSessionEnded:
		h.sessionEnded(c, &event)
	case EventTranscriptionReady:
		h.transcriptionReady(c, &event)
	case EventRecordingReady:
		h.recordingReady(c, &event)
	default:
		response.BadRequest(c, "Unhandled event: "+string(event.Type))
	}
}

func (h *Handler) sessionStarted(c *gin.Context, event *Event) {
	ctx := c.Request.Context()
	meetingID, err := event.MeetingID()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	meeting, err := h.store.GetByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}

	applied, err := h.store.MarkActive(ctx, meetingID, time.Now().UTC())
	if err != nil {
		h.logger.Error("mark active", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	if !applied && meeting.Status != models.StatusActive {
		// stale redelivery after the meeting already moved on
		h.logger.Info("session_started ignored",
			zap.String("meeting_id", meetingID.String()), zap.String("status", string(meeting.Status)))
		response.OK(c, gin.H{"status": "ignored"})
		return
	}

	if h.session(meetingID) != nil {
		response.OK(c, gin.H{"status": "already connected"})
		return
	}

	agent, err := h.agents.GetByID(ctx, meeting.AgentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "agent not found")
			return
		}
		h.logger.Error("fetch agent", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to fetch agent")
		return
	}

	session, err := h.gateway.ConnectAI(ctx, meetingID.String(), agent.ID.String())
	if err != nil {
		h.logger.Error("connect ai", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to connect agent")
		return
	}

	if err := h.configureSession(session, meeting, agent); err != nil {
		_ = session.Close()
		h.logger.Error("configure ai session", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to configure agent")
		return
	}
	h.track(meetingID, session)

	h.logger.Info("agent joined meeting",
		zap.String("meeting_id", meetingID.String()), zap.String("agent_id", agent.ID.String()))
	response.OK(c, gin.H{"status": "agent connected"})
}

// schedulingGuidance extends the agent's instructions so it knows it can book
// follow-ups during the call.
const schedulingGuidance = `

You can schedule a follow-up meeting for the participants. When they agree on
a time, call the schedule_meeting tool with a short topic and the start time
in RFC 3339 format.`

var scheduleMeetingParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"topic": {"type": "string", "description": "Short title of the follow-up meeting"},
		"startTime": {"type": "string", "description": "Start time in RFC 3339 format"}
	},
	"required": ["topic", "startTime"]
}`)

func (h *Handler) configureSession(session stream.AISession, meeting *models.Meeting, agent *models.Agent) error {
	if err := session.UpdateInstructions(agent.Instruction + schedulingGuidance); err != nil {
		return err
	}
	tool := stream.ToolDefinition{
		Name:        "schedule_meeting",
		Description: "Schedule a follow-up meeting for the current participants.",
		Parameters:  scheduleMeetingParams,
	}
	return session.RegisterTool(tool, h.scheduleMeetingTool(meeting))
}

// scheduleMeetingTool returns the in-call schedule_meeting handler. The tool
// always acks success to the session: the conversation already moved on, and
// a failure surfaced mid-call would only confuse the participants. Failures
// are logged for the host to follow up on.
func (h *Handler) scheduleMeetingTool(meeting *models.Meeting) stream.ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params struct {
			Topic     string `json:"topic"`
			StartTime string `json:"startTime"`
		}
		ack := gin.H{"status": "scheduled"}
		if err := json.Unmarshal(args, &params); err != nil {
			h.logger.Error("schedule_meeting args", zap.Error(err))
			return ack, nil
		}
		start, err := time.Parse(time.RFC3339, params.StartTime)
		if err != nil {
			h.logger.Error("schedule_meeting start time", zap.Error(err), zap.String("start_time", params.StartTime))
			return ack, nil
		}

		// participants join after session start, so the snapshot captured at
		// registration has none; refresh before picking a calendar attendee
		source := meeting
		if fresh, err := h.store.GetByID(ctx, meeting.ID); err == nil {
			source = fresh
		}

		created, err := h.scheduler.ScheduleFollowUp(ctx, scheduling.Request{
			Topic:     params.Topic,
			StartTime: start,
			Source:    source,
		})
		if err != nil {
			h.logger.Error("schedule follow-up", zap.Error(err), zap.String("source_meeting_id", meeting.ID.String()))
			return ack, nil
		}
		ack["meeting_id"] = created.ID.String()
		return ack, nil
	}
}

// participantLeft is informational: the platform manages call teardown itself
// and emits session_ended when the call is over.
func (h *Handler) participantLeft(c *gin.Context, event *Event) {
	meetingID, err := event.MeetingID()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.logger.Info("participant left",
		zap.String("meeting_id", meetingID.String()), zap.String("user_id", event.Participant.User.ID))
	response.OK(c, gin.H{"status": "acknowledged"})
}

func (h *Handler) sessionEnded(c *gin.Context, event *Event) {
	ctx := c.Request.Context()
	meetingID, err := event.MeetingID()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.untrack(meetingID)

	applied, err := h.store.MarkProcessing(ctx, meetingID, time.Now().UTC())
	if err != nil {
		h.logger.Error("mark processing", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	if !applied {
		h.logger.Info("session_ended ignored", zap.String("meeting_id", meetingID.String()))
	}
	response.OK(c, gin.H{"status": "processing"})
}

func (h *Handler) transcriptionReady(c *gin.Context, event *Event) {
	ctx := c.Request.Context()
	meetingID, err := event.MeetingID()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if event.CallTranscription.URL == "" {
		response.BadRequest(c, "missing transcription url")
		return
	}

	if err := h.store.SetTranscriptURL(ctx, meetingID, event.CallTranscription.URL); err != nil {
		h.logger.Error("store transcript url", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to store transcript url")
		return
	}

	// summarization is best-effort: the transcript URL is already durable,
	// so a queue outage must not fail the webhook
	err = h.queue.EnqueueSummarize(ctx, queue.SummarizePayload{
		MeetingID:     meetingID,
		TranscriptURL: event.CallTranscription.URL,
	})
	if err != nil {
		h.logger.Warn("enqueue summary", zap.Error(err), zap.String("meeting_id", meetingID.String()))
	}
	response.OK(c, gin.H{"status": "transcript stored"})
}

func (h *Handler) recordingReady(c *gin.Context, event *Event) {
	ctx := c.Request.Context()
	meetingID, err := event.MeetingID()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if event.CallRecording.URL == "" {
		response.BadRequest(c, "missing recording url")
		return
	}

	meeting, err := h.store.GetByID(ctx, meetingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("fetch meeting", zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	if meeting.Status == models.StatusCompleted && meeting.RecordingURL != "" {
		response.OK(c, gin.H{"status": "already completed"})
		return
	}

	// the platform URL expires; failing here makes the platform redeliver
	// until the copy lands in our bucket
	durableURL, err := h.relay.Relay(ctx, event.CallRecording.URL)
	if err != nil {
		h.logger.Error("relay recording", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to store recording")
		return
	}

	applied, err := h.store.MarkCompleted(ctx, meetingID, durableURL)
	if err != nil {
		h.logger.Error("mark completed", zap.Error(err), zap.String("meeting_id", meetingID.String()))
		response.Internal(c, "failed to update meeting")
		return
	}
	if !applied {
		h.logger.Info("recording_ready ignored", zap.String("meeting_id", meetingID.String()),
			zap.String("status", string(meeting.Status)))
	}
	response.OK(c, gin.H{"status": "completed", "recording_url": durableURL})
}

func (h *Handler) session(id uuid.UUID) stream.AISession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

func (h *Handler) track(id uuid.UUID, s stream.AISession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = s
}

func (h *Handler) untrack(id uuid.UUID) {
	h.mu.Lock()
	s := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if s != nil {
		if err := s.Close(); err != nil {
			h.logger.Warn("close ai session", zap.Error(err), zap.String("meeting_id", id.String()))
		}
	}
}
