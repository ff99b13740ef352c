package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ToolHandler is invoked when the in-call AI requests a registered tool.
// The returned value is serialized back to the session as the tool result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolDefinition describes a callable tool exposed to the AI participant.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// AISession is a live AI participant attached to a call.
type AISession interface {
	UpdateInstructions(instructions string) error
	RegisterTool(tool ToolDefinition, handler ToolHandler) error
	Close() error
}

// realtimeMessage is the envelope on the realtime control socket.
type realtimeMessage struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Tool         *ToolDefinition `json:"tool,omitempty"`
	Name         string          `json:"name,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
}

const (
	msgSessionUpdate = "session.update"
	msgToolRegister  = "tool.register"
	msgToolCall      = "tool_call"
	msgToolResult    = "tool_result"

	// toolCallTimeout bounds how long a tool handler may run before the
	// session is acked with an error.
	toolCallTimeout = 30 * time.Second
)

// Session is a realtime AI control channel over a websocket.
type Session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	toolsMu sync.RWMutex
	tools   map[string]ToolHandler

	closeOnce sync.Once
	done      chan struct{}
}

// ConnectAI attaches an AI participant to a call and returns its control session.
// The returned session dispatches in-call tool invocations to registered handlers.
func (c *Client) ConnectAI(ctx context.Context, callID, agentUserID string) (AISession, error) {
	token, err := c.CreateUserToken(agentUserID, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("agent token: %w", err)
	}

	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("call_id", fmt.Sprintf("%s:%s", CallType, callID))
	q.Set("agent_user_id", agentUserID)
	q.Set("token", token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.RealtimeURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	s := &Session{
		conn:   conn,
		logger: c.logger.With(zap.String("call_id", callID), zap.String("agent_user_id", agentUserID)),
		tools:  make(map[string]ToolHandler),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// UpdateInstructions replaces the AI participant's instruction text.
func (s *Session) UpdateInstructions(instructions string) error {
	return s.send(realtimeMessage{Type: msgSessionUpdate, Instructions: instructions})
}

// RegisterTool exposes a tool to the AI participant and installs its handler.
func (s *Session) RegisterTool(tool ToolDefinition, handler ToolHandler) error {
	if tool.Name == "" || handler == nil {
		return fmt.Errorf("tool name and handler required")
	}
	s.toolsMu.Lock()
	s.tools[tool.Name] = handler
	s.toolsMu.Unlock()
	return s.send(realtimeMessage{Type: msgToolRegister, Tool: &tool})
}

// Close shuts down the control channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) send(msg realtimeMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *Session) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("realtime session read", zap.Error(err))
				_ = s.Close()
			}
			return
		}
		if reply := s.handleMessage(raw); reply != nil {
			if err := s.send(*reply); err != nil {
				s.logger.Warn("realtime session write", zap.Error(err))
			}
		}
	}
}

// handleMessage dispatches one inbound message; a non-nil return is the reply.
// Tool handlers run with a bounded deadline and their failure is reported to
// the session, never allowed to tear it down.
func (s *Session) handleMessage(raw []byte) *realtimeMessage {
	var msg realtimeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("realtime session decode", zap.Error(err))
		return nil
	}
	if msg.Type != msgToolCall {
		return nil
	}

	s.toolsMu.RLock()
	handler, ok := s.tools[msg.Name]
	s.toolsMu.RUnlock()
	if !ok {
		return &realtimeMessage{Type: msgToolResult, ID: msg.ID, Error: "unknown tool: " + msg.Name}
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
	defer cancel()
	result, err := handler(ctx, msg.Arguments)
	if err != nil {
		s.logger.Error("tool handler failed", zap.String("tool", msg.Name), zap.Error(err))
		return &realtimeMessage{Type: msgToolResult, ID: msg.ID, Error: err.Error()}
	}

	output, err := json.Marshal(result)
	if err != nil {
		return &realtimeMessage{Type: msgToolResult, ID: msg.ID, Error: "marshal tool output: " + err.Error()}
	}
	return &realtimeMessage{Type: msgToolResult, ID: msg.ID, Output: output}
}
