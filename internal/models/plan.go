package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan defines the token economy for its subscribers.
// Costs are in tokens, non-negative.
type Plan struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Tokens      int       `json:"tokens"` // tokens granted on subscription
	MeetingCost int       `json:"meeting_cost"`
	AgentCost   int       `json:"agent_cost"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
