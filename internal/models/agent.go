package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is an AI participant definition owned by a user.
// The instruction text seeds the in-call AI session.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Instruction string    `json:"instruction"`
	UserID      uuid.UUID `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
