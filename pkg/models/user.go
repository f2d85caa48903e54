package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated account. Every job belongs to exactly one user.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AgentConfig is the voice-agent and telephony setup provisioned for a user
// outside this service. Both ids are required before a call can be placed.
type AgentConfig struct {
	UserID        uuid.UUID `db:"user_id"         json:"user_id"`
	AgentID       string    `db:"agent_id"        json:"agent_id"`
	PhoneNumberID string    `db:"phone_number_id" json:"phone_number_id"`
	UpdatedAt     time.Time `db:"updated_at"      json:"updated_at"`
}

// Complete reports whether the configuration can be used to dial.
func (c *AgentConfig) Complete() bool {
	return c != nil && c.AgentID != "" && c.PhoneNumberID != ""
}
