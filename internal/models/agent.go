package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of an agent identity.
type AgentStatus string

const (
	AgentPending AgentStatus = "pending"
	AgentActive  AgentStatus = "active"
	AgentRevoked AgentStatus = "revoked"
)

// Agent represents a registered agent identity.
type Agent struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	PublicKey     string      `json:"public_key"` // base64 SPKI Ed25519
	Email         string      `json:"email,omitempty"`
	Status        AgentStatus `json:"status"`
	EmailVerified bool        `json:"email_verified"`
	ApprovedBy    *string     `json:"approved_by,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IsActive reports whether the agent may act on the relay.
func (a *Agent) IsActive() bool {
	return a.Status == AgentActive
}
