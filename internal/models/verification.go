package models

import "time"

// EmailVerification is the single live one-time code issuance for an agent.
type EmailVerification struct {
	AgentName string    `json:"agent_name"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
	Verified  bool      `json:"verified"`
}
