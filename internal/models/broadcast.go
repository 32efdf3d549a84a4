package models

import "time"

// BroadcastType is one of the fixed set of admin broadcast kinds.
type BroadcastType string

const (
	BroadcastSecurityAlert BroadcastType = "security-alert"
	BroadcastMaintenance   BroadcastType = "maintenance"
	BroadcastUpdate        BroadcastType = "update"
	BroadcastAnnouncement  BroadcastType = "announcement"
	BroadcastRevocation    BroadcastType = "revocation"
)

// BroadcastTypes lists every accepted broadcast type.
var BroadcastTypes = []BroadcastType{
	BroadcastSecurityAlert,
	BroadcastMaintenance,
	BroadcastUpdate,
	BroadcastAnnouncement,
	BroadcastRevocation,
}

// Valid reports whether t is a known broadcast type.
func (t BroadcastType) Valid() bool {
	for _, known := range BroadcastTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Broadcast is an immutable admin-signed announcement.
type Broadcast struct {
	ID        string        `json:"id"` // ULID
	Sender    string        `json:"sender"`
	Type      BroadcastType `json:"type"`
	Payload   string        `json:"payload"`   // stored verbatim
	Signature string        `json:"signature"` // base64 Ed25519 over Payload
	CreatedAt time.Time     `json:"created_at"`
}
