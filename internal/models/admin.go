package models

import "time"

// AdminGrant is an entry in the admin ledger. PublicKey is copied from the
// agent at grant time and is never updated by identity key rotation.
type AdminGrant struct {
	Agent     string    `json:"agent"`
	PublicKey string    `json:"public_key"`
	GrantedBy string    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
