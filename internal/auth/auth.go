// Package auth resolves an actor to the key it is trusted under and checks a
// request signature against it. Agent identity keys and admin keys come from
// two independent ledgers.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/models"
)

// Role selects which ledger supplies the trusted key.
type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Identity is an authenticated actor.
type Identity struct {
	AgentID   uuid.UUID `json:"agent_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	PublicKey string    `json:"public_key"` // the key the signature was checked against
}

// Store is the read-only view of both ledgers.
type Store interface {
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	GetAdminGrant(ctx context.Context, agent string) (*models.AdminGrant, error)
}

// Authenticator verifies signed requests.
type Authenticator struct {
	store Store
}

// NewAuthenticator creates an Authenticator over store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store}
}

// Authenticate checks that signature is actor's signature over payload under
// the key trusted for role.
//
// For RoleAgent the key is the agent's current identity key. For RoleAdmin it
// is the key recorded in the admin ledger; the identity key is ignored. Both
// roles require the agent to exist and be active.
func (a *Authenticator) Authenticate(ctx context.Context, actor string, payload []byte, signature string, role Role) (*Identity, error) {
	if !role.Valid() {
		return nil, errs.New(errs.InvalidInput, "unknown role")
	}

	agent, err := a.store.GetAgentByName(ctx, actor)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "database error", err)
	}
	if agent == nil {
		return nil, errs.New(errs.NotFound, "agent not found")
	}

	key := agent.PublicKey
	if role == RoleAdmin {
		grant, err := a.store.GetAdminGrant(ctx, actor)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "database error", err)
		}
		if grant == nil {
			return nil, errs.New(errs.Forbidden, "not an admin")
		}
		key = grant.PublicKey
	}

	if !agent.IsActive() {
		return nil, errs.New(errs.Forbidden, "agent is not active")
	}

	if !crypto.Verify(payload, signature, key) {
		return nil, errs.New(errs.InvalidSignature, "invalid signature")
	}

	return &Identity{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Role:      role,
		PublicKey: key,
	}, nil
}
