// Package registry owns the agent directory and the admin ledger writes.
package registry

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/metrics"
	"github.com/eldtechnologies/relay/internal/models"
	"github.com/eldtechnologies/relay/internal/store"
)

var nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,49}$`)

// Store is the subset of store.DataStore the registry writes through.
type Store interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	UpdateAgentPublicKey(ctx context.Context, name, publicKey string) error
	UpdateAgentStatus(ctx context.Context, name string, status models.AgentStatus, approvedBy *string) error
	PutAdminGrant(ctx context.Context, grant *models.AdminGrant) error
	GetAdminGrant(ctx context.Context, agent string) (*models.AdminGrant, error)
	DeleteAdminGrant(ctx context.Context, agent string) error
}

// Registry manages agents and admin grants.
type Registry struct {
	store    Store
	logger   zerolog.Logger
	validate *validator.Validate
}

// New creates a Registry.
func New(store Store, logger zerolog.Logger) *Registry {
	return &Registry{store: store, logger: logger, validate: validator.New()}
}

// ValidName reports whether name is an acceptable agent name.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// Register creates a pending agent. The key is stored in normalized SPKI form.
func (r *Registry) Register(ctx context.Context, name, publicKey, email string, now time.Time) (*models.Agent, error) {
	name = strings.TrimSpace(name)
	if !ValidName(name) {
		return nil, errs.New(errs.InvalidInput, "invalid name: use 2-50 lowercase letters, digits, '-' or '_'")
	}

	key, err := crypto.NormalizePublicKey(publicKey)
	if err != nil {
		return nil, errs.New(errs.InvalidInput, "invalid public_key: must be a base64 Ed25519 public key")
	}

	if email != "" {
		if err := r.validate.Var(email, "email,max=254"); err != nil {
			return nil, errs.New(errs.InvalidInput, "invalid email format")
		}
	}

	agent := &models.Agent{
		ID:        crypto.NewUUIDv7(),
		Name:      name,
		PublicKey: key,
		Email:     email,
		Status:    models.AgentPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errs.New(errs.InvalidInput, "name already registered")
		}
		return nil, errs.Wrap(errs.Internal, "failed to create agent", err)
	}

	metrics.AgentsRegistered.Inc()
	r.logger.Info().Str("agent", name).Msg("agent registered")
	return agent, nil
}

// Get returns the named agent.
func (r *Registry) Get(ctx context.Context, name string) (*models.Agent, error) {
	agent, err := r.store.GetAgentByName(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "database error", err)
	}
	if agent == nil {
		return nil, errs.New(errs.NotFound, "agent not found")
	}
	return agent, nil
}

// Approve activates name on behalf of admin.
func (r *Registry) Approve(ctx context.Context, admin, name string) error {
	if err := r.setStatus(ctx, name, models.AgentActive, &admin); err != nil {
		return err
	}
	r.logger.Info().Str("agent", name).Str("admin", admin).Msg("agent approved")
	return nil
}

// Revoke deactivates name. Any admin grant it holds stays in the ledger but
// cannot be used while the agent is not active.
func (r *Registry) Revoke(ctx context.Context, admin, name string) error {
	if err := r.setStatus(ctx, name, models.AgentRevoked, nil); err != nil {
		return err
	}
	r.logger.Warn().
		Str("type", "security").
		Str("event", "agent_revoked").
		Str("agent", name).
		Str("admin", admin).
		Msg("agent revoked")
	return nil
}

func (r *Registry) setStatus(ctx context.Context, name string, status models.AgentStatus, approvedBy *string) error {
	err := r.store.UpdateAgentStatus(ctx, name, status, approvedBy)
	if errors.Is(err, store.ErrNotFound) {
		return errs.New(errs.NotFound, "agent not found")
	}
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	return nil
}

// RotateKey replaces name's identity key. The admin ledger is not touched.
func (r *Registry) RotateKey(ctx context.Context, name, newKey string) error {
	key, err := crypto.NormalizePublicKey(newKey)
	if err != nil {
		return errs.New(errs.InvalidInput, "invalid public_key: must be a base64 Ed25519 public key")
	}

	err = r.store.UpdateAgentPublicKey(ctx, name, key)
	if errors.Is(err, store.ErrNotFound) {
		return errs.New(errs.NotFound, "agent not found")
	}
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}

	r.logger.Info().Str("agent", name).Msg("identity key rotated")
	return nil
}

// GrantAdmin copies name's current identity key into the admin ledger,
// replacing any earlier grant.
func (r *Registry) GrantAdmin(ctx context.Context, grantor, name string, now time.Time) (*models.AdminGrant, error) {
	agent, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive() {
		return nil, errs.New(errs.InvalidInput, "agent is not active")
	}

	grant := &models.AdminGrant{
		Agent:     agent.Name,
		PublicKey: agent.PublicKey,
		GrantedBy: grantor,
		CreatedAt: now.UTC(),
	}
	if err := r.store.PutAdminGrant(ctx, grant); err != nil {
		return nil, errs.Wrap(errs.Internal, "database error", err)
	}

	r.logger.Warn().
		Str("type", "security").
		Str("event", "admin_granted").
		Str("agent", name).
		Str("grantor", grantor).
		Msg("admin granted")
	return grant, nil
}

// RevokeAdmin removes name from the admin ledger.
func (r *Registry) RevokeAdmin(ctx context.Context, revoker, name string) error {
	err := r.store.DeleteAdminGrant(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return errs.New(errs.NotFound, "no admin grant")
	}
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}

	r.logger.Warn().
		Str("type", "security").
		Str("event", "admin_revoked").
		Str("agent", name).
		Str("revoker", revoker).
		Msg("admin revoked")
	return nil
}

// Bootstrap ensures name exists as an active agent holding an admin grant for
// key. Existing agents keep their identity key; only the grant is refreshed
// when it differs. A revoked agent is left untouched.
func (r *Registry) Bootstrap(ctx context.Context, name, key string, now time.Time) error {
	normalized, err := crypto.NormalizePublicKey(key)
	if err != nil {
		return errs.New(errs.InvalidInput, "invalid bootstrap key")
	}

	agent, err := r.store.GetAgentByName(ctx, name)
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	if agent == nil {
		if _, err := r.Register(ctx, name, normalized, "", now); err != nil {
			return err
		}
	}
	if agent != nil && agent.Status == models.AgentRevoked {
		r.logger.Warn().
			Str("type", "security").
			Str("event", "bootstrap_skipped").
			Str("agent", name).
			Msg("bootstrap admin is revoked, leaving it revoked")
		return nil
	}
	if agent == nil || !agent.IsActive() {
		if err := r.Approve(ctx, name, name); err != nil {
			return err
		}
	}

	grant, err := r.store.GetAdminGrant(ctx, name)
	if err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}
	if grant != nil && grant.PublicKey == normalized {
		return nil
	}

	if err := r.store.PutAdminGrant(ctx, &models.AdminGrant{
		Agent:     name,
		PublicKey: normalized,
		GrantedBy: "bootstrap",
		CreatedAt: now.UTC(),
	}); err != nil {
		return errs.Wrap(errs.Internal, "database error", err)
	}

	r.logger.Info().Str("agent", name).Msg("bootstrap admin granted")
	return nil
}
