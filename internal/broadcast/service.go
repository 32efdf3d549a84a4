// Package broadcast stores admin-signed announcements and lets any holder of
// an admin key re-verify them.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/crypto"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/metrics"
	"github.com/eldtechnologies/relay/internal/models"
	"github.com/eldtechnologies/relay/internal/store"
)

// Store persists broadcasts and exposes the admin ledger.
type Store interface {
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	ListBroadcasts(ctx context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error)
	ListAdminGrants(ctx context.Context) ([]models.AdminGrant, error)
}

// Authenticator checks a signed request against a ledger.
type Authenticator interface {
	Authenticate(ctx context.Context, actor string, payload []byte, signature string, role auth.Role) (*auth.Identity, error)
}

// Service creates and lists broadcasts.
type Service struct {
	store  Store
	auth   Authenticator
	logger zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, authenticator Authenticator, logger zerolog.Logger) *Service {
	return &Service{store: store, auth: authenticator, logger: logger}
}

// AdminKey is the public projection of an admin ledger entry.
type AdminKey struct {
	Agent     string    `json:"agent"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Create stores a broadcast signed by actor's admin key. The payload is
// verified and stored exactly as given. A signature is accepted once, so a
// published broadcast cannot be resubmitted or retyped.
func (s *Service) Create(ctx context.Context, actor string, typ models.BroadcastType, payload, signature string, now time.Time) (*models.Broadcast, error) {
	if !typ.Valid() {
		return nil, errs.New(errs.InvalidInput, "unknown broadcast type")
	}
	if payload == "" {
		return nil, errs.New(errs.InvalidInput, "payload is required")
	}

	if _, err := s.auth.Authenticate(ctx, actor, []byte(payload), signature, auth.RoleAdmin); err != nil {
		s.logger.Warn().
			Str("type", "security").
			Str("event", "broadcast_rejected").
			Str("actor", actor).
			Str("kind", string(errs.KindOf(err))).
			Msg("broadcast rejected")
		return nil, err
	}

	b := &models.Broadcast{
		ID:        crypto.NewULID(),
		Sender:    actor,
		Type:      typ,
		Payload:   payload,
		Signature: signature,
		CreatedAt: now.UTC(),
	}
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.logger.Warn().
				Str("type", "security").
				Str("event", "broadcast_replayed").
				Str("actor", actor).
				Str("broadcast_type", string(typ)).
				Msg("broadcast signature already published")
			return nil, errs.New(errs.InvalidInput, "broadcast already published")
		}
		return nil, errs.Wrap(errs.Internal, "failed to store broadcast", err)
	}

	metrics.BroadcastsCreated.WithLabelValues(string(typ)).Inc()
	s.logger.Info().Str("id", b.ID).Str("sender", actor).Str("broadcast_type", string(typ)).Msg("broadcast created")
	return b, nil
}

// List returns one page of broadcasts oldest first, optionally filtered by
// type. after is the last ID of the previous page; empty starts from the
// beginning.
func (s *Service) List(ctx context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error) {
	if typ != "" && !typ.Valid() {
		return nil, errs.New(errs.InvalidInput, "unknown broadcast type")
	}
	if after != "" && !crypto.ValidULID(after) {
		return nil, errs.New(errs.InvalidInput, "invalid cursor")
	}
	list, err := s.store.ListBroadcasts(ctx, typ, after, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "database error", err)
	}
	return list, nil
}

// ListAdminKeys returns every admin ledger key.
func (s *Service) ListAdminKeys(ctx context.Context) ([]AdminKey, error) {
	grants, err := s.store.ListAdminGrants(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "database error", err)
	}
	keys := make([]AdminKey, 0, len(grants))
	for _, g := range grants {
		keys = append(keys, AdminKey{Agent: g.Agent, PublicKey: g.PublicKey, CreatedAt: g.CreatedAt})
	}
	return keys, nil
}

// VerifySignature re-checks a stored broadcast against a known admin key
// without consulting the relay.
func VerifySignature(payload, signature, publicKey string) bool {
	return crypto.Verify([]byte(payload), signature, publicKey)
}
