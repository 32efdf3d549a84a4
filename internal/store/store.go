package store

import (
	"context"
	"errors"

	"github.com/eldtechnologies/relay/internal/models"
)

var (
	// ErrNotFound is returned by updates that match no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key already exists.
	ErrConflict = errors.New("already exists")
)

// DataStore defines persistent storage for identities, the admin ledger,
// email verifications and broadcasts. PostgresStore, SQLiteStore and
// MemoryStore implement it. Lookups return (nil, nil) when nothing matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent registry
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	UpdateAgentPublicKey(ctx context.Context, name, publicKey string) error
	UpdateAgentStatus(ctx context.Context, name string, status models.AgentStatus, approvedBy *string) error
	CountAgents(ctx context.Context) (int64, error)

	// Admin ledger. Independent of agents: no cascade in either direction.
	PutAdminGrant(ctx context.Context, grant *models.AdminGrant) error
	GetAdminGrant(ctx context.Context, agent string) (*models.AdminGrant, error)
	DeleteAdminGrant(ctx context.Context, agent string) error
	ListAdminGrants(ctx context.Context) ([]models.AdminGrant, error)

	// Email verification
	UpsertEmailVerification(ctx context.Context, v *models.EmailVerification) error
	GetEmailVerification(ctx context.Context, agent string) (*models.EmailVerification, error)
	IncrementVerificationAttempts(ctx context.Context, agent string) (int, error)
	MarkEmailVerified(ctx context.Context, agent string) error

	// Broadcasts, listed oldest first. Signatures are unique.
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	ListBroadcasts(ctx context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error)
	CountBroadcasts(ctx context.Context) (int64, error)
}

// DefaultListLimit caps list queries when the caller passes no limit.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
