package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/relay/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func execAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgent creates a new agent record.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, public_key, email, status, email_verified, approved_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, agent.ID, agent.Name, agent.PublicKey, agent.Email, string(agent.Status),
		agent.EmailVerified, agent.ApprovedBy, agent.CreatedAt, agent.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetAgentByName retrieves an agent by name.
func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	agent := &models.Agent{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, public_key, email, status, email_verified, approved_by, created_at, updated_at
		FROM agents WHERE name = $1
	`, name).Scan(
		&agent.ID,
		&agent.Name,
		&agent.PublicKey,
		&agent.Email,
		&status,
		&agent.EmailVerified,
		&agent.ApprovedBy,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.Status = models.AgentStatus(status)
	return agent, nil
}

// UpdateAgentPublicKey replaces the agent's identity key.
func (s *PostgresStore) UpdateAgentPublicKey(ctx context.Context, name, publicKey string) error {
	return execAffected(s.pool.Exec(ctx, `
		UPDATE agents SET public_key = $2, updated_at = NOW() WHERE name = $1
	`, name, publicKey))
}

// UpdateAgentStatus sets the agent's status and, when given, the approving admin.
func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, name string, status models.AgentStatus, approvedBy *string) error {
	return execAffected(s.pool.Exec(ctx, `
		UPDATE agents
		SET status = $2, approved_by = COALESCE($3, approved_by), updated_at = NOW()
		WHERE name = $1
	`, name, string(status), approvedBy))
}

// CountAgents returns the total number of registered agents.
func (s *PostgresStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// PutAdminGrant creates or replaces an admin grant.
func (s *PostgresStore) PutAdminGrant(ctx context.Context, grant *models.AdminGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_grants (agent, public_key, granted_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent) DO UPDATE
		SET public_key = EXCLUDED.public_key, granted_by = EXCLUDED.granted_by, created_at = EXCLUDED.created_at
	`, grant.Agent, grant.PublicKey, grant.GrantedBy, grant.CreatedAt)
	return err
}

// GetAdminGrant retrieves the admin grant for an agent.
func (s *PostgresStore) GetAdminGrant(ctx context.Context, agent string) (*models.AdminGrant, error) {
	grant := &models.AdminGrant{}
	err := s.pool.QueryRow(ctx, `
		SELECT agent, public_key, granted_by, created_at FROM admin_grants WHERE agent = $1
	`, agent).Scan(&grant.Agent, &grant.PublicKey, &grant.GrantedBy, &grant.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grant, nil
}

// DeleteAdminGrant removes an admin grant.
func (s *PostgresStore) DeleteAdminGrant(ctx context.Context, agent string) error {
	return execAffected(s.pool.Exec(ctx, `DELETE FROM admin_grants WHERE agent = $1`, agent))
}

// ListAdminGrants returns all admin grants ordered by agent name.
func (s *PostgresStore) ListAdminGrants(ctx context.Context) ([]models.AdminGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent, public_key, granted_by, created_at FROM admin_grants ORDER BY agent
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]models.AdminGrant, 0)
	for rows.Next() {
		var g models.AdminGrant
		if err := rows.Scan(&g.Agent, &g.PublicKey, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertEmailVerification replaces the agent's verification row.
func (s *PostgresStore) UpsertEmailVerification(ctx context.Context, v *models.EmailVerification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_verifications (agent_name, email, code_hash, created_at, expires_at, attempts, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_name) DO UPDATE
		SET email = EXCLUDED.email,
			code_hash = EXCLUDED.code_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			attempts = EXCLUDED.attempts,
			verified = EXCLUDED.verified
	`, v.AgentName, v.Email, v.CodeHash, v.CreatedAt, v.ExpiresAt, v.Attempts, v.Verified)
	return err
}

// GetEmailVerification retrieves the agent's verification row.
func (s *PostgresStore) GetEmailVerification(ctx context.Context, agent string) (*models.EmailVerification, error) {
	v := &models.EmailVerification{}
	err := s.pool.QueryRow(ctx, `
		SELECT agent_name, email, code_hash, created_at, expires_at, attempts, verified
		FROM email_verifications WHERE agent_name = $1
	`, agent).Scan(&v.AgentName, &v.Email, &v.CodeHash, &v.CreatedAt, &v.ExpiresAt, &v.Attempts, &v.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// IncrementVerificationAttempts adds one attempt and returns the new count.
func (s *PostgresStore) IncrementVerificationAttempts(ctx context.Context, agent string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE email_verifications SET attempts = attempts + 1
		WHERE agent_name = $1
		RETURNING attempts
	`, agent).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MarkEmailVerified marks the verification row and the agent as verified.
func (s *PostgresStore) MarkEmailVerified(ctx context.Context, agent string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var email string
		err := tx.QueryRow(ctx, `
			UPDATE email_verifications SET verified = TRUE
			WHERE agent_name = $1
			RETURNING email
		`, agent).Scan(&email)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE agents SET email_verified = TRUE, email = $2, updated_at = NOW() WHERE name = $1
		`, agent, email)
		return err
	})
}

// CreateBroadcast inserts an immutable broadcast record.
func (s *PostgresStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO broadcasts (id, sender, type, payload, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.Sender, string(b.Type), b.Payload, b.Signature, b.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ListBroadcasts returns broadcasts with IDs after the cursor, oldest first,
// optionally filtered by type.
func (s *PostgresStore) ListBroadcasts(ctx context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, type, payload, signature, created_at
		FROM broadcasts
		WHERE ($1::text = '' OR type = $1::text) AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, string(typ), after, listLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	broadcasts := make([]models.Broadcast, 0)
	for rows.Next() {
		var b models.Broadcast
		var t string
		if err := rows.Scan(&b.ID, &b.Sender, &t, &b.Payload, &b.Signature, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Type = models.BroadcastType(t)
		broadcasts = append(broadcasts, b)
	}
	return broadcasts, rows.Err()
}

// CountBroadcasts returns the number of stored broadcasts.
func (s *PostgresStore) CountBroadcasts(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM broadcasts`).Scan(&count)
	return count, err
}
