package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/relay/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/relay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// A single writer keeps read-modify-write statements serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		public_key TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		email_verified INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS admin_grants (
		agent TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		granted_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS email_verifications (
		agent_name TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		code_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		verified INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS broadcasts (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	CREATE INDEX IF NOT EXISTS idx_broadcasts_type ON broadcasts(type, id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_broadcasts_signature ON broadcasts(signature);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func resultAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgent creates a new agent record.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, public_key, email, status, email_verified, approved_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agent.ID.String(), agent.Name, agent.PublicKey, agent.Email, string(agent.Status),
		agent.EmailVerified, agent.ApprovedBy, agent.CreatedAt.UTC(), agent.UpdatedAt.UTC())
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	return err
}

// GetAgentByName retrieves an agent by name.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	agent := &models.Agent{}
	var idStr, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, public_key, email, status, email_verified, approved_by, created_at, updated_at
		FROM agents WHERE name = ?
	`, name).Scan(
		&idStr,
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	agent.ID = id
	agent.Status = models.AgentStatus(status)
	return agent, nil
}

// UpdateAgentPublicKey replaces the agent's identity key.
func (s *SQLiteStore) UpdateAgentPublicKey(ctx context.Context, name, publicKey string) error {
	return resultAffected(s.db.ExecContext(ctx, `
		UPDATE agents SET public_key = ?, updated_at = ? WHERE name = ?
	`, publicKey, time.Now().UTC(), name))
}

// UpdateAgentStatus sets the agent's status and, when given, the approving admin.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, name string, status models.AgentStatus, approvedBy *string) error {
	return resultAffected(s.db.ExecContext(ctx, `
		UPDATE agents
		SET status = ?, approved_by = COALESCE(?, approved_by), updated_at = ?
		WHERE name = ?
	`, string(status), approvedBy, time.Now().UTC(), name))
}

// CountAgents returns the total number of registered agents.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// PutAdminGrant creates or replaces an admin grant.
func (s *SQLiteStore) PutAdminGrant(ctx context.Context, grant *models.AdminGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_grants (agent, public_key, granted_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent) DO UPDATE
		SET public_key = excluded.public_key, granted_by = excluded.granted_by, created_at = excluded.created_at
	`, grant.Agent, grant.PublicKey, grant.GrantedBy, grant.CreatedAt.UTC())
	return err
}

// GetAdminGrant retrieves the admin grant for an agent.
func (s *SQLiteStore) GetAdminGrant(ctx context.Context, agent string) (*models.AdminGrant, error) {
	grant := &models.AdminGrant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT agent, public_key, granted_by, created_at FROM admin_grants WHERE agent = ?
	`, agent).Scan(&grant.Agent, &grant.PublicKey, &grant.GrantedBy, &grant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return grant, nil
}

// DeleteAdminGrant removes an admin grant.
func (s *SQLiteStore) DeleteAdminGrant(ctx context.Context, agent string) error {
	return resultAffected(s.db.ExecContext(ctx, `DELETE FROM admin_grants WHERE agent = ?`, agent))
}

// ListAdminGrants returns all admin grants ordered by agent name.
func (s *SQLiteStore) ListAdminGrants(ctx context.Context) ([]models.AdminGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) UpsertEmailVerification(ctx context.Context, v *models.EmailVerification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_verifications (agent_name, email, code_hash, created_at, expires_at, attempts, verified)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_name) DO UPDATE
		SET email = excluded.email,
			code_hash = excluded.code_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			attempts = excluded.attempts,
			verified = excluded.verified
	`, v.AgentName, v.Email, v.CodeHash, v.CreatedAt.UTC(), v.ExpiresAt.UTC(), v.Attempts, v.Verified)
	return err
}

// GetEmailVerification retrieves the agent's verification row.
func (s *SQLiteStore) GetEmailVerification(ctx context.Context, agent string) (*models.EmailVerification, error) {
	v := &models.EmailVerification{}
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_name, email, code_hash, created_at, expires_at, attempts, verified
		FROM email_verifications WHERE agent_name = ?
	`, agent).Scan(&v.AgentName, &v.Email, &v.CodeHash, &v.CreatedAt, &v.ExpiresAt, &v.Attempts, &v.Verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// IncrementVerificationAttempts adds one attempt and returns the new count.
func (s *SQLiteStore) IncrementVerificationAttempts(ctx context.Context, agent string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE email_verifications SET attempts = attempts + 1
		WHERE agent_name = ?
		RETURNING attempts
	`, agent).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MarkEmailVerified marks the verification row and the agent as verified.
func (s *SQLiteStore) MarkEmailVerified(ctx context.Context, agent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var email string
	err = tx.QueryRowContext(ctx, `
		UPDATE email_verifications SET verified = 1
		WHERE agent_name = ?
		RETURNING email
	`, agent).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET email_verified = 1, email = ?, updated_at = ? WHERE name = ?
	`, email, time.Now().UTC(), agent); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateBroadcast inserts an immutable broadcast record.
func (s *SQLiteStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, sender, type, payload, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.Sender, string(b.Type), b.Payload, b.Signature, b.CreatedAt.UTC())
	if isSQLiteConflict(err) {
		return ErrConflict
	}
	return err
}

// ListBroadcasts returns broadcasts with IDs after the cursor, oldest first,
// optionally filtered by type.
func (s *SQLiteStore) ListBroadcasts(ctx context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, type, payload, signature, created_at
		FROM broadcasts
		WHERE (? = '' OR type = ?) AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, string(typ), string(typ), after, listLimit(limit))
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
func (s *SQLiteStore) CountBroadcasts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM broadcasts`).Scan(&count)
	return count, err
}
