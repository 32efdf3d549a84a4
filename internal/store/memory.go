package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/relay/internal/models"
)

// MemoryStore keeps everything in process memory. It is used for local
// development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	agents        map[string]models.Agent
	admins        map[string]models.AdminGrant
	verifications map[string]models.EmailVerification
	broadcasts    []models.Broadcast
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:        make(map[string]models.Agent),
		admins:        make(map[string]models.AdminGrant),
		verifications: make(map[string]models.EmailVerification),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateAgent stores a new agent.
func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[agent.Name]; ok {
		return ErrConflict
	}
	s.agents[agent.Name] = *agent
	return nil
}

// GetAgentByName retrieves an agent by name.
func (s *MemoryStore) GetAgentByName(_ context.Context, name string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[name]
	if !ok {
		return nil, nil
	}
	if agent.ApprovedBy != nil {
		approvedBy := *agent.ApprovedBy
		agent.ApprovedBy = &approvedBy
	}
	return &agent, nil
}

// UpdateAgentPublicKey replaces the agent's identity key.
func (s *MemoryStore) UpdateAgentPublicKey(_ context.Context, name, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[name]
	if !ok {
		return ErrNotFound
	}
	agent.PublicKey = publicKey
	agent.UpdatedAt = time.Now().UTC()
	s.agents[name] = agent
	return nil
}

// UpdateAgentStatus sets the agent's status and approving admin.
func (s *MemoryStore) UpdateAgentStatus(_ context.Context, name string, status models.AgentStatus, approvedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[name]
	if !ok {
		return ErrNotFound
	}
	agent.Status = status
	if approvedBy != nil {
		v := *approvedBy
		agent.ApprovedBy = &v
	}
	agent.UpdatedAt = time.Now().UTC()
	s.agents[name] = agent
	return nil
}

// CountAgents returns the number of registered agents.
func (s *MemoryStore) CountAgents(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.agents)), nil
}

// PutAdminGrant creates or replaces an admin grant.
func (s *MemoryStore) PutAdminGrant(_ context.Context, grant *models.AdminGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[grant.Agent] = *grant
	return nil
}

// GetAdminGrant retrieves the admin grant for an agent.
func (s *MemoryStore) GetAdminGrant(_ context.Context, agent string) (*models.AdminGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.admins[agent]
	if !ok {
		return nil, nil
	}
	return &grant, nil
}

// DeleteAdminGrant removes an admin grant.
func (s *MemoryStore) DeleteAdminGrant(_ context.Context, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[agent]; !ok {
		return ErrNotFound
	}
	delete(s.admins, agent)
	return nil
}

// ListAdminGrants returns all admin grants ordered by agent name.
func (s *MemoryStore) ListAdminGrants(_ context.Context) ([]models.AdminGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants := make([]models.AdminGrant, 0, len(s.admins))
	for _, g := range s.admins {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Agent < grants[j].Agent })
	return grants, nil
}

// UpsertEmailVerification replaces the agent's verification row.
func (s *MemoryStore) UpsertEmailVerification(_ context.Context, v *models.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[v.AgentName] = *v
	return nil
}

// GetEmailVerification retrieves the agent's verification row.
func (s *MemoryStore) GetEmailVerification(_ context.Context, agent string) (*models.EmailVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[agent]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// IncrementVerificationAttempts adds one attempt and returns the new count.
func (s *MemoryStore) IncrementVerificationAttempts(_ context.Context, agent string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[agent]
	if !ok {
		return 0, ErrNotFound
	}
	v.Attempts++
	s.verifications[agent] = v
	return v.Attempts, nil
}

// MarkEmailVerified marks the verification row and the agent as verified.
func (s *MemoryStore) MarkEmailVerified(_ context.Context, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[agent]
	if !ok {
		return ErrNotFound
	}
	v.Verified = true
	s.verifications[agent] = v

	if a, ok := s.agents[agent]; ok {
		a.EmailVerified = true
		a.Email = v.Email
		a.UpdatedAt = time.Now().UTC()
		s.agents[agent] = a
	}
	return nil
}

// CreateBroadcast appends a broadcast. IDs and signatures are unique.
func (s *MemoryStore) CreateBroadcast(_ context.Context, b *models.Broadcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.broadcasts {
		if existing.ID == b.ID || existing.Signature == b.Signature {
			return ErrConflict
		}
	}
	s.broadcasts = append(s.broadcasts, *b)
	return nil
}

// ListBroadcasts returns broadcasts with IDs after the cursor, oldest first,
// optionally filtered by type.
func (s *MemoryStore) ListBroadcasts(_ context.Context, typ models.BroadcastType, after string, limit int) ([]models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]models.Broadcast, len(s.broadcasts))
	copy(sorted, s.broadcasts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	limit = listLimit(limit)
	result := make([]models.Broadcast, 0)
	for _, b := range sorted {
		if b.ID <= after || (typ != "" && b.Type != typ) {
			continue
		}
		result = append(result, b)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CountBroadcasts returns the number of stored broadcasts.
func (s *MemoryStore) CountBroadcasts(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.broadcasts)), nil
}
