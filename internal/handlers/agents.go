package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/relay/internal/api/middleware"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/models"
)

// AgentView is the public projection of an agent.
type AgentView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	PublicKey     string             `json:"public_key"`
	Status        models.AgentStatus `json:"status"`
	EmailVerified bool               `json:"email_verified"`
	ApprovedBy    *string            `json:"approved_by,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func newAgentView(a *models.Agent) AgentView {
	return AgentView{
		ID:            a.ID.String(),
		Name:          a.Name,
		PublicKey:     a.PublicKey,
		Status:        a.Status,
		EmailVerified: a.EmailVerified,
		ApprovedBy:    a.ApprovedBy,
		CreatedAt:     a.CreatedAt,
	}
}

// AgentResponse wraps a single agent.
type AgentResponse struct {
	OK    bool      `json:"ok"`
	Agent AgentView `json:"agent"`
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name      string `json:"name" validate:"required"`
	PublicKey string `json:"public_key" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
}

// Register handles agent registration. New agents are pending until an admin
// approves them.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	agent, err := h.registry.Register(r.Context(), req.Name, req.PublicKey, req.Email, h.now())
	if err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, AgentResponse{OK: true, Agent: newAgentView(agent)})
}

// GetAgent returns an agent's public record.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AgentResponse{OK: true, Agent: newAgentView(agent)})
}

// RotateKeyRequest is signed with the agent's current identity key.
type RotateKeyRequest struct {
	PublicKey string `json:"public_key" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

// RotateKey replaces the caller's identity key.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	name := chi.URLParam(r, "name")
	if identity == nil || identity.Name != name {
		h.Error(w, errs.New(errs.Forbidden, "agents may only rotate their own key"))
		return
	}

	var req RotateKeyRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	if err := h.registry.RotateKey(r.Context(), name, req.PublicKey); err != nil {
		h.Error(w, err)
		return
	}

	agent, err := h.registry.Get(r.Context(), name)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AgentResponse{OK: true, Agent: newAgentView(agent)})
}

// SignedRequest is the body of admin actions that carry no other data.
type SignedRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// Approve activates a pending agent.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.adminStatusChange(w, r, h.registry.Approve)
}

// Revoke deactivates an agent.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.adminStatusChange(w, r, h.registry.Revoke)
}

func (h *Handler) adminStatusChange(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, admin, name string) error) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, errs.New(errs.Forbidden, "admin required"))
		return
	}

	var req SignedRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	if err := apply(r.Context(), identity.Name, name); err != nil {
		h.Error(w, err)
		return
	}

	agent, err := h.registry.Get(r.Context(), name)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AgentResponse{OK: true, Agent: newAgentView(agent)})
}
