package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/relay/internal/api/middleware"
	"github.com/eldtechnologies/relay/internal/broadcast"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/models"
)

// AdminKeysResponse lists the admin ledger.
type AdminKeysResponse struct {
	OK   bool                 `json:"ok"`
	Keys []broadcast.AdminKey `json:"keys"`
}

// ListAdminKeys returns every admin key so clients can verify broadcasts.
func (h *Handler) ListAdminKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.broadcasts.ListAdminKeys(r.Context())
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AdminKeysResponse{OK: true, Keys: keys})
}

// GrantRequest names the agent to promote.
type GrantRequest struct {
	Agent     string `json:"agent" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

// GrantResponse carries the new ledger entry.
type GrantResponse struct {
	OK    bool               `json:"ok"`
	Grant *models.AdminGrant `json:"grant"`
}

// GrantAdmin copies an agent's current key into the admin ledger.
func (h *Handler) GrantAdmin(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		h.Error(w, errs.New(errs.Forbidden, "admin required"))
		return
	}

	var req GrantRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	grant, err := h.registry.GrantAdmin(r.Context(), identity.Name, req.Agent, h.now())
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, GrantResponse{OK: true, Grant: grant})
}

// RevokeAdmin removes an agent from the admin ledger.
func (h *Handler) RevokeAdmin(w http.ResponseWriter, r *http.Request) {
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

	if err := h.registry.RevokeAdmin(r.Context(), identity.Name, chi.URLParam(r, "name")); err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, Result{OK: true})
}
