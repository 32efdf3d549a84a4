package handlers

import (
	"net/http"

	"github.com/eldtechnologies/relay/internal/auth"
)

// VerifyRequest asks the relay whether agent signed payload.
type VerifyRequest struct {
	Agent     string `json:"agent" validate:"required"`
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	Role      string `json:"role" validate:"omitempty,oneof=agent admin"`
}

// VerifyResponse carries the authenticated identity.
type VerifyResponse struct {
	OK       bool           `json:"ok"`
	Identity *auth.Identity `json:"identity"`
}

// Verify authenticates a payload signature against the agent or admin ledger.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	role := auth.RoleAgent
	if req.Role != "" {
		role = auth.Role(req.Role)
	}

	identity, err := h.auth.Authenticate(r.Context(), req.Agent, []byte(req.Payload), req.Signature, role)
	if err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusOK, VerifyResponse{OK: true, Identity: identity})
}
