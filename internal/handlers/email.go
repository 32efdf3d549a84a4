package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/relay/internal/api/middleware"
	"github.com/eldtechnologies/relay/internal/emailverify"
)

// SendCodeRequest asks for a verification code to be emailed.
type SendCodeRequest struct {
	Agent string `json:"agent" validate:"required"`
	Email string `json:"email" validate:"required"`
}

// SendCodeResponse reports an issued code.
type SendCodeResponse struct {
	OK        bool `json:"ok"`
	ExpiresIn int  `json:"expires_in"` // seconds
}

// SendVerificationCode emails a fresh one-time code. Throttled per client IP.
func (h *Handler) SendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	err := h.email.SendVerificationCode(r.Context(), req.Agent, req.Email, middleware.RealIP(r), h.now())
	if err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusOK, SendCodeResponse{OK: true, ExpiresIn: int(emailverify.CodeTTL.Seconds())})
}

// ConfirmCodeRequest submits a one-time code.
type ConfirmCodeRequest struct {
	Agent string `json:"agent" validate:"required"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ConfirmVerificationCode consumes a one-time code.
func (h *Handler) ConfirmVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req ConfirmCodeRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	if err := h.email.ConfirmVerificationCode(r.Context(), req.Agent, req.Code, h.now()); err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusOK, Result{OK: true})
}

// VerificationStatusResponse reports the state of an agent's verification.
type VerificationStatusResponse struct {
	OK    bool              `json:"ok"`
	Agent string            `json:"agent"`
	State emailverify.State `json:"state"`
}

// VerificationStatus reports where an agent is in the email verification flow.
func (h *Handler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.registry.Get(r.Context(), name); err != nil {
		h.Error(w, err)
		return
	}

	state, err := h.email.Status(r.Context(), name, h.now())
	if err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusOK, VerificationStatusResponse{OK: true, Agent: name, State: state})
}
