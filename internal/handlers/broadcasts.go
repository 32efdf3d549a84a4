package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/relay/internal/broadcast"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/models"
)

// CreateBroadcastRequest is self-authenticating: signature covers payload
// exactly as sent and is checked against sender's admin ledger key.
type CreateBroadcastRequest struct {
	Sender    string `json:"sender" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// BroadcastResponse carries a stored broadcast.
type BroadcastResponse struct {
	OK          bool              `json:"ok"`
	BroadcastID string            `json:"broadcast_id"`
	Broadcast   *models.Broadcast `json:"broadcast"`
}

// CreateBroadcast stores an admin-signed broadcast.
func (h *Handler) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var req CreateBroadcastRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	b, err := h.broadcasts.Create(r.Context(), req.Sender, models.BroadcastType(req.Type), req.Payload, req.Signature, h.now())
	if err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, BroadcastResponse{OK: true, BroadcastID: b.ID, Broadcast: b})
}

// BroadcastListResponse is a page of broadcasts, oldest first. Next is the
// cursor for the following page and is empty once a page comes back empty.
type BroadcastListResponse struct {
	OK         bool               `json:"ok"`
	Broadcasts []models.Broadcast `json:"broadcasts"`
	Next       string             `json:"next,omitempty"`
}

// ListBroadcasts returns a page of broadcasts, optionally filtered by ?type=
// and continuing after the ?after= cursor.
func (h *Handler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.Error(w, errs.New(errs.InvalidInput, "invalid limit"))
			return
		}
		limit = n
	}

	q := r.URL.Query()
	list, err := h.broadcasts.List(r.Context(), models.BroadcastType(q.Get("type")), q.Get("after"), limit)
	if err != nil {
		h.Error(w, err)
		return
	}

	resp := BroadcastListResponse{OK: true, Broadcasts: list}
	if len(list) > 0 {
		resp.Next = list[len(list)-1].ID
	}
	h.JSON(w, http.StatusOK, resp)
}

// VerifyBroadcastRequest re-checks a broadcast against a known key.
type VerifyBroadcastRequest struct {
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	PublicKey string `json:"public_key" validate:"required"`
}

// VerifyBroadcastResponse reports the outcome. A false Valid is not an error.
type VerifyBroadcastResponse struct {
	OK    bool `json:"ok"`
	Valid bool `json:"valid"`
}

// VerifyBroadcast checks a signature without touching the store.
func (h *Handler) VerifyBroadcast(w http.ResponseWriter, r *http.Request) {
	var req VerifyBroadcastRequest
	if err := h.decode(r, &req); err != nil {
		h.Error(w, err)
		return
	}

	h.JSON(w, http.StatusOK, VerifyBroadcastResponse{
		OK:    true,
		Valid: broadcast.VerifySignature(req.Payload, req.Signature, req.PublicKey),
	})
}
