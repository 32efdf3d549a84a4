package handlers

import (
	"net/http"

	"github.com/eldtechnologies/relay/internal/errs"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	OK              bool  `json:"ok"`
	TotalAgents     int64 `json:"total_agents"`
	TotalAdmins     int   `json:"total_admins"`
	TotalBroadcasts int64 `json:"total_broadcasts"`
}

// Stats returns relay statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalAgents, err := h.store.CountAgents(ctx)
	if err != nil {
		h.Error(w, errs.Wrap(errs.Internal, "failed to count agents", err))
		return
	}

	totalBroadcasts, err := h.store.CountBroadcasts(ctx)
	if err != nil {
		h.Error(w, errs.Wrap(errs.Internal, "failed to count broadcasts", err))
		return
	}

	grants, err := h.store.ListAdminGrants(ctx)
	if err != nil {
		h.Error(w, errs.Wrap(errs.Internal, "failed to list admins", err))
		return
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		OK:              true,
		TotalAgents:     totalAgents,
		TotalAdmins:     len(grants),
		TotalBroadcasts: totalBroadcasts,
	})
}
