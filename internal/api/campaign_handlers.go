package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatch/internal/dispatch"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
)

// CampaignHandlers serves per-campaign dispatch observability and
// claim-filtering endpoints.
type CampaignHandlers struct {
	dispatch *dispatch.Service
}

func NewCampaignHandlers(svc *dispatch.Service) *CampaignHandlers {
	return &CampaignHandlers{dispatch: svc}
}

func (h *CampaignHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns/{campaignID}", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Post("/filter-unclaimed", h.FilterUnclaimed)
		r.Post("/send-records/{recordID}/requeue", h.RequeueFailed)
	})
}

// GetStats returns delivery counts for one campaign. Counts degrade to
// zero on backend trouble, so this endpoint never 500s on store reads.
func (h *CampaignHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	if campaignID == "" {
		httputil.BadRequest(w, "campaign id is required")
		return
	}
	stats := h.dispatch.GetStats(r.Context(), campaignID)
	httputil.OK(w, stats)
}

// FilterUnclaimedRequest is the body for the filter-unclaimed endpoint.
type FilterUnclaimedRequest struct {
	RecipientIDs []string `json:"recipient_ids"`
}

// FilterUnclaimedResponse lists the recipient IDs with no send record yet.
type FilterUnclaimedResponse struct {
	Unclaimed []string `json:"unclaimed"`
	Claimed   int      `json:"claimed"`
}

// FilterUnclaimed returns the subset of the given recipients with no
// send record for the campaign, in input order.
func (h *CampaignHandlers) FilterUnclaimed(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	var req FilterUnclaimedRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.RecipientIDs) == 0 {
		httputil.OK(w, FilterUnclaimedResponse{Unclaimed: []string{}})
		return
	}

	unclaimed, err := h.dispatch.FilterUnclaimed(r.Context(), campaignID, req.RecipientIDs)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if unclaimed == nil {
		unclaimed = []string{}
	}
	httputil.OK(w, FilterUnclaimedResponse{
		Unclaimed: unclaimed,
		Claimed:   len(req.RecipientIDs) - len(unclaimed),
	})
}

// RequeueFailed resets a failed send record to pending so a later batch
// can retry it. Terminal records (sent, bounced) are rejected.
func (h *CampaignHandlers) RequeueFailed(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	rec, err := h.dispatch.RequeueFailed(r.Context(), recordID)
	switch {
	case errors.Is(err, dispatch.ErrRecordNotFound):
		httputil.NotFound(w, "send record not found")
	case errors.Is(err, dispatch.ErrTerminalStatus):
		httputil.Conflict(w, "send record is in a terminal state")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, rec)
	}
}
