package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/campaignkit/checkout/internal/domain"
	"github.com/campaignkit/checkout/internal/platform/httpx"
)

// CampaignReader is the slice of the commerce client the campaign handler
// needs.
type CampaignReader interface {
	GetCampaign(ctx context.Context) (domain.Campaign, error)
}

// CampaignHandlers serves the campaign definition the page runs under.
type CampaignHandlers struct {
	campaigns CampaignReader
}

// NewCampaignHandlers constructs handlers over the campaign reader.
func NewCampaignHandlers(campaigns CampaignReader) *CampaignHandlers {
	return &CampaignHandlers{campaigns: campaigns}
}

// Routes wires the /campaign endpoints onto the provided router.
func (h *CampaignHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCampaign)
}

func (h *CampaignHandlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	campaign, err := h.campaigns.GetCampaign(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("campaign_unavailable", "campaign could not be loaded", http.StatusBadGateway))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, campaign)
}
