package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/stats"
	"github.com/offerpage/offerpage/internal/store"
)

// maxGeocodeBatch bounds one request's hold on the shared provider rate
// gate. Larger lists go through the CLI.
const maxGeocodeBatch = 25

type geocodeRequest struct {
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
}

// handleGeocode resolves one address, or a batch when addresses is set.
// An unresolvable single address is a 404.
func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		respondError(w, http.StatusServiceUnavailable, "geocoding is not configured")
		return
	}

	var req geocodeRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	if len(req.Addresses) > maxGeocodeBatch {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d addresses per request", maxGeocodeBatch))
		return
	}
	if len(req.Addresses) > 0 {
		found, err := s.Geo.GeocodeMany(ctx, req.Addresses, nil)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, found)
		return
	}

	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	coords, err := s.Geo.Geocode(ctx, req.Address)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if coords == nil {
		respondError(w, http.StatusNotFound, "address not found")
		return
	}
	respondJSON(w, http.StatusOK, coords)
}

func (s *Server) handleGeocodeStats(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		respondError(w, http.StatusServiceUnavailable, "geocoding is not configured")
		return
	}
	st := s.Geo.Stats()
	respondJSON(w, http.StatusOK, geoCounts{Hits: st.Hits, Misses: st.Misses, Fetches: st.Fetches})
}

type dispatchListResponse struct {
	Online  bool               `json:"online"`
	Pending []dispatch.Request `json:"pending"`
}

func (s *Server) handleDispatchList(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "dispatch is not configured")
		return
	}
	pending := s.Queue.Pending(r.Context())
	if pending == nil {
		pending = []dispatch.Request{}
	}
	respondJSON(w, http.StatusOK, dispatchListResponse{Online: s.Queue.Online(), Pending: pending})
}

func (s *Server) handleDispatchEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		respondError(w, http.StatusServiceUnavailable, "dispatch is not configured")
		return
	}
	var p dispatch.Payload
	if err := decode(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.Queue.Enqueue(r.Context(), p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, req)
}

type campaignSendRequest struct {
	CampaignID string            `json:"campaign_id"`
	Template   campaign.Template `json:"template"`

	// Offer fills offer fields a lead leaves out.
	Offer offer.Record    `json:"offer"`
	Leads []campaign.Lead `json:"leads"`
}

type campaignSkip struct {
	LeadID string `json:"lead_id"`
	Reason string `json:"reason"`
}

type campaignSendResponse struct {
	Queued  []string       `json:"queued"`
	Skipped []campaignSkip `json:"skipped"`
}

// handleCampaignSend renders the template for each lead and queues the
// result. Leads with no address for the channel are skipped, not failed.
func (s *Server) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil || s.Campaigns == nil {
		respondError(w, http.StatusServiceUnavailable, "dispatch is not configured")
		return
	}
	var req campaignSendRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.Template.Channel.Valid() {
		respondError(w, http.StatusBadRequest, "template channel must be sms, email or voice")
		return
	}

	ctx := r.Context()
	resp := campaignSendResponse{Queued: []string{}, Skipped: []campaignSkip{}}
	for _, lead := range req.Leads {
		lead.Offer = lead.Offer.Merge(req.Offer)
		p, err := s.Campaigns.Build(lead, req.Template)
		if err != nil {
			if !errors.Is(err, campaign.ErrNoRecipient) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			resp.Skipped = append(resp.Skipped, campaignSkip{LeadID: lead.ID, Reason: err.Error()})
			continue
		}
		p.CampaignID = req.CampaignID
		queued, err := s.Queue.Enqueue(ctx, p)
		if err != nil {
			resp.Skipped = append(resp.Skipped, campaignSkip{LeadID: lead.ID, Reason: err.Error()})
			continue
		}
		resp.Queued = append(resp.Queued, queued.ID)
	}

	s.Log.Info("campaign queued", "campaign_id", req.CampaignID, "queued", len(resp.Queued), "skipped", len(resp.Skipped))
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleResultsList(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.Store.ListSubjects(r.Context())
	if err != nil {
		s.Log.Error("failed to list subjects", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list subjects")
		return
	}
	if subjects == nil {
		subjects = []store.SubjectSummary{}
	}
	respondJSON(w, http.StatusOK, subjects)
}

type resultsResponse struct {
	Subject string            `json:"subject"`
	Results *stats.Result     `json:"results"`
	Funnel  []stats.FunnelRow `json:"funnel"`
}

// handleResults reports conversion and funnel numbers for one subject. The
// variant order comes from the experiment config when the subject is a
// known experiment.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	ctx := r.Context()

	rows, err := s.Store.GetVariantStats(ctx, subject)
	if err != nil {
		s.Log.Error("failed to get variant stats", "subject", subject, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusNotFound, "subject not found")
		return
	}
	records, err := s.Store.ListABTests(ctx, subject)
	if err != nil {
		s.Log.Error("failed to list records", "subject", subject, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, resultsResponse{
		Subject: subject,
		Results: stats.Analyze(s.opts.Experiments[subject], rows),
		Funnel:  stats.Funnel(records),
	})
}
