package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/offerpage/offerpage/internal/abtest"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/scoring"
)

const maxBodyBytes = 64 << 10

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v. sendBeacon posts text/plain, so the
// content type is not checked.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

type HealthResponse struct {
	Status          string     `json:"status"`
	SubjectsCount   int        `json:"subjects_count"`
	DispatchPending int        `json:"dispatch_pending"`
	DispatchOnline  bool       `json:"dispatch_online"`
	Geocode         *geoCounts `json:"geocode,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
}

type geoCounts struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Fetches int `json:"fetches"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subjects, err := s.Store.ListSubjects(ctx)
	if err != nil {
		s.Log.Error("health check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	resp := HealthResponse{
		Status:        "ok",
		SubjectsCount: len(subjects),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.Queue != nil {
		resp.DispatchPending = s.Queue.Len(ctx)
		resp.DispatchOnline = s.Queue.Online()
	}
	if s.Geo != nil {
		st := s.Geo.Stats()
		resp.Geocode = &geoCounts{Hits: st.Hits, Misses: st.Misses, Fetches: st.Fetches}
	}
	respondJSON(w, http.StatusOK, resp)
}

// BeaconRequest is one funnel event from the tracking script. Event is a
// tracked event name, "init" or "time".
type BeaconRequest struct {
	Subject string `json:"subject"`
	Session string `json:"session"`
	Variant string `json:"variant"`
	Event   string `json:"event"`
	Seconds int    `json:"seconds"`
}

const (
	beaconInit = "init"
	beaconTime = "time"
)

// handleBeacon records a funnel event. Tracking is best-effort: once the
// request parses it always answers 204, whatever the store did.
func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	var req BeaconRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Subject == "" || req.Session == "" {
		respondError(w, http.StatusBadRequest, "subject and session are required")
		return
	}

	ctx := r.Context()
	tr := abtest.NewTracker(s.Store, s.Log)
	status := tr.InitializeTest(ctx, req.Subject, req.Session, req.Variant)
	if status == abtest.StatusOK {
		switch req.Event {
		case beaconInit, "":
		case beaconTime:
			status = tr.TrackTimeOnPage(ctx, req.Seconds)
		default:
			status = tr.TrackEvent(ctx, req.Event)
		}
	}
	s.Log.Debug("beacon", "subject", req.Subject, "event", req.Event, "status", status.String())

	w.WriteHeader(http.StatusNoContent)
}

type variantRequest struct {
	Experiment string   `json:"experiment"`
	Session    string   `json:"session"`
	Variants   []string `json:"variants"`
}

type variantResponse struct {
	Session    string `json:"session"`
	Experiment string `json:"experiment"`
	Variant    string `json:"variant"`
}

// handleVariant pins a variant for a session server-side. Each session gets
// its own kv namespace, using the browser's key names, that expires after
// SessionTTL.
func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Experiment == "" {
		respondError(w, http.StatusBadRequest, "experiment is required")
		return
	}

	set := req.Variants
	if len(set) == 0 {
		set = s.opts.Experiments[req.Experiment]
	}
	if len(set) == 0 {
		set = abtest.SimpleVariants
	}

	ctx := r.Context()
	session := req.Session
	if session == "" {
		session = uuid.NewString()
	}

	scoped := kv.WithTTL(kv.WithPrefix(s.KV, "session:"+session+":"), s.opts.SessionTTL)
	a := abtest.NewAssigner(scoped,
		abtest.WithLogger(s.Log),
		abtest.WithIDGenerator(func() string { return session }),
	)
	// Persists the id under the session's scope on first use.
	session = a.SessionID(ctx)

	respondJSON(w, http.StatusOK, variantResponse{
		Session:    session,
		Experiment: req.Experiment,
		Variant:    a.Variant(ctx, req.Experiment, set),
	})
}

type offerFormatRequest struct {
	Offer     offer.Record `json:"offer"`
	Currency  string       `json:"currency"`
	Locale    string       `json:"locale"`
	ShortForm *bool        `json:"short_form"`
}

type offerFormatResponse struct {
	Kind        offer.Kind `json:"kind"`
	Formatted   string     `json:"formatted"`
	Template    string     `json:"template"`
	Average     float64    `json:"average"`
	Valid       bool       `json:"valid"`
	Description string     `json:"description"`
}

func (s *Server) handleOfferFormat(w http.ResponseWriter, r *http.Request) {
	var req offerFormatRequest
	if err := decode(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	opts := s.opts.Offer
	if req.Currency != "" {
		opts.Currency = req.Currency
	}
	if req.Locale != "" {
		opts.Locale = req.Locale
	}
	if req.ShortForm != nil {
		opts.ShortForm = *req.ShortForm
	}

	respondJSON(w, http.StatusOK, offerFormatResponse{
		Kind:        offer.Classify(req.Offer),
		Formatted:   offer.Format(req.Offer, opts),
		Template:    offer.FormatForTemplate(req.Offer),
		Average:     offer.Average(req.Offer),
		Valid:       offer.IsValid(req.Offer),
		Description: offer.Describe(req.Offer),
	})
}

type scoreResponse struct {
	scoring.Result
	Label string `json:"label"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var f scoring.Factors
	if err := decode(r, &f); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := scoring.Score(f)
	respondJSON(w, http.StatusOK, scoreResponse{Result: res, Label: res.Grade.Label()})
}

func (s *Server) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	var leads []scoring.Factors
	if err := decode(r, &leads); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	results := scoring.ScoreBatch(leads)
	out := make([]scoreResponse, len(results))
	for i, res := range results {
		out[i] = scoreResponse{Result: res, Label: res.Grade.Label()}
	}
	respondJSON(w, http.StatusOK, out)
}
