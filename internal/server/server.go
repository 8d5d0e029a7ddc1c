// Package server exposes the offer page backend over HTTP: funnel beacons,
// variant pinning, offer formatting, lead scoring, geocoding, outbound
// dispatch and experiment results.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/geo"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/store"
)

// Deps are the components the server routes to. Geo, Queue and Campaigns
// may be nil; their endpoints then answer 503.
type Deps struct {
	Store     store.Store
	KV        kv.Store
	Geo       *geo.Client
	Queue     *dispatch.Queue
	Campaigns *campaign.Renderer
	Log       *logger.Logger
}

type Options struct {
	Host           string
	Port           int
	Token          string // generated when empty
	TokenFile      string
	AllowedOrigins []string
	Offer          offer.Options
	// Experiments maps experiment names to their variant sets for
	// /api/variant requests that do not send one.
	Experiments map[string][]string
	// SessionTTL expires the keys /api/variant stores per session.
	// Defaults to DefaultSessionTTL.
	SessionTTL time.Duration
}

const DefaultSessionTTL = 30 * 24 * time.Hour

type Server struct {
	Deps
	opts      Options
	token     string
	router    chi.Router
	http      *http.Server
	startTime time.Time
}

func New(deps Deps, opts Options) *Server {
	if deps.Log == nil {
		deps.Log = logger.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	token := opts.Token
	if token == "" {
		token = generateToken()
	}

	s := &Server{
		Deps:      deps,
		opts:      opts,
		token:     token,
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Post("/b", s.handleBeacon)
	r.Get("/ot.js", s.handleTrackerJS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/variant", s.handleVariant)
		r.Post("/offers/format", s.handleOfferFormat)
		r.Post("/score", s.handleScore)
		r.Post("/score/batch", s.handleScoreBatch)
		r.Post("/geocode", s.handleGeocode)

		// Protected endpoints
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/dispatch", s.handleDispatchList)
			r.Post("/dispatch", s.handleDispatchEnqueue)
			r.Post("/campaigns/send", s.handleCampaignSend)
			r.Get("/geocode/stats", s.handleGeocodeStats)
			r.Get("/results", s.handleResultsList)
			r.Get("/results/{subject}", s.handleResults)
		})
	})

	s.router = r
}

// Start listens until Shutdown is called. It writes the access token to
// the token file first so the CLI can hand it out.
func (s *Server) Start() error {
	if s.opts.TokenFile != "" {
		if err := os.WriteFile(s.opts.TokenFile, []byte(s.token), 0o600); err != nil {
			s.Log.Warn("failed to write token file", "path", s.opts.TokenFile, "error", err)
		}
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Log.Info("server listening", "addr", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func generateToken() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "a1b2c3d4e5f6a7b8"
	}
	return hex.EncodeToString(b)
}
