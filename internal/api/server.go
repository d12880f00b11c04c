// Package api exposes the HTTP and WebSocket surface of the localization
// server: packet ingestion, mode control, result retrieval, and status
// reporting, all wired through a single dispatcher.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/flowpbx/internal/api/middleware"
	"github.com/flowpbx/flowpbx/internal/config"
	"github.com/flowpbx/flowpbx/internal/dispatcher"
)

// WSHandler serves the WebSocket observer endpoint and reports connected
// client counts.
type WSHandler interface {
	http.Handler
	ClientCount() int
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	dispatcher *dispatcher.Dispatcher
	cfg        *config.Config
	hub        WSHandler

	generalLimiter *middleware.IPRateLimiter
	modeLimiter    *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d *dispatcher.Dispatcher, cfg *config.Config, hub WSHandler) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		dispatcher:     d,
		cfg:            cfg,
		hub:            hub,
		generalLimiter: middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		modeLimiter:    middleware.NewIPRateLimiter(middleware.ModeRateLimitConfig()),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources (rate limiter cleanup loops).
func (s *Server) Close() {
	s.generalLimiter.Stop()
	s.modeLimiter.Stop()
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RateLimit(s.generalLimiter))

	r.Post("/packet", s.handlePacket)

	r.Get("/mode", s.handleGetMode)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.modeLimiter))
		r.Post("/mode", s.handleSetMode)
	})

	r.Get("/results", s.handleResults)
	r.Get("/results/latest", s.handleLatestResult)
	r.Get("/status", s.handleStatus)

	r.Handle("/ws", s.hub)
	r.Handle("/metrics", promhttp.Handler())
}
