// Package api implements the admin HTTP surface: sink inspection,
// volume and mute control, suspend/resume, and the metrics endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mixerd/mixerd/internal/api/middleware"
)

// SinkEntry is a sink as presented by the API.
type SinkEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Driver      string   `json:"driver"`
	State       string   `json:"state"`
	Format      string   `json:"format"`
	Rate        uint32   `json:"rate"`
	Channels    uint8    `json:"channels"`
	ChannelMap  string   `json:"channel_map"`
	Volumes     []uint32 `json:"volumes"`
	Muted       bool     `json:"muted"`
}

// SinkProvider bridges the API to the core's sink registry. Control
// operations round-trip through the sink's message queue, so they are
// synchronous with the device thread.
type SinkProvider interface {
	ListSinks() []SinkEntry
	GetSink(name string) (SinkEntry, bool)
	GetSinkLatency(name string) (time.Duration, error)
	SetSinkVolume(name string, volumes []uint32) error
	SetSinkMuted(name string, muted bool) error
	SuspendSink(name string, suspend bool) error
}

// Server is the admin HTTP server.
type Server struct {
	router  *chi.Mux
	sinks   SinkProvider
	metrics http.Handler
}

// NewServer creates the admin server. metrics, when non-nil, is mounted
// at /metrics.
func NewServer(sinks SinkProvider, metrics http.Handler) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		sinks:   sinks,
		metrics: metrics,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/sinks", func(r chi.Router) {
			r.Get("/", s.handleListSinks)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetSink)
				r.Get("/latency", s.handleGetLatency)
				r.Put("/volume", s.handleSetVolume)
				r.Put("/mute", s.handleSetMute)
				r.Post("/suspend", s.handleSuspend)
				r.Post("/resume", s.handleResume)
			})
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
