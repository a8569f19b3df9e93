// Package httpapi exposes the tracker's command surface: session
// commands, income reads, settings and sync configuration. Every
// request also counts as an activity signal for the adaptive pacer.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incomed/internal/engine"
	"incomed/internal/log"
	"incomed/internal/middleware/ratelimit"
	"incomed/internal/settings"
	"incomed/internal/syncer"
)

// requestsPerMinute bounds each client; generous enough for a status
// indicator polling every second.
const requestsPerMinute = 120

// Server wraps the HTTP listener and the handler dependencies.
type Server struct {
	httpServer *http.Server
	log        *log.Logger
}

func NewServer(addr string, eng *engine.Engine, sync *syncer.Coordinator, store *settings.Store, reg *prometheus.Registry, logger *log.Logger) *Server {
	s := &Server{log: logger.WithComponent(log.ComponentHTTP)}
	h := &handler{engine: eng, syncer: sync, store: store, log: s.log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.New(requestsPerMinute).Middleware)
	r.Use(log.RequestLogger(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			eng.Pacer().Touch()
			next.ServeHTTP(w, req)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/work", func(r chi.Router) {
			r.Post("/start", h.startWork)
			r.Post("/end", h.endWork)
			r.Post("/reset", h.resetToday)
		})
		r.Get("/income", h.income)
		r.Get("/snapshot", h.snapshot)
		r.Get("/history/{date}", h.history)
		r.Patch("/settings", h.updateSettings)
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", h.manualSync)
			r.Post("/config", h.saveSyncConfig)
			r.Post("/test", h.testConnection)
		})
	})
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
