package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JustinTDCT/VideoJockey/internal/catalog"
	"github.com/JustinTDCT/VideoJockey/internal/db"
	"github.com/JustinTDCT/VideoJockey/internal/httputil"
	"github.com/JustinTDCT/VideoJockey/internal/metrics"
	"github.com/JustinTDCT/VideoJockey/internal/queue"
	"github.com/JustinTDCT/VideoJockey/internal/search"
	"github.com/JustinTDCT/VideoJockey/internal/settings"
	"github.com/JustinTDCT/VideoJockey/internal/version"
)

// InFlightLister reports the requests currently held by download workers.
type InFlightLister interface {
	InFlight() []string
}

type Deps struct {
	DB       *db.DB
	Queue    *queue.Handler
	Search   *search.Handler
	Videos   *catalog.Handler
	Settings *settings.Handler
	Hub      *WSHub
	Metrics  *metrics.Metrics
	InFlight InFlightLister
}

type Server struct {
	version string
	deps    Deps
	router  chi.Router
}

func NewServer(deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = NewWSHub()
	}
	s := &Server{
		version: version.Load().Version,
		deps:    deps,
	}
	s.setupRoutes()
	return s
}

func (s *Server) WSHub() *WSHub {
	return s.deps.Hub
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/ws", s.handleWebSocket)
		if s.deps.Queue != nil {
			r.Mount("/queue", s.deps.Queue.Router())
		}
		if s.deps.Search != nil {
			r.Mount("/search", s.deps.Search.Router())
		}
		if s.deps.Videos != nil {
			r.Mount("/videos", s.deps.Videos.Router())
		}
		if s.deps.Settings != nil {
			r.Mount("/settings", s.deps.Settings.Router())
		}
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, httputil.CodeInternal, "database unavailable")
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inFlight := []string{}
	if s.deps.InFlight != nil {
		inFlight = s.deps.InFlight.InFlight()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":    s.version,
		"ws_clients": s.deps.Hub.ClientCount(),
		"in_flight":  inFlight,
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflight requests and reflects the caller's origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
