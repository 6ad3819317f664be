// Package api exposes the filter engine and fan-out hub over HTTP: REST
// endpoints for filter CRUD and timeline management, a streaming
// WebSocket endpoint per filter, Prometheus metrics, and Swagger docs.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/skyfeed-dev/skyfeed/internal/config"
	"github.com/skyfeed-dev/skyfeed/internal/fanout"
	"github.com/skyfeed-dev/skyfeed/internal/filter"

	_ "github.com/skyfeed-dev/skyfeed/docs" // registers generated Swagger docs
)

// Server handles HTTP and WebSocket requests over a live filter set and
// fan-out hub.
type Server struct {
	filters  *filter.Set
	hub      *fanout.Hub
	server   *http.Server
	upgrader websocket.Upgrader
	config   *config.Config
}

// corsMiddleware adds CORS headers to HTTP responses, configured the
// way the upstream pubsub server does it.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.config.Server.CORS.AllowAllOrigins {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowedOrigin := range s.config.Server.CORS.AllowedOrigins {
				if origin == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.config.Server.CORS.AllowedMethods, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.config.Server.CORS.AllowedHeaders, ", "))
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// NewServer creates an API server with default configuration bound to port.
func NewServer(filters *filter.Set, hub *fanout.Hub, port string) *Server {
	cfg := config.GetDefaultConfig()
	cfg.Server.Port = port
	return NewServerWithConfig(filters, hub, cfg)
}

// NewServerWithConfig creates an API server over filters and hub using cfg.
func NewServerWithConfig(filters *filter.Set, hub *fanout.Hub, cfg *config.Config) *Server {
	mux := http.NewServeMux()

	checkOrigin := func(r *http.Request) bool {
		if cfg.Server.CORS.AllowAllOrigins {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowedOrigin := range cfg.Server.CORS.AllowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}
		return false
	}

	s := &Server{
		filters: filters,
		hub:     hub,
		server: &http.Server{
			Addr:    cfg.GetListenAddress(),
			Handler: mux,
		},
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		config:   cfg,
	}

	mux.HandleFunc("/api/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/api/filters", s.corsMiddleware(s.handleFilters))
	mux.HandleFunc("/api/filters/", s.corsMiddleware(s.handleFilterByName))
	mux.HandleFunc("/api/timelines", s.corsMiddleware(s.handleTimelines))
	mux.HandleFunc("/api/timelines/", s.corsMiddleware(s.handleTimelineByHandle))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/ws/", s.handleWebSocket)
	mux.HandleFunc("/", s.corsMiddleware(s.handleRoot))

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return s
}

// Filters returns the filter set backing this server, for callers that
// need to mutate it outside an HTTP request (e.g. config reload).
func (s *Server) Filters() *filter.Set { return s.filters }

// Start starts the API server, blocking until it returns an error.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
