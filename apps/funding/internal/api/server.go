package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Requests *RequestHandler
	Matches  *MatchHandler
	Admin    *AdminHandler
}

// Server represents the API server
type Server struct {
	handlers Handlers
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(port int, handlers Handlers, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		handlers: handlers,
		gatherer: gatherer,
		logger:   logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.server.Handler = s.Router()

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Router configures the API routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Requests and merge window
	req := s.handlers.Requests
	api.HandleFunc("/requests/funding", req.CreateFunding).Methods("POST")
	api.HandleFunc("/requests/withdrawal", req.CreateWithdrawal).Methods("POST")
	api.HandleFunc("/requests", req.List).Methods("GET")
	api.HandleFunc("/requests/{id}", req.Cancel).Methods("DELETE")
	api.HandleFunc("/merge-window", req.Window).Methods("GET")
	api.HandleFunc("/merge-window/status", req.Status).Methods("GET")
	api.HandleFunc("/merge-window/join", req.Join).Methods("POST")

	// Settlement
	m := s.handlers.Matches
	api.HandleFunc("/matches/active", m.Active).Methods("GET")
	api.HandleFunc("/matches/{id}/proof", m.UploadProof).Methods("POST")
	api.HandleFunc("/matches/{id}/confirm", m.Confirm).Methods("POST")
	api.HandleFunc("/matches/{id}/extension", m.Extension).Methods("POST")

	// Operator endpoints
	adm := api.PathPrefix("/admin").Subrouter()
	adm.Use(s.requireAdmin)
	a := s.handlers.Admin
	adm.HandleFunc("/dashboard", a.Dashboard).Methods("GET")
	adm.HandleFunc("/unmatched", a.Unmatched).Methods("GET")
	adm.HandleFunc("/matches/manual", a.ManualMatch).Methods("POST")
	adm.HandleFunc("/matches/pool", a.PoolMatch).Methods("POST")
	adm.HandleFunc("/cycles/trigger", a.TriggerCycle).Methods("POST")
	adm.HandleFunc("/users/blocked", a.Blocked).Methods("GET")
	adm.HandleFunc("/users/{id}/unblock", a.Unblock).Methods("POST")
	adm.HandleFunc("/disputes", a.Disputes).Methods("GET")
	adm.HandleFunc("/disputes/{id}/resolve", a.ResolveDispute).Methods("POST")
	adm.HandleFunc("/audit/{id}", a.Audit).Methods("GET")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerUserID+", "+headerUserRole)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects callers the gateway did not mark as operators.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	rsp := responder{logger: s.logger}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserRole) != roleAdmin {
			rsp.writeErrorResponse(w, http.StatusForbidden, "admin_only", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
