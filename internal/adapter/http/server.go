package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutlookService is the read and refresh surface the server exposes.
type OutlookService interface {
	sharedobs.ReadinessChecker
	Snapshot() domain.Snapshot
	Refresh(ctx context.Context) (domain.Snapshot, error)
}

const (
	defaultRefreshTimeout = 25 * time.Second
	// writeSlack leaves room to encode the response after a refresh gives up.
	writeSlack = 5 * time.Second
)

// Server exposes health, readiness, metrics, and the outlook API.
type Server struct {
	httpServer     *http.Server
	outlook        OutlookService
	logger         *slog.Logger
	refreshTimeout time.Duration
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithRefreshTimeout bounds how long POST /v1/refresh waits for a cycle before
// answering 503 with the current snapshot. The write timeout follows it.
func WithRefreshTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.refreshTimeout = d }
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and /v1 routes.
func NewServer(addr string, outlook OutlookService, logger *slog.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		outlook:        outlook,
		logger:         logger,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.refreshTimeout + writeSlack,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(outlook))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/outlook", s.handleOutlook)
	mux.HandleFunc("GET /v1/outlook/day/{day}", s.handleDay)
	mux.HandleFunc("POST /v1/refresh", s.handleRefresh)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleOutlook(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.outlook.Snapshot())
}

// handleDay returns one day's record. ?format=attributes renders the flat
// attribute map instead.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(r.PathValue("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "day must be an integer")
		return
	}
	rec, err := s.outlook.Snapshot().Day(day)
	if errors.Is(err, domain.ErrDayOutOfRange) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "attributes" {
		sharedobs.WriteJSON(w, http.StatusOK, rec.Attributes())
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, rec)
}

type refreshFailure struct {
	Error    string          `json:"error"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	snap, err := s.outlook.Refresh(ctx)
	if err != nil {
		s.logger.Warn("requested refresh failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, refreshFailure{Error: err.Error(), Snapshot: snap})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
