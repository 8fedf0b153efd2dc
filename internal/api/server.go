package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/metrics"
)

const defaultRequestTimeout = 30 * time.Second

// PositionReader looks up stored cursors.
type PositionReader interface {
	Get(ctx context.Context, account string) (crawler.Position, bool, error)
}

// Status reports the state of the worker pool.
type Status interface {
	Running() bool
	Pending() int
}

// JoinStats reports pushes waiting for their commits.
type JoinStats interface {
	PendingPushes() int
}

// Config controls the HTTP surface.
type Config struct {
	APIKey   string
	Timeout  time.Duration
	Accounts []string
}

// Server wires HTTP handlers to the dispatcher and position store.
type Server struct {
	router    chi.Router
	positions PositionReader
	status    Status
	joins     JoinStats
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(positions PositionReader, status Status, joins JoinStats, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	s := &Server{
		positions: positions,
		status:    status,
		joins:     joins,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/queue", s.queue)
		r.Route("/positions", func(r chi.Router) {
			r.Get("/", s.listPositions)
			r.Get("/{account}", s.getPosition)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil || !s.status.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type queueResponse struct {
	Size          int  `json:"size"`
	PendingPushes int  `json:"pending_pushes"`
	Running       bool `json:"running"`
}

func (s *Server) queue(w http.ResponseWriter, _ *http.Request) {
	var resp queueResponse
	if s.status != nil {
		resp.Size = s.status.Pending()
		resp.Running = s.status.Running()
	}
	if s.joins != nil {
		resp.PendingPushes = s.joins.PendingPushes()
	}
	writeJSON(w, http.StatusOK, resp)
}

type positionResponse struct {
	Account string `json:"account"`
	crawler.Position
	Stored bool `json:"stored"`
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	pos, ok, err := s.positions.Get(r.Context(), account)
	if err != nil {
		s.logger.Error("position lookup failed", zap.String("account", account), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "position lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, crawler.ErrPositionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Account: account, Position: pos, Stored: true})
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	out := make([]positionResponse, 0, len(s.cfg.Accounts))
	for _, account := range s.cfg.Accounts {
		pos, ok, err := s.positions.Get(r.Context(), account)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				writeError(w, http.StatusGatewayTimeout, "position lookup timed out")
				return
			}
			s.logger.Error("position lookup failed", zap.String("account", account), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "position lookup failed")
			return
		}
		if !ok {
			pos = crawler.InitialPosition()
		}
		out = append(out, positionResponse{Account: account, Position: pos, Stored: ok})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
