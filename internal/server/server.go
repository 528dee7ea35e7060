// Package server exposes a gateway's quota, transport and emergency state over
// HTTP so operators and dashboards can watch it without touching the exchange.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tollgate/pkg/core"
	"tollgate/pkg/gateway"
)

// Backend is the part of a gateway the server reads and controls.
type Backend interface {
	GetQuotaSnapshot() []gateway.WindowStatus
	TransportState() gateway.TransportState
	Status(ctx context.Context) (gateway.Status, error)
	ClearCache()
	ResetBreaker()
	GetPrice(ctx context.Context, symbol string) (*core.Price, error)
	EmergencyStatus(ctx context.Context) (gateway.EmergencyState, error)
	ActivateEmergency(ctx context.Context, reason string, d time.Duration) error
	DeactivateEmergency(ctx context.Context) error
}

type Server struct {
	router  *chi.Mux
	server  *http.Server
	backend Backend
	addr    string
	logger  zerolog.Logger
}

func New(addr string, backend Backend, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "the requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "the requested method is not allowed for this resource")
	})

	s := &Server{
		router:  r,
		backend: backend,
		addr:    addr,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.registerRoutes()
	return s
}

// Start serves until Shutdown. It returns nil after a clean shutdown, including
// one that happened before Start was called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("starting http server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
