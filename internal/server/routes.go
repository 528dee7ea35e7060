package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
)

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.health)
	s.router.Get("/status", s.status)
	s.router.Get("/quota", s.quota)
	s.router.Get("/transport", s.transport)
	s.router.Get("/price/{symbol}", s.price)

	s.router.Post("/cache/clear", s.clearCache)
	s.router.Post("/breaker/reset", s.resetBreaker)

	s.router.Route("/emergency", func(r chi.Router) {
		r.Get("/", s.emergencyStatus)
		r.Post("/", s.activateEmergency)
		r.Delete("/", s.deactivateEmergency)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.Status(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("partial status")
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"windows": s.backend.GetQuotaSnapshot()})
}

func (s *Server) transport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.TransportState())
}

func (s *Server) price(w http.ResponseWriter, r *http.Request) {
	p, err := s.backend.GetPrice(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	s.backend.ClearCache()
	s.logger.Info().Msg("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	s.backend.ResetBreaker()
	s.logger.Info().Msg("pull breaker reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) emergencyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.EmergencyStatus(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// activateRequest is the body of POST /emergency. Duration uses Go duration
// syntax; empty means until deactivated.
type activateRequest struct {
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

func (s *Server) activateEmergency(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body: "+err.Error())
		return
	}

	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid duration "+req.Duration)
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}

	if err := s.backend.ActivateEmergency(r.Context(), reason, d); err != nil {
		respondWithError(w, err)
		return
	}
	s.logger.Warn().Str("reason", reason).Dur("duration", d).Msg("emergency mode activated over http")
	s.emergencyStatus(w, r)
}

func (s *Server) deactivateEmergency(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.DeactivateEmergency(r.Context()); err != nil {
		respondWithError(w, err)
		return
	}
	s.logger.Info().Msg("emergency mode deactivated over http")
	s.emergencyStatus(w, r)
}
