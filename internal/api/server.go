// Package api is the HTTP surface of the broker: three endpoints, JSON in,
// NDJSON streaming out. Paths and payload shapes are fixed for
// compatibility with existing clients and providers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AltairaLabs/engine-broker/internal/broker"
	"github.com/AltairaLabs/engine-broker/internal/model"
	"github.com/AltairaLabs/engine-broker/internal/position"
)

const ndjsonContentType = "application/x-ndjson"

// Server routes HTTP requests into broker operations.
type Server struct {
	broker         *broker.Broker
	logger         *slog.Logger
	acquireTimeout time.Duration
	router         chi.Router
}

// NewServer builds the router. acquireTimeout is the provider long-poll
// ceiling.
func NewServer(b *broker.Broker, logger *slog.Logger, acquireTimeout time.Duration) *Server {
	s := &Server{
		broker:         b,
		logger:         logger,
		acquireTimeout: acquireTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/api/external-engine/{id}/analyse", s.handleAnalyse)
	r.Post("/api/external-engine/work", s.handleAcquire)
	r.Post("/api/external-engine/work/{id}", s.handleSubmit)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type analyseRequest struct {
	ClientSecret string     `json:"clientSecret"`
	Work         model.Work `json:"work"`
}

type acquireRequest struct {
	ProviderSecret string `json:"providerSecret"`
}

// acquireWork mirrors the client's work, augmented with the engine id the
// provider must route it to.
type acquireWork struct {
	model.Work
	EngineID model.EngineID `json:"engineId"`
}

type acquireResponse struct {
	ID           model.JobID `json:"id"`
	ProviderData string      `json:"providerData,omitempty"`
	Work         acquireWork `json:"work"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleAnalyse(w http.ResponseWriter, r *http.Request) {
	engineID := model.EngineID(chi.URLParam(r, "id"))

	var req analyseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return
	}

	session, err := s.broker.Analyse(r.Context(), engineID, model.ClientSecret(req.ClientSecret), req.Work)
	if err != nil {
		s.writeBrokerError(w, err)
		return
	}
	defer s.broker.Finish(session)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Response writer does not support flushing; cannot stream")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		chunk, done, err := session.NextChunk(ctx)
		if err != nil || done {
			return
		}
		if _, err := w.Write(append(chunk, '\n')); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return
	}

	job, err := s.broker.Acquire(r.Context(), model.ProviderSecret(req.ProviderSecret), s.acquireTimeout)
	if errors.Is(err, broker.ErrTimedOut) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		// The poll was cancelled: the provider is already gone.
		return
	}

	writeJSON(w, http.StatusOK, acquireResponse{
		ID:           job.ID,
		ProviderData: job.ProviderData,
		Work:         acquireWork{Work: job.Work, EngineID: job.EngineID},
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	jobID := model.JobID(chi.URLParam(r, "id"))

	err := s.broker.Submit(r.Context(), jobID, r.Body)
	if errors.Is(err, broker.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "work not found or cancelled or expired"})
		return
	}
	if err != nil {
		// Upload broke; best effort, the connection is usually dead.
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeBrokerError(w http.ResponseWriter, err error) {
	var verr *position.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, broker.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "engine not found"})
	case errors.Is(err, broker.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "bad clientSecret"})
	case errors.Is(err, broker.ErrBusy):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "session limit reached"})
	case errors.Is(err, broker.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "registry unavailable"})
	default:
		s.logger.Error("Unhandled broker error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
