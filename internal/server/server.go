// Package server exposes the ops HTTP surface: health, metrics, and admin
// endpoints that enqueue pipeline tasks by hand.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
)

// Server wires the HTTP routes to the queue and source store.
type Server struct {
	router  chi.Router
	tasks   queue.Queue
	sources pipeline.SourceStore
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with its routes registered.
func NewServer(
	tasks queue.Queue,
	sources pipeline.SourceStore,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Server {
	s := &Server{
		tasks:   tasks,
		sources: sources,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources/{source_type}/{source_key}", s.getSource)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/discover", s.enqueueDiscovery)
			r.Post("/validate", s.enqueueValidate)
			r.Post("/scrape", s.enqueueScrape)
			r.Post("/extract", s.enqueueExtract)
			r.Post("/rollup", s.enqueueRollup)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	sourceType := pipeline.SourceType(chi.URLParam(r, "source_type"))
	sourceKey := chi.URLParam(r, "source_key")

	src, err := s.sources.Get(r.Context(), sourceType, sourceKey)
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	if err != nil {
		s.logger.Error("source lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, src)
}

type enqueueRequest struct {
	SourceType string `json:"source_type,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Topic  string `json:"topic"`
}

func (s *Server) enqueueDiscovery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.SourceType != "" &&
		req.SourceType != string(pipeline.SourceGreenhouse) &&
		req.SourceType != string(pipeline.SourceLever) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source_type %q", req.SourceType))
		return
	}
	s.enqueue(w, r, queue.TopicDiscovery, queue.Task{SourceType: req.SourceType, Limit: req.Limit})
}

func (s *Server) enqueueValidate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}
	s.enqueue(w, r, queue.TopicValidate, queue.Task{SourceID: req.SourceID})
}

func (s *Server) enqueueScrape(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}
	s.enqueue(w, r, queue.TopicScrape, queue.Task{SourceID: req.SourceID})
}

func (s *Server) enqueueExtract(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.decode(w, r); !ok {
		return
	}
	s.enqueue(w, r, queue.TopicExtractTier1, queue.Task{})
}

func (s *Server) enqueueRollup(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	s.enqueue(w, r, queue.TopicRollup, queue.Task{CompanyID: req.CompanyID})
}

// decode parses the optional JSON body. An empty body is a valid request.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (enqueueRequest, bool) {
	var req enqueueRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	return req, true
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, topic queue.Topic, task queue.Task) {
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("task id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	task.ID = id
	task.EnqueuedAt = s.clock.Now()

	if err := s.tasks.Publish(r.Context(), topic, task); err != nil {
		s.logger.Error("admin enqueue failed",
			zap.String("topic", string(topic)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{TaskID: id, Topic: string(topic)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
