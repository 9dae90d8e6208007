// Package api serves the analytics agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jadenj13/analyst/internals/agent"
	"github.com/jadenj13/analyst/internals/jobs"
	"github.com/jadenj13/analyst/internals/store"
)

const maxBodyBytes = 1 << 20

type Analyzer interface {
	Analyze(ctx context.Context, sessionID, query string) agent.Response
	SessionInfo(ctx context.Context, sessionID string) store.Info
}

type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type JobQueue interface {
	Submit(sessionID, query string) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
}

// Info describes the service on the informational endpoints.
type Info struct {
	Service   string
	Version   string
	Model     string
	ServerURL string
	Features  []string
}

type Server struct {
	analyzer Analyzer
	stats    StatsSource
	jobs     JobQueue
	info     Info
	log      *slog.Logger
	now      func() time.Time
}

func NewServer(analyzer Analyzer, stats StatsSource, queue JobQueue, info Info, log *slog.Logger) *Server {
	return &Server{
		analyzer: analyzer,
		stats:    stats,
		jobs:     queue,
		info:     info,
		log:      log,
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/chat-stats", s.handleChatStats)
	mux.HandleFunc("POST /api/session/new", s.handleNewSession)
	mux.HandleFunc("GET /api/session/{id}", s.handleSession)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	return s.logRequests(cors(mux))
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"service":   s.info.Service,
		"version":   s.info.Version,
		"model":     s.info.Model,
		"server":    s.info.ServerURL,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": s.timestamp()})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	features := s.info.Features
	if features == nil {
		features = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   s.info.Service,
		"version":   s.info.Version,
		"model":     s.info.Model,
		"features":  features,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleChatStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Stats(r.Context())
	if err != nil {
		s.log.Error("chat stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not read chat statistics")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		store.Stats
		Timestamp string `json:"timestamp"`
	}{st, s.timestamp()})
}

func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": uuid.NewString(),
		"created_at": s.timestamp(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.SessionInfo(r.Context(), r.PathValue("id")))
}

type analyzeRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

func (s *Server) decodeAnalyze(w http.ResponseWriter, r *http.Request) (analyzeRequest, bool) {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "'query' cannot be empty")
		return req, false
	}
	return req, true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAnalyze(w, r)
	if !ok {
		return
	}
	resp := s.analyzer.Analyze(r.Context(), req.SessionID, req.Query)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAnalyze(w, r)
	if !ok {
		return
	}
	job, err := s.jobs.Submit(req.SessionID, req.Query)
	if errors.Is(err, jobs.ErrQueueFull) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.log.Error("submit job failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not submit job")
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
