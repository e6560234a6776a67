package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/dragonscale-intents"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/channel"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

// server exposes an engine over HTTP. Sessions started here are answered
// from the request body, never interactively.
type server struct {
	engine   *dragonscale.Engine
	gatherer prometheus.Gatherer
}

type parseRequest struct {
	DSL string `json:"dsl"`
}

type parseResponse struct {
	Tree         string `json:"tree"`
	Pretty       string `json:"pretty"`
	Placeholders int    `json:"placeholders"`
	Resolved     bool   `json:"resolved"`
}

type sessionRequest struct {
	DSL     string   `json:"dsl,omitempty"`
	Prompt  string   `json:"prompt,omitempty"`
	Answers []string `json:"answers,omitempty"`
}

type sessionResponse struct {
	ID        string                          `json:"id"`
	SessionID string                          `json:"session_id"`
	Status    *dragonscale.AsyncSessionStatus `json:"status,omitempty"`
	Report    *dragonscale.Report             `json:"report,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// buildRouter constructs the chi mux with all routes wired.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/dsl/parse", s.handleParse)
		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Delete("/sessions/{id}", s.handleCancelSession)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tree, err := dsl.Parse(req.DSL)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{
		Tree:         tree.String(),
		Pretty:       dsl.Pretty(tree),
		Placeholders: len(dsl.Placeholders(tree)),
		Resolved:     dsl.IsResolved(tree),
	})
}

func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := s.engine.NewSession(dragonscale.WithSessionChannel(channel.NewScripted(req.Answers...)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	id, err := s.engine.RunAsync(r.Context(), session, dragonscale.Request{DSL: req.DSL, Prompt: req.Prompt})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionResponse{ID: id, SessionID: session.ID()})
}

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListAsyncSessions())
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.engine.GetAsyncStatus(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	resp := sessionResponse{ID: id, SessionID: status.SessionID, Status: status}
	if report, _ := s.engine.GetAsyncReport(id); report != nil {
		resp.Report = report
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.engine.CancelAsyncSession(chi.URLParam(r, "id"))
	if errors.Is(err, dragonscale.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: dragonscale.CodeOf(err)})
}
