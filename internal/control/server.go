// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/buildit-ci/buildit/internal/logger"
)

// LogSource streams a running stage's log lines to a follower. The server
// command satisfies it with the CLI's log broadcaster, which is fed from the
// orchestrator's StageLog events; tests use a fake.
type LogSource interface {
	Follow(ctx context.Context, runID, stage string) (<-chan string, error)
}

// Server is the control surface's HTTP handler: /healthz, the
// manual-approval resume callback, and a websocket log-follow relay.
type Server struct {
	router    chi.Router
	approvals *Approvals
	logs      LogSource
	log       logger.Logger
}

// NewServer builds a Server. logs may be nil, in which case the
// log-follow endpoint responds 503.
func NewServer(approvals *Approvals, logs LogSource, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default
	}
	s := &Server{approvals: approvals, logs: logs, log: log}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/healthz", s.handleHealthz())
	r.Route("/runs/{runID}/stages/{stage}", func(r chi.Router) {
		r.Post("/approve", s.handleApprove())
		r.Post("/reject", s.handleReject())
		r.Get("/logs", s.handleFollowLogs())
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleApprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, stage := chi.URLParam(r, "runID"), chi.URLParam(r, "stage")
		if err := s.approvals.Approve(runID, stage); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "approved"})
	}
}

func (s *Server) handleReject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, stage := chi.URLParam(r, "runID"), chi.URLParam(r, "stage")

		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if err := s.approvals.Reject(runID, stage, body.Reason); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "rejected"})
	}
}

func (s *Server) handleFollowLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.logs == nil {
			http.Error(w, "log follow not configured", http.StatusServiceUnavailable)
			return
		}
		runID, stage := chi.URLParam(r, "runID"), chi.URLParam(r, "stage")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		lines, err := s.logs.Follow(ctx, runID, stage)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, err.Error())
			return
		}

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					_ = conn.Close(websocket.StatusNormalClosure, "stage log stream ended")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, []byte(line))
				cancel()
				if err != nil {
					s.log.Warnf("log follow: writing to client: %v", err)
					return
				}
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "request cancelled")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
