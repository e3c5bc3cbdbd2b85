// Package api provides the HTTP API for observing and steering the floor.
// GET endpoints are public (read-only observation).
// Session and speed POSTs require a bearer token (admin control plane).
// Player commands are open but rate limited per IP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/engine"
	"github.com/talgya/conclave/internal/persistence"
	"github.com/talgya/conclave/internal/world"
)

const (
	maxWSConns   = 16
	playerRate   = 60 // player commands per IP per minute
	wsBuffer     = 256
	writeTimeout = 5 * time.Second
)

// Server serves the floor over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // optional; enables ?source=db on /events
	Port     int
	AdminKey string // Bearer token for admin POSTs. Empty = admin disabled.

	wsConns  atomic.Int32
	upgrader websocket.Upgrader
	limiter  *RateLimiter
	srv      *http.Server
	initOnce sync.Once
	handler  http.Handler
}

// Handler returns the API's routes.
func (s *Server) Handler() http.Handler {
	s.initOnce.Do(func() {
		s.limiter = NewRateLimiter(playerRate, time.Minute)
		s.upgrader = websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		}

		mux := http.NewServeMux()

		// Public observation.
		mux.HandleFunc("GET /api/v1/status", s.handleStatus)
		mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
		mux.HandleFunc("GET /api/v1/agent/{id}", s.handleAgentDetail)
		mux.HandleFunc("GET /api/v1/stations", s.handleStations)
		mux.HandleFunc("GET /api/v1/events", s.handleEvents)
		mux.HandleFunc("GET /api/v1/ws", s.handleWS)
		mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)

		// Admin control plane.
		mux.HandleFunc("POST /api/v1/session/start", s.adminOnly(s.handleSessionStart))
		mux.HandleFunc("POST /api/v1/session/end", s.adminOnly(s.handleSessionEnd))
		mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))

		// Player commands.
		mux.HandleFunc("POST /api/v1/player/move", RateLimitMiddleware(s.limiter, s.handlePlayerMove))
		mux.HandleFunc("POST /api/v1/player/speech", RateLimitMiddleware(s.limiter, s.handlePlayerSpeech))
		mux.HandleFunc("POST /api/v1/station/{name}/join", RateLimitMiddleware(s.limiter, s.handleStationJoin))
		mux.HandleFunc("POST /api/v1/station/{name}/cancel", RateLimitMiddleware(s.limiter, s.handleStationCancel))

		s.handler = corsMiddleware(mux)
	})
	return s.handler
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CONCLAVE_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CONCLAVE_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CONCLAVE_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

type statusResponse struct {
	engine.Status
	Speed  float64 `json:"speed"`
	Paused bool    `json:"paused"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.Sim.Status()}
	if s.Eng != nil {
		resp.Speed = s.Eng.Speed()
		resp.Paused = resp.Speed == 0
	}
	writeJSON(w, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	views := s.Sim.AgentViews()

	state := r.URL.Query().Get("state")
	if state != "" {
		if _, ok := agents.ParseState(state); !ok {
			http.Error(w, "unknown state", http.StatusBadRequest)
			return
		}
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	out := views[:0]
	for _, v := range views {
		if state != "" && v.State != state {
			continue
		}
		if activeOnly && !v.Active {
			continue
		}
		out = append(out, v)
	}
	writeJSON(w, out)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	v, ok := s.Sim.AgentView(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, v)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.StationStatuses())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if r.URL.Query().Get("source") == "db" {
		if s.DB == nil {
			http.Error(w, "no database configured", http.StatusNotFound)
			return
		}
		events, err := s.DB.RecentEvents(limit)
		if err != nil {
			slog.Error("events query failed", "error", err)
			http.Error(w, "events query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
		return
	}

	events := s.Sim.RecentEvents(0)

	// Optional category filter.
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []engine.Event{}
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not attached", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	s.Sim.StartSession()
	slog.Info("session start requested", "remote", clientIP(r))
	writeJSON(w, s.Sim.Status())
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	s.Sim.EndSession()
	slog.Info("session end requested", "remote", clientIP(r))
	writeJSON(w, s.Sim.Status())
}

func (s *Server) handlePlayerMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir    *world.Vec2 `json:"dir"`
		Target *world.Vec2 `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Dir == nil && req.Target == nil {
		http.Error(w, "dir or target required", http.StatusBadRequest)
		return
	}
	if err := s.Sim.PlayerMove(req.Dir, req.Target); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handlePlayerSpeech(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.PlayerSpeech(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleStationJoin(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.JoinStation(r.PathValue("name")); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleStationCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Sim.CancelStation(r.PathValue("name")); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// handleWS streams every recorded event as a JSON text message until the
// client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsConns.Add(1) > maxWSConns {
		s.wsConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.wsConns.Add(-1)

	// Subscribe before the handshake completes so no event recorded after
	// the client connects is missed.
	id, events := s.Sim.Subscribe(wsBuffer)
	defer s.Sim.Unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	slog.Debug("event stream opened", "subscriber", id, "remote", clientIP(r))

	// Reader: the client sends nothing meaningful; a read error means it left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				slog.Debug("event stream closed", "subscriber", id, "error", err)
				return
			}
		}
	}
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownStation):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrNoPlayer), errors.Is(err, engine.ErrRejected):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
