// Package api exposes the status and inspection HTTP surface plus the
// websocket bridge endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/domain"
	"github.com/ernie/herald/internal/engine"
	"github.com/ernie/herald/internal/host"
)

// Router holds the HTTP routes and dependencies.
type Router struct {
	mux    *http.ServeMux
	engine *engine.Engine
	bridge *host.Bridge
	log    *zap.SugaredLogger
	start  time.Time
}

// NewRouter creates the HTTP router.
func NewRouter(eng *engine.Engine, bridge *host.Bridge, log *zap.SugaredLogger) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		engine: eng,
		bridge: bridge,
		log:    log,
		start:  time.Now(),
	}

	r.mux.HandleFunc("GET /api/status", r.handleStatus)
	r.mux.HandleFunc("GET /api/players", r.handleGetPlayers)
	r.mux.HandleFunc("GET /api/players/{id}", r.handleGetPlayer)
	r.mux.HandleFunc("POST /api/mode", r.handleSetMode)
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /ws", r.handleBridge)

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		r.log.Warnw("writing response failed", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	online, _ := r.bridge.OnlineCount()
	max, _ := r.bridge.MaxCapacity()
	r.writeJSON(w, http.StatusOK, map[string]any{
		"process":        r.bridge.ProcessName(),
		"mode":           r.engine.Mode(),
		"online":         online,
		"max_players":    max,
		"uptime_seconds": int(time.Since(r.start).Seconds()),
	})
}

func (r *Router) handleGetPlayers(w http.ResponseWriter, req *http.Request) {
	entries, err := r.engine.Players(req.Context())
	if err != nil {
		r.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	r.writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(req.PathValue("id"))
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	rec, ok, err := r.engine.Player(req.Context(), id)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		r.writeError(w, http.StatusNotFound, "player not found")
		return
	}
	r.writeJSON(w, http.StatusOK, domain.LedgerEntry{ID: id, Record: rec})
}

func (r *Router) handleSetMode(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode := domain.RunMode(body.Mode)
	if err := r.engine.SwitchMode(mode); err != nil {
		r.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	r.log.Infow("mode changed via api", "mode", mode)
	r.writeJSON(w, http.StatusOK, map[string]any{"mode": r.engine.Mode()})
}

func (r *Router) handleBridge(w http.ResponseWriter, req *http.Request) {
	r.bridge.ServeHTTP(w, req)
}
