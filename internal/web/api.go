package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Coordinator
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("GET /api/swarms", s.listSwarms)
	mux.HandleFunc("GET /api/swarms/{id}", s.getSwarm)
	mux.HandleFunc("GET /api/channels", s.listChannels)
	mux.HandleFunc("GET /api/memory/{name}", s.getMemory)

	// Monitor
	mux.HandleFunc("GET /api/metrics/latest", s.getLatestMetrics)
	mux.HandleFunc("GET /api/metrics/history", s.getHistory)
	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/dashboard", s.getDashboard)

	// Stored snapshots
	mux.HandleFunc("GET /api/snapshots", s.listSnapshots)
	mux.HandleFunc("GET /api/snapshots/{id}", s.getSnapshot)
}

type statusResponse struct {
	Version         string            `json:"version"`
	Uptime          string            `json:"uptime"`
	CoordinatorUp   bool              `json:"coordinator_active"`
	MonitorUp       bool              `json:"monitor_active"`
	Swarms          int               `json:"swarms"`
	PendingMessages int               `json:"pending_messages"`
	Stats           coordinator.Stats `json:"stats"`
	WebsocketConns  int               `json:"websocket_clients"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, statusResponse{
		Version:         s.version,
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		CoordinatorUp:   s.coord.IsActive(),
		MonitorUp:       s.mon.IsActive(),
		Swarms:          s.coord.Swarms().Len(),
		PendingMessages: len(s.coord.Pending()),
		Stats:           s.coord.Stats(),
		WebsocketConns:  s.hub.Len(),
	})
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Swarms().Snapshots())
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	sw, ok := s.coord.Swarms().Get(r.PathValue("id"))
	if !ok {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sw.Snapshot())
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Channels())
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	seg, ok := s.coord.Memory(r.PathValue("name"))
	if !ok {
		jsonError(w, "unknown memory segment", http.StatusNotFound)
		return
	}
	jsonResponse(w, seg)
}

func (s *Server) getLatestMetrics(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.mon.Latest()
	if !ok {
		jsonError(w, "no metrics collected yet", http.StatusNotFound)
		return
	}
	jsonResponse(w, ps)
}

// getHistory returns the last ?limit snapshots, all by default.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	history := s.mon.History()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < len(history) {
			history = history[len(history)-n:]
		}
	}
	jsonResponse(w, history)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("severity") == string(monitor.SeverityCritical) {
		jsonResponse(w, s.mon.CriticalAlerts())
		return
	}
	jsonResponse(w, s.mon.Alerts())
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	ps, ok := s.mon.Latest()
	if !ok {
		http.Error(w, "no metrics collected yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(monitor.RenderDashboard(ps, s.mon.Alerts())))
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "snapshot store disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := s.store.ListSnapshots(r.URL.Query().Get("kind"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, snaps)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "snapshot store disabled", http.StatusNotFound)
		return
	}
	snap, err := s.store.GetSnapshot(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		jsonError(w, "snapshot not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, snap)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
