// Package adminapi provides the administrative HTTP surface for a hotswap
// deployment: slot introspection, audit trails, health statistics, crash
// reporting, and the global hot-swap switch.
//
// The package is a reference implementation of the administrative
// collaborator; module instances themselves live in-process and cannot be
// installed over HTTP, so the mutating endpoints are limited to what an
// operator can meaningfully drive from outside: reporting crashes,
// triggering recovery, and toggling hot swap.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/GoCodeAlone/hotswap"
)

// Server exposes registry and self-healing state over HTTP.
type Server struct {
	registry *hotswap.HotReloadRegistry
	manager  *hotswap.SelfHealingManager
	logger   hotswap.Logger
}

// New creates an admin API server over the given registry and manager.
func New(registry *hotswap.HotReloadRegistry, manager *hotswap.SelfHealingManager, logger hotswap.Logger) *Server {
	return &Server{
		registry: registry,
		manager:  manager,
		logger:   logger,
	}
}

// Router builds the chi router for the admin API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/slots", s.listSlots)
	r.Get("/slots/{id}", s.getSlot)
	r.Get("/history", s.history)

	r.Get("/health", s.health)
	r.Get("/health/stats", s.stats)
	r.Get("/health/events", s.events)

	r.Post("/slots/{id}/crash", s.reportCrash)
	r.Post("/slots/{id}/recover", s.attemptRecovery)
	r.Put("/hotswap", s.setHotSwap)

	return r
}

func (s *Server) listSlots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListSlots())
}

func (s *Server) getSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotParam(w, r)
	if !ok {
		return
	}

	info, err := s.registry.SlotInfo(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hotswap.ErrSlotNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.History())
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"systemHealth": s.manager.SystemHealth(),
		"modules":      s.manager.ModuleStatuses(),
	})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

func (s *Server) events(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Events())
}

func (s *Server) reportCrash(w http.ResponseWriter, r *http.Request) {
	id, ok := slotParam(w, r)
	if !ok {
		return
	}

	recovered := s.manager.ReportCrash(id)
	s.logger.Info("Crash reported via admin API", "slot", id, "recovered", recovered)
	writeJSON(w, http.StatusOK, map[string]any{"recovered": recovered})
}

func (s *Server) attemptRecovery(w http.ResponseWriter, r *http.Request) {
	id, ok := slotParam(w, r)
	if !ok {
		return
	}

	recovered := s.manager.AttemptRecovery(id)
	writeJSON(w, http.StatusOK, map[string]any{"recovered": recovered})
}

func (s *Server) setHotSwap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.registry.SetHotSwapEnabled(body.Enabled)
	s.logger.Info("Hot swap switch set via admin API", "enabled", body.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"enabled": body.Enabled})
}

func slotParam(w http.ResponseWriter, r *http.Request) (hotswap.SlotID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return 0, false
	}
	return hotswap.SlotID(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
