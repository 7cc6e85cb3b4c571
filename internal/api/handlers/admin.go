package handlers

import (
	"net/http"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/store"
)

// AdminHandler handles cluster introspection requests: which workers and
// supervisors the registry currently sees, and whether storage is reachable.
type AdminHandler struct {
	registry registry.Registry
	store    *store.Store
}

func NewAdminHandler(reg registry.Registry, st *store.Store) *AdminHandler {
	return &AdminHandler{registry: reg, store: st}
}

// ListWorkers handles GET /admin/workers?group=.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	h.listByRole(w, r, model.RoleWorker)
}

// ListSupervisors handles GET /admin/supervisors?group=.
func (h *AdminHandler) ListSupervisors(w http.ResponseWriter, r *http.Request) {
	h.listByRole(w, r, model.RoleSupervisor)
}

func (h *AdminHandler) listByRole(w http.ResponseWriter, r *http.Request, role model.Role) {
	group := r.URL.Query().Get("group")
	if group == "" {
		respondError(w, http.StatusBadRequest, "group query parameter is required")
		return
	}

	servers, err := h.registry.DiscoveredServers(r.Context(), group, role)
	if err != nil {
		logger.Error().Err(err).Str("group", group).Str("role", role.String()).Msg("failed to discover servers")
		respondError(w, http.StatusInternalServerError, "failed to discover servers")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"servers": servers,
		"count":   len(servers),
	})
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"postgres": "disconnected",
			"error":    err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"postgres": "connected",
	})
}
