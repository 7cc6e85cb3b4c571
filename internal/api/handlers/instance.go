package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
)

const pauseTaskMethod = "/worker/rpc/pause"

// pauseTaskRequest is the body InstanceHandler.Pause's notifyWorker callback
// POSTs to each alive worker executing one of the instance's tasks.
type pauseTaskRequest struct {
	TaskID int64 `json:"task_id"`
}

// InstanceHandler handles instance (one firing of a Job) HTTP requests.
type InstanceHandler struct {
	store  *store.Store
	driver *statemachine.Driver
	rpc    *rpcfabric.Destination
}

func NewInstanceHandler(st *store.Store, driver *statemachine.Driver, rpc *rpcfabric.Destination) *InstanceHandler {
	return &InstanceHandler{store: st, driver: driver, rpc: rpc}
}

// Get handles GET /api/v1/instances/{instanceID}.
func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	inst, err := h.store.Instances.GetByID(r.Context(), id)
	if err != nil {
		h.respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

// Tasks handles GET /api/v1/instances/{instanceID}/tasks.
func (h *InstanceHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	tasks, err := h.store.Tasks.ByInstanceNoTx(r.Context(), id)
	if err != nil {
		logger.Error().Err(err).Int64("instance_id", id).Msg("failed to list tasks")
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
}

// Pause handles POST /api/v1/instances/{instanceID}/pause.
func (h *InstanceHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	notify := func(ctx context.Context, workerServer string, taskID int64) {
		body, err := json.Marshal(pauseTaskRequest{TaskID: taskID})
		if err != nil {
			return
		}
		if _, err := h.rpc.Invoke(ctx, workerServer, pauseTaskMethod, body); err != nil {
			logger.Error().Err(err).Str("worker_server", workerServer).Int64("task_id", taskID).
				Msg("failed to notify worker of pause")
		}
	}

	if err := h.driver.Pause(r.Context(), id, notify); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"instance_id": id, "message": "pause requested"})
}

// Resume handles POST /api/v1/instances/{instanceID}/resume.
func (h *InstanceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	if err := h.driver.Resume(r.Context(), id); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"instance_id": id, "message": "resumed"})
}

// Cancel handles POST /api/v1/instances/{instanceID}/cancel.
func (h *InstanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	notify := func(ctx context.Context, workerServer string, taskID int64) {
		body, err := json.Marshal(terminateTaskRequest{TaskID: taskID})
		if err != nil {
			return
		}
		if _, err := h.rpc.Invoke(ctx, workerServer, terminateTaskMethod, body); err != nil {
			logger.Error().Err(err).Str("worker_server", workerServer).Int64("task_id", taskID).
				Msg("failed to notify worker of cancellation")
		}
	}

	if err := h.driver.Cancel(r.Context(), id, notify); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"instance_id": id, "message": "canceled"})
}

// Delete handles DELETE /api/v1/instances/{instanceID}, removing a terminal
// instance and its tasks.
func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseInstanceID(w, r)
	if !ok {
		return
	}
	if err := h.driver.Delete(r.Context(), id); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"instance_id": id, "message": "deleted"})
}

func (h *InstanceHandler) respondStoreErr(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}
	logger.Error().Err(err).Msg("instance store operation failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *InstanceHandler) respondDriverErr(w http.ResponseWriter, err error) {
	switch err {
	case statemachine.ErrInvalidTransition:
		respondError(w, http.StatusConflict, "instance cannot transition from its current state")
	case store.ErrNotFound:
		respondError(w, http.StatusNotFound, "instance not found")
	default:
		logger.Error().Err(err).Msg("instance operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseInstanceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "instanceID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return 0, false
	}
	return id, true
}
