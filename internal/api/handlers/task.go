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

const terminateTaskMethod = "/worker/rpc/terminateTask"

// terminateTaskRequest is the body TaskHandler.Terminate's notifyWorker
// callback POSTs to the worker that owns the task.
type terminateTaskRequest struct {
	TaskID int64 `json:"task_id"`
}

// TaskHandler handles single-task HTTP requests: read, force-start, and
// operator-initiated termination.
type TaskHandler struct {
	store  *store.Store
	driver *statemachine.Driver
	rpc    *rpcfabric.Destination
}

func NewTaskHandler(st *store.Store, driver *statemachine.Driver, rpc *rpcfabric.Destination) *TaskHandler {
	return &TaskHandler{store: st, driver: driver, rpc: rpc}
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}
	t, err := h.store.Tasks.GetByID(r.Context(), id)
	if err != nil {
		h.respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Start handles POST /api/v1/tasks/{taskID}/start, an operator "run now" on
// one waiting task without waiting for its instance's normal dispatch path.
func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}
	if err := h.driver.StartTask(r.Context(), id); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": id, "message": "dispatch requested"})
}

// Terminate handles POST /api/v1/tasks/{taskID}/terminate.
func (h *TaskHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
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
				Msg("failed to notify worker of termination")
		}
	}

	if err := h.driver.TerminateTask(r.Context(), id, notify); err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": id, "message": "terminated"})
}

func (h *TaskHandler) respondStoreErr(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	logger.Error().Err(err).Msg("task store operation failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *TaskHandler) respondDriverErr(w http.ResponseWriter, err error) {
	switch err {
	case statemachine.ErrInvalidTransition:
		respondError(w, http.StatusConflict, "task cannot transition from its current state")
	case store.ErrNotFound:
		respondError(w, http.StatusNotFound, "task not found")
	default:
		logger.Error().Err(err).Msg("task operation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}
