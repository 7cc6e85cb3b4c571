package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/statemachine"
)

// checkpointRequest mirrors internal/worker's wire shape for
// /supervisor/rpc/checkpoint.
type checkpointRequest struct {
	TaskID       int64              `json:"task_id"`
	Worker       string             `json:"worker"`
	ExecuteState model.ExecuteState `json:"execute_state"`
	Snapshot     string             `json:"snapshot,omitempty"`
	ErrorMsg     string             `json:"error_msg,omitempty"`
}

// SupervisorRPCHandler serves the one endpoint a worker calls back on its
// supervisor: reporting a task's start, checkpoint, or terminal outcome.
type SupervisorRPCHandler struct {
	driver *statemachine.Driver
}

func NewSupervisorRPCHandler(driver *statemachine.Driver) *SupervisorRPCHandler {
	return &SupervisorRPCHandler{driver: driver}
}

// Checkpoint handles POST /supervisor/rpc/checkpoint.
func (h *SupervisorRPCHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.driver.ReportOutcome(r.Context(), req.TaskID, req.Worker, req.ExecuteState, req.Snapshot, req.ErrorMsg); err != nil {
		logger.Error().Err(err).Int64("task_id", req.TaskID).Msg("failed to report task outcome")
		respondError(w, http.StatusInternalServerError, "failed to report outcome")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": req.TaskID, "message": "recorded"})
}
