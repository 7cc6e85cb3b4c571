package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/worker"
)

// receiveRequest mirrors internal/dispatch's wire shape for
// /worker/rpc/receive; this is the worker side of the same contract.
type receiveRequest struct {
	TaskID     int64  `json:"task_id"`
	InstanceID int64  `json:"instance_id"`
	JobID      int64  `json:"job_id"`
	Group      string `json:"group"`
	Handler    string `json:"handler"`
	Param      string `json:"param"`
	TaskNo     int    `json:"task_no"`
	TaskCount  int    `json:"task_count"`
}

type terminateRequest struct {
	TaskID int64 `json:"task_id"`
}

type pauseRequest struct {
	TaskID int64 `json:"task_id"`
}

// WorkerRPCHandler serves the three endpoints a supervisor calls on a worker:
// handing it a task, asking it to cancel one still queued in the timing
// wheel, and an informational pause notice for a task it is running.
type WorkerRPCHandler struct {
	pool *worker.Pool
}

func NewWorkerRPCHandler(pool *worker.Pool) *WorkerRPCHandler {
	return &WorkerRPCHandler{pool: pool}
}

// Receive handles POST /worker/rpc/receive.
func (h *WorkerRPCHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	admitted := h.pool.Receive(worker.ReceivedTask{
		TaskID:     req.TaskID,
		InstanceID: req.InstanceID,
		JobID:      req.JobID,
		Group:      req.Group,
		Handler:    req.Handler,
		Param:      req.Param,
		TaskNo:     req.TaskNo,
		TaskCount:  req.TaskCount,
	}, time.Now().UTC())

	if !admitted {
		logger.Warn().Int64("task_id", req.TaskID).Msg("worker rejected task: already queued in the timing wheel")
		respondError(w, http.StatusServiceUnavailable, "task not admitted")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": req.TaskID, "message": "admitted"})
}

// TerminateTask handles POST /worker/rpc/terminateTask.
func (h *WorkerRPCHandler) TerminateTask(w http.ResponseWriter, r *http.Request) {
	var req terminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	canceled := h.pool.Cancel(req.TaskID)
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": req.TaskID, "canceled": canceled})
}

// Pause handles POST /worker/rpc/pause. It is informational only — the
// task named keeps running to completion, since this worker's Pool has no
// per-task or per-instance pause granularity (Pool.Pause halts admission
// for the whole process, which would wrongly affect every other instance's
// tasks in flight here). The supervisor relies on this worker's own
// terminal checkpoint report, not this ack, to know the task is done.
func (h *WorkerRPCHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	logger.Debug().Int64("task_id", req.TaskID).Msg("worker: pause request acknowledged, task runs to completion")
	respondJSON(w, http.StatusOK, map[string]interface{}{"task_id": req.TaskID, "message": "acknowledged"})
}
