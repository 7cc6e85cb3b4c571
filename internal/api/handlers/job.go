package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
	"github.com/maumercado/task-queue-go/internal/trigger"
)

// JobHandler handles job definition and lifecycle HTTP requests.
type JobHandler struct {
	store  *store.Store
	driver *statemachine.Driver
}

func NewJobHandler(st *store.Store, driver *statemachine.Driver) *JobHandler {
	return &JobHandler{store: st, driver: driver}
}

// CreateJobRequest is the wire shape for POST /api/v1/jobs.
type CreateJobRequest struct {
	Group             string `json:"group"`
	Name              string `json:"name"`
	Type              string `json:"type"` // "normal" or "workflow"
	TriggerType        string `json:"trigger_type"`
	TriggerValue       string `json:"trigger_value"`
	RouteStrategy      string `json:"route_strategy"`
	RetryType          string `json:"retry_type"`
	RetryCount         int    `json:"retry_count"`
	RetryIntervalMs    int64  `json:"retry_interval_ms"`
	CollisionStrategy  string `json:"collision_strategy"`
	ExecuteTimeoutMs   int64  `json:"execute_timeout_ms"`
	Handler            string `json:"handler"`
	Param              string `json:"param"`
	Enabled            bool   `json:"enabled"`
}

// Create handles POST /api/v1/jobs.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Group == "" || req.Name == "" || req.Handler == "" {
		respondError(w, http.StatusBadRequest, "group, name and handler are required")
		return
	}

	j := &model.Job{
		Group:             req.Group,
		Name:              req.Name,
		Type:              parseJobType(req.Type),
		State:             model.JobDisabled,
		TriggerType:       parseTriggerType(req.TriggerType),
		TriggerValue:      req.TriggerValue,
		RouteStrategy:     parseRouteStrategy(req.RouteStrategy),
		RetryType:         parseRetryType(req.RetryType),
		RetryCount:        req.RetryCount,
		RetryInterval:     time.Duration(req.RetryIntervalMs) * time.Millisecond,
		CollisionStrategy: parseCollisionStrategy(req.CollisionStrategy),
		ExecuteTimeout:    time.Duration(req.ExecuteTimeoutMs) * time.Millisecond,
		Handler:           req.Handler,
		Param:             req.Param,
	}
	if req.Enabled {
		j.State = model.JobEnabled
	}

	next, err := trigger.Next(j, time.Now().UTC())
	if err == nil {
		j.NextTriggerTime = &next
	} else if j.State == model.JobEnabled {
		respondError(w, http.StatusBadRequest, "invalid trigger: "+err.Error())
		return
	}

	created, err := h.store.Jobs.Create(r.Context(), j)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create job")
		respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	logger.Info().Int64("job_id", created.ID).Str("name", created.Name).Msg("job created")
	respondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	j, err := h.store.Jobs.GetByID(r.Context(), id)
	if err != nil {
		h.respondStoreErr(w, err, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, j)
}

// List handles GET /api/v1/jobs?group=&limit=&offset=.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := h.store.Jobs.List(r.Context(), group, limit, offset)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list jobs")
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// Update handles PUT /api/v1/jobs/{jobID}.
func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	existing, err := h.store.Jobs.GetByID(r.Context(), id)
	if err != nil {
		h.respondStoreErr(w, err, "job not found")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing.Name = req.Name
	existing.TriggerType = parseTriggerType(req.TriggerType)
	existing.TriggerValue = req.TriggerValue
	existing.RouteStrategy = parseRouteStrategy(req.RouteStrategy)
	existing.RetryType = parseRetryType(req.RetryType)
	existing.RetryCount = req.RetryCount
	existing.RetryInterval = time.Duration(req.RetryIntervalMs) * time.Millisecond
	existing.CollisionStrategy = parseCollisionStrategy(req.CollisionStrategy)
	existing.ExecuteTimeout = time.Duration(req.ExecuteTimeoutMs) * time.Millisecond
	existing.Handler = req.Handler
	existing.Param = req.Param

	if err := h.store.Jobs.Update(r.Context(), existing); err != nil {
		h.respondStoreErr(w, err, "failed to update job")
		return
	}

	logger.Info().Int64("job_id", id).Msg("job updated")
	respondJSON(w, http.StatusOK, existing)
}

// Delete handles DELETE /api/v1/jobs/{jobID}.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	if err := h.store.Jobs.Delete(r.Context(), id); err != nil {
		h.respondStoreErr(w, err, "failed to delete job")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"message": "job deleted", "job_id": id})
}

// SetEnabled handles POST /api/v1/jobs/{jobID}/enable and /disable.
func (h *JobHandler) SetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		state := model.JobDisabled
		if enabled {
			state = model.JobEnabled
			j, err := h.store.Jobs.GetByID(r.Context(), id)
			if err != nil {
				h.respondStoreErr(w, err, "job not found")
				return
			}
			if next, err := trigger.Next(j, time.Now().UTC()); err == nil {
				_ = h.store.Jobs.SetNextTriggerTime(r.Context(), id, &next)
			}
		}
		if err := h.store.Jobs.SetState(r.Context(), id, state); err != nil {
			h.respondStoreErr(w, err, "failed to set job state")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"job_id": id, "state": state.String()})
	}
}

// Trigger handles POST /api/v1/jobs/{jobID}/trigger — an operator-requested
// manual run, bypassing the triggering scanner's cron/fixed schedule.
func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	inst, err := h.driver.Trigger(r.Context(), id, model.RunTypeManual)
	if err != nil {
		h.respondDriverErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, inst)
}

func (h *JobHandler) respondStoreErr(w http.ResponseWriter, err error, notFoundMsg string) {
	if err == store.ErrNotFound {
		respondError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	logger.Error().Err(err).Msg("job store operation failed")
	respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *JobHandler) respondDriverErr(w http.ResponseWriter, err error) {
	switch err {
	case statemachine.ErrCollision:
		respondError(w, http.StatusConflict, "a non-terminal instance already exists for this job")
	case statemachine.ErrJobMissing:
		respondError(w, http.StatusNotFound, "job not found")
	default:
		logger.Error().Err(err).Msg("trigger failed")
		respondError(w, http.StatusInternalServerError, "failed to trigger job")
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseJobType(s string) model.JobType {
	if s == "workflow" {
		return model.JobTypeWorkflow
	}
	return model.JobTypeNormal
}

func parseTriggerType(s string) model.TriggerType {
	switch s {
	case "once":
		return model.TriggerOnce
	case "fixed_rate":
		return model.TriggerFixedRate
	case "fixed_delay":
		return model.TriggerFixedDelay
	default:
		return model.TriggerCron
	}
}

func parseRouteStrategy(s string) model.RouteStrategy {
	switch s {
	case "round_robin":
		return model.RouteRoundRobin
	case "random":
		return model.RouteRandom
	case "least_recently_used":
		return model.RouteLeastRecentlyUsed
	case "consistent_hash":
		return model.RouteConsistentHash
	case "local_priority":
		return model.RouteLocalPriority
	default:
		return model.RouteBroadcast
	}
}

func parseRetryType(s string) model.RetryType {
	switch s {
	case "all":
		return model.RetryAll
	case "failed":
		return model.RetryFailed
	default:
		return model.RetryNone
	}
}

func parseCollisionStrategy(s string) model.CollisionStrategy {
	switch s {
	case "discard":
		return model.CollisionDiscard
	case "serial":
		return model.CollisionSerial
	case "override":
		return model.CollisionOverride
	default:
		return model.CollisionConcurrent
	}
}
