package worker

import (
	"context"
	"encoding/json"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
)

const checkpointMethod = "/supervisor/rpc/checkpoint"

// checkpointRequest is the wire payload the supervisor's checkpoint
// handler decodes into a statemachine.ReportOutcome call.
type checkpointRequest struct {
	TaskID       int64              `json:"task_id"`
	Worker       string             `json:"worker"`
	ExecuteState model.ExecuteState `json:"execute_state"`
	Snapshot     string             `json:"snapshot,omitempty"`
	ErrorMsg     string             `json:"error_msg,omitempty"`
}

func (p *Pool) reportStart(ctx context.Context, taskID int64) {
	p.checkpoint(ctx, taskID, model.ExecuteRunning, "", "")
}

func (p *Pool) reportOutcome(ctx context.Context, taskID int64, state model.ExecuteState, snapshot, errMsg string) {
	p.checkpoint(ctx, taskID, state, snapshot, errMsg)
}

func (p *Pool) checkpoint(ctx context.Context, taskID int64, state model.ExecuteState, snapshot, errMsg string) {
	req := checkpointRequest{TaskID: taskID, Worker: p.endpoint.Address(), ExecuteState: state, Snapshot: snapshot, ErrorMsg: errMsg}
	body, err := json.Marshal(req)
	if err != nil {
		logger.Error().Err(err).Int64("task_id", taskID).Msg("worker: failed to marshal checkpoint")
		return
	}
	if _, err := p.supervisor.Invoke(ctx, checkpointMethod, body); err != nil {
		logger.Error().Err(err).Int64("task_id", taskID).Str("state", state.String()).Msg("worker: failed to report task checkpoint")
	}
}
