package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
)

// StartTask dispatches a single waiting task immediately, bypassing the
// scanner sweep — used for an operator-triggered "run now" on one task of
// an otherwise waiting instance.
func (d *Driver) StartTask(ctx context.Context, taskID int64) error {
	var job *model.Job
	var inst *model.Instance
	var task *model.Task

	effects, err := d.withInstanceLock(ctx, 0, func(tx pgx.Tx) ([]Effect, error) {
		t, err := d.store.Tasks.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.ExecuteState != model.ExecuteWaiting {
			return nil, ErrInvalidTransition
		}
		i, err := d.store.Instances.GetByID(ctx, t.InstanceID)
		if err != nil {
			return nil, err
		}
		j, err := d.store.Jobs.GetByIDTx(ctx, tx, i.JobID)
		if err != nil {
			return nil, err
		}
		task, inst, job = t, i, j
		return []Effect{d.dispatchEffect(job, inst, []*model.Task{task})}, nil
	})
	if err != nil {
		return err
	}
	run(ctx, effects)
	return nil
}

// TerminateTask cancels a dispatched/running task. The Effect it returns
// calls the worker's terminate RPC; the task row itself is marked canceled
// immediately so a racing checkpoint report from the worker is rejected by
// ReportOutcome's terminal-state guard rather than resurrecting the task.
func (d *Driver) TerminateTask(ctx context.Context, taskID int64, notifyWorker func(ctx context.Context, workerServer string, taskID int64)) error {
	effects, err := d.withInstanceLock(ctx, 0, func(tx pgx.Tx) ([]Effect, error) {
		t, err := d.store.Tasks.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.ExecuteState.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		workerServer := t.WorkerServer

		now := time.Now().UTC()
		t.ExecuteState = model.ExecuteManualCanceled
		t.ExecuteEndTime = &now
		if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
			return nil, err
		}

		var fx []Effect
		if workerServer != "" && notifyWorker != nil {
			fx = append(fx, func(ctx context.Context) { notifyWorker(ctx, workerServer, taskID) })
		}
		return fx, d.recomputeInstanceTx(ctx, tx, t.InstanceID, &fx)
	})
	if err != nil {
		return err
	}
	run(ctx, effects)
	return nil
}

// ReportOutcome applies a worker-reported task state change — running
// start, checkpoint, or terminal success/failure — then recomputes the
// owning instance's run state and fires any cascades a newly-terminal
// instance triggers. This is the entry point both the /supervisor/rpc
// handlers and the running scanner's stale-task reclaim path use. worker
// is the host:port that is reporting; it is the only place a task's
// WorkerServer column is ever written (never by the dispatcher at send
// time), so it is recorded on every call, not just the first.
func (d *Driver) ReportOutcome(ctx context.Context, taskID int64, worker string, newState model.ExecuteState, snapshot, errMsg string) error {
	var instanceID int64

	effects, err := d.withInstanceLock(ctx, 0, func(tx pgx.Tx) ([]Effect, error) {
		t, err := d.store.Tasks.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.ExecuteState.IsTerminal() {
			// Late report for an already-terminated task (e.g. terminated
			// by an operator moments earlier): ignore, not an error.
			return nil, nil
		}
		instanceID = t.InstanceID

		now := time.Now().UTC()
		t.ExecuteState = newState
		t.ExecuteSnapshot = snapshot
		t.ErrorMsg = errMsg
		if worker != "" {
			t.WorkerServer = worker
		}
		if newState == model.ExecuteRunning && t.ExecuteStartTime == nil {
			t.ExecuteStartTime = &now
		}
		if newState.IsTerminal() {
			t.ExecuteEndTime = &now
		}
		if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
			return nil, err
		}

		var fx []Effect
		if err := d.recomputeInstanceTx(ctx, tx, instanceID, &fx); err != nil {
			return nil, err
		}
		return fx, nil
	})
	if err != nil {
		return err
	}
	run(ctx, effects)
	return nil
}

// recomputeInstanceTx re-derives an instance's run state from its tasks and,
// if it just became terminal, appends the retry/workflow/dependency cascade
// effects appropriate to the outcome.
func (d *Driver) recomputeInstanceTx(ctx context.Context, tx pgx.Tx, instanceID int64, fx *[]Effect) error {
	inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
	if err != nil {
		return fmt.Errorf("lock instance for recompute: %w", err)
	}
	tasks, err := d.store.Tasks.ByInstance(ctx, tx, instanceID)
	if err != nil {
		return err
	}

	state, becameTerminal := DeriveRunState(tasks)
	inst.RunState = state
	if becameTerminal {
		now := time.Now().UTC()
		inst.RunEndTime = &now
	}
	if err := d.store.Instances.UpdateRunState(ctx, tx, inst); err != nil {
		return err
	}
	if !becameTerminal {
		return nil
	}

	job, err := d.store.Jobs.GetByIDTx(ctx, tx, inst.JobID)
	if err != nil {
		return fmt.Errorf("%w: job %d", ErrJobMissing, inst.JobID)
	}

	metrics.RecordInstanceCompletion(job.Group, state.String(), inst.RunEndTime.Sub(inst.TriggerTime).Seconds())

	if state == model.RunStateCanceled {
		if retryFx, err := d.planRetryTx(ctx, tx, job, inst); err != nil {
			return err
		} else if retryFx != nil {
			*fx = append(*fx, retryFx)
			metrics.RecordTaskRetry(job.Group)
			return nil // a scheduled retry supersedes workflow/dependency cascade
		}
	}

	if inst.WnstanceID != 0 {
		wfFx, err := d.advanceWorkflowTx(ctx, tx, job, inst, state)
		if err != nil {
			return err
		}
		*fx = append(*fx, wfFx...)
	} else if state == model.RunStateCompleted {
		depFx, err := d.cascadeDependsTx(ctx, tx, job, inst)
		if err != nil {
			return err
		}
		*fx = append(*fx, depFx...)
	}

	return nil
}
