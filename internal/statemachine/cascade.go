package statemachine

import (
	"context"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
)

// planRetryTx decides whether a just-canceled instance should be retried.
// If so it creates a fresh instance chained onto the failed one —
// RnstanceID carries the lineage root forward, PnstanceID names the failed
// instance as the immediate predecessor — copies the tasks job.RetryType
// selects, and stamps Attach["retryAt"] with the backoff-computed time the
// waiting scanner must wait until before redispatching (the same deferred
// pickup the teacher's queue scheduler uses for a scored, not-yet-due
// item). It returns a non-nil Effect whenever a retry instance was
// actually created, regardless of whether that Effect does anything,
// purely as a signal to recomputeInstanceTx that the retry cascade
// superseded the workflow/dependency cascade for this outcome.
func (d *Driver) planRetryTx(ctx context.Context, tx pgx.Tx, job *model.Job, inst *model.Instance) (Effect, error) {
	if job.RetryType == model.RetryNone || inst.RetriedCount >= job.RetryCount {
		return nil, nil
	}

	priorTasks, err := d.store.Tasks.ByInstance(ctx, tx, inst.ID)
	if err != nil {
		return nil, err
	}

	retryAt := time.Now().UTC().Add(retryBackoff(job, inst.RetriedCount))
	retryInst := &model.Instance{
		JobID:        inst.JobID,
		RnstanceID:   inst.RnstanceID,
		PnstanceID:   inst.ID,
		WnstanceID:   inst.WnstanceID,
		RunType:      model.RunTypeRetry,
		RunState:     model.RunStateWaiting,
		TriggerTime:  retryAt,
		RetriedCount: inst.RetriedCount + 1,
		Attach:       map[string]any{"retryAt": retryAt.Format(time.RFC3339)},
	}
	if node := inst.CurNode(); node != "" {
		retryInst.SetCurNode(node)
	}

	retryInst, err = d.store.Instances.Create(ctx, tx, retryInst)
	if err != nil {
		return nil, err
	}

	newTasks, err := d.retryTasksTx(ctx, tx, job, retryInst, priorTasks)
	if err != nil {
		return nil, err
	}
	if len(newTasks) == 0 {
		// Every candidate task was excluded — e.g. a RetryFailed job whose
		// only failed task was a broadcast shard pinned to a worker that's
		// since died. Abandon the retry: drop the unused instance row and
		// let the caller's normal workflow/dependency cascade run off the
		// original CANCELED outcome instead.
		return nil, d.store.Instances.Delete(ctx, tx, retryInst.ID)
	}

	if node := inst.CurNode(); node != "" {
		if err := d.store.Workflows.SetNodeInstance(ctx, tx, inst.WnstanceID, node, retryInst.ID); err != nil {
			return nil, err
		}
	}

	return func(context.Context) {}, nil
}

// retryTasksTx materializes the retry instance's tasks per job.RetryType:
// RetryAll re-splits jobParam as if the job had just been freshly
// triggered; RetryFailed clones only the previous attempt's failed tasks,
// excluding any broadcast shard whose PinnedWorker is no longer alive (that
// shard has nowhere to go — ExecuteBroadcastAborted is what a still-dead
// pinned worker earns it if it's ever reported on directly, but a retry
// simply leaves it out of the new attempt).
func (d *Driver) retryTasksTx(ctx context.Context, tx pgx.Tx, job *model.Job, retryInst *model.Instance, prior []*model.Task) ([]*model.Task, error) {
	if job.RetryType == model.RetryAll {
		return d.createTasksTx(ctx, tx, job, retryInst)
	}

	var copies []*model.Task
	for _, t := range prior {
		if !t.ExecuteState.IsFailure() {
			continue
		}
		if t.PinnedWorker != "" {
			if ep, err := model.ParseEndpoint(job.Group, model.RoleWorker, t.PinnedWorker); err == nil {
				if alive, err := d.registry.IsAlive(ctx, ep); err == nil && !alive {
					continue
				}
			}
		}
		copies = append(copies, &model.Task{
			InstanceID:   retryInst.ID,
			TaskNo:       t.TaskNo,
			TaskCount:    t.TaskCount,
			Param:        t.Param,
			PinnedWorker: t.PinnedWorker,
			Metadata:     t.Metadata,
		})
	}
	if len(copies) == 0 {
		return nil, nil
	}
	if err := d.store.Tasks.CreateBatch(ctx, tx, copies); err != nil {
		return nil, err
	}
	return copies, nil
}

// retryBackoff computes retryInterval x 2^retriedCount, capped at 30
// minutes. RetryType no longer selects the backoff shape (see its doc
// comment in package model) — it only selects which tasks a retry copies —
// so every retrying job backs off the same way regardless of RetryType.
func retryBackoff(job *model.Job, retriedCount int) time.Duration {
	backoff := float64(job.RetryInterval) * math.Pow(2, float64(retriedCount))
	const maxBackoff = float64(30 * time.Minute)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(backoff)
}

// cascadeDependsTx triggers every enabled child job registered against
// parent's job via job_depends, once parent's instance has reached
// FINISHED. Unlike planRetryTx's deferred pickup, a dependency cascade
// dispatches right after commit: Sequence only offsets triggerTime enough
// to dodge the (jobId, triggerTime, runType) uniqueness key between
// siblings of the same firing, not to delay execution.
func (d *Driver) cascadeDependsTx(ctx context.Context, tx pgx.Tx, parentJob *model.Job, parent *model.Instance) ([]Effect, error) {
	edges, err := d.store.Depends.ChildrenOf(ctx, tx, parentJob.ID)
	if err != nil {
		return nil, err
	}

	var effects []Effect
	for _, edge := range edges {
		childJob, err := d.store.Jobs.GetByIDTx(ctx, tx, edge.ChildJobID)
		if err != nil {
			return nil, err
		}
		if childJob.State != model.JobEnabled {
			continue
		}

		childInst := &model.Instance{
			JobID:       childJob.ID,
			RnstanceID:  parent.RnstanceID,
			PnstanceID:  parent.ID,
			RunType:     model.RunTypeDependency,
			RunState:    model.RunStateWaiting,
			TriggerTime: time.UnixMilli(time.Now().UTC().UnixMilli() + edge.Sequence),
		}
		childInst, err = d.store.Instances.Create(ctx, tx, childInst)
		if err != nil {
			return nil, err
		}
		metrics.RecordJobTriggered(childJob.Group, model.RunTypeDependency.String())

		if childJob.Type == model.JobTypeWorkflow {
			fx, err := d.startWorkflowTx(ctx, tx, childJob, childInst)
			if err != nil {
				return nil, err
			}
			effects = append(effects, fx...)
			continue
		}

		tasks, err := d.createTasksTx(ctx, tx, childJob, childInst)
		if err != nil {
			return nil, err
		}
		effects = append(effects, d.dispatchEffect(childJob, childInst, tasks))
	}
	return effects, nil
}
