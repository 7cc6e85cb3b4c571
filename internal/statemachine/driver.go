// Package statemachine drives the instance/task lifecycle described by the
// scheduler: every mutating operation is one database transaction guarded
// by a dual lock (InternTable for same-process races, SELECT ... FOR UPDATE
// for cross-process races) that returns an Effect to run after commit
// rather than enqueuing work onto a background queue — the same
// cyclic dispatch-then-observe shape the worker pool uses when it
// transitions a task and only then talks to the queue.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/store"
)

// Dispatcher is the narrow slice of internal/dispatch.Dispatcher the driver
// needs, kept as an interface here so this package never imports dispatch
// (which in turn depends on registry/rpcfabric) and effects stay free to
// run after the transaction that produced them has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.Job, instance *model.Instance, tasks []*model.Task) error
}

// Publisher is the narrow slice of internal/events the driver accepts for
// announcing instance transitions to subscribers (operator dashboard,
// workflow waiters). NewDriver stores it, but no Driver operation calls it.
type Publisher interface {
	PublishInstanceEvent(ctx context.Context, eventType, state string, instanceID int64)
}

// NotifyWorker is a post-commit callback an API handler supplies so the
// driver can reach a worker over RPC without importing rpcfabric itself —
// the handler owns the RPC client, the driver only ever gets told which
// workerServer/taskID pair to notify and with what verb.
type NotifyWorker func(ctx context.Context, workerServer string, taskID int64)

// Effect is a side effect to run once the transaction that produced it has
// committed: a dispatch call or a worker notification. Never a
// background-queue enqueue — the operation that created it already knows
// exactly what must happen next.
type Effect func(ctx context.Context)

type Driver struct {
	store      *store.Store
	intern     *InternTable
	dispatcher Dispatcher
	publisher  Publisher
	registry   registry.Registry
}

func NewDriver(st *store.Store, dispatcher Dispatcher, publisher Publisher, reg registry.Registry) *Driver {
	return &Driver{
		store:      st,
		intern:     NewInternTable(),
		dispatcher: dispatcher,
		publisher:  publisher,
		registry:   reg,
	}
}

// withInstanceLock runs fn holding both halves of the dual guard for
// lockKey: the process-local mutex first (cheap, avoids opening a
// transaction just to block on a DB lock already held by a goroutine in
// this same process), then the DB row lock for the duration of fn's
// transaction.
func (d *Driver) withInstanceLock(ctx context.Context, lockKey int64, fn func(tx pgx.Tx) ([]Effect, error)) ([]Effect, error) {
	unlock := d.intern.Lock(lockKey)
	defer unlock()

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// Row-lock the serializing instance. For a brand new instance (Trigger)
	// there is nothing to lock yet; Trigger takes the job row instead.
	if lockKey != 0 {
		if _, err := d.store.Instances.LockRoot(ctx, tx, lockKey); err != nil {
			return nil, fmt.Errorf("lock instance %d: %w", lockKey, err)
		}
	}

	effects, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	committed = true

	return effects, nil
}

// run executes effects synchronously in the caller's goroutine — they are
// fast (a dispatch RPC is itself async/retried, a cascade Trigger is just
// another Driver call) and the caller (an RPC handler, a scanner tick)
// already runs off the request/tick goroutine.
func run(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		e(ctx)
	}
}

// Trigger creates a new instance (and its tasks, for a non-workflow job —
// a workflow job creates only its root node's instance; see workflow.go)
// honoring the job's collision strategy, then returns an Effect that
// dispatches the instance's tasks.
func (d *Driver) Trigger(ctx context.Context, jobID int64, runType model.RunType) (*model.Instance, error) {
	var created *model.Instance

	effects, err := d.withInstanceLock(ctx, 0, func(tx pgx.Tx) ([]Effect, error) {
		job, err := d.store.Jobs.GetByIDTx(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State != model.JobEnabled && runType == model.RunTypeSchedule {
			return nil, ErrJobDisabled
		}

		prior, err := d.store.Instances.NonTerminalByJob(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			switch job.CollisionStrategy {
			case model.CollisionDiscard:
				return nil, ErrCollision
			case model.CollisionSerial:
				return nil, ErrCollision
			case model.CollisionOverride:
				if _, err := d.cancelInstanceTasksTx(ctx, tx, prior, nil); err != nil {
					return nil, err
				}
			case model.CollisionConcurrent:
				// fall through, multiple concurrent instances allowed
			}
		}

		inst := &model.Instance{
			JobID:       jobID,
			RunType:     runType,
			RunState:    model.RunStateWaiting,
			TriggerTime: time.Now().UTC(),
		}
		inst, err = d.store.Instances.Create(ctx, tx, inst)
		if err != nil {
			return nil, err
		}
		created = inst
		metrics.RecordJobTriggered(job.Group, runType.String())

		if job.Type == model.JobTypeWorkflow {
			return d.startWorkflowTx(ctx, tx, job, inst)
		}

		tasks, err := d.createTasksTx(ctx, tx, job, inst)
		if err != nil {
			return nil, err
		}
		return []Effect{d.dispatchEffect(job, inst, tasks)}, nil
	})
	if err != nil {
		return nil, err
	}

	run(ctx, effects)
	return created, nil
}

// jobParam is the shape split() understands job.Param as: either a bare
// opaque string (one task gets the whole payload) or a JSON array, each
// element becoming one task's Param — the simplest sharding convention
// that needs nothing from the job row beyond Param itself.
func split(jobParam string) []string {
	var shards []string
	if err := json.Unmarshal([]byte(jobParam), &shards); err == nil && len(shards) > 0 {
		return shards
	}
	return []string{jobParam}
}

// createTasksTx materializes the Task rows for a freshly created instance.
// A JobTypeBroadcast job discovers its group's workers right now and
// creates one pinned task per worker — broadcast fan-out is a property of
// the job, decided once at trigger time, unlike RouteBroadcast (a
// RouteStrategy a normal job can still pick, re-resolved against current
// membership at dispatch time by internal/dispatch). Every other job
// splits jobParam into one task per shard.
func (d *Driver) createTasksTx(ctx context.Context, tx pgx.Tx, job *model.Job, inst *model.Instance) ([]*model.Task, error) {
	if job.Type == model.JobTypeBroadcast {
		servers, err := d.registry.DiscoveredServers(ctx, job.Group, model.RoleWorker)
		if err != nil {
			return nil, fmt.Errorf("discover workers for broadcast job %d: %w", job.ID, err)
		}
		tasks := make([]*model.Task, len(servers))
		for i, ep := range servers {
			tasks[i] = &model.Task{
				InstanceID:   inst.ID,
				TaskNo:       i,
				TaskCount:    len(servers),
				Param:        job.Param,
				PinnedWorker: ep.Address(),
			}
		}
		if len(tasks) == 0 {
			return nil, nil
		}
		if err := d.store.Tasks.CreateBatch(ctx, tx, tasks); err != nil {
			return nil, err
		}
		return tasks, nil
	}

	shards := split(job.Param)
	tasks := make([]*model.Task, len(shards))
	for i, param := range shards {
		tasks[i] = &model.Task{InstanceID: inst.ID, TaskNo: i, TaskCount: len(shards), Param: param}
	}
	if err := d.store.Tasks.CreateBatch(ctx, tx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (d *Driver) dispatchEffect(job *model.Job, inst *model.Instance, tasks []*model.Task) Effect {
	return func(ctx context.Context) {
		if err := d.dispatcher.Dispatch(ctx, job, inst, tasks); err != nil {
			logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("dispatch failed")
		}
	}
}

// Pause stops new dispatch for an instance without preempting work already
// in flight: every WAITING task is CASed straight to PAUSED, and every
// EXECUTING task whose worker is currently alive gets an out-of-band pause
// RPC via notifyWorker. The instance itself is left RUNNING — DeriveRunState
// only folds it to PAUSED once every task has actually reached a non-live
// state, i.e. once the alive workers have acked (or finished on their own).
func (d *Driver) Pause(ctx context.Context, instanceID int64, notifyWorker NotifyWorker) error {
	effects, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.RunState.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		job, err := d.store.Jobs.GetByIDTx(ctx, tx, inst.JobID)
		if err != nil {
			return nil, err
		}
		tasks, err := d.store.Tasks.ByInstance(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}

		var fx []Effect
		for _, t := range tasks {
			switch t.ExecuteState {
			case model.ExecuteWaiting:
				t.ExecuteState = model.ExecutePaused
				if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
					return nil, err
				}
			case model.ExecuteRunning:
				if t.WorkerServer == "" || notifyWorker == nil {
					continue
				}
				ep, err := model.ParseEndpoint(job.Group, model.RoleWorker, t.WorkerServer)
				if err != nil {
					continue
				}
				alive, err := d.registry.IsAlive(ctx, ep)
				if err != nil || !alive {
					continue
				}
				workerServer, taskID := t.WorkerServer, t.ID
				fx = append(fx, func(ctx context.Context) { notifyWorker(ctx, workerServer, taskID) })
			}
		}

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

// Resume reverses Pause: every PAUSED task goes back to WAITING and the
// instance goes back to WAITING, or to RUNNING while one of its tasks is
// still EXECUTING. A WAITING instance is redispatched by the waiting
// scanner once it has sat past that scanner's stale threshold.
func (d *Driver) Resume(ctx context.Context, instanceID int64) error {
	_, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.RunState != model.RunStatePaused {
			return nil, ErrInvalidTransition
		}
		tasks, err := d.store.Tasks.ByInstance(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.ExecuteState == model.ExecutePaused {
				t.ExecuteState = model.ExecuteWaiting
				if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
					return nil, err
				}
			}
		}
		state, _ := DeriveRunState(tasks)
		if state == model.RunStateRunning {
			state = model.RunStateWaiting
			for _, t := range tasks {
				if t.ExecuteState == model.ExecuteRunning {
					state = model.RunStateRunning
					break
				}
			}
		}
		inst.RunState = state
		return nil, d.store.Instances.UpdateRunState(ctx, tx, inst)
	})
	return err
}

// Cancel moves a non-terminal instance and all its non-terminal tasks to
// MANUAL_CANCELED; any task that was actually EXECUTING gets an
// out-of-band terminate RPC via notifyWorker.
func (d *Driver) Cancel(ctx context.Context, instanceID int64, notifyWorker NotifyWorker) error {
	effects, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.RunState.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		fx, err := d.cancelInstanceTasksTx(ctx, tx, inst, notifyWorker)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		inst.RunState = model.RunStateCanceled
		inst.RunEndTime = &now
		if err := d.store.Instances.UpdateRunState(ctx, tx, inst); err != nil {
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

func (d *Driver) cancelInstanceTasksTx(ctx context.Context, tx pgx.Tx, inst *model.Instance, notifyWorker NotifyWorker) ([]Effect, error) {
	tasks, err := d.store.Tasks.ByInstance(ctx, tx, inst.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var fx []Effect
	for _, t := range tasks {
		if t.ExecuteState.IsTerminal() {
			continue
		}
		workerServer := t.WorkerServer
		wasRunning := t.ExecuteState == model.ExecuteRunning
		t.ExecuteState = model.ExecuteManualCanceled
		t.ExecuteEndTime = &now
		if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
			return nil, err
		}
		if wasRunning && workerServer != "" && notifyWorker != nil {
			workerServer, taskID := workerServer, t.ID
			fx = append(fx, func(ctx context.Context) { notifyWorker(ctx, workerServer, taskID) })
		}
	}
	return fx, nil
}

// Delete removes a terminal instance and its tasks permanently. Non-
// terminal instances must be canceled first.
func (d *Driver) Delete(ctx context.Context, instanceID int64) error {
	_, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if !inst.RunState.IsTerminal() {
			return nil, ErrInvalidTransition
		}
		return nil, d.store.Instances.Delete(ctx, tx, instanceID)
	})
	return err
}

// Redispatch resurrects a waiting instance the waiting scanner found due —
// either a retry whose backoff has elapsed or a plain instance whose
// original dispatch Effect apparently never ran — by clearing its
// Attach["retryAt"] marker and re-running the dispatch Effect for its
// current (already-Waiting) tasks.
func (d *Driver) Redispatch(ctx context.Context, instanceID int64) error {
	effects, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		i, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if i.RunState != model.RunStateWaiting {
			return nil, nil // already advanced past waiting by a racing report
		}
		if i.Attach != nil {
			delete(i.Attach, "retryAt")
		}
		if err := d.store.Instances.UpdateRunState(ctx, tx, i); err != nil {
			return nil, err
		}

		job, err := d.store.Jobs.GetByIDTx(ctx, tx, i.JobID)
		if err != nil {
			return nil, err
		}
		tasks, err := d.store.Tasks.ByInstance(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		return []Effect{d.dispatchEffect(job, i, tasks)}, nil
	})
	if err != nil {
		return err
	}
	run(ctx, effects)
	return nil
}

// Reconcile re-derives an instance's run state from its tasks without any
// task having just changed — the running scanner's safety-net sub-case for
// an instance whose tasks are all already terminal but which never got
// finalized (e.g. the supervisor crashed between the last task's
// UpdateExecution and its recompute).
func (d *Driver) Reconcile(ctx context.Context, instanceID int64) error {
	effects, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
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

// Purge implements the running scanner's zombie sub-case: an instance
// stuck WAITING/RUNNING with no WAITING tasks and no alive EXECUTING task.
// Every remaining non-terminal task (a PAUSED one, or one still marked
// EXECUTING against a worker the scanner has already established is dead)
// is timed out as EXECUTE_TIMEOUT, the instance's run state is then
// derived from that as usual, and — since a purge must never leave an
// instance recoverable — derivation landing on PAUSED is forced to
// CANCELED and the normal retry/workflow/dependency cascade runs off it.
func (d *Driver) Purge(ctx context.Context, instanceID int64) error {
	effects, err := d.withInstanceLock(ctx, instanceID, func(tx pgx.Tx) ([]Effect, error) {
		inst, err := d.store.Instances.LockRoot(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.RunState != model.RunStateWaiting && inst.RunState != model.RunStateRunning {
			return nil, ErrInvalidTransition
		}

		tasks, err := d.store.Tasks.ByInstance(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, t := range tasks {
			if t.ExecuteState.IsTerminal() {
				continue
			}
			t.ExecuteState = model.ExecuteTimeout
			t.ExecuteEndTime = &now
			if err := d.store.Tasks.UpdateExecution(ctx, tx, t); err != nil {
				return nil, err
			}
		}

		var fx []Effect
		if err := d.recomputeInstanceTx(ctx, tx, instanceID, &fx); err != nil {
			return nil, err
		}

		refreshed, err := d.store.Instances.GetByIDTx(ctx, tx, instanceID)
		if err != nil {
			return nil, err
		}
		if refreshed.RunState != model.RunStatePaused {
			return fx, nil
		}

		refreshed.RunState = model.RunStateCanceled
		refreshed.RunEndTime = &now
		if err := d.store.Instances.UpdateRunState(ctx, tx, refreshed); err != nil {
			return nil, err
		}
		job, err := d.store.Jobs.GetByIDTx(ctx, tx, refreshed.JobID)
		if err != nil {
			return nil, err
		}
		if retryFx, err := d.planRetryTx(ctx, tx, job, refreshed); err != nil {
			return nil, err
		} else if retryFx != nil {
			fx = append(fx, retryFx)
		} else if refreshed.WnstanceID != 0 {
			wfFx, err := d.advanceWorkflowTx(ctx, tx, job, refreshed, model.RunStateCanceled)
			if err != nil {
				return nil, err
			}
			fx = append(fx, wfFx...)
		} else if depFx, err := d.cascadeDependsTx(ctx, tx, job, refreshed); err != nil {
			return nil, err
		} else {
			fx = append(fx, depFx...)
		}
		return fx, nil
	})
	if err != nil {
		return err
	}
	run(ctx, effects)
	return nil
}

// VacuumTerminal deletes every terminal instance (and tasks, cascaded by
// FK) older than olderThan — an operator-facing maintenance sweep, not one
// of the three scanners and not the spec's PURGE operation (see Purge).
func (d *Driver) VacuumTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM instances
		WHERE run_state IN ($1,$2) AND updated_at < $3`,
		model.RunStateCompleted, model.RunStateCanceled, olderThan)
	if err != nil {
		return 0, fmt.Errorf("vacuum instances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit vacuum: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
