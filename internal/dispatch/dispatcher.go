// Package dispatch resolves a job's route strategy against the current
// registry membership and invokes each task's assigned worker, bookkeeping
// dispatchFailedCount on the task rows (worker_server is written only by the
// driver's ReportOutcome, never here). It is the
// concrete type package statemachine's Dispatcher interface is satisfied
// by; statemachine never imports this package.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
)

const receiveMethod = "/worker/rpc/receive"

// receiveRequest is the wire payload handed to a worker's receive endpoint;
// internal/api's worker handler decodes the same shape.
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

type Dispatcher struct {
	store      *store.Store
	registry   registry.Registry
	router     *Router
	rpc        *rpcfabric.Destination
	driver     *statemachine.Driver
	maxFailure int
}

func NewDispatcher(st *store.Store, reg registry.Registry, router *Router, rpc *rpcfabric.Destination) *Dispatcher {
	return &Dispatcher{store: st, registry: reg, router: router, rpc: rpc, maxFailure: 3}
}

// SetDriver wires the statemachine.Driver this Dispatcher reports exhausted
// dispatch failures to. It is assigned after construction because Driver
// itself is constructed with this Dispatcher as its Dispatcher dependency —
// see cmd/supervisor/main.go for the two-step wiring.
func (d *Dispatcher) SetDriver(driver *statemachine.Driver) {
	d.driver = driver
}

// Dispatch assigns each task a worker and invokes it. Broadcast jobs send
// every task to its own pinned worker (one task per currently discovered
// worker, decided here rather than at instance-creation time); every other
// route strategy selects a single worker for the job's one task.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.Job, instance *model.Instance, tasks []*model.Task) error {
	servers, err := d.registry.DiscoveredServers(ctx, job.Group, model.RoleWorker)
	if err != nil {
		return fmt.Errorf("discover workers for group %q: %w", job.Group, err)
	}
	metrics.SetRegisteredServers(job.Group, model.RoleWorker.String(), float64(len(servers)))
	if len(servers) == 0 {
		metrics.RecordDispatchFailure(job.Group)
		return d.markDispatchFailed(ctx, tasks, "no workers discovered")
	}

	if job.RouteStrategy == model.RouteBroadcast {
		return d.dispatchBroadcast(ctx, job, instance, tasks, servers)
	}

	if len(tasks) != 1 {
		return fmt.Errorf("dispatch: route %s expects exactly one task, got %d", job.RouteStrategy, len(tasks))
	}
	ep, ok := d.router.Select(job.RouteStrategy, job.Group, servers, job.ID)
	if !ok {
		return d.markDispatchFailed(ctx, tasks, "router found no eligible worker")
	}
	return d.send(ctx, job, instance, tasks[0], ep)
}

// dispatchBroadcast re-splits tasks 1:1 against the currently discovered
// worker set rather than trusting TaskCount at creation time — membership
// may have changed since createTasksTx ran.
func (d *Dispatcher) dispatchBroadcast(ctx context.Context, job *model.Job, instance *model.Instance, tasks []*model.Task, servers []model.ServerEndpoint) error {
	targets := d.router.SelectAll(servers)
	var firstErr error
	for i, ep := range targets {
		var t *model.Task
		if i < len(tasks) {
			t = tasks[i]
		} else {
			// more workers than pre-created tasks: split lazily.
			created, err := d.createExtraTask(ctx, instance.ID, i, len(targets))
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			t = created
		}
		if err := d.send(ctx, job, instance, t, ep); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) createExtraTask(ctx context.Context, instanceID int64, taskNo, taskCount int) (*model.Task, error) {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := &model.Task{InstanceID: instanceID, TaskNo: taskNo, TaskCount: taskCount}
	if err := d.store.Tasks.CreateBatch(ctx, tx, []*model.Task{t}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Dispatcher) send(ctx context.Context, job *model.Job, instance *model.Instance, t *model.Task, ep model.ServerEndpoint) error {
	req := receiveRequest{
		TaskID: t.ID, InstanceID: instance.ID, JobID: job.ID,
		Group: job.Group, Handler: job.Handler, Param: job.Param,
		TaskNo: t.TaskNo, TaskCount: t.TaskCount,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal receive request: %w", err)
	}

	start := time.Now()
	_, err = d.rpc.Invoke(ctx, ep.Address(), receiveMethod, body)
	metrics.RecordDispatch(job.RouteStrategy.String(), time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Int64("task_id", t.ID).Str("worker", ep.Address()).Msg("dispatch: worker rejected task")
		metrics.RecordDispatchFailure(job.Group)
		return d.markDispatchFailed(ctx, []*model.Task{t}, err.Error())
	}
	return nil
}

// markDispatchFailed bumps dispatch_failed_count for every task; once a
// task has exhausted maxFailure dispatch attempts it is reported to the
// driver as ExecuteFailed so the usual recompute/retry/cascade path runs,
// rather than writing the terminal state directly and bypassing it.
func (d *Dispatcher) markDispatchFailed(ctx context.Context, tasks []*model.Task, reason string) error {
	exhausted := make([]int64, 0, len(tasks))
	if err := func() error {
		tx, err := d.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, t := range tasks {
			if err := d.store.Tasks.IncrementDispatchFailure(ctx, tx, t.ID); err != nil {
				return err
			}
			if t.DispatchFailedCount+1 >= d.maxFailure {
				exhausted = append(exhausted, t.ID)
			}
		}
		return tx.Commit(ctx)
	}(); err != nil {
		return err
	}

	if d.driver == nil {
		return nil
	}
	var firstErr error
	for _, taskID := range exhausted {
		if err := d.driver.ReportOutcome(ctx, taskID, "", model.ExecuteFailed, "", reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
