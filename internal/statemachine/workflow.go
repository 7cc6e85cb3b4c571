package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
)

// startWorkflowTx begins a workflow run: it stamps root as its own
// WnstanceID, copies the job's static DAG definition into per-run edges,
// and creates + dispatches one node instance per start node (edges whose
// PreNode is the synthetic root marker "").
func (d *Driver) startWorkflowTx(ctx context.Context, tx pgx.Tx, job *model.Job, root *model.Instance) ([]Effect, error) {
	if err := d.store.Instances.SetWnstanceID(ctx, tx, root.ID); err != nil {
		return nil, err
	}
	root.WnstanceID = root.ID

	if err := d.store.Workflows.InstantiateRun(ctx, tx, job.ID, root.ID); err != nil {
		return nil, err
	}
	edges, err := d.store.Workflows.RunEdges(ctx, tx, root.ID)
	if err != nil {
		return nil, err
	}

	root.RunState = model.RunStateRunning
	if err := d.store.Instances.UpdateRunState(ctx, tx, root); err != nil {
		return nil, err
	}

	var effects []Effect
	started := map[string]bool{}
	for _, e := range edges {
		if e.PreNode != "" || started[e.Node] {
			continue
		}
		started[e.Node] = true
		fx, err := d.startNodeTx(ctx, tx, job, root, e.Node)
		if err != nil {
			return nil, err
		}
		effects = append(effects, fx...)
	}
	return effects, nil
}

// startNodeTx creates and dispatches the node instance for a single DAG
// node, chaining it onto the run's root via RnstanceID/PnstanceID and
// binding the node's per-run edge to it, then marks the edge NodeRunning.
func (d *Driver) startNodeTx(ctx context.Context, tx pgx.Tx, job *model.Job, root *model.Instance, node string) ([]Effect, error) {
	nodeInst := &model.Instance{
		JobID:       job.ID,
		RnstanceID:  root.RnstanceID,
		PnstanceID:  root.ID,
		WnstanceID:  root.ID,
		RunType:     root.RunType,
		RunState:    model.RunStateWaiting,
		TriggerTime: root.TriggerTime,
	}
	nodeInst.SetCurNode(node)
	nodeInst, err := d.store.Instances.Create(ctx, tx, nodeInst)
	if err != nil {
		return nil, fmt.Errorf("create node instance %q: %w", node, err)
	}
	if err := d.store.Workflows.SetNodeInstance(ctx, tx, root.ID, node, nodeInst.ID); err != nil {
		return nil, err
	}

	tasks, err := d.createTasksTx(ctx, tx, job, nodeInst)
	if err != nil {
		return nil, err
	}
	if err := d.store.Workflows.SetNodeState(ctx, tx, root.ID, node, model.NodeRunning); err != nil {
		return nil, err
	}

	nodeInst.RunState = model.RunStateRunning
	if err := d.store.Instances.UpdateRunState(ctx, tx, nodeInst); err != nil {
		return nil, err
	}

	return []Effect{d.dispatchEffect(job, nodeInst, tasks)}, nil
}

// advanceWorkflowTx is called when a node instance (inst.WnstanceID != 0,
// inst itself not the root) reaches a terminal run state. A completion
// starts any successor whose every predecessor has now completed; a
// failure or cancellation cancels only that node's downstream successors,
// leaving sibling branches that don't depend on it to keep running. Either
// way the root is finalized once every edge in the run has gone terminal,
// never before.
func (d *Driver) advanceWorkflowTx(ctx context.Context, tx pgx.Tx, job *model.Job, inst *model.Instance, outcome model.RunState) ([]Effect, error) {
	node := inst.CurNode()
	if node == "" {
		return nil, nil // the root instance itself has no node edge to advance
	}

	nodeState := model.NodeCompleted
	if outcome != model.RunStateCompleted {
		nodeState = model.NodeFailed
		if outcome == model.RunStateCanceled {
			nodeState = model.NodeCanceled
		}
	}
	if err := d.store.Workflows.SetNodeState(ctx, tx, inst.WnstanceID, node, nodeState); err != nil {
		return nil, err
	}

	edges, err := d.store.Workflows.RunEdges(ctx, tx, inst.WnstanceID)
	if err != nil {
		return nil, err
	}
	root, err := d.store.Instances.LockRoot(ctx, tx, inst.WnstanceID)
	if err != nil {
		return nil, err
	}

	var effects []Effect
	if nodeState != model.NodeCompleted {
		if err := d.cancelDownstreamTx(ctx, tx, root.ID, node, edges); err != nil {
			return nil, err
		}
		edges, err = d.store.Workflows.RunEdges(ctx, tx, inst.WnstanceID)
		if err != nil {
			return nil, err
		}
	} else {
		fx, err := d.startReadySuccessorsTx(ctx, tx, job, root, node, edges)
		if err != nil {
			return nil, err
		}
		effects = append(effects, fx...)
	}

	doneFx, err := d.finalizeRootIfDoneTx(ctx, tx, job, root, edges)
	if err != nil {
		return nil, err
	}
	return append(effects, doneFx...), nil
}

// cancelDownstreamTx marks NodeCanceled on every edge reachable from
// failedNode — its transitive successors only, not every non-terminal edge
// in the run — so sibling branches with no path from the failed node keep
// running to their own outcome.
func (d *Driver) cancelDownstreamTx(ctx context.Context, tx pgx.Tx, wnstanceID int64, failedNode string, edges []*model.WorkflowEdge) error {
	reachable := map[string]bool{failedNode: true}
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			if reachable[e.PreNode] && !reachable[e.Node] {
				reachable[e.Node] = true
				changed = true
			}
		}
	}
	delete(reachable, failedNode) // failedNode's own state was already set by the caller

	for _, e := range edges {
		if !reachable[e.Node] || e.State.IsTerminal() {
			continue
		}
		if err := d.store.Workflows.SetNodeState(ctx, tx, wnstanceID, e.Node, model.NodeCanceled); err != nil {
			return err
		}
	}
	return nil
}

// startReadySuccessorsTx starts every still-NodeWaiting node whose every
// predecessor (not just the one that just completed) is now NodeCompleted,
// so a node with more than one incoming edge waits for all of them.
func (d *Driver) startReadySuccessorsTx(ctx context.Context, tx pgx.Tx, job *model.Job, root *model.Instance, justCompleted string, edges []*model.WorkflowEdge) ([]Effect, error) {
	nodeDone := map[string]bool{justCompleted: true}
	for _, e := range edges {
		if e.State == model.NodeCompleted {
			nodeDone[e.Node] = true
		}
	}

	predsOf := map[string][]*model.WorkflowEdge{}
	for _, e := range edges {
		predsOf[e.Node] = append(predsOf[e.Node], e)
	}

	var effects []Effect
	for n, preds := range predsOf {
		if preds[0].State != model.NodeWaiting {
			continue
		}
		allDone := true
		for _, p := range preds {
			if !nodeDone[p.PreNode] {
				allDone = false
				break
			}
		}
		if !allDone {
			continue
		}
		fx, err := d.startNodeTx(ctx, tx, job, root, n)
		if err != nil {
			return nil, err
		}
		effects = append(effects, fx...)
	}
	return effects, nil
}

// finalizeRootIfDoneTx finalizes the workflow root once every edge in the
// run has reached a terminal node state, never before — a node still
// running anywhere in the DAG (including a sibling branch untouched by a
// failure elsewhere) keeps the root RUNNING. The final outcome is CANCELED
// if any edge ended NodeFailed/NodeCanceled, else COMPLETED, and a
// COMPLETED root runs the dependency cascade exactly like a plain job's
// instance would.
func (d *Driver) finalizeRootIfDoneTx(ctx context.Context, tx pgx.Tx, job *model.Job, root *model.Instance, edges []*model.WorkflowEdge) ([]Effect, error) {
	anyFailure := false
	for _, e := range edges {
		if !e.State.IsTerminal() {
			return nil, nil
		}
		if e.State == model.NodeFailed || e.State == model.NodeCanceled {
			anyFailure = true
		}
	}

	now := time.Now().UTC()
	root.RunState = model.RunStateCompleted
	if anyFailure {
		root.RunState = model.RunStateCanceled
	}
	root.RunEndTime = &now
	if err := d.store.Instances.UpdateRunState(ctx, tx, root); err != nil {
		return nil, err
	}
	metrics.RecordInstanceCompletion(job.Group, root.RunState.String(), root.RunEndTime.Sub(root.TriggerTime).Seconds())

	if root.RunState != model.RunStateCompleted {
		return nil, nil
	}
	return d.cascadeDependsTx(ctx, tx, job, root)
}
