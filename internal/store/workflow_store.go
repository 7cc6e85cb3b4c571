package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maumercado/task-queue-go/internal/model"
)

type WorkflowStore struct {
	pool *pgxpool.Pool
}

const workflowEdgeColumns = `job_id, wnstance_id, pre_node, node, expression, state, instance_id`

// EdgesForJob returns the static DAG definition for a workflow job.
func (s *WorkflowStore) EdgesForJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]*model.WorkflowEdge, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+workflowEdgeColumns+`
		FROM workflow_edges WHERE job_id = $1 AND wnstance_id = 0`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query workflow definition: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// InstantiateRun copies the static DAG definition into per-run edges keyed
// by wnstanceID, each starting NodeWaiting, at the moment a workflow
// instance begins.
func (s *WorkflowStore) InstantiateRun(ctx context.Context, tx pgx.Tx, jobID, wnstanceID int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO workflow_edges (job_id, wnstance_id, pre_node, node, expression, state, instance_id)
		SELECT job_id, $2, pre_node, node, expression, $3, 0
		FROM workflow_edges WHERE job_id = $1 AND wnstance_id = 0`,
		jobID, wnstanceID, model.NodeWaiting)
	return err
}

// RunEdges returns the live per-run edges for a workflow instance.
func (s *WorkflowStore) RunEdges(ctx context.Context, tx pgx.Tx, wnstanceID int64) ([]*model.WorkflowEdge, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+workflowEdgeColumns+`
		FROM workflow_edges WHERE wnstance_id = $1`, wnstanceID)
	if err != nil {
		return nil, fmt.Errorf("query run edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *WorkflowStore) SetNodeState(ctx context.Context, tx pgx.Tx, wnstanceID int64, node string, state model.WorkflowNodeState) error {
	_, err := tx.Exec(ctx, `
		UPDATE workflow_edges SET state = $3 WHERE wnstance_id = $1 AND node = $2`,
		wnstanceID, node, state)
	return err
}

// SetNodeInstance binds a node's edge to the instance currently executing
// it. Used both when a node instance is first created and by the retry
// cascade, which CASes the edge's instanceId from the failed instance to
// the fresh retry instance.
func (s *WorkflowStore) SetNodeInstance(ctx context.Context, tx pgx.Tx, wnstanceID int64, node string, instanceID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE workflow_edges SET instance_id = $3 WHERE wnstance_id = $1 AND node = $2`,
		wnstanceID, node, instanceID)
	return err
}

func scanEdges(rows pgx.Rows) ([]*model.WorkflowEdge, error) {
	var out []*model.WorkflowEdge
	for rows.Next() {
		var e model.WorkflowEdge
		if err := rows.Scan(&e.JobID, &e.WnstanceID, &e.PreNode, &e.Node, &e.Expression, &e.State, &e.InstanceID); err != nil {
			return nil, fmt.Errorf("scan workflow edge: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
