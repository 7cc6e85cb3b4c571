package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maumercado/task-queue-go/internal/model"
)

type TaskStore struct {
	pool *pgxpool.Pool
}

const taskColumns = `id, instance_id, task_no, task_count, param, pinned_worker, worker_server, execute_state,
	execute_snapshot, execute_start_time, execute_end_time, error_msg,
	dispatch_failed_count, metadata, created_at, updated_at`

func (s *TaskStore) CreateBatch(ctx context.Context, tx pgx.Tx, tasks []*model.Task) error {
	for _, t := range tasks {
		row := tx.QueryRow(ctx, `
			INSERT INTO tasks (instance_id, task_no, task_count, param, pinned_worker, execute_state, metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING `+taskColumns,
			t.InstanceID, t.TaskNo, t.TaskCount, t.Param, t.PinnedWorker, model.ExecuteWaiting, t.Metadata)
		created, err := scanTask(row)
		if err != nil {
			return fmt.Errorf("create task %d/%d: %w", t.TaskNo, t.TaskCount, err)
		}
		*t = *created
	}
	return nil
}

func (s *TaskStore) ByInstance(ctx context.Context, q db, instanceID int64) ([]*model.Task, error) {
	rows, err := q.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE instance_id = $1 ORDER BY task_no`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ByInstanceNoTx is ByInstance run directly against the pool, for read-only
// callers outside a transaction (e.g. the instance tasks API endpoint).
func (s *TaskStore) ByInstanceNoTx(ctx context.Context, instanceID int64) ([]*model.Task, error) {
	return s.ByInstance(ctx, s.pool, instanceID)
}

func (s *TaskStore) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *TaskStore) IncrementDispatchFailure(ctx context.Context, tx pgx.Tx, taskID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET dispatch_failed_count = dispatch_failed_count + 1, updated_at = now()
		WHERE id = $1`, taskID)
	return err
}

// UpdateExecution applies a worker-reported state change (start, checkpoint,
// terminal outcome) to the task row. WorkerServer is included because this
// is the only write path that ever sets it: a task's worker is recorded
// here the moment ReportOutcome sees the worker's own startTask callback
// (the task transitioning WAITING -> EXECUTING), never by the dispatcher
// at send time.
func (s *TaskStore) UpdateExecution(ctx context.Context, tx pgx.Tx, t *model.Task) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET execute_state = $2, worker_server = $3, execute_snapshot = $4,
			execute_start_time = $5, execute_end_time = $6, error_msg = $7, updated_at = now()
		WHERE id = $1`,
		t.ID, t.ExecuteState, t.WorkerServer, t.ExecuteSnapshot, t.ExecuteStartTime, t.ExecuteEndTime, t.ErrorMsg)
	return err
}

// RunningPastHeartbeat finds tasks still EXECUTING whose worker has not
// checkpointed within staleFor — candidates the running scanner treats as
// abandoned by a dead worker.
func (s *TaskStore) RunningPastHeartbeat(ctx context.Context, staleFor int64, limit int) ([]*model.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE execute_state = $1 AND updated_at < now() - make_interval(secs => $2)
		ORDER BY updated_at ASC LIMIT $3`,
		model.ExecuteRunning, staleFor, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.InstanceID, &t.TaskNo, &t.TaskCount, &t.Param, &t.PinnedWorker, &t.WorkerServer, &t.ExecuteState,
		&t.ExecuteSnapshot, &t.ExecuteStartTime, &t.ExecuteEndTime, &t.ErrorMsg,
		&t.DispatchFailedCount, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}
