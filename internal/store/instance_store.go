package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maumercado/task-queue-go/internal/model"
)

type InstanceStore struct {
	pool *pgxpool.Pool
}

const instanceColumns = `id, job_id, rnstance_id, pnstance_id, wnstance_id, run_type, run_state, trigger_time,
	run_start_time, run_end_time, retried_count, attach, error_msg, created_at, updated_at`

// Create persists a new instance. If i.RnstanceID/i.PnstanceID are both zero
// this is the first instance of a fresh lineage (no prior RETRY/DEPEND
// ancestor) and both are stamped with the instance's own freshly assigned
// id, mirroring SetWnstanceID's self-stamp for workflow roots. Callers
// continuing a RETRY or DEPEND chain set RnstanceID/PnstanceID explicitly
// before calling Create so the chain invariant holds from insertion.
func (s *InstanceStore) Create(ctx context.Context, tx pgx.Tx, i *model.Instance) (*model.Instance, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO instances (
			job_id, rnstance_id, pnstance_id, wnstance_id, run_type, run_state, trigger_time, attach
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+instanceColumns,
		i.JobID, i.RnstanceID, i.PnstanceID, i.WnstanceID, i.RunType, i.RunState, i.TriggerTime, i.Attach)
	created, err := scanInstance(row)
	if err != nil {
		return nil, err
	}
	if created.RnstanceID == 0 {
		_, err := tx.Exec(ctx, `UPDATE instances SET rnstance_id = $1, pnstance_id = $1 WHERE id = $1`, created.ID)
		if err != nil {
			return nil, fmt.Errorf("self-stamp instance chain root: %w", err)
		}
		created.RnstanceID = created.ID
		created.PnstanceID = created.ID
	}
	return created, nil
}

func (s *InstanceStore) GetByID(ctx context.Context, id int64) (*model.Instance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)
	return scanInstance(row)
}

// LockRoot takes the row lock (SELECT ... FOR UPDATE) on instance lockKey,
// the database half of the per-instance dual guard; InternTable.Lock is the
// in-process half. The Driver passes an instance's own id here, also for a
// workflow node; the run's root row is locked by id (WnstanceID) in
// advanceWorkflowTx when a node finishes.
func (s *InstanceStore) LockRoot(ctx context.Context, tx pgx.Tx, lockKey int64) (*model.Instance, error) {
	row := tx.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1 FOR UPDATE`, lockKey)
	return scanInstance(row)
}

// NonTerminalByJob finds an existing non-terminal instance of jobID, used
// by the collision-strategy check inside TRIGGER before a new instance is
// created in the same transaction.
func (s *InstanceStore) NonTerminalByJob(ctx context.Context, tx pgx.Tx, jobID int64) (*model.Instance, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE job_id = $1 AND run_state NOT IN ($2,$3)
		ORDER BY created_at DESC LIMIT 1`,
		jobID, model.RunStateCompleted, model.RunStateCanceled)
	i, err := scanInstance(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return i, err
}

// DueWaiting finds instances the waiting scanner must resurrect: either a
// retry whose Attach["retryAt"] has passed, or a plain waiting instance
// that has sat with no task ever dispatched for longer than staleFor
// (its dispatch Effect likely never ran, e.g. the supervisor crashed
// between commit and running the Effect).
func (s *InstanceStore) DueWaiting(ctx context.Context, staleFor int64, limit int) ([]*model.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE run_state = $1 AND (
			(attach->>'retryAt' IS NOT NULL AND (attach->>'retryAt')::timestamptz <= now())
			OR (attach->>'retryAt' IS NULL AND updated_at < now() - make_interval(secs => $2))
		)
		ORDER BY updated_at ASC LIMIT $3`,
		model.RunStateWaiting, staleFor, limit)
	if err != nil {
		return nil, fmt.Errorf("query due waiting instances: %w", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// StaleRunning finds RUNNING instances the running scanner must sweep: ones
// whose tasks haven't been updated in at least staleFor, candidates for its
// three sub-cases (re-dispatch dead-worker waiting tasks, finalize
// all-terminal, or purge a zombie with no alive executing task).
func (s *InstanceStore) StaleRunning(ctx context.Context, staleFor int64, limit int) ([]*model.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM instances
		WHERE run_state = $1 AND updated_at < now() - make_interval(secs => $2)
		ORDER BY updated_at ASC LIMIT $3`,
		model.RunStateRunning, staleFor, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale running instances: %w", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *InstanceStore) UpdateRunState(ctx context.Context, tx pgx.Tx, i *model.Instance) error {
	_, err := tx.Exec(ctx, `
		UPDATE instances SET run_state = $2, run_start_time = $3, run_end_time = $4,
			retried_count = $5, attach = $6, error_msg = $7, updated_at = now()
		WHERE id = $1`,
		i.ID, i.RunState, i.RunStartTime, i.RunEndTime, i.RetriedCount, i.Attach, i.ErrorMsg)
	return err
}

// GetByIDTx reads an instance inside the caller's transaction without
// taking a row lock — used for lookups that must see the transaction's own
// writes but don't need to serialize against other writers.
func (s *InstanceStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*model.Instance, error) {
	row := tx.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)
	return scanInstance(row)
}

// SetWnstanceID stamps a freshly created workflow root instance with its
// own id as its WnstanceID, making LockKey() and every workflow query key
// off the root from then on.
func (s *InstanceStore) SetWnstanceID(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `UPDATE instances SET wnstance_id = $1, updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *InstanceStore) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	return err
}

// WorkflowNodes returns every instance belonging to workflow run wnstanceID.
func (s *InstanceStore) WorkflowNodes(ctx context.Context, tx pgx.Tx, wnstanceID int64) ([]*model.Instance, error) {
	rows, err := tx.Query(ctx, `SELECT `+instanceColumns+` FROM instances WHERE wnstance_id = $1`, wnstanceID)
	if err != nil {
		return nil, fmt.Errorf("query workflow nodes: %w", err)
	}
	defer rows.Close()

	var out []*model.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanInstance(row rowScanner) (*model.Instance, error) {
	var i model.Instance
	err := row.Scan(
		&i.ID, &i.JobID, &i.RnstanceID, &i.PnstanceID, &i.WnstanceID, &i.RunType, &i.RunState, &i.TriggerTime,
		&i.RunStartTime, &i.RunEndTime, &i.RetriedCount, &i.Attach, &i.ErrorMsg,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return &i, nil
}
