package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maumercado/task-queue-go/internal/model"
)

type JobStore struct {
	pool *pgxpool.Pool
}

const jobColumns = `id, "group", name, type, state, trigger_type, trigger_value,
	route_strategy, retry_type, retry_count, retry_interval, collision_strategy,
	execute_timeout, handler, param, next_trigger_time, last_trigger_time,
	created_at, updated_at`

func (s *JobStore) Create(ctx context.Context, j *model.Job) (*model.Job, error) {
	query := `INSERT INTO jobs (
			"group", name, type, state, trigger_type, trigger_value,
			route_strategy, retry_type, retry_count, retry_interval, collision_strategy,
			execute_timeout, handler, param, next_trigger_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING ` + jobColumns

	row := s.pool.QueryRow(ctx, query,
		j.Group, j.Name, j.Type, j.State, j.TriggerType, j.TriggerValue,
		j.RouteStrategy, j.RetryType, j.RetryCount, j.RetryInterval, j.CollisionStrategy,
		j.ExecuteTimeout, j.Handler, j.Param, j.NextTriggerTime,
	)
	return scanJob(row)
}

func (s *JobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetByIDTx reads a job's row inside the caller's transaction, without
// locking it — used by operations that only need the job's config, not to
// serialize against concurrent job-definition edits.
func (s *JobStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*model.Job, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// DueForTrigger returns enabled jobs whose next_trigger_time has passed,
// locking each row FOR UPDATE SKIP LOCKED so multiple supervisor instances
// never double-fire the same job even without the cluster-wide scanner
// lock held for the whole sweep.
func (s *JobStore) DueForTrigger(ctx context.Context, tx pgx.Tx, limit int) ([]*model.Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = $1 AND next_trigger_time IS NOT NULL AND next_trigger_time <= now()
		ORDER BY next_trigger_time ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, model.JobEnabled, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AdvanceTrigger records that a job fired and sets its next scheduled fire
// time; a nil next disables further firing (e.g. a "once" trigger that has
// already run).
func (s *JobStore) AdvanceTrigger(ctx context.Context, q db, jobID int64, next *time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE jobs SET last_trigger_time = now(), next_trigger_time = $2, updated_at = now()
		WHERE id = $1`, jobID, next)
	return err
}

// SetNextTriggerTime stamps next_trigger_time directly against the pool,
// used outside a transaction by the enable endpoint when it recomputes a
// job's first fire time.
func (s *JobStore) SetNextTriggerTime(ctx context.Context, jobID int64, next *time.Time) error {
	return s.AdvanceTrigger(ctx, s.pool, jobID, next)
}

// List returns jobs ordered by id, optionally filtered to one group, for
// the admin job listing endpoint.
func (s *JobStore) List(ctx context.Context, group string, limit, offset int) ([]*model.Job, error) {
	var rows pgx.Rows
	var err error
	if group != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE "group" = $1 ORDER BY id LIMIT $2 OFFSET $3`, group, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Update rewrites a job's schedule and execution configuration in place,
// used by the admin edit endpoint. It does not touch next_trigger_time;
// callers that change TriggerType/TriggerValue should recompute and call
// AdvanceTrigger separately.
func (s *JobStore) Update(ctx context.Context, j *model.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET name = $2, trigger_type = $3, trigger_value = $4,
			route_strategy = $5, retry_type = $6, retry_count = $7, retry_interval = $8,
			collision_strategy = $9, execute_timeout = $10, handler = $11, param = $12,
			updated_at = now()
		WHERE id = $1`,
		j.ID, j.Name, j.TriggerType, j.TriggerValue,
		j.RouteStrategy, j.RetryType, j.RetryCount, j.RetryInterval,
		j.CollisionStrategy, j.ExecuteTimeout, j.Handler, j.Param)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *JobStore) SetState(ctx context.Context, id int64, state model.JobState) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET state = $2, updated_at = now() WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("set job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.Group, &j.Name, &j.Type, &j.State, &j.TriggerType, &j.TriggerValue,
		&j.RouteStrategy, &j.RetryType, &j.RetryCount, &j.RetryInterval, &j.CollisionStrategy,
		&j.ExecuteTimeout, &j.Handler, &j.Param, &j.NextTriggerTime, &j.LastTriggerTime,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
