package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maumercado/task-queue-go/internal/model"
)

type DependStore struct {
	pool *pgxpool.Pool
}

// ChildrenOf returns the dependency edges of jobs that should be triggered
// once parentJobID's instance reaches FINISHED (dependency cascade); each
// edge's Sequence offsets the child's triggerTime to dodge the
// (jobId, triggerTime, runType) uniqueness key.
func (s *DependStore) ChildrenOf(ctx context.Context, tx pgx.Tx, parentJobID int64) ([]model.DependEdge, error) {
	rows, err := tx.Query(ctx, `SELECT parent_job_id, child_job_id, sequence FROM job_depends WHERE parent_job_id = $1`, parentJobID)
	if err != nil {
		return nil, fmt.Errorf("query depend children: %w", err)
	}
	defer rows.Close()

	var out []model.DependEdge
	for rows.Next() {
		var e model.DependEdge
		if err := rows.Scan(&e.ParentJobID, &e.ChildJobID, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan depend child: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DependStore) Add(ctx context.Context, e model.DependEdge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_depends (parent_job_id, child_job_id, sequence) VALUES ($1,$2,$3)
		ON CONFLICT (parent_job_id, child_job_id) DO UPDATE SET sequence = EXCLUDED.sequence`,
		e.ParentJobID, e.ChildJobID, e.Sequence)
	return err
}

func (s *DependStore) Remove(ctx context.Context, e model.DependEdge) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM job_depends WHERE parent_job_id = $1 AND child_job_id = $2`,
		e.ParentJobID, e.ChildJobID)
	return err
}
