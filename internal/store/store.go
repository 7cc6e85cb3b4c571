// Package store persists jobs, instances, tasks and workflow/dependency
// edges in Postgres via pgx. Every mutating method that participates in the
// state machine's transactional operations takes a pgx.Tx so the caller
// (package statemachine) controls commit/rollback boundaries; read-only
// helpers may run directly against the pool.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows, letting scan
// helpers serve single-row and multi-row queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

// db is satisfied by *pgxpool.Pool and pgx.Tx, letting repository methods
// run inside an explicit transaction (driven by package statemachine) or
// directly against the pool for read-only lookups.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the per-entity repositories behind a single handle, the way
// a supervisor process wires them once at startup.
type Store struct {
	Jobs      *JobStore
	Instances *InstanceStore
	Tasks     *TaskStore
	Workflows *WorkflowStore
	Depends   *DependStore
	pool      *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Jobs:      &JobStore{pool: pool},
		Instances: &InstanceStore{pool: pool},
		Tasks:     &TaskStore{pool: pool},
		Workflows: &WorkflowStore{pool: pool},
		Depends:   &DependStore{pool: pool},
		pool:      pool,
	}
}

// BeginTx starts a transaction the caller drives to Commit or Rollback.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// Ping verifies the pool can still reach Postgres, used by the admin health
// endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
