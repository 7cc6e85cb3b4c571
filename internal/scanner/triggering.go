package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
	"github.com/maumercado/task-queue-go/internal/trigger"
)

// TriggeringScanner fires every enabled job whose next_trigger_time has
// passed, then advances it to its next fire time, per spec.md §4.3's
// default 3s sweep.
type TriggeringScanner struct {
	store        *store.Store
	driver       *statemachine.Driver
	lock         *clusterLock
	interval     time.Duration
	batchSize    int
	stopCh       chan struct{}
}

func NewTriggeringScanner(st *store.Store, driver *statemachine.Driver, redisClient *redis.Client, interval time.Duration, batchSize int) *TriggeringScanner {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &TriggeringScanner{
		store:     st,
		driver:    driver,
		lock:      newClusterLock(redisClient, "disjob:scanner:triggering:lock", interval*2),
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *TriggeringScanner) Stop() { close(s.stopCh) }

func (s *TriggeringScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TriggeringScanner) sweep(ctx context.Context) {
	if !s.lock.tryAcquire(ctx) {
		return
	}
	defer s.lock.release(ctx)

	due, err := s.claimDueJobs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("triggering scanner: failed to claim due jobs")
		return
	}
	metrics.RecordScannerSweep("triggering", len(due))
	if len(due) == 0 {
		return
	}

	logger.Debug().Int("count", len(due)).Msg("triggering scanner: firing due jobs")
	for _, jobID := range due {
		if _, err := s.driver.Trigger(ctx, jobID, model.RunTypeSchedule); err != nil && !errors.Is(err, statemachine.ErrCollision) {
			logger.Error().Err(err).Int64("job_id", jobID).Msg("triggering scanner: trigger failed")
		}
	}
}

// claimDueJobs locks and advances every due job's next_trigger_time in one
// transaction, then releases the lock — Trigger itself runs in its own
// transaction once the job IDs are known, so this scanner never holds the
// job row lock across an instance-creation round trip.
func (s *TriggeringScanner) claimDueJobs(ctx context.Context) ([]int64, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := s.store.Jobs.DueForTrigger(ctx, tx, s.batchSize)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		next, err := trigger.Next(job, time.Now().UTC())
		var nextPtr *time.Time
		if err == nil {
			nextPtr = &next
		} else if !errors.Is(err, trigger.ErrExhausted) {
			logger.Error().Err(err).Int64("job_id", job.ID).Msg("triggering scanner: failed to compute next fire time")
		}
		if err := s.store.Jobs.AdvanceTrigger(ctx, tx, job.ID, nextPtr); err != nil {
			return nil, err
		}
		ids = append(ids, job.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}
