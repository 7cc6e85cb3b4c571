package scanner

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
)

// WaitingScanner resurrects instances stuck in RunStateWaiting: a retry
// whose Attach["retryAt"] backoff has elapsed, or an instance whose
// original dispatch Effect apparently never ran (supervisor crash between
// commit and Effect execution). Default sweep matches the triggering
// scanner's cadence.
type WaitingScanner struct {
	store     *store.Store
	driver    *statemachine.Driver
	lock      *clusterLock
	interval  time.Duration
	staleFor  int64
	batchSize int
	stopCh    chan struct{}
}

func NewWaitingScanner(st *store.Store, driver *statemachine.Driver, redisClient *redis.Client, interval time.Duration, staleFor int64, batchSize int) *WaitingScanner {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if staleFor <= 0 {
		staleFor = 30
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WaitingScanner{
		store:     st,
		driver:    driver,
		lock:      newClusterLock(redisClient, "disjob:scanner:waiting:lock", interval*2),
		interval:  interval,
		staleFor:  staleFor,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *WaitingScanner) Stop() { close(s.stopCh) }

func (s *WaitingScanner) Run(ctx context.Context) {
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

func (s *WaitingScanner) sweep(ctx context.Context) {
	if !s.lock.tryAcquire(ctx) {
		return
	}
	defer s.lock.release(ctx)

	due, err := s.store.Instances.DueWaiting(ctx, s.staleFor, s.batchSize)
	if err != nil {
		logger.Error().Err(err).Msg("waiting scanner: failed to query due instances")
		return
	}
	metrics.RecordScannerSweep("waiting", len(due))
	if len(due) == 0 {
		return
	}

	logger.Debug().Int("count", len(due)).Msg("waiting scanner: resurrecting due instances")
	for _, inst := range due {
		if err := s.driver.Redispatch(ctx, inst.ID); err != nil {
			logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("waiting scanner: redispatch failed")
		}
	}
}
