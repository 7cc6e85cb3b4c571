package scanner

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/statemachine"
	"github.com/maumercado/task-queue-go/internal/store"
)

// RunningScanner periodically re-examines instances stuck in RUNNING
// past staleFor and settles each into exactly one of three outcomes: a
// broadcast shard still WAITING on a worker that has since died is aborted
// in place; an instance whose tasks have all quietly gone terminal (e.g. the
// supervisor crashed between a task's last UpdateExecution and its recompute)
// is reconciled; everything else, once no EXECUTING task is left pointing at
// a live worker, is purged — the same stale-task recovery role the teacher's
// periodic sweep plays, but settled through the driver's transactional
// operations rather than a direct status flip.
type RunningScanner struct {
	store     *store.Store
	driver    *statemachine.Driver
	registry  registry.Registry
	lock      *clusterLock
	interval  time.Duration
	staleFor  int64
	batchSize int
	stopCh    chan struct{}
}

func NewRunningScanner(st *store.Store, driver *statemachine.Driver, reg registry.Registry, redisClient *redis.Client, interval time.Duration, staleFor int64, batchSize int) *RunningScanner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if staleFor <= 0 {
		staleFor = 60
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RunningScanner{
		store:     st,
		driver:    driver,
		registry:  reg,
		lock:      newClusterLock(redisClient, "disjob:scanner:running:lock", interval*2),
		interval:  interval,
		staleFor:  staleFor,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

func (s *RunningScanner) Stop() { close(s.stopCh) }

func (s *RunningScanner) Run(ctx context.Context) {
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

func (s *RunningScanner) sweep(ctx context.Context) {
	if !s.lock.tryAcquire(ctx) {
		return
	}
	defer s.lock.release(ctx)

	stale, err := s.store.Instances.StaleRunning(ctx, s.staleFor, s.batchSize)
	if err != nil {
		logger.Error().Err(err).Msg("running scanner: failed to query stale instances")
		return
	}
	metrics.RecordScannerSweep("running", len(stale))

	for _, inst := range stale {
		s.sweepInstance(ctx, inst)
	}
}

func (s *RunningScanner) sweepInstance(ctx context.Context, inst *model.Instance) {
	job, err := s.store.Jobs.GetByID(ctx, inst.JobID)
	if err != nil {
		logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("running scanner: failed to load job")
		return
	}
	tasks, err := s.store.Tasks.ByInstanceNoTx(ctx, inst.ID)
	if err != nil {
		logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("running scanner: failed to load tasks")
		return
	}

	allTerminal := true
	anyAliveExecuting := false
	for _, t := range tasks {
		if !t.ExecuteState.IsTerminal() {
			allTerminal = false
		}

		switch t.ExecuteState {
		case model.ExecuteWaiting:
			// sub-case (a): a broadcast shard stuck WAITING with no live
			// pinned worker left to ever dispatch it to.
			if t.PinnedWorker == "" {
				continue
			}
			if s.workerAlive(ctx, job.Group, t.PinnedWorker) {
				continue
			}
			if err := s.driver.ReportOutcome(ctx, t.ID, t.PinnedWorker, model.ExecuteBroadcastAborted, "", "pinned worker is no longer alive"); err != nil {
				logger.Error().Err(err).Int64("task_id", t.ID).Msg("running scanner: failed to abort orphaned broadcast shard")
			}
		case model.ExecuteRunning:
			if t.WorkerServer != "" && s.workerAlive(ctx, job.Group, t.WorkerServer) {
				anyAliveExecuting = true
			}
		}
	}

	switch {
	case allTerminal:
		// sub-case (b): every task already terminal, the instance just never
		// got folded into a final run state.
		if err := s.driver.Reconcile(ctx, inst.ID); err != nil {
			logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("running scanner: reconcile failed")
		}
	case !anyAliveExecuting:
		// sub-case (c): nothing left running anywhere alive, nothing more to
		// wait for.
		if err := s.driver.Purge(ctx, inst.ID); err != nil {
			logger.Error().Err(err).Int64("instance_id", inst.ID).Msg("running scanner: purge failed")
		}
	}
}

func (s *RunningScanner) workerAlive(ctx context.Context, group, addr string) bool {
	ep, err := model.ParseEndpoint(group, model.RoleWorker, addr)
	if err != nil {
		return false
	}
	alive, err := s.registry.IsAlive(ctx, ep)
	if err != nil {
		return false
	}
	return alive
}
