package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/model"
	"github.com/maumercado/task-queue-go/internal/registry"
	"github.com/maumercado/task-queue-go/internal/rpcfabric"
	"github.com/maumercado/task-queue-go/internal/timingwheel"
)

// State represents the worker pool's current operational state.
type State int

const (
	StateIdle State = iota
	StateBusy
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Pool manages a bounded set of goroutines draining the timing wheel and
// running each due item through the Executor, the same semaphore-bounded
// shape as the original task-queue Pool but fed by the wheel instead of a
// Redis stream, and reporting outcomes to the supervisor's
// /supervisor/rpc/checkpoint via rpcfabric instead of acking a queue.
type Pool struct {
	id             string
	endpoint       model.ServerEndpoint
	wheel          *timingwheel.Wheel
	executor       *Executor
	registry       registry.Registry
	supervisor     *rpcfabric.DiscoveryProxy
	concurrency    int
	stateMu        sync.RWMutex
	state          State
	activeTasks    int32
	wg             sync.WaitGroup
	stopCh         chan struct{}
	concurrencySem chan struct{}
	registerEvery  time.Duration
}

type Config struct {
	ID            string
	Endpoint      model.ServerEndpoint
	Concurrency   int
	RegisterEvery time.Duration
}

func NewPool(cfg Config, wheel *timingwheel.Wheel, exec *Executor, reg registry.Registry, supervisor *rpcfabric.DiscoveryProxy) *Pool {
	id := cfg.ID
	if id == "" {
		id = fmt.Sprintf("worker-%s", cfg.Endpoint.Address())
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RegisterEvery <= 0 {
		cfg.RegisterEvery = 10 * time.Second
	}
	return &Pool{
		id:             id,
		endpoint:       cfg.Endpoint,
		wheel:          wheel,
		executor:       exec,
		registry:       reg,
		supervisor:     supervisor,
		concurrency:    cfg.Concurrency,
		state:          StateIdle,
		stopCh:         make(chan struct{}),
		concurrencySem: make(chan struct{}, cfg.Concurrency),
		registerEvery:  cfg.RegisterEvery,
	}
}

func (p *Pool) ID() string { return p.id }

func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Pool) ActiveTasks() int {
	return int(atomic.LoadInt32(&p.activeTasks))
}

// Start registers this worker in the registry, starts the timing wheel
// poller and the bounded drain loop.
func (p *Pool) Start(ctx context.Context) error {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	if err := p.registry.Register(ctx, p.endpoint); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	p.wg.Add(1)
	go p.registerLoop(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.wheel.Run(ctx)
	}()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.drain(ctx, i)
	}

	logger.Info().Str("worker_id", p.id).Int("concurrency", p.concurrency).Msg("worker pool started")
	return nil
}

func (p *Pool) Stop(ctx context.Context, shutdownTimeout time.Duration) error {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Str("worker_id", p.id).Msg("worker pool stopped gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown canceled")
	}

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.registry.Deregister(deregisterCtx, p.endpoint); err != nil {
		logger.Error().Err(err).Str("worker_id", p.id).Msg("failed to deregister worker")
	}
	return nil
}

func (p *Pool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StateBusy {
		p.state = StatePaused
	}
}

func (p *Pool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StatePaused {
		p.state = StateBusy
	}
}

// Receive admits a dispatched task into the timing wheel. Called by the
// /worker/rpc/receive handler.
func (p *Pool) Receive(req ReceivedTask, triggerTime time.Time) bool {
	return p.wheel.Offer(&timingwheel.Item{TaskID: req.TaskID, TriggerTime: triggerTime, Payload: req})
}

// Cancel removes an admitted-but-not-yet-started task, called by the
// /worker/rpc/terminateTask handler.
func (p *Pool) Cancel(taskID int64) bool {
	return p.wheel.Cancel(taskID)
}

func (p *Pool) registerLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.registerEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.registry.Register(ctx, p.endpoint); err != nil {
				logger.Error().Err(err).Str("worker_id", p.id).Msg("failed to refresh worker registration")
			}
		}
	}
}

func (p *Pool) drain(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		if p.State() == StatePaused {
			select {
			case <-time.After(time.Second):
				continue
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case p.concurrencySem <- struct{}{}:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}

		select {
		case item, ok := <-p.wheel.Due():
			if ok {
				p.run(ctx, item)
			}
		case <-p.stopCh:
		case <-ctx.Done():
		}

		<-p.concurrencySem
	}
}

func (p *Pool) run(ctx context.Context, item *timingwheel.Item) {
	atomic.AddInt32(&p.activeTasks, 1)
	defer atomic.AddInt32(&p.activeTasks, -1)

	req, ok := item.Payload.(ReceivedTask)
	if !ok {
		logger.Error().Int64("task_id", item.TaskID).Msg("worker: malformed wheel payload")
		return
	}

	p.reportStart(ctx, req.TaskID)

	result, err := p.executor.Execute(ctx, req)
	if err != nil {
		p.reportOutcome(ctx, req.TaskID, model.ExecuteFailed, "", err.Error())
		return
	}
	p.reportOutcome(ctx, req.TaskID, model.ExecuteCompleted, result, "")
}
