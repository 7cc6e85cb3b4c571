package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/maumercado/task-queue-go/internal/logger"
)

// Handler runs one dispatched task's business logic. ReceivedTask.Snapshot
// is not filled in: the receive payload carries no snapshot, so a handler
// always sees it empty and a prior attempt's checkpoint is not carried over.
type Handler func(ctx context.Context, req ReceivedTask) (result string, err error)

// ReceivedTask is what the supervisor's dispatcher sent this worker via
// /worker/rpc/receive, reconstructed from the wire payload.
type ReceivedTask struct {
	TaskID     int64
	InstanceID int64
	JobID      int64
	Group      string
	Handler    string
	Param      string
	TaskNo     int
	TaskCount  int
	Snapshot   string
}

// Executor runs the handler registered for a task's Handler name, the way
// the original task-queue Executor dispatched by task Type, with the same
// panic recovery and timeout/cancellation classification.
type Executor struct {
	handlers map[string]Handler
}

func NewExecutor(handlers map[string]Handler) *Executor {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	return &Executor{handlers: handlers}
}

func (e *Executor) RegisterHandler(name string, h Handler) {
	e.handlers[name] = h
}

func (e *Executor) HasHandler(name string) bool {
	_, ok := e.handlers[name]
	return ok
}

func (e *Executor) HandlerNames() []string {
	names := make([]string, 0, len(e.handlers))
	for n := range e.handlers {
		names = append(names, n)
	}
	return names
}

var (
	ErrHandlerNotFound = errors.New("worker: no handler registered for job")
	ErrTaskTimeout     = errors.New("worker: task execution timed out")
	ErrTaskCanceled    = errors.New("worker: task execution canceled")
)

// Execute runs req's handler, recovering a panic into an error exactly the
// way the original Executor did, so one bad handler cannot take the whole
// pool down.
func (e *Executor) Execute(ctx context.Context, req ReceivedTask) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Int64("task_id", req.TaskID).
				Str("handler", req.Handler).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("task handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[req.Handler]
	if !ok {
		return "", ErrHandlerNotFound
	}

	log := logger.WithTask(fmt.Sprintf("%d", req.TaskID))
	log.Debug().Str("handler", req.Handler).Int("task_no", req.TaskNo).Msg("executing task")

	start := time.Now()
	result, err = handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("duration", duration).Msg("task timed out")
			return "", ErrTaskTimeout
		}
		if errors.Is(err, context.Canceled) {
			log.Warn().Dur("duration", duration).Msg("task canceled")
			return "", ErrTaskCanceled
		}
		log.Error().Err(err).Dur("duration", duration).Msg("task failed")
		return "", err
	}

	log.Debug().Dur("duration", duration).Msg("task executed successfully")
	return result, nil
}
