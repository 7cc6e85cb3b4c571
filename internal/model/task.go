package model

import "time"

// ExecuteState is the per-task lifecycle status. Values mirror the wire
// codes of the system this scheduler's data model is drawn from: WAITING,
// EXECUTING and PAUSED are the non-terminal states; COMPLETED is the lone
// success terminal; everything from DISPATCH_FAILED up is a distinct
// failure terminal, each naming the reason a task never finished.
type ExecuteState int

const (
	ExecuteWaiting   ExecuteState = 10
	ExecuteRunning   ExecuteState = 20 // EXECUTING
	ExecutePaused    ExecuteState = 30
	ExecuteCompleted ExecuteState = 40

	ExecuteDispatchFailed   ExecuteState = 50 // dispatch RPC exhausted its retry budget
	ExecuteInitException    ExecuteState = 51 // worker rejected the task before running it (e.g. auth)
	ExecuteFailed           ExecuteState = 52 // handler ran and reported failure
	ExecuteException        ExecuteState = 53 // handler panicked / returned an unexpected error
	ExecuteTimeout          ExecuteState = 54 // no alive EXECUTING worker by the running-scanner's PURGE sweep
	ExecuteCollision        ExecuteState = 55 // collisionStrategy=DISCARD rejected a concurrent firing
	ExecuteBroadcastAborted ExecuteState = 56 // broadcast retry found its pinned worker dead
	ExecuteAborted          ExecuteState = 57 // worker-side cancel RPC acknowledged
	ExecuteShutdownCanceled ExecuteState = 58 // worker process shut down with the task still queued
	ExecuteManualCanceled   ExecuteState = 59 // operator-issued CANCEL
)

func (s ExecuteState) String() string {
	switch s {
	case ExecuteRunning:
		return "executing"
	case ExecutePaused:
		return "paused"
	case ExecuteCompleted:
		return "completed"
	case ExecuteDispatchFailed:
		return "dispatch_failed"
	case ExecuteInitException:
		return "init_exception"
	case ExecuteFailed:
		return "execute_failed"
	case ExecuteException:
		return "execute_exception"
	case ExecuteTimeout:
		return "execute_timeout"
	case ExecuteCollision:
		return "execute_collision"
	case ExecuteBroadcastAborted:
		return "broadcast_aborted"
	case ExecuteAborted:
		return "execute_aborted"
	case ExecuteShutdownCanceled:
		return "shutdown_canceled"
	case ExecuteManualCanceled:
		return "manual_canceled"
	default:
		return "waiting"
	}
}

// IsTerminal reports whether the scanners must stop tracking this task.
func (s ExecuteState) IsTerminal() bool {
	return s == ExecuteCompleted || s.IsFailure()
}

// IsFailure reports whether this terminal state counts against retry/DAG
// failure propagation. Every named terminal code except COMPLETED is a
// failure; this is the full set the 14-value spec enum fans out into.
func (s ExecuteState) IsFailure() bool {
	switch s {
	case ExecuteDispatchFailed, ExecuteInitException, ExecuteFailed, ExecuteException,
		ExecuteTimeout, ExecuteCollision, ExecuteBroadcastAborted, ExecuteAborted,
		ExecuteShutdownCanceled, ExecuteManualCanceled:
		return true
	default:
		return false
	}
}

// Task is one unit of dispatched work belonging to an Instance. A
// broadcast job's instance gets one Task per discovered worker
// (TaskNo/TaskCount identify siblings, PinnedWorker fixes its destination);
// any other job's instance gets one Task per split(jobParam) shard, which is
// a single Task (TaskNo=0, TaskCount=1) unless jobParam is a JSON array.
//
// WorkerServer is written only through ReportOutcome, from the worker named
// in each report (the worker's own start/checkpoint callbacks, or the
// running scanner aborting a broadcast shard whose pinned worker died) —
// never by the dispatcher at send time, so a task in WAITING never names a
// worker that hasn't actually accepted it.
type Task struct {
	ID                  int64             `json:"id"`
	InstanceID          int64             `json:"instance_id"`
	TaskNo              int               `json:"task_no"`
	TaskCount           int               `json:"task_count"`
	Param               string            `json:"param,omitempty"`         // per-task payload, from split(jobParam)
	PinnedWorker        string            `json:"pinned_worker,omitempty"` // BROADCAST: worker this task must go to
	WorkerServer        string            `json:"worker_server,omitempty"` // host:port of the worker that accepted it
	ExecuteState        ExecuteState      `json:"execute_state"`
	ExecuteSnapshot     string            `json:"execute_snapshot,omitempty"` // worker-reported checkpoint, opaque
	ExecuteStartTime    *time.Time        `json:"execute_start_time,omitempty"`
	ExecuteEndTime      *time.Time        `json:"execute_end_time,omitempty"`
	ErrorMsg            string            `json:"error_msg,omitempty"`
	DispatchFailedCount int               `json:"dispatch_failed_count"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// RunState maps a task's executeState onto the instance-level RunState
// vocabulary, for display purposes; DeriveRunState folds the raw
// ExecuteState values directly rather than going through this method.
func (t *Task) RunState() RunState {
	switch t.ExecuteState {
	case ExecuteCompleted:
		return RunStateCompleted
	case ExecutePaused:
		return RunStatePaused
	case ExecuteRunning:
		return RunStateRunning
	case ExecuteWaiting:
		return RunStateWaiting
	default:
		return RunStateCanceled
	}
}

// WorkflowNodeState tracks the run state of one node (edge target) within a
// workflow instance's DAG traversal.
type WorkflowNodeState int

const (
	NodeWaiting WorkflowNodeState = iota
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeCanceled
)

func (s WorkflowNodeState) IsTerminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeCanceled
}

// WorkflowEdge is one DAG edge of a workflow Job: PreNode must reach
// NodeCompleted (or be the synthetic root "") before Node is triggered.
// Expression is an optional predicate over the predecessor's result; it is
// stored and copied into each run's edges, but the supervisor does not
// evaluate it when deciding whether to start Node.
type WorkflowEdge struct {
	JobID      int64             `json:"job_id"`
	WnstanceID int64             `json:"wnstance_id"`
	PreNode    string            `json:"pre_node"`
	Node       string            `json:"node"`
	Expression string            `json:"expression,omitempty"`
	State      WorkflowNodeState `json:"state"`
	InstanceID int64             `json:"instance_id,omitempty"` // the node instance currently backing this edge
}
