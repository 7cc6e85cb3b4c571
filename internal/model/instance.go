package model

import "time"

// RunType records why an instance was created.
type RunType int

const (
	RunTypeSchedule RunType = iota
	RunTypeManual
	RunTypeRetry
	RunTypeDependency
)

func (r RunType) String() string {
	switch r {
	case RunTypeManual:
		return "manual"
	case RunTypeRetry:
		return "retry"
	case RunTypeDependency:
		return "dependency"
	default:
		return "schedule"
	}
}

// RunState is the instance-level status, derived from the states of its
// tasks (see DeriveRunState in package statemachine). Values mirror the
// wire codes of the system this scheduler's data model is drawn from, so an
// instance's persisted runState is meaningful without a lookup table.
type RunState int

const (
	RunStateWaiting   RunState = 10
	RunStateRunning   RunState = 20
	RunStatePaused    RunState = 30
	RunStateCompleted RunState = 40 // FINISHED
	RunStateCanceled  RunState = 50
)

func (s RunState) String() string {
	switch s {
	case RunStateRunning:
		return "running"
	case RunStatePaused:
		return "paused"
	case RunStateCompleted:
		return "completed"
	case RunStateCanceled:
		return "canceled"
	default:
		return "waiting"
	}
}

// IsTerminal reports whether no further scanner sweep will touch this state.
// The terminal set is exactly {FINISHED, CANCELED}; PAUSED is recoverable.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateCanceled
}

// Instance is one firing of a Job: a waiting/running/terminal envelope
// around one or more Tasks. WnstanceID is non-zero only for nodes that are
// part of a workflow DAG run and names the root instance of that run.
//
// RnstanceID and PnstanceID chain RETRY and DEPEND lineages: RnstanceID
// names the root of the logical chain (invariant across RETRY/DEPEND
// creation) and PnstanceID names the immediate predecessor that spawned
// this instance. For a chain's first instance both equal its own ID.
type Instance struct {
	ID           int64          `json:"id"`
	JobID        int64          `json:"job_id"`
	RnstanceID   int64          `json:"rnstance_id"`
	PnstanceID   int64          `json:"pnstance_id"`
	WnstanceID   int64          `json:"wnstance_id,omitempty"`
	RunType      RunType        `json:"run_type"`
	RunState     RunState       `json:"run_state"`
	TriggerTime  time.Time      `json:"trigger_time"`
	RunStartTime *time.Time     `json:"run_start_time,omitempty"`
	RunEndTime   *time.Time     `json:"run_end_time,omitempty"`
	RetriedCount int            `json:"retried_count"`
	Attach       map[string]any `json:"attach,omitempty"` // curNode for workflow instances, etc.
	ErrorMsg     string         `json:"error_msg,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LockKey is the serialization key for the dual-guard described in the
// state machine package: a workflow node instance is serialized on its
// root WnstanceID so sibling nodes of the same workflow run never race.
func (i *Instance) LockKey() int64 {
	if i.WnstanceID != 0 {
		return i.WnstanceID
	}
	return i.ID
}

// CurNode returns the workflow node name this instance represents, when
// Attach carries one (workflow instances only).
func (i *Instance) CurNode() string {
	if i.Attach == nil {
		return ""
	}
	n, _ := i.Attach["curNode"].(string)
	return n
}

func (i *Instance) SetCurNode(node string) {
	if i.Attach == nil {
		i.Attach = make(map[string]any)
	}
	i.Attach["curNode"] = node
}
