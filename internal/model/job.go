package model

import "time"

// JobType distinguishes a plain job from a workflow (DAG) job or a
// broadcast job (one task per currently-discovered worker).
type JobType int

const (
	JobTypeNormal JobType = iota
	JobTypeWorkflow
	JobTypeBroadcast
)

func (t JobType) String() string {
	switch t {
	case JobTypeWorkflow:
		return "workflow"
	case JobTypeBroadcast:
		return "broadcast"
	default:
		return "normal"
	}
}

// JobState controls whether the triggering scanner will ever pick a job up.
type JobState int

const (
	JobDisabled JobState = iota
	JobEnabled
)

func (s JobState) String() string {
	if s == JobEnabled {
		return "enabled"
	}
	return "disabled"
}

// TriggerType selects how NextTriggerTime is computed. TriggerDepend jobs
// are never picked up by the triggering scanner: their instances are
// created only by a parent job's dependency cascade.
type TriggerType int

const (
	TriggerCron TriggerType = iota
	TriggerOnce
	TriggerPeriod
	TriggerDepend
	TriggerFixedRate
	TriggerFixedDelay
)

func (t TriggerType) String() string {
	switch t {
	case TriggerOnce:
		return "once"
	case TriggerPeriod:
		return "period"
	case TriggerDepend:
		return "depend"
	case TriggerFixedRate:
		return "fixed_rate"
	case TriggerFixedDelay:
		return "fixed_delay"
	default:
		return "cron"
	}
}

// RouteStrategy picks which discovered worker(s) a task is dispatched to.
type RouteStrategy int

const (
	RouteBroadcast RouteStrategy = iota
	RouteRoundRobin
	RouteRandom
	RouteLeastRecentlyUsed
	RouteConsistentHash
	RouteLocalPriority
)

func (r RouteStrategy) String() string {
	switch r {
	case RouteRoundRobin:
		return "round_robin"
	case RouteRandom:
		return "random"
	case RouteLeastRecentlyUsed:
		return "least_recently_used"
	case RouteConsistentHash:
		return "consistent_hash"
	case RouteLocalPriority:
		return "local_priority"
	default:
		return "broadcast"
	}
}

// RetryType selects which of an instance's tasks are copied onto the fresh
// retry instance; it says nothing about the backoff shape (see
// Job.RetryInterval and the retryBackoff helper in package statemachine).
type RetryType int

const (
	RetryNone   RetryType = iota // no retry cascade
	RetryAll                     // re-split from jobParam, as if freshly triggered
	RetryFailed                  // clone only the failed tasks of the previous attempt
)

func (r RetryType) String() string {
	switch r {
	case RetryAll:
		return "all"
	case RetryFailed:
		return "failed"
	default:
		return "none"
	}
}

// CollisionStrategy governs what happens when a trigger fires while a prior
// instance of the same job is still non-terminal.
type CollisionStrategy int

const (
	CollisionConcurrent CollisionStrategy = iota
	CollisionDiscard
	CollisionSerial
	CollisionOverride
)

func (c CollisionStrategy) String() string {
	switch c {
	case CollisionDiscard:
		return "discard"
	case CollisionSerial:
		return "serial"
	case CollisionOverride:
		return "override"
	default:
		return "concurrent"
	}
}

// Job is a persisted schedulable unit: a single task template, the root of
// a workflow DAG (see WorkflowEdge), or a broadcast fan-out to every
// worker of its group.
type Job struct {
	ID                int64             `json:"id"`
	Group             string            `json:"group"`
	Name              string            `json:"name"`
	Type              JobType           `json:"type"`
	State             JobState          `json:"state"`
	TriggerType       TriggerType       `json:"trigger_type"`
	TriggerValue      string            `json:"trigger_value"` // cron expr, RFC3339 instant, or duration
	RouteStrategy     RouteStrategy     `json:"route_strategy"`
	RetryType         RetryType         `json:"retry_type"`
	RetryCount        int               `json:"retry_count"`
	RetryInterval     time.Duration     `json:"retry_interval"`
	CollisionStrategy CollisionStrategy `json:"collision_strategy"`
	ExecuteTimeout    time.Duration     `json:"execute_timeout"`
	Handler           string            `json:"handler"` // worker-side handler name
	Param             string            `json:"param"`   // opaque payload handed to the worker
	NextTriggerTime   *time.Time        `json:"next_trigger_time,omitempty"`
	LastTriggerTime   *time.Time        `json:"last_trigger_time,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// DependEdge records that ChildJobID should be triggered after ParentJobID's
// instance reaches FINISHED (spec dependency cascade). Sequence offsets the
// child's triggerTime (`unixMs + Sequence`) so siblings of the same parent
// firing don't collide on the (jobId, triggerTime, runType) uniqueness key.
type DependEdge struct {
	ParentJobID int64 `json:"parent_job_id"`
	ChildJobID  int64 `json:"child_job_id"`
	Sequence    int64 `json:"sequence"`
}
