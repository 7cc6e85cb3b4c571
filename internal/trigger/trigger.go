// Package trigger computes a Job's next fire time from its TriggerType and
// TriggerValue, the way the SWARM orchestrator's Scheduler wraps
// robfig/cron/v3 to turn a cron expression into a concrete next-run instant.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maumercado/task-queue-go/internal/model"
)

var (
	ErrInvalidTrigger = errors.New("trigger: invalid trigger value")
	ErrExhausted      = errors.New("trigger: no further fire times")

	// parser accepts the five-field POSIX cron form; WithSeconds is not
	// enabled here so plain "* * * * *" expressions behave as operators
	// expect, matching the common case in the example pack rather than
	// the six-field form the SWARM orchestrator opts into.
	parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// Next computes the next trigger time for job strictly after from.
func Next(job *model.Job, from time.Time) (time.Time, error) {
	switch job.TriggerType {
	case model.TriggerCron:
		sched, err := parser.Parse(job.TriggerValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, job.TriggerValue, err)
		}
		return sched.Next(from), nil

	case model.TriggerOnce:
		at, err := time.Parse(time.RFC3339, job.TriggerValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, job.TriggerValue, err)
		}
		if job.LastTriggerTime != nil {
			return time.Time{}, ErrExhausted
		}
		if !at.After(from) {
			return at, nil // already due; scanner will pick it up immediately
		}
		return at, nil

	case model.TriggerPeriod:
		return nextPeriod(job, from)

	case model.TriggerDepend:
		// A DEPEND job is never picked up by the triggering scanner directly —
		// its instances only ever come from a parent's dependency cascade
		// (see statemachine.cascadeDependsTx) — so it has no next fire time.
		return time.Time{}, ErrExhausted

	case model.TriggerFixedRate, model.TriggerFixedDelay:
		interval, err := time.ParseDuration(job.TriggerValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, job.TriggerValue, err)
		}
		if interval <= 0 {
			return time.Time{}, ErrInvalidTrigger
		}
		base := from
		if job.TriggerType == model.TriggerFixedRate && job.LastTriggerTime != nil {
			// fixed rate anchors off the previous fire time so ticks don't
			// drift with scanner latency; fixed delay anchors off "now"
			// (the instance's completion, passed in as from by the caller).
			base = *job.LastTriggerTime
		}
		return base.Add(interval), nil

	default:
		return time.Time{}, fmt.Errorf("%w: unknown trigger type %v", ErrInvalidTrigger, job.TriggerType)
	}
}

// nextPeriod handles TriggerPeriod, a cron expression bounded to a window:
// TriggerValue is "cronExpr|startRFC3339|endRFC3339". The cron fires as
// usual but any tick before start or at-or-after end is exhausted.
func nextPeriod(job *model.Job, from time.Time) (time.Time, error) {
	parts := strings.SplitN(job.TriggerValue, "|", 3)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: period trigger value must be \"cron|start|end\": %q", ErrInvalidTrigger, job.TriggerValue)
	}
	sched, err := parser.Parse(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, parts[0], err)
	}
	start, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid period start %q: %v", ErrInvalidTrigger, parts[1], err)
	}
	end, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid period end %q: %v", ErrInvalidTrigger, parts[2], err)
	}

	base := from
	if start.After(base) {
		base = start.Add(-time.Second)
	}
	next := sched.Next(base)
	if next.Before(start) {
		next = sched.Next(start.Add(-time.Second))
	}
	if !next.Before(end) {
		return time.Time{}, ErrExhausted
	}
	return next, nil
}

// Validate parses TriggerValue eagerly (e.g. at job-creation time) by
// computing a next fire time from now and discarding it, so a malformed
// cron expression is rejected before it ever reaches the triggering
// scanner. An exhausted trigger is not an error.
func Validate(job *model.Job) error {
	_, err := Next(job, time.Now())
	if errors.Is(err, ErrExhausted) {
		return nil
	}
	return err
}
