package trigger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maumercado/task-queue-go/internal/model"
)

func TestNext_Cron(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	job := &model.Job{TriggerType: model.TriggerCron, TriggerValue: "30 10 * * *"}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 30, 10, 30, 0, 0, time.UTC), next)
}

func TestNext_CronInvalidExpression(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerCron, TriggerValue: "not a cron expr"}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestNext_OnceFuture(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	at := from.Add(time.Hour)
	job := &model.Job{TriggerType: model.TriggerOnce, TriggerValue: at.Format(time.RFC3339)}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.True(t, next.Equal(at))
}

func TestNext_OncePast(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	at := from.Add(-time.Hour)
	job := &model.Job{TriggerType: model.TriggerOnce, TriggerValue: at.Format(time.RFC3339)}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.True(t, next.Equal(at))
}

func TestNext_OnceAlreadyFired(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	at := from.Add(time.Hour)
	fired := from.Add(-time.Minute)
	job := &model.Job{TriggerType: model.TriggerOnce, TriggerValue: at.Format(time.RFC3339), LastTriggerTime: &fired}

	_, err := Next(job, from)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNext_OnceMalformedTimestamp(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerOnce, TriggerValue: "not-a-timestamp"}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestNext_FixedRateFromNow(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	job := &model.Job{TriggerType: model.TriggerFixedRate, TriggerValue: "5m"}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(5*time.Minute), next)
}

func TestNext_FixedRateAnchoredOnLastTrigger(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	last := from.Add(-2 * time.Minute)
	job := &model.Job{TriggerType: model.TriggerFixedRate, TriggerValue: "5m", LastTriggerTime: &last}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.Equal(t, last.Add(5*time.Minute), next)
}

func TestNext_FixedDelayAlwaysFromNow(t *testing.T) {
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	last := from.Add(-2 * time.Minute)
	job := &model.Job{TriggerType: model.TriggerFixedDelay, TriggerValue: "5m", LastTriggerTime: &last}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(5*time.Minute), next)
}

func TestNext_FixedIntervalZeroOrNegative(t *testing.T) {
	for _, v := range []string{"0s", "-1m"} {
		job := &model.Job{TriggerType: model.TriggerFixedRate, TriggerValue: v}
		_, err := Next(job, time.Now())
		assert.ErrorIsf(t, err, ErrInvalidTrigger, "value %q", v)
	}
}

func TestNext_FixedIntervalMalformed(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerFixedRate, TriggerValue: "not-a-duration"}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestNext_UnknownTriggerType(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerType(99), TriggerValue: "whatever"}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestNext_PeriodWithinWindow(t *testing.T) {
	from := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	start := from.Add(-time.Hour)
	end := from.Add(24 * time.Hour)
	job := &model.Job{
		TriggerType:  model.TriggerPeriod,
		TriggerValue: fmt.Sprintf("0 10 * * *|%s|%s", start.Format(time.RFC3339), end.Format(time.RFC3339)),
	}

	next, err := Next(job, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC), next)
}

func TestNext_PeriodAfterWindowEnd(t *testing.T) {
	from := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	start := from.Add(-48 * time.Hour)
	end := from.Add(-time.Hour)
	job := &model.Job{
		TriggerType:  model.TriggerPeriod,
		TriggerValue: fmt.Sprintf("0 10 * * *|%s|%s", start.Format(time.RFC3339), end.Format(time.RFC3339)),
	}

	_, err := Next(job, from)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNext_PeriodMalformedValue(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerPeriod, TriggerValue: "not enough parts"}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTrigger)
}

func TestNext_DependNeverFiresDirectly(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerDepend}

	_, err := Next(job, time.Now())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestValidate_ValidCron(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerCron, TriggerValue: "* * * * *"}
	assert.NoError(t, Validate(job))
}

func TestValidate_ExhaustedOnceIsNotAnError(t *testing.T) {
	now := time.Now()
	fired := now.Add(-time.Hour)
	job := &model.Job{TriggerType: model.TriggerOnce, TriggerValue: now.Add(time.Hour).Format(time.RFC3339), LastTriggerTime: &fired}
	assert.NoError(t, Validate(job))
}

func TestValidate_InvalidJob(t *testing.T) {
	job := &model.Job{TriggerType: model.TriggerCron, TriggerValue: "garbage"}
	assert.Error(t, Validate(job))
}
