package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobType_String(t *testing.T) {
	assert.Equal(t, "normal", JobTypeNormal.String())
	assert.Equal(t, "workflow", JobTypeWorkflow.String())
	assert.Equal(t, "broadcast", JobTypeBroadcast.String())
}

func TestJobState_String(t *testing.T) {
	assert.Equal(t, "disabled", JobDisabled.String())
	assert.Equal(t, "enabled", JobEnabled.String())
}

func TestTriggerType_String(t *testing.T) {
	assert.Equal(t, "cron", TriggerCron.String())
	assert.Equal(t, "once", TriggerOnce.String())
	assert.Equal(t, "fixed_rate", TriggerFixedRate.String())
	assert.Equal(t, "fixed_delay", TriggerFixedDelay.String())
	assert.Equal(t, "period", TriggerPeriod.String())
	assert.Equal(t, "depend", TriggerDepend.String())
}

func TestCollisionStrategy_String(t *testing.T) {
	assert.Equal(t, "discard", CollisionDiscard.String())
	assert.Equal(t, "serial", CollisionSerial.String())
	assert.Equal(t, "override", CollisionOverride.String())
	assert.Equal(t, "concurrent", CollisionStrategy(99).String())
}

func TestRunType_String(t *testing.T) {
	assert.Equal(t, "schedule", RunTypeSchedule.String())
	assert.Equal(t, "manual", RunTypeManual.String())
	assert.Equal(t, "retry", RunTypeRetry.String())
	assert.Equal(t, "dependency", RunTypeDependency.String())
}

func TestRetryType_String(t *testing.T) {
	assert.Equal(t, "all", RetryAll.String())
	assert.Equal(t, "failed", RetryFailed.String())
}

func TestRunState_StringAndTerminal(t *testing.T) {
	assert.Equal(t, "waiting", RunStateWaiting.String())
	assert.Equal(t, "running", RunStateRunning.String())
	assert.Equal(t, "paused", RunStatePaused.String())
	assert.Equal(t, "completed", RunStateCompleted.String())
	assert.Equal(t, "canceled", RunStateCanceled.String())

	assert.False(t, RunStateWaiting.IsTerminal())
	assert.False(t, RunStateRunning.IsTerminal())
	assert.False(t, RunStatePaused.IsTerminal())
	assert.True(t, RunStateCompleted.IsTerminal())
	assert.True(t, RunStateCanceled.IsTerminal())
}

func TestInstance_LockKey(t *testing.T) {
	standalone := &Instance{ID: 5}
	assert.Equal(t, int64(5), standalone.LockKey())

	node := &Instance{ID: 5, WnstanceID: 1}
	assert.Equal(t, int64(1), node.LockKey())
}

func TestInstance_CurNode(t *testing.T) {
	inst := &Instance{}
	assert.Equal(t, "", inst.CurNode())

	inst.SetCurNode("fanout")
	assert.Equal(t, "fanout", inst.CurNode())

	inst.SetCurNode("join")
	assert.Equal(t, "join", inst.CurNode())
}

func TestExecuteState_StringTerminalFailure(t *testing.T) {
	assert.Equal(t, "waiting", ExecuteWaiting.String())
	assert.Equal(t, "executing", ExecuteRunning.String())
	assert.Equal(t, "paused", ExecutePaused.String())
	assert.Equal(t, "completed", ExecuteCompleted.String())
	assert.Equal(t, "execute_failed", ExecuteFailed.String())
	assert.Equal(t, "manual_canceled", ExecuteManualCanceled.String())
	assert.Equal(t, "execute_timeout", ExecuteTimeout.String())
	assert.Equal(t, "broadcast_aborted", ExecuteBroadcastAborted.String())

	assert.False(t, ExecuteRunning.IsTerminal())
	assert.True(t, ExecuteCompleted.IsTerminal())
	assert.True(t, ExecuteFailed.IsTerminal())
	assert.True(t, ExecuteManualCanceled.IsTerminal())

	assert.True(t, ExecuteFailed.IsFailure())
	assert.True(t, ExecuteManualCanceled.IsFailure())
	assert.False(t, ExecuteCompleted.IsFailure())
}

func TestTask_RunState(t *testing.T) {
	cases := []struct {
		execState ExecuteState
		want      RunState
	}{
		{ExecuteWaiting, RunStateWaiting},
		{ExecuteRunning, RunStateRunning},
		{ExecutePaused, RunStatePaused},
		{ExecuteCompleted, RunStateCompleted},
		{ExecuteFailed, RunStateCanceled},
		{ExecuteManualCanceled, RunStateCanceled},
	}
	for _, c := range cases {
		task := &Task{ExecuteState: c.execState}
		assert.Equal(t, c.want, task.RunState(), "execute state %s", c.execState)
	}
}

func TestWorkflowNodeState_IsTerminal(t *testing.T) {
	assert.False(t, NodeWaiting.IsTerminal())
	assert.False(t, NodeRunning.IsTerminal())
	assert.True(t, NodeCompleted.IsTerminal())
	assert.True(t, NodeFailed.IsTerminal())
	assert.True(t, NodeCanceled.IsTerminal())
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "worker", RoleWorker.String())
	assert.Equal(t, "supervisor", RoleSupervisor.String())
}

func TestServerEndpoint_AddressAndString(t *testing.T) {
	ep := ServerEndpoint{Group: "default", Host: "10.0.0.5", Port: 9000, Role: RoleWorker}
	assert.Equal(t, "10.0.0.5:9000", ep.Address())
	assert.Equal(t, "default/worker/10.0.0.5:9000", ep.String())
}
