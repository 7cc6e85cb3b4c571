package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maumercado/task-queue-go/internal/model"
)

func TestDeriveRunState_NoTasks(t *testing.T) {
	state, terminal := DeriveRunState(nil)
	assert.Equal(t, model.RunStateWaiting, state)
	assert.False(t, terminal)
}

func TestDeriveRunState_AnyLiveIsRunning(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecuteCompleted},
		{ExecuteState: model.ExecuteRunning},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStateRunning, state)
	assert.False(t, terminal)
}

func TestDeriveRunState_AllCompleted(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecuteCompleted},
		{ExecuteState: model.ExecuteCompleted},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStateCompleted, state)
	assert.True(t, terminal)
}

func TestDeriveRunState_AnyFailureWins(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecuteCompleted},
		{ExecuteState: model.ExecuteFailed},
		{ExecuteState: model.ExecuteManualCanceled},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStateCanceled, state)
	assert.True(t, terminal)
}

func TestDeriveRunState_AllWaitingOrRunning(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecuteWaiting},
		{ExecuteState: model.ExecuteRunning},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStateRunning, state)
	assert.False(t, terminal)
}

func TestDeriveRunState_TerminalMixedWithPausedIsPaused(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecuteCompleted},
		{ExecuteState: model.ExecutePaused},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStatePaused, state)
	assert.False(t, terminal)
}

func TestDeriveRunState_AllPausedIsPaused(t *testing.T) {
	tasks := []*model.Task{
		{ExecuteState: model.ExecutePaused},
		{ExecuteState: model.ExecutePaused},
	}
	state, terminal := DeriveRunState(tasks)
	assert.Equal(t, model.RunStatePaused, state)
	assert.False(t, terminal)
}
