package statemachine

import "github.com/maumercado/task-queue-go/internal/model"

// DeriveRunState folds the execute states of an instance's tasks into the
// instance's run state, the three-way split the spec's state machine turns
// on:
//
//   - all tasks terminal           -> CANCELED if any isFailure() else
//     FINISHED (RunStateCompleted)
//   - any task WAITING or EXECUTING -> RunStateRunning (some task is still
//     live; the instance is left non-terminal)
//   - otherwise (every task terminal-or-PAUSED, but not all terminal)
//     -> RunStatePaused
//   - no tasks yet                 -> RunStateWaiting
//
// The returned bool reports whether the instance reached a terminal state
// this call (i.e. whether post-commit effects like retry/cascade should
// fire).
func DeriveRunState(tasks []*model.Task) (model.RunState, bool) {
	if len(tasks) == 0 {
		return model.RunStateWaiting, false
	}

	allTerminal := true
	anyFailure := false
	anyLive := false
	for _, t := range tasks {
		if t.ExecuteState.IsFailure() {
			anyFailure = true
		}
		if !t.ExecuteState.IsTerminal() {
			allTerminal = false
			if t.ExecuteState == model.ExecuteWaiting || t.ExecuteState == model.ExecuteRunning {
				anyLive = true
			}
		}
	}

	if allTerminal {
		if anyFailure {
			return model.RunStateCanceled, true
		}
		return model.RunStateCompleted, true
	}
	if anyLive {
		return model.RunStateRunning, false
	}
	return model.RunStatePaused, false
}
