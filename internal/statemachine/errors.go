package statemachine

import "errors"

var (
	ErrInvalidTransition = errors.New("statemachine: invalid transition for current run state")
	ErrJobDisabled       = errors.New("statemachine: job is disabled")
	ErrCollision         = errors.New("statemachine: collision strategy declined to create instance")
	ErrJobMissing        = errors.New("statemachine: job definition no longer exists")
)
