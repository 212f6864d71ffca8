package engine

import (
	"encoding/json"
	"fmt"
)

// RunState is a state of the orchestration state machine.
type RunState string

const (
	StateDiscover          RunState = "discover"
	StatePlan              RunState = "plan"
	StateConfirm           RunState = "confirm"
	StateUnregister        RunState = "unregister"
	StateStopTargetSvcs    RunState = "stop_target_services"
	StateSuspendDependents RunState = "suspend_dependents"
	StateRemoveTargets     RunState = "remove_targets"
	StateRemoveDevices     RunState = "remove_devices"
	StateRestoreDependents RunState = "restore_dependents"
	StateVerify            RunState = "verify"
	StateReport            RunState = "report"

	// StateNothingToDo means the plan was empty and nothing was touched.
	StateNothingToDo RunState = "nothing_to_do"

	// StateDeclined means the operator refused confirmation and nothing was touched.
	StateDeclined RunState = "declined"

	// StateCompleted means verification found no residuals.
	StateCompleted RunState = "completed"

	// StateCompletedWithResiduals means verification found leftovers.
	StateCompletedWithResiduals RunState = "completed_with_residuals"
)

// transitions lists the allowed successor of each non-terminal state.
var transitions = map[RunState][]RunState{
	StateDiscover:          {StatePlan},
	StatePlan:              {StateConfirm, StateNothingToDo},
	StateConfirm:           {StateUnregister, StateDeclined},
	StateUnregister:        {StateStopTargetSvcs},
	StateStopTargetSvcs:    {StateSuspendDependents},
	StateSuspendDependents: {StateRemoveTargets},
	StateRemoveTargets:     {StateRemoveDevices},
	StateRemoveDevices:     {StateRestoreDependents},
	StateRestoreDependents: {StateVerify},
	StateVerify:            {StateReport},
	StateReport:            {StateCompleted, StateCompletedWithResiduals},
}

// IsTerminal returns true if the state ends a run.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateNothingToDo, StateDeclined, StateCompleted, StateCompletedWithResiduals:
		return true
	}
	return false
}

// Mutates reports whether a run that ended in this state changed the host.
func (s RunState) Mutates() bool {
	return s == StateCompleted || s == StateCompletedWithResiduals
}

// CanTransition reports whether next may follow s.
func (s RunState) CanTransition(next RunState) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	if s.IsTerminal() {
		return nil
	}
	if _, ok := transitions[s]; ok {
		return nil
	}
	return fmt.Errorf("invalid run state: %s", s)
}

// MarshalJSON implements json.Marshaler.
func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := RunState(str)
	if err := state.Validate(); err != nil {
		return err
	}
	*s = state
	return nil
}
