package candidates

import "fmt"

// Action is a review workflow action applied to a candidate.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionMarkDeleted Action = "markDeleted"
	ActionReset       Action = "reset"
)

// transitions is the review state machine: state × action → next state.
// Pairs absent from the table are illegal; in particular there is no path
// from rejected to deleted, and approve/reject only apply to pending
// candidates. Reset is the explicit escape hatch back to pending from any
// state.
var transitions = map[ReviewStatus]map[Action]ReviewStatus{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionReset:   StatusPending,
	},
	StatusApproved: {
		ActionMarkDeleted: StatusDeleted,
		ActionReset:       StatusPending,
	},
	StatusRejected: {
		ActionReset: StatusPending,
	},
	StatusDeleted: {
		ActionReset: StatusPending,
	},
}

// InvalidTransitionError reports an action applied in a state that does
// not allow it, e.g. approving an already-resolved candidate.
type InvalidTransitionError struct {
	Status ReviewStatus
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s candidate", e.Action, e.Status)
}

// ConflictError reports an optimistic-guard failure: the candidate was
// processed elsewhere between read and write.
type ConflictError struct {
	CandidateID int64
	Status      ReviewStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("candidate %d no longer %s (already processed elsewhere)", e.CandidateID, e.Status)
}

// Next returns the state reached by applying action in status, or an
// InvalidTransitionError when the pair is not in the table.
func Next(status ReviewStatus, action Action) (ReviewStatus, error) {
	if next, ok := transitions[status][action]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{Status: status, Action: action}
}
