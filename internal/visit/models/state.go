package models

// VisitState is the lifecycle state of a visit.
//
// Usage: construct via ParseVisitState at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type VisitState string

const (
	// StateRequested: a resident asked for a visit; no real token exists yet
	// and no scan is accepted until an administrator approves.
	StateRequested VisitState = "requested"
	// StatePending: token issued, waiting for the first entry scan.
	StatePending VisitState = "pending"
	// StateApproved: entry granted; the visitor is inside.
	StateApproved VisitState = "approved"
	// StateRejected: entry denied by a guard. Terminal.
	StateRejected VisitState = "rejected"
	// StateCompleted: exit recorded. Terminal.
	StateCompleted VisitState = "completed"
	// StateExpired: the token outlived its validity window. Terminal.
	StateExpired VisitState = "expired"
)

// validTransitions is the single source of truth for the state machine.
var validTransitions = map[VisitState][]VisitState{
	StateRequested: {StatePending, StateRejected},
	StatePending:   {StateApproved, StateRejected, StateExpired},
	StateApproved:  {StateCompleted, StateExpired},
	StateRejected:  {},
	StateCompleted: {},
	StateExpired:   {},
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s VisitState) CanTransitionTo(next VisitState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s VisitState) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// IsValid checks the state is one of the supported enum values.
func (s VisitState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Expirable reports whether the background sweep or a lazy touch may move
// this state to expired. Only pending and approved visits expire; terminal
// states are never clobbered.
func (s VisitState) Expirable() bool {
	return s == StatePending || s == StateApproved
}

func (s VisitState) String() string {
	return string(s)
}
