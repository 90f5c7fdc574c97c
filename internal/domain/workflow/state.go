package workflow

import "fmt"

// State represents an expense status in the approval lifecycle
type State string

const (
	StateSubmitted                      State = "SUBMITTED"
	StatePolicyException                State = "POLICY_EXCEPTION"
	StateManagerApprovedForVerification State = "MANAGER_APPROVED_FOR_VERIFICATION"
	StateManagerRejected                State = "MANAGER_REJECTED"
	StateFinanceApproved                State = "FINANCE_APPROVED"
	StateFinanceRejected                State = "FINANCE_REJECTED"
	StatePaid                           State = "PAID"
)

var validStates = map[State]bool{
	StateSubmitted:                      true,
	StatePolicyException:                true,
	StateManagerApprovedForVerification: true,
	StateManagerRejected:                true,
	StateFinanceApproved:                true,
	StateFinanceRejected:                true,
	StatePaid:                           true,
}

// FINANCE_APPROVED is terminal for the main flow. PAID is only reachable
// through the legacy mark-paid trigger.
var terminalStates = map[State]bool{
	StateManagerRejected: true,
	StateFinanceApproved: true,
	StateFinanceRejected: true,
	StatePaid:            true,
}

// IsTerminal returns true if no further decisions are accepted in this state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known expense status
func (s State) IsValid() bool {
	return validStates[s]
}

// AwaitingManager reports whether a manager decision is expected
func (s State) AwaitingManager() bool {
	return s == StateSubmitted || s == StatePolicyException
}

// AllStates returns every known state in lifecycle order
func AllStates() []State {
	return []State{
		StateSubmitted,
		StatePolicyException,
		StateManagerApprovedForVerification,
		StateManagerRejected,
		StateFinanceApproved,
		StateFinanceRejected,
		StatePaid,
	}
}

// ParseState converts a stored status into a State
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", fmt.Errorf("unknown expense status %q", s)
	}
	return state, nil
}
