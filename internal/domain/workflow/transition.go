package workflow

// Rule is one edge of the expense lifecycle
type Rule struct {
	From    State
	To      State
	Trigger Trigger
	Role    Role
}

// rules is the closed transition table. Anything not listed is rejected.
var rules = []Rule{
	{StateSubmitted, StatePolicyException, TriggerFlagPolicyException, RoleSystem},

	{StateSubmitted, StateManagerApprovedForVerification, TriggerManagerApprove, RoleManager},
	{StateSubmitted, StateManagerRejected, TriggerManagerReject, RoleManager},
	{StatePolicyException, StateManagerApprovedForVerification, TriggerManagerApprove, RoleManager},
	{StatePolicyException, StateManagerRejected, TriggerManagerReject, RoleManager},

	{StateManagerApprovedForVerification, StateFinanceApproved, TriggerFinanceApprove, RoleFinance},
	{StateManagerApprovedForVerification, StateFinanceRejected, TriggerFinanceReject, RoleFinance},

	{StateFinanceApproved, StatePaid, TriggerMarkPaid, RoleFinance},
}

// Rules returns a copy of the transition table
func Rules() []Rule {
	return append([]Rule{}, rules...)
}

// CanTransition reports whether an actor with the given role may move an
// expense from one state to another
func CanTransition(from, to State, role Role) bool {
	for _, r := range rules {
		if r.From == from && r.To == to && ActorHasRole(role, r.Role) {
			return true
		}
	}
	return false
}

// RuleFor returns the rule fired by trigger from the given state
func RuleFor(from State, trigger Trigger) (Rule, bool) {
	for _, r := range rules {
		if r.From == from && r.Trigger == trigger {
			return r, true
		}
	}
	return Rule{}, false
}
