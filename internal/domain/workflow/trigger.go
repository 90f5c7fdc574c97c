package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerFlagPolicyException Trigger = "FLAG_POLICY_EXCEPTION"
	TriggerManagerApprove      Trigger = "MANAGER_APPROVE"
	TriggerManagerReject       Trigger = "MANAGER_REJECT"
	TriggerFinanceApprove      Trigger = "FINANCE_APPROVE"
	TriggerFinanceReject       Trigger = "FINANCE_REJECT"
	TriggerMarkPaid            Trigger = "MARK_PAID"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
