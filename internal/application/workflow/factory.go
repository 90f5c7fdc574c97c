package workflow

import (
	"context"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// BuildExpenseStateMachine creates a machine positioned at the expense's
// current status. Finance approval needs a real amount.
func BuildExpenseStateMachine(expense *entity.Expense) domainwf.StateMachine {
	guards := map[domainwf.Trigger]domainwf.GuardFunc{
		domainwf.TriggerFinanceApprove: func(ctx context.Context) bool {
			return !expense.HasPlaceholderAmount()
		},
	}
	return domainwf.NewFromRules(guards).Build(expense.Status)
}
