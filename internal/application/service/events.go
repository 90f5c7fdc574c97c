package service

import (
	"context"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
)

// eventBuilder denormalizes an expense into an event payload
type eventBuilder struct {
	userRepo   port.UserRepository
	policyRepo port.PolicyRepository
	logger     Logger
}

// build never fails; lookups that error leave their fields out
func (b *eventBuilder) build(ctx context.Context, eventType event.Type, expense *entity.Expense, actor *entity.User, remarks string) *event.Event {
	payload := map[string]interface{}{
		event.KeySubmitterID: expense.SubmitterID,
		event.KeyAmount:      expense.Amount.StringFixed(2),
		event.KeyDescription: expense.Description,
		event.KeyExpenseDate: expense.ExpenseDate.Format(entity.DateLayout),
		event.KeyStatus:      expense.Status.String(),
		event.KeyCategory:    "Unknown",
	}

	if submitter, err := b.userRepo.GetByID(ctx, expense.SubmitterID); err != nil {
		b.logger.Error("Failed to load submitter for event", "error", err, "expense_id", expense.ID)
	} else if submitter != nil {
		payload[event.KeySubmitterName] = submitter.Name
		if submitter.ManagerID != nil {
			payload[event.KeyManagerID] = *submitter.ManagerID
		}
	}

	if category, err := b.policyRepo.GetCategory(ctx, expense.CategoryID); err != nil {
		b.logger.Error("Failed to load category for event", "error", err, "expense_id", expense.ID)
	} else if category != nil {
		payload[event.KeyCategory] = category.Name
	}

	if actor != nil {
		payload[event.KeyActorID] = actor.ID
		payload[event.KeyActorName] = actor.Name
		payload[event.KeyActorRole] = actor.Role.String()
	}
	if remarks != "" {
		payload[event.KeyRemarks] = remarks
	}

	return event.NewEvent(eventType, expense.ID, payload)
}
