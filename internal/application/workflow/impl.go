package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	domainwf "github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	expenseRepo port.ExpenseRepository
	audit       AuditRecorder
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	expenseRepo port.ExpenseRepository,
	audit AuditRecorder,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		expenseRepo: expenseRepo,
		audit:       audit,
		txManager:   txManager,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Machine(expense *entity.Expense) domainwf.StateMachine {
	return BuildExpenseStateMachine(expense)
}

func (e *engineImpl) Apply(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	expense := req.Expense
	if expense == nil {
		return nil, fmt.Errorf("transition requires an expense")
	}
	if !expense.Status.IsValid() {
		return nil, domainerr.InvalidState("expense %d has unknown status %q", expense.ID, expense.Status)
	}

	from := expense.Status
	rule, ok := domainwf.RuleFor(from, req.Trigger)
	if !ok {
		return nil, domainerr.InvalidState("cannot %s expense %d in status %s", req.Trigger, expense.ID, from)
	}
	if !domainwf.ActorHasRole(req.Actor.Role, rule.Role) {
		return nil, domainerr.InvalidState("%s may not %s expense %d", req.Actor.Role, req.Trigger, expense.ID)
	}

	machine := e.Machine(expense)
	if err := machine.Fire(ctx, req.Trigger); err != nil {
		if errors.Is(err, domainwf.ErrGuardFailed) {
			return nil, domainerr.InvalidState("expense %d has no amount to approve", expense.ID)
		}
		return nil, domainerr.InvalidState("%v", err)
	}
	to := machine.State()

	updated, err := e.expenseRepo.UpdateStatus(ctx, expense.ID, from, to, req.Remarks)
	if err != nil {
		return nil, fmt.Errorf("update expense status: %w", err)
	}
	if !updated {
		return nil, domainerr.InvalidState("expense %d is no longer %s", expense.ID, from)
	}

	newValue := map[string]interface{}{
		"status":  to,
		"trigger": req.Trigger,
	}
	if req.Remarks != nil {
		newValue["remarks"] = *req.Remarks
	}
	if err := e.audit.Record(ctx, entity.AuditEntityExpense, expense.ID, auditAction(req.Trigger), req.Actor.ID,
		map[string]interface{}{"status": from}, newValue); err != nil {
		return nil, fmt.Errorf("record transition audit: %w", err)
	}

	expense.Status = to
	if req.Remarks != nil {
		expense.RejectionRemarks = req.Remarks
	}

	return &TransitionResult{From: from, To: to}, nil
}

func (e *engineImpl) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	var result *TransitionResult
	original := req.Expense
	if original != nil {
		// Apply mutates the expense; keep the caller's copy untouched on rollback
		copied := *original
		req.Expense = &copied
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		result, err = e.Apply(txCtx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	if original != nil {
		*original = *req.Expense
	}
	e.Publish(ctx, req.Events...)
	return result, nil
}

func (e *engineImpl) Publish(ctx context.Context, events ...*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		if evt != nil {
			e.dispatcher.DispatchAsync(ctx, evt)
		}
	}
}

// auditAction maps triggers to audit actions
func auditAction(trigger domainwf.Trigger) string {
	switch trigger {
	case domainwf.TriggerManagerApprove, domainwf.TriggerFinanceApprove:
		return entity.AuditActionApproved
	case domainwf.TriggerManagerReject, domainwf.TriggerFinanceReject:
		return entity.AuditActionRejected
	case domainwf.TriggerMarkPaid:
		return entity.AuditActionPaid
	case domainwf.TriggerFlagPolicyException:
		return entity.AuditActionPolicyFlagged
	default:
		return entity.AuditActionStatusChanged
	}
}
