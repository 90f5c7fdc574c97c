package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-workflow/internal/application/port"
	appwf "github.com/garyjia/expense-workflow/internal/application/workflow"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// DecisionRequest is one reviewer's action on an expense
type DecisionRequest struct {
	ExpenseID int64
	Actor     *entity.User
	Comments  string

	// Analysis is reviewer-supplied classifier or heuristic text folded into
	// rejection remarks
	Analysis []string
}

// DecisionResult is the expense and approval record after a decision
type DecisionResult struct {
	Expense *entity.Expense        `json:"expense"`
	Record  *entity.ApprovalRecord `json:"approval,omitempty"`
}

// DecisionService applies manager, finance and HR decisions
type DecisionService interface {
	ManagerApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	ManagerReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	FinanceApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	FinanceReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	// HRApprove and HRReject record an informational decision; status is unchanged
	HRApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	HRReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
	// MarkPaid moves a finance-approved expense to PAID for rows that track payment separately
	MarkPaid(ctx context.Context, req DecisionRequest) (*DecisionResult, error)
}

// decisionStep describes what one decide-operation does
type decisionStep struct {
	role      workflow.Role
	decision  entity.Decision
	trigger   workflow.Trigger // empty when the expense does not move
	eventType event.Type       // published after commit when set
	next      workflow.Role    // pending record provisioned on success
}

var (
	stepManagerApprove = decisionStep{workflow.RoleManager, entity.DecisionApproved, workflow.TriggerManagerApprove, event.TypeExpenseApproved, workflow.RoleFinance}
	stepManagerReject  = decisionStep{workflow.RoleManager, entity.DecisionRejected, workflow.TriggerManagerReject, event.TypeExpenseRejected, ""}
	stepFinanceApprove = decisionStep{workflow.RoleFinance, entity.DecisionApproved, workflow.TriggerFinanceApprove, event.TypePaymentProcessed, ""}
	stepFinanceReject  = decisionStep{workflow.RoleFinance, entity.DecisionRejected, workflow.TriggerFinanceReject, event.TypeExpenseRejected, ""}
	stepHRApprove      = decisionStep{workflow.RoleHR, entity.DecisionApproved, "", "", ""}
	stepHRReject       = decisionStep{workflow.RoleHR, entity.DecisionRejected, "", "", ""}
)

type decisionServiceImpl struct {
	expenseRepo port.ExpenseRepository
	approvals   ApprovalRecordManager
	engine      appwf.Engine
	txManager   port.TransactionManager
	events      *eventBuilder
	metrics     Metrics
	logger      Logger
}

// DecisionOption configures the decision service
type DecisionOption func(*decisionServiceImpl)

// WithDecisionMetrics reports decisions to m
func WithDecisionMetrics(m Metrics) DecisionOption {
	return func(s *decisionServiceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewDecisionService creates a new DecisionService
func NewDecisionService(
	expenseRepo port.ExpenseRepository,
	approvals ApprovalRecordManager,
	engine appwf.Engine,
	txManager port.TransactionManager,
	userRepo port.UserRepository,
	policyRepo port.PolicyRepository,
	logger Logger,
	opts ...DecisionOption,
) DecisionService {
	s := &decisionServiceImpl{
		expenseRepo: expenseRepo,
		approvals:   approvals,
		engine:      engine,
		txManager:   txManager,
		events:      &eventBuilder{userRepo: userRepo, policyRepo: policyRepo, logger: logger},
		metrics:     nopMetrics{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *decisionServiceImpl) ManagerApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepManagerApprove)
}

func (s *decisionServiceImpl) ManagerReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepManagerReject)
}

func (s *decisionServiceImpl) FinanceApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepFinanceApprove)
}

func (s *decisionServiceImpl) FinanceReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepFinanceReject)
}

func (s *decisionServiceImpl) HRApprove(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepHRApprove)
}

func (s *decisionServiceImpl) HRReject(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	return s.decide(ctx, req, stepHRReject)
}

func (s *decisionServiceImpl) MarkPaid(ctx context.Context, req DecisionRequest) (*DecisionResult, error) {
	expense, err := s.authorizeAndLoad(ctx, req, workflow.RoleFinance)
	if err != nil {
		return nil, err
	}

	actorID := req.Actor.ID
	_, err = s.engine.Transition(ctx, appwf.TransitionRequest{
		Expense: expense,
		Trigger: workflow.TriggerMarkPaid,
		Actor:   appwf.Actor{ID: &actorID, Role: workflow.RoleFinance},
	})
	if err != nil {
		s.logger.Error("Failed to mark expense paid", "error", err, "expense_id", req.ExpenseID)
		return nil, err
	}

	s.logger.Info("Expense marked paid", "expense_id", expense.ID, "actor_id", actorID)
	return &DecisionResult{Expense: expense}, nil
}

func (s *decisionServiceImpl) decide(ctx context.Context, req DecisionRequest, step decisionStep) (*DecisionResult, error) {
	expense, err := s.authorizeAndLoad(ctx, req, step.role)
	if err != nil {
		return nil, err
	}

	// HR records do not move the status, but a closed expense takes no input
	if step.trigger == "" && expense.Status.IsTerminal() {
		return nil, domainerr.InvalidState("expense %d is %s; %s decision not accepted", expense.ID, expense.Status, step.role.Label())
	}
	if step.trigger != "" {
		rule, ok := workflow.RuleFor(expense.Status, step.trigger)
		if !ok || !workflow.CanTransition(expense.Status, rule.To, req.Actor.Role) {
			return nil, domainerr.InvalidState("expense %d is %s; %s decision not accepted", expense.ID, expense.Status, step.role.Label())
		}
	}

	var remarks *string
	if step.trigger != "" && step.decision == entity.DecisionRejected {
		r := BuildRejectionRemarks(step.role, req.Comments, req.Analysis, expense.RiskFactors)
		remarks = &r
	}

	actorID := req.Actor.ID
	var record *entity.ApprovalRecord
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.approvals.EnsurePending(txCtx, expense.ID, step.role); err != nil {
			return err
		}

		rec, err := s.approvals.Decide(txCtx, DecideRequest{
			ExpenseID: expense.ID,
			Role:      step.role,
			Decision:  step.decision,
			ActorID:   actorID,
			Comments:  req.Comments,
		})
		if err != nil {
			return err
		}
		record = rec

		if step.trigger != "" {
			if _, err := s.engine.Apply(txCtx, appwf.TransitionRequest{
				Expense: expense,
				Trigger: step.trigger,
				Actor:   appwf.Actor{ID: &actorID, Role: step.role},
				Remarks: remarks,
			}); err != nil {
				return err
			}
		}

		if step.next != "" {
			if _, err := s.approvals.EnsurePending(txCtx, expense.ID, step.next); err != nil {
				return fmt.Errorf("provision %s approval: %w", step.next, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Decision failed", "error", err, "expense_id", req.ExpenseID, "role", step.role, "decision", step.decision)
		return nil, err
	}

	s.metrics.Decision(step.role, step.decision)
	s.logger.Info("Decision recorded", "expense_id", expense.ID, "role", step.role, "decision", step.decision, "status", expense.Status)

	if step.eventType != "" {
		var text string
		if remarks != nil {
			text = *remarks
		}
		s.engine.Publish(ctx, s.events.build(ctx, step.eventType, expense, req.Actor, text))
	}

	return &DecisionResult{Expense: expense, Record: record}, nil
}

func (s *decisionServiceImpl) authorizeAndLoad(ctx context.Context, req DecisionRequest, role workflow.Role) (*entity.Expense, error) {
	if req.Actor == nil {
		return nil, domainerr.Forbidden("no authenticated actor")
	}
	if !workflow.ActorHasRole(req.Actor.Role, role) {
		return nil, domainerr.InvalidState("%s role required; user %d is %s", role.Label(), req.Actor.ID, req.Actor.Role.Label())
	}

	expense, err := s.expenseRepo.GetByID(ctx, req.ExpenseID)
	if err != nil {
		s.logger.Error("Failed to get expense", "error", err, "expense_id", req.ExpenseID)
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return nil, domainerr.NotFound("expense", req.ExpenseID)
	}
	if expense.SubmitterID == req.Actor.ID {
		return nil, domainerr.Forbidden("cannot review your own expense")
	}
	return expense, nil
}
