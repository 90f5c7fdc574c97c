package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	appwf "github.com/garyjia/expense-workflow/internal/application/workflow"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/pkg/utils"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ExpenseDetail is an expense with its attachments and approval records
type ExpenseDetail struct {
	Expense     *entity.Expense          `json:"expense"`
	Attachments []*entity.Attachment     `json:"attachments"`
	Approvals   []*entity.ApprovalRecord `json:"approvals"`
}

// ExpenseUpdate holds the fields a submitter may change. Nil means unchanged.
type ExpenseUpdate struct {
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	CategoryID  *int64           `json:"category_id,omitempty"`
}

// ListQuery pages through expenses
type ListQuery struct {
	Status workflow.State
	Limit  int
	Offset int
}

// ExpenseService reads and maintains expenses outside the approval flow
type ExpenseService interface {
	Get(ctx context.Context, actor *entity.User, id int64) (*ExpenseDetail, error)
	// List returns the actor's own expenses, or every expense for reviewers
	List(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error)
	ListPendingForManager(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error)
	ListPendingForFinance(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error)
	Update(ctx context.Context, actor *entity.User, id int64, upd ExpenseUpdate) (*entity.Expense, error)
	Delete(ctx context.Context, actor *entity.User, id int64) error
	// ExtractAmount fills a placeholder amount from the primary receipt
	ExtractAmount(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error)
	// AuditTrail returns the expense's entries and those of its approval records
	AuditTrail(ctx context.Context, actor *entity.User, id int64) ([]*entity.AuditLogEntry, error)
}

// ExpenseDeps are the collaborators of the expense service
type ExpenseDeps struct {
	ExpenseRepo    port.ExpenseRepository
	AttachmentRepo port.AttachmentRepository
	PolicyRepo     port.PolicyRepository
	UserRepo       port.UserRepository
	TxManager      port.TransactionManager
	Storage        port.FileStorage
	Extractor      port.TextExtractor
	Approvals      ApprovalRecordManager
	Engine         appwf.Engine
	Audit          *AuditWriter
	Policy         policy.Evaluator
	Logger         Logger
}

type expenseServiceImpl struct {
	ExpenseDeps
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(deps ExpenseDeps) ExpenseService {
	return &expenseServiceImpl{ExpenseDeps: deps}
}

func (s *expenseServiceImpl) Get(ctx context.Context, actor *entity.User, id int64) (*ExpenseDetail, error) {
	expense, err := s.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	attachments, err := s.AttachmentRepo.GetByExpenseID(ctx, id)
	if err != nil {
		s.Logger.Error("Failed to get attachments", "error", err, "expense_id", id)
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	approvals, err := s.Approvals.ListForExpense(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ExpenseDetail{Expense: expense, Attachments: attachments, Approvals: approvals}, nil
}

func (s *expenseServiceImpl) List(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error) {
	if actor == nil {
		return nil, domainerr.Forbidden("no authenticated actor")
	}

	filter := entity.ExpenseFilter{Limit: q.Limit, Offset: q.Offset}
	if !isReviewer(actor) {
		filter.SubmitterID = actor.ID
	}
	if q.Status != "" {
		if !q.Status.IsValid() {
			return nil, domainerr.Validation("unknown status %q", q.Status)
		}
		filter.Statuses = []workflow.State{q.Status}
	}
	return s.list(ctx, filter)
}

func (s *expenseServiceImpl) ListPendingForManager(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error) {
	if actor == nil || !workflow.ActorHasRole(actor.Role, workflow.RoleManager) {
		return nil, domainerr.Forbidden("manager role required")
	}

	filter := entity.ExpenseFilter{
		Statuses: []workflow.State{workflow.StateSubmitted, workflow.StatePolicyException},
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	// admins see every team's queue
	if actor.Role == workflow.RoleManager {
		filter.ManagerID = actor.ID
	}
	return s.list(ctx, filter)
}

func (s *expenseServiceImpl) ListPendingForFinance(ctx context.Context, actor *entity.User, q ListQuery) ([]*entity.Expense, error) {
	if actor == nil || !workflow.ActorHasRole(actor.Role, workflow.RoleFinance) {
		return nil, domainerr.Forbidden("finance role required")
	}

	return s.list(ctx, entity.ExpenseFilter{
		Statuses: []workflow.State{workflow.StateManagerApprovedForVerification},
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
}

func (s *expenseServiceImpl) Update(ctx context.Context, actor *entity.User, id int64, upd ExpenseUpdate) (*entity.Expense, error) {
	expense, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if expense.Status != workflow.StateSubmitted {
		return nil, domainerr.InvalidState("can only update expenses in %s status", workflow.StateSubmitted)
	}
	from := expense.Status

	oldValue := map[string]interface{}{
		"amount":      expense.Amount.StringFixed(2),
		"description": expense.Description,
		"category_id": expense.CategoryID,
	}

	if upd.Description != nil {
		desc := utils.SanitizeString(*upd.Description)
		if len([]rune(desc)) < 5 {
			return nil, domainerr.Validation("description must be at least 5 characters")
		}
		expense.Description = desc
	}
	if upd.Amount != nil {
		if err := utils.ValidateAmount(*upd.Amount); err != nil {
			return nil, domainerr.Validation("%v", err)
		}
		expense.Amount = upd.Amount.Round(2)
	}
	if upd.CategoryID != nil {
		category, err := s.PolicyRepo.GetCategory(ctx, *upd.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("get category: %w", err)
		}
		if category == nil {
			return nil, domainerr.Validation("invalid category %d", *upd.CategoryID)
		}
		expense.CategoryID = category.ID
	}
	if upd.Amount != nil || upd.CategoryID != nil {
		if expense.PolicyCheck, err = s.checkPolicy(ctx, actor, expense); err != nil {
			return nil, err
		}
	}
	expense.UpdatedAt = time.Now()

	actorID := actor.ID
	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.write(txCtx, expense, from); err != nil {
			return err
		}
		if err := s.Audit.Record(txCtx, entity.AuditEntityExpense, id, entity.AuditActionUpdated, &actorID, oldValue, map[string]interface{}{
			"amount":      expense.Amount.StringFixed(2),
			"description": expense.Description,
			"category_id": expense.CategoryID,
		}); err != nil {
			return err
		}
		return s.flagIfNonCompliant(txCtx, expense, from)
	})
	if err != nil {
		s.Logger.Error("Failed to update expense", "error", err, "expense_id", id)
		return nil, err
	}

	s.Logger.Info("Expense updated", "expense_id", id, "actor_id", actorID, "status", expense.Status)
	return expense, nil
}

func (s *expenseServiceImpl) Delete(ctx context.Context, actor *entity.User, id int64) error {
	expense, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if expense.Status != workflow.StateSubmitted {
		return domainerr.InvalidState("can only delete expenses in %s status", workflow.StateSubmitted)
	}

	attachments, err := s.AttachmentRepo.GetByExpenseID(ctx, id)
	if err != nil {
		return fmt.Errorf("get attachments: %w", err)
	}

	actorID := actor.ID
	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		deleted, err := s.ExpenseRepo.Delete(txCtx, id, expense.Status)
		if err != nil {
			return fmt.Errorf("delete expense: %w", err)
		}
		if !deleted {
			return domainerr.InvalidState("expense %d is no longer %s", id, expense.Status)
		}
		return s.Audit.Record(txCtx, entity.AuditEntityExpense, id, entity.AuditActionDeleted, &actorID, map[string]interface{}{
			"amount":      expense.Amount.StringFixed(2),
			"description": expense.Description,
			"status":      expense.Status,
		}, nil)
	})
	if err != nil {
		s.Logger.Error("Failed to delete expense", "error", err, "expense_id", id)
		return err
	}

	// rows are gone; stored files are best effort
	for _, att := range attachments {
		if err := s.Storage.Delete(ctx, att.StoragePath); err != nil {
			s.Logger.Error("Failed to delete receipt file", "error", err, "path", att.StoragePath)
		}
	}

	s.Logger.Info("Expense deleted", "expense_id", id, "actor_id", actorID)
	return nil
}

func (s *expenseServiceImpl) ExtractAmount(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error) {
	expense, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !expense.HasPlaceholderAmount() {
		return nil, domainerr.InvalidState("expense %d already has an amount", id)
	}
	if expense.Status.IsTerminal() {
		return nil, domainerr.InvalidState("expense %d is %s", id, expense.Status)
	}
	from := expense.Status

	attachments, err := s.AttachmentRepo.GetByExpenseID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	if len(attachments) == 0 {
		return nil, domainerr.Validation("no receipts attached to this expense")
	}

	primary := attachments[0]
	extraction, err := s.Extractor.Extract(ctx, s.Storage.GetFullPath(primary.StoragePath), primary.FileType)
	if err != nil {
		s.Logger.Error("Receipt text extraction failed", "error", err, "expense_id", id)
		return nil, domainerr.Validation("could not read receipt %s", primary.OriginalName)
	}
	if extraction.Amount == nil || !extraction.Amount.IsPositive() {
		return nil, domainerr.Validation("could not extract amount from receipt")
	}

	oldAmount := expense.Amount
	expense.Amount = extraction.Amount.Round(2)
	if expense.PolicyCheck, err = s.checkPolicy(ctx, actor, expense); err != nil {
		return nil, err
	}
	expense.UpdatedAt = time.Now()

	actorID := actor.ID
	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.write(txCtx, expense, from); err != nil {
			return err
		}
		if err := s.Audit.Record(txCtx, entity.AuditEntityExpense, id, entity.AuditActionAmountExtracted, &actorID,
			map[string]interface{}{"amount": oldAmount.StringFixed(2)},
			map[string]interface{}{"amount": expense.Amount.StringFixed(2), "file_name": primary.OriginalName},
		); err != nil {
			return err
		}
		return s.flagIfNonCompliant(txCtx, expense, from)
	})
	if err != nil {
		s.Logger.Error("Failed to store extracted amount", "error", err, "expense_id", id)
		return nil, err
	}
	return expense, nil
}

// write stores the edited expense while it is still in from
func (s *expenseServiceImpl) write(ctx context.Context, expense *entity.Expense, from workflow.State) error {
	written, err := s.ExpenseRepo.Update(ctx, expense, from)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	if !written {
		return domainerr.InvalidState("expense %d is no longer %s", expense.ID, from)
	}
	return nil
}

// flagIfNonCompliant moves a submitted expense whose policy check now fails
// into POLICY_EXCEPTION
func (s *expenseServiceImpl) flagIfNonCompliant(ctx context.Context, expense *entity.Expense, from workflow.State) error {
	if from != workflow.StateSubmitted || expense.PolicyCheck == nil || expense.PolicyCheck.IsCompliant {
		return nil
	}
	if _, err := s.Engine.Apply(ctx, appwf.TransitionRequest{
		Expense: expense,
		Trigger: workflow.TriggerFlagPolicyException,
		Actor:   appwf.SystemActor,
	}); err != nil {
		return fmt.Errorf("flag policy exception: %w", err)
	}
	return nil
}

// checkPolicy evaluates the expense against the submitter's grade
func (s *expenseServiceImpl) checkPolicy(ctx context.Context, actor *entity.User, expense *entity.Expense) (*entity.PolicyResult, error) {
	submitter := actor
	if expense.SubmitterID != actor.ID {
		var err error
		if submitter, err = s.UserRepo.GetByID(ctx, expense.SubmitterID); err != nil {
			return nil, fmt.Errorf("get submitter: %w", err)
		}
		if submitter == nil {
			return nil, domainerr.NotFound("user", expense.SubmitterID)
		}
	}

	result, err := s.Policy.Check(ctx, policy.CheckRequest{
		GradeID:         submitter.GradeID,
		CategoryID:      expense.CategoryID,
		Amount:          expense.Amount,
		ExpenseDate:     expense.ExpenseDate,
		TransportTypeID: expense.TransportTypeID,
	})
	if err != nil {
		return nil, fmt.Errorf("policy check: %w", err)
	}
	return result, nil
}

func (s *expenseServiceImpl) AuditTrail(ctx context.Context, actor *entity.User, id int64) ([]*entity.AuditLogEntry, error) {
	if _, err := s.loadVisible(ctx, actor, id); err != nil {
		return nil, err
	}

	entries, err := s.Audit.Trail(ctx, entity.AuditEntityExpense, id)
	if err != nil {
		return nil, err
	}

	approvals, err := s.Approvals.ListForExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, rec := range approvals {
		more, err := s.Audit.Trail(ctx, entity.AuditEntityApproval, rec.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, more...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PerformedAt.Before(entries[j].PerformedAt)
	})
	return entries, nil
}

func (s *expenseServiceImpl) list(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	expenses, err := s.ExpenseRepo.List(ctx, filter)
	if err != nil {
		s.Logger.Error("Failed to list expenses", "error", err, "statuses", statusList(filter.Statuses))
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

func (s *expenseServiceImpl) load(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error) {
	if actor == nil {
		return nil, domainerr.Forbidden("no authenticated actor")
	}
	expense, err := s.ExpenseRepo.GetByID(ctx, id)
	if err != nil {
		s.Logger.Error("Failed to get expense", "error", err, "expense_id", id)
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return nil, domainerr.NotFound("expense", id)
	}
	return expense, nil
}

func (s *expenseServiceImpl) loadVisible(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error) {
	expense, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if expense.SubmitterID != actor.ID && !isReviewer(actor) {
		return nil, domainerr.Forbidden("you can only view your own expenses")
	}
	return expense, nil
}

func (s *expenseServiceImpl) loadOwned(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error) {
	expense, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if expense.SubmitterID != actor.ID && actor.Role != workflow.RoleAdmin {
		return nil, domainerr.Forbidden("you can only change your own expenses")
	}
	return expense, nil
}

// isReviewer reports whether the actor may see other people's expenses
func isReviewer(actor *entity.User) bool {
	switch actor.Role {
	case workflow.RoleManager, workflow.RoleFinance, workflow.RoleHR, workflow.RoleAdmin:
		return true
	default:
		return false
	}
}

// statusList renders states for log fields
func statusList(states []workflow.State) string {
	parts := make([]string, len(states))
	for i, st := range states {
		parts[i] = st.String()
	}
	return strings.Join(parts, ",")
}
