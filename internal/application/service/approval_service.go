package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DecideRequest records one role's decision on an expense
type DecideRequest struct {
	ExpenseID int64
	Role      workflow.Role
	Decision  entity.Decision
	ActorID   int64
	Comments  string
}

// ApprovalRecordManager keeps one approval record per (expense, role)
type ApprovalRecordManager interface {
	// EnsurePending returns the record for the role, creating a pending one if needed
	EnsurePending(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error)
	// Submit creates a pending record and fails if the role already has one
	Submit(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error)
	// Decide moves a pending record to APPROVED or REJECTED exactly once
	Decide(ctx context.Context, req DecideRequest) (*entity.ApprovalRecord, error)
	ListForExpense(ctx context.Context, expenseID int64) ([]*entity.ApprovalRecord, error)
}

type approvalRecordManagerImpl struct {
	approvalRepo port.ApprovalRepository
	audit        *AuditWriter
	logger       Logger
	now          func() time.Time
}

// NewApprovalRecordManager creates a new ApprovalRecordManager
func NewApprovalRecordManager(
	approvalRepo port.ApprovalRepository,
	audit *AuditWriter,
	logger Logger,
) ApprovalRecordManager {
	return &approvalRecordManagerImpl{
		approvalRepo: approvalRepo,
		audit:        audit,
		logger:       logger,
		now:          time.Now,
	}
}

func (m *approvalRecordManagerImpl) EnsurePending(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error) {
	if err := validateApprovalRole(role); err != nil {
		return nil, err
	}

	existing, err := m.approvalRepo.Get(ctx, expenseID, role)
	if err != nil {
		return nil, fmt.Errorf("get %s approval: %w", role, err)
	}
	if existing != nil {
		return existing, nil
	}

	record := newPendingRecord(expenseID, role, m.now())
	created, err := m.approvalRepo.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create %s approval: %w", role, err)
	}
	if created {
		return record, nil
	}

	// lost the insert to a concurrent request; the unique key kept one row
	existing, err = m.approvalRepo.Get(ctx, expenseID, role)
	if err != nil {
		return nil, fmt.Errorf("get %s approval: %w", role, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s approval for expense %d vanished after conflict", domainerr.ErrPersistence, role, expenseID)
	}
	return existing, nil
}

func (m *approvalRecordManagerImpl) Submit(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error) {
	if err := validateApprovalRole(role); err != nil {
		return nil, err
	}

	record := newPendingRecord(expenseID, role, m.now())
	created, err := m.approvalRepo.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create %s approval: %w", role, err)
	}
	if !created {
		return nil, domainerr.InvalidState("%s approval already exists for expense %d", role.Label(), expenseID)
	}

	m.logger.Info("Approval record submitted", "expense_id", expenseID, "role", role)
	return record, nil
}

func (m *approvalRecordManagerImpl) Decide(ctx context.Context, req DecideRequest) (*entity.ApprovalRecord, error) {
	if err := validateApprovalRole(req.Role); err != nil {
		return nil, err
	}
	if !req.Decision.IsFinal() {
		return nil, domainerr.Validation("decision must be %s or %s, got %q", entity.DecisionApproved, entity.DecisionRejected, req.Decision)
	}

	record, err := m.approvalRepo.Get(ctx, req.ExpenseID, req.Role)
	if err != nil {
		return nil, fmt.Errorf("get %s approval: %w", req.Role, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s approval for expense %d", domainerr.ErrNotFound, req.Role.Label(), req.ExpenseID)
	}
	if !record.IsPending() {
		return nil, alreadyProcessed(req.Role, req.ExpenseID)
	}

	decidedAt := m.now()
	changed, err := m.approvalRepo.Decide(ctx, record.ID, req.Decision, req.ActorID, req.Comments, decidedAt)
	if err != nil {
		return nil, fmt.Errorf("decide %s approval: %w", req.Role, err)
	}
	if !changed {
		return nil, alreadyProcessed(req.Role, req.ExpenseID)
	}

	actorID := req.ActorID
	record.Decision = req.Decision
	record.DecidedBy = &actorID
	record.Comments = req.Comments
	record.DecidedAt = &decidedAt

	action := entity.AuditActionApproved
	if req.Decision == entity.DecisionRejected {
		action = entity.AuditActionRejected
	}
	if err := m.audit.Record(ctx, entity.AuditEntityApproval, record.ID, action, &actorID,
		map[string]interface{}{"decision": entity.DecisionPending},
		map[string]interface{}{"decision": req.Decision, "role": req.Role, "comments": req.Comments},
	); err != nil {
		return nil, err
	}

	return record, nil
}

func (m *approvalRecordManagerImpl) ListForExpense(ctx context.Context, expenseID int64) ([]*entity.ApprovalRecord, error) {
	records, err := m.approvalRepo.ListByExpense(ctx, expenseID)
	if err != nil {
		m.logger.Error("Failed to list approvals", "error", err, "expense_id", expenseID)
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return records, nil
}

// BuildRejectionRemarks joins everything known about a rejection into the
// single text stored on the expense
func BuildRejectionRemarks(role workflow.Role, comments string, classifierReasons, riskFactors []string) string {
	var lines []string
	if c := strings.TrimSpace(comments); c != "" {
		lines = append(lines, fmt.Sprintf("%s's Note: %s", role.Label(), c))
	}
	lines = appendSection(lines, "Classifier Analysis:", classifierReasons)
	lines = appendSection(lines, "Risk Factors:", riskFactors)

	if len(lines) == 0 {
		return "Rejected by " + role.Label()
	}
	return strings.Join(lines, "\n")
}

func appendSection(lines []string, heading string, items []string) []string {
	var kept []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			kept = append(kept, "  • "+item)
		}
	}
	if len(kept) == 0 {
		return lines
	}
	return append(append(lines, heading), kept...)
}

func newPendingRecord(expenseID int64, role workflow.Role, now time.Time) *entity.ApprovalRecord {
	return &entity.ApprovalRecord{
		ExpenseID: expenseID,
		Role:      role,
		Decision:  entity.DecisionPending,
		CreatedAt: now,
	}
}

func validateApprovalRole(role workflow.Role) error {
	switch role {
	case workflow.RoleManager, workflow.RoleFinance, workflow.RoleHR:
		return nil
	default:
		return domainerr.Validation("no approval step for role %q", role)
	}
}

func alreadyProcessed(role workflow.Role, expenseID int64) error {
	return domainerr.InvalidState("%s approval for expense %d already processed", role.Label(), expenseID)
}
