package service

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// VoucherService writes a payment voucher once finance has paid an expense
type VoucherService interface {
	GenerateVoucher(ctx context.Context, expenseID int64, correlationID string) (string, error)
	// HandleEvent generates the voucher for PaymentProcessed events and ignores the rest
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type voucherServiceImpl struct {
	expenseRepo  port.ExpenseRepository
	approvalRepo port.ApprovalRepository
	userRepo     port.UserRepository
	policyRepo   port.PolicyRepository
	writer       port.VoucherWriter
	logger       Logger
}

// NewVoucherService creates a new VoucherService
func NewVoucherService(
	expenseRepo port.ExpenseRepository,
	approvalRepo port.ApprovalRepository,
	userRepo port.UserRepository,
	policyRepo port.PolicyRepository,
	writer port.VoucherWriter,
	logger Logger,
) VoucherService {
	return &voucherServiceImpl{
		expenseRepo:  expenseRepo,
		approvalRepo: approvalRepo,
		userRepo:     userRepo,
		policyRepo:   policyRepo,
		writer:       writer,
		logger:       logger,
	}
}

func (s *voucherServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt == nil || evt.Type != event.TypePaymentProcessed {
		return nil
	}
	_, err := s.GenerateVoucher(ctx, evt.ExpenseID, evt.CorrelationID)
	return err
}

// GenerateVoucher gathers the payee, category and finance approval and hands
// them to the writer. Only FINANCE_APPROVED or PAID expenses qualify.
func (s *voucherServiceImpl) GenerateVoucher(ctx context.Context, expenseID int64, correlationID string) (string, error) {
	s.logger.Info("Generating voucher", "expense_id", expenseID)

	expense, err := s.expenseRepo.GetByID(ctx, expenseID)
	if err != nil {
		s.logger.Error("Failed to get expense", "error", err, "expense_id", expenseID)
		return "", fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return "", fmt.Errorf("expense %d not found", expenseID)
	}
	if expense.Status != workflow.StateFinanceApproved && expense.Status != workflow.StatePaid {
		s.logger.Info("Expense not paid", "expense_id", expenseID, "status", expense.Status)
		return "", fmt.Errorf("expense %d is %s, not ready for voucher", expenseID, expense.Status)
	}

	voucher := &port.PaymentVoucher{
		ExpenseID:     expense.ID,
		Description:   expense.Description,
		Amount:        expense.Amount,
		ExpenseDate:   expense.ExpenseDate.Format(entity.DateLayout),
		Category:      "Unknown",
		CorrelationID: correlationID,
	}

	payee, err := s.userRepo.GetByID(ctx, expense.SubmitterID)
	if err != nil {
		return "", fmt.Errorf("get payee: %w", err)
	}
	if payee != nil {
		voucher.Payee = payee.Name
		voucher.PayeeEmail = payee.Email
	}

	category, err := s.policyRepo.GetCategory(ctx, expense.CategoryID)
	if err != nil {
		return "", fmt.Errorf("get category: %w", err)
	}
	if category != nil {
		voucher.Category = category.Name
	}

	record, err := s.approvalRepo.Get(ctx, expenseID, workflow.RoleFinance)
	if err != nil {
		return "", fmt.Errorf("get finance approval: %w", err)
	}
	if record != nil && record.DecidedBy != nil {
		if approver, err := s.userRepo.GetByID(ctx, *record.DecidedBy); err == nil && approver != nil {
			voucher.ApprovedBy = approver.Name
		}
		if record.DecidedAt != nil {
			voucher.ApprovedAt = record.DecidedAt.Format(entity.DateLayout)
		}
	}

	path, err := s.writer.Write(ctx, voucher)
	if err != nil {
		s.logger.Error("Failed to write voucher", "error", err, "expense_id", expenseID)
		return "", fmt.Errorf("write voucher: %w", err)
	}

	s.logger.Info("Voucher generated successfully", "expense_id", expenseID, "voucher_path", path)
	return path, nil
}
