package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/screening"
	appwf "github.com/garyjia/expense-workflow/internal/application/workflow"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/pkg/utils"
)

// ReceiptUpload is a receipt file as received from the client
type ReceiptUpload struct {
	Filename string
	Data     []byte
}

// SubmitRequest is a new expense claim
type SubmitRequest struct {
	Actor           *entity.User     `json:"-"`
	CategoryID      int64            `json:"category_id" validate:"gt=0"`
	TransportTypeID *int64           `json:"transport_type_id,omitempty"`
	Description     string           `json:"description" validate:"required,min=5,max=2000"`
	Date            string           `json:"date" validate:"required,datetime=2006-01-02"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Receipt         *ReceiptUpload   `json:"-"`
}

// SubmitResult is the created expense with everything screening found
type SubmitResult struct {
	Expense    *entity.Expense             `json:"expense"`
	Attachment *entity.Attachment          `json:"attachment,omitempty"`
	Policy     *entity.PolicyResult        `json:"policy"`
	Receipt    *screening.ReceiptReport    `json:"receipt_validation,omitempty"`
	CrossCheck *screening.CrossCheckResult `json:"cross_check,omitempty"`
	Classifier *screening.Verdict          `json:"classifier,omitempty"`
}

// SubmissionConfig holds upload and gating rules
type SubmissionConfig struct {
	MaxFileSize  int64
	AllowedTypes []string

	// MaxAgeDays rejects bills older than this many days; 0 disables the rule
	MaxAgeDays int

	// Strict makes a classifier review verdict block the submission
	Strict bool

	// PolicyHardBlock rejects policy violations instead of flagging them
	PolicyHardBlock bool
}

// DefaultSubmissionConfig returns the limits used when none are configured
func DefaultSubmissionConfig() SubmissionConfig {
	return SubmissionConfig{
		MaxFileSize: 10 << 20,
		AllowedTypes: []string{
			entity.FileTypePDF, entity.FileTypeJPG, entity.FileTypeJPEG,
			entity.FileTypePNG, entity.FileTypeDOCX, entity.FileTypeTXT,
			entity.FileTypeXLSX,
		},
		MaxAgeDays: 31,
	}
}

// SubmissionDeps are the collaborators of the submission service
type SubmissionDeps struct {
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
	Classifier     *screening.ClassifierAdapter
	Validator      *screening.ReceiptValidator
	CrossChecker   *screening.CrossChecker
	Metrics        Metrics
	Logger         Logger
}

// SubmissionService creates expenses after screening them
type SubmissionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

type submissionServiceImpl struct {
	SubmissionDeps
	cfg      SubmissionConfig
	validate *utils.Validator
	events   *eventBuilder
	now      func() time.Time
}

// SubmissionOption configures the submission service
type SubmissionOption func(*submissionServiceImpl)

// WithSubmissionClock overrides the service's notion of now
func WithSubmissionClock(now func() time.Time) SubmissionOption {
	return func(s *submissionServiceImpl) {
		s.now = now
	}
}

// NewSubmissionService creates a new SubmissionService
func NewSubmissionService(deps SubmissionDeps, cfg SubmissionConfig, opts ...SubmissionOption) SubmissionService {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	s := &submissionServiceImpl{
		SubmissionDeps: deps,
		cfg:            cfg,
		validate:       utils.NewValidator(),
		events:         &eventBuilder{userRepo: deps.UserRepo, policyRepo: deps.PolicyRepo, logger: deps.Logger},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// screeningOutcome is what the fan-out produced
type screeningOutcome struct {
	policy     *entity.PolicyResult
	receipt    *screening.ReceiptReport
	crossCheck *screening.CrossCheckResult
	verdict    *screening.Verdict
}

func (s *submissionServiceImpl) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	result, outcome, err := s.submit(ctx, req)
	s.Metrics.SubmissionOutcome(outcome)
	if err != nil {
		s.Logger.Error("Expense submission failed", "error", err, "outcome", outcome)
		return nil, err
	}
	return result, nil
}

func (s *submissionServiceImpl) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, string, error) {
	req.Description = utils.SanitizeString(req.Description)
	expenseDate, err := s.validateRequest(req)
	if err != nil {
		return nil, OutcomeInvalid, err
	}

	category, err := s.PolicyRepo.GetCategory(ctx, req.CategoryID)
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("get category: %w", err)
	}
	if category == nil {
		return nil, OutcomeInvalid, domainerr.Validation("invalid category %d", req.CategoryID)
	}

	amount := decimal.Zero
	if req.Amount != nil {
		amount = *req.Amount
	}

	var (
		attachment      *entity.Attachment
		receiptText     string
		amountExtracted bool
	)

	if req.Receipt != nil {
		attachment, err = s.checkReceipt(ctx, req.Receipt)
		if err != nil {
			if errors.Is(err, domainerr.ErrDuplicateReceipt) {
				return nil, OutcomeDuplicate, err
			}
			return nil, OutcomeInvalid, err
		}

		// screen a scratch copy; the store only sees receipts that pass
		stagedPath, cleanup, err := s.Storage.Stage(ctx, attachment.FileType, req.Receipt.Data)
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("stage receipt: %w", err)
		}
		defer cleanup()

		extraction, err := s.Extractor.Extract(ctx, stagedPath, attachment.FileType)
		if err != nil {
			s.Logger.Error("Receipt text extraction failed", "error", err, "file", attachment.OriginalName)
			extraction = &port.Extraction{}
		}
		receiptText = extraction.Text

		if !amount.IsPositive() && extraction.Amount != nil && extraction.Amount.IsPositive() {
			amount = extraction.Amount.Round(2)
			amountExtracted = true
		}

		return s.finish(ctx, req, category, expenseDate, amount, amountExtracted, attachment, stagedPath, receiptText)
	}

	return s.finish(ctx, req, category, expenseDate, amount, false, nil, "", "")
}

// finish screens, gates and persists one submission
func (s *submissionServiceImpl) finish(
	ctx context.Context,
	req SubmitRequest,
	category *entity.Category,
	expenseDate time.Time,
	amount decimal.Decimal,
	amountExtracted bool,
	attachment *entity.Attachment,
	fullPath, receiptText string,
) (*SubmitResult, string, error) {
	outcome, err := s.screen(ctx, req, category, expenseDate, amount, attachment, fullPath, receiptText)
	if err != nil {
		return nil, OutcomeError, err
	}

	if err := s.gate(outcome); err != nil {
		return nil, OutcomeBlocked, err
	}

	expense := s.buildExpense(req, expenseDate, amount, attachment, outcome)

	if attachment != nil {
		if attachment.StoragePath, err = s.Storage.Save(ctx, attachment.FileType, req.Receipt.Data); err != nil {
			return nil, OutcomeError, fmt.Errorf("store receipt: %w", err)
		}
	}

	err = s.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.persist(txCtx, req, expense, amountExtracted, attachment)
	})
	if err != nil {
		if attachment != nil {
			if rmErr := s.Storage.Delete(context.WithoutCancel(ctx), attachment.StoragePath); rmErr != nil {
				s.Logger.Error("Failed to remove orphaned receipt", "error", rmErr, "path", attachment.StoragePath)
			}
		}
		if errors.Is(err, domainerr.ErrDuplicateReceipt) {
			return nil, OutcomeDuplicate, err
		}
		return nil, OutcomeError, err
	}

	s.Logger.Info("Expense submitted",
		"expense_id", expense.ID,
		"submitter_id", expense.SubmitterID,
		"amount", expense.Amount.StringFixed(2),
		"status", expense.Status,
	)

	evt := s.events.build(ctx, event.TypeExpenseSubmitted, expense, req.Actor, "")
	evt.Payload[event.KeyPolicyFlagged] = expense.Status == workflow.StatePolicyException
	s.Engine.Publish(ctx, evt)

	result := &SubmitResult{
		Expense:    expense,
		Attachment: attachment,
		Policy:     outcome.policy,
		Receipt:    outcome.receipt,
		CrossCheck: outcome.crossCheck,
		Classifier: outcome.verdict,
	}
	if expense.Status == workflow.StatePolicyException {
		return result, OutcomePolicyException, nil
	}
	return result, OutcomeAccepted, nil
}

func (s *submissionServiceImpl) validateRequest(req SubmitRequest) (time.Time, error) {
	if req.Actor == nil {
		return time.Time{}, domainerr.Forbidden("no authenticated actor")
	}
	if err := s.validate.Struct(req); err != nil {
		return time.Time{}, domainerr.Validation("%v", err)
	}
	if req.Amount == nil && req.Receipt == nil {
		return time.Time{}, domainerr.Validation("amount is required when no receipt is provided")
	}
	if req.Amount != nil {
		if err := utils.ValidateAmount(*req.Amount); err != nil {
			return time.Time{}, domainerr.Validation("%v", err)
		}
		if req.Receipt == nil && !req.Amount.IsPositive() {
			return time.Time{}, domainerr.Validation("amount is required when no receipt is provided")
		}
	}

	now := s.now()
	expenseDate, err := time.ParseInLocation(entity.DateLayout, req.Date, now.Location())
	if err != nil {
		return time.Time{}, domainerr.Validation("invalid date format, use YYYY-MM-DD")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if expenseDate.After(today) {
		return time.Time{}, domainerr.Validation("expense date cannot be in the future")
	}
	if s.cfg.MaxAgeDays > 0 && today.Sub(expenseDate) > time.Duration(s.cfg.MaxAgeDays)*24*time.Hour {
		return time.Time{}, domainerr.Validation("expense date is older than %d days", s.cfg.MaxAgeDays)
	}
	return expenseDate, nil
}

// checkReceipt applies upload limits and the duplicate pre-check
func (s *submissionServiceImpl) checkReceipt(ctx context.Context, upload *ReceiptUpload) (*entity.Attachment, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(upload.Filename), "."))
	if !s.allowedType(ext) {
		return nil, domainerr.Validation("file type %q is not allowed", ext)
	}
	if len(upload.Data) == 0 {
		return nil, domainerr.Validation("receipt file is empty")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(upload.Data)) > s.cfg.MaxFileSize {
		return nil, domainerr.Validation("receipt exceeds %d bytes", s.cfg.MaxFileSize)
	}

	hash := screening.ContentHash(upload.Data)
	exists, err := s.AttachmentRepo.ExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check receipt hash: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: this file has already been submitted", domainerr.ErrDuplicateReceipt)
	}

	return &entity.Attachment{
		OriginalName: filepath.Base(upload.Filename),
		FileType:     ext,
		Size:         int64(len(upload.Data)),
		ContentHash:  hash,
	}, nil
}

func (s *submissionServiceImpl) allowedType(ext string) bool {
	for _, t := range s.cfg.AllowedTypes {
		if strings.EqualFold(t, ext) {
			return true
		}
	}
	return false
}

// screen runs the independent checks concurrently. Each goroutine writes
// only its own field of the outcome.
func (s *submissionServiceImpl) screen(
	ctx context.Context,
	req SubmitRequest,
	category *entity.Category,
	expenseDate time.Time,
	amount decimal.Decimal,
	attachment *entity.Attachment,
	fullPath, receiptText string,
) (*screeningOutcome, error) {
	start := time.Now()
	defer func() { s.Metrics.ScreeningDuration(time.Since(start)) }()

	out := &screeningOutcome{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := s.Policy.Check(gctx, policy.CheckRequest{
			GradeID:         req.Actor.GradeID,
			CategoryID:      req.CategoryID,
			Amount:          amount,
			ExpenseDate:     expenseDate,
			TransportTypeID: req.TransportTypeID,
		})
		if err != nil {
			return fmt.Errorf("policy check: %w", err)
		}
		out.policy = res
		return nil
	})

	if attachment != nil {
		g.Go(func() error {
			out.verdict = s.Classifier.Evaluate(gctx, screening.ClassifierInput{
				Text:        receiptText,
				Amount:      amount,
				Category:    category.Name,
				Description: req.Description,
				ExpenseDate: req.Date,
			})
			return nil
		})

		g.Go(func() error {
			out.receipt = s.Validator.ValidateUpload(fullPath, receiptText, amount)
			return nil
		})

		g.Go(func() error {
			res, err := s.CrossChecker.Check(gctx, screening.CrossCheckInput{
				FilePath:      fullPath,
				FileHash:      attachment.ContentHash,
				ExtractedText: receiptText,
				Amount:        amount,
				Category:      category.Name,
				Description:   req.Description,
				Date:          req.Date,
				SubmitterID:   req.Actor.ID,
			})
			if err != nil {
				return fmt.Errorf("cross check: %w", err)
			}
			out.crossCheck = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if out.verdict != nil {
		s.Metrics.ClassifierVerdict(out.verdict.Decision)
		s.Logger.Info("Classifier verdict", "decision", out.verdict.Decision, "risk", out.verdict.RiskLevel)
	}
	if out.receipt != nil {
		s.Logger.Info("Receipt validation", "summary", out.receipt.Summary())
	}
	if out.crossCheck != nil {
		s.Logger.Info("Cross check", "summary", out.crossCheck.Summary())
	}
	return out, nil
}

// gate turns blocking screening results into a rejection
func (s *submissionServiceImpl) gate(out *screeningOutcome) error {
	if out.verdict != nil && out.verdict.Blocks(s.cfg.Strict) {
		return &domainerr.Rejection{
			Message: "Receipt rejected by classifier",
			Reasons: out.verdict.Reasons,
		}
	}

	if out.crossCheck != nil && !out.crossCheck.IsApproved {
		var reasons []string
		if out.receipt != nil {
			reasons = append(reasons, out.receipt.RiskFactors...)
		}
		reasons = append(reasons, out.crossCheck.RiskFactors...)
		return &domainerr.Rejection{
			Message: "Expense validation failed: " + out.crossCheck.Summary(),
			Reasons: reasons,
		}
	}

	if s.cfg.PolicyHardBlock && out.policy != nil && !out.policy.IsCompliant {
		return &domainerr.Rejection{
			Message: "Expense violates policy",
			Reasons: out.policy.Violations,
		}
	}
	return nil
}

func (s *submissionServiceImpl) buildExpense(
	req SubmitRequest,
	expenseDate time.Time,
	amount decimal.Decimal,
	attachment *entity.Attachment,
	out *screeningOutcome,
) *entity.Expense {
	now := s.now()
	expense := &entity.Expense{
		SubmitterID:     req.Actor.ID,
		CategoryID:      req.CategoryID,
		TransportTypeID: req.TransportTypeID,
		Amount:          amount,
		ExpenseDate:     expenseDate,
		Description:     req.Description,
		Status:          workflow.StateSubmitted,
		RiskFactors:     []string{},
		Recommendations: []string{},
		PolicyCheck:     out.policy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if attachment != nil {
		expense.FileHash = attachment.ContentHash
	}
	if out.receipt != nil && out.crossCheck != nil {
		expense.TextHash = out.crossCheck.TextHash
		expense.ValidationScore = (out.receipt.ConfidenceScore + out.crossCheck.ConfidenceScore) / 2
		expense.AIValidated = out.crossCheck.IsApproved
		expense.RiskFactors = append(append(expense.RiskFactors, out.receipt.RiskFactors...), out.crossCheck.RiskFactors...)
		expense.Recommendations = append(append(expense.Recommendations, out.receipt.Recommendations...), out.crossCheck.Recommendations...)
	}
	return expense
}

// persist writes the expense and everything that hangs off it
func (s *submissionServiceImpl) persist(ctx context.Context, req SubmitRequest, expense *entity.Expense, amountExtracted bool, attachment *entity.Attachment) error {
	actorID := req.Actor.ID

	if err := s.ExpenseRepo.Create(ctx, expense); err != nil {
		return fmt.Errorf("create expense: %w", err)
	}
	if err := s.Audit.Record(ctx, entity.AuditEntityExpense, expense.ID, entity.AuditActionCreated, &actorID, nil, map[string]interface{}{
		"amount":      expense.Amount.StringFixed(2),
		"category_id": expense.CategoryID,
		"description": expense.Description,
		"date":        expense.ExpenseDate.Format(entity.DateLayout),
		"status":      expense.Status,
	}); err != nil {
		return err
	}

	if amountExtracted {
		if err := s.Audit.Record(ctx, entity.AuditEntityExpense, expense.ID, entity.AuditActionAmountExtracted, &actorID,
			map[string]interface{}{"amount": "0.00"},
			map[string]interface{}{"amount": expense.Amount.StringFixed(2)},
		); err != nil {
			return err
		}
	}

	if attachment != nil {
		attachment.ExpenseID = expense.ID
		attachment.UploadedAt = expense.CreatedAt
		if err := s.AttachmentRepo.Create(ctx, attachment); err != nil {
			return fmt.Errorf("save attachment: %w", err)
		}
		if err := s.Audit.Record(ctx, entity.AuditEntityExpense, expense.ID, entity.AuditActionAttachmentAdded, &actorID, nil, map[string]interface{}{
			"file_name": attachment.OriginalName,
			"file_hash": attachment.ContentHash,
			"size":      attachment.Size,
		}); err != nil {
			return err
		}
	}

	for _, role := range []workflow.Role{workflow.RoleManager, workflow.RoleHR} {
		if _, err := s.Approvals.EnsurePending(ctx, expense.ID, role); err != nil {
			return fmt.Errorf("create %s approval: %w", role, err)
		}
	}

	if expense.PolicyCheck != nil && !expense.PolicyCheck.IsCompliant {
		if _, err := s.Engine.Apply(ctx, appwf.TransitionRequest{
			Expense: expense,
			Trigger: workflow.TriggerFlagPolicyException,
			Actor:   appwf.SystemActor,
		}); err != nil {
			return fmt.Errorf("flag policy exception: %w", err)
		}
	}
	return nil
}
