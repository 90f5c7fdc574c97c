package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/screening"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

const cabReceipt = "Uber Cab Services\nDate: 10/10/2026\nFare: ₹845.50 INR\nBill total ₹845.50 paid by cash"

func receiptExtractor(amount *decimal.Decimal) *mockExtractor {
	return &mockExtractor{
		extractFunc: func(ctx context.Context, path, fileType string) (*port.Extraction, error) {
			return &port.Extraction{Text: cabReceipt, Amount: amount}, nil
		},
	}
}

func TestSubmissionService_AmountOnly(t *testing.T) {
	h := newHarness(t)
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryMeals,
		Description: "Team lunch with client",
		Date:        "2026-10-18",
		Amount:      decPtr("1000"),
	})
	require.NoError(t, err)

	exp := res.Expense
	assert.NotZero(t, exp.ID)
	assert.Equal(t, workflow.StateSubmitted, exp.Status)
	assert.True(t, res.Policy.IsCompliant)
	assert.Nil(t, res.Attachment)
	assert.Nil(t, res.Classifier)

	ctx := context.Background()
	manager, err := h.approvalRepo.Get(ctx, exp.ID, workflow.RoleManager)
	require.NoError(t, err)
	require.NotNil(t, manager)
	assert.Equal(t, entity.DecisionPending, manager.Decision)

	finance, err := h.approvalRepo.Get(ctx, exp.ID, workflow.RoleFinance)
	require.NoError(t, err)
	assert.Nil(t, finance)

	assert.Equal(t, []string{entity.AuditActionCreated}, h.auditRepo.actions(entity.AuditEntityExpense, exp.ID))
	assert.Equal(t, []event.Type{event.TypeExpenseSubmitted}, h.dispatcher.types())
	evt := h.dispatcher.last()
	assert.False(t, evt.GetPayloadBool(event.KeyPolicyFlagged))
	assert.Equal(t, managerID, evt.GetPayloadInt(event.KeyManagerID))
	assert.Equal(t, "Asha Employee", evt.GetPayloadString(event.KeySubmitterName))
	assert.Equal(t, []string{OutcomeAccepted}, h.metrics.outcomes)
}

func TestSubmissionService_PolicyViolationFlags(t *testing.T) {
	h := newHarness(t)
	h.policies.policies[[2]int64{1, categoryTravel}].MaxAmount = decimal.NewFromInt(30000)
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Flight to Bengaluru for audit",
		Date:        "2026-10-12",
		Amount:      decPtr("50000"),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.StatePolicyException, res.Expense.Status)
	assert.Equal(t, workflow.StatePolicyException, h.expenses.stored(res.Expense.ID).Status)
	require.NotNil(t, res.Expense.PolicyCheck)
	assert.False(t, res.Expense.PolicyCheck.IsCompliant)
	require.NotNil(t, res.Expense.PolicyCheck.AllowedAmount)
	assert.True(t, res.Expense.PolicyCheck.AllowedAmount.Equal(decimal.NewFromInt(30000)))
	assert.Len(t, res.Expense.PolicyCheck.Violations, 1)

	assert.Equal(t,
		[]string{entity.AuditActionCreated, entity.AuditActionPolicyFlagged},
		h.auditRepo.actions(entity.AuditEntityExpense, res.Expense.ID))
	assert.True(t, h.dispatcher.last().GetPayloadBool(event.KeyPolicyFlagged))
	assert.Equal(t, []string{OutcomePolicyException}, h.metrics.outcomes)
}

func TestSubmissionService_PolicyHardBlock(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultSubmissionConfig()
	cfg.PolicyHardBlock = true
	svc := h.submissionService(cfg, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryMeals,
		Description: "Dinner for the whole floor",
		Date:        "2026-10-12",
		Amount:      decPtr("2500"),
	})
	require.Error(t, err)

	var rejection *domainerr.Rejection
	require.True(t, errors.As(err, &rejection))
	assert.ErrorIs(t, err, domainerr.ErrValidation)
	assert.NotEmpty(t, rejection.Reasons)
	assert.Empty(t, h.expenses.expenses)
	assert.Empty(t, h.dispatcher.types())
}

func TestSubmissionService_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  func(h *harness) SubmitRequest
		want error
	}{
		{
			name: "no actor",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18", Amount: decPtr("10")}
			},
			want: domainerr.ErrForbidden,
		},
		{
			name: "no amount and no receipt",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18"}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "zero amount without receipt",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18", Amount: decPtr("0")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "negative amount",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18", Amount: decPtr("-5")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "short description",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "tea", Date: "2026-10-18", Amount: decPtr("10")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "bad date format",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "18-10-2026", Amount: decPtr("10")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "future date",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-19", Amount: decPtr("10")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "older than max age",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-09-01", Amount: decPtr("10")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "unknown category",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: 99, Description: "Team lunch", Date: "2026-10-18", Amount: decPtr("10")}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "disallowed file type",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18",
					Receipt: &ReceiptUpload{Filename: "receipt.exe", Data: []byte("MZ")}}
			},
			want: domainerr.ErrValidation,
		},
		{
			name: "empty file",
			req: func(h *harness) SubmitRequest {
				return SubmitRequest{Actor: h.user(employeeID), CategoryID: categoryMeals, Description: "Team lunch", Date: "2026-10-18",
					Receipt: &ReceiptUpload{Filename: "receipt.pdf"}}
			},
			want: domainerr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			svc := h.submissionService(DefaultSubmissionConfig(), nil)

			_, err := svc.Submit(context.Background(), tt.req(h))
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.expenses.expenses)
			assert.Empty(t, h.storage.saved)
			assert.Equal(t, []string{OutcomeInvalid}, h.metrics.outcomes)
		})
	}
}

func TestSubmissionService_FileTooLarge(t *testing.T) {
	h := newHarness(t)
	cfg := DefaultSubmissionConfig()
	cfg.MaxFileSize = 8
	svc := h.submissionService(cfg, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to airport",
		Date:        "2026-10-10",
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	})
	assert.ErrorIs(t, err, domainerr.ErrValidation)
	assert.Empty(t, h.storage.saved)
}

func TestSubmissionService_ReceiptWithExtractedAmount(t *testing.T) {
	h := newHarness(t)
	h.extractor = receiptExtractor(decPtr("845.5"))
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	})
	require.NoError(t, err)

	exp := res.Expense
	assert.Equal(t, "845.50", exp.Amount.StringFixed(2))
	assert.Equal(t, workflow.StateSubmitted, exp.Status)
	assert.Equal(t, screening.ContentHash([]byte(cabReceipt)), exp.FileHash)
	assert.Equal(t, screening.TextHash(cabReceipt), exp.TextHash)
	assert.True(t, exp.AIValidated)

	require.NotNil(t, res.Attachment)
	assert.Equal(t, exp.ID, res.Attachment.ExpenseID)
	assert.Equal(t, "cab.txt", res.Attachment.OriginalName)
	require.NotNil(t, res.CrossCheck)
	assert.True(t, res.CrossCheck.IsApproved)
	require.NotNil(t, res.Classifier)
	assert.Equal(t, screening.DecisionSkip, res.Classifier.Decision)

	assert.Equal(t,
		[]string{entity.AuditActionCreated, entity.AuditActionAmountExtracted, entity.AuditActionAttachmentAdded},
		h.auditRepo.actions(entity.AuditEntityExpense, exp.ID))
	assert.Len(t, h.storage.saved, 1)
	assert.Empty(t, h.storage.deleted)
}

func TestSubmissionService_DuplicateReceipt(t *testing.T) {
	h := newHarness(t)
	h.extractor = receiptExtractor(nil)
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	req := SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Amount:      decPtr("845.50"),
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	}
	first, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	// a different submitter uploading the same bytes is still a duplicate
	req.Actor = h.user(otherID)
	req.Receipt = &ReceiptUpload{Filename: "copy.txt", Data: []byte(cabReceipt)}
	_, err = svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerr.ErrDuplicateReceipt)
	assert.ErrorIs(t, err, domainerr.ErrValidation)

	assert.Len(t, h.expenses.expenses, 1)
	assert.Equal(t, workflow.StateSubmitted, h.expenses.stored(first.Expense.ID).Status)
	assert.Len(t, h.storage.saved, 1)
	assert.Equal(t, []string{OutcomeAccepted, OutcomeDuplicate}, h.metrics.outcomes)
}

func TestSubmissionService_DuplicateCaughtByConstraint(t *testing.T) {
	h := newHarness(t)
	h.extractor = receiptExtractor(nil)
	// the pre-check misses a concurrent insert; the unique key catches it
	h.attachments.existsByHashFunc = func(ctx context.Context, hash string) (bool, error) { return false, nil }
	h.attachments.byHash[screening.ContentHash([]byte(cabReceipt))] = &entity.Attachment{ID: 99, ExpenseID: 42}
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Amount:      decPtr("845.50"),
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	})
	assert.ErrorIs(t, err, domainerr.ErrDuplicateReceipt)
	assert.Empty(t, h.storage.saved)
	assert.Len(t, h.storage.deleted, 1)
	assert.Empty(t, h.dispatcher.types())
	assert.Equal(t, []string{OutcomeDuplicate}, h.metrics.outcomes)
}

func TestSubmissionService_ClassifierBlock(t *testing.T) {
	h := newHarness(t)
	h.extractor = receiptExtractor(nil)
	classifier := &mockClassifier{
		classifyFunc: func(ctx context.Context, req *port.ClassifierRequest) (*port.ClassifierResponse, error) {
			assert.Equal(t, "845.50", req.Metadata.Amount)
			assert.Equal(t, "Travel", req.Metadata.Category)
			assert.True(t, req.Metadata.DateValid)
			return &port.ClassifierResponse{Decision: "block", RiskLevel: "high", Reasons: []string{"edited total"}}, nil
		},
	}
	svc := h.submissionService(DefaultSubmissionConfig(), classifier)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Amount:      decPtr("845.50"),
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	})
	require.Error(t, err)

	var rejection *domainerr.Rejection
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, []string{"edited total"}, rejection.Reasons)
	assert.Empty(t, h.expenses.expenses)
	assert.Empty(t, h.storage.saved)
	assert.Empty(t, h.storage.deleted)
	assert.Equal(t, h.storage.staged, h.storage.cleaned)
	assert.Equal(t, []string{screening.DecisionBlock}, h.metrics.verdicts)
	assert.Equal(t, []string{OutcomeBlocked}, h.metrics.outcomes)
}

func TestSubmissionService_ClassifierReviewStrict(t *testing.T) {
	review := &mockClassifier{
		classifyFunc: func(ctx context.Context, req *port.ClassifierRequest) (*port.ClassifierResponse, error) {
			return &port.ClassifierResponse{Decision: "review", RiskLevel: "medium", Reasons: []string{"blurry"}}, nil
		},
	}

	tests := []struct {
		name    string
		strict  bool
		wantErr bool
	}{
		{name: "advisory", strict: false, wantErr: false},
		{name: "strict", strict: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.extractor = receiptExtractor(nil)
			cfg := DefaultSubmissionConfig()
			cfg.Strict = tt.strict
			svc := h.submissionService(cfg, review)

			res, err := svc.Submit(context.Background(), SubmitRequest{
				Actor:       h.user(employeeID),
				CategoryID:  categoryTravel,
				Description: "Cab to client office",
				Date:        "2026-10-10",
				Amount:      decPtr("845.50"),
				Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
			})
			if tt.wantErr {
				assert.ErrorIs(t, err, domainerr.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, screening.DecisionReview, res.Classifier.Decision)
		})
	}
}

func TestSubmissionService_PersistFailureRemovesFile(t *testing.T) {
	h := newHarness(t)
	h.extractor = receiptExtractor(nil)
	h.expenses.createFunc = func(ctx context.Context, expense *entity.Expense) error {
		return errors.New("disk I/O error")
	}
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Amount:      decPtr("845.50"),
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: []byte(cabReceipt)},
	})
	require.Error(t, err)
	assert.Empty(t, h.storage.saved)
	assert.Len(t, h.storage.deleted, 1)
	assert.Empty(t, h.dispatcher.types())
	assert.Equal(t, []string{OutcomeError}, h.metrics.outcomes)
}

func TestSubmissionService_ExtractionFailureStillSubmits(t *testing.T) {
	h := newHarness(t)
	h.extractor = &mockExtractor{
		extractFunc: func(ctx context.Context, path, fileType string) (*port.Extraction, error) {
			return nil, errors.New("corrupt pdf")
		},
	}
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryMeals,
		Description: "Lunch with vendor",
		Date:        "2026-10-10",
		Receipt:     &ReceiptUpload{Filename: "lunch.pdf", Data: []byte("%PDF-1.4 broken")},
	})
	if err != nil {
		// heuristics may still reject an unreadable receipt; it must not be an infrastructure error
		assert.ErrorIs(t, err, domainerr.ErrValidation)
		return
	}
	assert.True(t, res.Expense.HasPlaceholderAmount())
	assert.Empty(t, res.Expense.TextHash)
}

func TestSubmissionService_ScreensStagedUpload(t *testing.T) {
	h := newHarness(t)

	// outside any temp directory so the file metadata check stats the file
	dir, err := os.MkdirTemp(".", "staged")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	h.storage.stageFunc = func(ctx context.Context, ext string, data []byte) (string, error) {
		path := filepath.Join(dir, "upload."+ext)
		return path, os.WriteFile(path, data, 0o644)
	}
	var extractedFrom string
	h.extractor = &mockExtractor{
		extractFunc: func(ctx context.Context, path, fileType string) (*port.Extraction, error) {
			extractedFrom = path
			return &port.Extraction{Text: cabReceipt, Amount: decPtr("845.50")}, nil
		},
	}
	svc := h.submissionService(DefaultSubmissionConfig(), nil)

	data := append([]byte(cabReceipt+"\n"), make([]byte, 4096)...)
	res, err := svc.Submit(context.Background(), SubmitRequest{
		Actor:       h.user(employeeID),
		CategoryID:  categoryTravel,
		Description: "Cab to client office",
		Date:        "2026-10-10",
		Receipt:     &ReceiptUpload{Filename: "cab.txt", Data: data},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "upload.txt"), extractedFrom)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, 100, res.Receipt.Checks["file_metadata"].Score)
	assert.NotContains(t, res.Receipt.RiskFactors, "File was created very recently")

	// stored only after screening passed; the scratch copy is released
	require.NotNil(t, res.Attachment)
	assert.Equal(t, "receipts/1.txt", res.Attachment.StoragePath)
	assert.Len(t, h.storage.saved, 1)
	assert.Equal(t, []string{filepath.Join(dir, "upload.txt")}, h.storage.cleaned)
}
