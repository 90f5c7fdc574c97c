package http

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Services are the application services the handlers call
type Services struct {
	Submission    service.SubmissionService
	Expenses      service.ExpenseService
	Decisions     service.DecisionService
	Notifications service.NotificationService
	Policy        policy.Evaluator
	PolicyRepo    port.PolicyRepository
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	svc           Services
	maxUploadSize int64
	version       string
	logger        Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc Services, maxUploadSize int64, version string, logger Logger) *Handlers {
	return &Handlers{
		svc:           svc,
		maxUploadSize: maxUploadSize,
		version:       version,
		logger:        logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DecisionBody is the optional JSON body of approve/reject/pay calls
type DecisionBody struct {
	Comments string   `json:"comments"`
	Analysis []string `json:"analysis"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	})
}

// SubmitExpense handles POST /api/expenses (multipart form)
func (h *Handlers) SubmitExpense(c *gin.Context) {
	req := service.SubmitRequest{
		Actor:       actorFrom(c),
		Description: c.PostForm("description"),
		Date:        c.PostForm("date"),
	}

	var err error
	if req.CategoryID, err = parseFormID(c.PostForm("category_id")); err != nil {
		h.respondError(c, domainerr.Validation("category_id must be a positive integer"))
		return
	}
	if raw := strings.TrimSpace(c.PostForm("transport_type_id")); raw != "" {
		id, err := parseFormID(raw)
		if err != nil {
			h.respondError(c, domainerr.Validation("transport_type_id must be a positive integer"))
			return
		}
		req.TransportTypeID = &id
	}
	if raw := strings.TrimSpace(c.PostForm("amount")); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			h.respondError(c, domainerr.Validation("amount %q is not a number", raw))
			return
		}
		req.Amount = &amount
	}

	receipt, err := h.readReceipt(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	req.Receipt = receipt

	result, err := h.svc.Submission.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result)
}

// readReceipt returns nil when the form carries no receipt file
func (h *Handlers) readReceipt(c *gin.Context) (*service.ReceiptUpload, error) {
	header, err := c.FormFile("receipt")
	if err == http.ErrMissingFile {
		return nil, nil
	}
	if err != nil {
		return nil, domainerr.Validation("invalid receipt upload: %v", err)
	}
	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		return nil, domainerr.Validation("receipt exceeds %d bytes", h.maxUploadSize)
	}

	f, err := header.Open()
	if err != nil {
		return nil, domainerr.Validation("cannot open receipt: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, domainerr.Validation("cannot read receipt: %v", err)
	}
	return &service.ReceiptUpload{Filename: filepath.Base(header.Filename), Data: data}, nil
}

// ListExpenses handles GET /api/expenses
func (h *Handlers) ListExpenses(c *gin.Context) {
	q, err := listQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	items, err := h.svc.Expenses.List(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, items)
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Expenses.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, detail)
}

// UpdateExpense handles PUT /api/expenses/:id
func (h *Handlers) UpdateExpense(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var upd service.ExpenseUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		h.respondError(c, domainerr.Validation("invalid request body: %v", err))
		return
	}
	expense, err := h.svc.Expenses.Update(c.Request.Context(), actorFrom(c), id, upd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, expense)
}

// DeleteExpense handles DELETE /api/expenses/:id
func (h *Handlers) DeleteExpense(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Expenses.Delete(c.Request.Context(), actorFrom(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

// ExtractAmount handles POST /api/expenses/:id/extract-amount
func (h *Handlers) ExtractAmount(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	expense, err := h.svc.Expenses.ExtractAmount(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, expense)
}

// AuditTrail handles GET /api/expenses/:id/audit
func (h *Handlers) AuditTrail(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.svc.Expenses.AuditTrail(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, entries)
}

// ExpenseApprovals handles GET /api/approvals/:expenseId
func (h *Handlers) ExpenseApprovals(c *gin.Context) {
	id, ok := h.pathID(c, "expenseId")
	if !ok {
		return
	}
	detail, err := h.svc.Expenses.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, detail.Approvals)
}

// ManagerPending handles GET /api/approvals/manager/pending
func (h *Handlers) ManagerPending(c *gin.Context) {
	h.pending(c, h.svc.Expenses.ListPendingForManager)
}

// FinancePending handles GET /api/approvals/finance/pending
func (h *Handlers) FinancePending(c *gin.Context) {
	h.pending(c, h.svc.Expenses.ListPendingForFinance)
}

type pendingLister func(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error)

func (h *Handlers) pending(c *gin.Context, list pendingLister) {
	q, err := listQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	items, err := list(c.Request.Context(), actorFrom(c), q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, items)
}

type decideFunc func(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error)

// decide builds the handler for one decision endpoint
func (h *Handlers) decide(fn decideFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.pathID(c, "id")
		if !ok {
			return
		}

		var body DecisionBody
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
				h.respondError(c, domainerr.Validation("invalid request body: %v", err))
				return
			}
		}

		result, err := fn(c.Request.Context(), service.DecisionRequest{
			ExpenseID: id,
			Actor:     actorFrom(c),
			Comments:  body.Comments,
			Analysis:  body.Analysis,
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
		respondOK(c, http.StatusOK, result)
	}
}

// ListNotifications handles GET /api/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	unreadOnly := c.Query("unread") == "true"

	items, err := h.svc.Notifications.List(c.Request.Context(), actorFrom(c).ID, unreadOnly, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, items)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *Handlers) UnreadCount(c *gin.Context) {
	count, err := h.svc.Notifications.UnreadCount(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"unread_count": count})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Notifications.MarkRead(c.Request.Context(), id, actorFrom(c).ID); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": id, "is_read": true})
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.svc.Notifications.MarkAllRead(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"updated": n})
}

// ListCategories handles GET /api/categories
func (h *Handlers) ListCategories(c *gin.Context) {
	categories, err := h.svc.PolicyRepo.ListCategories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, categories)
}

// ListPolicies handles GET /api/policies, the limits of the actor's grade
func (h *Handlers) ListPolicies(c *gin.Context) {
	policies, err := h.svc.Policy.PoliciesForGrade(c.Request.Context(), actorFrom(c).GradeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, policies)
}

// CheckPolicy handles GET /api/policies/check. It evaluates without
// creating anything; grade_id defaults to the actor's grade.
func (h *Handlers) CheckPolicy(c *gin.Context) {
	actor := actorFrom(c)
	req := policy.CheckRequest{GradeID: actor.GradeID, ExpenseDate: time.Now()}

	var err error
	if req.CategoryID, err = parseFormID(c.Query("category_id")); err != nil {
		h.respondError(c, domainerr.Validation("category_id must be a positive integer"))
		return
	}
	if req.Amount, err = decimal.NewFromString(c.Query("amount")); err != nil {
		h.respondError(c, domainerr.Validation("amount must be a number"))
		return
	}
	if raw := c.Query("grade_id"); raw != "" {
		id, err := parseFormID(raw)
		if err != nil {
			h.respondError(c, domainerr.Validation("grade_id must be a positive integer"))
			return
		}
		req.GradeID = &id
	}
	if raw := c.Query("transport_type_id"); raw != "" {
		id, err := parseFormID(raw)
		if err != nil {
			h.respondError(c, domainerr.Validation("transport_type_id must be a positive integer"))
			return
		}
		req.TransportTypeID = &id
	}
	if raw := c.Query("date"); raw != "" {
		if req.ExpenseDate, err = time.Parse(entity.DateLayout, raw); err != nil {
			h.respondError(c, domainerr.Validation("date must be in YYYY-MM-DD format"))
			return
		}
	}

	result, err := h.svc.Policy.Check(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondMessage(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func parseFormID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

func listQuery(c *gin.Context) (service.ListQuery, error) {
	var q service.ListQuery
	if raw := c.Query("status"); raw != "" {
		state, err := workflow.ParseState(strings.ToUpper(raw))
		if err != nil {
			return q, domainerr.Validation("%v", err)
		}
		q.Status = state
	}
	q.Limit, _ = strconv.Atoi(c.Query("limit"))
	q.Offset, _ = strconv.Atoi(c.Query("offset"))
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q, nil
}
