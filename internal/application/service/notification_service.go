package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

const maxInboxLimit = 100

// NotificationService owns the in-app inbox and turns lifecycle events
// into messages
type NotificationService interface {
	List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)

	// HandleEvent writes inbox entries for the event's recipients and sends
	// them through the external notifier. Only lookup and inbox failures are
	// returned; external delivery is best effort and a retry would duplicate
	// the inbox rows already written.
	HandleEvent(ctx context.Context, evt *event.Event) error
}

var messageTemplates = template.Must(template.New("messages").Parse(`
{{define "details"}}Details:
- Amount: ₹{{.Amount}}
- Category: {{.Category}}
- Description: {{.Description}}
- Date: {{.ExpenseDate}}{{end}}

{{define "submitted"}}{{.SubmitterName}} has submitted a new expense for your review.

{{template "details" .}}
{{if .PolicyFlagged}}
This expense exceeds the policy limit for the submitter's grade.
{{end}}
Please review and approve or reject it at your earliest convenience.{{end}}

{{define "approved"}}Your expense has been approved by {{.ActorName}} ({{.ActorRole}}).

{{template "details" .}}

The expense will now move to finance review for final processing.{{end}}

{{define "finance_review"}}{{.SubmitterName}}'s expense was approved by {{.ActorName}} and is waiting for finance verification.

{{template "details" .}}{{end}}

{{define "rejected"}}Your expense has been rejected by {{.ActorName}} ({{.ActorRole}}).

{{template "details" .}}

Remarks: {{if .Remarks}}{{.Remarks}}{{else}}No remarks provided{{end}}

You may resubmit the expense with corrections if needed.{{end}}

{{define "paid"}}Your expense reimbursement has been processed by {{.ActorName}}.

{{template "details" .}}

The amount should reflect in your account shortly.{{end}}
`))

// messageData is what the templates render
type messageData struct {
	Amount        string
	Category      string
	Description   string
	ExpenseDate   string
	SubmitterName string
	ActorName     string
	ActorRole     string
	Remarks       string
	PolicyFlagged bool
}

type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	userRepo         port.UserRepository
	notifier         port.Notifier
	logger           Logger
	now              func() time.Time
}

// NewNotificationService creates a new NotificationService. notifier may be
// nil, in which case only inbox entries are written.
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	userRepo port.UserRepository,
	notifier port.Notifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		notifier:         notifier,
		logger:           logger,
		now:              time.Now,
	}
}

func (s *notificationServiceImpl) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	if limit <= 0 || limit > maxInboxLimit {
		limit = maxInboxLimit
	}
	items, err := s.notificationRepo.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		s.logger.Error("Failed to list notifications", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

func (s *notificationServiceImpl) MarkRead(ctx context.Context, id, userID int64) error {
	ok, err := s.notificationRepo.MarkRead(ctx, id, userID)
	if err != nil {
		s.logger.Error("Failed to mark notification read", "error", err, "id", id)
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !ok {
		return domainerr.NotFound("notification", id)
	}
	return nil
}

func (s *notificationServiceImpl) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	n, err := s.notificationRepo.MarkAllRead(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to mark notifications read", "error", err, "user_id", userID)
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *notificationServiceImpl) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.notificationRepo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}

	data := messageData{
		Amount:        evt.GetPayloadString(event.KeyAmount),
		Category:      evt.GetPayloadString(event.KeyCategory),
		Description:   evt.GetPayloadString(event.KeyDescription),
		ExpenseDate:   evt.GetPayloadString(event.KeyExpenseDate),
		SubmitterName: evt.GetPayloadString(event.KeySubmitterName),
		ActorName:     evt.GetPayloadString(event.KeyActorName),
		ActorRole:     workflow.Role(evt.GetPayloadString(event.KeyActorRole)).Label(),
		Remarks:       evt.GetPayloadString(event.KeyRemarks),
		PolicyFlagged: evt.GetPayloadBool(event.KeyPolicyFlagged),
	}
	submitterID := evt.GetPayloadInt(event.KeySubmitterID)

	var errs []error
	send := func(recipients []*entity.User, kind entity.NotificationType, title, tmpl string) {
		if len(recipients) == 0 {
			return
		}
		message, err := render(tmpl, data)
		if err != nil {
			errs = append(errs, err)
			return
		}
		for _, user := range recipients {
			if err := s.deliver(ctx, user, kind, title, message, evt.ExpenseID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	switch evt.Type {
	case event.TypeExpenseSubmitted:
		managers, err := s.managersFor(ctx, evt)
		if err != nil {
			errs = append(errs, err)
		}
		title := fmt.Sprintf("New Expense Submitted: ₹%s by %s", data.Amount, data.SubmitterName)
		send(managers, entity.NotificationInfo, title, "submitted")

	case event.TypeExpenseApproved:
		send(s.userList(ctx, submitterID, &errs), entity.NotificationSuccess, "Expense Approved: ₹"+data.Amount, "approved")
		if evt.GetPayloadString(event.KeyActorRole) == workflow.RoleManager.String() {
			finance, err := s.userRepo.ListByRole(ctx, workflow.RoleFinance)
			if err != nil {
				errs = append(errs, fmt.Errorf("list finance users: %w", err))
			}
			send(finance, entity.NotificationInfo, "Expense Review Required - Finance Department", "finance_review")
		}

	case event.TypeExpenseRejected:
		send(s.userList(ctx, submitterID, &errs), entity.NotificationWarning, "Expense Rejected: ₹"+data.Amount, "rejected")

	case event.TypePaymentProcessed:
		send(s.userList(ctx, submitterID, &errs), entity.NotificationSuccess, "Payment Processed: ₹"+data.Amount, "paid")

	default:
		return fmt.Errorf("unknown event type: %s", evt.Type)
	}

	return errors.Join(errs...)
}

// deliver writes the inbox entry, then tries the external channel once
func (s *notificationServiceImpl) deliver(ctx context.Context, user *entity.User, kind entity.NotificationType, title, message string, expenseID int64) error {
	id := expenseID
	n := &entity.Notification{
		UserID:     user.ID,
		Type:       kind,
		Title:      title,
		Message:    message,
		EntityType: entity.AuditEntityExpense,
		EntityID:   &id,
		CreatedAt:  s.now(),
	}
	if err := s.notificationRepo.Create(ctx, n); err != nil {
		s.logger.Error("Failed to store notification", "error", err, "user_id", user.ID, "expense_id", expenseID)
		return fmt.Errorf("store notification for user %d: %w", user.ID, err)
	}

	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Notify(ctx, user, title, message); err != nil {
		s.logger.Error("Failed to send notification", "error", err, "user_id", user.ID, "expense_id", expenseID)
		return nil
	}

	s.logger.Info("Notification sent", "user_id", user.ID, "expense_id", expenseID, "title", title)
	return nil
}

// managersFor returns the submitter's manager, or every manager when the
// submitter has none
func (s *notificationServiceImpl) managersFor(ctx context.Context, evt *event.Event) ([]*entity.User, error) {
	if managerID := evt.GetPayloadInt(event.KeyManagerID); managerID != 0 {
		manager, err := s.userRepo.GetByID(ctx, managerID)
		if err != nil {
			return nil, fmt.Errorf("get manager %d: %w", managerID, err)
		}
		if manager != nil {
			return []*entity.User{manager}, nil
		}
	}

	managers, err := s.userRepo.ListByRole(ctx, workflow.RoleManager)
	if err != nil {
		return nil, fmt.Errorf("list managers: %w", err)
	}
	return managers, nil
}

func (s *notificationServiceImpl) userList(ctx context.Context, id int64, errs *[]error) []*entity.User {
	if id == 0 {
		return nil
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("get user %d: %w", id, err))
		return nil
	}
	if user == nil {
		return nil
	}
	return []*entity.User{user}
}

func render(name string, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s message: %w", name, err)
	}
	return buf.String(), nil
}
