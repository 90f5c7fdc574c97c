package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

// Repositories return (nil, nil) when a single-row lookup finds nothing.
// All methods run on the transaction carried by ctx when there is one.

// ExpenseRepository defines persistence operations for Expense
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error
	GetByID(ctx context.Context, id int64) (*entity.Expense, error)
	// Update writes the editable fields and the policy check only while the
	// expense is still in from. It reports false when the status moved on.
	Update(ctx context.Context, expense *entity.Expense, from workflow.State) (bool, error)
	// UpdateStatus moves the expense only if it is still in from. It reports
	// false when another writer got there first.
	UpdateStatus(ctx context.Context, id int64, from, to workflow.State, remarks *string) (bool, error)
	// Delete removes the expense only while it is still in from
	Delete(ctx context.Context, id int64, from workflow.State) (bool, error)
	List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error)
	// ListPrior returns the submitter's earlier expenses with their receipt hashes
	ListPrior(ctx context.Context, submitterID int64) ([]*entity.PriorExpense, error)
}

// AttachmentRepository defines persistence operations for Attachment
type AttachmentRepository interface {
	// Create fails with domainerr.ErrDuplicateReceipt when the content hash exists
	Create(ctx context.Context, att *entity.Attachment) error
	ExistsByHash(ctx context.Context, contentHash string) (bool, error)
	GetByExpenseID(ctx context.Context, expenseID int64) ([]*entity.Attachment, error)
}

// ApprovalRepository defines persistence operations for ApprovalRecord
type ApprovalRepository interface {
	// Create inserts a record unless one exists for (expense, role); created
	// reports whether this call inserted it
	Create(ctx context.Context, record *entity.ApprovalRecord) (created bool, err error)
	Get(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error)
	ListByExpense(ctx context.Context, expenseID int64) ([]*entity.ApprovalRecord, error)
	// Decide records a decision only while the record is PENDING and reports
	// whether a row changed
	Decide(ctx context.Context, id int64, decision entity.Decision, decidedBy int64, comments string, at time.Time) (bool, error)
}

// PolicyRepository reads categories and spending limits
type PolicyRepository interface {
	GetCategory(ctx context.Context, id int64) (*entity.Category, error)
	ListCategories(ctx context.Context) ([]*entity.Category, error)
	GetPolicy(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error)
	ListPolicies(ctx context.Context, gradeID int64) ([]*entity.Policy, error)
	GetTransportPolicy(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error)
}

// AuditRepository is append-only
type AuditRepository interface {
	Create(ctx context.Context, entry *entity.AuditLogEntry) error
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLogEntry, error)
}

// NotificationRepository stores in-app notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// UserRepository reads user reference data
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error)
}

// TransactionManager runs fn inside one transaction. Nested calls join the
// outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
