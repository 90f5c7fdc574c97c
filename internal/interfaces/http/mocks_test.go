package http

import (
	"context"

	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type mockUserRepo struct {
	users map[int64]*entity.User
	err   error
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

func (m *mockUserRepo) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	return nil, nil
}

type mockSubmission struct {
	submitFunc func(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
}

func (m *mockSubmission) Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	return m.submitFunc(ctx, req)
}

type mockExpenses struct {
	getFunc            func(ctx context.Context, actor *entity.User, id int64) (*service.ExpenseDetail, error)
	listFunc           func(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error)
	pendingManagerFunc func(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error)
	updateFunc         func(ctx context.Context, actor *entity.User, id int64, upd service.ExpenseUpdate) (*entity.Expense, error)
	deleteFunc         func(ctx context.Context, actor *entity.User, id int64) error
}

func (m *mockExpenses) Get(ctx context.Context, actor *entity.User, id int64) (*service.ExpenseDetail, error) {
	return m.getFunc(ctx, actor, id)
}

func (m *mockExpenses) List(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error) {
	return m.listFunc(ctx, actor, q)
}

func (m *mockExpenses) ListPendingForManager(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error) {
	return m.pendingManagerFunc(ctx, actor, q)
}

func (m *mockExpenses) ListPendingForFinance(ctx context.Context, actor *entity.User, q service.ListQuery) ([]*entity.Expense, error) {
	return []*entity.Expense{}, nil
}

func (m *mockExpenses) Update(ctx context.Context, actor *entity.User, id int64, upd service.ExpenseUpdate) (*entity.Expense, error) {
	return m.updateFunc(ctx, actor, id, upd)
}

func (m *mockExpenses) Delete(ctx context.Context, actor *entity.User, id int64) error {
	return m.deleteFunc(ctx, actor, id)
}

func (m *mockExpenses) ExtractAmount(ctx context.Context, actor *entity.User, id int64) (*entity.Expense, error) {
	return nil, nil
}

func (m *mockExpenses) AuditTrail(ctx context.Context, actor *entity.User, id int64) ([]*entity.AuditLogEntry, error) {
	return []*entity.AuditLogEntry{}, nil
}

type mockDecisions struct {
	calls      []string
	decideFunc func(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error)
}

func (m *mockDecisions) call(name string, ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	m.calls = append(m.calls, name)
	return m.decideFunc(ctx, req)
}

func (m *mockDecisions) ManagerApprove(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("ManagerApprove", ctx, req)
}

func (m *mockDecisions) ManagerReject(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("ManagerReject", ctx, req)
}

func (m *mockDecisions) FinanceApprove(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("FinanceApprove", ctx, req)
}

func (m *mockDecisions) FinanceReject(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("FinanceReject", ctx, req)
}

func (m *mockDecisions) HRApprove(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("HRApprove", ctx, req)
}

func (m *mockDecisions) HRReject(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("HRReject", ctx, req)
}

func (m *mockDecisions) MarkPaid(ctx context.Context, req service.DecisionRequest) (*service.DecisionResult, error) {
	return m.call("MarkPaid", ctx, req)
}

type mockNotifications struct {
	listFunc     func(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error)
	markReadFunc func(ctx context.Context, id, userID int64) error
}

func (m *mockNotifications) List(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	return m.listFunc(ctx, userID, unreadOnly, limit)
}

func (m *mockNotifications) MarkRead(ctx context.Context, id, userID int64) error {
	return m.markReadFunc(ctx, id, userID)
}

func (m *mockNotifications) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return 3, nil
}

func (m *mockNotifications) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return 2, nil
}

func (m *mockNotifications) HandleEvent(ctx context.Context, evt *event.Event) error {
	return nil
}

type mockEvaluator struct {
	checkFunc func(ctx context.Context, req policy.CheckRequest) (*entity.PolicyResult, error)
}

func (m *mockEvaluator) Check(ctx context.Context, req policy.CheckRequest) (*entity.PolicyResult, error) {
	return m.checkFunc(ctx, req)
}

func (m *mockEvaluator) PoliciesForGrade(ctx context.Context, gradeID *int64) ([]*entity.Policy, error) {
	return []*entity.Policy{}, nil
}
