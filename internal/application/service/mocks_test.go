package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/screening"
	appwf "github.com/garyjia/expense-workflow/internal/application/workflow"
	"github.com/garyjia/expense-workflow/internal/domain/domainerr"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
)

var testNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// Mock logger
type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// Mock transaction manager runs fn inline
type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return m.commitErr
}

// Mock expense repository backed by a map. Stored expenses are copied in
// and out so callers never share pointers.
type mockExpenseRepo struct {
	mu        sync.Mutex
	nextID    int64
	expenses  map[int64]*entity.Expense
	managerOf map[int64]int64

	createFunc       func(ctx context.Context, expense *entity.Expense) error
	getByIDFunc      func(ctx context.Context, id int64) (*entity.Expense, error)
	updateStatusFunc func(ctx context.Context, id int64, from, to workflow.State, remarks *string) (bool, error)
}

func newMockExpenseRepo() *mockExpenseRepo {
	return &mockExpenseRepo{expenses: map[int64]*entity.Expense{}, managerOf: map[int64]int64{}}
}

func (m *mockExpenseRepo) put(e *entity.Expense) *entity.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		m.nextID++
		e.ID = m.nextID
	} else if e.ID > m.nextID {
		m.nextID = e.ID
	}
	c := *e
	m.expenses[e.ID] = &c
	return e
}

func (m *mockExpenseRepo) stored(id int64) *entity.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil
	}
	c := *e
	return &c
}

func (m *mockExpenseRepo) Create(ctx context.Context, expense *entity.Expense) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, expense)
	}
	m.put(expense)
	return nil
}

func (m *mockExpenseRepo) GetByID(ctx context.Context, id int64) (*entity.Expense, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return m.stored(id), nil
}

func (m *mockExpenseRepo) Update(ctx context.Context, expense *entity.Expense, from workflow.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[expense.ID]
	if !ok || e.Status != from {
		return false, nil
	}
	c := *e
	c.CategoryID = expense.CategoryID
	c.TransportTypeID = expense.TransportTypeID
	c.Amount = expense.Amount
	c.ExpenseDate = expense.ExpenseDate
	c.Description = expense.Description
	c.PolicyCheck = expense.PolicyCheck
	c.UpdatedAt = expense.UpdatedAt
	m.expenses[expense.ID] = &c
	return true, nil
}

func (m *mockExpenseRepo) UpdateStatus(ctx context.Context, id int64, from, to workflow.State, remarks *string) (bool, error) {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, from, to, remarks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	if remarks != nil {
		r := *remarks
		e.RejectionRemarks = &r
	}
	return true, nil
}

func (m *mockExpenseRepo) Delete(ctx context.Context, id int64, from workflow.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok || e.Status != from {
		return false, nil
	}
	delete(m.expenses, id)
	return true, nil
}

func (m *mockExpenseRepo) List(ctx context.Context, filter entity.ExpenseFilter) ([]*entity.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Expense
	for _, e := range m.expenses {
		if filter.SubmitterID != 0 && e.SubmitterID != filter.SubmitterID {
			continue
		}
		if filter.ManagerID != 0 && m.managerOf[e.SubmitterID] != filter.ManagerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsState(filter.Statuses, e.Status) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockExpenseRepo) ListPrior(ctx context.Context, submitterID int64) ([]*entity.PriorExpense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PriorExpense
	for _, e := range m.expenses {
		if e.SubmitterID == submitterID {
			out = append(out, &entity.PriorExpense{
				ID: e.ID, Amount: e.Amount, ExpenseDate: e.ExpenseDate, FileHash: e.FileHash, TextHash: e.TextHash,
			})
		}
	}
	return out, nil
}

func containsState(states []workflow.State, s workflow.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// Mock attachment repository enforcing unique content hashes
type mockAttachmentRepo struct {
	mu     sync.Mutex
	nextID int64
	byHash map[string]*entity.Attachment

	existsByHashFunc func(ctx context.Context, hash string) (bool, error)
}

func newMockAttachmentRepo() *mockAttachmentRepo {
	return &mockAttachmentRepo{byHash: map[string]*entity.Attachment{}}
}

func (m *mockAttachmentRepo) Create(ctx context.Context, att *entity.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[att.ContentHash]; ok {
		return fmt.Errorf("%w: content hash %s", domainerr.ErrDuplicateReceipt, att.ContentHash)
	}
	m.nextID++
	att.ID = m.nextID
	c := *att
	m.byHash[att.ContentHash] = &c
	return nil
}

func (m *mockAttachmentRepo) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	if m.existsByHashFunc != nil {
		return m.existsByHashFunc(ctx, hash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[hash]
	return ok, nil
}

func (m *mockAttachmentRepo) GetByExpenseID(ctx context.Context, expenseID int64) ([]*entity.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Attachment
	for _, a := range m.byHash {
		if a.ExpenseID == expenseID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Mock approval repository with a compare-and-set Decide
type approvalKey struct {
	expenseID int64
	role      workflow.Role
}

type mockApprovalRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[approvalKey]*entity.ApprovalRecord

	decideFunc func(ctx context.Context, id int64, decision entity.Decision, decidedBy int64, comments string, at time.Time) (bool, error)
}

func newMockApprovalRepo() *mockApprovalRepo {
	return &mockApprovalRepo{records: map[approvalKey]*entity.ApprovalRecord{}}
}

func (m *mockApprovalRepo) Create(ctx context.Context, record *entity.ApprovalRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := approvalKey{record.ExpenseID, record.Role}
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.nextID++
	record.ID = m.nextID
	c := *record
	m.records[key] = &c
	return true, nil
}

func (m *mockApprovalRepo) Get(ctx context.Context, expenseID int64, role workflow.Role) (*entity.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[approvalKey{expenseID, role}]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *mockApprovalRepo) ListByExpense(ctx context.Context, expenseID int64) ([]*entity.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ApprovalRecord
	for k, r := range m.records {
		if k.expenseID == expenseID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockApprovalRepo) Decide(ctx context.Context, id int64, decision entity.Decision, decidedBy int64, comments string, at time.Time) (bool, error) {
	if m.decideFunc != nil {
		return m.decideFunc(ctx, id, decision, decidedBy, comments, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID != id {
			continue
		}
		if r.Decision != entity.DecisionPending {
			return false, nil
		}
		by := decidedBy
		when := at
		r.Decision = decision
		r.DecidedBy = &by
		r.Comments = comments
		r.DecidedAt = &when
		return true, nil
	}
	return false, nil
}

func (m *mockApprovalRepo) count(expenseID int64) int {
	records, _ := m.ListByExpense(context.Background(), expenseID)
	return len(records)
}

// Mock policy repository
type mockPolicyRepo struct {
	categories map[int64]*entity.Category
	policies   map[[2]int64]*entity.Policy

	getCategoryFunc func(ctx context.Context, id int64) (*entity.Category, error)
}

func (m *mockPolicyRepo) GetCategory(ctx context.Context, id int64) (*entity.Category, error) {
	if m.getCategoryFunc != nil {
		return m.getCategoryFunc(ctx, id)
	}
	return m.categories[id], nil
}

func (m *mockPolicyRepo) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	var out []*entity.Category
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockPolicyRepo) GetPolicy(ctx context.Context, gradeID, categoryID int64) (*entity.Policy, error) {
	return m.policies[[2]int64{gradeID, categoryID}], nil
}

func (m *mockPolicyRepo) ListPolicies(ctx context.Context, gradeID int64) ([]*entity.Policy, error) {
	var out []*entity.Policy
	for k, p := range m.policies {
		if k[0] == gradeID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPolicyRepo) GetTransportPolicy(ctx context.Context, gradeID, transportTypeID int64) (*entity.TransportPolicy, error) {
	return nil, nil
}

// Mock audit repository
type mockAuditRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*entity.AuditLogEntry

	createFunc func(ctx context.Context, entry *entity.AuditLogEntry) error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *entity.AuditLogEntry) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AuditLogEntry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepo) actions(entityType string, entityID int64) []string {
	entries, _ := m.ListByEntity(context.Background(), entityType, entityID)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

// Mock notification repository
type mockNotificationRepo struct {
	mu     sync.Mutex
	nextID int64
	items  []*entity.Notification

	createFunc func(ctx context.Context, n *entity.Notification) error
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.items = append(m.items, n)
	return nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Notification
	for _, n := range m.items {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.items {
		if n.ID == id && n.UserID == userID {
			n.IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.UserID == userID && !item.IsRead {
			item.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if item.UserID == userID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) forUser(userID int64) []*entity.Notification {
	items, _ := m.ListByUser(context.Background(), userID, false, 1000)
	return items
}

// Mock user repository
type mockUserRepo struct {
	users map[int64]*entity.User

	getByIDFunc func(ctx context.Context, id int64) (*entity.User, error)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return m.users[id], nil
}

func (m *mockUserRepo) ListByRole(ctx context.Context, role workflow.Role) ([]*entity.User, error) {
	var out []*entity.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Mock file storage
type mockStorage struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
	staged  []string
	cleaned []string

	saveFunc  func(ctx context.Context, ext string, data []byte) (string, error)
	stageFunc func(ctx context.Context, ext string, data []byte) (string, error)
}

func newMockStorage() *mockStorage {
	return &mockStorage{saved: map[string][]byte{}}
}

func (m *mockStorage) Save(ctx context.Context, ext string, data []byte) (string, error) {
	if m.saveFunc != nil {
		return m.saveFunc(ctx, ext, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("receipts/%d.%s", len(m.saved)+1, ext)
	m.saved[path] = data
	return path, nil
}

func (m *mockStorage) Read(ctx context.Context, relativePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.saved[relativePath]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func (m *mockStorage) Delete(ctx context.Context, relativePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, relativePath)
	m.deleted = append(m.deleted, relativePath)
	return nil
}

func (m *mockStorage) GetFullPath(relativePath string) string {
	return "/nonexistent/" + relativePath
}

func (m *mockStorage) Stage(ctx context.Context, ext string, data []byte) (string, func(), error) {
	var path string
	if m.stageFunc != nil {
		p, err := m.stageFunc(ctx, ext, data)
		if err != nil {
			return "", nil, err
		}
		path = p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == "" {
		path = fmt.Sprintf("/nonexistent/staged/%d.%s", len(m.staged)+1, ext)
	}
	m.staged = append(m.staged, path)
	return path, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cleaned = append(m.cleaned, path)
	}, nil
}

// Mock text extractor
type mockExtractor struct {
	extractFunc func(ctx context.Context, path, fileType string) (*port.Extraction, error)
}

func (m *mockExtractor) Extract(ctx context.Context, path, fileType string) (*port.Extraction, error) {
	if m.extractFunc != nil {
		return m.extractFunc(ctx, path, fileType)
	}
	return &port.Extraction{}, nil
}

// Mock classifier
type mockClassifier struct {
	classifyFunc func(ctx context.Context, req *port.ClassifierRequest) (*port.ClassifierResponse, error)
}

func (m *mockClassifier) Classify(ctx context.Context, req *port.ClassifierRequest) (*port.ClassifierResponse, error) {
	return m.classifyFunc(ctx, req)
}

// Mock notifier
type mockNotifier struct {
	mu   sync.Mutex
	sent []string

	notifyFunc func(ctx context.Context, recipient *entity.User, title, message string) error
}

func (m *mockNotifier) Notify(ctx context.Context, recipient *entity.User, title, message string) error {
	if m.notifyFunc != nil {
		if err := m.notifyFunc(ctx, recipient, title, message); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, fmt.Sprintf("%d:%s", recipient.ID, title))
	return nil
}

// Mock voucher writer
type mockVoucherWriter struct {
	written []*port.PaymentVoucher

	writeFunc func(ctx context.Context, v *port.PaymentVoucher) (string, error)
}

func (m *mockVoucherWriter) Write(ctx context.Context, v *port.PaymentVoucher) (string, error) {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, v)
	}
	m.written = append(m.written, v)
	return fmt.Sprintf("vouchers/voucher_%d.xlsx", v.ExpenseID), nil
}

// recordingDispatcher captures published events instead of running handlers
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name, description string, handler dispatcher.Handler) {
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.DispatchAsync(ctx, evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func (d *recordingDispatcher) last() *event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return nil
	}
	return d.events[len(d.events)-1]
}

// recordingMetrics counts what the services report
type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	decisions []string
	verdicts  []string
}

func (m *recordingMetrics) SubmissionOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) Decision(role workflow.Role, decision entity.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, string(role)+":"+string(decision))
}

func (m *recordingMetrics) ClassifierVerdict(decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, decision)
}

func (m *recordingMetrics) ScreeningDuration(time.Duration) {}

// Test users
const (
	employeeID int64 = 1
	managerID  int64 = 2
	financeID  int64 = 3
	hrID       int64 = 4
	adminID    int64 = 5
	otherID    int64 = 6
)

const (
	categoryTravel int64 = 1
	categoryMeals  int64 = 2
)

func int64Ptr(v int64) *int64 { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// harness wires the services over in-memory repositories
type harness struct {
	expenses      *mockExpenseRepo
	attachments   *mockAttachmentRepo
	approvalRepo  *mockApprovalRepo
	policies      *mockPolicyRepo
	auditRepo     *mockAuditRepo
	notifications *mockNotificationRepo
	users         *mockUserRepo
	storage       *mockStorage
	extractor     *mockExtractor
	dispatcher    *recordingDispatcher
	metrics       *recordingMetrics
	txManager     *mockTxManager

	audit     *AuditWriter
	approvals ApprovalRecordManager
	engine    appwf.Engine
	decisions DecisionService
	expenseSv ExpenseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	grade1 := int64Ptr(1)
	users := &mockUserRepo{users: map[int64]*entity.User{
		employeeID: {ID: employeeID, Name: "Asha Employee", Email: "asha@example.com", Role: workflow.RoleEmployee, GradeID: grade1, ManagerID: int64Ptr(managerID)},
		managerID:  {ID: managerID, Name: "Ravi Manager", Email: "ravi@example.com", Role: workflow.RoleManager, GradeID: grade1},
		financeID:  {ID: financeID, Name: "Meera Finance", Email: "meera@example.com", Role: workflow.RoleFinance},
		hrID:       {ID: hrID, Name: "Kiran HR", Email: "kiran@example.com", Role: workflow.RoleHR},
		adminID:    {ID: adminID, Name: "Root Admin", Email: "admin@example.com", Role: workflow.RoleAdmin},
		otherID:    {ID: otherID, Name: "Dev Other", Email: "dev@example.com", Role: workflow.RoleEmployee, GradeID: grade1, ManagerID: int64Ptr(managerID)},
	}}

	h := &harness{
		expenses:     newMockExpenseRepo(),
		attachments:  newMockAttachmentRepo(),
		approvalRepo: newMockApprovalRepo(),
		policies: &mockPolicyRepo{
			categories: map[int64]*entity.Category{
				categoryTravel: {ID: categoryTravel, Name: "Travel"},
				categoryMeals:  {ID: categoryMeals, Name: "Meals"},
			},
			policies: map[[2]int64]*entity.Policy{
				{1, categoryTravel}: {ID: 1, GradeID: 1, CategoryID: categoryTravel, MaxAmount: decimal.NewFromInt(5000), Frequency: entity.FrequencyPerTrip},
				{1, categoryMeals}:  {ID: 2, GradeID: 1, CategoryID: categoryMeals, MaxAmount: decimal.NewFromInt(1000), Frequency: entity.FrequencyDaily},
			},
		},
		auditRepo:     &mockAuditRepo{},
		notifications: &mockNotificationRepo{},
		users:         users,
		storage:       newMockStorage(),
		extractor:     &mockExtractor{},
		dispatcher:    &recordingDispatcher{},
		metrics:       &recordingMetrics{},
		txManager:     &mockTxManager{},
	}
	for id, u := range users.users {
		if u.ManagerID != nil {
			h.expenses.managerOf[id] = *u.ManagerID
		}
	}

	logger := &mockLogger{}
	h.audit = NewAuditWriter(h.auditRepo)
	h.audit.now = fixedClock
	h.approvals = NewApprovalRecordManager(h.approvalRepo, h.audit, logger)
	h.approvals.(*approvalRecordManagerImpl).now = fixedClock
	h.engine = appwf.NewEngine(h.expenses, h.audit, h.txManager, appwf.WithDispatcher(h.dispatcher))
	h.decisions = NewDecisionService(h.expenses, h.approvals, h.engine, h.txManager, h.users, h.policies, logger,
		WithDecisionMetrics(h.metrics))
	h.expenseSv = NewExpenseService(ExpenseDeps{
		ExpenseRepo:    h.expenses,
		AttachmentRepo: h.attachments,
		PolicyRepo:     h.policies,
		UserRepo:       h.users,
		TxManager:      h.txManager,
		Storage:        h.storage,
		Extractor:      h.extractor,
		Approvals:      h.approvals,
		Engine:         h.engine,
		Audit:          h.audit,
		Policy:         policy.NewEvaluator(h.policies, logger),
		Logger:         logger,
	})
	return h
}

// submissionService builds a submission service; classifier may be nil
func (h *harness) submissionService(cfg SubmissionConfig, classifier port.Classifier) SubmissionService {
	logger := &mockLogger{}
	return NewSubmissionService(SubmissionDeps{
		ExpenseRepo:    h.expenses,
		AttachmentRepo: h.attachments,
		PolicyRepo:     h.policies,
		UserRepo:       h.users,
		TxManager:      h.txManager,
		Storage:        h.storage,
		Extractor:      h.extractor,
		Approvals:      h.approvals,
		Engine:         h.engine,
		Audit:          h.audit,
		Policy:         policy.NewEvaluator(h.policies, logger),
		Classifier:     screening.NewClassifierAdapter(classifier, logger, screening.WithAdapterClock(fixedClock)),
		Validator:      screening.NewReceiptValidator(screening.WithClock(fixedClock)),
		CrossChecker:   screening.NewCrossChecker(h.expenses, fixedClock),
		Metrics:        h.metrics,
		Logger:         logger,
	}, cfg, WithSubmissionClock(fixedClock))
}

func (h *harness) user(id int64) *entity.User {
	return h.users.users[id]
}

// seedExpense stores an expense in the given status with its approval
// records provisioned the way submission and decisions would have left them
func (h *harness) seedExpense(t *testing.T, status workflow.State, amount string) *entity.Expense {
	t.Helper()
	e := h.expenses.put(&entity.Expense{
		SubmitterID:     employeeID,
		CategoryID:      categoryTravel,
		Amount:          decimal.RequireFromString(amount),
		ExpenseDate:     time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC),
		Description:     "Client visit cab fare",
		Status:          status,
		RiskFactors:     []string{},
		Recommendations: []string{},
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	})

	ctx := context.Background()
	for _, role := range []workflow.Role{workflow.RoleManager, workflow.RoleHR} {
		if _, err := h.approvals.EnsurePending(ctx, e.ID, role); err != nil {
			t.Fatalf("seed %s approval: %v", role, err)
		}
	}
	if status == workflow.StateManagerApprovedForVerification {
		rec, _ := h.approvalRepo.Get(ctx, e.ID, workflow.RoleManager)
		_, _ = h.approvalRepo.Decide(ctx, rec.ID, entity.DecisionApproved, managerID, "", testNow)
		if _, err := h.approvals.EnsurePending(ctx, e.ID, workflow.RoleFinance); err != nil {
			t.Fatalf("seed finance approval: %v", err)
		}
	}
	return e
}
