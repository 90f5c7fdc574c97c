package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/config"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/domain/workflow"
	"github.com/garyjia/expense-workflow/internal/infrastructure/worker"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "expenses.db"), MaxOpenConns: 1, MaxIdleConns: 1},
		Storage: config.StorageConfig{
			BaseDir:      filepath.Join(dir, "uploads"),
			MaxFileSize:  1 << 20,
			AllowedTypes: []string{"pdf", "txt"},
			MaxPDFPages:  2,
		},
		Classifier: config.ClassifierConfig{Timeout: time.Second},
		Screening:  config.ScreeningConfig{MaxAgeDays: 31},
		Voucher:    config.VoucherConfig{Enabled: true, OutputDir: filepath.Join(dir, "vouchers"), CompanyName: "Acme"},
		Worker: config.WorkerConfig{
			QueueSize: 16, Concurrency: 2, MaxAttempts: 2,
			RetryDelay: 10 * time.Millisecond, HandlerTimeout: time.Second,
		},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func TestNewContainer_Errors(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	bad := testConfig(t)
	bad.Database.Path = ""
	_, err = NewContainer(bad, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx), "second start")

	health := c.Health(ctx)
	assert.True(t, health.Overall, "%+v", health.Components)
	assert.Equal(t, "disabled", health.Components["classifier"].Message)

	categories, err := c.Repositories().Policy.ListCategories(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, categories)

	assert.Len(t, c.Dispatcher().ListHandlers(event.TypeExpenseSubmitted), 1)
	assert.Len(t, c.Dispatcher().ListHandlers(event.TypePaymentProcessed), 2)
	assert.NotNil(t, c.Services().Voucher)
	assert.NotNil(t, c.Metrics())

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close")
	assert.Error(t, c.Start(ctx), "start after close")
}

func TestContainer_SubmissionNotifiesManager(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Close() })

	users := c.Repositories().User
	employee, err := users.GetByID(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, employee)
	require.NotNil(t, employee.ManagerID)

	amount := decimal.RequireFromString("450.00")
	result, err := c.Services().Submission.Submit(ctx, service.SubmitRequest{
		Actor:       employee,
		CategoryID:  2,
		Description: "Team lunch with client",
		Date:        time.Now().Format(entity.DateLayout),
		Amount:      &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSubmitted, result.Expense.Status)
	assert.True(t, result.Policy.IsCompliant)

	notifications := c.Services().Notification
	require.Eventually(t, func() bool {
		n, err := notifications.UnreadCount(ctx, *employee.ManagerID)
		return err == nil && n > 0
	}, 5*time.Second, 20*time.Millisecond)

	manager, err := users.GetByID(ctx, *employee.ManagerID)
	require.NoError(t, err)
	pending, err := c.Services().Expense.ListPendingForManager(ctx, manager, service.ListQuery{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.Expense.ID, pending[0].ID)
}

func TestRegisterEventHandlers_WithoutVoucher(t *testing.T) {
	d := dispatcher.NewDispatcher()
	w := worker.NewEventWorker(worker.DefaultEventWorkerConfig(), nil, zap.NewNop())

	RegisterEventHandlers(d, w, &ServiceBundle{Notification: nopNotifications{}})

	for _, typ := range []event.Type{
		event.TypeExpenseSubmitted, event.TypeExpenseApproved,
		event.TypeExpenseRejected, event.TypePaymentProcessed,
	} {
		handlers := d.ListHandlers(typ)
		require.Len(t, handlers, 1, typ)
		assert.Equal(t, "notify", handlers[0].Name)
	}
}

func TestOptionalProviders(t *testing.T) {
	logger := zap.NewNop()

	assert.Nil(t, ProvideNotifier(config.LarkConfig{}, logger))
	assert.NotNil(t, ProvideNotifier(config.LarkConfig{Enabled: true, AppID: "cli_x", AppSecret: "s"}, logger))

	classifier, err := ProvideClassifier(config.ClassifierConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, classifier)

	classifier, err = ProvideClassifier(config.ClassifierConfig{Enabled: true, Model: "m", BaseURL: "http://localhost:1/v1"}, logger)
	require.NoError(t, err)
	assert.NotNil(t, classifier)

	_, err = ProvideClassifier(config.ClassifierConfig{Enabled: true, PromptsPath: filepath.Join(t.TempDir(), "none.yaml")}, logger)
	assert.Error(t, err)

	assert.Nil(t, ProvideVoucherWriter(config.VoucherConfig{}, logger))
}

type nopNotifications struct {
	service.NotificationService
}

func (nopNotifications) HandleEvent(ctx context.Context, evt *event.Event) error {
	return nil
}
