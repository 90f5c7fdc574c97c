// Package container provides dependency injection and lifecycle management
// for the expense workflow service.
package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/screening"
	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/application/workflow"
	"github.com/garyjia/expense-workflow/internal/config"
	"github.com/garyjia/expense-workflow/internal/domain/event"
	"github.com/garyjia/expense-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/expense-workflow/internal/infrastructure/external/openai"
	"github.com/garyjia/expense-workflow/internal/infrastructure/extraction"
	"github.com/garyjia/expense-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-workflow/internal/infrastructure/storage"
	"github.com/garyjia/expense-workflow/internal/infrastructure/voucher"
	"github.com/garyjia/expense-workflow/internal/infrastructure/worker"
	"github.com/garyjia/expense-workflow/migrations"
	"github.com/garyjia/expense-workflow/pkg/database"
	"github.com/garyjia/expense-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB        *database.DB
	TxManager *sqlite.DB
}

// StorageBundle holds receipt storage and text extraction.
type StorageBundle struct {
	FileStorage port.FileStorage
	Extractor   port.TextExtractor
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).RunMigrations(migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied", zap.Int("count", applied))

	return &DatabaseBundle{
		DB:        db,
		TxManager: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates every repository over one connection pool.
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Expense:      repository.NewExpenseRepository(db.DB, logger),
		Attachment:   repository.NewAttachmentRepository(db.DB, logger),
		Approval:     repository.NewApprovalRepository(db.DB, logger),
		Policy:       repository.NewPolicyRepository(db.DB, logger),
		User:         repository.NewUserRepository(db.DB, logger),
		Notification: repository.NewNotificationRepository(db.DB, logger),
		Audit:        repository.NewAuditRepository(db.DB, logger),
	}
}

// ProvideNotifier returns the Lark notifier, or nil when Lark is disabled
// and only inbox entries are written.
func ProvideNotifier(cfg config.LarkConfig, logger *zap.Logger) port.Notifier {
	if !cfg.Enabled {
		logger.Info("Lark delivery disabled")
		return nil
	}
	sdk := lark.NewSDKClient(lark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
	}, logger)
	return lark.NewNotifier(sdk, logger)
}

// ProvideClassifier returns the chat-completion classifier, or nil when
// it is disabled.
func ProvideClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (port.Classifier, error) {
	if !cfg.Enabled {
		logger.Info("Receipt classifier disabled")
		return nil, nil
	}

	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier prompts: %w", err)
	}

	logger.Info("Receipt classifier enabled",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.Bool("strict", cfg.Strict))

	return openai.NewClassifier(openai.ClassifierConfig{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Model,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}, prompts, logger), nil
}

// ProvideStorage creates the receipt store and the text extractor.
func ProvideStorage(cfg config.StorageConfig, logger *zap.Logger) *StorageBundle {
	return &StorageBundle{
		FileStorage: storage.NewLocalFileStorage(cfg.BaseDir, logger),
		Extractor:   extraction.NewDocumentExtractor(cfg.MaxPDFPages, logger),
	}
}

// ProvideVoucherWriter returns the spreadsheet writer, or nil when voucher
// generation is disabled.
func ProvideVoucherWriter(cfg config.VoucherConfig, logger *zap.Logger) port.VoucherWriter {
	if !cfg.Enabled {
		return nil
	}
	return voucher.NewPaymentVoucherWriter(voucher.Config{
		OutputDir:   cfg.OutputDir,
		CompanyName: cfg.CompanyName,
	}, logger)
}

// ProvideDispatcher creates the event dispatcher. m may be nil.
func ProvideDispatcher(logger *zap.Logger, m *metrics.Metrics) dispatcher.Dispatcher {
	opts := []dispatcher.Option{dispatcher.WithLogger(utils.NewKVLogger(logger))}
	if m != nil {
		opts = append(opts, dispatcher.WithObserver(m.ObserveHandler))
	}
	return dispatcher.NewDispatcher(opts...)
}

// ServiceDeps holds the dependencies of the application services.
type ServiceDeps struct {
	Repos         *RepositoryBundle
	TxManager     port.TransactionManager
	Storage       *StorageBundle
	Classifier    port.Classifier
	Notifier      port.Notifier
	VoucherWriter port.VoucherWriter
	Dispatcher    dispatcher.Dispatcher
	Metrics       service.Metrics
	Config        *config.Config
	Logger        *zap.Logger
}

// ProvideServices builds the workflow engine and every application service.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps.Repos == nil || deps.TxManager == nil || deps.Storage == nil {
		return nil, fmt.Errorf("repositories, transaction manager and storage are required")
	}
	repos := deps.Repos
	cfg := deps.Config
	log := utils.NewKVLogger(deps.Logger)

	audit := service.NewAuditWriter(repos.Audit)
	approvals := service.NewApprovalRecordManager(repos.Approval, audit, log)
	engine := workflow.NewEngine(repos.Expense, audit, deps.TxManager, workflow.WithDispatcher(deps.Dispatcher))
	evaluator := policy.NewEvaluator(repos.Policy, log)

	submission := service.NewSubmissionService(service.SubmissionDeps{
		ExpenseRepo:    repos.Expense,
		AttachmentRepo: repos.Attachment,
		PolicyRepo:     repos.Policy,
		UserRepo:       repos.User,
		TxManager:      deps.TxManager,
		Storage:        deps.Storage.FileStorage,
		Extractor:      deps.Storage.Extractor,
		Approvals:      approvals,
		Engine:         engine,
		Audit:          audit,
		Policy:         evaluator,
		Classifier:     screening.NewClassifierAdapter(deps.Classifier, log, screening.WithTimeout(cfg.Classifier.Timeout)),
		Validator:      screening.NewReceiptValidator(),
		CrossChecker:   screening.NewCrossChecker(repos.Expense, nil),
		Metrics:        deps.Metrics,
		Logger:         log,
	}, service.SubmissionConfig{
		MaxFileSize:     cfg.Storage.MaxFileSize,
		AllowedTypes:    cfg.Storage.AllowedTypes,
		MaxAgeDays:      cfg.Screening.MaxAgeDays,
		Strict:          cfg.Classifier.Strict,
		PolicyHardBlock: cfg.Screening.PolicyHardBlock,
	})

	bundle := &ServiceBundle{
		Submission: submission,
		Expense: service.NewExpenseService(service.ExpenseDeps{
			ExpenseRepo:    repos.Expense,
			AttachmentRepo: repos.Attachment,
			PolicyRepo:     repos.Policy,
			UserRepo:       repos.User,
			TxManager:      deps.TxManager,
			Storage:        deps.Storage.FileStorage,
			Extractor:      deps.Storage.Extractor,
			Approvals:      approvals,
			Engine:         engine,
			Audit:          audit,
			Policy:         evaluator,
			Logger:         log,
		}),
		Decision: service.NewDecisionService(
			repos.Expense, approvals, engine, deps.TxManager,
			repos.User, repos.Policy, log,
			service.WithDecisionMetrics(deps.Metrics),
		),
		Notification: service.NewNotificationService(repos.Notification, repos.User, deps.Notifier, log),
		Policy:       evaluator,
	}

	if deps.VoucherWriter != nil {
		bundle.Voucher = service.NewVoucherService(
			repos.Expense, repos.Approval, repos.User, repos.Policy, deps.VoucherWriter, log,
		)
	}

	return bundle, nil
}

// ProvideEventWorker creates the background worker behind the dispatcher.
func ProvideEventWorker(cfg config.WorkerConfig, m *metrics.Metrics, logger *zap.Logger) *worker.EventWorker {
	var observer worker.JobObserver
	if m != nil {
		observer = m.ObserveJob
	}
	return worker.NewEventWorker(worker.EventWorkerConfig{
		QueueSize:      cfg.QueueSize,
		Concurrency:    cfg.Concurrency,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
		HandlerTimeout: cfg.HandlerTimeout,
	}, observer, logger)
}

// RegisterEventHandlers subscribes the notification and voucher services.
// Handlers only enqueue; the event worker runs them with retries.
func RegisterEventHandlers(d dispatcher.Dispatcher, w *worker.EventWorker, services *ServiceBundle) {
	eventTypes := []event.Type{
		event.TypeExpenseSubmitted,
		event.TypeExpenseApproved,
		event.TypeExpenseRejected,
		event.TypePaymentProcessed,
	}
	for _, t := range eventTypes {
		d.SubscribeNamed(t, "notify", "Write inbox entries and deliver over Lark",
			w.Handler("notify", services.Notification.HandleEvent))
	}

	if services.Voucher != nil {
		d.SubscribeNamed(event.TypePaymentProcessed, "voucher", "Generate the payment voucher",
			w.Handler("voucher", services.Voucher.HandleEvent))
	}
}
