package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/application/policy"
	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/application/service"
	"github.com/garyjia/expense-workflow/internal/config"
	"github.com/garyjia/expense-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/expense-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-workflow/internal/infrastructure/worker"
	"github.com/garyjia/expense-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	notifier      port.Notifier
	classifier    port.Classifier
	storage       *StorageBundle
	voucherWriter port.VoucherWriter
	metrics       *metrics.Metrics

	// Application
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Workers
	eventWorker *worker.EventWorker
	workers     *worker.Manager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Expense      port.ExpenseRepository
	Attachment   port.AttachmentRepository
	Approval     port.ApprovalRepository
	Policy       port.PolicyRepository
	User         port.UserRepository
	Notification port.NotificationRepository
	Audit        port.AuditRepository
}

// ServiceBundle groups all application services. Voucher is nil when
// voucher generation is disabled.
type ServiceBundle struct {
	Submission   service.SubmissionService
	Expense      service.ExpenseService
	Decision     service.DecisionService
	Notification service.NotificationService
	Voucher      service.VoucherService
	Policy       policy.Evaluator
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing:
// 1. Database, migrations and repositories
// 2. External adapters (Lark, classifier, storage, vouchers)
// 3. Dispatcher and application services
// 4. Event worker
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initExternal(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize external adapters: %w", err)
	}
	c.logger.Info("External adapters initialized")

	if err := c.initServices(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(ctx); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close stops the workers, then the dispatcher, then the database. Events
// still queued when Close is called are drained before it returns.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")

	var errs []error

	// The dispatcher goes first so in-flight async handlers finish
	// enqueuing before the worker drains.
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if err := c.closeDatabase(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) closeDatabase() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		c.logger.Error("Failed to close database", zap.Error(err))
	}
	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		set("database", ComponentHealth{Message: "not initialized"})
	default:
		if err := c.db.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workers == nil {
		set("workers", ComponentHealth{Message: "not initialized"})
	} else {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d, queued events: %d", c.workers.GetWorkerCount(), c.eventWorker.QueueDepth()),
		})
	}

	set("dispatcher", ComponentHealth{Healthy: c.dispatcher != nil})
	set("lark", ComponentHealth{Healthy: true, Message: enabledMessage(c.notifier != nil)})
	set("classifier", ComponentHealth{Healthy: true, Message: enabledMessage(c.classifier != nil)})

	return status
}

func enabledMessage(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = bundle.DB
	c.txManager = bundle.TxManager
	c.repositories = ProvideRepositories(c.db, c.logger)
	return nil
}

func (c *Container) initExternal() error {
	c.notifier = ProvideNotifier(c.config.Lark, c.logger)

	classifier, err := ProvideClassifier(c.config.Classifier, c.logger)
	if err != nil {
		return err
	}
	c.classifier = classifier

	c.storage = ProvideStorage(c.config.Storage, c.logger)
	c.voucherWriter = ProvideVoucherWriter(c.config.Voucher, c.logger)

	if c.config.Metrics.Enabled {
		c.metrics = metrics.New()
	}
	return nil
}

func (c *Container) initServices() error {
	c.dispatcher = ProvideDispatcher(c.logger, c.metrics)

	deps := &ServiceDeps{
		Repos:         c.repositories,
		TxManager:     c.txManager,
		Storage:       c.storage,
		Classifier:    c.classifier,
		Notifier:      c.notifier,
		VoucherWriter: c.voucherWriter,
		Dispatcher:    c.dispatcher,
		Config:        c.config,
		Logger:        c.logger,
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics
	}

	services, err := ProvideServices(deps)
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.eventWorker = ProvideEventWorker(c.config.Worker, c.metrics, c.logger)
	RegisterEventHandlers(c.dispatcher, c.eventWorker, c.services)

	c.workers = worker.NewManager(c.logger)
	c.workers.Register(c.eventWorker)
	return c.workers.StartAll(ctx)
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the Prometheus metrics, nil when disabled.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}
