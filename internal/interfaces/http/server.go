// Package http is the REST adapter: it translates requests into
// application service calls and errors into status codes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
	Version         string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadSize:   10 << 20,
		Version:         "dev",
	}
}

// Instrumentation is the optional metrics hook of the router
type Instrumentation interface {
	Middleware() gin.HandlerFunc
	Handler() http.Handler
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	auth       *Authenticator
	metrics    Instrumentation
	logger     Logger
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(config ServerConfig, svc Services, auth *Authenticator, metrics Instrumentation, logger Logger) *Server {
	router := gin.New()
	router.MaxMultipartMemory = config.MaxUploadSize

	server := &Server{
		config:   config,
		router:   router,
		handlers: NewHandlers(svc, config.MaxUploadSize, config.Version, logger),
		auth:     auth,
		metrics:  metrics,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()
	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if actor := actorFrom(c); actor != nil {
			fields = append(fields, "user_id", actor.ID)
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api", s.auth.Middleware())
	{
		api.POST("/expenses", h.SubmitExpense)
		api.GET("/expenses", h.ListExpenses)
		api.GET("/expenses/:id", h.GetExpense)
		api.PUT("/expenses/:id", h.UpdateExpense)
		api.DELETE("/expenses/:id", h.DeleteExpense)
		api.GET("/expenses/:id/audit", h.AuditTrail)
		api.POST("/expenses/:id/extract-amount", h.ExtractAmount)

		approvals := api.Group("/approvals")
		approvals.GET("/manager/pending", h.ManagerPending)
		approvals.POST("/manager/:id/approve", h.decide(h.svc.Decisions.ManagerApprove))
		approvals.POST("/manager/:id/reject", h.decide(h.svc.Decisions.ManagerReject))
		approvals.GET("/finance/pending", h.FinancePending)
		approvals.POST("/finance/:id/approve", h.decide(h.svc.Decisions.FinanceApprove))
		approvals.POST("/finance/:id/reject", h.decide(h.svc.Decisions.FinanceReject))
		approvals.POST("/finance/:id/pay", h.decide(h.svc.Decisions.MarkPaid))
		approvals.POST("/hr/:id/approve", h.decide(h.svc.Decisions.HRApprove))
		approvals.POST("/hr/:id/reject", h.decide(h.svc.Decisions.HRReject))
		approvals.GET("/:expenseId", h.ExpenseApprovals)

		api.GET("/notifications", h.ListNotifications)
		api.GET("/notifications/unread-count", h.UnreadCount)
		api.POST("/notifications/:id/read", h.MarkNotificationRead)
		api.POST("/notifications/read-all", h.MarkAllNotificationsRead)

		api.GET("/categories", h.ListCategories)
		api.GET("/policies", h.ListPolicies)
		api.GET("/policies/check", h.CheckPolicy)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
