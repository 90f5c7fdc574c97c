package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/config"
	"github.com/garyjia/expense-workflow/internal/container"
	httpapi "github.com/garyjia/expense-workflow/internal/interfaces/http"
	"github.com/garyjia/expense-workflow/migrations"
	"github.com/garyjia/expense-workflow/pkg/database"
	"github.com/garyjia/expense-workflow/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "expensed",
		Short:         "Expense reimbursement workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the event worker",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(configPath)
			},
		},
		newTokenCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		userID int64
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set; the API accepts the X-User-ID header instead")
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := httpapi.IssueToken(cfg.Auth.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user the token authenticates")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func loadAndLog(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "expensed",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runMigrate(configPath string) error {
	cfg, logger, err := loadAndLog(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.New(database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, logger).RunMigrations(migrations.FS)
	if err != nil {
		return err
	}
	logger.Info("Migrations complete", zap.Int("applied", applied))
	return nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, logger, err := loadAndLog(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting expense workflow service",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address()))

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}

	services := c.Services()
	repos := c.Repositories()
	kv := utils.NewKVLogger(logger)

	var instrumentation httpapi.Instrumentation
	if m := c.Metrics(); m != nil {
		instrumentation = m
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadSize:   cfg.Storage.MaxFileSize,
		Version:         version,
	}, httpapi.Services{
		Submission:    services.Submission,
		Expenses:      services.Expense,
		Decisions:     services.Decision,
		Notifications: services.Notification,
		Policy:        services.Policy,
		PolicyRepo:    repos.Policy,
	}, httpapi.NewAuthenticator(cfg.Auth.JWTSecret, repos.User, kv), instrumentation, kv)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty; requests authenticate with the X-User-ID header")
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start returns after the signal once in-flight requests finish
	serveErr := server.Start(sigCtx)
	if serveErr != nil {
		logger.Error("HTTP server stopped", zap.Error(serveErr))
	}

	if err := c.Close(); err != nil {
		logger.Error("Container closed with errors", zap.Error(err))
	}

	logger.Info("Server exited")
	return serveErr
}
