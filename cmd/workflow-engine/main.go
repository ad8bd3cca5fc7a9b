// Command workflow-engine runs the work item workflow execution engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/opsboard/workflow"
	"github.com/opsboard/workflow/config"
	"github.com/opsboard/workflow/httpapi"
	"github.com/opsboard/workflow/postgres"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "workflow-engine",
		Short:         "Work item workflow execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.AddCommand(serveCommand(), validateCommand())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var templateDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := newLogger(cfg)
			return serve(cmd.Context(), cfg, templateDir, logger)
		},
	}
	cmd.Flags().StringVar(&templateDir, "templates", "templates", "directory of workflow template YAML files")
	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	if cfg.Logging.Format == "json" {
		return workflow.NewJSONLogger(level)
	}
	return workflow.NewLogger(level)
}

func serve(ctx context.Context, cfg *config.Config, templateDir string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store workflow.ExecutionStore
	var sessions workflow.SessionStore
	if cfg.Database.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		pgStore := postgres.NewStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = pgStore
		pgSessions := postgres.NewSessionStore(pool, cfg.Uploads.SessionTTL)
		sessions = pgSessions
		if cfg.Uploads.SessionTTL > 0 {
			go sweepSessions(ctx, pgSessions, cfg.Uploads.SessionTTL, logger)
		}
		logger.Info("using postgres store")
	} else {
		store = workflow.NewMemoryStore()
		sessions = workflow.NewMemorySessionStore(cfg.Uploads.SessionTTL)
		logger.Warn("no database configured, using in-memory store")
	}

	var activityLog workflow.ActivityLogger = workflow.NewNullActivityLogger()
	if cfg.ActivityLogDir != "" {
		activityLog = workflow.NewFileActivityLogger(cfg.ActivityLogDir)
	}

	templates := workflow.NewFileTemplateProvider(templateDir)
	workItems := workflow.NewMemoryWorkItemStore()

	manager, err := workflow.NewExecutionManager(workflow.ExecutionManagerOptions{
		Store:     store,
		Templates: templates,
		WorkItems: workItems,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	completion, err := workflow.NewCompletionResolver(workflow.CompletionResolverOptions{
		Store:       store,
		Templates:   templates,
		WorkItems:   workItems,
		Webhooks:    workflow.NewWebhookClient(cfg.Callbacks.WebhookTimeout),
		ActivityLog: activityLog,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	steps, err := workflow.NewStepMachine(workflow.StepMachineOptions{
		Store:      store,
		Completion: completion,
		PhotoAnalysis: workflow.NewPhotoAnalysisTrigger(workflow.PhotoAnalysisTriggerOptions{
			ActivityLog: activityLog,
			Logger:      logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	uploads, err := workflow.NewUploadReassembler(workflow.UploadReassemblerOptions{
		Sessions:      sessions,
		Steps:         steps,
		MaxChunkBytes: cfg.Uploads.MaxChunkBytes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	server := &httpapi.Server{
		Manager:    manager,
		Steps:      steps,
		Completion: completion,
		Uploads:    uploads,
		Store:      store,
		Logger:     logger,
	}
	server.RegisterRoutes(e)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(cfg.Server.Listen)
	}()
	logger.Info("workflow engine listening", "address", cfg.Server.Listen)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// sweepSessions reclaims abandoned upload sessions on an interval tied to
// the TTL.
func sweepSessions(ctx context.Context, sessions *postgres.SessionStore, ttl time.Duration, logger *slog.Logger) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessions.DeleteExpiredSessions(ctx)
			if err != nil {
				logger.Warn("upload session sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("swept expired upload sessions", "count", deleted)
			}
		}
	}
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <template.yaml>",
		Short: "Validate a workflow template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			color.Green("✓ template %q is valid (%d steps, %d callbacks)",
				template.Name, len(template.Steps), len(template.Callbacks))
			return nil
		},
	}
}
