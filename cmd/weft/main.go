package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weft-io/weft/internal/adapters/engine"
	"github.com/weft-io/weft/internal/adapters/router"
	"github.com/weft-io/weft/internal/adapters/scheduler"
	"github.com/weft-io/weft/internal/adapters/storage"
	"github.com/weft-io/weft/internal/adapters/validator"
	"github.com/weft-io/weft/internal/api"
	"github.com/weft-io/weft/internal/config"
	"github.com/weft-io/weft/internal/domain"
	"github.com/weft-io/weft/internal/ports"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "weft",
		Short:         "Workflow orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(serveCommand(), validateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg)

	store, err := storage.New(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	gate := ports.AllowAllGate{}
	eng := engine.New(cfg.EngineConfig(), router.NewStandalone(logger), gate, store, logger)
	mgr := engine.NewManager(eng, logger)
	sched := scheduler.New(cfg.SchedulerConfig(), store, mgr, logger)
	sched.SetGate(gate)
	valid := validator.New(cfg.ValidatorLimits(), logger)
	server := api.NewServer(store, valid, mgr, eng, sched, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Listen)
		errCh <- server.Start(cfg.Server.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := mgr.Drain(cfg.ShutdownTimeout); err != nil {
		logger.Warn("executions still running at shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}

	logger.Info("stopped")
	return nil
}

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.json>",
		Short: "Validate a workflow definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			graph, err := domain.UnmarshalGraph(data)
			if err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			result := validator.New(domain.DefaultValidatorLimits(), logger).Validate(graph)

			for _, f := range result.Errors {
				fmt.Fprintln(cmd.OutOrStdout(), "error:", f.String())
			}
			for _, f := range result.Warnings {
				fmt.Fprintln(cmd.OutOrStdout(), "warning:", f.String())
			}
			if !result.Valid {
				return fmt.Errorf("%d validation errors", len(result.Errors))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "workflow is valid")
			return nil
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
