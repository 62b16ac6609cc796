package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sassoftware/rpath-tools-sub000/internal/config"
	rlog "github.com/sassoftware/rpath-tools-sub000/internal/log"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
)

// The stage commands are how a job leaves the process that created it.
// Their arguments are a job identifier followed by the job's own arguments,
// which may look like flags.

var detachCmd = &cobra.Command{
	Use:                task.StageDetach + " <id> [args...]",
	Hidden:             true,
	DisableFlagParsing: true,
	RunE: func(_ *cobra.Command, args []string) error {
		inv, err := task.ParseInvocation(args)
		if err != nil {
			return err
		}
		return task.SpawnWorker(inv, cfg.WorkDir)
	},
}

var workerCmd = &cobra.Command{
	Use:                task.StageWorker + " <id> [args...]",
	Hidden:             true,
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := task.ParseInvocation(args)
		if err != nil {
			return err
		}

		// standard streams are on the null device here
		if err := os.MkdirAll(filepath.Dir(cfg.WorkerLog), 0o755); err != nil {
			return fmt.Errorf("create worker log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.WorkerLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open worker log: %w", err)
		}
		defer f.Close()
		logger := config.NewLogger(f, cfg.LogLevel)

		ctx := rlog.ContextAttrs(cmd.Context(), slog.Int("pid", os.Getpid()))
		a, err := newApp(cfg, logger)
		if err != nil {
			logger.ErrorContext(ctx, "worker setup failed", "job_id", inv.ID, "error", err)
			return err
		}
		defer a.Close()

		if err := a.runner.Work(context.WithoutCancel(ctx), inv); err != nil {
			logger.ErrorContext(ctx, "worker failed", "job_id", inv.ID, "error", err)
			return err
		}
		return nil
	},
}
