package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sassoftware/rpath-tools-sub000/internal/api"
	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the jobs HTTP API and purge expired jobs on a schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := slog.Default()
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		janitor, err := jobs.NewJanitor(a.svc, jobs.Schedule{Cron: cfg.PurgeCron, Every: cfg.PurgeInterval}, logger)
		if err != nil {
			return err
		}
		janitor.Start()
		defer func() {
			if err := janitor.Shutdown(); err != nil {
				logger.Error("stopping janitor", "error", err)
			}
		}()

		srv := api.NewServer(cfg.ListenAddr, a.svc, cfg.FollowInterval, logger)
		return srv.Run(cmd.Context())
	},
}
