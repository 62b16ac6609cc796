package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
	"github.com/sassoftware/rpath-tools-sub000/internal/model"
)

var (
	flagFollow bool   // value of --follow flag
	flagState  string // value of --state flag
)

func init() {
	createCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "stream the job log until it finishes")
	logsCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "keep streaming until the job finishes")
	latestCmd.Flags().StringVar(&flagState, "state", "", "only consider jobs in this state")
}

// withApp opens the job machinery for the duration of fn.
func withApp(fn func(a *app) error) error {
	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

var createCmd = &cobra.Command{
	Use:   "create <kind> [args...]",
	Short: "Create a job and run it in the background",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			id, err := a.svc.CreateJob(cmd.Context(), args[0], args[1:])
			if id != "" {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			if err != nil {
				return err
			}
			if flagFollow {
				return follow(cmd, a, id)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the state of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			st, ok, err := a.svc.GetState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, args[0])
			}
			return printValue(cmd.OutOrStdout(), st)
		})
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Print the log of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if flagFollow {
				return follow(cmd, a, args[0])
			}
			entries, ok, err := a.svc.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, args[0])
			}
			for _, e := range entries {
				printEntry(cmd, e)
			}
			return nil
		})
	},
}

func follow(cmd *cobra.Command, a *app, ref string) error {
	err := a.svc.Follow(cmd.Context(), ref, cfg.FollowInterval, func(e model.LogEntry) error {
		printEntry(cmd, e)
		return nil
	})
	if err != nil {
		return err
	}

	st, ok, err := a.svc.GetState(cmd.Context(), ref)
	if err != nil || !ok {
		return err
	}
	if st.State == model.StateException {
		return fmt.Errorf("job %s failed", st.ID)
	}
	return nil
}

func printEntry(cmd *cobra.Command, e model.LogEntry) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.Time().Format("2006-01-02T15:04:05.0000Z07:00"), e.Content)
}

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List jobs, optionally of one kind",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind string
		if len(args) == 1 {
			kind = args[0]
		}
		return withApp(func(a *app) error {
			all, err := a.svc.ListJobs(cmd.Context(), kind)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), all)
		})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest <kind>",
	Short: "Show the most recently created job of a kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := model.State(flagState)
		if state != "" && !state.Known() {
			return fmt.Errorf("unknown state %q", flagState)
		}
		return withApp(func(a *app) error {
			st, ok, err := a.svc.Latest(cmd.Context(), args[0], state)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no matching job")
			}
			return printValue(cmd.OutOrStdout(), st)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Ask the worker of a running job to stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			return a.svc.Cancel(cmd.Context(), args[0])
		})
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(a *app) error {
			n, err := a.svc.Purge(cmd.Context())
			fmt.Fprintf(os.Stderr, "purged %d jobs\n", n)
			return err
		})
	},
}
