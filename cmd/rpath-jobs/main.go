package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/sassoftware/rpath-tools-sub000/internal/config"
)

var (
	cfg config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagOutput         string // value of --output flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML config file to load (default $RPATH_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "json", "output format: json or yaml")

	// never print messages
	rootCmd.SilenceErrors = true

	// load the config, setup logging
	rootCmd.PersistentPreRunE = initJobs

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(workerCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("rpath-jobs failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rpath-jobs",
	Short:        "Run system update jobs in the background and report on them",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version of rpath-jobs",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("rpath-jobs: version info not available")
			return
		}

		fmt.Printf("rpath-jobs: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
		fmt.Printf("storage:    %s %s\n", cfg.StorageDriver, cfg.StoragePath)
	},
}

func initJobs(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfigFilePath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.LogLevel = slog.LevelDebug
	}

	switch flagOutput {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", flagOutput)
	}

	slog.SetDefault(config.NewLogger(os.Stderr, cfg.LogLevel))
	slog.Debug("rpath-jobs run", "config", cfg)
	return nil
}
