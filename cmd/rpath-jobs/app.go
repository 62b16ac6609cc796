package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/sassoftware/rpath-tools-sub000/internal/config"
	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

// app holds the wired job machinery for one process.
type app struct {
	backend  storage.Backend
	registry *task.Registry
	runner   *task.Runner
	svc      *jobs.Service
}

// newApp opens storage and registers the job kinds. Jobs are detached by
// re-executing this binary with the resolved configuration in its
// environment.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	b, err := storage.Open(cfg.StorageDriver, cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	reg := task.NewRegistry(b)
	if err := jobs.Register(reg, updater.NewCommandEngine(cfg.EngineBin), cfg.JobTTL); err != nil {
		_ = b.Close()
		return nil, err
	}

	runner := task.NewRunner(reg, &task.ExecDetacher{Env: cfg.Environ()}, logger)
	return &app{
		backend:  b,
		registry: reg,
		runner:   runner,
		svc:      jobs.NewService(reg, runner, cfg.Authority, logger),
	}, nil
}

func (a *app) Close() error {
	return a.backend.Close()
}

// printValue writes v in the format selected by --output.
func printValue(w io.Writer, v any) error {
	switch flagOutput {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", flagOutput)
	}
}
