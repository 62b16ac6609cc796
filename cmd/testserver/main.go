// testserver starts the jobs API with a stub update engine and in-process
// jobs, for poking at the HTTP surface without a real engine binary.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/api"
	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("RPATH_LISTEN_ADDR"); v != "" {
		addr = v
	}

	dir, err := os.MkdirTemp("", "rpath-testserver-*")
	if err != nil {
		log.Fatalf("failed to create storage dir: %v", err)
	}
	defer os.RemoveAll(dir)

	b, err := storage.NewFileBackend(dir)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer b.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	engine := &updater.StubEngine{
		Updates: []string{"group-os=2.0", "kernel=6.1"},
		Delay:   500 * time.Millisecond,
	}
	reg := task.NewRegistry(b)
	if err := jobs.Register(reg, engine, time.Hour); err != nil {
		log.Fatalf("failed to register job kinds: %v", err)
	}

	detacher := task.NewInProcessDetacher(logger)
	defer detacher.Wait()
	runner := task.NewRunner(reg, detacher, logger)
	svc := jobs.NewService(reg, runner, "testserver", logger)

	srv := api.NewServer(addr, svc, 100*time.Millisecond, logger)

	logger.Info("testserver: starting", "addr", addr, "storage", dir)
	if err := srv.Run(context.Background()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
