package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

type testEnv struct {
	svc      *Service
	registry *task.Registry
	detacher *task.InProcessDetacher
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, engine updater.Engine) *testEnv {
	t.Helper()
	b, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	reg := task.NewRegistry(b)
	require.NoError(t, Register(reg, engine, 0))

	logger := discardLogger()
	d := task.NewInProcessDetacher(logger)
	t.Cleanup(d.Wait)
	runner := task.NewRunner(reg, d, logger)
	return &testEnv{
		svc:      NewService(reg, runner, "host.example", logger),
		registry: reg,
		detacher: d,
	}
}

func (e *testEnv) create(t *testing.T, kind string, args ...string) Status {
	t.Helper()
	ctx := context.Background()
	id, err := e.svc.CreateJob(ctx, kind, args)
	require.NoError(t, err)
	e.detacher.Wait()

	st, ok, err := e.svc.GetState(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	return st
}

func waitTerminal(t *testing.T, svc *Service, id string) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, ok, err := svc.GetState(context.Background(), id)
		require.NoError(t, err)
		require.True(t, ok)
		if st.State.Terminal() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Status{}
}
