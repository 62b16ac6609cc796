package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

// echoTask stores its arguments as content. "fail" and "panic" as the first
// argument make it fail with "boom".
type echoTask struct {
	job *Job
}

func (t *echoTask) Job() *Job { return t.job }

func (t *echoTask) Run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "fail":
			return errors.New("boom")
		case "panic":
			panic("boom")
		}
	}
	if _, err := t.job.Logs().Add(ctx, "echoing"); err != nil {
		return err
	}
	return t.job.SetContent(ctx, []byte(strings.Join(args, " ")))
}

var echoKind = Kind{
	Name:      "echo",
	Namespace: "jobs",
	Prefix:    "echo",
	New:       func(j *Job) Task { return &echoTask{job: j} },
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, kinds ...Kind) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := storage.NewFileBackend(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	reg := NewRegistry(b)
	if len(kinds) == 0 {
		kinds = []Kind{echoKind}
	}
	for _, k := range kinds {
		require.NoError(t, reg.Register(k))
	}
	return reg, dir
}

// waitForState polls the job until it reaches a terminal state.
func waitForState(t *testing.T, job *Job, timeout time.Duration) model.State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s, _, err := job.State(context.Background())
		require.NoError(t, err)
		if s.Terminal() {
			return s
		}
		time.Sleep(20 * time.Millisecond)
	}
	s, _, _ := job.State(context.Background())
	t.Fatalf("job %s did not finish within %v, state %q", job.ID(), timeout, s)
	return ""
}

func content(t *testing.T, job *Job) string {
	t.Helper()
	c, _, err := job.Content(context.Background())
	require.NoError(t, err)
	return string(c)
}
