package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	return m
}

func TestContextAttrsAreAdded(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	ctx := ContextAttrs(context.Background(), slog.String("job_id", "check_1"))
	ctx = ContextAttrs(ctx, slog.Int("pid", 42))
	logger.InfoContext(ctx, "running")

	m := decode(t, &buf)
	if m["job_id"] != "check_1" {
		t.Errorf("job_id = %v, want check_1", m["job_id"])
	}
	if m["pid"] != float64(42) {
		t.Errorf("pid = %v, want 42", m["pid"])
	}
}

func TestContextAttrsDoNotLeakBetweenBranches(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	base := ContextAttrs(context.Background(), slog.String("kind", "check"))
	_ = ContextAttrs(base, slog.String("job_id", "a"))
	logger.InfoContext(base, "base")

	m := decode(t, &buf)
	if _, ok := m["job_id"]; ok {
		t.Errorf("job_id leaked into parent context: %v", m)
	}
}

func TestWithKeepsContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).With("component", "runner")

	ctx := ContextAttrs(context.Background(), slog.String("job_id", "x"))
	logger.InfoContext(ctx, "hello")

	m := decode(t, &buf)
	if m["component"] != "runner" || m["job_id"] != "x" {
		t.Errorf("got %v, want component and job_id", m)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %q", buf.String())
	}
}
