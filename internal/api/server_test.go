package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/jobs"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

type testServer struct {
	*Server
	registry *task.Registry
	detacher *task.InProcessDetacher
}

func newTestServerWithEngine(t *testing.T, engine updater.Engine) *testServer {
	t.Helper()
	b, err := storage.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	reg := task.NewRegistry(b)
	if err := jobs.Register(reg, engine, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := task.NewInProcessDetacher(logger)
	t.Cleanup(d.Wait)
	svc := jobs.NewService(reg, task.NewRunner(reg, d, logger), "test-host", logger)

	return &testServer{
		Server:   NewServer(":0", svc, 10*time.Millisecond, logger),
		registry: reg,
		detacher: d,
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithEngine(t, &updater.StubEngine{Updates: []string{"group-os=2.0"}})
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
