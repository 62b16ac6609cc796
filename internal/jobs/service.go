package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
)

var (
	// ErrJobNotFound is returned when an identifier names no live job.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotRunning is returned by Cancel for a job without a live worker.
	ErrNotRunning = errors.New("job is not running")
)

// DefaultFollowInterval is how often Follow polls storage.
const DefaultFollowInterval = 500 * time.Millisecond

// StartGrace is how long a Starting job may go without a worker before it
// is reported stale.
const StartGrace = time.Minute

// Status is the externally visible view of a job.
type Status struct {
	ID         string      `json:"id" yaml:"id"`
	InstanceID string      `json:"instance_id" yaml:"instance_id"`
	Kind       string      `json:"kind" yaml:"kind"`
	State      model.State `json:"state" yaml:"state"`
	Content    string      `json:"content,omitempty" yaml:"content,omitempty"`
	LogCount   int         `json:"log_count" yaml:"log_count"`
	PID        int         `json:"pid,omitempty" yaml:"pid,omitempty"`
	Created    time.Time   `json:"created" yaml:"created"`
	Updated    time.Time   `json:"updated" yaml:"updated"`
	Expiration time.Time   `json:"expiration" yaml:"expiration"`
	// Stale is set for a Running or Starting job whose worker process is
	// gone, and for a Starting job that no worker picked up within
	// StartGrace.
	Stale bool `json:"stale" yaml:"stale"`
}

// Service is the query and control surface over the registered jobs.
type Service struct {
	registry  *task.Registry
	runner    *task.Runner
	authority string
	logger    *slog.Logger
}

// NewService creates a service. authority is the host part of instance ids.
func NewService(reg *task.Registry, runner *task.Runner, authority string, logger *slog.Logger) *Service {
	return &Service{registry: reg, runner: runner, authority: authority, logger: logger}
}

// Kinds returns the registered job kinds.
func (s *Service) Kinds() []task.Kind {
	return s.registry.Kinds()
}

// CreateJob creates a job of kind and starts it in the background. The
// identifier is returned even when starting fails, since the job record
// exists and stays in New.
func (s *Service) CreateJob(ctx context.Context, kind string, args []string) (string, error) {
	t, err := s.registry.Create(ctx, kind)
	if err != nil {
		return "", err
	}
	id := t.Job().ID()
	if err := s.runner.RunAsync(ctx, t, args); err != nil {
		return id, err
	}
	s.logger.InfoContext(ctx, "job created", "job_id", id, "kind", kind)
	return id, nil
}

// job resolves a raw identifier or an instance id.
func (s *Service) job(ctx context.Context, ref string) (*task.Job, bool, error) {
	namespace, id, err := model.ParseInstanceID(ref)
	if err != nil {
		return nil, false, nil
	}
	job, ok, err := s.registry.LoadJob(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if namespace != "" && namespace != job.Namespace() {
		return nil, false, nil
	}
	return job, true, nil
}

// GetState returns the status of the job named by ref.
func (s *Service) GetState(ctx context.Context, ref string) (Status, bool, error) {
	job, ok, err := s.job(ctx, ref)
	if err != nil || !ok {
		return Status{}, false, err
	}
	st, err := s.status(ctx, job)
	if err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}

func (s *Service) status(ctx context.Context, job *task.Job) (Status, error) {
	st := Status{
		ID:         job.ID(),
		InstanceID: model.InstanceID(s.authority, job.Namespace(), job.ID()),
		Kind:       job.Kind(),
	}

	state, _, err := job.State(ctx)
	if err != nil {
		return Status{}, err
	}
	st.State = state

	content, _, err := job.Content(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Content = string(content)

	if st.LogCount, err = job.Logs().Count(ctx); err != nil {
		return Status{}, err
	}
	if st.PID, _, err = job.PID(ctx); err != nil {
		return Status{}, err
	}

	for _, f := range []struct {
		get func(context.Context) (float64, bool, error)
		dst *time.Time
	}{
		{job.Created, &st.Created},
		{job.Updated, &st.Updated},
		{job.Expiration, &st.Expiration},
	} {
		v, ok, err := f.get(ctx)
		if err != nil {
			return Status{}, err
		}
		if ok {
			*f.dst = model.FromSeconds(v)
		}
	}

	switch {
	case state == model.StateRunning, state == model.StateStarting && st.PID != 0:
		alive, err := job.Alive(ctx)
		if err != nil {
			return Status{}, err
		}
		st.Stale = !alive
	case state == model.StateStarting:
		// no worker ever recorded itself
		st.Stale = !st.Updated.IsZero() && time.Since(st.Updated) > StartGrace
	}
	return st, nil
}

// Logs returns every log entry of the job named by ref.
func (s *Service) Logs(ctx context.Context, ref string) ([]model.LogEntry, bool, error) {
	job, ok, err := s.job(ctx, ref)
	if err != nil || !ok {
		return nil, false, err
	}
	entries := []model.LogEntry{}
	for e, err := range job.Logs().Entries(ctx) {
		if err != nil {
			return nil, false, err
		}
		entries = append(entries, e)
	}
	return entries, true, nil
}

// Follow calls fn for each log entry of the job named by ref, polling
// storage every interval for new entries until the job reaches a terminal
// state or ctx is done. Entries written before the terminal state was seen
// are always delivered, even when they sort before ones already sent.
func (s *Service) Follow(ctx context.Context, ref string, every time.Duration, fn func(model.LogEntry) error) error {
	job, ok, err := s.job(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, ref)
	}
	if every <= 0 {
		every = DefaultFollowInterval
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	sent := make(map[float64]bool)
	for {
		// Read the state first so no entry written before a terminal
		// state is missed by the drain below.
		state, _, err := job.State(ctx)
		if err != nil {
			return err
		}
		for e, err := range job.Logs().Entries(ctx) {
			if err != nil {
				return err
			}
			if sent[e.Timestamp] {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
			sent[e.Timestamp] = true
		}
		if state.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListJobs returns the status of every live job of kind, or of every kind
// when kind is empty.
func (s *Service) ListJobs(ctx context.Context, kind string) ([]Status, error) {
	seq := s.registry.List(ctx)
	if kind != "" {
		seq = s.registry.ListKind(ctx, kind)
	}

	out := []Status{}
	for job, err := range seq {
		if err != nil {
			return nil, err
		}
		st, err := s.status(ctx, job)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Latest returns the most recently updated job of kind, limited to state
// when it is not empty.
func (s *Service) Latest(ctx context.Context, kind string, state model.State) (Status, bool, error) {
	var filter task.JobFilter
	if state != "" {
		filter = task.InState(state)
	}
	job, ok, err := s.registry.Latest(ctx, kind, filter)
	if err != nil || !ok {
		return Status{}, false, err
	}
	st, err := s.status(ctx, job)
	if err != nil {
		return Status{}, false, err
	}
	return st, true, nil
}

// Cancel sends SIGTERM to the worker of the job named by ref. The job state
// is left as it is.
func (s *Service) Cancel(ctx context.Context, ref string) error {
	job, ok, err := s.job(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, ref)
	}

	state, _, err := job.State(ctx)
	if err != nil {
		return err
	}
	pid, ok, err := job.PID(ctx)
	if err != nil {
		return err
	}
	if state.Terminal() || !ok {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, job.ID(), state)
	}
	alive, err := job.Alive(ctx)
	if err != nil {
		return err
	}
	if !alive || pid == os.Getpid() {
		return fmt.Errorf("%w: %s has no worker process", ErrNotRunning, job.ID())
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal %s worker %d: %w", job.ID(), pid, err)
	}
	if _, err := job.Logs().Add(ctx, "Cancellation requested"); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID(), "pid", pid)
	return nil
}

// Purge deletes every expired job.
func (s *Service) Purge(ctx context.Context) (int, error) {
	return s.registry.Purge(ctx)
}

// Stats counts live jobs per kind and state.
func (s *Service) Stats(ctx context.Context) (map[string]map[model.State]int, error) {
	out := make(map[string]map[model.State]int)
	for _, k := range s.registry.Kinds() {
		out[k.Name] = make(map[model.State]int)
	}
	for job, err := range s.registry.List(ctx) {
		if err != nil {
			return nil, err
		}
		state, _, err := job.State(ctx)
		if err != nil {
			return nil, err
		}
		out[job.Kind()][state]++
	}
	return out, nil
}
