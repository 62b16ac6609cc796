package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	rlog "github.com/sassoftware/rpath-tools-sub000/internal/log"
	"github.com/sassoftware/rpath-tools-sub000/internal/model"
)

// ErrUnknownJob is returned by Work when the identifier does not name a job.
var ErrUnknownJob = errors.New("unknown job")

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Runner drives tasks through New, Starting, Running and then Completed or
// Exception.
type Runner struct {
	registry *Registry
	detacher Detacher
	logger   *slog.Logger
}

// NewRunner creates a runner that loads jobs from reg and hands them off
// with d.
func NewRunner(reg *Registry, d Detacher, logger *slog.Logger) *Runner {
	return &Runner{registry: reg, detacher: d, logger: logger}
}

// RunAsync starts t in the background and returns once it has been handed
// off. PreDetach runs first in the calling process; if it fails the job is
// left in New and the error is returned. If the hand-off itself fails the
// job stays in Starting with the failure in its log.
func (r *Runner) RunAsync(ctx context.Context, t Task, args []string) error {
	job := t.Job()
	ctx = jobContext(ctx, job)

	if pd, ok := t.(PreDetacher); ok {
		if err := pd.PreDetach(ctx, args); err != nil {
			return fmt.Errorf("pre-detach %s: %w", job.ID(), err)
		}
	}

	if err := job.Transition(ctx, model.StateStarting); err != nil {
		return err
	}

	inv := Invocation{ID: job.ID(), Args: args}
	if err := r.detacher.Detach(ctx, inv, r.Work); err != nil {
		r.logger.ErrorContext(ctx, "failed to detach job", "error", err)
		// The caller may have gone away; the note must still be stored.
		if _, lerr := job.Logs().Add(context.WithoutCancel(ctx), "Job failed to start: "+err.Error()); lerr != nil {
			return errors.Join(err, lerr)
		}
		return err
	}
	r.logger.InfoContext(ctx, "job detached")
	return nil
}

// Work is the detached half of RunAsync: it reloads the job named by inv,
// runs PostDetach and then RunSync.
func (r *Runner) Work(ctx context.Context, inv Invocation) error {
	t, ok, err := r.registry.Load(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("load %s: %w", inv.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, inv.ID)
	}
	ctx = jobContext(ctx, t.Job())

	if pd, ok := t.(PostDetacher); ok {
		if err := pd.PostDetach(ctx, inv.Args); err != nil {
			return fmt.Errorf("post-detach %s: %w", inv.ID, err)
		}
	}
	return r.RunSync(ctx, t, inv.Args)
}

// RunSync runs t in the calling goroutine. A failure of the task itself is
// recorded on the job (content holds the failure trace, state becomes
// Exception) and is not returned; only storage errors are.
func (r *Runner) RunSync(ctx context.Context, t Task, args []string) error {
	job := t.Job()
	ctx = jobContext(ctx, job)

	state, _, err := job.State(ctx)
	if err != nil {
		return err
	}
	if state == model.StateNew {
		if err := job.Transition(ctx, model.StateStarting); err != nil {
			return err
		}
	}
	if err := job.SetPID(ctx, os.Getpid()); err != nil {
		return err
	}
	if err := job.Transition(ctx, model.StateRunning); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "job running")

	if runErr := run(ctx, t, args); runErr != nil {
		r.logger.ErrorContext(ctx, "job failed", "error", runErr)
		if err := job.SetContent(ctx, []byte(trace(runErr))); err != nil {
			return err
		}
		if _, err := job.Logs().Add(ctx, "Job failed: "+runErr.Error()); err != nil {
			return err
		}
		return job.Transition(ctx, model.StateException)
	}

	r.logger.InfoContext(ctx, "job completed")
	return job.Transition(ctx, model.StateCompleted)
}

// run calls t.Run, turning a panic into a *PanicError.
func run(ctx context.Context, t Task, args []string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx, args)
}

// trace formats err for storage as job content.
func trace(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("%s\n\n%s", pe.Error(), pe.Stack)
	}
	return err.Error()
}

type jobKeyT struct{}

// jobContext tags ctx with the job for logging, once per job.
func jobContext(ctx context.Context, job *Job) context.Context {
	if id, _ := ctx.Value(jobKeyT{}).(string); id == job.ID() {
		return ctx
	}
	ctx = context.WithValue(ctx, jobKeyT{}, job.ID())
	return rlog.ContextAttrs(ctx,
		slog.String("job_id", job.ID()),
		slog.String("kind", job.Kind()),
	)
}
