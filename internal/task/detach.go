package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Stage arguments the binary is re-executed with by ExecDetacher.
const (
	StageDetach = "_detach"
	StageWorker = "_worker"
)

// ErrDetachUnsupported is returned where processes cannot be detached.
var ErrDetachUnsupported = errors.New("process detachment is not supported on this platform")

// Invocation names the job to work on and the arguments to run it with.
type Invocation struct {
	ID   string
	Args []string
}

// WorkFunc performs the detached half of a job.
type WorkFunc func(ctx context.Context, inv Invocation) error

// Detacher hands work off so that it continues without the caller.
// Detach returns once the hand-off is done, not when the work is.
type Detacher interface {
	Detach(ctx context.Context, inv Invocation, work WorkFunc) error
}

// InProcessDetacher runs work on a goroutine of the current process. Work
// survives cancellation of the caller's context but not the process.
type InProcessDetacher struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewInProcessDetacher creates a detacher that logs work failures to logger.
func NewInProcessDetacher(logger *slog.Logger) *InProcessDetacher {
	return &InProcessDetacher{logger: logger}
}

// Detach starts work on a new goroutine.
func (d *InProcessDetacher) Detach(ctx context.Context, inv Invocation, work WorkFunc) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Go(func() {
		if err := work(ctx, inv); err != nil {
			d.logger.ErrorContext(ctx, "detached work failed", "job_id", inv.ID, "error", err)
		}
	})
	return nil
}

// Wait blocks until all work started by d has returned.
func (d *InProcessDetacher) Wait() {
	d.wg.Wait()
}

// ParseInvocation rebuilds an Invocation from the arguments following a
// stage name.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 || args[0] == "" {
		return Invocation{}, errors.New("missing job identifier")
	}
	return Invocation{ID: args[0], Args: args[1:]}, nil
}
