package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/record"
)

// ErrInvalidTransition is returned when a state change is not allowed by the
// job lifecycle.
var ErrInvalidTransition = errors.New("invalid state transition")

// Job is a record that follows the job lifecycle.
type Job struct {
	*record.Record
	kind string
}

// NewJob wraps r as a job of the named kind.
func NewJob(r *record.Record, kind string) *Job {
	return &Job{Record: r, kind: kind}
}

// Kind returns the name of the kind the job belongs to.
func (j *Job) Kind() string {
	return j.kind
}

// State returns the lifecycle state.
func (j *Job) State(ctx context.Context) (model.State, bool, error) {
	s, ok, err := j.Record.State(ctx)
	return model.State(s), ok, err
}

// SetState writes s without checking the lifecycle.
func (j *Job) SetState(ctx context.Context, s model.State) error {
	return j.Record.SetState(ctx, string(s))
}

// Transition moves the job to state to if the lifecycle allows it.
func (j *Job) Transition(ctx context.Context, to model.State) error {
	from, _, err := j.State(ctx)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s %q -> %q", ErrInvalidTransition, j.ID(), from, to)
	}
	return j.SetState(ctx, to)
}

// Alive reports whether the recorded worker process still exists. A job
// without a pid is not alive.
func (j *Job) Alive(ctx context.Context) (bool, error) {
	pid, ok, err := j.PID(ctx)
	if err != nil || !ok {
		return false, err
	}
	return processAlive(pid), nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
