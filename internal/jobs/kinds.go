package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

// Kind names.
const (
	KindCheck  = "check"
	KindUpdate = "update"
	KindSurvey = "survey"
)

// Blob names snapshotted before a job is detached.
const (
	BlobManifest    = "manifest"
	BlobSystemModel = "system-model"
	BlobDesired     = "desired"
)

var (
	// ErrNoSources is returned when an update job is created without specs.
	ErrNoSources = errors.New("update needs at least one source spec")
	// ErrNoSystemModel is returned when a survey job is created without a
	// system model file.
	ErrNoSystemModel = errors.New("survey needs a system model file")
)

// Kinds returns the job kinds backed by engine. A zero ttl keeps the
// default record lifetime.
func Kinds(engine updater.Engine, ttl time.Duration) []task.Kind {
	return []task.Kind{
		{
			Name:      KindCheck,
			Namespace: "jobs",
			Prefix:    "check",
			TTL:       ttl,
			New:       func(j *task.Job) task.Task { return &CheckTask{job: j, engine: engine} },
		},
		{
			Name:      KindUpdate,
			Namespace: "updates",
			Prefix:    "update",
			TTL:       ttl,
			New:       func(j *task.Job) task.Task { return &UpdateTask{job: j, engine: engine} },
		},
		{
			Name:      KindSurvey,
			Namespace: "surveys",
			Prefix:    "survey",
			TTL:       ttl,
			New:       func(j *task.Job) task.Task { return &SurveyTask{job: j, engine: engine} },
		},
	}
}

// Register adds every job kind to reg.
func Register(reg *task.Registry, engine updater.Engine, ttl time.Duration) error {
	for _, k := range Kinds(engine, ttl) {
		if err := reg.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// jobLog appends engine progress lines to the job log, keeping the first
// storage error for the task to return.
type jobLog struct {
	ctx context.Context
	job *task.Job
	err error
}

func (l *jobLog) line(s string) {
	if l.err != nil {
		return
	}
	_, l.err = l.job.Logs().Add(l.ctx, s)
}

// CheckTask asks the engine for available updates.
type CheckTask struct {
	job    *task.Job
	engine updater.Engine
}

func (t *CheckTask) Job() *task.Job { return t.job }

func (t *CheckTask) Run(ctx context.Context, _ []string) error {
	log := &jobLog{ctx: ctx, job: t.job}
	out, err := t.engine.CheckForUpdates(ctx, log.line)
	if err != nil {
		return err
	}
	if log.err != nil {
		return log.err
	}
	if len(out) == 0 {
		log.line("System is up to date")
	}
	if log.err != nil {
		return log.err
	}
	return t.job.SetContent(ctx, out)
}

// UpdateTask applies one or more source specs in order.
type UpdateTask struct {
	job    *task.Job
	engine updater.Engine
}

func (t *UpdateTask) Job() *task.Job { return t.job }

// PreDetach records the requested specs so the worker applies exactly what
// was asked for.
func (t *UpdateTask) PreDetach(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrNoSources
	}
	manifest, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return t.job.SetBlob(ctx, BlobManifest, manifest)
}

func (t *UpdateTask) Run(ctx context.Context, _ []string) error {
	raw, ok, err := t.job.Blob(ctx, BlobManifest)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: missing %s", t.job.ID(), BlobManifest)
	}
	var specs []string
	if err := json.Unmarshal(raw, &specs); err != nil {
		return fmt.Errorf("decode %s: %w", BlobManifest, err)
	}

	log := &jobLog{ctx: ctx, job: t.job}
	applied := make([]string, 0, len(specs))
	for _, spec := range specs {
		if err := t.engine.ApplyUpdate(ctx, spec, log.line); err != nil {
			return err
		}
		applied = append(applied, spec)
		log.line("Applied " + spec)
		if log.err != nil {
			return log.err
		}
	}
	return t.job.SetContent(ctx, []byte(strings.Join(applied, "\n")))
}

// SurveyTask compares the system against a system model and a list of
// desired packages.
type SurveyTask struct {
	job    *task.Job
	engine updater.Engine
}

func (t *SurveyTask) Job() *task.Job { return t.job }

// PreDetach snapshots the system model file (args[0]) and the desired
// packages (the rest) while the caller's view of them is current.
func (t *SurveyTask) PreDetach(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return ErrNoSystemModel
	}
	model, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read system model: %w", err)
	}
	desired, err := json.Marshal(append([]string{}, args[1:]...))
	if err != nil {
		return err
	}
	if err := t.job.SetBlob(ctx, BlobSystemModel, model); err != nil {
		return err
	}
	return t.job.SetBlob(ctx, BlobDesired, desired)
}

func (t *SurveyTask) Run(ctx context.Context, _ []string) error {
	model, ok, err := t.job.Blob(ctx, BlobSystemModel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: missing %s", t.job.ID(), BlobSystemModel)
	}
	raw, ok, err := t.job.Blob(ctx, BlobDesired)
	if err != nil {
		return err
	}
	var desired []string
	if ok {
		if err := json.Unmarshal(raw, &desired); err != nil {
			return fmt.Errorf("decode %s: %w", BlobDesired, err)
		}
	}

	log := &jobLog{ctx: ctx, job: t.job}
	out, err := t.engine.RunSurvey(ctx, desired, string(model), log.line)
	if err != nil {
		return err
	}
	if log.err != nil {
		return log.err
	}
	return t.job.SetContent(ctx, out)
}
