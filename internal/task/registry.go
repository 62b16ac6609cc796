package task

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/record"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

var (
	// ErrUnknownKind is returned for a kind name that was never registered.
	ErrUnknownKind = errors.New("unknown job kind")
	// ErrInvalidKind is returned by Register for an incomplete Kind.
	ErrInvalidKind = errors.New("invalid job kind")
	// ErrDuplicateKind is returned by Register when the name or prefix is taken.
	ErrDuplicateKind = errors.New("duplicate job kind")
)

// Kind describes one family of jobs.
type Kind struct {
	// Name identifies the kind in the API and CLI.
	Name string `json:"name"`
	// Namespace is the storage namespace its records live in.
	Namespace string `json:"namespace"`
	// Prefix starts every identifier of the kind and selects the kind
	// again when an identifier is loaded. It must not contain "_".
	Prefix string `json:"prefix"`
	// TTL is how long a job survives its last update; zero means
	// record.DefaultTTL.
	TTL time.Duration `json:"ttl"`
	// New builds the task for a job of this kind.
	New func(job *Job) Task `json:"-"`
}

type kindEntry struct {
	Kind
	factory *record.Factory
}

// JobFilter selects jobs in Registry.Latest.
type JobFilter func(ctx context.Context, j *Job) (bool, error)

// Registry maps identifier prefixes to job kinds. Kinds are registered once
// at startup; every lookup after that is read-only.
type Registry struct {
	backend storage.Backend
	now     func() time.Time

	mu       sync.RWMutex
	kinds    []*kindEntry
	byName   map[string]*kindEntry
	byPrefix map[string]*kindEntry
}

// NewRegistry creates an empty registry storing jobs in b.
func NewRegistry(b storage.Backend) *Registry {
	return &Registry{
		backend:  b,
		byName:   make(map[string]*kindEntry),
		byPrefix: make(map[string]*kindEntry),
	}
}

// SetClock overrides the time source used for new and loaded jobs. It must
// be called before the registry is shared.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, e := range r.kinds {
		e.factory = record.NewFactory(r.backend, r.recordConfig(e.Kind))
	}
}

// Backend returns the storage backend jobs are kept in.
func (r *Registry) Backend() storage.Backend {
	return r.backend
}

// Register adds k to the registry.
func (r *Registry) Register(k Kind) error {
	if k.Name == "" || k.Namespace == "" || k.Prefix == "" || k.New == nil {
		return fmt.Errorf("%w: %q needs a name, namespace, prefix and constructor", ErrInvalidKind, k.Name)
	}
	if strings.Contains(k.Prefix, "_") {
		return fmt.Errorf("%w: prefix %q contains \"_\"", ErrInvalidKind, k.Prefix)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[k.Name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicateKind, k.Name)
	}
	if _, ok := r.byPrefix[k.Prefix]; ok {
		return fmt.Errorf("%w: prefix %q", ErrDuplicateKind, k.Prefix)
	}

	e := &kindEntry{Kind: k, factory: record.NewFactory(r.backend, r.recordConfig(k))}
	r.kinds = append(r.kinds, e)
	r.byName[k.Name] = e
	r.byPrefix[k.Prefix] = e
	return nil
}

func (r *Registry) recordConfig(k Kind) record.Config {
	return record.Config{Namespace: k.Namespace, Prefix: k.Prefix, TTL: k.TTL, Now: r.now}
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Kind, 0, len(r.kinds))
	for _, e := range r.kinds {
		out = append(out, e.Kind)
	}
	return out
}

// Kind returns the kind registered under name.
func (r *Registry) Kind(name string) (Kind, bool) {
	e, ok := r.entry(name)
	if !ok {
		return Kind{}, false
	}
	return e.Kind, true
}

func (r *Registry) entry(name string) (*kindEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// KindOf returns the kind whose prefix starts id.
func (r *Registry) KindOf(id string) (Kind, bool) {
	e, ok := r.entryFor(id)
	if !ok {
		return Kind{}, false
	}
	return e.Kind, true
}

func (r *Registry) entryFor(id string) (*kindEntry, bool) {
	prefix, _, ok := strings.Cut(id, "_")
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byPrefix[prefix]
	return e, ok
}

// Create allocates a new job of the named kind in state New and returns its
// task.
func (r *Registry) Create(ctx context.Context, kind string) (Task, error) {
	e, ok := r.entry(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	rec, err := e.factory.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s job: %w", kind, err)
	}
	job := NewJob(rec, e.Name)
	if err := job.SetState(ctx, model.StateNew); err != nil {
		return nil, fmt.Errorf("create %s job: %w", kind, err)
	}
	return e.New(job), nil
}

// Load returns the task for an existing job. The kind is chosen by the
// identifier prefix; ok is false for an unknown prefix or a missing job.
func (r *Registry) Load(ctx context.Context, id string) (Task, bool, error) {
	job, ok, err := r.LoadJob(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	e, _ := r.entry(job.Kind())
	return e.New(job), true, nil
}

// LoadJob is like Load but returns the bare job.
func (r *Registry) LoadJob(ctx context.Context, id string) (*Job, bool, error) {
	e, ok := r.entryFor(id)
	if !ok {
		return nil, false, nil
	}
	rec, ok, err := e.factory.Load(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return NewJob(rec, e.Name), true, nil
}

// List enumerates the live jobs of every kind, kinds in registration order.
// Expired jobs are purged along the way.
func (r *Registry) List(ctx context.Context) iter.Seq2[*Job, error] {
	return func(yield func(*Job, error) bool) {
		r.mu.RLock()
		kinds := append([]*kindEntry(nil), r.kinds...)
		r.mu.RUnlock()

		for _, e := range kinds {
			for job, err := range e.jobs(ctx) {
				if !yield(job, err) {
					return
				}
			}
		}
	}
}

// ListKind enumerates the live jobs of one kind.
func (r *Registry) ListKind(ctx context.Context, kind string) iter.Seq2[*Job, error] {
	e, ok := r.entry(kind)
	if !ok {
		return func(yield func(*Job, error) bool) {
			yield(nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind))
		}
	}
	return e.jobs(ctx)
}

func (e *kindEntry) jobs(ctx context.Context) iter.Seq2[*Job, error] {
	return func(yield func(*Job, error) bool) {
		for rec, err := range e.factory.All(ctx) {
			var job *Job
			if rec != nil {
				job = NewJob(rec, e.Name)
			}
			if !yield(job, err) {
				return
			}
		}
	}
}

// Latest returns the most recently updated job of kind accepted by filter;
// a nil filter accepts every job.
func (r *Registry) Latest(ctx context.Context, kind string, filter JobFilter) (*Job, bool, error) {
	e, ok := r.entry(kind)
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var f record.Filter
	if filter != nil {
		f = func(ctx context.Context, rec *record.Record) (bool, error) {
			return filter(ctx, NewJob(rec, e.Name))
		}
	}
	rec, ok, err := e.factory.Latest(ctx, f)
	if err != nil || !ok {
		return nil, false, err
	}
	return NewJob(rec, e.Name), true, nil
}

// InState returns a filter accepting jobs in state s.
func InState(s model.State) JobFilter {
	return func(ctx context.Context, j *Job) (bool, error) {
		st, _, err := j.State(ctx)
		return st == s, err
	}
}

// Purge deletes the expired jobs of every kind.
func (r *Registry) Purge(ctx context.Context) (int, error) {
	r.mu.RLock()
	kinds := append([]*kindEntry(nil), r.kinds...)
	r.mu.RUnlock()

	var total int
	var errs []error
	for _, e := range kinds {
		n, err := e.factory.Purge(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", e.Name, err))
		}
	}
	return total, errors.Join(errs...)
}
