package record

import (
	"context"
	"errors"
	"iter"

	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

// Filter selects records in Factory.Latest.
type Filter func(ctx context.Context, r *Record) (bool, error)

// Factory creates, loads and enumerates the records of one kind.
type Factory struct {
	backend storage.Backend
	cfg     Config
}

// NewFactory returns a factory for records described by cfg.
func NewFactory(b storage.Backend, cfg Config) *Factory {
	return &Factory{backend: b, cfg: cfg.withDefaults()}
}

// Config returns the record kind configuration.
func (f *Factory) Config() Config {
	return f.cfg
}

// New allocates and returns a new record.
func (f *Factory) New(ctx context.Context) (*Record, error) {
	return Create(ctx, f.backend, f.cfg)
}

// Bind returns a handle on id without touching storage.
func (f *Factory) Bind(id string) *Record {
	return Bind(f.backend, f.cfg, id)
}

// Load returns the record for id, or ok == false when nothing is stored
// under it. Malformed identifiers are reported as absent too.
func (f *Factory) Load(ctx context.Context, id string) (*Record, bool, error) {
	r := f.Bind(id)
	ok, err := r.Exists(ctx)
	if errors.Is(err, storage.ErrInvalidKey) {
		return nil, false, nil
	}
	if err != nil || !ok {
		return nil, false, err
	}
	return r, true, nil
}

// All enumerates the live records of this kind. Records whose expiration has
// passed are deleted as a side effect and left out of the sequence.
func (f *Factory) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		ids, err := f.backend.Enumerate(ctx, storage.NamespaceKey(f.cfg.Namespace))
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			r := f.Bind(id)
			purged, err := f.reap(ctx, r)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if purged {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Purge deletes every expired record and reports how many were removed.
func (f *Factory) Purge(ctx context.Context) (int, error) {
	ids, err := f.backend.Enumerate(ctx, storage.NamespaceKey(f.cfg.Namespace))
	if err != nil {
		return 0, err
	}
	var n int
	var errs []error
	for _, id := range ids {
		purged, err := f.reap(ctx, f.Bind(id))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if purged {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Latest returns the most recently updated record accepted by filter; a nil
// filter accepts everything. Equal update times go to the smallest
// identifier. ok is false when no record qualifies.
func (f *Factory) Latest(ctx context.Context, filter Filter) (*Record, bool, error) {
	var (
		best        *Record
		bestUpdated float64
	)
	for r, err := range f.All(ctx) {
		if err != nil {
			return nil, false, err
		}
		if filter != nil {
			keep, err := filter(ctx, r)
			if err != nil {
				return nil, false, err
			}
			if !keep {
				continue
			}
		}
		updated, _, err := r.Updated(ctx)
		if err != nil {
			return nil, false, err
		}
		if best == nil || updated > bestUpdated || (updated == bestUpdated && r.ID() < best.ID()) {
			best, bestUpdated = r, updated
		}
	}
	return best, best != nil, nil
}

// reap deletes r if it has expired.
func (f *Factory) reap(ctx context.Context, r *Record) (bool, error) {
	expired, err := r.Expired(ctx)
	if err != nil || !expired {
		return false, err
	}
	if err := r.Delete(ctx); err != nil {
		return false, err
	}
	return true, nil
}
