package record

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

// DefaultTTL is how long a record survives its last update unless the kind
// configures otherwise.
const DefaultTTL = 36000 * time.Second

// Attribute names used by every record.
const (
	AttrContent    = "content"
	AttrState      = "state"
	AttrPID        = "pid"
	AttrCreated    = "created"
	AttrUpdated    = "updated"
	AttrExpiration = "expiration"
	AttrLogs       = "logs"
)

var reserved = []string{AttrContent, AttrState, AttrPID, AttrCreated, AttrUpdated, AttrExpiration, AttrLogs}

// ErrReservedName is returned when a blob name collides with a built-in field.
var ErrReservedName = errors.New("reserved attribute name")

// Config describes one kind of record.
type Config struct {
	// Namespace groups the records of this kind.
	Namespace string
	// Prefix is prepended to every identifier allocated for this kind.
	Prefix string
	// TTL is added to the last update time to compute expiration.
	TTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Record is a handle on one persisted entity.
type Record struct {
	backend storage.Backend
	cfg     Config
	id      string
}

// Create allocates a new identifier and stamps created, updated and
// expiration.
func Create(ctx context.Context, b storage.Backend, cfg Config) (*Record, error) {
	cfg = cfg.withDefaults()
	id, err := b.NewIdentifier(ctx, cfg.Namespace, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("allocate %s identifier: %w", cfg.Namespace, err)
	}

	r := &Record{backend: b, cfg: cfg, id: id}
	now := r.now()
	if err := r.setFloat(ctx, AttrCreated, now); err != nil {
		return nil, err
	}
	if err := r.stamp(ctx, now); err != nil {
		return nil, err
	}
	return r, nil
}

// Bind returns a handle on an existing identifier without checking that it
// exists. Reads of a missing record report every field as absent.
func Bind(b storage.Backend, cfg Config, id string) *Record {
	return &Record{backend: b, cfg: cfg.withDefaults(), id: id}
}

// ID returns the record identifier.
func (r *Record) ID() string {
	return r.id
}

// Namespace returns the namespace the record lives in.
func (r *Record) Namespace() string {
	return r.cfg.Namespace
}

// TTL returns the lifetime added to every update.
func (r *Record) TTL() time.Duration {
	return r.cfg.TTL
}

func (r *Record) now() float64 {
	return model.Seconds(r.cfg.Now())
}

func (r *Record) key(attr ...string) storage.Key {
	return storage.RecordKey(r.cfg.Namespace, r.id, attr...)
}

// Exists reports whether anything is stored for the record.
func (r *Record) Exists(ctx context.Context) (bool, error) {
	return r.backend.Exists(ctx, r.key())
}

// Delete removes the record and all of its attributes and logs.
func (r *Record) Delete(ctx context.Context) error {
	return r.backend.Delete(ctx, r.key())
}

// Content returns the record payload.
func (r *Record) Content(ctx context.Context) ([]byte, bool, error) {
	return r.backend.Get(ctx, r.key(AttrContent))
}

// SetContent replaces the record payload.
func (r *Record) SetContent(ctx context.Context, content []byte) error {
	return r.write(ctx, AttrContent, content)
}

// State returns the lifecycle state string.
func (r *Record) State(ctx context.Context) (string, bool, error) {
	v, ok, err := r.backend.Get(ctx, r.key(AttrState))
	if err != nil || !ok {
		return "", ok, err
	}
	return string(v), true, nil
}

// SetState replaces the lifecycle state string.
func (r *Record) SetState(ctx context.Context, state string) error {
	return r.write(ctx, AttrState, []byte(state))
}

// DeleteState removes the state field; the record itself stays.
func (r *Record) DeleteState(ctx context.Context) error {
	if err := r.backend.Delete(ctx, r.key(AttrState)); err != nil {
		return err
	}
	return r.touch(ctx)
}

// PID returns the process id of the worker that owns the record.
func (r *Record) PID(ctx context.Context) (int, bool, error) {
	v, ok, err := r.backend.Get(ctx, r.key(AttrPID))
	if err != nil || !ok {
		return 0, ok, err
	}
	pid, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, false, fmt.Errorf("parse %s pid: %w", r.id, err)
	}
	return pid, true, nil
}

// SetPID records the worker process id.
func (r *Record) SetPID(ctx context.Context, pid int) error {
	return r.write(ctx, AttrPID, []byte(strconv.Itoa(pid)))
}

// Blob returns a named payload.
func (r *Record) Blob(ctx context.Context, name string) ([]byte, bool, error) {
	if slices.Contains(reserved, name) {
		return nil, false, fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return r.backend.Get(ctx, r.key(name))
}

// SetBlob stores a named payload.
func (r *Record) SetBlob(ctx context.Context, name string, value []byte) error {
	if slices.Contains(reserved, name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return r.write(ctx, name, value)
}

// Created returns the creation time in seconds since the epoch.
func (r *Record) Created(ctx context.Context) (float64, bool, error) {
	return r.getFloat(ctx, AttrCreated)
}

// Updated returns the time of the last field write.
func (r *Record) Updated(ctx context.Context) (float64, bool, error) {
	return r.getFloat(ctx, AttrUpdated)
}

// Expiration returns the time after which the record may be purged.
func (r *Record) Expiration(ctx context.Context) (float64, bool, error) {
	return r.getFloat(ctx, AttrExpiration)
}

// Expired reports whether the record has an expiration in the past.
func (r *Record) Expired(ctx context.Context) (bool, error) {
	exp, ok, err := r.Expiration(ctx)
	if err != nil || !ok {
		return false, err
	}
	return exp < r.now(), nil
}

func (r *Record) write(ctx context.Context, attr string, value []byte) error {
	if err := r.backend.Set(ctx, r.key(attr), value); err != nil {
		return err
	}
	return r.touch(ctx)
}

func (r *Record) touch(ctx context.Context) error {
	return r.stamp(ctx, r.now())
}

// stamp sets updated to now and expiration to now plus the TTL.
func (r *Record) stamp(ctx context.Context, now float64) error {
	if err := r.setFloat(ctx, AttrUpdated, now); err != nil {
		return err
	}
	return r.setFloat(ctx, AttrExpiration, now+r.cfg.TTL.Seconds())
}

func (r *Record) setFloat(ctx context.Context, attr string, v float64) error {
	return r.backend.Set(ctx, r.key(attr), []byte(strconv.FormatFloat(v, 'f', -1, 64)))
}

func (r *Record) getFloat(ctx context.Context, attr string) (float64, bool, error) {
	v, ok, err := r.backend.Get(ctx, r.key(attr))
	if err != nil || !ok {
		return 0, ok, err
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s %s: %w", r.id, attr, err)
	}
	return f, true, nil
}
