package record

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strconv"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

const (
	// ticksPerSecond is the resolution log timestamps are stored at.
	ticksPerSecond = 10000
	// maxLogAttempts bounds how often a colliding timestamp is bumped.
	maxLogAttempts = 10
)

// Logs is the append-only log of one record. Entries are keyed by their
// timestamp at 1e-4 s resolution.
type Logs struct {
	r *Record
}

// Logs returns the log attached to r.
func (r *Record) Logs() *Logs {
	return &Logs{r: r}
}

// Add appends content stamped with the current time.
func (l *Logs) Add(ctx context.Context, content string) (model.LogEntry, error) {
	return l.AddAt(ctx, l.r.now(), content)
}

// AddAt appends content at timestamp ts. If an entry already exists at that
// timestamp, ts is bumped by one tick and retried, up to maxLogAttempts
// times, so near-simultaneous appends keep their order instead of
// overwriting each other. Each attempt is an exclusive create, so appends
// from several processes are safe too.
func (l *Logs) AddAt(ctx context.Context, ts float64, content string) (model.LogEntry, error) {
	ticks := toTicks(ts)
	for range maxLogAttempts {
		created, err := l.r.backend.Create(ctx, l.key(ticks), []byte(content))
		if err != nil {
			return model.LogEntry{}, err
		}
		if created {
			return model.LogEntry{Timestamp: fromTicks(ticks), Content: content}, nil
		}
		ticks++
	}

	if err := l.r.backend.Set(ctx, l.key(ticks), []byte(content)); err != nil {
		return model.LogEntry{}, err
	}
	return model.LogEntry{Timestamp: fromTicks(ticks), Content: content}, nil
}

// Entries returns every entry in ascending timestamp order. Each iteration
// reads storage afresh, so entries appended by another process show up on
// the next pass.
func (l *Logs) Entries(ctx context.Context) iter.Seq2[model.LogEntry, error] {
	return l.since(ctx, math.MinInt64)
}

// Since returns the entries strictly newer than after.
func (l *Logs) Since(ctx context.Context, after float64) iter.Seq2[model.LogEntry, error] {
	return l.since(ctx, toTicks(after))
}

// Count returns the number of stored entries.
func (l *Logs) Count(ctx context.Context) (int, error) {
	names, err := l.r.backend.Enumerate(ctx, l.r.key(AttrLogs))
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (l *Logs) since(ctx context.Context, after int64) iter.Seq2[model.LogEntry, error] {
	return func(yield func(model.LogEntry, error) bool) {
		names, err := l.r.backend.Enumerate(ctx, l.r.key(AttrLogs))
		if err != nil {
			yield(model.LogEntry{}, err)
			return
		}

		type stamped struct {
			name  string
			ticks int64
		}
		entries := make([]stamped, 0, len(names))
		for _, name := range names {
			ticks, err := parseTicks(name)
			if err != nil {
				if !yield(model.LogEntry{}, err) {
					return
				}
				continue
			}
			if ticks > after {
				entries = append(entries, stamped{name: name, ticks: ticks})
			}
		}
		slices.SortFunc(entries, func(a, b stamped) int { return cmp.Compare(a.ticks, b.ticks) })

		for _, e := range entries {
			content, ok, err := l.r.backend.Get(ctx, l.r.key(AttrLogs, e.name))
			if err != nil {
				if !yield(model.LogEntry{}, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			if !yield(model.LogEntry{Timestamp: fromTicks(e.ticks), Content: string(content)}, nil) {
				return
			}
		}
	}
}

func (l *Logs) key(ticks int64) storage.Key {
	return l.r.key(AttrLogs, formatTicks(ticks))
}

func toTicks(ts float64) int64 {
	return int64(math.Round(ts * ticksPerSecond))
}

func fromTicks(ticks int64) float64 {
	return float64(ticks) / ticksPerSecond
}

// formatTicks renders ticks with exactly four decimal digits.
func formatTicks(ticks int64) string {
	return fmt.Sprintf("%d.%04d", ticks/ticksPerSecond, ticks%ticksPerSecond)
}

func parseTicks(name string) (int64, error) {
	f, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return 0, fmt.Errorf("parse log timestamp %q: %w", name, err)
	}
	return toTicks(f), nil
}
