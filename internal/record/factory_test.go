package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sassoftware/rpath-tools-sub000/internal/storage"
)

func ids(t *testing.T, f *Factory) []string {
	t.Helper()
	var out []string
	for r, err := range f.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, r.ID())
	}
	return out
}

func TestFactoryNewAndLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		f := NewFactory(backend, Config{Namespace: "updates", Prefix: "update"})

		r, err := f.New(ctx)
		require.NoError(t, err)

		loaded, ok, err := f.Load(ctx, r.ID())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, r.ID(), loaded.ID())

		_, ok, err = f.Load(ctx, "update_missing")
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = f.Load(ctx, "../escape")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestFactoryEnumerationPurgesExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		clock := newFakeClock()
		f := NewFactory(backend, testConfig(clock))

		r, err := f.New(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{r.ID()}, ids(t, f))

		clock.Advance(2 * time.Hour)
		require.Empty(t, ids(t, f))

		exists, err := backend.Exists(ctx, storage.RecordKey("jobs", r.ID()))
		require.NoError(t, err)
		require.False(t, exists)

		require.Empty(t, ids(t, f))
	})
}

func TestFactoryPurgeCounts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		clock := newFakeClock()
		f := NewFactory(backend, testConfig(clock))

		old, err := f.New(ctx)
		require.NoError(t, err)
		clock.Advance(50 * time.Minute)
		fresh, err := f.New(ctx)
		require.NoError(t, err)
		clock.Advance(20 * time.Minute)

		n, err := f.Purge(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, []string{fresh.ID()}, ids(t, f))
		_ = old

		n, err = f.Purge(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestFactoryLatest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		clock := newFakeClock()
		f := NewFactory(backend, testConfig(clock))

		_, ok, err := f.Latest(ctx, nil)
		require.NoError(t, err)
		require.False(t, ok)

		a, err := f.New(ctx)
		require.NoError(t, err)
		require.NoError(t, a.SetState(ctx, "Completed"))
		clock.Advance(time.Second)
		b, err := f.New(ctx)
		require.NoError(t, err)
		require.NoError(t, b.SetState(ctx, "Running"))
		clock.Advance(time.Second)
		c, err := f.New(ctx)
		require.NoError(t, err)
		require.NoError(t, c.SetState(ctx, "Completed"))

		latest, ok, err := f.Latest(ctx, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, c.ID(), latest.ID())

		clock.Advance(time.Second)
		require.NoError(t, a.SetContent(ctx, []byte("refreshed")))

		completed := func(ctx context.Context, r *Record) (bool, error) {
			s, _, err := r.State(ctx)
			return s == "Completed", err
		}
		latest, ok, err = f.Latest(ctx, completed)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, a.ID(), latest.ID())

		none := func(context.Context, *Record) (bool, error) { return false, nil }
		_, ok, err = f.Latest(ctx, none)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestFactoryLatestTieGoesToSmallestID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend storage.Backend) {
		ctx := context.Background()
		clock := newFakeClock()
		f := NewFactory(backend, testConfig(clock))

		var created []string
		for range 3 {
			r, err := f.New(ctx)
			require.NoError(t, err)
			created = append(created, r.ID())
		}

		latest, ok, err := f.Latest(ctx, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, min(created[0], created[1], created[2]), latest.ID())
	})
}
