package jobs

import (
	"context"
	"errors"
	"math"
	"net/url"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/task"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

func TestGetStateResolvesInstanceID(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindCheck)
	ctx := context.Background()

	for _, ref := range []string{st.ID, st.InstanceID, "jobs/" + st.ID, "other-host:jobs/" + st.ID} {
		got, ok, err := env.svc.GetState(ctx, ref)
		require.NoError(t, err, ref)
		require.True(t, ok, ref)
		require.Equal(t, st.ID, got.ID)
	}

	unescaped, err := url.PathUnescape(url.PathEscape(st.InstanceID))
	require.NoError(t, err)
	_, ok, err := env.svc.GetState(ctx, unescaped)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetStateAbsent(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindCheck)
	ctx := context.Background()

	for _, ref := range []string{
		"check_missing",
		"unknown_01ABC",
		"host:updates/" + st.ID,
		"host:",
		"",
	} {
		_, ok, err := env.svc.GetState(ctx, ref)
		require.NoError(t, err, ref)
		require.False(t, ok, ref)
	}

	_, ok, err := env.svc.Logs(ctx, "check_missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStaleRunningJob(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()

	tk, err := env.registry.Create(ctx, KindCheck)
	require.NoError(t, err)
	job := tk.Job()
	require.NoError(t, job.SetState(ctx, model.StateRunning))
	require.NoError(t, job.SetPID(ctx, math.MaxInt32))

	st, ok, err := env.svc.GetState(ctx, job.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, st.Stale)
}

func TestStaleStartingJob(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()

	starting := func(at time.Time) *task.Job {
		env.registry.SetClock(func() time.Time { return at })
		tk, err := env.registry.Create(ctx, KindCheck)
		require.NoError(t, err)
		require.NoError(t, tk.Job().Transition(ctx, model.StateStarting))
		return tk.Job()
	}
	stale := func(job *task.Job) bool {
		st, ok, err := env.svc.GetState(ctx, job.ID())
		require.NoError(t, err)
		require.True(t, ok)
		return st.Stale
	}

	abandoned := starting(time.Now().Add(-2 * StartGrace))
	fresh := starting(time.Now())
	deadWorker := starting(time.Now())
	require.NoError(t, deadWorker.SetPID(ctx, math.MaxInt32))

	require.True(t, stale(abandoned))
	require.False(t, stale(fresh))
	require.True(t, stale(deadWorker))
}

func TestFollowDeliversEveryEntry(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{Delay: 50 * time.Millisecond, Updates: []string{"a"}})
	ctx := context.Background()

	id, err := env.svc.CreateJob(ctx, KindCheck, nil)
	require.NoError(t, err)

	var followed []model.LogEntry
	err = env.svc.Follow(ctx, id, 10*time.Millisecond, func(e model.LogEntry) error {
		followed = append(followed, e)
		return nil
	})
	require.NoError(t, err)
	env.detacher.Wait()

	all, ok, err := env.svc.Logs(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, all, followed)
	require.NotEmpty(t, followed)
}

func TestFollowDeliversEntriesWrittenBehindItsPosition(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()
	tk, err := env.registry.Create(ctx, KindCheck)
	require.NoError(t, err)
	job := tk.Job()

	_, err = job.Logs().AddAt(ctx, 2000, "first")
	require.NoError(t, err)

	delivered := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- env.svc.Follow(ctx, job.ID(), 5*time.Millisecond, func(e model.LogEntry) error {
			delivered <- e.Content
			return nil
		})
	}()

	select {
	case got := <-delivered:
		require.Equal(t, "first", got)
	case <-time.After(5 * time.Second):
		t.Fatal("first entry was not delivered")
	}

	// another writer with a clock slightly behind
	_, err = job.Logs().AddAt(ctx, 1999.9999, "late")
	require.NoError(t, err)
	require.NoError(t, job.SetState(ctx, model.StateCompleted))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return after the job completed")
	}
	close(delivered)

	var rest []string
	for c := range delivered {
		rest = append(rest, c)
	}
	require.Equal(t, []string{"late"}, rest)
}

func TestFollowStopsOnCallbackError(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindCheck)

	stop := errors.New("stop")
	err := env.svc.Follow(context.Background(), st.ID, time.Millisecond, func(model.LogEntry) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}

func TestFollowUnknownJob(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	err := env.svc.Follow(context.Background(), "check_missing", 0, func(model.LogEntry) error { return nil })
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestFollowHonorsContext(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()
	tk, err := env.registry.Create(ctx, KindCheck)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err = env.svc.Follow(ctx, tk.Job().ID(), 5*time.Millisecond, func(model.LogEntry) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListJobsAndLatest(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()

	first := env.create(t, KindCheck)
	failed := env.create(t, KindUpdate, "fail=1")
	last := env.create(t, KindCheck)

	all, err := env.svc.ListJobs(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	checks, err := env.svc.ListJobs(ctx, KindCheck)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	_, err = env.svc.ListJobs(ctx, "nope")
	require.ErrorIs(t, err, task.ErrUnknownKind)

	latest, ok, err := env.svc.Latest(ctx, KindCheck, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first.ID, latest.ID)
	require.Equal(t, last.ID, latest.ID)

	latest, ok, err = env.svc.Latest(ctx, KindUpdate, model.StateException)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, failed.ID, latest.ID)

	_, ok, err = env.svc.Latest(ctx, KindSurvey, "")
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := env.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats[KindCheck][model.StateCompleted])
	require.Equal(t, 1, stats[KindUpdate][model.StateException])
	require.Empty(t, stats[KindSurvey])
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	ctx := context.Background()

	done := env.create(t, KindCheck)
	require.ErrorIs(t, env.svc.Cancel(ctx, done.ID), ErrNotRunning)
	require.ErrorIs(t, env.svc.Cancel(ctx, "check_missing"), ErrJobNotFound)

	if runtime.GOOS == "windows" {
		t.Skip("signals need a unix platform")
	}

	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	tk, err := env.registry.Create(ctx, KindCheck)
	require.NoError(t, err)
	job := tk.Job()
	require.NoError(t, job.SetState(ctx, model.StateRunning))
	require.NoError(t, job.SetPID(ctx, cmd.Process.Pid))

	require.NoError(t, env.svc.Cancel(ctx, job.ID()))
	select {
	case err := <-waited:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-waited
		t.Fatal("worker was not terminated")
	}

	s, _, err := job.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StateRunning, s)
}
