package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
	"github.com/sassoftware/rpath-tools-sub000/internal/updater"
)

func TestCheckJob(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{Updates: []string{"group-os=2.0"}})
	st := env.create(t, KindCheck)

	require.Equal(t, model.StateCompleted, st.State)
	require.Equal(t, "group-os=2.0", st.Content)
	require.True(t, strings.HasPrefix(st.ID, "check_"))
	require.Equal(t, "host.example:jobs/"+st.ID, st.InstanceID)
	require.Positive(t, st.LogCount)
	require.False(t, st.Stale)
}

func TestCheckJobUpToDate(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindCheck)

	require.Equal(t, model.StateCompleted, st.State)
	require.Empty(t, st.Content)

	entries, ok, err := env.svc.Logs(context.Background(), st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "System is up to date", entries[len(entries)-1].Content)
}

func TestUpdateJobSnapshotsManifest(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindUpdate, "group-os=1.1", "foo=2")

	require.Equal(t, model.StateCompleted, st.State)
	require.Equal(t, "group-os=1.1\nfoo=2", st.Content)

	job, ok, err := env.registry.LoadJob(context.Background(), st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	raw, ok, err := job.Blob(context.Background(), BlobManifest)
	require.NoError(t, err)
	require.True(t, ok)

	var specs []string
	require.NoError(t, json.Unmarshal(raw, &specs))
	require.Equal(t, []string{"group-os=1.1", "foo=2"}, specs)
}

func TestUpdateJobFailure(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	st := env.create(t, KindUpdate, "ok=1", "fail=2")

	require.Equal(t, model.StateException, st.State)
	require.Contains(t, st.Content, "simulated failure")
}

func TestUpdateJobWithoutSpecs(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	id, err := env.svc.CreateJob(context.Background(), KindUpdate, nil)
	require.ErrorIs(t, err, ErrNoSources)
	require.NotEmpty(t, id)

	st, ok, err := env.svc.GetState(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.StateNew, st.State)
}

func TestSurveyJob(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})

	modelFile := filepath.Join(t.TempDir(), "system-model")
	require.NoError(t, os.WriteFile(modelFile, []byte("install group-os\ninstall foo\n"), 0o644))

	id, err := env.svc.CreateJob(context.Background(), KindSurvey, []string{modelFile, "foo", "bar"})
	require.NoError(t, err)

	// The worker must use the snapshot, not the file.
	require.NoError(t, os.Remove(modelFile))
	env.detacher.Wait()

	st := waitTerminal(t, env.svc, id)
	require.Equal(t, model.StateCompleted, st.State)

	var res updater.SurveyResult
	require.NoError(t, json.Unmarshal([]byte(st.Content), &res))
	require.Equal(t, []string{"foo", "bar"}, res.Desired)
	require.Equal(t, 2, res.SystemModelLines)
}

func TestSurveyJobWithoutModel(t *testing.T) {
	env := newTestEnv(t, &updater.StubEngine{})
	_, err := env.svc.CreateJob(context.Background(), KindSurvey, nil)
	require.ErrorIs(t, err, ErrNoSystemModel)

	_, err = env.svc.CreateJob(context.Background(), KindSurvey, []string{filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, os.ErrNotExist)
}
