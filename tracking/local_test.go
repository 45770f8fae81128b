package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

func openMemoryStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := OpenLocalStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLocalStoreLogAndGet(t *testing.T) {
	store := openMemoryStore(t)
	ctx := context.Background()

	rec := testRecord(t)
	id, err := store.LogRun(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Equal(t, rec.Params, got.Params)
	assert.Equal(t, rec.Metrics, got.Metrics)
	assert.Equal(t, rec.Inputs, got.Inputs)
	assert.Equal(t, rec.Artifacts, got.Artifacts)
	assert.True(t, rec.StartTime.Equal(got.StartTime))
}

func TestLocalStoreListOrder(t *testing.T) {
	store := openMemoryStore(t)
	ctx := context.Background()

	var ids []string
	for i, exp := range []string{"a", "b", "a"} {
		id, err := store.LogRun(ctx, &Record{Experiment: exp, Name: string(rune('x' + i))})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		assert.Equal(t, ids[i], rec.ID)
	}

	onlyA, err := store.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, ids[0], onlyA[0].ID)
	assert.Equal(t, ids[2], onlyA[1].ID)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store := openMemoryStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestLocalStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLocalStore(dir)
	require.NoError(t, err)
	id, err := store.LogRun(context.Background(), &Record{Experiment: "e"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenLocalStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "e", got.Experiment)
}

func TestNewBackends(t *testing.T) {
	paths := config.NewPaths(t.TempDir())

	sink, err := New(config.TrackingConfig{Backend: "none"}, paths)
	require.NoError(t, err)
	id, err := sink.LogRun(context.Background(), &Record{})
	require.NoError(t, err)
	assert.Empty(t, id)

	sink, err = New(config.TrackingConfig{Backend: "local"}, paths)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, sink)
	require.NoError(t, sink.Close())

	sink, err = New(config.TrackingConfig{Backend: "mlflow", MLflow: config.MLflowConfig{TrackingURI: "http://127.0.0.1:5000"}}, paths)
	require.NoError(t, err)
	assert.IsType(t, &MLflowSink{}, sink)

	_, err = New(config.TrackingConfig{Backend: "wandb"}, paths)
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
