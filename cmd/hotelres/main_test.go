package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/tracking"
)

func writeConfig(t *testing.T, artifacts string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "paths:\n  artifacts_dir: " + artifacts + "\n" +
		"tracking:\n  backend: local\n  experiment: exp-a\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	log.UseTestLogger(t, log.LevelDebug)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedRuns(t *testing.T, dir string) {
	t.Helper()
	store, err := tracking.OpenLocalStore(dir)
	require.NoError(t, err)
	for _, exp := range []string{"exp-a", "exp-b"} {
		_, err := store.LogRun(context.Background(), &tracking.Record{
			Experiment: exp,
			StartTime:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
			Metrics:    map[string]float64{"f1": 0.5, "accuracy": 0.75},
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
}

func TestCommandsRegistered(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ingest", "process", "train", "run", "serve", "runs"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestRunsListsExperiment(t *testing.T) {
	artifacts := t.TempDir()
	seedRuns(t, filepath.Join(artifacts, "mlruns"))

	out, err := execute(t, "runs", "--config", writeConfig(t, artifacts))
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "exp-a")
	assert.NotContains(t, out, "exp-b")
	assert.Contains(t, out, "accuracy=0.7500 f1=0.5000")
}

func TestRunsJSONAllExperiments(t *testing.T) {
	artifacts := t.TempDir()
	seedRuns(t, filepath.Join(artifacts, "mlruns"))

	out, err := execute(t, "runs", "--config", writeConfig(t, artifacts), "--experiment", "all", "--json")
	require.NoError(t, err)
	var records []tracking.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "exp-a", records[0].Experiment)
	assert.Equal(t, tracking.StatusFinished, records[0].Status)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "runs", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "runs", "--config", writeConfig(t, t.TempDir()), "--log-level", "loud")
	assert.Error(t, err)
}

func TestServeMissingModel(t *testing.T) {
	artifacts := t.TempDir()
	_, err := execute(t, "serve", "--config", writeConfig(t, artifacts))
	assert.ErrorContains(t, err, "lgbm_model.gob")
}

func TestProcessWithoutIngest(t *testing.T) {
	_, err := execute(t, "process", "--config", writeConfig(t, t.TempDir()))
	var stageErr *errors.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "ingestion", stageErr.Stage)
}

func TestLogFatalNamesStage(t *testing.T) {
	tl := log.UseTestLogger(t, log.LevelDebug)
	logFatal(errors.NewStageError("training", "artifacts/models/lgbm_model.gob", errors.New("disk full")))

	assert.True(t, tl.ContainsMessage("Command failed"))
	assert.True(t, tl.ContainsField(log.StageKey, "training"))
	assert.True(t, tl.ContainsField(log.PathKey, "artifacts/models/lgbm_model.gob"))
}
