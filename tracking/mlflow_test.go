package tracking

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	calls       []string
	bodies      map[string][]byte
	failOn      string
}

func newFakeMLflow(t *testing.T) (*fakeMLflow, *httptest.Server) {
	t.Helper()
	f := &fakeMLflow{experiments: map[string]string{}, bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMLflow) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	endpoint := strings.TrimPrefix(r.URL.Path, "/api/2.0/")
	f.calls = append(f.calls, r.Method+" "+endpoint)
	f.bodies[endpoint] = body

	if f.failOn != "" && endpoint == f.failOn {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":"INTERNAL_ERROR","message":"boom"}`))
		return
	}

	switch {
	case endpoint == "mlflow/experiments/get-by-name":
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":"RESOURCE_DOES_NOT_EXIST","message":"no such experiment"}`))
			return
		}
		_, _ = w.Write([]byte(`{"experiment":{"experiment_id":"` + id + `"}}`))
	case endpoint == "mlflow/experiments/create":
		var req struct{ Name string }
		_ = json.Unmarshal(body, &req)
		f.experiments[req.Name] = "7"
		_, _ = w.Write([]byte(`{"experiment_id":"7"}`))
	case endpoint == "mlflow/runs/create":
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"run-1","experiment_id":"7"}}}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeMLflow) body(t *testing.T, endpoint string, out interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Contains(t, f.bodies, endpoint)
	require.NoError(t, json.Unmarshal(f.bodies[endpoint], out))
}

func testRecord(t *testing.T) *Record {
	t.Helper()
	dir := t.TempDir()
	train := filepath.Join(dir, "processed_train.csv")
	model := filepath.Join(dir, "lgbm_model.gob")
	require.NoError(t, os.WriteFile(train, []byte("lead_time,booking_status\n1,0\n"), 0o644))
	require.NoError(t, os.WriteFile(model, []byte("model-bytes"), 0o644))

	in, err := NewInput("processed_train", "training", train)
	require.NoError(t, err)
	art, err := NewArtifact(model)
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Record{
		Experiment: "hotel-reservations",
		Name:       "train",
		StartTime:  start,
		EndTime:    start.Add(time.Minute),
		Params:     map[string]string{"n_iter": "5", "cv": "2"},
		Metrics:    map[string]float64{"accuracy": 0.9, "f1": 0.8},
		Inputs:     []Input{in},
		Artifacts:  []Artifact{art},
	}
}

func TestMLflowSinkLogRun(t *testing.T) {
	fake, srv := newFakeMLflow(t)
	sink, err := NewMLflowSink(config.MLflowConfig{TrackingURI: srv.URL + "/"})
	require.NoError(t, err)

	id, err := sink.LogRun(context.Background(), testRecord(t))
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	assert.Equal(t, []string{
		"GET mlflow/experiments/get-by-name",
		"POST mlflow/experiments/create",
		"POST mlflow/runs/create",
		"POST mlflow/runs/log-batch",
		"POST mlflow/runs/log-inputs",
		"PUT mlflow-artifacts/artifacts/7/run-1/artifacts/lgbm_model.gob",
		"POST mlflow/runs/update",
	}, fake.calls)

	var batch struct {
		RunID   string `json:"run_id"`
		Params  []mlflowParam
		Metrics []mlflowMetric
	}
	fake.body(t, "mlflow/runs/log-batch", &batch)
	assert.Equal(t, "run-1", batch.RunID)
	assert.Equal(t, []mlflowParam{{Key: "cv", Value: "2"}, {Key: "n_iter", Value: "5"}}, batch.Params)
	require.Len(t, batch.Metrics, 2)
	assert.Equal(t, "accuracy", batch.Metrics[0].Key)
	assert.Equal(t, 0.9, batch.Metrics[0].Value)

	var inputs struct {
		Datasets []mlflowDatasetInput `json:"datasets"`
	}
	fake.body(t, "mlflow/runs/log-inputs", &inputs)
	require.Len(t, inputs.Datasets, 1)
	assert.Equal(t, "processed_train", inputs.Datasets[0].Dataset.Name)
	assert.Len(t, inputs.Datasets[0].Dataset.Digest, 8)
	assert.Equal(t, "training", inputs.Datasets[0].Tags[0].Value)

	var artifact []byte
	fake.mu.Lock()
	artifact = fake.bodies["mlflow-artifacts/artifacts/7/run-1/artifacts/lgbm_model.gob"]
	fake.mu.Unlock()
	assert.Equal(t, "model-bytes", string(artifact))

	var update struct {
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}
	fake.body(t, "mlflow/runs/update", &update)
	assert.Equal(t, StatusFinished, update.Status)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 5, 5, 0, time.UTC).UnixMilli(), update.EndTime)
}

func TestMLflowSinkReusesExperiment(t *testing.T) {
	fake, srv := newFakeMLflow(t)
	fake.experiments["hotel-reservations"] = "3"
	sink, err := NewMLflowSink(config.MLflowConfig{TrackingURI: srv.URL})
	require.NoError(t, err)

	_, err = sink.LogRun(context.Background(), &Record{Experiment: "hotel-reservations"})
	require.NoError(t, err)
	assert.NotContains(t, fake.calls, "POST mlflow/experiments/create")
	assert.NotContains(t, fake.calls, "POST mlflow/runs/log-inputs")

	var create struct {
		ExperimentID string `json:"experiment_id"`
	}
	fake.body(t, "mlflow/runs/create", &create)
	assert.Equal(t, "3", create.ExperimentID)
}

func TestMLflowSinkMarksFailedRun(t *testing.T) {
	fake, srv := newFakeMLflow(t)
	fake.failOn = "mlflow/runs/log-batch"
	sink, err := NewMLflowSink(config.MLflowConfig{TrackingURI: srv.URL})
	require.NoError(t, err)

	id, err := sink.LogRun(context.Background(), testRecord(t))
	require.Error(t, err)
	assert.Equal(t, "run-1", id)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)

	var update struct {
		Status string `json:"status"`
	}
	fake.body(t, "mlflow/runs/update", &update)
	assert.Equal(t, StatusFailed, update.Status)
}

func TestNewMLflowSinkRejectsBadURI(t *testing.T) {
	_, err := NewMLflowSink(config.MLflowConfig{TrackingURI: "not a url"})
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
