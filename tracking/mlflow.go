package tracking

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

const (
	// DefaultMLflowTimeout bounds every request to the tracking server.
	DefaultMLflowTimeout = 30 * time.Second

	mlflowAPI          = "/api/2.0/mlflow/"
	mlflowArtifactsAPI = "/api/2.0/mlflow-artifacts/artifacts/"
)

// APIError is an error response from the MLflow REST API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return "mlflow: " + http.StatusText(e.Status) + ": " + e.Code + ": " + e.Message
}

// MLflowSink logs runs through the MLflow REST API 2.0.
type MLflowSink struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewMLflowSink creates a client for the tracking server at cfg.TrackingURI.
func NewMLflowSink(cfg config.MLflowConfig) (*MLflowSink, error) {
	u, err := url.Parse(cfg.TrackingURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewConfigError("tracking.mlflow.tracking_uri", "must be an absolute http(s) URL", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMLflowTimeout
	}
	return &MLflowSink{
		baseURL: strings.TrimRight(cfg.TrackingURI, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  log.GetLoggerWithName("tracking.mlflow"),
	}, nil
}

type mlflowTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type mlflowDataset struct {
	Name       string `json:"name"`
	Digest     string `json:"digest"`
	SourceType string `json:"source_type"`
	Source     string `json:"source"`
}

type mlflowDatasetInput struct {
	Tags    []mlflowTag   `json:"tags"`
	Dataset mlflowDataset `json:"dataset"`
}

// LogRun creates the run, logs params, metrics, inputs and artifacts and
// marks it finished. When a step fails the run is marked FAILED.
func (s *MLflowSink) LogRun(ctx context.Context, rec *Record) (string, error) {
	expID, err := s.experimentID(ctx, rec.Experiment)
	if err != nil {
		return "", err
	}
	runID, err := s.createRun(ctx, expID, rec)
	if err != nil {
		return "", err
	}

	if err := s.logRunData(ctx, expID, runID, rec); err != nil {
		if uerr := s.updateRun(ctx, runID, StatusFailed, time.Now()); uerr != nil {
			s.logger.Warn("Failed to mark run as failed", log.RunIDKey, runID, "error", uerr)
		}
		return runID, err
	}

	end := rec.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	if err := s.updateRun(ctx, runID, StatusFinished, end); err != nil {
		return runID, err
	}
	s.logger.Info("Logged run to MLflow", log.RunIDKey, runID, "experiment_id", expID)
	return runID, nil
}

func (s *MLflowSink) logRunData(ctx context.Context, expID, runID string, rec *Record) error {
	if err := s.logBatch(ctx, runID, rec); err != nil {
		return err
	}
	if err := s.logInputs(ctx, runID, rec.Inputs); err != nil {
		return err
	}
	for _, a := range rec.Artifacts {
		if err := s.uploadArtifact(ctx, expID, runID, a); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (s *MLflowSink) Close() error { return nil }

func (s *MLflowSink) experimentID(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := s.call(ctx, http.MethodGet, "experiments/get-by-name", url.Values{"experiment_name": {name}}, nil, &got)
	if err == nil {
		return got.Experiment.ExperimentID, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "RESOURCE_DOES_NOT_EXIST" {
		return "", err
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := s.call(ctx, http.MethodPost, "experiments/create", nil, map[string]string{"name": name}, &created); err != nil {
		return "", err
	}
	s.logger.Info("Created MLflow experiment", "experiment", name, "experiment_id", created.ExperimentID)
	return created.ExperimentID, nil
}

func (s *MLflowSink) createRun(ctx context.Context, expID string, rec *Record) (string, error) {
	start := rec.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	req := struct {
		ExperimentID string      `json:"experiment_id"`
		RunName      string      `json:"run_name,omitempty"`
		StartTime    int64       `json:"start_time"`
		Tags         []mlflowTag `json:"tags"`
	}{
		ExperimentID: expID,
		RunName:      rec.Name,
		StartTime:    start.UnixMilli(),
		Tags:         []mlflowTag{{Key: "mlflow.source.name", Value: "hotelres"}},
	}
	var resp struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := s.call(ctx, http.MethodPost, "runs/create", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Run.Info.RunID, nil
}

func (s *MLflowSink) logBatch(ctx context.Context, runID string, rec *Record) error {
	ts := rec.EndTime
	if ts.IsZero() {
		ts = time.Now()
	}
	req := struct {
		RunID   string         `json:"run_id"`
		Params  []mlflowParam  `json:"params"`
		Metrics []mlflowMetric `json:"metrics"`
	}{RunID: runID, Params: []mlflowParam{}, Metrics: []mlflowMetric{}}

	for _, k := range sortedKeys(rec.Params) {
		req.Params = append(req.Params, mlflowParam{Key: k, Value: rec.Params[k]})
	}
	for _, k := range sortedKeys(rec.Metrics) {
		req.Metrics = append(req.Metrics, mlflowMetric{Key: k, Value: rec.Metrics[k], Timestamp: ts.UnixMilli()})
	}
	return s.call(ctx, http.MethodPost, "runs/log-batch", nil, req, nil)
}

func (s *MLflowSink) logInputs(ctx context.Context, runID string, inputs []Input) error {
	if len(inputs) == 0 {
		return nil
	}
	req := struct {
		RunID    string               `json:"run_id"`
		Datasets []mlflowDatasetInput `json:"datasets"`
	}{RunID: runID}
	for _, in := range inputs {
		source, err := json.Marshal(map[string]string{"uri": in.Path})
		if err != nil {
			return errors.Wrap(err, "encode dataset source")
		}
		req.Datasets = append(req.Datasets, mlflowDatasetInput{
			Tags: []mlflowTag{{Key: "mlflow.data.context", Value: in.Context}},
			Dataset: mlflowDataset{
				Name:       in.Name,
				Digest:     in.Digest,
				SourceType: "local",
				Source:     string(source),
			},
		})
	}
	return s.call(ctx, http.MethodPost, "runs/log-inputs", nil, req, nil)
}

func (s *MLflowSink) uploadArtifact(ctx context.Context, expID, runID string, a Artifact) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return errors.Wrapf(err, "read artifact %s", a.Path)
	}
	endpoint := s.baseURL + mlflowArtifactsAPI + path.Join(expID, runID, "artifacts", a.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build artifact request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return s.send(req, nil)
}

func (s *MLflowSink) updateRun(ctx context.Context, runID, status string, end time.Time) error {
	req := struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}{RunID: runID, Status: status, EndTime: end.UnixMilli()}
	return s.call(ctx, http.MethodPost, "runs/update", nil, req, nil)
}

// call sends a JSON request to an MLflow endpoint and decodes the response into out.
func (s *MLflowSink) call(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	u := s.baseURL + mlflowAPI + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", endpoint)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(req, out)
}

func (s *MLflowSink) send(req *http.Request, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s response", req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(data, apiErr); jerr != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return errors.Wrapf(apiErr, "%s %s", req.Method, req.URL.Path)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s response", req.URL.Path)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
