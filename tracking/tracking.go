// Package tracking records training runs: parameters, metrics, input
// datasets and artifact files. Runs go to an MLflow server, a local badger
// store or nowhere.
package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Run statuses, matching the MLflow vocabulary.
const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

// ErrRunNotFound is returned when a run id is unknown to the store.
var ErrRunNotFound = errors.New("run not found")

// Record is one training run.
type Record struct {
	ID         string             `json:"id"`
	Experiment string             `json:"experiment"`
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
	Inputs     []Input            `json:"inputs"`
	Artifacts  []Artifact         `json:"artifacts"`
}

// Input is a dataset file consumed by the run.
type Input struct {
	Name    string `json:"name"`
	Context string `json:"context"` // training or evaluation
	Path    string `json:"path"`
	Digest  string `json:"digest"`
}

// Artifact is a file produced by the run.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Sink persists finished runs and returns the id they were stored under.
type Sink interface {
	LogRun(ctx context.Context, rec *Record) (string, error)
	Close() error
}

// New builds the sink for the configured backend.
func New(cfg config.TrackingConfig, paths config.Paths) (Sink, error) {
	switch cfg.Backend {
	case "mlflow":
		return NewMLflowSink(cfg.MLflow)
	case "local":
		return OpenLocalStore(paths.MLRunsDir())
	case "none":
		return NopSink{}, nil
	default:
		return nil, errors.NewConfigError("tracking.backend", "unknown tracking backend "+cfg.Backend, nil)
	}
}

// NopSink discards runs.
type NopSink struct{}

func (NopSink) LogRun(context.Context, *Record) (string, error) { return "", nil }
func (NopSink) Close() error                                    { return nil }

// NewInput describes a dataset file. The digest is the first 8 hex digits of
// its SHA-256.
func NewInput(name, role, path string) (Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return Input{}, errors.Wrapf(err, "open input %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Input{}, errors.Wrapf(err, "hash input %s", path)
	}
	return Input{
		Name:    name,
		Context: role,
		Path:    path,
		Digest:  hex.EncodeToString(h.Sum(nil))[:8],
	}, nil
}

// NewArtifact describes an output file.
func NewArtifact(path string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "stat artifact %s", path)
	}
	return Artifact{Name: filepath.Base(path), Path: path, Size: info.Size()}, nil
}
