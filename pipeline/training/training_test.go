package training

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/pipeline/processing"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/preprocessing"
	"github.com/YuminosukeSato/hotelres/tracking"
)

func smallConfig() config.TrainingConfig {
	return config.TrainingConfig{
		NIter:         3,
		CV:            2,
		Seed:          5901,
		Scoring:       "accuracy",
		NEstimators:   config.IntRange{Min: 10, Max: 20},
		MaxDepth:      config.IntRange{Min: 3, Max: 6},
		LearningRate:  config.FloatRange{Min: 0.1, Max: 0.3},
		NumLeaves:     config.IntRange{Min: 4, Max: 8},
		BoostingTypes: []string{"gbdt", "dart"},
	}
}

// separableData labels rows by lead_time >= 100. price is noise.
func separableData(t *testing.T, n int) *processing.Result {
	t.Helper()
	build := func(offset int) *dataset.Matrix {
		lead := make([]float64, n)
		price := make([]float64, n)
		y := make([]float64, n)
		for i := 0; i < n; i++ {
			lead[i] = float64((i*13+offset)%200) + 1
			price[i] = float64((i*7+offset)%50) + 60
			if lead[i] >= 100 {
				y[i] = 0 // Canceled
			} else {
				y[i] = 1
			}
		}
		m, err := dataset.NewMatrix([]string{"lead_time", "avg_price_per_room"}, [][]float64{lead, price}, "booking_status", y)
		require.NoError(t, err)
		return m
	}

	target := preprocessing.NewLabelEncoder("booking_status", preprocessing.UnknownError)
	require.NoError(t, target.Fit([]string{"Canceled", "Not_Canceled"}))
	return &processing.Result{
		Train: build(0),
		Test:  build(5),
		State: &processing.State{
			Version:       processing.StateVersion,
			Target:        "booking_status",
			TargetEncoder: target,
			Selected:      []string{"lead_time", "avg_price_per_room"},
			FillValues:    []processing.FillValue{{Feature: "lead_time", Value: 90}, {Feature: "avg_price_per_room", Value: 85}},
		},
	}
}

func TestTrainerRun(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	store, err := tracking.OpenLocalStore("")
	require.NoError(t, err)
	defer store.Close()

	tr := NewTrainer(smallConfig(), "hotel-reservations", paths, store)
	res, err := tr.Run(context.Background(), separableData(t, 200))
	require.NoError(t, err)

	assert.Len(t, res.Trials, 3)
	assert.GreaterOrEqual(t, res.Bundle.Metrics.Accuracy, 0.9)
	assert.Equal(t, []string{"Canceled", "Not_Canceled"}, res.Bundle.Classes)
	assert.Equal(t, []string{"lead_time", "avg_price_per_room"}, res.Bundle.Features)

	p := res.Bundle.Params
	assert.Contains(t, []string{"gbdt", "dart"}, p.BoostingType)
	assert.True(t, p.NEstimators >= 10 && p.NEstimators <= 20)
	assert.True(t, p.MaxDepth >= 3 && p.MaxDepth <= 6)
	assert.True(t, p.LearningRate >= 0.1 && p.LearningRate < 0.3)
	assert.True(t, p.NumLeaves >= 4 && p.NumLeaves <= 8)

	loaded, err := LoadBundle(paths.ModelFile())
	require.NoError(t, err)
	assert.Equal(t, res.Bundle.Params, loaded.Params)
	assert.Equal(t, res.Bundle.Metrics, loaded.Metrics)
	for _, x := range [][]float64{{5, 80}, {150, 80}, {99, 61}} {
		wantCode, wantP, err := res.Bundle.Predict(x)
		require.NoError(t, err)
		gotCode, gotP, err := loaded.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, wantCode, gotCode)
		assert.InDelta(t, wantP, gotP, 1e-12)
	}

	require.NotEmpty(t, res.RunID)
	rec, err := store.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "hotel-reservations", rec.Experiment)
	assert.Equal(t, "3", rec.Params["n_iter"])
	assert.Equal(t, "5901", rec.Params["seed"])
	assert.Equal(t, p.BoostingType, rec.Params["boosting_type"])
	assert.Equal(t, res.Bundle.Metrics.F1, rec.Metrics["f1"])
	assert.Contains(t, rec.Metrics, "cv_best_score")
	require.Len(t, rec.Artifacts, 1)
	assert.Equal(t, "lgbm_model.gob", rec.Artifacts[0].Name)
	assert.Empty(t, rec.Inputs)
}

func TestTrainerSameSeedSameParams(t *testing.T) {
	run := func() Hyperparams {
		tr := NewTrainer(smallConfig(), "e", config.NewPaths(t.TempDir()), nil)
		res, err := tr.Run(context.Background(), separableData(t, 120))
		require.NoError(t, err)
		return res.Bundle.Params
	}
	assert.Equal(t, run(), run())
}

func TestTrainerSingleClass(t *testing.T) {
	data := separableData(t, 50)
	for i := range data.Train.Y {
		data.Train.Y[i] = 1
	}
	tr := NewTrainer(smallConfig(), "e", config.NewPaths(t.TempDir()), nil)
	_, err := tr.Run(context.Background(), data)
	assert.True(t, errors.Is(err, errors.ErrDegenerateTarget))
}

func TestTrainerRunFromFilesMissing(t *testing.T) {
	tr := NewTrainer(smallConfig(), "e", config.NewPaths(t.TempDir()), nil)
	_, err := tr.RunFromFiles(context.Background(), "booking_status")
	var stageErr *errors.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, processing.StageName, stageErr.Stage)
}

func TestScorer(t *testing.T) {
	for _, name := range []string{"accuracy", "precision", "recall", "f1"} {
		s, err := Scorer(name)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
	_, err := Scorer("auc")
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBundleVector(t *testing.T) {
	data := separableData(t, 120)
	tr := NewTrainer(smallConfig(), "e", config.NewPaths(t.TempDir()), nil)
	res, err := tr.Run(context.Background(), data)
	require.NoError(t, err)
	b := res.Bundle
	b.LogShifts = map[string]float64{"lead_time": 0}

	x, err := b.Vector(map[string]float64{"lead_time": 9})
	require.NoError(t, err)
	assert.InDelta(t, 2.302585, x[0], 1e-6) // log1p(9)
	assert.Equal(t, 85.0, x[1])

	delete(b.FillValues, "avg_price_per_room")
	_, err = b.Vector(map[string]float64{"lead_time": 9})
	assert.True(t, errors.Is(err, errors.ErrMissingColumn))

	_, err = b.Vector(map[string]float64{"lead_time": -5, "avg_price_per_room": 1})
	var dataErr *errors.DataError
	assert.True(t, errors.As(err, &dataErr))

	_, _, err = b.Predict([]float64{1})
	assert.Error(t, err)
	assert.Equal(t, "Canceled", b.ClassName(0))
	assert.Equal(t, "", b.ClassName(5))
}

func TestLoadBundleRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lgbm_model.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob"), 0o644))
	_, err := LoadBundle(path)
	assert.Error(t, err)
}

func TestLoadBundleRejectsVersionMismatch(t *testing.T) {
	tr := NewTrainer(smallConfig(), "e", config.NewPaths(t.TempDir()), nil)
	res, err := tr.Run(context.Background(), separableData(t, 80))
	require.NoError(t, err)

	b := *res.Bundle
	b.Version = BundleVersion + 1
	path := filepath.Join(t.TempDir(), "old.gob")
	assert.Error(t, SaveBundle(&b, path))

	require.NoError(t, model.SaveModel(&b, path))
	_, err = LoadBundle(path)
	assert.ErrorContains(t, err, "unsupported model bundle version")
}
