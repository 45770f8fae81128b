// Package training runs the hyperparameter search over the boosted tree
// classifier, evaluates the refitted model on the held-out split, writes the
// model bundle and records the run.
package training

import (
	"context"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/metrics"
	"github.com/YuminosukeSato/hotelres/pipeline/processing"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/sklearn/lightgbm"
	"github.com/YuminosukeSato/hotelres/sklearn/model_selection"
	"github.com/YuminosukeSato/hotelres/tracking"
)

// StageName identifies this stage in logs and errors.
const StageName = "training"

// Result is the output of the stage.
type Result struct {
	Bundle *Bundle
	Trials []model_selection.TrialResult
	// BestCVScore is the mean CV score of the chosen trial.
	BestCVScore float64
	// RunID is the tracking id; empty when tracking is disabled.
	RunID string
}

// Trainer runs the training stage.
type Trainer struct {
	cfg        config.TrainingConfig
	experiment string
	paths      config.Paths
	sink       tracking.Sink
	logger     log.Logger
}

// NewTrainer creates a Trainer that records runs under experiment in sink.
func NewTrainer(cfg config.TrainingConfig, experiment string, paths config.Paths, sink tracking.Sink) *Trainer {
	if sink == nil {
		sink = tracking.NopSink{}
	}
	return &Trainer{
		cfg:        cfg,
		experiment: experiment,
		paths:      paths,
		sink:       sink,
		logger:     log.GetLoggerWithName(StageName).With(log.StageKey, StageName),
	}
}

// Distributions builds the search space from the configured ranges.
func Distributions(cfg config.TrainingConfig) []model_selection.ParamDistribution {
	return []model_selection.ParamDistribution{
		{Name: "n_estimators", Distribution: model_selection.IntUniform{Low: cfg.NEstimators.Min, High: cfg.NEstimators.Max}},
		{Name: "max_depth", Distribution: model_selection.IntUniform{Low: cfg.MaxDepth.Min, High: cfg.MaxDepth.Max}},
		{Name: "learning_rate", Distribution: model_selection.FloatUniform{Low: cfg.LearningRate.Min, High: cfg.LearningRate.Max}},
		{Name: "num_leaves", Distribution: model_selection.IntUniform{Low: cfg.NumLeaves.Min, High: cfg.NumLeaves.Max}},
		{Name: "boosting_type", Distribution: model_selection.Categorical{Choices: cfg.BoostingTypes}},
	}
}

// Scorer returns the CV scorer for a scoring name.
func Scorer(name string) (lightgbm.Scorer, error) {
	switch name {
	case "", "accuracy":
		return metrics.Accuracy, nil
	case "precision":
		return metrics.Precision, nil
	case "recall":
		return metrics.Recall, nil
	case "f1":
		return metrics.F1Score, nil
	default:
		return nil, errors.NewConfigError("training.scoring", "unknown scoring "+name, nil)
	}
}

// RunFromFiles loads the processing outputs and runs.
func (t *Trainer) RunFromFiles(ctx context.Context, target string) (*Result, error) {
	data, err := processing.Load(t.paths, target)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, data)
}

// Run searches, refits, evaluates, saves the bundle and logs the run.
func (t *Trainer) Run(ctx context.Context, data *processing.Result) (*Result, error) {
	start := time.Now()
	if data == nil || data.Train == nil || data.Test == nil || data.State == nil {
		return nil, errors.NewValueError("training.Run", "processing result is incomplete")
	}
	if len(data.Train.Classes()) < 2 {
		return nil, errors.WrapDataError(errors.ErrDegenerateTarget, data.Train.Target, -1, "training split has a single class")
	}
	scorer, err := Scorer(t.cfg.Scoring)
	if err != nil {
		return nil, err
	}

	search := model_selection.NewRandomizedSearchCV(
		model_selection.NewClassifierFactory(int(t.cfg.Seed)),
		Distributions(t.cfg), t.cfg.NIter, t.cfg.CV, t.cfg.Seed)
	search.Scorer = scorer
	t.logger.Info("Starting random search",
		"n_iter", t.cfg.NIter,
		"cv", t.cfg.CV,
		log.RandomSeedKey, t.cfg.Seed,
		log.SamplesKey, data.Train.Rows(),
		log.FeaturesKey, data.Train.Cols())
	if err := search.Fit(ctx, data.Train.X, labels(data.Train)); err != nil {
		return nil, errors.Wrap(err, StageName)
	}

	clf, ok := search.BestEstimator_.(*lightgbm.LGBMClassifier)
	if !ok {
		return nil, errors.NewModelError("training.Run", "unexpected estimator type", nil)
	}
	params, err := hyperparams(search.BestParams_)
	if err != nil {
		return nil, err
	}

	report, err := evaluate(clf, data.Test)
	if err != nil {
		return nil, errors.Wrap(err, "evaluate on test split")
	}
	t.logger.Info("Evaluated best model",
		log.AccuracyKey, report.Accuracy,
		log.PrecisionKey, report.Precision,
		log.RecallKey, report.Recall,
		log.F1Key, report.F1)

	bundle := &Bundle{
		Version:    BundleVersion,
		Model:      clf.Model,
		Features:   append([]string(nil), data.Train.Features...),
		Target:     data.Train.Target,
		Classes:    data.State.ClassNames(),
		LogShifts:  data.State.LogShifts(),
		FillValues: data.State.Fills(),
		Params:     params,
		Metrics:    report,
		TrainedAt:  time.Now().UTC(),
	}
	bundle.Model.FeatureNames = bundle.Features
	if err := SaveBundle(bundle, t.paths.ModelFile()); err != nil {
		return nil, errors.NewStageError(StageName, t.paths.ModelFile(), err)
	}

	res := &Result{Bundle: bundle, Trials: search.Trials_, BestCVScore: search.BestScore_}
	runID, err := t.sink.LogRun(ctx, t.record(start, res))
	if err != nil {
		return nil, errors.Wrap(err, "log tracking run")
	}
	res.RunID = runID

	t.logger.Info("Training completed",
		log.RunIDKey, runID,
		log.PathKey, t.paths.ModelFile(),
		log.HyperParamsKey, params,
		log.DurationMsKey, time.Since(start).Milliseconds())
	return res, nil
}

func labels(m *dataset.Matrix) *mat.Dense {
	return mat.NewDense(m.Rows(), 1, append([]float64(nil), m.Y...))
}

func evaluate(clf *lightgbm.LGBMClassifier, test *dataset.Matrix) (metrics.Report, error) {
	pred, err := clf.Predict(test.X)
	if err != nil {
		return metrics.Report{}, err
	}
	yPred := mat.NewVecDense(test.Rows(), nil)
	for i := 0; i < test.Rows(); i++ {
		yPred.SetVec(i, pred.At(i, 0))
	}
	yTrue := mat.NewVecDense(test.Rows(), append([]float64(nil), test.Y...))
	return metrics.Evaluate(yTrue, yPred)
}

// hyperparams reads the sampled values back into a typed struct.
func hyperparams(p map[string]interface{}) (Hyperparams, error) {
	var h Hyperparams
	var ok bool
	if h.BoostingType, ok = p["boosting_type"].(string); !ok {
		return h, errors.NewValidationError("boosting_type", "missing from best params", p["boosting_type"])
	}
	if h.NEstimators, ok = p["n_estimators"].(int); !ok {
		return h, errors.NewValidationError("n_estimators", "missing from best params", p["n_estimators"])
	}
	if h.MaxDepth, ok = p["max_depth"].(int); !ok {
		return h, errors.NewValidationError("max_depth", "missing from best params", p["max_depth"])
	}
	if h.LearningRate, ok = p["learning_rate"].(float64); !ok {
		return h, errors.NewValidationError("learning_rate", "missing from best params", p["learning_rate"])
	}
	if h.NumLeaves, ok = p["num_leaves"].(int); !ok {
		return h, errors.NewValidationError("num_leaves", "missing from best params", p["num_leaves"])
	}
	return h, nil
}

// record builds the tracking record. Inputs and artifacts that are not on
// disk are skipped.
func (t *Trainer) record(start time.Time, res *Result) *tracking.Record {
	b := res.Bundle
	rec := &tracking.Record{
		Experiment: t.experiment,
		Name:       StageName,
		Status:     tracking.StatusFinished,
		StartTime:  start,
		EndTime:    time.Now(),
		Params: map[string]string{
			"n_iter":        strconv.Itoa(t.cfg.NIter),
			"cv":            strconv.Itoa(t.cfg.CV),
			"seed":          strconv.FormatInt(t.cfg.Seed, 10),
			"scoring":       t.cfg.Scoring,
			"boosting_type": b.Params.BoostingType,
			"n_estimators":  strconv.Itoa(b.Params.NEstimators),
			"max_depth":     strconv.Itoa(b.Params.MaxDepth),
			"learning_rate": strconv.FormatFloat(b.Params.LearningRate, 'g', -1, 64),
			"num_leaves":    strconv.Itoa(b.Params.NumLeaves),
		},
		Metrics: b.Metrics.Map(),
	}
	rec.Metrics["cv_best_score"] = res.BestCVScore

	for _, in := range []struct{ name, role, path string }{
		{"processed_train", "training", t.paths.ProcessedTrainFile()},
		{"processed_test", "evaluation", t.paths.ProcessedTestFile()},
	} {
		if _, err := os.Stat(in.path); err != nil {
			continue
		}
		input, err := tracking.NewInput(in.name, in.role, in.path)
		if err != nil {
			t.logger.Warn("Skipping tracking input", log.PathKey, in.path, "error", err)
			continue
		}
		rec.Inputs = append(rec.Inputs, input)
	}
	for _, path := range []string{t.paths.ModelFile(), t.paths.ImportancePlotFile()} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		a, err := tracking.NewArtifact(path)
		if err != nil {
			t.logger.Warn("Skipping tracking artifact", log.PathKey, path, "error", err)
			continue
		}
		rec.Artifacts = append(rec.Artifacts, a)
	}
	return rec
}
