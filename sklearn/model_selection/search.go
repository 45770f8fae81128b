// Package model_selection provides hyperparameter search over the lightgbm
// estimators, driven by goptuna samplers.
package model_selection

import (
	"context"
	"time"

	"github.com/c-bata/goptuna"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/sklearn/lightgbm"
)

// EstimatorFactory builds an unfitted estimator for one parameter set
type EstimatorFactory func(params map[string]interface{}) (lightgbm.Estimator, error)

// NewClassifierFactory returns a factory producing LGBMClassifiers seeded with
// seed and configured through SetParams.
func NewClassifierFactory(seed int) EstimatorFactory {
	return func(params map[string]interface{}) (lightgbm.Estimator, error) {
		clf := lightgbm.NewLGBMClassifier().WithRandomState(seed)
		if err := clf.SetParams(params); err != nil {
			return nil, err
		}
		return clf, nil
	}
}

// TrialResult is the outcome of one search trial
type TrialResult struct {
	Number    int                    `json:"number"`
	Params    map[string]interface{} `json:"params"`
	MeanScore float64                `json:"mean_score"`
	StdScore  float64                `json:"std_score"`
	FitTime   float64                `json:"fit_time"`
}

// RandomizedSearchCV samples NIter parameter sets with a seeded goptuna random
// sampler, scores each with stratified k-fold CV and refits the best one on
// the full data.
type RandomizedSearchCV struct {
	ParamDistributions []ParamDistribution
	NIter              int
	CV                 int
	Seed               int64
	Scorer             lightgbm.Scorer // nil means accuracy
	Factory            EstimatorFactory
	Refit              bool

	// Results
	BestParams_    map[string]interface{}
	BestScore_     float64
	BestIndex_     int
	BestEstimator_ lightgbm.Estimator
	Trials_        []TrialResult
}

// NewRandomizedSearchCV creates a search with accuracy scoring and refit enabled
func NewRandomizedSearchCV(factory EstimatorFactory, dists []ParamDistribution, nIter, cv int, seed int64) *RandomizedSearchCV {
	return &RandomizedSearchCV{
		ParamDistributions: dists,
		NIter:              nIter,
		CV:                 cv,
		Seed:               seed,
		Factory:            factory,
		Refit:              true,
		BestIndex_:         -1,
	}
}

func (s *RandomizedSearchCV) validate() error {
	if s.NIter < 1 {
		return errors.NewValidationError("n_iter", "must be >= 1", s.NIter)
	}
	if s.CV < 2 {
		return errors.NewValidationError("cv", "must be >= 2", s.CV)
	}
	if s.Factory == nil {
		return errors.NewValidationError("factory", "must not be nil", nil)
	}
	seen := make(map[string]bool, len(s.ParamDistributions))
	for _, pd := range s.ParamDistributions {
		if seen[pd.Name] {
			return errors.NewValidationError("param_distributions", "duplicate parameter", pd.Name)
		}
		seen[pd.Name] = true
		if err := pd.Distribution.Validate(); err != nil {
			return errors.Wrapf(err, "parameter %s", pd.Name)
		}
	}
	return nil
}

// Fit runs the search on X and the n x 1 label matrix y. An error from any
// trial aborts the search.
func (s *RandomizedSearchCV) Fit(ctx context.Context, X, y mat.Matrix) error {
	if err := s.validate(); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("model_selection.random_search")

	study, err := goptuna.CreateStudy(
		"hotelres-random-search",
		goptuna.StudyOptionSampler(goptuna.NewRandomSampler(goptuna.RandomSamplerOptionSeed(s.Seed))),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionLogger(&studyLogger{logger: logger}),
	)
	if err != nil {
		return errors.Wrap(err, "create study")
	}
	study.WithContext(ctx)

	s.Trials_ = s.Trials_[:0]
	s.BestIndex_ = -1
	s.BestParams_ = nil
	s.BestEstimator_ = nil
	var trialErr error

	objective := func(trial goptuna.Trial) (float64, error) {
		if trialErr != nil {
			return 0, trialErr
		}
		if err := ctx.Err(); err != nil {
			trialErr = err
			return 0, err
		}
		number := len(s.Trials_)

		params := make(map[string]interface{}, len(s.ParamDistributions))
		for _, pd := range s.ParamDistributions {
			v, err := pd.Distribution.Suggest(trial, pd.Name)
			if err != nil {
				trialErr = errors.Wrapf(err, "suggest %s", pd.Name)
				return 0, trialErr
			}
			params[pd.Name] = v
		}

		if _, err := s.Factory(params); err != nil {
			trialErr = errors.Wrapf(err, "trial %d", number)
			return 0, trialErr
		}

		start := time.Now()
		cv, err := lightgbm.CrossValScore(func() lightgbm.Estimator {
			est, _ := s.Factory(params)
			return est
		}, X, y, lightgbm.NewStratifiedKFold(s.CV, false, 0), s.Scorer)
		if err != nil {
			trialErr = errors.Wrapf(err, "trial %d", number)
			return 0, trialErr
		}

		result := TrialResult{
			Number:    number,
			Params:    params,
			MeanScore: cv.GetMeanScore(),
			StdScore:  cv.GetStdScore(),
			FitTime:   time.Since(start).Seconds(),
		}
		s.Trials_ = append(s.Trials_, result)
		// strict comparison keeps the earliest trial on ties
		if s.BestIndex_ < 0 || result.MeanScore > s.BestScore_ {
			s.BestIndex_ = number
			s.BestScore_ = result.MeanScore
			s.BestParams_ = params
		}

		logger.Info("Trial completed",
			log.TrialKey, number,
			log.ScoreKey, result.MeanScore,
			log.HyperParamsKey, params,
			log.DurationMsKey, time.Since(start).Milliseconds())
		return result.MeanScore, nil
	}

	if err := study.Optimize(objective, s.NIter); err != nil {
		if trialErr != nil {
			return trialErr
		}
		return errors.Wrap(err, "optimize")
	}
	if trialErr != nil {
		return trialErr
	}
	if s.BestIndex_ < 0 {
		return errors.New("random search finished without a completed trial")
	}

	logger.Info("Random search finished",
		log.TrialKey, s.BestIndex_,
		log.ScoreKey, s.BestScore_,
		log.HyperParamsKey, s.BestParams_)

	if !s.Refit {
		return nil
	}
	best, err := s.Factory(s.BestParams_)
	if err != nil {
		return err
	}
	if err := best.Fit(X, y); err != nil {
		return errors.Wrap(err, "refit best estimator")
	}
	s.BestEstimator_ = best
	return nil
}

// studyLogger forwards goptuna's study log lines to the package logger.
// Trial bookkeeping is logged by the objective itself, so Info goes to Debug.
type studyLogger struct {
	logger log.Logger
}

func (l *studyLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debug(msg, renameStudyFields(fields)...)
}

func (l *studyLogger) Info(msg string, fields ...interface{}) {
	l.logger.Debug(msg, renameStudyFields(fields)...)
}

func (l *studyLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warn(msg, renameStudyFields(fields)...)
}

func (l *studyLogger) Error(msg string, fields ...interface{}) {
	l.logger.Error(msg, renameStudyFields(fields)...)
}

// renameStudyFields maps goptuna's keys onto the attribute vocabulary
func renameStudyFields(fields []interface{}) []interface{} {
	out := make([]interface{}, len(fields))
	copy(out, fields)
	for i := 0; i+1 < len(out); i += 2 {
		switch out[i] {
		case "trialID":
			out[i] = log.TrialKey
		case "value":
			out[i] = log.ScoreKey
		}
	}
	return out
}
