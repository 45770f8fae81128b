package lightgbm

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

// LGBMClassifier implements a binary LightGBM classifier with scikit-learn compatible API
type LGBMClassifier struct {
	state *model.StateManager

	// Model
	Model *Model

	// Hyperparameters (matching Python LightGBM)
	BoostingType    BoostingType // gbdt, dart or rf
	NumLeaves       int          // Number of leaves in one tree
	MaxDepth        int          // Maximum tree depth, <= 0 means no limit
	LearningRate    float64      // Boosting learning rate
	NumIterations   int          // Number of boosting iterations (n_estimators)
	MinChildSamples int          // Minimum number of data in one leaf
	MinChildWeight  float64      // Minimum sum of hessians in one leaf
	Subsample       float64      // Subsample ratio of training data
	SubsampleFreq   int          // Frequency of subsample
	ColsampleBytree float64      // Subsample ratio of columns when constructing tree
	RegLambda       float64      // L2 regularization
	MaxBin          int          // Maximum number of histogram bins
	RandomState     int          // Random seed
	Verbosity       int          // Verbosity level

	// DART parameters
	DropRate float64
	MaxDrop  int
	SkipDrop float64

	// Internal state
	classes_   []int
	nClasses_  int
	nFeatures_ int
}

// NewLGBMClassifier creates a new LightGBM classifier with default parameters
func NewLGBMClassifier() *LGBMClassifier {
	d := DefaultTrainingParams()
	return &LGBMClassifier{
		state:           model.NewStateManager(),
		BoostingType:    GBDT,
		NumLeaves:       d.NumLeaves,
		MaxDepth:        d.MaxDepth,
		LearningRate:    d.LearningRate,
		NumIterations:   d.NumIterations,
		MinChildSamples: d.MinDataInLeaf,
		MinChildWeight:  d.MinSumHessianInLeaf,
		Subsample:       1.0,
		SubsampleFreq:   0,
		ColsampleBytree: 1.0,
		MaxBin:          d.MaxBin,
		RandomState:     42,
		Verbosity:       -1,
		DropRate:        d.DropRate,
		MaxDrop:         d.MaxDrop,
		SkipDrop:        d.SkipDrop,
	}
}

// WithNumLeaves sets the number of leaves
func (lgb *LGBMClassifier) WithNumLeaves(n int) *LGBMClassifier {
	lgb.NumLeaves = n
	return lgb
}

// WithMaxDepth sets the maximum depth
func (lgb *LGBMClassifier) WithMaxDepth(d int) *LGBMClassifier {
	lgb.MaxDepth = d
	return lgb
}

// WithLearningRate sets the learning rate
func (lgb *LGBMClassifier) WithLearningRate(lr float64) *LGBMClassifier {
	lgb.LearningRate = lr
	return lgb
}

// WithNumIterations sets the number of iterations
func (lgb *LGBMClassifier) WithNumIterations(n int) *LGBMClassifier {
	lgb.NumIterations = n
	return lgb
}

// WithMinChildSamples sets the minimum number of samples in a leaf
func (lgb *LGBMClassifier) WithMinChildSamples(n int) *LGBMClassifier {
	lgb.MinChildSamples = n
	return lgb
}

// WithBoostingType sets the boosting algorithm
func (lgb *LGBMClassifier) WithBoostingType(bt BoostingType) *LGBMClassifier {
	lgb.BoostingType = bt
	return lgb
}

// WithRandomState sets the random seed
func (lgb *LGBMClassifier) WithRandomState(seed int) *LGBMClassifier {
	lgb.RandomState = seed
	return lgb
}

// TrainingParams converts the estimator settings to trainer parameters
func (lgb *LGBMClassifier) TrainingParams() TrainingParams {
	return TrainingParams{
		NumIterations:       lgb.NumIterations,
		LearningRate:        lgb.LearningRate,
		NumLeaves:           lgb.NumLeaves,
		MaxDepth:            lgb.MaxDepth,
		MinDataInLeaf:       lgb.MinChildSamples,
		MinSumHessianInLeaf: lgb.MinChildWeight,
		Lambda:              lgb.RegLambda,
		BaggingFraction:     lgb.Subsample,
		BaggingFreq:         lgb.SubsampleFreq,
		FeatureFraction:     lgb.ColsampleBytree,
		MaxBin:              lgb.MaxBin,
		Objective:           "binary",
		BoostingType:        lgb.BoostingType,
		DropRate:            lgb.DropRate,
		MaxDrop:             lgb.MaxDrop,
		SkipDrop:            lgb.SkipDrop,
		UniformDrop:         false,
		DropSeed:            lgb.RandomState,
		Seed:                lgb.RandomState,
		Verbosity:           lgb.Verbosity,
	}
}

// Fit trains the classifier. y holds class codes 0 and 1.
func (lgb *LGBMClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LGBMClassifier.Fit")

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows != yRows {
		return errors.NewDimensionError("LGBMClassifier.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LGBMClassifier.Fit", 1, yCols, 1)
	}

	seen := make(map[int]struct{})
	for i := 0; i < yRows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	switch {
	case len(classes) < 2:
		return errors.WrapDataError(errors.ErrDegenerateTarget, "", -1, "training labels contain a single class")
	case len(classes) > 2 || classes[0] != 0 || classes[1] != 1:
		return errors.NewValueError("LGBMClassifier.Fit",
			fmt.Sprintf("binary classification expects labels {0, 1}, got %v", classes))
	}

	logger := log.GetLoggerWithName("lightgbm.classifier")
	if lgb.Verbosity > 0 {
		logger.Info("Training LGBMClassifier",
			log.SamplesKey, rows,
			log.FeaturesKey, cols,
			"boosting_type", lgb.BoostingType)
	}

	trainer := NewTrainer(lgb.TrainingParams())
	if lgb.Verbosity > 0 {
		trainer.WithCallbacks(PrintEvaluation(10))
	}
	if err := trainer.Fit(X, y); err != nil {
		return errors.NewModelError("LGBMClassifier.Fit", "training failed", err)
	}

	lgb.Model = trainer.GetModel()
	lgb.classes_ = classes
	lgb.nClasses_ = len(classes)
	lgb.nFeatures_ = cols
	lgb.state.SetDimensions(cols, rows)
	lgb.state.SetFitted()
	return nil
}

// PredictProba returns an n x 2 matrix of class probabilities [P(0), P(1)]
func (lgb *LGBMClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lgb.state.RequireFitted("LGBMClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	if err := lgb.state.RequireFeatures("LGBMClassifier.PredictProba", colsOf(X)); err != nil {
		return nil, err
	}

	pos, err := lgb.Model.Predict(X)
	if err != nil {
		return nil, err
	}
	rows, _ := pos.Dims()
	proba := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		p := pos.At(i, 0)
		proba.Set(i, 0, 1-p)
		proba.Set(i, 1, p)
	}
	return proba, nil
}

// Predict returns an n x 1 matrix of predicted class codes (threshold 0.5)
func (lgb *LGBMClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := lgb.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		if proba.At(i, 1) > 0.5 {
			out.Set(i, 0, float64(lgb.classes_[1]))
		} else {
			out.Set(i, 0, float64(lgb.classes_[0]))
		}
	}
	return out, nil
}

// Classes returns the class codes seen during fitting
func (lgb *LGBMClassifier) Classes() []int {
	return append([]int(nil), lgb.classes_...)
}

// IsFitted reports whether Fit has completed
func (lgb *LGBMClassifier) IsFitted() bool {
	return lgb.state.IsFitted()
}

// FeatureImportances returns split-gain importance per feature
func (lgb *LGBMClassifier) FeatureImportances() []float64 {
	if !lgb.state.IsFitted() || lgb.Model == nil {
		return nil
	}
	return lgb.Model.GetFeatureImportance("gain")
}

// GetFeatureImportance returns feature importance scores of the given type
func (lgb *LGBMClassifier) GetFeatureImportance(importanceType string) []float64 {
	if !lgb.state.IsFitted() || lgb.Model == nil {
		return nil
	}
	return lgb.Model.GetFeatureImportance(importanceType)
}

// GetParams returns the parameters of the classifier
func (lgb *LGBMClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"boosting_type":     string(lgb.BoostingType),
		"num_leaves":        lgb.NumLeaves,
		"max_depth":         lgb.MaxDepth,
		"learning_rate":     lgb.LearningRate,
		"n_estimators":      lgb.NumIterations,
		"min_child_samples": lgb.MinChildSamples,
		"min_child_weight":  lgb.MinChildWeight,
		"subsample":         lgb.Subsample,
		"subsample_freq":    lgb.SubsampleFreq,
		"colsample_bytree":  lgb.ColsampleBytree,
		"reg_lambda":        lgb.RegLambda,
		"max_bin":           lgb.MaxBin,
		"random_state":      lgb.RandomState,
		"drop_rate":         lgb.DropRate,
		"max_drop":          lgb.MaxDrop,
		"skip_drop":         lgb.SkipDrop,
		"verbosity":         lgb.Verbosity,
	}
}

// SetParams sets the parameters of the classifier. Unknown keys and values of
// the wrong type are rejected.
func (lgb *LGBMClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		ok := true
		switch key {
		case "boosting_type":
			var s string
			s, ok = value.(string)
			lgb.BoostingType = BoostingType(s)
		case "num_leaves":
			lgb.NumLeaves, ok = value.(int)
		case "max_depth":
			lgb.MaxDepth, ok = value.(int)
		case "learning_rate":
			lgb.LearningRate, ok = value.(float64)
		case "n_estimators", "num_iterations":
			lgb.NumIterations, ok = value.(int)
		case "min_child_samples":
			lgb.MinChildSamples, ok = value.(int)
		case "min_child_weight":
			lgb.MinChildWeight, ok = value.(float64)
		case "subsample":
			lgb.Subsample, ok = value.(float64)
		case "subsample_freq":
			lgb.SubsampleFreq, ok = value.(int)
		case "colsample_bytree":
			lgb.ColsampleBytree, ok = value.(float64)
		case "reg_lambda":
			lgb.RegLambda, ok = value.(float64)
		case "max_bin":
			lgb.MaxBin, ok = value.(int)
		case "random_state":
			lgb.RandomState, ok = value.(int)
		case "drop_rate":
			lgb.DropRate, ok = value.(float64)
		case "max_drop":
			lgb.MaxDrop, ok = value.(int)
		case "skip_drop":
			lgb.SkipDrop, ok = value.(float64)
		case "verbosity":
			lgb.Verbosity, ok = value.(int)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong value type", value)
		}
	}
	return nil
}

func colsOf(X mat.Matrix) int {
	_, c := X.Dims()
	return c
}
