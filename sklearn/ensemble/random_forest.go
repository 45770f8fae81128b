// Package ensemble provides bagged tree ensembles used for feature ranking.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/sklearn/lightgbm"
)

// RandomForestClassifier is a binary random forest built on the lightgbm rf
// boosting mode: every tree is fitted to the same initial gradients on a
// bagged row sample and a feature subsample, and the outputs are averaged.
type RandomForestClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nEstimators    int     // Number of trees
	maxDepth       int     // Maximum tree depth, <= 0 means no limit
	numLeaves      int     // Maximum leaves per tree
	minSamplesLeaf int     // Minimum samples in a leaf
	maxSamples     float64 // Row fraction drawn for each tree
	maxFeatures    float64 // Feature fraction per tree, <= 0 means sqrt(n_features)
	randomState    int     // Random seed

	// Model parameters
	Model        *lightgbm.Model
	importances_ []float64
	classes_     []int
}

// RandomForestOption is a functional option for RandomForestClassifier
type RandomForestOption func(*RandomForestClassifier)

// NewRandomForestClassifier creates a new RandomForestClassifier
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:          model.NewStateManager(),
		nEstimators:    100,
		maxDepth:       -1,
		numLeaves:      64,
		minSamplesLeaf: 1,
		maxSamples:     0.632,
		maxFeatures:    0,
		randomState:    42,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nEstimators = n
	}
}

// WithMaxDepth sets the maximum tree depth
func WithMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxDepth = depth
	}
}

// WithNumLeaves sets the maximum number of leaves per tree
func WithNumLeaves(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.numLeaves = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples in a leaf
func WithMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesLeaf = n
	}
}

// WithMaxSamples sets the row fraction used by each tree
func WithMaxSamples(fraction float64) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxSamples = fraction
	}
}

// WithMaxFeatures sets the feature fraction used by each tree
func WithMaxFeatures(fraction float64) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxFeatures = fraction
	}
}

// WithRandomState sets the random seed
func WithRandomState(seed int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.randomState = seed
	}
}

// featureFraction resolves maxFeatures for the given column count
func (rf *RandomForestClassifier) featureFraction(nFeatures int) float64 {
	if rf.maxFeatures > 0 {
		return math.Min(rf.maxFeatures, 1)
	}
	if nFeatures <= 1 {
		return 1
	}
	return math.Sqrt(float64(nFeatures)) / float64(nFeatures)
}

// trainingParams maps the forest settings to rf-mode trainer parameters
func (rf *RandomForestClassifier) trainingParams(nFeatures int) lightgbm.TrainingParams {
	p := lightgbm.DefaultTrainingParams()
	p.BoostingType = lightgbm.RF
	p.NumIterations = rf.nEstimators
	p.NumLeaves = rf.numLeaves
	p.MaxDepth = rf.maxDepth
	p.MinDataInLeaf = rf.minSamplesLeaf
	p.MinSumHessianInLeaf = 0
	p.BaggingFraction = rf.maxSamples
	p.BaggingFreq = 1
	p.FeatureFraction = rf.featureFraction(nFeatures)
	p.Seed = rf.randomState
	if p.BaggingFraction >= 1 && p.FeatureFraction >= 1 {
		// a single feature without bagging would grow identical trees
		p.BaggingFraction = 0.632
	}
	return p
}

// Fit trains the forest. y holds class codes 0 and 1.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	rows, cols := X.Dims()
	yRows, _ := y.Dims()
	if rows != yRows {
		return errors.NewDimensionError("RandomForestClassifier.Fit", rows, yRows, 0)
	}
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
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
		return errors.NewValueError("RandomForestClassifier.Fit",
			fmt.Sprintf("binary classification expects labels {0, 1}, got %v", classes))
	}

	params := rf.trainingParams(cols)
	log.GetLoggerWithName("ensemble.random_forest").Debug("Fitting random forest",
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.HyperParamsKey, map[string]any{
			"n_estimators":     params.NumIterations,
			"bagging_fraction": params.BaggingFraction,
			"feature_fraction": params.FeatureFraction,
		},
		log.RandomSeedKey, rf.randomState)

	trainer := lightgbm.NewTrainer(params)
	if err := trainer.Fit(X, y); err != nil {
		return errors.NewModelError("RandomForestClassifier.Fit", "training failed", err)
	}

	rf.Model = trainer.GetModel()
	rf.importances_ = normalize(rf.Model.GetFeatureImportance("gain"))
	rf.classes_ = classes
	rf.state.SetDimensions(cols, rows)
	rf.state.SetFitted()
	return nil
}

// normalize scales importances to sum to one; all-zero input stays zero
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	var total float64
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / total
	}
	return out
}

// PredictProba returns an n x 2 matrix of class probabilities
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	_, cols := X.Dims()
	if err := rf.state.RequireFeatures("RandomForestClassifier.PredictProba", cols); err != nil {
		return nil, err
	}
	pos, err := rf.Model.Predict(X)
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

// Predict returns an n x 1 matrix of class codes
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		if proba.At(i, 1) > 0.5 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

// Classes returns the class codes seen during fitting
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// IsFitted reports whether Fit has completed
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// FeatureImportances returns gain importances normalized to sum to one
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	if !rf.state.IsFitted() {
		return nil
	}
	return append([]float64(nil), rf.importances_...)
}

// GetParams returns the hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     rf.nEstimators,
		"max_depth":        rf.maxDepth,
		"num_leaves":       rf.numLeaves,
		"min_samples_leaf": rf.minSamplesLeaf,
		"max_samples":      rf.maxSamples,
		"max_features":     rf.maxFeatures,
		"random_state":     rf.randomState,
	}
}

var _ model.Classifier = (*RandomForestClassifier)(nil)
var _ model.FeatureImportancer = (*RandomForestClassifier)(nil)
