package lightgbm

import (
	"math/rand/v2"
	"slices"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// BoostingType represents the boosting algorithm type
type BoostingType string

const (
	GBDT BoostingType = "gbdt" // Gradient Boosting Decision Tree
	DART BoostingType = "dart" // Dropouts meet Multiple Additive Regression Trees
	RF   BoostingType = "rf"   // Random Forest
)

// TrainingParams contains all training hyperparameters
type TrainingParams struct {
	// Basic parameters
	NumIterations       int     `json:"num_iterations"`
	LearningRate        float64 `json:"learning_rate"`
	NumLeaves           int     `json:"num_leaves"`
	MaxDepth            int     `json:"max_depth"` // <= 0 means no limit
	MinDataInLeaf       int     `json:"min_data_in_leaf"`
	MinSumHessianInLeaf float64 `json:"min_sum_hessian_in_leaf"`

	// Regularization
	Lambda         float64 `json:"lambda_l2"`
	MinGainToSplit float64 `json:"min_gain_to_split"`

	// Sampling
	BaggingFraction float64 `json:"bagging_fraction"`
	BaggingFreq     int     `json:"bagging_freq"`
	FeatureFraction float64 `json:"feature_fraction"`

	// Histogram parameters
	MaxBin int `json:"max_bin"`

	// Objective
	Objective    string       `json:"objective"`
	BoostingType BoostingType `json:"boosting_type"`

	// DART
	DropRate    float64 `json:"drop_rate"`
	MaxDrop     int     `json:"max_drop"` // <= 0 means no limit
	SkipDrop    float64 `json:"skip_drop"`
	UniformDrop bool    `json:"uniform_drop"`
	DropSeed    int     `json:"drop_seed"`

	// Other
	Seed      int `json:"seed"`
	Verbosity int `json:"verbosity"`
}

// DefaultTrainingParams returns LightGBM's defaults for binary classification
func DefaultTrainingParams() TrainingParams {
	return TrainingParams{
		NumIterations:       100,
		LearningRate:        0.1,
		NumLeaves:           31,
		MaxDepth:            -1,
		MinDataInLeaf:       20,
		MinSumHessianInLeaf: 1e-3,
		BaggingFraction:     1.0,
		FeatureFraction:     1.0,
		MaxBin:              255,
		Objective:           "binary",
		BoostingType:        GBDT,
		DropRate:            0.1,
		MaxDrop:             50,
		SkipDrop:            0.5,
		DropSeed:            4,
		Verbosity:           -1,
	}
}

// withDefaults fills zero values with the defaults above
func (p TrainingParams) withDefaults() TrainingParams {
	d := DefaultTrainingParams()
	if p.NumIterations == 0 {
		p.NumIterations = d.NumIterations
	}
	if p.LearningRate == 0 {
		p.LearningRate = d.LearningRate
	}
	if p.NumLeaves == 0 {
		p.NumLeaves = d.NumLeaves
	}
	if p.MinDataInLeaf == 0 {
		p.MinDataInLeaf = d.MinDataInLeaf
	}
	if p.MinSumHessianInLeaf == 0 {
		p.MinSumHessianInLeaf = d.MinSumHessianInLeaf
	}
	if p.MaxBin == 0 {
		p.MaxBin = d.MaxBin
	}
	if p.BaggingFraction == 0 {
		p.BaggingFraction = d.BaggingFraction
	}
	if p.FeatureFraction == 0 {
		p.FeatureFraction = d.FeatureFraction
	}
	if p.Objective == "" {
		p.Objective = d.Objective
	}
	if p.BoostingType == "" {
		p.BoostingType = d.BoostingType
	}
	return p
}

// Validate checks parameter ranges
func (p TrainingParams) Validate() error {
	switch {
	case p.NumIterations < 1:
		return errors.NewValidationError("num_iterations", "must be >= 1", p.NumIterations)
	case p.LearningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be > 0", p.LearningRate)
	case p.NumLeaves < 2:
		return errors.NewValidationError("num_leaves", "must be >= 2", p.NumLeaves)
	case p.MinDataInLeaf < 0:
		return errors.NewValidationError("min_data_in_leaf", "must be >= 0", p.MinDataInLeaf)
	case p.Lambda < 0:
		return errors.NewValidationError("lambda_l2", "must be >= 0", p.Lambda)
	case p.MaxBin < 2 || p.MaxBin > 65535:
		return errors.NewValidationError("max_bin", "must be in [2, 65535]", p.MaxBin)
	case p.BaggingFraction <= 0 || p.BaggingFraction > 1:
		return errors.NewValidationError("bagging_fraction", "must be in (0, 1]", p.BaggingFraction)
	case p.FeatureFraction <= 0 || p.FeatureFraction > 1:
		return errors.NewValidationError("feature_fraction", "must be in (0, 1]", p.FeatureFraction)
	case p.DropRate < 0 || p.DropRate > 1:
		return errors.NewValidationError("drop_rate", "must be in [0, 1]", p.DropRate)
	case p.SkipDrop < 0 || p.SkipDrop > 1:
		return errors.NewValidationError("skip_drop", "must be in [0, 1]", p.SkipDrop)
	}

	switch p.BoostingType {
	case GBDT, DART:
	case RF:
		bagging := p.BaggingFreq > 0 && p.BaggingFraction < 1
		if !bagging && p.FeatureFraction >= 1 {
			return errors.NewValidationError("boosting_type",
				"rf mode requires bagging (bagging_freq > 0, bagging_fraction < 1) or feature_fraction < 1", p.BoostingType)
		}
	default:
		return errors.NewValidationError("boosting_type", "must be gbdt, dart or rf", p.BoostingType)
	}
	return nil
}

// SamplingStrategy handles data and feature sampling for training
type SamplingStrategy struct {
	rng             *rand.Rand
	featureFraction float64
	baggingFraction float64
	baggingFreq     int
	lastBag         []int
}

// NewSamplingStrategy creates a new sampling strategy seeded from params.Seed
func NewSamplingStrategy(params TrainingParams) *SamplingStrategy {
	seed := uint64(params.Seed)
	return &SamplingStrategy{
		rng:             rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
		featureFraction: params.FeatureFraction,
		baggingFraction: params.BaggingFraction,
		baggingFreq:     params.BaggingFreq,
	}
}

// SampleFeatures samples features for tree building, returned in ascending order
func (s *SamplingStrategy) SampleFeatures(numFeatures int) []int {
	if s.featureFraction >= 1.0 {
		return identity(numFeatures)
	}

	numSample := int(float64(numFeatures)*s.featureFraction + 0.5)
	if numSample < 1 {
		numSample = 1
	}
	if numSample > numFeatures {
		numSample = numFeatures
	}
	return s.partialShuffle(numFeatures, numSample)
}

// SampleInstances samples training instances (without replacement) for tree building.
// A new bag is drawn every baggingFreq iterations and reused in between.
func (s *SamplingStrategy) SampleInstances(numInstances int, iteration int) []int {
	if s.baggingFreq <= 0 || s.baggingFraction >= 1.0 {
		return identity(numInstances)
	}
	if iteration%s.baggingFreq != 0 && s.lastBag != nil {
		return s.lastBag
	}

	numSample := int(float64(numInstances)*s.baggingFraction + 0.5)
	if numSample < 1 {
		numSample = 1
	}
	if numSample > numInstances {
		numSample = numInstances
	}
	s.lastBag = s.partialShuffle(numInstances, numSample)
	return s.lastBag
}

// partialShuffle draws k of n indices with a Fisher-Yates prefix and sorts them
func (s *SamplingStrategy) partialShuffle(n, k int) []int {
	perm := identity(n)
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	out := perm[:k]
	slices.Sort(out)
	return out
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
