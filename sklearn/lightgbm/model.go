package lightgbm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/parallel"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Node represents a single node in a decision tree.
// Leaves have LeftChild == RightChild == -1.
type Node struct {
	LeftChild  int // Left child node index (-1 if leaf)
	RightChild int // Right child node index (-1 if leaf)

	// Split information (for non-leaf nodes)
	SplitFeature int     // Feature index used for splitting
	Threshold    float64 // Samples with value <= Threshold go left; NaN goes right
	ThresholdBin int     // Bin index of Threshold in the training histogram
	Gain         float64 // Split gain (reduction in loss)

	// Leaf information
	LeafValue float64 // Raw leaf output before shrinkage
	Count     int     // Number of training samples that reached the node
	Depth     int
}

// IsLeaf returns true if the node is a leaf node
func (n *Node) IsLeaf() bool {
	return n.LeftChild == -1 && n.RightChild == -1
}

// Tree represents a single decision tree in the ensemble.
// Nodes[0] is the root.
type Tree struct {
	Nodes         []Node
	NumLeaves     int
	ShrinkageRate float64 // Weight applied to every leaf output; DART rescales it
}

// leafIndex returns the index of the leaf reached by a raw feature vector
func (t *Tree) leafIndex(features []float64) int {
	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return idx
		}
		// NaN <= x is false, so missing values go right
		if features[node.SplitFeature] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

// Predict makes a prediction for a single sample using this tree
func (t *Tree) Predict(features []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	return t.Nodes[t.leafIndex(features)].LeafValue * t.ShrinkageRate
}

// predictBinned walks the tree using training bins instead of raw values
func (t *Tree) predictBinned(bd *binnedData, row int) float64 {
	idx := 0
	for {
		node := &t.Nodes[idx]
		if node.IsLeaf() {
			return node.LeafValue * t.ShrinkageRate
		}
		if int(bd.bins[node.SplitFeature][row]) <= node.ThresholdBin {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

// Model represents a complete LightGBM model ensemble
type Model struct {
	// Model configuration
	Objective     string       // Objective function
	BoostingType  BoostingType // Boosting algorithm
	NumIteration  int          // Number of boosting iterations
	LearningRate  float64      // Base learning rate
	AverageOutput bool         // rf mode averages tree outputs instead of summing

	// Trees
	Trees []Tree // All trees in the ensemble

	// Feature information
	NumFeatures  int      // Number of features
	FeatureNames []string // Feature names (optional)

	// Preprocessing
	InitScore float64 // Initial score (baseline prediction)

	// Parameters used for training
	Params TrainingParams
}

// RawScore returns the untransformed ensemble output for one sample
func (m *Model) RawScore(features []float64) float64 {
	var sum float64
	for i := range m.Trees {
		sum += m.Trees[i].Predict(features)
	}
	if m.AverageOutput && len(m.Trees) > 0 {
		sum /= float64(len(m.Trees))
	}
	return m.InitScore + sum
}

// PredictSingle returns the transformed prediction (probability for binary) of one sample
func (m *Model) PredictSingle(features []float64) float64 {
	return transformScore(m.Objective, m.RawScore(features))
}

// Predict makes predictions for a batch of samples. The result is an n x 1
// matrix of probabilities for the binary objective.
func (m *Model) Predict(X mat.Matrix) (mat.Matrix, error) {
	rows, cols := X.Dims()
	if cols != m.NumFeatures {
		return nil, errors.NewDimensionError("Model.Predict", m.NumFeatures, cols, 1)
	}

	out := make([]float64, rows)
	parallel.ParallelizeWithThreshold(rows, 1000, func(start, end int) {
		features := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(features, i, X)
			out[i] = m.PredictSingle(features)
		}
	})
	return mat.NewDense(rows, 1, out), nil
}

// GetFeatureImportance calculates feature importance scores.
// importanceType is "split" (number of splits) or "gain" (total split gain).
// Scores are not normalized, matching LightGBM's feature_importance().
func (m *Model) GetFeatureImportance(importanceType string) []float64 {
	importance := make([]float64, m.NumFeatures)

	for _, tree := range m.Trees {
		for _, node := range tree.Nodes {
			if node.IsLeaf() {
				continue
			}
			switch importanceType {
			case "split":
				importance[node.SplitFeature]++
			default:
				importance[node.SplitFeature] += node.Gain
			}
		}
	}
	return importance
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
