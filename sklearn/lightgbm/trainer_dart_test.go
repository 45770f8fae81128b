package lightgbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDARTSelectDropIndicesDeterministic ensures drop selection is deterministic and bounded
func TestDARTSelectDropIndicesDeterministic(t *testing.T) {
	tr := NewTrainer(TrainingParams{
		BoostingType: DART,
		DropRate:     0.2,
		MaxDrop:      3,
		UniformDrop:  true,
		DropSeed:     123,
	})

	for iter := 0; iter < 20; iter++ {
		s1 := tr.selectDARTDropIndices(10, iter)
		s2 := tr.selectDARTDropIndices(10, iter)
		assert.Equal(t, s1, s2)
		assert.LessOrEqual(t, len(s1), 3)
		assert.IsNonDecreasing(t, s1)
		for _, i := range s1 {
			assert.True(t, i >= 0 && i < 10)
		}
	}
}

func TestDARTDropBounds(t *testing.T) {
	all := NewTrainer(TrainingParams{BoostingType: DART, DropRate: 1, MaxDrop: 3, UniformDrop: true})
	assert.Len(t, all.selectDARTDropIndices(10, 0), 3)

	skip := NewTrainer(TrainingParams{BoostingType: DART, DropRate: 1, SkipDrop: 1, UniformDrop: true})
	assert.Empty(t, skip.selectDARTDropIndices(10, 0))

	assert.Empty(t, all.selectDARTDropIndices(0, 0))
}

// TestDARTNormalizeWeights validates that dropped trees are scaled by k/(k+1)
func TestDARTNormalizeWeights(t *testing.T) {
	tr := NewTrainer(TrainingParams{BoostingType: DART, LearningRate: 0.1})

	tr.trees = make([]Tree, 5)
	for i := range tr.trees {
		tr.trees[i] = Tree{ShrinkageRate: 0.1}
	}

	tr.normalizeDARTWeights([]int{1, 3})

	for i, tree := range tr.trees {
		if i == 1 || i == 3 {
			assert.InDelta(t, 0.1*2.0/3.0, tree.ShrinkageRate, 1e-12)
		} else {
			assert.Equal(t, 0.1, tree.ShrinkageRate)
		}
	}
}

func TestDARTTrainingSeparable(t *testing.T) {
	X, y := separable(100)
	tr := NewTrainer(TrainingParams{
		BoostingType:  DART,
		NumIterations: 20,
		DropRate:      0.3,
		SkipDrop:      0,
		UniformDrop:   true,
		DropSeed:      7,
	})
	require.NoError(t, tr.Fit(X, y))

	m := tr.GetModel()
	assert.Equal(t, DART, m.BoostingType)
	assert.Equal(t, 1.0, trainAccuracy(t, m, X, y))

	// cached scores match a fresh prediction from the final weights
	for i := 0; i < 100; i++ {
		assert.InDelta(t, m.RawScore(X.RawRowView(i)), tr.scores[i], 1e-9)
	}
}
