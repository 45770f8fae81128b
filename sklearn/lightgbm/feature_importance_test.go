package lightgbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFeatureImportance(t *testing.T) {
	// feature 1 decides the label, feature 0 is noise and feature 2 is constant
	rows := 200
	X := mat.NewDense(rows, 3, nil)
	y := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		X.Set(i, 0, float64((i*37)%11))
		X.Set(i, 1, float64(i))
		X.Set(i, 2, 1)
		if i >= 100 {
			y.Set(i, 0, 1)
		}
	}

	clf := NewLGBMClassifier().WithNumIterations(10)
	require.NoError(t, clf.Fit(X, y))

	gain := clf.FeatureImportances()
	require.Len(t, gain, 3)
	assert.Greater(t, gain[1], gain[0])
	assert.Equal(t, 0.0, gain[2])

	split := clf.GetFeatureImportance("split")
	require.Len(t, split, 3)
	assert.GreaterOrEqual(t, split[1], 1.0)
	assert.Equal(t, 0.0, split[2])

	// the first tree splits on the informative feature
	assert.Equal(t, 1, clf.Model.Trees[0].Nodes[0].SplitFeature)
}

func TestFeatureImportanceEmptyModel(t *testing.T) {
	m := &Model{NumFeatures: 2}
	assert.Equal(t, []float64{0, 0}, m.GetFeatureImportance("gain"))
}
