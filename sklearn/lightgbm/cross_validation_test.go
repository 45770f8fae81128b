package lightgbm

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

func assertPartition(t *testing.T, folds []CVFold, n int) {
	t.Helper()
	seen := make([]int, n)
	for _, fold := range folds {
		assert.Equal(t, n, len(fold.TrainIndices)+len(fold.TestIndices))
		assert.True(t, sort.IntsAreSorted(fold.TestIndices))
		assert.True(t, sort.IntsAreSorted(fold.TrainIndices))
		inTest := make(map[int]bool)
		for _, i := range fold.TestIndices {
			seen[i]++
			inTest[i] = true
		}
		for _, i := range fold.TrainIndices {
			assert.False(t, inTest[i], "index %d in both train and test", i)
		}
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "index %d tested %d times", i, c)
	}
}

func TestKFold(t *testing.T) {
	X := mat.NewDense(10, 1, nil)

	folds := NewKFold(3, false, 0).Split(X, nil)
	require.Len(t, folds, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].TestIndices)
	assert.Equal(t, []int{4, 5, 6}, folds[1].TestIndices)
	assert.Equal(t, []int{7, 8, 9}, folds[2].TestIndices)
	assertPartition(t, folds, 10)

	shuffled := NewKFold(3, true, 7).Split(X, nil)
	assertPartition(t, shuffled, 10)
	assert.Equal(t, shuffled, NewKFold(3, true, 7).Split(X, nil))

	assert.Equal(t, 5, NewKFold(1, false, 0).GetNSplits())
}

func TestStratifiedKFold(t *testing.T) {
	X := mat.NewDense(10, 1, nil)
	y := mat.NewDense(10, 1, []float64{0, 1, 0, 0, 1, 0, 1, 0, 1, 0})

	for _, shuffle := range []bool{false, true} {
		folds := NewStratifiedKFold(2, shuffle, 3).Split(X, y)
		require.Len(t, folds, 2)
		assertPartition(t, folds, 10)
		for _, fold := range folds {
			ones := 0
			for _, i := range fold.TestIndices {
				if y.At(i, 0) == 1 {
					ones++
				}
			}
			assert.Len(t, fold.TestIndices, 5)
			assert.Equal(t, 2, ones)
		}
	}

	// without shuffling each class is cut in row order
	folds := NewStratifiedKFold(2, false, 0).Split(X, y)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, folds[0].TestIndices)
}

func TestCVResultStats(t *testing.T) {
	cv := &CVResult{TestScores: []float64{0.8, 0.9, 1.0}}
	assert.InDelta(t, 0.9, cv.GetMeanScore(), 1e-12)
	assert.InDelta(t, 0.1, cv.GetStdScore(), 1e-12)

	empty := &CVResult{}
	assert.Equal(t, 0.0, empty.GetMeanScore())
	assert.Equal(t, 0.0, empty.GetStdScore())
}

func TestCrossValScore(t *testing.T) {
	X, y := separable(100)
	newEstimator := func() Estimator {
		return NewLGBMClassifier().WithNumIterations(10).WithMinChildSamples(5)
	}

	cv, err := CrossValScore(newEstimator, X, y, NewStratifiedKFold(2, true, 1), nil)
	require.NoError(t, err)
	require.Len(t, cv.TestScores, 2)
	assert.Len(t, cv.FitTimes, 2)
	for _, s := range cv.TestScores {
		assert.GreaterOrEqual(t, s, 0.8)
	}
}

func TestCrossValScoreErrors(t *testing.T) {
	X, y := separable(20)
	newEstimator := func() Estimator { return NewLGBMClassifier() }

	_, err := CrossValScore(newEstimator, X, mat.NewDense(19, 1, nil), NewKFold(2, false, 0), nil)
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	small := mat.NewDense(3, 1, []float64{1, 2, 3})
	_, err = CrossValScore(newEstimator, small, mat.NewDense(3, 1, []float64{0, 1, 0}), NewKFold(5, false, 0), nil)
	var ve *errors.ValueError
	assert.True(t, errors.As(err, &ve))

	// a fold whose training part holds one class fails
	_, err = CrossValScore(newEstimator, X, y, NewKFold(2, false, 0), nil)
	assert.True(t, errors.Is(err, errors.ErrDegenerateTarget))
}
