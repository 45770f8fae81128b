package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

func captureWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	errors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return &got
}

func TestLabelEncoderSortedCodes(t *testing.T) {
	enc := NewLabelEncoder("booking_status", UnknownReserve)
	codes, err := enc.FitTransform([]string{"Not_Canceled", "Canceled", "Not_Canceled"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Canceled", "Not_Canceled"}, enc.Classes)
	assert.Equal(t, []float64{1, 0, 1}, codes)
	assert.Equal(t, map[string]int{"Canceled": 0, "Not_Canceled": 1}, enc.Mapping())

	back, err := enc.InverseTransform(codes)
	require.NoError(t, err)
	assert.Equal(t, []string{"Not_Canceled", "Canceled", "Not_Canceled"}, back)
}

func TestLabelEncoderMissingValues(t *testing.T) {
	enc := NewLabelEncoder("type_of_meal_plan", UnknownReserve)
	codes, err := enc.FitTransform([]string{"Meal Plan 1", "", "  "})
	require.NoError(t, err)

	assert.Equal(t, []string{"Meal Plan 1", MissingCategory}, enc.Classes)
	assert.Equal(t, []float64{0, 1, 1}, codes)
}

func TestLabelEncoderUnseenReserve(t *testing.T) {
	warnings := captureWarnings(t)

	enc := NewLabelEncoder("room_type_reserved", UnknownReserve)
	require.NoError(t, enc.Fit([]string{"Room_Type 1", "Room_Type 2"}))

	codes, err := enc.Transform([]string{"Room_Type 2", "Room_Type 7", "Room_Type 9"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 2}, codes)

	require.Len(t, *warnings, 1)
	var w *errors.UnseenCategoryWarning
	require.True(t, errors.As((*warnings)[0], &w))
	assert.Equal(t, "room_type_reserved", w.Column)
	assert.Equal(t, 2, w.Count)
	assert.Equal(t, 2, w.Code)
}

func TestLabelEncoderUnseenError(t *testing.T) {
	enc := NewLabelEncoder("market_segment_type", UnknownError)
	require.NoError(t, enc.Fit([]string{"Online", "Offline"}))

	_, err := enc.Transform([]string{"Online", "Aviation"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnseenCategory))

	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 1, de.Row)
}

func TestLabelEncoderNotFitted(t *testing.T) {
	enc := NewLabelEncoder("x", "")
	assert.Equal(t, UnknownReserve, enc.Unknown)

	_, err := enc.Transform([]string{"a"})
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	assert.Error(t, enc.Fit(nil))
}

func TestSkewLogTransformer(t *testing.T) {
	X := mat.NewDense(10, 3, []float64{
		1, 1, -5,
		1, 2, -5,
		1, 3, -5,
		1, 4, -5,
		1, 5, -5,
		1, 6, -5,
		1, 7, -5,
		1, 8, -5,
		1, 9, -5,
		100, 10, 50,
	})

	tr := NewSkewLogTransformer(1, []int{0, 1, 2})
	out, err := tr.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, tr.Transformed())
	assert.Greater(t, tr.Skewness[0], 1.0)
	assert.InDelta(t, 0, tr.Skewness[1], 1e-9)
	assert.Equal(t, 0.0, tr.Shift[0])
	assert.Equal(t, 6.0, tr.Shift[2])

	assert.InDelta(t, math.Log1p(1), out.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log1p(100), out.At(9, 0), 1e-12)
	assert.Equal(t, 3.0, out.At(2, 1))
	assert.InDelta(t, math.Log1p(1), out.At(0, 2), 1e-12)
	assert.InDelta(t, math.Log1p(56), out.At(9, 2), 1e-12)

	back, err := tr.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-9))
}

func TestSkewLogTransformerConstantColumn(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{3, 3, 3, 3})
	tr := NewSkewLogTransformer(0, []int{0})
	require.NoError(t, tr.Fit(X))
	assert.Empty(t, tr.Transformed())
}

func TestSkewLogTransformerErrors(t *testing.T) {
	tr := NewSkewLogTransformer(1, []int{0})
	_, err := tr.Transform(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, tr.Fit(mat.NewDense(3, 2, []float64{1, 0, 1, 0, 1, 0})))
	_, err = tr.Transform(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	_, err = Log1pShift(-1, 0)
	assert.Error(t, err)
}

func imbalanced() (*mat.Dense, []float64) {
	X := mat.NewDense(9, 2, []float64{
		0, 0,
		1, 0,
		2, 0,
		3, 0,
		4, 0,
		5, 0,
		10, 10,
		11, 11,
		12, 12,
	})
	y := []float64{0, 0, 0, 0, 0, 0, 1, 1, 1}
	return X, y
}

func TestSMOTEBalancesClasses(t *testing.T) {
	X, y := imbalanced()
	Xres, yres, err := NewSMOTE(5, 42).FitResample(X, y)
	require.NoError(t, err)

	r, c := Xres.Dims()
	assert.Equal(t, 12, r)
	assert.Equal(t, 2, c)
	require.Len(t, yres, 12)

	counts := map[float64]int{}
	for _, v := range yres {
		counts[v]++
	}
	assert.Equal(t, 6, counts[0])
	assert.Equal(t, 6, counts[1])

	// 元の行は先頭にそのまま残る
	assert.True(t, mat.Equal(X, Xres.Slice(0, 9, 0, 2)))
	assert.Equal(t, y, yres[:9])

	// 合成点は少数クラスの線分上にある
	for i := 9; i < 12; i++ {
		a, b := Xres.At(i, 0), Xres.At(i, 1)
		assert.InDelta(t, a, b, 1e-12)
		assert.GreaterOrEqual(t, a, 10.0)
		assert.LessOrEqual(t, a, 12.0)
	}
}

func TestSMOTEDeterministic(t *testing.T) {
	X, y := imbalanced()
	a, ya, err := NewSMOTE(2, 7).FitResample(X, y)
	require.NoError(t, err)
	b, yb, err := NewSMOTE(2, 7).FitResample(X, y)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a, b))
	assert.Equal(t, ya, yb)
}

func TestSMOTEErrors(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})

	_, _, err := NewSMOTE(5, 1).FitResample(X, []float64{1, 1, 1})
	assert.True(t, errors.Is(err, errors.ErrDegenerateTarget))

	_, _, err = NewSMOTE(5, 1).FitResample(X, []float64{0, 0, 1})
	var de *errors.DataError
	assert.True(t, errors.As(err, &de))

	_, _, err = NewSMOTE(5, 1).FitResample(X, []float64{0, 1})
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	_, _, err = NewSMOTE(0, 1).FitResample(X, []float64{0, 1, 1})
	assert.Error(t, err)
}

func TestKNearest(t *testing.T) {
	points := [][]float64{{0}, {1}, {3}, {6}}
	nn := kNearest(points, 2)
	assert.Equal(t, []int{1, 2}, nn[0])
	assert.Equal(t, []int{0, 2}, nn[1])
	assert.Equal(t, []int{1, 0}, nn[2])
	assert.Equal(t, []int{2, 1}, nn[3])
}

func TestKNearestEuclidean(t *testing.T) {
	// {3,4} is 5 away from the origin, {6,0} is 6 away, {0,5} ties {3,4}.
	points := [][]float64{{0, 0}, {3, 4}, {6, 0}, {0, 5}}
	nn := kNearest(points, 3)
	assert.Equal(t, []int{1, 3, 2}, nn[0])
	assert.Equal(t, []int{3, 0, 2}, nn[1])
}

func TestTopNFeatures(t *testing.T) {
	idx, err := TopNFeatures([]float64{0.1, 0.5, 0.5, 0.2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, idx)

	idx, err = TopNFeatures([]float64{0.1, 0.5}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, idx)

	idx, err = TopNFeatures([]float64{0.1, 0.5}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, idx)

	_, err = TopNFeatures(nil, 3)
	assert.Error(t, err)
}
