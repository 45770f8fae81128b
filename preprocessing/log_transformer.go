package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// SkewLogTransformer は歪度が閾値を超える列だけを log1p で変換する
//
// 歪度は訓練データで計算する（gonum stat.Skew、標本補正あり）。
// 訓練データの最小値が負の列は |min|+1 だけシフトしてから log1p をかける。
type SkewLogTransformer struct {
	state *model.StateManager

	// Threshold はこの値を超える歪度の列を変換対象にする
	Threshold float64

	// Candidates は判定対象の列番号
	Candidates []int

	// Skewness は Candidates と同じ順の歪度
	Skewness []float64

	// Shift は変換対象の列番号からシフト量への対応
	Shift map[int]float64
}

// NewSkewLogTransformer は新しいSkewLogTransformerを作成する
//
// パラメータ:
//   - threshold: 変換対象とする歪度の閾値
//   - candidates: 判定対象の列番号（数値列）
func NewSkewLogTransformer(threshold float64, candidates []int) *SkewLogTransformer {
	return &SkewLogTransformer{
		state:      model.NewStateManager(),
		Threshold:  threshold,
		Candidates: append([]int(nil), candidates...),
	}
}

// Fit は各候補列の歪度を計算し、変換対象を決める
func (t *SkewLogTransformer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SkewLogTransformer.Fit", "empty data", errors.ErrEmptyData)
	}

	t.Skewness = make([]float64, len(t.Candidates))
	t.Shift = make(map[int]float64)
	col := make([]float64, r)
	for i, j := range t.Candidates {
		if j < 0 || j >= c {
			return errors.NewDimensionError("SkewLogTransformer.Fit", c, j+1, 1)
		}
		mat.Col(col, j, X)
		skew := stat.Skew(col, nil)
		if math.IsNaN(skew) {
			// 定数列は歪度が定義できないので変換しない
			skew = 0
		}
		t.Skewness[i] = skew
		if skew > t.Threshold {
			shift := 0.0
			if lo := floats.Min(col); lo < 0 {
				shift = -lo + 1
			}
			t.Shift[j] = shift
		}
	}

	t.state.SetDimensions(c, r)
	t.state.SetFitted()
	return nil
}

// Transformed は変換対象の列番号を昇順で返す
func (t *SkewLogTransformer) Transformed() []int {
	cols := make([]int, 0, len(t.Shift))
	for j := range t.Shift {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	return cols
}

// Transform は変換対象の列に log1p(x + shift) を適用した新しい行列を返す
func (t *SkewLogTransformer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := t.state.RequireFitted("SkewLogTransformer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := t.state.RequireFeatures("SkewLogTransformer.Transform", c); err != nil {
		return nil, err
	}

	result := mat.DenseCopyOf(X)
	for _, j := range t.Transformed() {
		for i := 0; i < r; i++ {
			v, err := Log1pShift(X.At(i, j), t.Shift[j])
			if err != nil {
				return nil, errors.WrapDataError(err, "", i, "log1p transform")
			}
			result.Set(i, j, v)
		}
	}
	return result, nil
}

// FitTransform は学習と変換を同時に行う
func (t *SkewLogTransformer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := t.Fit(X); err != nil {
		return nil, err
	}
	return t.Transform(X)
}

// InverseTransform は expm1(y) - shift で元のスケールに戻す
func (t *SkewLogTransformer) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := t.state.RequireFitted("SkewLogTransformer", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := t.state.RequireFeatures("SkewLogTransformer.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.DenseCopyOf(X)
	for _, j := range t.Transformed() {
		for i := 0; i < r; i++ {
			result.Set(i, j, math.Expm1(X.At(i, j))-t.Shift[j])
		}
	}
	return result, nil
}

// Log1pShift は log1p(v + shift) を計算する。v + shift <= -1 は定義域外
func Log1pShift(v, shift float64) (float64, error) {
	x := v + shift
	if x <= -1 || math.IsNaN(x) {
		return 0, errors.NewValueError("Log1pShift", "log1p is undefined for values <= -1")
	}
	return math.Log1p(x), nil
}
