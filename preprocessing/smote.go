package preprocessing

import (
	"math/rand/v2"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/parallel"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// SMOTE は少数クラスの合成サンプルを生成してクラス数を揃える
//
// 各少数クラスについて、同じクラス内の k 近傍（ユークリッド距離）を求め、
// ランダムに選んだサンプルと近傍の間を一様乱数で内挿した点を追加する。
// すべての少数クラスが多数クラスと同じ件数になるまで生成する。
// 入力の行はそのまま先頭に残し、合成行はクラスの昇順に末尾へ追加する。
type SMOTE struct {
	// KNeighbors は内挿に使う近傍数。クラスのサンプル数-1 で頭打ちになる
	KNeighbors int

	// Seed は乱数シード。同じ入力とシードなら同じ結果になる
	Seed uint64
}

// NewSMOTE は新しいSMOTEを作成する
//
// 使用例:
//
//	sm := preprocessing.NewSMOTE(5, 42)
//	Xres, yres, err := sm.FitResample(X, y)
func NewSMOTE(kNeighbors int, seed uint64) *SMOTE {
	return &SMOTE{KNeighbors: kNeighbors, Seed: seed}
}

// FitResample はクラスを均衡させた新しい X と y を返す
func (s *SMOTE) FitResample(X mat.Matrix, y []float64) (*mat.Dense, []float64, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, nil, errors.NewModelError("SMOTE.FitResample", "empty data", errors.ErrEmptyData)
	}
	if len(y) != r {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", r, len(y), 0)
	}
	if s.KNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be >= 1", s.KNeighbors)
	}

	groups := make(map[int][]int)
	for i, v := range y {
		groups[int(v)] = append(groups[int(v)], i)
	}
	if len(groups) < 2 {
		return nil, nil, errors.WrapDataError(errors.ErrDegenerateTarget, "", -1,
			"SMOTE needs at least two classes")
	}

	classes := make([]int, 0, len(groups))
	majority := 0
	for cls, idx := range groups {
		classes = append(classes, cls)
		if len(idx) > majority {
			majority = len(idx)
		}
	}
	sort.Ints(classes)

	total := 0
	for _, cls := range classes {
		total += majority - len(groups[cls])
	}

	out := mat.NewDense(r+total, c, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(X)
	yOut := make([]float64, r, r+total)
	copy(yOut, y)

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	row := r
	for _, cls := range classes {
		idx := groups[cls]
		need := majority - len(idx)
		if need == 0 {
			continue
		}

		k := s.KNeighbors
		if k > len(idx)-1 {
			k = len(idx) - 1
		}
		if k < 1 {
			return nil, nil, errors.NewDataError("", -1,
				"class "+strconv.Itoa(cls)+" has a single sample and cannot be oversampled")
		}

		points := make([][]float64, len(idx))
		for i, src := range idx {
			points[i] = mat.Row(nil, src, X)
		}
		neighbors := kNearest(points, k)

		for n := 0; n < need; n++ {
			i := rng.IntN(len(points))
			j := neighbors[i][rng.IntN(k)]
			gap := rng.Float64()
			base, nb := points[i], points[j]
			for f := 0; f < c; f++ {
				out.Set(row, f, base[f]+gap*(nb[f]-base[f]))
			}
			yOut = append(yOut, float64(cls))
			row++
		}
	}

	return out, yOut, nil
}

// kNearest は各点について自分以外の k 近傍のインデックスを距離の昇順で返す
// 距離が同じ場合はインデックスの小さい方を優先する
func kNearest(points [][]float64, k int) [][]int {
	result := make([][]int, len(points))
	parallel.Parallelize(len(points), func(start, end int) {
		dist := make([]float64, k)
		for i := start; i < end; i++ {
			idx := make([]int, 0, k)
			dist = dist[:0]
			for j := range points {
				if j == i {
					continue
				}
				d := floats.Distance(points[i], points[j], 2)
				if len(idx) == k && d >= dist[k-1] {
					continue
				}
				pos := sort.SearchFloat64s(dist, d)
				// 同距離なら後から来た（インデックスの大きい）点を後ろに置く
				for pos < len(dist) && dist[pos] == d {
					pos++
				}
				if len(idx) < k {
					idx = append(idx, 0)
					dist = append(dist, 0)
				}
				copy(idx[pos+1:], idx[pos:len(idx)-1])
				copy(dist[pos+1:], dist[pos:len(dist)-1])
				idx[pos] = j
				dist[pos] = d
			}
			result[i] = idx
		}
	})
	return result
}
