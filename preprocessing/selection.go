package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// TopNFeatures は重要度の高い順に n 個の列番号を返す
//
// n は [1, len(importances)] に丸められる。重要度が同じ列は元の順番を保つ。
func TopNFeatures(importances []float64, n int) ([]int, error) {
	if len(importances) == 0 {
		return nil, errors.NewModelError("TopNFeatures", "empty data", errors.ErrEmptyData)
	}
	if n > len(importances) {
		n = len(importances)
	}
	if n < 1 {
		n = 1
	}

	order := make([]int, len(importances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return importances[order[a]] > importances[order[b]]
	})
	return order[:n], nil
}
