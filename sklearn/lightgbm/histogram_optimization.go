package lightgbm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/parallel"
)

// BinMapper maps raw feature values to histogram bins.
// Bin b holds values in (UpperBounds[b-1], UpperBounds[b]]; the last bound is +Inf.
// NaN always goes to the last bin.
type BinMapper struct {
	UpperBounds []float64
}

// NumBins returns the number of bins
func (bm *BinMapper) NumBins() int {
	return len(bm.UpperBounds)
}

// ValueToBin returns the bin index for a raw value
func (bm *BinMapper) ValueToBin(v float64) int {
	if math.IsNaN(v) {
		return len(bm.UpperBounds) - 1
	}
	return sort.SearchFloat64s(bm.UpperBounds, v)
}

// newBinMapper finds bin boundaries for one feature.
// With at most maxBin distinct values every value gets its own bin and the
// boundaries are the midpoints between neighbours. Otherwise bins hold roughly
// equal numbers of samples.
func newBinMapper(values []float64, maxBin int) *BinMapper {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)

	if len(sorted) == 0 {
		return &BinMapper{UpperBounds: []float64{math.Inf(1)}}
	}

	// distinct values and their counts
	distinct := []float64{sorted[0]}
	counts := []int{1}
	for _, v := range sorted[1:] {
		if v == distinct[len(distinct)-1] {
			counts[len(counts)-1]++
			continue
		}
		distinct = append(distinct, v)
		counts = append(counts, 1)
	}

	var bounds []float64
	if len(distinct) <= maxBin {
		bounds = make([]float64, 0, len(distinct))
		for i := 0; i < len(distinct)-1; i++ {
			bounds = append(bounds, (distinct[i]+distinct[i+1])/2)
		}
	} else {
		perBin := float64(len(sorted)) / float64(maxBin)
		acc := 0
		next := perBin
		for i := 0; i < len(distinct)-1 && len(bounds) < maxBin-1; i++ {
			acc += counts[i]
			if float64(acc) >= next {
				bounds = append(bounds, (distinct[i]+distinct[i+1])/2)
				for next <= float64(acc) {
					next += perBin
				}
			}
		}
	}
	bounds = append(bounds, math.Inf(1))
	return &BinMapper{UpperBounds: bounds}
}

// binnedData holds the training matrix converted to bin indices, stored
// feature-major so a histogram pass over one feature is a linear scan.
type binnedData struct {
	numRows int
	mappers []*BinMapper
	bins    [][]uint16
}

// newBinnedData bins every feature of X in parallel
func newBinnedData(X mat.Matrix, maxBin int) *binnedData {
	rows, cols := X.Dims()
	bd := &binnedData{
		numRows: rows,
		mappers: make([]*BinMapper, cols),
		bins:    make([][]uint16, cols),
	}

	parallel.Parallelize(cols, func(start, end int) {
		col := make([]float64, rows)
		for j := start; j < end; j++ {
			mat.Col(col, j, X)
			bm := newBinMapper(col, maxBin)
			b := make([]uint16, rows)
			for i, v := range col {
				b[i] = uint16(bm.ValueToBin(v))
			}
			bd.mappers[j] = bm
			bd.bins[j] = b
		}
	})
	return bd
}

// HistogramBin accumulates gradient statistics for one bin
type HistogramBin struct {
	Count   int
	SumGrad float64
	SumHess float64
}

// FeatureHistogram is the histogram of one feature over one leaf
type FeatureHistogram []HistogramBin

// buildHistograms builds histograms for the given features over the rows in indices.
// Features not in features are left nil.
func (bd *binnedData) buildHistograms(indices []int, features []int, gradients, hessians []float64) []FeatureHistogram {
	hists := make([]FeatureHistogram, len(bd.mappers))
	parallel.Parallelize(len(features), func(start, end int) {
		for f := start; f < end; f++ {
			j := features[f]
			h := make(FeatureHistogram, bd.mappers[j].NumBins())
			col := bd.bins[j]
			for _, i := range indices {
				bin := &h[col[i]]
				bin.Count++
				bin.SumGrad += gradients[i]
				bin.SumHess += hessians[i]
			}
			hists[j] = h
		}
	})
	return hists
}

// subtractHistograms returns parent - child for every feature present in both
func subtractHistograms(parent, child []FeatureHistogram) []FeatureHistogram {
	out := make([]FeatureHistogram, len(parent))
	for j := range parent {
		if parent[j] == nil || child[j] == nil {
			continue
		}
		h := make(FeatureHistogram, len(parent[j]))
		for b := range h {
			h[b] = HistogramBin{
				Count:   parent[j][b].Count - child[j][b].Count,
				SumGrad: parent[j][b].SumGrad - child[j][b].SumGrad,
				SumHess: parent[j][b].SumHess - child[j][b].SumHess,
			}
		}
		out[j] = h
	}
	return out
}
