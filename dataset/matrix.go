package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Matrix is a model-ready feature matrix: numeric features in a fixed column
// order plus an integer-coded target.
type Matrix struct {
	Features []string
	Target   string
	X        *mat.Dense
	Y        []float64
}

// NewMatrix builds a Matrix from column-major feature values.
func NewMatrix(features []string, columns [][]float64, target string, y []float64) (*Matrix, error) {
	if len(features) != len(columns) {
		return nil, errors.NewDimensionError("dataset.NewMatrix", len(features), len(columns), 1)
	}
	if len(features) == 0 {
		return nil, errors.NewValueError("dataset.NewMatrix", "no feature columns")
	}
	rows := len(y)
	if rows == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "dataset.NewMatrix")
	}
	X := mat.NewDense(rows, len(features), nil)
	for j, col := range columns {
		if len(col) != rows {
			return nil, errors.NewDimensionError("dataset.NewMatrix("+features[j]+")", rows, len(col), 0)
		}
		for i, v := range col {
			X.Set(i, j, v)
		}
	}
	return &Matrix{
		Features: append([]string(nil), features...),
		Target:   target,
		X:        X,
		Y:        append([]float64(nil), y...),
	}, nil
}

// Rows returns the number of samples.
func (m *Matrix) Rows() int { return len(m.Y) }

// Cols returns the number of feature columns.
func (m *Matrix) Cols() int { return len(m.Features) }

// Index returns the position of a feature column, or -1.
func (m *Matrix) Index(name string) int {
	for i, f := range m.Features {
		if f == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of one feature column.
func (m *Matrix) Column(name string) ([]float64, error) {
	j := m.Index(name)
	if j < 0 {
		return nil, errors.WrapDataError(errors.ErrMissingColumn, name, -1, "feature not in matrix")
	}
	return mat.Col(nil, j, m.X), nil
}

// Select returns a new Matrix restricted to names, in the given order.
func (m *Matrix) Select(names []string) (*Matrix, error) {
	cols := make([][]float64, len(names))
	for i, name := range names {
		c, err := m.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return NewMatrix(names, cols, m.Target, m.Y)
}

// ClassCounts returns the number of rows per target code.
func (m *Matrix) ClassCounts() map[int]int {
	counts := make(map[int]int)
	for _, v := range m.Y {
		counts[int(v)]++
	}
	return counts
}

// Classes returns the sorted distinct target codes.
func (m *Matrix) Classes() []int {
	counts := m.ClassCounts()
	classes := make([]int, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}

// Frame converts the matrix to a DataFrame with features first and the target last.
func (m *Matrix) Frame() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(m.Features)+1)
	for j, name := range m.Features {
		cols = append(cols, series.New(formatFloats(mat.Col(nil, j, m.X)), series.String, name))
	}
	target := make([]string, len(m.Y))
	for i, v := range m.Y {
		target[i] = strconv.Itoa(int(v))
	}
	cols = append(cols, series.New(target, series.String, m.Target))
	return dataframe.New(cols...)
}

// formatFloats uses the shortest representation that parses back to the
// same float64, so CSV transport between stages is lossless.
func formatFloats(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// WriteMatrixCSV persists m as CSV, replacing path atomically.
func WriteMatrixCSV(m *Matrix, path string) error {
	return WriteCSV(m.Frame(), path)
}

// ReadMatrixCSV loads a processed CSV. Every column other than target must be numeric.
func ReadMatrixCSV(path, target string) (*Matrix, error) {
	df, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	return FrameToMatrix(df, target)
}

// FrameToMatrix parses every column of df as float64. target becomes Y.
func FrameToMatrix(df dataframe.DataFrame, target string) (*Matrix, error) {
	if err := RequireColumns(df, target); err != nil {
		return nil, err
	}
	var (
		features []string
		columns  [][]float64
		y        []float64
	)
	for _, name := range df.Names() {
		values, err := ParseFloats(name, df.Col(name).Records())
		if err != nil {
			return nil, err
		}
		if name == target {
			y = values
			continue
		}
		features = append(features, name)
		columns = append(columns, values)
	}
	return NewMatrix(features, columns, target, y)
}

// ParseFloats converts raw cells to float64. Surrounding spaces are ignored.
// An empty or non-numeric cell is a DataError naming column and row.
func ParseFloats(column string, raw []string) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) {
			return nil, errors.WrapDataError(err, column, i, "value "+strconv.Quote(s)+" is not numeric")
		}
		out[i] = v
	}
	return out, nil
}
