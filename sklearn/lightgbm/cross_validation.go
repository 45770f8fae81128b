package lightgbm

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/metrics"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// KFoldSplitter defines interface for cross-validation splitters
type KFoldSplitter interface {
	Split(X, y mat.Matrix) []CVFold
	GetNSplits() int
}

// CVFold represents a single fold in cross-validation
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int) *KFold {
	if nSplits < 2 {
		nSplits = 5 // Default to 5-fold
	}
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold. The first n % k folds
// get one extra sample.
func (kf *KFold) Split(X, _ mat.Matrix) []CVFold {
	nSamples, _ := X.Dims()

	indices := identity(nSamples)
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(kf.RandomSeed), uint64(kf.RandomSeed)))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	foldOf := make([]int, nSamples)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits
	current := 0
	for f := 0; f < kf.NSplits; f++ {
		size := foldSize
		if f < remainder {
			size++
		}
		for _, idx := range indices[current : current+size] {
			foldOf[idx] = f
		}
		current += size
	}
	return foldsFromAssignment(foldOf, kf.NSplits)
}

// StratifiedKFold implements stratified k-fold cross-validation: each fold
// keeps the class proportions of y.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold. Without
// shuffling each class is cut into contiguous chunks in row order.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) []CVFold {
	nSamples, _ := X.Dims()

	classIndices := make(map[float64][]int)
	for i := 0; i < nSamples; i++ {
		label := y.At(i, 0)
		classIndices[label] = append(classIndices[label], i)
	}
	labels := make([]float64, 0, len(classIndices))
	for label := range classIndices {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	if skf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(skf.RandomSeed), uint64(skf.RandomSeed)))
		for _, label := range labels {
			indices := classIndices[label]
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
	}

	foldOf := make([]int, nSamples)
	for _, label := range labels {
		indices := classIndices[label]
		nClass := len(indices)
		foldSize := nClass / skf.NSplits
		remainder := nClass % skf.NSplits

		current := 0
		for f := 0; f < skf.NSplits; f++ {
			size := foldSize
			if f < remainder {
				size++
			}
			for _, idx := range indices[current : current+size] {
				foldOf[idx] = f
			}
			current += size
		}
	}
	return foldsFromAssignment(foldOf, skf.NSplits)
}

// foldsFromAssignment builds folds with indices in ascending order
func foldsFromAssignment(foldOf []int, k int) []CVFold {
	folds := make([]CVFold, k)
	for i, f := range foldOf {
		folds[f].TestIndices = append(folds[f].TestIndices, i)
		for g := 0; g < k; g++ {
			if g != f {
				folds[g].TrainIndices = append(folds[g].TrainIndices, i)
			}
		}
	}
	return folds
}

// CVResult stores cross-validation results
type CVResult struct {
	TestScores []float64
	FitTimes   []float64 // seconds
}

// GetMeanScore returns mean test score
func (cv *CVResult) GetMeanScore() float64 {
	if len(cv.TestScores) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, score := range cv.TestScores {
		sum += score
	}
	return sum / float64(len(cv.TestScores))
}

// GetStdScore returns standard deviation of test scores
func (cv *CVResult) GetStdScore() float64 {
	if len(cv.TestScores) <= 1 {
		return 0.0
	}

	mean := cv.GetMeanScore()
	sumSq := 0.0
	for _, score := range cv.TestScores {
		diff := score - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(cv.TestScores)-1))
}

// Estimator is anything CrossValScore can fit and score
type Estimator interface {
	model.Fitter
	model.Predictor
}

// Scorer scores predictions against true labels; higher is better
type Scorer func(yTrue, yPred *mat.VecDense) (float64, error)

// CrossValScore fits a fresh estimator on each training fold and scores it on
// the held-out fold. A nil scorer means accuracy.
func CrossValScore(newEstimator func() Estimator, X, y mat.Matrix, splitter KFoldSplitter, scorer Scorer) (*CVResult, error) {
	if scorer == nil {
		scorer = metrics.Accuracy
	}
	rows, _ := X.Dims()
	yRows, _ := y.Dims()
	if rows != yRows {
		return nil, errors.NewDimensionError("CrossValScore", rows, yRows, 0)
	}

	folds := splitter.Split(X, y)
	for _, fold := range folds {
		if len(fold.TrainIndices) == 0 || len(fold.TestIndices) == 0 {
			return nil, errors.NewValueError("CrossValScore", "empty fold; reduce the number of splits")
		}
	}
	result := &CVResult{
		TestScores: make([]float64, 0, len(folds)),
		FitTimes:   make([]float64, 0, len(folds)),
	}

	for f, fold := range folds {
		XTrain, yTrain := extractSubset(X, y, fold.TrainIndices)
		XTest, yTest := extractSubset(X, y, fold.TestIndices)

		est := newEstimator()
		start := time.Now()
		if err := est.Fit(XTrain, yTrain); err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		result.FitTimes = append(result.FitTimes, time.Since(start).Seconds())

		pred, err := est.Predict(XTest)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		predVec := mat.NewVecDense(len(fold.TestIndices), nil)
		for i := range fold.TestIndices {
			predVec.SetVec(i, pred.At(i, 0))
		}
		score, err := scorer(mat.VecDenseCopyOf(yTest.ColView(0)), predVec)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		result.TestScores = append(result.TestScores, score)
	}

	return result, nil
}

// extractSubset copies the given rows of X and y
func extractSubset(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, cols := X.Dims()
	XSub := mat.NewDense(len(indices), cols, nil)
	ySub := mat.NewDense(len(indices), 1, nil)
	row := make([]float64, cols)
	for i, idx := range indices {
		mat.Row(row, idx, X)
		XSub.SetRow(i, row)
		ySub.Set(i, 0, y.At(idx, 0))
	}
	return XSub, ySub
}
