// Package processing turns the raw train/test split into model-ready
// matrices: it drops identifier columns and duplicates, label-encodes
// categoricals, log-transforms skewed numerics, balances the training set
// with SMOTE and keeps the top-N features ranked by a random forest.
package processing

import (
	"context"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/pipeline/ingestion"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/preprocessing"
	"github.com/YuminosukeSato/hotelres/sklearn/ensemble"
)

// StageName identifies this stage in logs and errors.
const StageName = "processing"

// Result is the output of the stage.
type Result struct {
	// Train is the balanced training matrix restricted to the selected features.
	Train *dataset.Matrix
	// Test is the untouched test matrix restricted to the same features.
	Test  *dataset.Matrix
	State *State
}

// Processor runs the preprocessing stage.
type Processor struct {
	cfg    config.DataProcessingConfig
	paths  config.Paths
	logger log.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg config.DataProcessingConfig, paths config.Paths) *Processor {
	return &Processor{
		cfg:    cfg,
		paths:  paths,
		logger: log.GetLoggerWithName(StageName).With(log.StageKey, StageName),
	}
}

// Run processes an in-memory split and persists the outputs.
func (p *Processor) Run(ctx context.Context, split ingestion.Split) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := p.Process(split.Train, split.Test)
	if err != nil {
		return nil, errors.Wrap(err, StageName)
	}
	if err := p.Save(res); err != nil {
		return nil, err
	}

	p.logger.Info("Processing completed",
		"train_rows", res.Train.Rows(),
		"test_rows", res.Test.Rows(),
		"selected", res.State.Selected,
		log.DurationMsKey, time.Since(start).Milliseconds())
	return res, nil
}

// RunFromFiles reads the split written by the ingestion stage and runs.
func (p *Processor) RunFromFiles(ctx context.Context) (*Result, error) {
	split, err := ingestion.Load(p.paths)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, split)
}

// Save writes the processed matrices, the state file and the importance chart.
func (p *Processor) Save(res *Result) error {
	if err := dataset.WriteMatrixCSV(res.Train, p.paths.ProcessedTrainFile()); err != nil {
		return errors.NewStageError(StageName, p.paths.ProcessedTrainFile(), err)
	}
	if err := dataset.WriteMatrixCSV(res.Test, p.paths.ProcessedTestFile()); err != nil {
		return errors.NewStageError(StageName, p.paths.ProcessedTestFile(), err)
	}
	if err := SaveState(res.State, p.paths.PreprocessorFile()); err != nil {
		return errors.NewStageError(StageName, p.paths.PreprocessorFile(), err)
	}
	if err := SaveImportancePlot(res.State.Importances, p.paths.ImportancePlotFile()); err != nil {
		return errors.NewStageError(StageName, p.paths.ImportancePlotFile(), err)
	}
	return nil
}

// Load reads the outputs of a previous run.
func Load(paths config.Paths, target string) (*Result, error) {
	train, err := dataset.ReadMatrixCSV(paths.ProcessedTrainFile(), target)
	if err != nil {
		return nil, errors.NewStageError(StageName, paths.ProcessedTrainFile(), err)
	}
	test, err := dataset.ReadMatrixCSV(paths.ProcessedTestFile(), target)
	if err != nil {
		return nil, errors.NewStageError(StageName, paths.ProcessedTestFile(), err)
	}
	state, err := LoadState(paths.PreprocessorFile())
	if err != nil {
		return nil, errors.NewStageError(StageName, paths.PreprocessorFile(), err)
	}
	return &Result{Train: train, Test: test, State: state}, nil
}

// Process applies the transformation sequence. Everything is fitted on
// train and applied unchanged to test.
func (p *Processor) Process(train, test dataframe.DataFrame) (res *Result, err error) {
	defer errors.Recover(&err, "processing.Process")

	cfg := p.cfg
	target := cfg.TargetColumn

	train = dataset.DropDuplicates(dataset.DropColumns(train, cfg.DropColumns...))
	test = dataset.DropDuplicates(dataset.DropColumns(test, cfg.DropColumns...))
	if err := dataset.RequireColumns(train, target); err != nil {
		return nil, err
	}
	if err := dataset.RequireColumns(test, train.Names()...); err != nil {
		return nil, err
	}

	var features []string
	for _, name := range train.Names() {
		if name != target {
			features = append(features, name)
		}
	}
	if len(features) == 0 {
		return nil, errors.NewDataError("", -1, "no feature columns left after dropping identifiers")
	}

	state := &State{Version: StateVersion, Target: target}
	yTrain, yTest, err := encodeTarget(state, target, train, test)
	if err != nil {
		return nil, err
	}

	trainM, testM, candidates, err := p.encodeFeatures(state, features, train, test, yTrain, yTest)
	if err != nil {
		return nil, err
	}

	if err := p.logTransform(state, candidates, trainM, testM); err != nil {
		return nil, err
	}

	before := trainM.ClassCounts()
	Xbal, ybal, err := preprocessing.NewSMOTE(cfg.SMOTE.KNeighbors, cfg.Seed).FitResample(trainM.X, trainM.Y)
	if err != nil {
		return nil, err
	}
	balanced := &dataset.Matrix{Features: trainM.Features, Target: target, X: Xbal, Y: ybal}
	p.logger.Info("Balanced training set",
		"before", before,
		log.ClassCountsKey, balanced.ClassCounts())

	order, importances, err := p.rankFeatures(balanced)
	if err != nil {
		return nil, err
	}
	n := max(1, min(cfg.NoOfFeatures, len(order)))
	selected := make([]string, n)
	for i, j := range order[:n] {
		selected[i] = features[j]
	}
	for i, j := range order {
		state.Importances = append(state.Importances, FeatureImportance{
			Feature:    features[j],
			Importance: importances[j],
			Selected:   i < n,
		})
	}
	state.Selected = selected

	trainSel, err := balanced.Select(selected)
	if err != nil {
		return nil, err
	}
	testSel, err := testM.Select(selected)
	if err != nil {
		return nil, err
	}
	for _, name := range selected {
		col, err := trainM.Column(name)
		if err != nil {
			return nil, err
		}
		state.FillValues = append(state.FillValues, FillValue{Feature: name, Value: median(col)})
	}

	return &Result{Train: trainSel, Test: testSel, State: state}, nil
}

// encodeTarget label-encodes the target. Unseen target values in test are
// always an error.
func encodeTarget(state *State, target string, train, test dataframe.DataFrame) (yTrain, yTest []float64, err error) {
	enc := preprocessing.NewLabelEncoder(target, preprocessing.UnknownError)
	yTrain, err = enc.FitTransform(train.Col(target).Records())
	if err != nil {
		return nil, nil, err
	}
	if len(enc.Classes) < 2 {
		return nil, nil, errors.WrapDataError(errors.ErrDegenerateTarget, target, -1, "training split has a single class")
	}
	yTest, err = enc.Transform(test.Col(target).Records())
	if err != nil {
		return nil, nil, err
	}
	state.TargetEncoder = enc
	return yTrain, yTest, nil
}

// encodeFeatures builds the numeric matrices. Configured categorical columns
// are label-encoded; every other column is parsed as a number. It returns the
// column indices eligible for the skew transform.
func (p *Processor) encodeFeatures(state *State, features []string, train, test dataframe.DataFrame, yTrain, yTest []float64) (*dataset.Matrix, *dataset.Matrix, []int, error) {
	categorical := toSet(p.cfg.CategoricalColumns)
	numerical := toSet(p.cfg.NumericalColumns)
	policy := preprocessing.UnknownPolicy(p.cfg.UnknownCategory)

	trainCols := make([][]float64, len(features))
	testCols := make([][]float64, len(features))
	var candidates []int
	for j, name := range features {
		trainRaw := train.Col(name).Records()
		testRaw := test.Col(name).Records()

		if categorical[name] {
			enc := preprocessing.NewLabelEncoder(name, policy)
			a, err := enc.FitTransform(trainRaw)
			if err != nil {
				return nil, nil, nil, err
			}
			b, err := enc.Transform(testRaw)
			if err != nil {
				return nil, nil, nil, err
			}
			trainCols[j], testCols[j] = a, b
			state.Encoders = append(state.Encoders, enc)
			continue
		}

		a, err := dataset.ParseFloats(name, trainRaw)
		if err != nil {
			return nil, nil, nil, err
		}
		b, err := dataset.ParseFloats(name, testRaw)
		if err != nil {
			return nil, nil, nil, err
		}
		trainCols[j], testCols[j] = a, b
		if numerical[name] {
			candidates = append(candidates, j)
		}
	}

	target := p.cfg.TargetColumn
	trainM, err := dataset.NewMatrix(features, trainCols, target, yTrain)
	if err != nil {
		return nil, nil, nil, err
	}
	testM, err := dataset.NewMatrix(features, testCols, target, yTest)
	if err != nil {
		return nil, nil, nil, err
	}
	p.logger.Debug("Encoded features",
		log.FeaturesKey, len(features),
		"categorical", len(state.Encoders),
		"numerical", len(candidates))
	return trainM, testM, candidates, nil
}

// logTransform replaces skewed candidate columns with log1p in both matrices.
func (p *Processor) logTransform(state *State, candidates []int, trainM, testM *dataset.Matrix) error {
	if len(candidates) == 0 {
		return nil
	}
	t := preprocessing.NewSkewLogTransformer(p.cfg.SkewnessThreshold, candidates)
	Xtr, err := t.FitTransform(trainM.X)
	if err != nil {
		return err
	}
	Xte, err := t.Transform(testM.X)
	if err != nil {
		return err
	}
	trainM.X = mat.DenseCopyOf(Xtr)
	testM.X = mat.DenseCopyOf(Xte)

	for i, j := range t.Candidates {
		shift, ok := t.Shift[j]
		if !ok {
			continue
		}
		state.LogColumns = append(state.LogColumns, LogColumn{
			Column:   trainM.Features[j],
			Skewness: t.Skewness[i],
			Shift:    shift,
		})
		p.logger.Debug("Applied log1p", log.ColumnKey, trainM.Features[j], "skewness", t.Skewness[i])
	}
	return nil
}

// rankFeatures fits the selector forest and returns feature indices by
// descending importance along with the importances themselves.
func (p *Processor) rankFeatures(m *dataset.Matrix) ([]int, []float64, error) {
	sel := p.cfg.Selector
	rf := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(sel.NEstimators),
		ensemble.WithMaxDepth(sel.MaxDepth),
		ensemble.WithNumLeaves(sel.NumLeaves),
		ensemble.WithMaxSamples(sel.MaxSamples),
		ensemble.WithMaxFeatures(sel.MaxFeatures),
		ensemble.WithRandomState(int(p.cfg.Seed)),
	)
	y := mat.NewDense(m.Rows(), 1, append([]float64(nil), m.Y...))
	if err := rf.Fit(m.X, y); err != nil {
		return nil, nil, err
	}
	importances := rf.FeatureImportances()
	order, err := preprocessing.TopNFeatures(importances, len(importances))
	if err != nil {
		return nil, nil, err
	}
	return order, importances, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
