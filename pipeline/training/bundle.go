package training

import (
	"time"

	"github.com/YuminosukeSato/hotelres/core/model"
	"github.com/YuminosukeSato/hotelres/metrics"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/preprocessing"
	"github.com/YuminosukeSato/hotelres/sklearn/lightgbm"
)

// BundleVersion is the gob layout version of Bundle.
const BundleVersion = 1

// Hyperparams are the search parameters chosen for the final model.
type Hyperparams struct {
	BoostingType string  `json:"boosting_type"`
	NEstimators  int     `json:"n_estimators"`
	MaxDepth     int     `json:"max_depth"`
	LearningRate float64 `json:"learning_rate"`
	NumLeaves    int     `json:"num_leaves"`
}

// Bundle is the persisted model artifact: the ensemble plus everything the
// serving side needs to build a feature vector from raw inputs.
type Bundle struct {
	Version int
	Model   *lightgbm.Model

	// Features is the trained column order.
	Features []string
	Target   string
	// Classes are the target names indexed by class code.
	Classes []string

	// LogShifts holds the shift of every log1p-transformed feature.
	LogShifts map[string]float64
	// FillValues is used for features the caller does not supply.
	FillValues map[string]float64

	Params    Hyperparams
	Metrics   metrics.Report
	TrainedAt time.Time
}

func (b *Bundle) validate() error {
	switch {
	case b.Version != BundleVersion:
		return errors.Newf("unsupported model bundle version %d (want %d)", b.Version, BundleVersion)
	case b.Model == nil:
		return errors.New("model bundle has no model")
	case len(b.Features) == 0 || len(b.Features) != b.Model.NumFeatures:
		return errors.Newf("model bundle lists %d features, model expects %d", len(b.Features), b.Model.NumFeatures)
	case len(b.Classes) != 2:
		return errors.Newf("model bundle has %d classes, want 2", len(b.Classes))
	}
	return nil
}

// SaveBundle writes b to path atomically.
func SaveBundle(b *Bundle, path string) error {
	if err := b.validate(); err != nil {
		return err
	}
	return model.SaveModel(b, path)
}

// LoadBundle reads and checks a bundle. A version mismatch or a corrupt
// file is an error.
func LoadBundle(path string) (*Bundle, error) {
	var b Bundle
	if err := model.LoadModel(&b, path); err != nil {
		return nil, errors.Wrapf(err, "load model bundle %s", path)
	}
	if err := b.validate(); err != nil {
		return nil, errors.Wrapf(err, "load model bundle %s", path)
	}
	return &b, nil
}

// Vector assembles a model input in trained feature order from raw values.
// Supplied values of log-transformed features go through log1p; missing
// features take their fill value.
func (b *Bundle) Vector(values map[string]float64) ([]float64, error) {
	x := make([]float64, len(b.Features))
	for j, name := range b.Features {
		v, ok := values[name]
		if !ok {
			fill, ok := b.FillValues[name]
			if !ok {
				return nil, errors.WrapDataError(errors.ErrMissingColumn, name, -1, "no value and no fill value")
			}
			x[j] = fill
			continue
		}
		if shift, ok := b.LogShifts[name]; ok {
			t, err := preprocessing.Log1pShift(v, shift)
			if err != nil {
				return nil, errors.WrapDataError(err, name, -1, "value out of range for log1p")
			}
			v = t
		}
		x[j] = v
	}
	return x, nil
}

// Predict returns the class code and the positive-class probability of one
// model-space vector.
func (b *Bundle) Predict(x []float64) (int, float64, error) {
	if len(x) != len(b.Features) {
		return 0, 0, errors.NewDimensionError("Bundle.Predict", len(b.Features), len(x), 1)
	}
	p := b.Model.PredictSingle(x)
	if p > 0.5 {
		return 1, p, nil
	}
	return 0, p, nil
}

// ClassName maps a class code to its target name.
func (b *Bundle) ClassName(code int) string {
	if code < 0 || code >= len(b.Classes) {
		return ""
	}
	return b.Classes[code]
}
