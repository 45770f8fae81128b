package processing

import (
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/preprocessing"
)

// StateVersion is bumped whenever the layout of State changes.
const StateVersion = 1

// State is the fitted preprocessing state written to preprocessor.json.
// Everything needed to turn a raw booking into a model vector is here.
type State struct {
	Version int    `json:"version"`
	Target  string `json:"target"`

	TargetEncoder *preprocessing.LabelEncoder   `json:"target_encoder"`
	Encoders      []*preprocessing.LabelEncoder `json:"encoders"`
	LogColumns    []LogColumn                   `json:"log_columns"`

	// Importances covers every candidate feature, selected ones first.
	Importances []FeatureImportance `json:"importances"`
	Selected    []string            `json:"selected"`

	// FillValues holds the train median of each selected feature, in model
	// space (after log1p).
	FillValues []FillValue `json:"fill_values"`
}

// LogColumn records a column replaced by log1p(x + Shift).
type LogColumn struct {
	Column   string  `json:"column"`
	Skewness float64 `json:"skewness"`
	Shift    float64 `json:"shift"`
}

type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
	Selected   bool    `json:"selected"`
}

type FillValue struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// LogShifts maps every log-transformed column to its shift.
func (s *State) LogShifts() map[string]float64 {
	out := make(map[string]float64, len(s.LogColumns))
	for _, c := range s.LogColumns {
		out[c.Column] = c.Shift
	}
	return out
}

// Fills maps every selected feature to its fill value.
func (s *State) Fills() map[string]float64 {
	out := make(map[string]float64, len(s.FillValues))
	for _, f := range s.FillValues {
		out[f.Feature] = f.Value
	}
	return out
}

// Encoder returns the fitted encoder of a categorical column, or nil.
func (s *State) Encoder(column string) *preprocessing.LabelEncoder {
	for _, e := range s.Encoders {
		if e.Column == column {
			return e
		}
	}
	return nil
}

// ClassNames returns the target classes indexed by code.
func (s *State) ClassNames() []string {
	if s.TargetEncoder == nil {
		return nil
	}
	return append([]string(nil), s.TargetEncoder.Classes...)
}

// WriteState encodes s as indented JSON.
func WriteState(w io.Writer, s *State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// SaveState writes s to path atomically.
func SaveState(s *State, path string) error {
	return dataset.WriteFileAtomic(path, func(w io.Writer) error {
		return WriteState(w, s)
	})
}

// LoadState reads a state file and checks its version.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if s.Version != StateVersion {
		return nil, errors.Newf("%s: unsupported preprocessor state version %d (want %d)", path, s.Version, StateVersion)
	}
	return &s, nil
}
