package model_selection

import (
	"github.com/c-bata/goptuna"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Distribution samples one hyperparameter from a goptuna trial
type Distribution interface {
	Suggest(trial goptuna.Trial, name string) (interface{}, error)
	Validate() error
}

// IntUniform samples an integer in [Low, High] inclusive
type IntUniform struct {
	Low  int
	High int
}

// Suggest passes High+1 because goptuna's random sampler draws from
// [low, high).
func (d IntUniform) Suggest(trial goptuna.Trial, name string) (interface{}, error) {
	return trial.SuggestInt(name, d.Low, d.High+1)
}

func (d IntUniform) Validate() error {
	if d.Low > d.High {
		return errors.NewValidationError("int_uniform", "low must not exceed high", []int{d.Low, d.High})
	}
	return nil
}

// FloatUniform samples a float in [Low, High)
type FloatUniform struct {
	Low  float64
	High float64
}

func (d FloatUniform) Suggest(trial goptuna.Trial, name string) (interface{}, error) {
	return trial.SuggestFloat(name, d.Low, d.High)
}

func (d FloatUniform) Validate() error {
	if !(d.Low < d.High) {
		return errors.NewValidationError("float_uniform", "low must be below high", []float64{d.Low, d.High})
	}
	return nil
}

// Categorical samples one of the string choices. The index is drawn as an
// integer: goptuna's random sampler picks categorical values from the
// unseeded global source.
type Categorical struct {
	Choices []string
}

func (d Categorical) Suggest(trial goptuna.Trial, name string) (interface{}, error) {
	i, err := trial.SuggestInt(name, 0, len(d.Choices))
	if err != nil {
		return nil, err
	}
	return d.Choices[i], nil
}

func (d Categorical) Validate() error {
	if len(d.Choices) == 0 {
		return errors.NewValidationError("categorical", "needs at least one choice", d.Choices)
	}
	return nil
}

// ParamDistribution binds an estimator parameter name to its distribution.
// Parameters are suggested in slice order so a seeded search is reproducible.
type ParamDistribution struct {
	Name         string
	Distribution Distribution
}
