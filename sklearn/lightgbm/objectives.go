package lightgbm

import (
	"math"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// ObjectiveFunction defines the interface for different objective functions
type ObjectiveFunction interface {
	// CalculateGradient calculates the gradient for a single sample
	CalculateGradient(prediction, target float64) float64

	// CalculateHessian calculates the hessian for a single sample
	CalculateHessian(prediction, target float64) float64

	// CalculateLoss calculates the loss for a single sample
	CalculateLoss(prediction, target float64) float64

	// GetInitScore returns the initial score for this objective
	GetInitScore(targets []float64) float64

	// Name returns the name of the objective
	Name() string
}

// BinaryLogLoss implements the binary cross-entropy objective on raw scores.
// Labels must be 0 or 1; the prediction is a log-odds score.
type BinaryLogLoss struct{}

// NewBinaryLogLoss creates the binary objective
func NewBinaryLogLoss() *BinaryLogLoss {
	return &BinaryLogLoss{}
}

func (o *BinaryLogLoss) CalculateGradient(prediction, target float64) float64 {
	return sigmoid(prediction) - target
}

func (o *BinaryLogLoss) CalculateHessian(prediction, _ float64) float64 {
	p := sigmoid(prediction)
	return p * (1 - p)
}

func (o *BinaryLogLoss) CalculateLoss(prediction, target float64) float64 {
	p := errors.ClipValue(sigmoid(prediction), 1e-15, 1-1e-15)
	if target > 0.5 {
		return -math.Log(p)
	}
	return -math.Log(1 - p)
}

// GetInitScore returns log(p/(1-p)) of the positive rate (boost_from_average)
func (o *BinaryLogLoss) GetInitScore(targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	var pos float64
	for _, t := range targets {
		pos += t
	}
	p := errors.ClipValue(pos/float64(len(targets)), 1e-15, 1-1e-15)
	return math.Log(p / (1 - p))
}

func (o *BinaryLogLoss) Name() string {
	return "binary"
}

// L2Objective implements L2 (Mean Squared Error) loss
type L2Objective struct{}

// NewL2Objective creates the L2 objective
func NewL2Objective() *L2Objective {
	return &L2Objective{}
}

func (o *L2Objective) CalculateGradient(prediction, target float64) float64 {
	return prediction - target
}

func (o *L2Objective) CalculateHessian(_, _ float64) float64 {
	return 1.0
}

func (o *L2Objective) CalculateLoss(prediction, target float64) float64 {
	diff := prediction - target
	return 0.5 * diff * diff
}

// GetInitScore returns the mean target
func (o *L2Objective) GetInitScore(targets []float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	var sum float64
	for _, t := range targets {
		sum += t
	}
	return sum / float64(len(targets))
}

func (o *L2Objective) Name() string {
	return "regression"
}

// CreateObjectiveFunction creates an objective function based on the objective name
func CreateObjectiveFunction(objective string) (ObjectiveFunction, error) {
	switch objective {
	case "binary", "binary_logloss", "logistic":
		return NewBinaryLogLoss(), nil
	case "regression", "regression_l2", "l2", "mse":
		return NewL2Objective(), nil
	default:
		return nil, errors.NewValidationError("objective", "unknown objective", objective)
	}
}

// transformScore maps a raw score to the prediction space of the objective
func transformScore(objective string, raw float64) float64 {
	switch objective {
	case "binary", "binary_logloss", "logistic":
		return sigmoid(raw)
	default:
		return raw
	}
}
