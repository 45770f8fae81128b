package lightgbm

import (
	"time"

	"github.com/YuminosukeSato/hotelres/pkg/log"
)

// CallbackEnv contains the environment for callbacks
type CallbackEnv struct {
	Iteration   int
	BeginTime   time.Time
	EvalResults map[string]float64
}

// Callback is a function that is called after every boosting iteration.
// Returning an error aborts training.
type Callback func(env *CallbackEnv) error

// PrintEvaluation logs evaluation results every period iterations
func PrintEvaluation(period int) Callback {
	logger := log.GetLoggerWithName("lightgbm.trainer")
	return func(env *CallbackEnv) error {
		if period > 0 && env.Iteration%period == 0 {
			fields := []any{log.IterationKey, env.Iteration,
				log.DurationMsKey, time.Since(env.BeginTime).Milliseconds()}
			for name, value := range env.EvalResults {
				fields = append(fields, name, value)
			}
			logger.Debug("Training progress", fields...)
		}
		return nil
	}
}

// RecordEvaluation records evaluation history
func RecordEvaluation(history *map[string][]float64) Callback {
	return func(env *CallbackEnv) error {
		if *history == nil {
			*history = make(map[string][]float64)
		}
		for name, value := range env.EvalResults {
			(*history)[name] = append((*history)[name], value)
		}
		return nil
	}
}
