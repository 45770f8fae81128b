package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints and the rules that span several fields.
// The first violation is returned as a ConfigError naming the key.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigError(keyOf(fe.Namespace()),
				fmt.Sprintf("failed '%s' validation (value %v)", fe.Tag(), fe.Value()), nil)
		}
		return errors.NewConfigError("", "validation failed", err)
	}

	storage := c.DataIngestion.Storage
	switch storage.Backend {
	case "s3", "gcs":
		if c.DataIngestion.BucketName == "" {
			return errors.NewConfigError("data_ingestion.bucket_name", "required for the "+storage.Backend+" backend", nil)
		}
	case "local":
		if storage.LocalDir == "" {
			return errors.NewConfigError("data_ingestion.storage.local_dir", "required for the local backend", nil)
		}
	}

	dp := c.DataProcessing
	if slices.Contains(dp.DropColumns, dp.TargetColumn) {
		return errors.NewConfigError("data_processing.drop_columns", "must not contain the target column", nil)
	}
	for _, col := range dp.NumericalColumns {
		if col == dp.TargetColumn {
			return errors.NewConfigError("data_processing.numerical_columns", "must not contain the target column", nil)
		}
		if slices.Contains(dp.CategoricalColumns, col) {
			return errors.NewConfigError("data_processing.numerical_columns",
				fmt.Sprintf("column %q is also listed as categorical", col), nil)
		}
	}

	tr := c.Training
	ranges := []struct {
		key string
		r   IntRange
	}{
		{"training.n_estimators", tr.NEstimators},
		{"training.max_depth", tr.MaxDepth},
		{"training.num_leaves", tr.NumLeaves},
	}
	for _, rg := range ranges {
		if rg.r.Min > rg.r.Max {
			return errors.NewConfigError(rg.key, fmt.Sprintf("min %d exceeds max %d", rg.r.Min, rg.r.Max), nil)
		}
	}
	if tr.NEstimators.Min < 1 {
		return errors.NewConfigError("training.n_estimators", "min must be >= 1", nil)
	}
	if tr.NumLeaves.Min < 2 {
		return errors.NewConfigError("training.num_leaves", "min must be >= 2", nil)
	}
	if !(tr.LearningRate.Min > 0 && tr.LearningRate.Min < tr.LearningRate.Max) {
		return errors.NewConfigError("training.learning_rate",
			fmt.Sprintf("need 0 < min < max, got [%g, %g)", tr.LearningRate.Min, tr.LearningRate.Max), nil)
	}

	if c.Tracking.Backend == "mlflow" && c.Tracking.MLflow.TrackingURI == "" {
		return errors.NewConfigError("tracking.mlflow.tracking_uri", "required for the mlflow backend", nil)
	}
	return nil
}

// keyOf turns "Config.data_ingestion.train_ratio" into "data_ingestion.train_ratio"
func keyOf(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
