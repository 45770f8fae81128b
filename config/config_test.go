package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func configKey(t *testing.T, err error) string {
	t.Helper()
	var ce *errors.ConfigError
	require.True(t, errors.As(err, &ce), "expected ConfigError, got %v", err)
	return ce.Key
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.DataIngestion.TrainRatio)
	assert.Equal(t, uint64(42), cfg.DataIngestion.Seed)
	assert.Equal(t, "booking_status", cfg.DataProcessing.TargetColumn)
	assert.Equal(t, []string{"Unnamed: 0", "Booking_ID"}, cfg.DataProcessing.DropColumns)
	assert.Equal(t, 5.0, cfg.DataProcessing.SkewnessThreshold)
	assert.Equal(t, 10, cfg.DataProcessing.NoOfFeatures)
	assert.Equal(t, "reserve", cfg.DataProcessing.UnknownCategory)
	assert.Equal(t, 5, cfg.DataProcessing.SMOTE.KNeighbors)
	assert.Equal(t, 5, cfg.Training.NIter)
	assert.Equal(t, 2, cfg.Training.CV)
	assert.Equal(t, int64(5901), cfg.Training.Seed)
	assert.Equal(t, IntRange{Min: 100, Max: 499}, cfg.Training.NEstimators)
	assert.Equal(t, FloatRange{Min: 0.01, Max: 0.21}, cfg.Training.LearningRate)
	assert.Equal(t, []string{"gbdt", "dart"}, cfg.Training.BoostingTypes)
	assert.Equal(t, 10*time.Second, cfg.Serving.ReadTimeout)
	assert.Equal(t, "artifacts", cfg.Paths.ArtifactsDir)
}

func TestLoadBundledFile(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket-2001", cfg.DataIngestion.BucketName)
	assert.Equal(t, "gcs", cfg.DataIngestion.Storage.Backend)
	assert.Equal(t, "https://storage.googleapis.com", cfg.DataIngestion.Storage.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.DataIngestion.Storage.Timeout)
	assert.Len(t, cfg.DataProcessing.CategoricalColumns, 6)
	assert.Len(t, cfg.DataProcessing.NumericalColumns, 12)
	assert.Equal(t, IntRange{Min: 20, Max: 99}, cfg.Training.NumLeaves)
	assert.Equal(t, 30*time.Second, cfg.Tracking.MLflow.Timeout)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_ingestion:
  train_ratio: 0.75
data_processing:
  categorical_columns: []
  no_of_features: 4
training:
  n_iter: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.DataIngestion.TrainRatio)
	assert.Empty(t, cfg.DataProcessing.CategoricalColumns)
	assert.Equal(t, 4, cfg.DataProcessing.NoOfFeatures)
	assert.Equal(t, 2, cfg.Training.NIter)
	// untouched keys keep their defaults
	assert.Equal(t, 2, cfg.Training.CV)
	assert.Len(t, cfg.DataProcessing.NumericalColumns, 12)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "training:\n  n_iter: 2\n")
	t.Setenv("HOTELRES_TRAINING__N_ITER", "7")
	t.Setenv("HOTELRES_DATA_INGESTION__TRAIN_RATIO", "0.6")
	t.Setenv("HOTELRES_DATA_PROCESSING__CATEGORICAL_COLUMNS", "type_of_meal_plan, booking_status")
	t.Setenv("HOTELRES_TRACKING__BACKEND", "none")
	t.Setenv("HOTELRES_SERVING__READ_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Training.NIter)
	assert.Equal(t, 0.6, cfg.DataIngestion.TrainRatio)
	assert.Equal(t, []string{"type_of_meal_plan", "booking_status"}, cfg.DataProcessing.CategoricalColumns)
	assert.Equal(t, "none", cfg.Tracking.Backend)
	assert.Equal(t, 3*time.Second, cfg.Serving.ReadTimeout)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "data_processing:\n  no_of_features: 3\n")
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DataProcessing.NoOfFeatures)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	configKey(t, err)

	_, err = Load(writeConfig(t, "data_ingestion: [unclosed\n"))
	configKey(t, err)

	_, err = Load(writeConfig(t, "data_ingestion:\n  train_ratio: 1.5\n"))
	assert.Equal(t, "data_ingestion.train_ratio", configKey(t, err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"ratio zero", func(c *Config) { c.DataIngestion.TrainRatio = 0 }, "data_ingestion.train_ratio"},
		{"ratio one", func(c *Config) { c.DataIngestion.TrainRatio = 1 }, "data_ingestion.train_ratio"},
		{"bad storage backend", func(c *Config) { c.DataIngestion.Storage.Backend = "ftp" }, "data_ingestion.storage.backend"},
		{"s3 without bucket", func(c *Config) { c.DataIngestion.BucketName = "" }, "data_ingestion.bucket_name"},
		{"local without dir", func(c *Config) { c.DataIngestion.Storage.Backend = "local" }, "data_ingestion.storage.local_dir"},
		{"unknown policy", func(c *Config) { c.DataProcessing.UnknownCategory = "ignore" }, "data_processing.unknown_category"},
		{"no features", func(c *Config) { c.DataProcessing.NoOfFeatures = 0 }, "data_processing.no_of_features"},
		{"missing target", func(c *Config) { c.DataProcessing.TargetColumn = "" }, "data_processing.target_column"},
		{"smote k", func(c *Config) { c.DataProcessing.SMOTE.KNeighbors = 0 }, "data_processing.smote.k_neighbors"},
		{"target dropped", func(c *Config) {
			c.DataProcessing.DropColumns = append(c.DataProcessing.DropColumns, "booking_status")
		}, "data_processing.drop_columns"},
		{"column listed twice", func(c *Config) {
			c.DataProcessing.NumericalColumns = append(c.DataProcessing.NumericalColumns, "repeated_guest")
		}, "data_processing.numerical_columns"},
		{"single fold", func(c *Config) { c.Training.CV = 1 }, "training.cv"},
		{"bad scoring", func(c *Config) { c.Training.Scoring = "auc" }, "training.scoring"},
		{"bad boosting type", func(c *Config) { c.Training.BoostingTypes = []string{"goss"} }, "training.boosting_types[0]"},
		{"no boosting types", func(c *Config) { c.Training.BoostingTypes = nil }, "training.boosting_types"},
		{"inverted range", func(c *Config) { c.Training.MaxDepth = IntRange{Min: 9, Max: 3} }, "training.max_depth"},
		{"one leaf", func(c *Config) { c.Training.NumLeaves = IntRange{Min: 1, Max: 3} }, "training.num_leaves"},
		{"empty learning rate range", func(c *Config) { c.Training.LearningRate = FloatRange{Min: 0.1, Max: 0.1} }, "training.learning_rate"},
		{"mlflow without uri", func(c *Config) {
			c.Tracking.Backend = "mlflow"
			c.Tracking.MLflow.TrackingURI = ""
		}, "tracking.mlflow.tracking_uri"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Equal(t, tt.key, configKey(t, cfg.Validate()))
		})
	}
}

func TestPaths(t *testing.T) {
	p := NewPaths("artifacts")
	assert.Equal(t, filepath.Join("artifacts", "raw", "raw.csv"), p.RawFile())
	assert.Equal(t, filepath.Join("artifacts", "raw", "train.csv"), p.TrainFile())
	assert.Equal(t, filepath.Join("artifacts", "raw", "test.csv"), p.TestFile())
	assert.Equal(t, filepath.Join("artifacts", "processed", "processed_train.csv"), p.ProcessedTrainFile())
	assert.Equal(t, filepath.Join("artifacts", "processed", "processed_test.csv"), p.ProcessedTestFile())
	assert.Equal(t, filepath.Join("artifacts", "processed", "preprocessor.json"), p.PreprocessorFile())
	assert.Equal(t, filepath.Join("artifacts", "processed", "feature_importance.png"), p.ImportancePlotFile())
	assert.Equal(t, filepath.Join("artifacts", "models", "lgbm_model.gob"), p.ModelFile())
	assert.Equal(t, filepath.Join("artifacts", "mlruns"), p.MLRunsDir())

	root := t.TempDir()
	require.NoError(t, NewPaths(root).EnsureDirs())
	for _, dir := range []string{"raw", "processed", "models"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	cfg := Default()
	cfg.Paths.ArtifactsDir = root
	assert.Equal(t, root, cfg.Artifacts().Root)
}

func TestZeroSeedsAreValid(t *testing.T) {
	path := writeConfig(t, "data_ingestion:\n  seed: 0\ndata_processing:\n  seed: 0\ntraining:\n  seed: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cfg.DataIngestion.Seed)
	assert.Equal(t, uint64(0), cfg.DataProcessing.Seed)
	assert.Equal(t, int64(0), cfg.Training.Seed)
}

func TestDefaultSeedsAreFixed(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(42), cfg.DataIngestion.Seed)
	assert.Equal(t, uint64(42), cfg.DataProcessing.Seed)
	assert.Equal(t, int64(5901), cfg.Training.Seed)
}
