// Package config loads the pipeline configuration from layered sources
// (built-in defaults, a YAML file and HOTELRES_ environment variables) and
// validates it before any stage runs.
package config

import "time"

// Config is the root configuration. Each stage receives its own section by value.
type Config struct {
	DataIngestion  DataIngestionConfig  `koanf:"data_ingestion"`
	DataProcessing DataProcessingConfig `koanf:"data_processing"`
	Training       TrainingConfig       `koanf:"training"`
	Tracking       TrackingConfig       `koanf:"tracking"`
	Serving        ServingConfig        `koanf:"serving"`
	Logging        LoggingConfig        `koanf:"logging"`
	Paths          PathsConfig          `koanf:"paths"`
}

// DataIngestionConfig selects the source object and the train/test split.
type DataIngestionConfig struct {
	BucketName     string        `koanf:"bucket_name"`
	BucketFileName string        `koanf:"bucket_file_name" validate:"required"`
	TrainRatio     float64       `koanf:"train_ratio" validate:"gt=0,lt=1"`
	Seed           uint64        `koanf:"seed"`
	Storage        StorageConfig `koanf:"storage"`
}

// StorageConfig configures the object store the raw CSV is downloaded from.
// Backend "gcs" talks to the GCS XML interoperability endpoint with HMAC keys.
type StorageConfig struct {
	Backend        string        `koanf:"backend" validate:"oneof=s3 gcs local"`
	Region         string        `koanf:"region"`
	Endpoint       string        `koanf:"endpoint" validate:"omitempty,url"`
	ForcePathStyle bool          `koanf:"force_path_style"`
	Anonymous      bool          `koanf:"anonymous"`
	LocalDir       string        `koanf:"local_dir"`
	Timeout        time.Duration `koanf:"timeout" validate:"gte=0"`
}

// DataProcessingConfig drives the preprocessing sequence.
type DataProcessingConfig struct {
	CategoricalColumns []string       `koanf:"categorical_columns"`
	NumericalColumns   []string       `koanf:"numerical_columns"`
	SkewnessThreshold  float64        `koanf:"skewness_threshold"`
	NoOfFeatures       int            `koanf:"no_of_features" validate:"min=1"`
	TargetColumn       string         `koanf:"target_column" validate:"required"`
	DropColumns        []string       `koanf:"drop_columns"`
	UnknownCategory    string         `koanf:"unknown_category" validate:"oneof=reserve error"`
	Seed               uint64         `koanf:"seed"`
	SMOTE              SMOTEConfig    `koanf:"smote"`
	Selector           SelectorConfig `koanf:"selector"`
}

// SMOTEConfig configures minority oversampling.
type SMOTEConfig struct {
	KNeighbors int `koanf:"k_neighbors" validate:"min=1"`
}

// SelectorConfig configures the random forest used to rank features.
type SelectorConfig struct {
	NEstimators int     `koanf:"n_estimators" validate:"min=1"`
	MaxDepth    int     `koanf:"max_depth"`
	NumLeaves   int     `koanf:"num_leaves" validate:"min=2"`
	MaxSamples  float64 `koanf:"max_samples" validate:"gt=0,lte=1"`
	MaxFeatures float64 `koanf:"max_features" validate:"gte=0,lte=1"`
}

// IntRange is an inclusive integer search range.
type IntRange struct {
	Min int `koanf:"min"`
	Max int `koanf:"max"`
}

// FloatRange is a half-open float search range [Min, Max).
type FloatRange struct {
	Min float64 `koanf:"min"`
	Max float64 `koanf:"max"`
}

// TrainingConfig configures the random search and evaluation.
type TrainingConfig struct {
	NIter         int        `koanf:"n_iter" validate:"min=1"`
	CV            int        `koanf:"cv" validate:"min=2"`
	Seed          int64      `koanf:"seed"`
	Scoring       string     `koanf:"scoring" validate:"oneof=accuracy precision recall f1"`
	NEstimators   IntRange   `koanf:"n_estimators"`
	MaxDepth      IntRange   `koanf:"max_depth"`
	LearningRate  FloatRange `koanf:"learning_rate"`
	NumLeaves     IntRange   `koanf:"num_leaves"`
	BoostingTypes []string   `koanf:"boosting_types" validate:"min=1,dive,oneof=gbdt dart"`
}

// TrackingConfig selects the experiment tracking backend.
type TrackingConfig struct {
	Backend    string       `koanf:"backend" validate:"oneof=mlflow local none"`
	Experiment string       `koanf:"experiment" validate:"required"`
	MLflow     MLflowConfig `koanf:"mlflow"`
}

// MLflowConfig configures the MLflow REST client.
type MLflowConfig struct {
	TrackingURI string        `koanf:"tracking_uri" validate:"omitempty,url"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
}

// ServingConfig configures the HTTP server.
type ServingConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	ModelPath       string        `koanf:"model_path"`
}

// LoggingConfig configures pkg/log.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// PathsConfig roots the artifact registry.
type PathsConfig struct {
	ArtifactsDir string `koanf:"artifacts_dir" validate:"required"`
}

// Artifacts returns the artifact path registry.
func (c *Config) Artifacts() Paths {
	return NewPaths(c.Paths.ArtifactsDir)
}
