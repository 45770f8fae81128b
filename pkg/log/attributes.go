// Standard attribute keys. Using the same keys everywhere keeps records
// filterable by stage, file and model across the whole pipeline run.

package log

// Model and operation context
const (
	// ModelNameKey identifies the estimator type, e.g. "LGBMClassifier", "LabelEncoder".
	ModelNameKey = "model.name"

	// OperationKey specifies the ML operation: "fit", "predict", "transform", ...
	OperationKey = "ml.operation"

	// ComponentKey identifies the package or logger name emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase: "training", "inference", ...
	PhaseKey = "ml.phase"
)

// Pipeline context
const (
	// StageKey names the pipeline stage: "ingestion", "processing", "training", "serving".
	StageKey = "pipeline.stage"

	// PathKey is a local file path or object URI read or written by a stage.
	PathKey = "file.path"

	// ColumnKey names a dataset column.
	ColumnKey = "data.column"

	// RunIDKey is the experiment tracking run identifier.
	RunIDKey = "run.id"

	// TrialKey is the random-search trial number.
	TrialKey = "trial.number"
)

// Data shape
const (
	// SamplesKey indicates the number of rows.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of feature columns.
	FeaturesKey = "data.features"

	// ClassCountsKey holds per-class row counts.
	ClassCountsKey = "data.class_counts"
)

// Metrics and timing
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	PrecisionKey  = "metrics.precision"
	RecallKey     = "metrics.recall"
	F1Key         = "metrics.f1"
	LossKey       = "metrics.loss"
	ScoreKey      = "metrics.score"
	IterationKey  = "training.iteration"
)

// Hyperparameters
const (
	HyperParamsKey = "model.hyperparams"
	RandomSeedKey  = "config.random_seed"
)

// HTTP request
const (
	HTTPMethodKey = "http.method"
	HTTPRouteKey  = "http.route"
	HTTPStatusKey = "http.status_code"
)

// Error context
const (
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
