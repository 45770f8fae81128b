package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

const (
	// EnvPrefix prefixes every environment override. Sections are separated
	// by a double underscore: HOTELRES_DATA_INGESTION__TRAIN_RATIO.
	EnvPrefix = "HOTELRES_"

	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "HOTELRES_CONFIG"

	// DefaultConfigPath is used when neither a flag nor the env var names a file.
	DefaultConfigPath = "config/config.yaml"
)

// Default returns the built-in defaults. They are loaded first and then
// overridden by the config file and the environment.
func Default() *Config {
	return &Config{
		DataIngestion: DataIngestionConfig{
			BucketName:     "my-bucket-2001",
			BucketFileName: "Hotel_Reservations.csv",
			TrainRatio:     0.8,
			Seed:           42,
			Storage: StorageConfig{
				Backend: "s3",
				Region:  "us-east-1",
				Timeout: 5 * time.Minute,
			},
		},
		DataProcessing: DataProcessingConfig{
			CategoricalColumns: []string{
				"type_of_meal_plan",
				"required_car_parking_space",
				"room_type_reserved",
				"market_segment_type",
				"repeated_guest",
				"booking_status",
			},
			NumericalColumns: []string{
				"no_of_adults",
				"no_of_children",
				"no_of_weekend_nights",
				"no_of_week_nights",
				"lead_time",
				"arrival_year",
				"arrival_month",
				"arrival_date",
				"no_of_previous_cancellations",
				"no_of_previous_bookings_not_canceled",
				"avg_price_per_room",
				"no_of_special_requests",
			},
			SkewnessThreshold: 5,
			NoOfFeatures:      10,
			TargetColumn:      "booking_status",
			DropColumns:       []string{"Unnamed: 0", "Booking_ID"},
			UnknownCategory:   "reserve",
			Seed:              42,
			SMOTE:             SMOTEConfig{KNeighbors: 5},
			Selector: SelectorConfig{
				NEstimators: 100,
				MaxDepth:    -1,
				NumLeaves:   64,
				MaxSamples:  0.632,
				MaxFeatures: 0,
			},
		},
		Training: TrainingConfig{
			NIter:         5,
			CV:            2,
			Seed:          5901,
			Scoring:       "accuracy",
			NEstimators:   IntRange{Min: 100, Max: 499},
			MaxDepth:      IntRange{Min: 5, Max: 49},
			LearningRate:  FloatRange{Min: 0.01, Max: 0.21},
			NumLeaves:     IntRange{Min: 20, Max: 99},
			BoostingTypes: []string{"gbdt", "dart"},
		},
		Tracking: TrackingConfig{
			Backend:    "local",
			Experiment: "hotel-reservations",
			MLflow: MLflowConfig{
				TrackingURI: "http://127.0.0.1:5000",
				Timeout:     30 * time.Second,
			},
		},
		Serving: ServingConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Paths: PathsConfig{
			ArtifactsDir: "artifacts",
		},
	}
}

// Load reads the configuration. path may be empty, in which case
// HOTELRES_CONFIG and then config/config.yaml are tried; a missing default
// file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.NewConfigError("", "failed to load defaults", err)
	}

	configPath, explicit := resolvePath(path)
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			if explicit {
				return nil, errors.NewConfigError("", "config file "+configPath+" not readable", err)
			}
		} else if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, errors.NewConfigError("", "failed to parse config file "+configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.NewConfigError("", "failed to load environment variables", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.NewConfigError("", "failed to unmarshal configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, bool) {
	if path != "" {
		return path, true
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath, true
	}
	return DefaultConfigPath, false
}

// envTransformFunc maps HOTELRES_DATA_INGESTION__TRAIN_RATIO to
// data_ingestion.train_ratio. HOTELRES_CONFIG is not a config key.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// sliceConfigPaths are parsed from comma-separated env values
var sliceConfigPaths = []string{
	"data_processing.categorical_columns",
	"data_processing.numerical_columns",
	"data_processing.drop_columns",
	"training.boosting_types",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		// an empty value clears the list
		if err := k.Set(path, trimmed); err != nil {
			return errors.NewConfigError(path, "failed to set list value", err)
		}
	}
	return nil
}
