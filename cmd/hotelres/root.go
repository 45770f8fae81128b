package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/objstore"
	"github.com/YuminosukeSato/hotelres/pipeline"
	"github.com/YuminosukeSato/hotelres/pipeline/ingestion"
	"github.com/YuminosukeSato/hotelres/pipeline/processing"
	"github.com/YuminosukeSato/hotelres/pipeline/training"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/serving"
	"github.com/YuminosukeSato/hotelres/tracking"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "hotelres",
		Short:         "Hotel reservation cancellation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config (default $HOTELRES_CONFIG or config/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		ingestCmd(opts),
		processCmd(opts),
		trainCmd(opts),
		runCmd(opts),
		serveCmd(opts),
		runsCmd(opts),
	)
	return cmd
}

// load reads and validates the config, then installs the logger it
// describes.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log.Setup(log.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if err := cfg.Artifacts().EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ingestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Download the raw CSV and write the train/test split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			downloader, err := objstore.New(cfg.DataIngestion.Storage)
			if err != nil {
				return err
			}
			_, err = ingestion.NewIngestor(cfg.DataIngestion, cfg.Artifacts(), downloader).Run(cmd.Context())
			return err
		},
	}
}

func processCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Preprocess the train/test split written by ingest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			_, err = processing.NewProcessor(cfg.DataProcessing, cfg.Artifacts()).RunFromFiles(cmd.Context())
			return err
		},
	}
}

func trainCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Search hyperparameters, train and evaluate on the processed matrices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			sink, err := tracking.New(cfg.Tracking, cfg.Artifacts())
			if err != nil {
				return err
			}
			defer closeSink(sink, &err)

			res, err := training.NewTrainer(cfg.Training, cfg.Tracking.Experiment, cfg.Artifacts(), sink).
				RunFromFiles(cmd.Context(), cfg.DataProcessing.TargetColumn)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
}

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run ingestion, processing and training in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			downloader, err := objstore.New(cfg.DataIngestion.Storage)
			if err != nil {
				return err
			}
			sink, err := tracking.New(cfg.Tracking, cfg.Artifacts())
			if err != nil {
				return err
			}
			defer closeSink(sink, &err)

			res, err := pipeline.New(cfg, downloader, sink).Run(cmd.Context())
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr, modelPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions from a trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serving.Addr = addr
			}
			path := cfg.Serving.ModelPath
			if modelPath != "" {
				path = modelPath
			}
			if path == "" {
				path = cfg.Artifacts().ModelFile()
			}
			bundle, err := training.LoadBundle(path)
			if err != nil {
				return err
			}
			srv, err := serving.New(bundle)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context(), cfg.Serving)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides serving.addr)")
	cmd.Flags().StringVar(&modelPath, "model", "", "model bundle path (overrides serving.model_path)")
	return cmd
}

func closeSink(sink tracking.Sink, errp *error) {
	if cerr := sink.Close(); cerr != nil && *errp == nil {
		*errp = errors.Wrap(cerr, "close tracking sink")
	}
}

func printResult(cmd *cobra.Command, res *training.Result) {
	out := cmd.OutOrStdout()
	m := res.Bundle.Metrics
	fmt.Fprintf(out, "accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f cv_best=%.4f\n",
		m.Accuracy, m.Precision, m.Recall, m.F1, res.BestCVScore)
	if res.RunID != "" {
		fmt.Fprintf(out, "run_id=%s\n", res.RunID)
	}
}

// formatError renders err with its stack for the single fatal log line.
func formatError(err error) string {
	return fmt.Sprintf("%+v", err)
}
