// Package pipeline runs ingestion, processing and training in-process, in
// that order, passing typed results between the stages.
package pipeline

import (
	"context"
	"time"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/objstore"
	"github.com/YuminosukeSato/hotelres/pipeline/ingestion"
	"github.com/YuminosukeSato/hotelres/pipeline/processing"
	"github.com/YuminosukeSato/hotelres/pipeline/training"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
	"github.com/YuminosukeSato/hotelres/tracking"
)

// Pipeline wires the three stages together.
type Pipeline struct {
	cfg        *config.Config
	downloader objstore.Downloader
	sink       tracking.Sink
	logger     log.Logger
}

// New creates a Pipeline. cfg must already be validated.
func New(cfg *config.Config, downloader objstore.Downloader, sink tracking.Sink) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		downloader: downloader,
		sink:       sink,
		logger:     log.GetLoggerWithName("pipeline"),
	}
}

// Run executes every stage. The first failure stops the run.
func (p *Pipeline) Run(ctx context.Context) (*training.Result, error) {
	start := time.Now()
	paths := p.cfg.Artifacts()
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	var (
		split     ingestion.Split
		processed *processing.Result
		trained   *training.Result
	)
	stages := []struct {
		name string
		run  func() error
	}{
		{ingestion.StageName, func() (err error) {
			split, err = ingestion.NewIngestor(p.cfg.DataIngestion, paths, p.downloader).Run(ctx)
			return err
		}},
		{processing.StageName, func() (err error) {
			processed, err = processing.NewProcessor(p.cfg.DataProcessing, paths).Run(ctx, split)
			return err
		}},
		{training.StageName, func() (err error) {
			trained, err = training.NewTrainer(p.cfg.Training, p.cfg.Tracking.Experiment, paths, p.sink).Run(ctx, processed)
			return err
		}},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "before stage %s", stage.name)
		}
		p.logger.Info("Stage started", log.StageKey, stage.name)
		stageStart := time.Now()
		if err := errors.SafeExecute(stage.name, stage.run); err != nil {
			return nil, err
		}
		p.logger.Info("Stage finished",
			log.StageKey, stage.name,
			log.DurationMsKey, time.Since(stageStart).Milliseconds())
	}

	p.logger.Info("Pipeline completed",
		log.RunIDKey, trained.RunID,
		log.AccuracyKey, trained.Bundle.Metrics.Accuracy,
		log.DurationMsKey, time.Since(start).Milliseconds())
	return trained, nil
}
