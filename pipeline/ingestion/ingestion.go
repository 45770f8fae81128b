// Package ingestion downloads the raw booking CSV and splits it into train
// and test partitions with a seeded shuffle.
package ingestion

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-gota/gota/dataframe"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/objstore"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

// StageName identifies this stage in logs and errors.
const StageName = "ingestion"

// Split is the output of the stage: two disjoint row partitions of the raw
// dataset. Every cell is kept as a string.
type Split struct {
	Train dataframe.DataFrame
	Test  dataframe.DataFrame
}

// Ingestor runs the ingestion stage.
type Ingestor struct {
	cfg        config.DataIngestionConfig
	paths      config.Paths
	downloader objstore.Downloader
	logger     log.Logger
}

// NewIngestor creates an Ingestor that fetches through downloader.
func NewIngestor(cfg config.DataIngestionConfig, paths config.Paths, downloader objstore.Downloader) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		paths:      paths,
		downloader: downloader,
		logger:     log.GetLoggerWithName(StageName).With(log.StageKey, StageName),
	}
}

// Run downloads the object to the raw path, splits it and writes the train
// and test files.
func (in *Ingestor) Run(ctx context.Context) (Split, error) {
	start := time.Now()
	if in.cfg.TrainRatio <= 0 || in.cfg.TrainRatio >= 1 {
		return Split{}, errors.NewConfigError("data_ingestion.train_ratio", "must be in (0, 1)", nil)
	}

	rawPath := in.paths.RawFile()
	in.logger.Info("Downloading raw data",
		"bucket", in.cfg.BucketName,
		"object", in.cfg.BucketFileName)
	size, err := in.downloader.Download(ctx, in.cfg.BucketName, in.cfg.BucketFileName, rawPath)
	if err != nil {
		return Split{}, errors.NewStageError(StageName, rawPath, err)
	}

	raw, err := dataset.ReadCSV(rawPath)
	if err != nil {
		return Split{}, errors.NewStageError(StageName, rawPath, err)
	}

	split, err := SplitFrame(raw, in.cfg.TrainRatio, in.cfg.Seed)
	if err != nil {
		return Split{}, errors.Wrap(err, StageName)
	}

	if err := dataset.WriteCSV(split.Train, in.paths.TrainFile()); err != nil {
		return Split{}, errors.NewStageError(StageName, in.paths.TrainFile(), err)
	}
	if err := dataset.WriteCSV(split.Test, in.paths.TestFile()); err != nil {
		return Split{}, errors.NewStageError(StageName, in.paths.TestFile(), err)
	}

	in.logger.Info("Ingestion completed",
		"bytes", size,
		log.SamplesKey, raw.Nrow(),
		"train_rows", split.Train.Nrow(),
		"test_rows", split.Test.Nrow(),
		log.DurationMsKey, time.Since(start).Milliseconds())
	return split, nil
}

// Load reads a previously written split from the raw directory.
func Load(paths config.Paths) (Split, error) {
	train, err := dataset.ReadCSV(paths.TrainFile())
	if err != nil {
		return Split{}, errors.NewStageError(StageName, paths.TrainFile(), err)
	}
	test, err := dataset.ReadCSV(paths.TestFile())
	if err != nil {
		return Split{}, errors.NewStageError(StageName, paths.TestFile(), err)
	}
	return Split{Train: train, Test: test}, nil
}

// SplitFrame shuffles the row indices of df with a PCG generator seeded by
// seed and cuts them at round(n*ratio). Both sides keep at least one row.
func SplitFrame(df dataframe.DataFrame, ratio float64, seed uint64) (Split, error) {
	n := df.Nrow()
	if n < 2 {
		return Split{}, errors.WrapDataError(errors.ErrEmptyData, "", -1, "at least 2 rows are needed to split")
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	nTrain := int(math.Round(float64(n) * ratio))
	nTrain = max(1, min(nTrain, n-1))

	train := df.Subset(perm[:nTrain])
	test := df.Subset(perm[nTrain:])
	if train.Err != nil {
		return Split{}, errors.Wrap(train.Err, "subset train rows")
	}
	if test.Err != nil {
		return Split{}, errors.Wrap(test.Err, "subset test rows")
	}
	return Split{Train: train, Test: test}, nil
}
