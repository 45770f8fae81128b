package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/dataset"
	"github.com/YuminosukeSato/hotelres/objstore"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

func writeBookings(t *testing.T, dir string, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Booking_ID,lead_time,booking_status\n")
	for i := 0; i < rows; i++ {
		status := "Not_Canceled"
		if i%3 == 0 {
			status = "Canceled"
		}
		fmt.Fprintf(&b, "INN%05d,%d,%s\n", i, i%200, status)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bucket"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bucket", "bookings.csv"), []byte(b.String()), 0o644))
}

func newTestIngestor(t *testing.T, rows int, seed uint64) (*Ingestor, config.Paths) {
	t.Helper()
	src := t.TempDir()
	writeBookings(t, src, rows)
	paths := config.NewPaths(t.TempDir())
	cfg := config.DataIngestionConfig{
		BucketName:     "bucket",
		BucketFileName: "bookings.csv",
		TrainRatio:     0.8,
		Seed:           seed,
	}
	return NewIngestor(cfg, paths, objstore.NewLocalDownloader(src)), paths
}

func ids(t *testing.T, split Split) (train, test []string) {
	t.Helper()
	train, err := dataset.Strings(split.Train, "Booking_ID")
	require.NoError(t, err)
	test, err = dataset.Strings(split.Test, "Booking_ID")
	require.NoError(t, err)
	return train, test
}

func TestIngestorRunPartitions(t *testing.T) {
	in, paths := newTestIngestor(t, 1000, 42)

	split, err := in.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800, split.Train.Nrow())
	assert.Equal(t, 200, split.Test.Nrow())

	train, test := ids(t, split)
	seen := make(map[string]bool, 1000)
	for _, id := range append(train, test...) {
		assert.False(t, seen[id], "row %s appears twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 1000)

	for _, p := range []string{paths.RawFile(), paths.TrainFile(), paths.TestFile()} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	loaded, err := Load(paths)
	require.NoError(t, err)
	loadedTrain, loadedTest := ids(t, loaded)
	assert.Equal(t, train, loadedTrain)
	assert.Equal(t, test, loadedTest)
}

func TestIngestorSameSeedSameSplit(t *testing.T) {
	a, _ := newTestIngestor(t, 300, 7)
	b, _ := newTestIngestor(t, 300, 7)
	c, _ := newTestIngestor(t, 300, 8)

	sa, err := a.Run(context.Background())
	require.NoError(t, err)
	sb, err := b.Run(context.Background())
	require.NoError(t, err)
	sc, err := c.Run(context.Background())
	require.NoError(t, err)

	trainA, testA := ids(t, sa)
	trainB, testB := ids(t, sb)
	trainC, _ := ids(t, sc)
	assert.Equal(t, trainA, trainB)
	assert.Equal(t, testA, testB)
	assert.NotEqual(t, trainA, trainC)
}

func TestIngestorMissingObject(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	cfg := config.DataIngestionConfig{BucketName: "bucket", BucketFileName: "absent.csv", TrainRatio: 0.8, Seed: 1}
	in := NewIngestor(cfg, paths, objstore.NewLocalDownloader(t.TempDir()))

	_, err := in.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrObjectNotFound))

	var stageErr *errors.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageName, stageErr.Stage)
}

func TestIngestorBadRatio(t *testing.T) {
	in, _ := newTestIngestor(t, 10, 1)
	in.cfg.TrainRatio = 1

	_, err := in.Run(context.Background())
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestIngestorTooFewRows(t *testing.T) {
	in, _ := newTestIngestor(t, 1, 1)

	_, err := in.Run(context.Background())
	require.Error(t, err)
	var dataErr *errors.DataError
	assert.True(t, errors.As(err, &dataErr))
}

func TestSplitFrameRounding(t *testing.T) {
	src := t.TempDir()
	writeBookings(t, src, 7)
	df, err := dataset.ReadCSV(filepath.Join(src, "bucket", "bookings.csv"))
	require.NoError(t, err)

	tests := []struct {
		ratio     float64
		wantTrain int
	}{
		{0.5, 4}, // round(3.5)
		{0.8, 6}, // round(5.6)
		{0.01, 1},
		{0.99, 6},
	}
	for _, tt := range tests {
		split, err := SplitFrame(df, tt.ratio, 42)
		require.NoError(t, err)
		assert.Equal(t, tt.wantTrain, split.Train.Nrow(), "ratio %v", tt.ratio)
		assert.Equal(t, 7-tt.wantTrain, split.Test.Nrow(), "ratio %v", tt.ratio)
	}
}
