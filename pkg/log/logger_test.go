package log

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestLogger(t *testing.T) {
	logger, buffer := NewTestLogger(LevelDebug)

	logger.Debug("debug message", "key1", "value1", "number", 42)
	logger.Info("info message", OperationKey, OperationFit)
	logger.Warn("warning message", ColumnKey, "lead_time")
	logger.Error("error message", fmt.Errorf("boom"), StageKey, "training")

	require.NotEmpty(t, buffer.String())
	assert.True(t, logger.ContainsMessage("debug message"))
	assert.True(t, logger.ContainsField("key1", "value1"))
	assert.True(t, logger.ContainsField("number", 42.0))
	assert.True(t, logger.ContainsField("error", "boom"))
	assert.True(t, logger.ContainsField(StageKey, "training"))

	entries, err := logger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestTestLoggerLevelFilter(t *testing.T) {
	logger, _ := NewTestLogger(LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.False(t, logger.ContainsMessage("hidden"))
	assert.True(t, logger.ContainsMessage("shown"))
	assert.False(t, logger.Enabled(context.Background(), LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), LevelError))
}

func TestTestLoggerWith(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	child := logger.With(StageKey, "processing", ModelNameKey, "LabelEncoder")
	child.Info("fitted", SamplesKey, 10)

	assert.True(t, logger.ContainsField(StageKey, "processing"))
	assert.True(t, logger.ContainsField(ModelNameKey, "LabelEncoder"))
}

func TestSetupJSONUsesCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Setup(Config{Level: "info"}) })

	GetLoggerWithName("pipeline.ingestion").Info("split written", SamplesKey, 800, PathKey, "raw/train.csv")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["severity"])
	assert.Equal(t, "split written", entry["message"])
	assert.Equal(t, "pipeline.ingestion", entry[ComponentKey])
	assert.Equal(t, 800.0, entry[SamplesKey])
	assert.Contains(t, entry, "time")
}

func TestSetupAttachesStacktrace(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Setup(Config{Level: "info"}) })

	GetLogger().Error("stage failed", errors.New("disk full"), StageKey, "training")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "disk full", entry["error"])
	assert.Equal(t, "training", entry[StageKey])
	assert.NotEmpty(t, entry[StacktraceKey])
}

func TestSetupLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Setup(Config{Level: "info"}) })

	logger := GetLogger()
	logger.Info("dropped")
	assert.Empty(t, buf.String())
	assert.False(t, logger.Enabled(context.Background(), LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), LevelWarn))
}

func TestUseTestLogger(t *testing.T) {
	captured := UseTestLogger(t, LevelDebug)
	GetLoggerWithName("serving").Info("listening")

	assert.True(t, captured.ContainsMessage("listening"))
	assert.True(t, captured.ContainsField(ComponentKey, "serving"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}
