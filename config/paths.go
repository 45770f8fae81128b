package config

import (
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Paths is the artifact registry. Every stage reads and writes through it so
// the directory layout lives in one place.
type Paths struct {
	Root string
}

// NewPaths roots the registry at artifactsDir.
func NewPaths(artifactsDir string) Paths {
	return Paths{Root: artifactsDir}
}

func (p Paths) RawDir() string       { return filepath.Join(p.Root, "raw") }
func (p Paths) ProcessedDir() string { return filepath.Join(p.Root, "processed") }
func (p Paths) ModelDir() string     { return filepath.Join(p.Root, "models") }

func (p Paths) RawFile() string   { return filepath.Join(p.RawDir(), "raw.csv") }
func (p Paths) TrainFile() string { return filepath.Join(p.RawDir(), "train.csv") }
func (p Paths) TestFile() string  { return filepath.Join(p.RawDir(), "test.csv") }

func (p Paths) ProcessedTrainFile() string {
	return filepath.Join(p.ProcessedDir(), "processed_train.csv")
}

func (p Paths) ProcessedTestFile() string {
	return filepath.Join(p.ProcessedDir(), "processed_test.csv")
}

func (p Paths) PreprocessorFile() string {
	return filepath.Join(p.ProcessedDir(), "preprocessor.json")
}

func (p Paths) ImportancePlotFile() string {
	return filepath.Join(p.ProcessedDir(), "feature_importance.png")
}

func (p Paths) ModelFile() string { return filepath.Join(p.ModelDir(), "lgbm_model.gob") }

// MLRunsDir is the local tracking store
func (p Paths) MLRunsDir() string { return filepath.Join(p.Root, "mlruns") }

// EnsureDirs creates the artifact directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.RawDir(), p.ProcessedDir(), p.ModelDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewStageError("paths", dir, err)
		}
	}
	return nil
}
