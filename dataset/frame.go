// Package dataset holds the tabular containers passed between pipeline stages:
// raw string-typed gota DataFrames for ingested rows and Matrix for numeric
// feature matrices. It also provides the CSV transport used by the file-based CLI.
package dataset

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// ReadCSV loads a CSV file with a header row. Every cell is kept as a string so
// that rows round-trip byte for byte; typed parsing happens in ToMatrix.
func ReadCSV(path string) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	df, err := ReadCSVFrom(f)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "read %s", path)
	}
	return df, nil
}

// ReadCSVFrom is ReadCSV for an arbitrary reader.
func ReadCSVFrom(r io.Reader) (dataframe.DataFrame, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(nil),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrap(df.Err, "parse csv")
	}
	return df, nil
}

// WriteCSV writes df with a header row. The file is replaced atomically.
func WriteCSV(df dataframe.DataFrame, path string) error {
	if df.Err != nil {
		return errors.Wrap(df.Err, "invalid dataframe")
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		return df.WriteCSV(w, dataframe.WriteHeader(true))
	})
}

// WriteFileAtomic writes path through a temporary file in the same directory
// and renames it into place. Readers never observe a partial file, and a
// failed write leaves any previous file untouched.
func WriteFileAtomic(path string, fill func(w io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

// HasColumn reports whether df has a column called name.
func HasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// RequireColumns returns a DataError naming the first missing column.
func RequireColumns(df dataframe.DataFrame, names ...string) error {
	for _, name := range names {
		if !HasColumn(df, name) {
			return errors.WrapDataError(errors.ErrMissingColumn, name, -1, "required column is absent")
		}
	}
	return nil
}

// DropColumns removes the named columns. Names absent from df are ignored.
func DropColumns(df dataframe.DataFrame, names ...string) dataframe.DataFrame {
	var present []string
	for _, name := range names {
		if HasColumn(df, name) {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return df
	}
	return df.Drop(present)
}

// DropDuplicates removes rows identical in every column to an earlier row.
// The first occurrence is kept and row order is preserved.
func DropDuplicates(df dataframe.DataFrame) dataframe.DataFrame {
	records := df.Records()
	if len(records) <= 2 {
		return df
	}

	seen := make(map[string]struct{}, len(records)-1)
	keep := make([]int, 0, len(records)-1)
	for i, row := range records[1:] {
		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	if len(keep) == len(records)-1 {
		return df
	}
	return df.Subset(keep)
}

// Strings returns the raw values of a column.
func Strings(df dataframe.DataFrame, name string) ([]string, error) {
	if err := RequireColumns(df, name); err != nil {
		return nil, err
	}
	return df.Col(name).Records(), nil
}
