// Package objstore downloads single objects from remote or local storage to
// a local file. Downloads are all-or-nothing: the object is written to a
// temporary file next to the destination and renamed into place.
package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/hotelres/config"
	"github.com/YuminosukeSato/hotelres/pkg/errors"
)

// Downloader fetches bucket/key into the local file dest and returns the
// number of bytes written. A missing object yields errors.ErrObjectNotFound.
type Downloader interface {
	Download(ctx context.Context, bucket, key, dest string) (int64, error)
}

// New returns the Downloader for the configured backend.
func New(cfg config.StorageConfig) (Downloader, error) {
	switch cfg.Backend {
	case "s3", "gcs":
		return NewS3Downloader(cfg)
	case "local":
		return NewLocalDownloader(cfg.LocalDir), nil
	default:
		return nil, errors.NewConfigError("data_ingestion.storage.backend", "unknown storage backend "+cfg.Backend, nil)
	}
}

// writeAtomic creates dest through a temporary file in the same directory.
// The temporary file is removed when fill fails.
func writeAtomic(dest string, fill func(f *os.File) (int64, error)) (n int64, err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if n, err = fill(tmp); err != nil {
		return 0, err
	}
	if err = tmp.Sync(); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return n, nil
}

// LocalDownloader copies objects from a directory tree. The bucket, when
// set, is a subdirectory of the root.
type LocalDownloader struct {
	Root string
}

// NewLocalDownloader serves objects from root
func NewLocalDownloader(root string) *LocalDownloader {
	return &LocalDownloader{Root: root}
}

func (d *LocalDownloader) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	src := filepath.Join(d.Root, bucket, filepath.FromSlash(key))
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Mark(errors.Wrapf(err, "object %s", src), errors.ErrObjectNotFound)
		}
		return 0, errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	return writeAtomic(dest, func(f *os.File) (int64, error) {
		return io.Copy(f, in)
	})
}
