package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

const runKeyPrefix = "run:"

// LocalStore keeps run records as JSON values in a badger database. Run ids
// are UUIDv7, so key order is creation order.
type LocalStore struct {
	db     *badger.DB
	logger log.Logger
}

// OpenLocalStore opens (or creates) the store in dir. An empty dir keeps the
// store in memory.
func OpenLocalStore(dir string) (*LocalStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log.GetLoggerWithName("tracking.badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewStageError("tracking", dir, err)
	}
	return NewLocalStore(db), nil
}

// NewLocalStore wraps an open database. Close closes it.
func NewLocalStore(db *badger.DB) *LocalStore {
	return &LocalStore{db: db, logger: log.GetLoggerWithName("tracking.local")}
}

func runKey(id string) []byte {
	return []byte(runKeyPrefix + id)
}

// LogRun stores rec. A record without an id gets a new one.
func (s *LocalStore) LogRun(ctx context.Context, rec *Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", errors.Wrap(err, "generate run id")
		}
		rec.ID = id.String()
	}
	if rec.Status == "" {
		rec.Status = StatusFinished
	}
	if rec.EndTime.IsZero() {
		rec.EndTime = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, "encode run")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec.ID), data)
	})
	if err != nil {
		return "", errors.Wrapf(err, "store run %s", rec.ID)
	}
	s.logger.Info("Logged run", log.RunIDKey, rec.ID, "experiment", rec.Experiment)
	return rec.ID, nil
}

// Get returns one run.
func (s *LocalStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Mark(errors.Wrapf(err, "run %s", id), ErrRunNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load run %s", id)
	}
	return &rec, nil
}

// List returns the runs of experiment, oldest first. An empty experiment
// lists every run.
func (s *LocalStore) List(ctx context.Context, experiment string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var runs []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(runKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if experiment == "" || rec.Experiment == experiment {
				runs = append(runs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into pkg/log. Badger is
// chatty at info level, so info goes to debug.
type badgerLogger struct {
	logger log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
