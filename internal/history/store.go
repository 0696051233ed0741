// Package history persists load test results in a local bbolt database.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/bookload/internal/performance/engine"
)

const (
	// BucketRuns holds records keyed by start time, so cursor order is
	// chronological.
	BucketRuns = "runs"

	// BucketIndex maps run ids to their key in BucketRuns.
	BucketIndex = "index"
)

var (
	// ErrNotFound is returned when no run matches an id.
	ErrNotFound = errors.New("run not found")

	// ErrAmbiguousID is returned when an id prefix matches several runs.
	ErrAmbiguousID = errors.New("id prefix matches more than one run")
)

// Record is one saved run.
type Record struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	BaseURL      string        `json:"baseUrl"`
	StartTime    time.Time     `json:"startTime"`
	Duration     time.Duration `json:"duration"`
	Passed       bool          `json:"passed"`
	Aborted      bool          `json:"aborted,omitempty"`
	ExitCode     int           `json:"exitCode"`
	TotalChecks  int64         `json:"totalChecks"`
	FailedChecks int64         `json:"failedChecks"`

	Result *engine.TestResult `json:"result"`
}

// NewRecord summarises a result for storage.
func NewRecord(result *engine.TestResult, exitCode int) Record {
	rec := Record{
		ID:        result.ID,
		Name:      result.Name,
		BaseURL:   result.BaseURL,
		StartTime: result.StartTime,
		Duration:  result.Duration,
		Passed:    result.Passed,
		Aborted:   result.Aborted,
		ExitCode:  exitCode,
		Result:    result,
	}
	if result.Summary != nil {
		rec.TotalChecks = result.Summary.TotalChecks
		rec.FailedChecks = result.Summary.FailedChecks
	}
	return rec
}

// Store is a bbolt-backed run history.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.bookload/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bookload", "history.db"), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a record. Saving the same id again replaces it.
func (s *Store) Save(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("save run: empty id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(BucketRuns))
		index := tx.Bucket([]byte(BucketIndex))

		if old := index.Get([]byte(rec.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}

		key := runKey(rec)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(rec.ID), key)
	})
}

// runKey sorts by start time, with the id breaking ties.
func runKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%020d-%s", rec.StartTime.UnixNano(), rec.ID))
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns the record with the given id. A unique id prefix also works.
func (s *Store) Get(id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(BucketIndex))

		key := index.Get([]byte(id))
		if key == nil {
			var err error
			if key, err = lookupPrefix(index, []byte(id)); err != nil {
				return err
			}
		}

		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func lookupPrefix(index *bbolt.Bucket, prefix []byte) ([]byte, error) {
	var found []byte

	c := index.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if found != nil {
			return nil, ErrAmbiguousID
		}
		found = v
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
