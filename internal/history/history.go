// Package history records coverage runs in an embedded lemon store so
// past totals can be listed and compared.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/denismitr/lemon"
)

const keyPrefix = "run:"

// keyTimeLayout is a fixed-width RFC 3339 form: unlike RFC3339Nano it
// never trims nanosecond zeros, so keys sort chronologically.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one completed coverage run.
type Record struct {
	Time       time.Time `json:"time"`
	Percent    float64   `json:"percent"`
	Files      int       `json:"files"`
	Statements int       `json:"statements"`
	Covered    int       `json:"covered"`
	DurationMS int64     `json:"durationMs"`
	Args       []string  `json:"args"`
}

func (r Record) key() string {
	return keyPrefix + r.Time.UTC().Format(keyTimeLayout)
}

// Store wraps a lemon database holding run records.
type Store struct {
	db     *lemon.DB
	closer lemon.Closer
	limit  int
}

// Open creates or opens the history store at path, creating parent
// directories as needed. limit caps how many runs are retained.
func Open(path string, limit int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, closer, err := lemon.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store %s: %w", path, err)
	}
	return &Store{db: db, closer: closer, limit: limit}, nil
}

func (s *Store) Close() error {
	return s.closer()
}

// Add inserts a run record and prunes the oldest entries beyond the
// retention limit.
func (s *Store) Add(ctx context.Context, rec Record) error {
	err := s.db.Update(ctx, func(tx *lemon.Tx) error {
		if err := tx.Insert(rec.key(), rec); err != nil {
			return err
		}

		opts := lemon.Q().KeyOrder(lemon.AscOrder).KeyRange(keyPrefix+"0", keyPrefix+"a")
		docs, err := tx.Find(opts)
		if err != nil {
			return err
		}
		if extra := len(docs) - s.limit; extra > 0 {
			keys := make([]string, 0, extra)
			for _, doc := range docs[:extra] {
				keys = append(keys, doc.Key())
			}
			if err := tx.Remove(keys...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns up to n records, most recent first.
func (s *Store) List(ctx context.Context, n int) ([]Record, error) {
	var records []Record
	err := s.db.View(ctx, func(tx *lemon.Tx) error {
		opts := lemon.Q().KeyOrder(lemon.DescOrder).KeyRange(keyPrefix+"0", keyPrefix+"a")
		docs, err := tx.Find(opts)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if n > 0 && len(records) == n {
				break
			}
			var rec Record
			if err := json.Unmarshal(doc.Value(), &rec); err != nil {
				return fmt.Errorf("corrupt history record %s: %w", doc.Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}
