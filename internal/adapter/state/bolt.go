// Package state persists cycle bookkeeping that lives outside the index
// pair: documents permanently skipped for empty content, and the history
// of cycle reports consumed by the status surfaces.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"retrace/internal/domain"
)

var (
	bucketSkipped = []byte("skipped")
	bucketCycles  = []byte("cycles")
)

// Catalog is a bbolt-backed store of per-document and per-cycle state.
type Catalog struct {
	db *bbolt.DB
}

type skippedEntry struct {
	Reason    string    `json:"reason"`
	SkippedAt time.Time `json:"skipped_at"`
}

// Open opens (or creates) the catalog database.
func Open(path string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSkipped, bucketCycles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog buckets: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// MarkSkipped records a document as permanently skipped. Skipped
// documents are excluded from reconciliation and never retried.
func (c *Catalog) MarkSkipped(key, reason string) error {
	entry := skippedEntry{Reason: reason, SkippedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSkipped).Put([]byte(key), data)
	})
}

// SkippedKeys returns the set of permanently skipped document keys.
func (c *Catalog) SkippedKeys() (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSkipped).ForEach(func(k, _ []byte) error {
			keys[string(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// SkippedCount returns the number of permanently skipped documents.
func (c *Catalog) SkippedCount() (int, error) {
	var n int
	err := c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketSkipped).Stats().KeyN
		return nil
	})
	return n, err
}

// RecordCycle appends a cycle report to the history.
func (c *Catalog) RecordCycle(report domain.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCycles)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// LastCycle returns the most recent cycle report, or nil if none exists.
func (c *Catalog) LastCycle() (*domain.CycleReport, error) {
	var report *domain.CycleReport
	err := c.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(bucketCycles).Cursor().Last()
		if v == nil {
			return nil
		}
		var r domain.CycleReport
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		report = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Reset drops all catalog state, used when the index is rebuilt from
// scratch so formerly skipped documents are reconsidered.
func (c *Catalog) Reset() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSkipped, bucketCycles} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}
