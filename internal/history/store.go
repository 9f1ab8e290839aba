// Package history keeps a persistent log of finished conversions.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"videomorph/internal/domain"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history store is closed")

// Store records finished tasks keyed by completion time.
type Store struct {
	mu sync.RWMutex
	db *pebble.DB
}

// Open opens or creates the history database in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record stores a finished task.
func (s *Store) Record(job domain.Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	if job.FinishedAt.IsZero() {
		job.FinishedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}
	return s.db.Set(recordKey(job.FinishedAt, job.ID), data, pebble.Sync)
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Job
	for iter.Last(); iter.Valid(); iter.Prev() {
		var job domain.Job
		if err := json.Unmarshal(iter.Value(), &job); err != nil {
			continue
		}
		out = append(out, job)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Purge deletes records finished before cutoff and reports how many went.
func (s *Store) Purge(cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{UpperBound: timePrefix(cutoff)})
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			_ = iter.Close()
			_ = batch.Close()
			return 0, err
		}
		n++
	}
	if err := iter.Close(); err != nil {
		_ = batch.Close()
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		_ = batch.Close()
		return 0, err
	}
	return n, batch.Close()
}

func timePrefix(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}

func recordKey(finished time.Time, id string) []byte {
	return append(timePrefix(finished), []byte("/"+id)...)
}
