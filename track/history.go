package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"taskwatch/storage"
)

// DefaultCapacity is the maximum number of records the store keeps.
const DefaultCapacity = 100

// Store is a bounded, ordered, persisted collection of task records, newest
// first. Every mutation rewrites the whole snapshot through the blob before
// returning; persistence failures are reported but never lose the in-memory
// state. All operations on the same store are serialized by a single mutex,
// so concurrent pollers cannot interleave their read-modify-write updates.
type Store struct {
	mu       sync.Mutex
	records  []*Record
	capacity int
	blob     storage.Blob
	log      *zap.Logger
}

// NewStore loads the existing snapshot from the blob, if any. A missing or
// unreadable snapshot starts an empty history rather than failing: history is
// best-effort telemetry, not a transactional resource.
func NewStore(ctx context.Context, blob storage.Blob, capacity int, log *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{capacity: capacity, blob: blob, log: log}

	data, err := blob.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// First run.
	case err != nil:
		log.Warn("failed to load history snapshot, starting empty", zap.Error(err))
	default:
		if err := json.Unmarshal(data, &s.records); err != nil {
			log.Warn("failed to decode history snapshot, starting empty", zap.Error(err))
			s.records = nil
		}
	}
	return s
}

// Insert prepends a new record and evicts past the capacity from the tail.
// Records still running are never evicted; the store may transiently exceed
// its capacity until they turn terminal. A stale record with the same taskId
// is replaced. The returned error reports persistence failure only; the
// record is in memory either way.
func (s *Store) Insert(ctx context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.RecordID == "" {
		rec.RecordID = shortuuid.New()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	if rec.TaskID != "" {
		for i, existing := range s.records {
			if existing.TaskID == rec.TaskID {
				s.records = append(s.records[:i], s.records[i+1:]...)
				break
			}
		}
	}

	s.records = append([]*Record{rec.clone()}, s.records...)
	s.evictLocked()
	return rec.RecordID, s.persistLocked(ctx)
}

// evictLocked removes oldest-inserted records from the tail until the store
// is at capacity, skipping records that are still running.
func (s *Store) evictLocked() {
	excess := len(s.records) - s.capacity
	for i := len(s.records) - 1; i >= 0 && excess > 0; i-- {
		if s.records[i].Status == StatusRunning {
			continue
		}
		s.records = append(s.records[:i], s.records[i+1:]...)
		excess--
	}
}

// Update merges the given fields into the record whose taskId matches and
// persists. It returns false when no record matches, which is not an error:
// the record may simply have been evicted or deleted.
func (s *Store) Update(ctx context.Context, taskID string, f Fields) (bool, error) {
	if taskID == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *Record
	for _, r := range s.records {
		if r.TaskID == taskID {
			rec = r
			break
		}
	}
	if rec == nil {
		return false, nil
	}

	rec.apply(f, time.Now())
	return true, s.persistLocked(ctx)
}

// GetAll returns copies of all records, most recently inserted first.
func (s *Store) GetAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r.clone())
	}
	return out
}

// Get returns a copy of the record with the given taskId.
func (s *Store) Get(taskID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.TaskID == taskID {
			return *r.clone(), true
		}
	}
	return Record{}, false
}

// DeleteOne removes the record with the given recordId.
func (s *Store) DeleteOne(ctx context.Context, recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.records {
		if r.RecordID == recordID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

// ClearAll removes every record.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	return s.persistLocked(ctx)
}

// Export serializes the current history for user download. Pure read, no
// side effects.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() ([]byte, error) {
	if len(s.records) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize history: %w", err)
	}
	return data, nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := s.snapshotLocked()
	if err != nil {
		s.log.Error("failed to serialize history", zap.Error(err))
		return err
	}
	if err := s.blob.Save(ctx, data); err != nil {
		s.log.Error("failed to persist history", zap.Error(err))
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
