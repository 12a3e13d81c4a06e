package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskwatch/storage"
)

// memBlob is an in-memory storage.Blob for tests.
type memBlob struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	failSave bool
}

func (b *memBlob) Load(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b.data...), nil
}

func (b *memBlob) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave {
		return errors.New("disk full")
	}
	b.data = append([]byte(nil), data...)
	b.saves++
	return nil
}

func newTestStore(t *testing.T, capacity int) (*Store, *memBlob) {
	t.Helper()
	blob := &memBlob{}
	return NewStore(context.Background(), blob, capacity, nil), blob
}

func terminalRecord(taskID string) *Record {
	rec := NewRecord(KindForTest, "/data/Tests/"+taskID)
	rec.TaskID = taskID
	rec.Status = StatusCompleted
	now := time.Now()
	rec.EndedAt = &now
	return rec
}

const KindForTest = "parse"

func TestStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("prepends and assigns record ids", func(t *testing.T) {
		store, blob := newTestStore(t, 10)

		first := NewRecord(KindForTest, "/data/Tests/a")
		first.RecordID = ""
		id, err := store.Insert(ctx, first)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		second := NewRecord(KindForTest, "/data/Tests/b")
		_, err = store.Insert(ctx, second)
		require.NoError(t, err)

		all := store.GetAll()
		require.Len(t, all, 2)
		assert.Equal(t, "b", all[0].DisplayName)
		assert.Equal(t, "a", all[1].DisplayName)
		assert.Equal(t, 2, blob.saves)
	})

	t.Run("replaces a stale record with the same taskId", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		stale := terminalRecord("t1")
		_, err := store.Insert(ctx, stale)
		require.NoError(t, err)

		fresh := NewRecord(KindForTest, "/data/Tests/fresh")
		fresh.TaskID = "t1"
		_, err = store.Insert(ctx, fresh)
		require.NoError(t, err)

		all := store.GetAll()
		require.Len(t, all, 1)
		assert.Equal(t, "fresh", all[0].DisplayName)
	})

	t.Run("persistence failure is reported but keeps the record in memory", func(t *testing.T) {
		blob := &memBlob{failSave: true}
		store := NewStore(ctx, blob, 10, nil)

		_, err := store.Insert(ctx, NewRecord(KindForTest, "/data/Tests/a"))
		assert.Error(t, err)
		assert.Len(t, store.GetAll(), 1)
	})
}

func TestStore_CapacityEviction(t *testing.T) {
	ctx := context.Background()

	t.Run("101 inserts into capacity 100 evicts the single oldest", func(t *testing.T) {
		store, _ := newTestStore(t, 100)

		for i := 0; i < 101; i++ {
			_, err := store.Insert(ctx, terminalRecord(fmt.Sprintf("t%03d", i)))
			require.NoError(t, err)
		}

		all := store.GetAll()
		require.Len(t, all, 100)
		assert.Equal(t, "t100", all[0].TaskID)
		assert.Equal(t, "t001", all[99].TaskID) // t000 evicted
	})

	t.Run("running records are never evicted", func(t *testing.T) {
		store, _ := newTestStore(t, 2)

		for i := 0; i < 3; i++ {
			rec := NewRecord(KindForTest, "/data/Tests/x")
			rec.TaskID = fmt.Sprintf("run%d", i)
			_, err := store.Insert(ctx, rec)
			require.NoError(t, err)
		}

		// All three still running, so the cap is transiently exceeded.
		assert.Len(t, store.GetAll(), 3)

		// Once the oldest turns terminal, the next insert evicts it.
		status := StatusCompleted
		found, err := store.Update(ctx, "run0", Fields{Status: &status})
		require.NoError(t, err)
		require.True(t, found)

		rec := NewRecord(KindForTest, "/data/Tests/x")
		rec.TaskID = "run3"
		_, err = store.Insert(ctx, rec)
		require.NoError(t, err)

		all := store.GetAll()
		require.Len(t, all, 3)
		for _, r := range all {
			assert.NotEqual(t, "run0", r.TaskID)
		}
	})
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("merges log events through the reconciler", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		rec := NewRecord(KindForTest, "/data/Tests/a")
		rec.TaskID = "t1"
		rec.LogEvents = []LogEvent{{Message: "start", Severity: SeverityInfo, Timestamp: at(1)}}
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		found, err := store.Update(ctx, "t1", Fields{LogEvents: []LogEvent{
			{Message: "start", Severity: SeverityError, Timestamp: at(2)}, // duplicate, dropped
			{Message: "done", Severity: SeveritySuccess, Timestamp: at(3)},
		}})
		require.NoError(t, err)
		require.True(t, found)

		got, ok := store.Get("t1")
		require.True(t, ok)
		require.Len(t, got.LogEvents, 2)
		assert.Equal(t, "start", got.LogEvents[0].Message)
		assert.Equal(t, SeverityInfo, got.LogEvents[0].Severity)
		assert.Equal(t, "done", got.LogEvents[1].Message)
	})

	t.Run("refreshes updatedAt", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		rec := NewRecord(KindForTest, "/data/Tests/a")
		rec.TaskID = "t1"
		rec.UpdatedAt = time.Now().Add(-time.Hour)
		before := rec.UpdatedAt
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		_, err = store.Update(ctx, "t1", Fields{LogEvents: []LogEvent{{Message: "x"}}})
		require.NoError(t, err)

		got, _ := store.Get("t1")
		assert.True(t, got.UpdatedAt.After(before))
	})

	t.Run("returns false for an unknown taskId", func(t *testing.T) {
		store, blob := newTestStore(t, 10)
		saves := blob.saves

		found, err := store.Update(ctx, "nope", Fields{})
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, saves, blob.saves) // nothing to persist
	})

	t.Run("terminal status never re-enters running", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		_, err := store.Insert(ctx, terminalRecord("t1"))
		require.NoError(t, err)

		running := StatusRunning
		found, err := store.Update(ctx, "t1", Fields{Status: &running})
		require.NoError(t, err)
		require.True(t, found)

		got, _ := store.Get("t1")
		assert.Equal(t, StatusCompleted, got.Status)
	})

	t.Run("endedAt is set at most once", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		rec := NewRecord(KindForTest, "/data/Tests/a")
		rec.TaskID = "t1"
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		later := first.Add(time.Hour)
		status := StatusCompleted

		_, err = store.Update(ctx, "t1", Fields{Status: &status, EndedAt: &first})
		require.NoError(t, err)
		_, err = store.Update(ctx, "t1", Fields{EndedAt: &later})
		require.NoError(t, err)

		got, _ := store.Get("t1")
		require.NotNil(t, got.EndedAt)
		assert.Equal(t, first, *got.EndedAt)
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("history survives a restart", func(t *testing.T) {
		blob := &memBlob{}
		store := NewStore(ctx, blob, 10, nil)

		rec := NewRecord(KindForTest, "/data/Tests/a")
		rec.TaskID = "t1"
		rec.LogEvents = []LogEvent{{Message: "start", Timestamp: at(1)}}
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		reopened := NewStore(ctx, blob, 10, nil)
		all := reopened.GetAll()
		require.Len(t, all, 1)
		assert.Equal(t, "t1", all[0].TaskID)
		require.Len(t, all[0].LogEvents, 1)
		assert.Equal(t, "start", all[0].LogEvents[0].Message)
	})

	t.Run("corrupt snapshot starts empty", func(t *testing.T) {
		blob := &memBlob{data: []byte("{not json")}
		store := NewStore(ctx, blob, 10, nil)
		assert.Empty(t, store.GetAll())
	})

	t.Run("snapshot uses the documented field names", func(t *testing.T) {
		blob := &memBlob{}
		store := NewStore(ctx, blob, 10, nil)

		rec := NewRecord(KindForTest, "/data/Tests/a")
		rec.TaskID = "t1"
		rec.LogEvents = []LogEvent{{Message: "start", Severity: SeverityInfo, Timestamp: at(1)}}
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		var snapshot []map[string]interface{}
		require.NoError(t, json.Unmarshal(blob.data, &snapshot))
		require.Len(t, snapshot, 1)
		for _, key := range []string{"recordId", "taskId", "kind", "sourcePath", "displayName", "startedAt", "status", "logEvents", "updatedAt"} {
			assert.Contains(t, snapshot[0], key)
		}
		events := snapshot[0]["logEvents"].([]interface{})
		entry := events[0].(map[string]interface{})
		assert.Contains(t, entry, "message")
		assert.Contains(t, entry, "severity")
		assert.Contains(t, entry, "timestamp")
	})
}

func TestStore_DeleteAndExport(t *testing.T) {
	ctx := context.Background()

	t.Run("deleteOne removes by record id", func(t *testing.T) {
		store, _ := newTestStore(t, 10)

		id, err := store.Insert(ctx, terminalRecord("t1"))
		require.NoError(t, err)

		found, err := store.DeleteOne(ctx, id)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, store.GetAll())

		found, err = store.DeleteOne(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("clearAll empties the store and persists", func(t *testing.T) {
		store, blob := newTestStore(t, 10)

		_, err := store.Insert(ctx, terminalRecord("t1"))
		require.NoError(t, err)
		require.NoError(t, store.ClearAll(ctx))

		assert.Empty(t, store.GetAll())
		assert.JSONEq(t, "[]", string(blob.data))
	})

	t.Run("export is a pure read", func(t *testing.T) {
		store, blob := newTestStore(t, 10)

		_, err := store.Insert(ctx, terminalRecord("t1"))
		require.NoError(t, err)
		saves := blob.saves

		data, err := store.Export()
		require.NoError(t, err)
		assert.Equal(t, saves, blob.saves)

		var exported []Record
		require.NoError(t, json.Unmarshal(data, &exported))
		require.Len(t, exported, 1)
		assert.Equal(t, "t1", exported[0].TaskID)
	})
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 10)

	for i := 0; i < 4; i++ {
		rec := NewRecord(KindForTest, "/data/Tests/x")
		rec.TaskID = fmt.Sprintf("t%d", i)
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		taskID := fmt.Sprintf("t%d", i)
		for j := 0; j < 25; j++ {
			wg.Add(1)
			msg := fmt.Sprintf("%s event %d", taskID, j)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, taskID, Fields{LogEvents: []LogEvent{{Message: msg}}})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		got, ok := store.Get(fmt.Sprintf("t%d", i))
		require.True(t, ok)
		assert.Len(t, got.LogEvents, 25)
	}
}
