package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
}

func TestStorePutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger(t))
	require.NoError(t, err)
	require.True(t, s.Ready())

	rec := model.NewDailyRecord("2026-08-30")
	rec.Weight = 82.5
	rec.LastModified = model.Now()
	require.NoError(t, s.Put(model.CollectionDailyLogs, rec.Date, rec))

	var got model.DailyRecord
	require.NoError(t, s.Get(model.CollectionDailyLogs, "2026-08-30", &got))
	assert.Equal(t, 82.5, got.Weight)
	assert.Equal(t, rec.LastModified, got.LastModified)

	require.NoError(t, s.Delete(model.CollectionDailyLogs, "2026-08-30"))
	err = s.Get(model.CollectionDailyLogs, "2026-08-30", &got)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(model.CollectionDailyLogs, "2026-08-30"))
}

func TestStoreGetMissing(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	var got model.MemoryRecord
	assert.ErrorIs(t, s.Get(model.CollectionMemories, "training", &got), ErrNotFound)
}

func TestStoreKeysAndListAll(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	for _, date := range []string{"2026-08-28", "2026-08-29", "2026-08-30"} {
		rec := model.NewDailyRecord(date)
		rec.LastModified = model.Now()
		require.NoError(t, s.Put(model.CollectionDailyLogs, date, rec))
	}

	keys, err := s.Keys(model.CollectionDailyLogs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026-08-28", "2026-08-29", "2026-08-30"}, keys)

	all, err := s.ListAll(model.CollectionDailyLogs)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "2026-08-29")

	// Collections are isolated: memories stay empty.
	keys, err = s.Keys(model.CollectionMemories)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreBatchPutSkipsUnmarshalable(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	items := map[string]any{
		"good":  model.MemoryRecord{Topic: "good", Content: "fine", Version: 1},
		"bad":   func() {}, // not JSON-marshalable
		"":      model.MemoryRecord{Topic: "anon"},
		"empty": nil,
	}
	skipped, err := s.BatchPut(model.CollectionMemories, items)
	assert.ElementsMatch(t, []string{"bad", "", "empty"}, skipped)
	require.Error(t, err)

	var got model.MemoryRecord
	require.NoError(t, s.Get(model.CollectionMemories, "good", &got))
	assert.Equal(t, "fine", got.Content)
}

func TestStoreClear(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Put(model.CollectionMemories, "a", model.MemoryRecord{Topic: "a"}))
	require.NoError(t, s.Put(model.CollectionMemories, "b", model.MemoryRecord{Topic: "b"}))
	require.NoError(t, s.Clear(model.CollectionMemories))

	keys, err := s.Keys(model.CollectionMemories)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOpenRecreatesCorruptStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("{not json"), 0o644))
	stale := filepath.Join(dir, model.CollectionDailyLogs)
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "2026-01-01.json"), []byte("{}"), 0o644))

	s, err := Open(dir, testLogger(t))
	require.NoError(t, err)
	assert.True(t, s.Ready())

	// Reset wiped the stale records alongside the broken manifest.
	keys, err := s.Keys(model.CollectionDailyLogs)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte(`{"schemaVersion": 99}`), 0o644))

	// The reset pass recreates the manifest at the supported version.
	s, err := Open(dir, testLogger(t))
	require.NoError(t, err)
	assert.True(t, s.Ready())
}

func TestManagerSharesStores(t *testing.T) {
	m := NewManager(testLogger(t))
	dir := t.TempDir()

	var wg sync.WaitGroup
	stores := make([]*Store, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(dir)
			assert.NoError(t, err)
			stores[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range stores[1:] {
		assert.Same(t, stores[0], s)
	}
	for i := 0; i < 8; i++ {
		m.Release(dir)
	}

	// After the last release a new acquire opens a fresh store.
	s2, err := m.Acquire(dir)
	require.NoError(t, err)
	assert.NotSame(t, stores[0], s2)
	m.Release(dir)
}
