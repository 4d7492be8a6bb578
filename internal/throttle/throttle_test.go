package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/internal/store"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	s, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	return NewController(s, 5*time.Minute)
}

func TestShouldAutoSyncFirstRun(t *testing.T) {
	c := newTestController(t)
	assert.True(t, c.ShouldAutoSync())
}

func TestSessionFlagBlocksRepeatSync(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.RecordSyncTime())
	assert.False(t, c.ShouldAutoSync())
}

func TestCooldownGating(t *testing.T) {
	c := newTestController(t)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.RecordSyncTime())

	// A new session two minutes later is still inside the cooldown.
	c.syncedSession = false
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, c.ShouldAutoSync())

	// Six minutes later the cooldown has elapsed.
	c.now = func() time.Time { return base.Add(6 * time.Minute) }
	assert.True(t, c.ShouldAutoSync())
}

func TestClearResetsBothMarkers(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.RecordSyncTime())
	assert.False(t, c.ShouldAutoSync())

	require.NoError(t, c.Clear())
	assert.True(t, c.ShouldAutoSync())
}

func TestCooldownPersistsAcrossControllers(t *testing.T) {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	dir := t.TempDir()
	s, err := store.Open(dir, log)
	require.NoError(t, err)

	first := NewController(s, 5*time.Minute)
	require.NoError(t, first.RecordSyncTime())

	// A fresh controller over the same store sees the persisted marker.
	second := NewController(s, 5*time.Minute)
	assert.False(t, second.ShouldAutoSync())
}
