// Package throttle gates automatic background synchronization behind a
// per-session flag and a wall-clock cooldown persisted across restarts.
package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/internal/store"
)

const lastSyncKey = "last_sync"

// DefaultCooldown is the minimum wall-clock gap between automatic syncs.
const DefaultCooldown = 5 * time.Minute

type syncMarker struct {
	SyncedAt model.Timestamp `json:"syncedAt"`
}

// Controller decides whether an automatic sync may run. Manual syncs are
// expected to bypass it entirely.
type Controller struct {
	store    *store.Store
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	syncedSession bool
}

func NewController(s *store.Store, cooldown time.Duration) *Controller {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Controller{store: s, cooldown: cooldown, now: time.Now}
}

// ShouldAutoSync reports whether an automatic sync is due. It is false when
// a sync already ran this session, or when the persisted last-sync time is
// within the cooldown window.
func (c *Controller) ShouldAutoSync() bool {
	c.mu.Lock()
	synced := c.syncedSession
	c.mu.Unlock()
	if synced {
		return false
	}

	var marker syncMarker
	err := c.store.Get(model.CollectionSyncMeta, lastSyncKey, &marker)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		// An unreadable marker should not block syncing forever.
		return true
	}
	return c.now().Sub(marker.SyncedAt.Time()) >= c.cooldown
}

// RecordSyncTime marks a successful full sync: it sets the session flag and
// persists the current time as the last-sync marker.
func (c *Controller) RecordSyncTime() error {
	c.mu.Lock()
	c.syncedSession = true
	c.mu.Unlock()

	marker := syncMarker{SyncedAt: model.Timestamp(c.now().UnixMilli())}
	if err := c.store.Put(model.CollectionSyncMeta, lastSyncKey, marker); err != nil {
		return fmt.Errorf("failed to persist last-sync marker: %w", err)
	}
	return nil
}

// Clear removes both throttle markers. Used by diagnostics to force the next
// automatic sync through.
func (c *Controller) Clear() error {
	c.mu.Lock()
	c.syncedSession = false
	c.mu.Unlock()

	if err := c.store.Delete(model.CollectionSyncMeta, lastSyncKey); err != nil {
		return fmt.Errorf("failed to remove last-sync marker: %w", err)
	}
	return nil
}
