// Package engine orchestrates synchronization between the local store and
// the remote API: pull merges remote records into the local store, push
// sends local patches upstream, and a full sync runs pulls across every
// collection under the throttle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/nutrisync/internal/events"
	"github.com/lewisedginton/nutrisync/internal/merge"
	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/internal/remote"
	"github.com/lewisedginton/nutrisync/internal/store"
	"github.com/lewisedginton/nutrisync/internal/throttle"
	"github.com/lewisedginton/nutrisync/pkg/logger"
	"github.com/lewisedginton/nutrisync/pkg/metrics"
)

// ErrSyncInProgress is returned to a manual caller when a full sync is
// already running.
var ErrSyncInProgress = errors.New("a full sync is already running")

// Engine is the sync orchestrator. All methods are safe for concurrent use;
// operations on the same record key serialize on a per-key lock so rapid
// edits cannot lose each other's writes.
type Engine struct {
	store    *store.Store
	client   *remote.Client
	throttle *throttle.Controller
	bus      *events.Bus
	metrics  *metrics.Metrics
	log      logger.Logger

	running atomic.Bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(s *store.Store, client *remote.Client, t *throttle.Controller, bus *events.Bus, m *metrics.Metrics, log logger.Logger) *Engine {
	return &Engine{
		store:    s,
		client:   client,
		throttle: t,
		bus:      bus,
		metrics:  m,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) keyLock(collection, key string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	name := collection + "/" + key
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

// CollectionResult reports one collection's progress within a full sync.
type CollectionResult struct {
	Completed bool
	Changed   int
	Err       error
}

// Result reports the outcome of a full sync pass.
type Result struct {
	Skipped     bool
	Collections map[string]*CollectionResult
	SyncedAt    model.Timestamp
}

// Pull fetches every remote record of a collection and merges it into the
// local store. It returns the number of local records that changed. Without
// credentials it is a no-op: anonymous use is legitimate and stays local.
func (e *Engine) Pull(ctx context.Context, collection string) (changed int, err error) {
	if !e.client.Authenticated() {
		return 0, nil
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.ObservePull(collection, changed, err)
		}
	}()

	records, err := e.client.List(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("pull %s: %w", collection, err)
	}

	switch collection {
	case model.CollectionDailyLogs:
		changed, err = e.pullDailyLogs(records)
	case model.CollectionMemories:
		changed, err = e.pullMemories(records)
	case model.CollectionProfile:
		changed, err = e.pullProfile(records)
	default:
		return 0, fmt.Errorf("pull: unknown collection %q", collection)
	}
	return changed, err
}

func (e *Engine) pullDailyLogs(records []remote.SyncRecord) (int, error) {
	pending := make(map[string]any)
	var result error

	for _, rec := range records {
		var rem model.DailyRecord
		if err := json.Unmarshal(rec.Data, &rem); err != nil {
			e.log.Warn("skipping undecodable remote record",
				logger.StringField("collection", model.CollectionDailyLogs),
				logger.StringField("key", rec.Key),
				logger.ErrorField(err))
			continue
		}
		rem.Normalize()
		if rem.Date == "" {
			rem.Date = rec.Key
		}
		// The wire timestamp is authoritative when the payload lags behind.
		if rec.LastModified > rem.LastModified {
			rem.LastModified = rec.LastModified
		}

		lock := e.keyLock(model.CollectionDailyLogs, rec.Key)
		lock.Lock()
		merged, changed, err := e.mergeDaily(rec.Key, &rem)
		lock.Unlock()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if changed {
			pending[rec.Key] = merged
		}
	}

	if len(pending) == 0 {
		return 0, result
	}
	skipped, err := e.store.BatchPut(model.CollectionDailyLogs, pending)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for key := range pending {
		if slices.Contains(skipped, key) {
			continue
		}
		e.bus.Publish(events.Change{Collection: model.CollectionDailyLogs, Key: key, Source: events.SourcePull})
	}
	return len(pending) - len(skipped), result
}

// mergeDaily combines one remote daily record with its local counterpart and
// reports whether the local store needs a write.
func (e *Engine) mergeDaily(key string, rem *model.DailyRecord) (*model.DailyRecord, bool, error) {
	var local model.DailyRecord
	err := e.store.Get(model.CollectionDailyLogs, key, &local)
	if errors.Is(err, store.ErrNotFound) {
		adopted := rem.Clone()
		adopted.FoodEntries = merge.WithoutTombstoned(adopted.FoodEntries, adopted.DeletedFoodIDs)
		adopted.ExerciseEntries = merge.WithoutTombstoned(adopted.ExerciseEntries, adopted.DeletedExerciseIDs)
		adopted.Summary = merge.Summary(adopted)
		return adopted, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read local record %s: %w", key, err)
	}

	sameCounts := len(local.FoodEntries) == len(rem.FoodEntries) &&
		len(local.ExerciseEntries) == len(rem.ExerciseEntries)
	if rem.LastModified <= local.LastModified && sameCounts {
		return nil, false, nil
	}

	if !local.HasContent() {
		// Entry-less local records still carry authority: their tombstones
		// take precedence over anything the remote re-introduces, and the
		// persisted timestamp never moves backwards.
		adopted := rem.Clone()
		adopted.Date = local.Date
		adopted.DeletedFoodIDs = merge.Tombstones(local.DeletedFoodIDs, rem.DeletedFoodIDs)
		adopted.DeletedExerciseIDs = merge.Tombstones(local.DeletedExerciseIDs, rem.DeletedExerciseIDs)
		adopted.FoodEntries = merge.WithoutTombstoned(adopted.FoodEntries, adopted.DeletedFoodIDs)
		adopted.ExerciseEntries = merge.WithoutTombstoned(adopted.ExerciseEntries, adopted.DeletedExerciseIDs)
		adopted.Summary = merge.Summary(adopted)
		if local.LastModified > adopted.LastModified {
			adopted.LastModified = local.LastModified
		}
		if reflect.DeepEqual(&local, adopted) {
			return nil, false, nil
		}
		return adopted, true, nil
	}

	merged := rem.Clone()
	merged.Date = local.Date
	merged.FoodEntries = merge.ByID(local.FoodEntries, rem.FoodEntries)
	merged.ExerciseEntries = merge.ByID(local.ExerciseEntries, rem.ExerciseEntries)
	merged.DeletedFoodIDs = merge.Tombstones(local.DeletedFoodIDs, rem.DeletedFoodIDs)
	merged.DeletedExerciseIDs = merge.Tombstones(local.DeletedExerciseIDs, rem.DeletedExerciseIDs)
	merged.FoodEntries = merge.WithoutTombstoned(merged.FoodEntries, merged.DeletedFoodIDs)
	merged.ExerciseEntries = merge.WithoutTombstoned(merged.ExerciseEntries, merged.DeletedExerciseIDs)
	merged.Summary = merge.Summary(merged)
	if local.LastModified > merged.LastModified {
		merged.LastModified = local.LastModified
	}

	if reflect.DeepEqual(&local, merged) {
		return nil, false, nil
	}
	return merged, true, nil
}

func (e *Engine) pullMemories(records []remote.SyncRecord) (int, error) {
	pending := make(map[string]any)
	var result error

	for _, rec := range records {
		var rem model.MemoryRecord
		if err := json.Unmarshal(rec.Data, &rem); err != nil {
			e.log.Warn("skipping undecodable remote record",
				logger.StringField("collection", model.CollectionMemories),
				logger.StringField("key", rec.Key),
				logger.ErrorField(err))
			continue
		}
		if rem.Topic == "" {
			rem.Topic = rec.Key
		}
		if rec.LastModified > rem.LastUpdated {
			rem.LastUpdated = rec.LastModified
		}

		lock := e.keyLock(model.CollectionMemories, rec.Key)
		lock.Lock()
		var local model.MemoryRecord
		err := e.store.Get(model.CollectionMemories, rec.Key, &local)
		adopt := errors.Is(err, store.ErrNotFound) || (err == nil && rem.LastUpdated > local.LastUpdated)
		lock.Unlock()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("read local memory %s: %w", rec.Key, err))
			continue
		}
		if adopt {
			pending[rec.Key] = rem
		}
	}

	if len(pending) == 0 {
		return 0, result
	}
	skipped, err := e.store.BatchPut(model.CollectionMemories, pending)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for key := range pending {
		if slices.Contains(skipped, key) {
			continue
		}
		e.bus.Publish(events.Change{Collection: model.CollectionMemories, Key: key, Source: events.SourcePull})
	}
	return len(pending) - len(skipped), result
}

func (e *Engine) pullProfile(records []remote.SyncRecord) (int, error) {
	for _, rec := range records {
		if rec.Key != model.ProfileKey {
			continue
		}
		var rem model.ProfileRecord
		if err := json.Unmarshal(rec.Data, &rem); err != nil {
			return 0, fmt.Errorf("decode remote profile: %w", err)
		}
		if rec.LastModified > rem.LastUpdated {
			rem.LastUpdated = rec.LastModified
		}

		lock := e.keyLock(model.CollectionProfile, model.ProfileKey)
		lock.Lock()
		defer lock.Unlock()

		var local model.ProfileRecord
		err := e.store.Get(model.CollectionProfile, model.ProfileKey, &local)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("read local profile: %w", err)
		}
		if err == nil && rem.LastUpdated <= local.LastUpdated {
			return 0, nil
		}
		if err := e.store.Put(model.CollectionProfile, model.ProfileKey, rem); err != nil {
			return 0, fmt.Errorf("store remote profile: %w", err)
		}
		e.bus.Publish(events.Change{Collection: model.CollectionProfile, Key: model.ProfileKey, Source: events.SourcePull})
		return 1, nil
	}
	return 0, nil
}

// PushDaily applies patch operations to a date's record, persists the result
// locally, and sends the changed fields upstream. The local write survives a
// failed remote call; the next pull reconciles.
func (e *Engine) PushDaily(ctx context.Context, date string, ops []model.DailyPatchOp) (*model.DailyRecord, error) {
	if len(ops) == 0 {
		return nil, errors.New("push: no patch operations")
	}

	lock := e.keyLock(model.CollectionDailyLogs, date)
	lock.Lock()
	defer lock.Unlock()

	rec := model.NewDailyRecord(date)
	err := e.store.Get(model.CollectionDailyLogs, date, rec)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("push %s: read local record: %w", date, err)
	}
	basedOn := rec.LastModified

	for _, op := range ops {
		op.Apply(rec)
	}
	if model.TouchesEntries(ops) {
		rec.Summary = merge.Summary(rec)
	}
	rec.LastModified = basedOn.Next()

	if err := e.store.Put(model.CollectionDailyLogs, date, rec); err != nil {
		return nil, fmt.Errorf("push %s: persist local record: %w", date, err)
	}
	e.bus.Publish(events.Change{Collection: model.CollectionDailyLogs, Key: date, Source: events.SourceLocal})

	fields := model.PatchFields(ops)
	if model.TouchesEntries(ops) {
		fields = appendMissing(fields, model.FieldSummary)
	}
	if err := e.pushRecord(ctx, model.CollectionDailyLogs, date, dailyPatch(rec, fields), rec.LastModified, basedOn); err != nil {
		return rec, err
	}
	return rec, nil
}

// SaveMemory writes a memory topic locally and pushes the full record.
func (e *Engine) SaveMemory(ctx context.Context, topic, content string) (*model.MemoryRecord, error) {
	if topic == "" {
		return nil, errors.New("save memory: topic must not be empty")
	}
	if len([]rune(content)) > model.MaxMemoryContentLen {
		return nil, fmt.Errorf("save memory: content exceeds %d characters", model.MaxMemoryContentLen)
	}

	lock := e.keyLock(model.CollectionMemories, topic)
	lock.Lock()
	defer lock.Unlock()

	var rec model.MemoryRecord
	err := e.store.Get(model.CollectionMemories, topic, &rec)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("save memory %s: read local record: %w", topic, err)
	}
	basedOn := rec.LastUpdated

	rec.Topic = topic
	rec.Content = content
	rec.Version++
	rec.LastUpdated = basedOn.Next()

	if err := e.store.Put(model.CollectionMemories, topic, rec); err != nil {
		return nil, fmt.Errorf("save memory %s: persist local record: %w", topic, err)
	}
	e.bus.Publish(events.Change{Collection: model.CollectionMemories, Key: topic, Source: events.SourceLocal})

	patch, _ := json.Marshal(rec)
	if err := e.pushRecord(ctx, model.CollectionMemories, topic, patch, rec.LastUpdated, basedOn); err != nil {
		return &rec, err
	}
	return &rec, nil
}

// SaveProfile writes the singleton profile locally and pushes it.
func (e *Engine) SaveProfile(ctx context.Context, profile model.ProfileRecord) (*model.ProfileRecord, error) {
	lock := e.keyLock(model.CollectionProfile, model.ProfileKey)
	lock.Lock()
	defer lock.Unlock()

	var current model.ProfileRecord
	err := e.store.Get(model.CollectionProfile, model.ProfileKey, &current)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("save profile: read local record: %w", err)
	}
	basedOn := current.LastUpdated
	profile.LastUpdated = basedOn.Next()

	if err := e.store.Put(model.CollectionProfile, model.ProfileKey, profile); err != nil {
		return nil, fmt.Errorf("save profile: persist local record: %w", err)
	}
	e.bus.Publish(events.Change{Collection: model.CollectionProfile, Key: model.ProfileKey, Source: events.SourceLocal})

	patch, _ := json.Marshal(profile)
	if err := e.pushRecord(ctx, model.CollectionProfile, model.ProfileKey, patch, profile.LastUpdated, basedOn); err != nil {
		return &profile, err
	}
	return &profile, nil
}

// RemoveEntry deletes an entry from a date's record: the entry leaves its
// collection, its id joins the tombstone set so no later merge resurrects
// it, and the change is pushed. If any step after the local snapshot fails,
// the record is restored exactly.
func (e *Engine) RemoveEntry(ctx context.Context, date string, entryType model.EntryType, entryID string) error {
	lock := e.keyLock(model.CollectionDailyLogs, date)
	lock.Lock()
	defer lock.Unlock()

	rec := model.NewDailyRecord(date)
	err := e.store.Get(model.CollectionDailyLogs, date, rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove entry: read local record: %w", err)
	}
	snapshot := rec.Clone()
	basedOn := rec.LastModified

	var op model.DailyPatchOp
	switch entryType {
	case model.EntryTypeFood:
		if !containsFood(rec.FoodEntries, entryID) {
			return nil
		}
		op = model.TombstoneFood{IDs: []string{entryID}}
	case model.EntryTypeExercise:
		if !containsExercise(rec.ExerciseEntries, entryID) {
			return nil
		}
		op = model.TombstoneExercise{IDs: []string{entryID}}
	default:
		return fmt.Errorf("remove entry: unknown entry type %q", entryType)
	}

	op.Apply(rec)
	rec.Summary = merge.Summary(rec)
	rec.LastModified = basedOn.Next()

	if err := e.store.Put(model.CollectionDailyLogs, date, rec); err != nil {
		return fmt.Errorf("remove entry: persist local record: %w", err)
	}
	e.bus.Publish(events.Change{Collection: model.CollectionDailyLogs, Key: date, Source: events.SourceLocal})

	fields := appendMissing(op.Fields(), model.FieldSummary)
	if err := e.pushRecord(ctx, model.CollectionDailyLogs, date, dailyPatch(rec, fields), rec.LastModified, basedOn); err != nil {
		if restoreErr := e.store.Put(model.CollectionDailyLogs, date, snapshot); restoreErr != nil {
			return multierror.Append(err, fmt.Errorf("rollback failed: %w", restoreErr))
		}
		e.bus.Publish(events.Change{Collection: model.CollectionDailyLogs, Key: date, Source: events.SourceLocal})
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// pushRecord sends one patch upstream. Without credentials the push is
// silently skipped; local state is already saved.
func (e *Engine) pushRecord(ctx context.Context, collection, key string, patch json.RawMessage, lastModified, basedOn model.Timestamp) (err error) {
	if !e.client.Authenticated() {
		return nil
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.ObservePush(collection, err)
		}
	}()
	err = e.client.PushPatches(ctx, collection, []remote.PushItem{{
		Key:          key,
		DataPatch:    patch,
		LastModified: lastModified,
		BasedOn:      basedOn,
	}})
	return err
}

// SyncAll pulls every synced collection concurrently. Automatic runs honor
// the throttle and quietly skip; manual runs bypass it but still refuse to
// overlap another full sync. Per-collection failures are aggregated, and the
// throttle timestamp only advances when every collection completed cleanly.
func (e *Engine) SyncAll(ctx context.Context, manual bool) (*Result, error) {
	res := &Result{Collections: make(map[string]*CollectionResult)}
	if !e.client.Authenticated() {
		res.Skipped = true
		return res, nil
	}
	if !manual && !e.throttle.ShouldAutoSync() {
		res.Skipped = true
		return res, nil
	}
	if !e.running.CompareAndSwap(false, true) {
		if manual {
			return nil, ErrSyncInProgress
		}
		res.Skipped = true
		return res, nil
	}
	defer e.running.Store(false)

	start := time.Now()
	var mu sync.Mutex
	var wg sync.WaitGroup
	var result error

	for _, collection := range model.SyncedCollections() {
		res.Collections[collection] = &CollectionResult{}
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()
			changed, err := e.Pull(ctx, collection)
			mu.Lock()
			defer mu.Unlock()
			cr := res.Collections[collection]
			cr.Completed = true
			cr.Changed = changed
			cr.Err = err
			if err != nil {
				result = multierror.Append(result, err)
			}
		}(collection)
	}
	wg.Wait()

	if e.metrics != nil {
		e.metrics.ObserveFullSync(time.Since(start))
	}
	if result != nil {
		return res, result
	}
	if err := e.throttle.RecordSyncTime(); err != nil {
		e.log.Warn("failed to record sync time", logger.ErrorField(err))
	}
	res.SyncedAt = model.Now()
	return res, nil
}

func dailyPatch(rec *model.DailyRecord, fields []string) json.RawMessage {
	patch := map[string]any{
		"date":         rec.Date,
		"lastModified": rec.LastModified,
	}
	for _, field := range fields {
		if v, ok := model.FieldValue(rec, field); ok {
			patch[field] = v
		}
	}
	data, _ := json.Marshal(patch)
	return data
}

func appendMissing(fields []string, field string) []string {
	for _, f := range fields {
		if f == field {
			return fields
		}
	}
	return append(fields, field)
}

func containsFood(entries []model.FoodEntry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}

func containsExercise(entries []model.ExerciseEntry, id string) bool {
	for _, e := range entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
