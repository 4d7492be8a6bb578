// Package model defines the record types synchronized between the local
// store and the remote API, and the typed patch operations used to mutate
// them.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Collection names as they appear both in the local store and in the remote
// sync paths (/sync/<collection>).
const (
	CollectionDailyLogs = "daily_logs"
	CollectionMemories  = "memories"
	CollectionProfile   = "profile"
	// CollectionSyncMeta holds engine bookkeeping (throttle markers); it is
	// local-only and never pulled or pushed.
	CollectionSyncMeta = "sync_meta"
)

// SyncedCollections lists the collections that participate in remote sync.
func SyncedCollections() []string {
	return []string{CollectionDailyLogs, CollectionMemories, CollectionProfile}
}

// ProfileKey is the singleton key of the profile record.
const ProfileKey = "profile"

// DateKeyLayout is the calendar-date key format of daily records.
const DateKeyLayout = "2006-01-02"

// Timestamp is a Unix-millisecond instant. Integer comparison is the
// last-writer-wins authority, so timestamps must survive JSON round-trips
// exactly; RFC3339 strings would not.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// Next returns a timestamp strictly after t, never earlier than now. It keeps
// lastModified monotonic even when the wall clock stalls or steps backwards
// between two rapid local writes.
func (t Timestamp) Next() Timestamp {
	n := Now()
	if n <= t {
		return t + 1
	}
	return n
}

// Time converts the timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// NewEntryID returns a globally unique entry identifier. IDs are assigned at
// creation and never reused.
func NewEntryID() string {
	return uuid.New().String()
}

// FoodEntry is one logged food item with its nutrition snapshot.
type FoodEntry struct {
	ID       string    `json:"entryId"`
	Name     string    `json:"name"`
	Calories float64   `json:"calories"`
	Protein  float64   `json:"protein"`
	Carbs    float64   `json:"carbs"`
	Fat      float64   `json:"fat"`
	LoggedAt Timestamp `json:"loggedAt,omitempty"`
}

// EntryID implements merge.Identifiable.
func (e FoodEntry) EntryID() string { return e.ID }

// ExerciseEntry is one logged exercise item.
type ExerciseEntry struct {
	ID              string    `json:"entryId"`
	Name            string    `json:"name"`
	DurationMinutes float64   `json:"durationMinutes"`
	CaloriesBurned  float64   `json:"caloriesBurned"`
	LoggedAt        Timestamp `json:"loggedAt,omitempty"`
}

// EntryID implements merge.Identifiable.
func (e ExerciseEntry) EntryID() string { return e.ID }

// Summary aggregates a day's entries. It is derived data: recomputable at any
// time from the non-tombstoned entries, never independently authoritative.
type Summary struct {
	Calories       float64 `json:"calories"`
	Protein        float64 `json:"protein"`
	Carbs          float64 `json:"carbs"`
	Fat            float64 `json:"fat"`
	CaloriesBurned float64 `json:"caloriesBurned"`
}

// DailyRecord is one calendar day's log, keyed by date (YYYY-MM-DD).
type DailyRecord struct {
	Date               string          `json:"date"`
	FoodEntries        []FoodEntry     `json:"foodEntries"`
	ExerciseEntries    []ExerciseEntry `json:"exerciseEntries"`
	Summary            Summary         `json:"summary"`
	Weight             float64         `json:"weight,omitempty"`
	ActivityLevel      string          `json:"activityLevel,omitempty"`
	DailyStatus        string          `json:"dailyStatus,omitempty"`
	BMR                float64         `json:"bmr,omitempty"`
	TDEE               float64         `json:"tdee,omitempty"`
	DeletedFoodIDs     []string        `json:"deletedFoodIds"`
	DeletedExerciseIDs []string        `json:"deletedExerciseIds"`
	LastModified       Timestamp       `json:"lastModified"`
}

// NewDailyRecord returns the empty skeleton for a date. Records are created
// lazily on first access and updated in place afterwards.
func NewDailyRecord(date string) *DailyRecord {
	return &DailyRecord{
		Date:               date,
		FoodEntries:        []FoodEntry{},
		ExerciseEntries:    []ExerciseEntry{},
		DeletedFoodIDs:     []string{},
		DeletedExerciseIDs: []string{},
	}
}

// Normalize fills nil collections with empty slices so a record adopted from
// a sparse remote payload always has the full local shape.
func (r *DailyRecord) Normalize() {
	if r.FoodEntries == nil {
		r.FoodEntries = []FoodEntry{}
	}
	if r.ExerciseEntries == nil {
		r.ExerciseEntries = []ExerciseEntry{}
	}
	if r.DeletedFoodIDs == nil {
		r.DeletedFoodIDs = []string{}
	}
	if r.DeletedExerciseIDs == nil {
		r.DeletedExerciseIDs = []string{}
	}
}

// HasContent reports whether the record carries any logged entries. Records
// without content are overwritten wholesale on pull rather than merged.
func (r *DailyRecord) HasContent() bool {
	return len(r.FoodEntries) > 0 || len(r.ExerciseEntries) > 0
}

// Clone returns a deep copy, used to snapshot a record before an optimistic
// mutation so a failed remote call can restore it exactly.
func (r *DailyRecord) Clone() *DailyRecord {
	c := *r
	c.FoodEntries = append([]FoodEntry(nil), r.FoodEntries...)
	c.ExerciseEntries = append([]ExerciseEntry(nil), r.ExerciseEntries...)
	c.DeletedFoodIDs = append([]string(nil), r.DeletedFoodIDs...)
	c.DeletedExerciseIDs = append([]string(nil), r.DeletedExerciseIDs...)
	return &c
}

// MaxMemoryContentLen bounds MemoryRecord content, in runes.
const MaxMemoryContentLen = 4000

// MemoryRecord is a per-topic free-text memory.
type MemoryRecord struct {
	Topic       string    `json:"topic"`
	Content     string    `json:"content"`
	Version     int64     `json:"version"`
	LastUpdated Timestamp `json:"lastUpdated"`
}

// ProfileRecord is the per-user singleton profile.
type ProfileRecord struct {
	Name        string    `json:"name,omitempty"`
	Age         int       `json:"age,omitempty"`
	HeightCm    float64   `json:"heightCm,omitempty"`
	WeightKg    float64   `json:"weightKg,omitempty"`
	Sex         string    `json:"sex,omitempty"`
	Goal        string    `json:"goal,omitempty"`
	LastUpdated Timestamp `json:"lastUpdated"`
}

// EntryType distinguishes the two entry collections of a DailyRecord.
type EntryType string

const (
	EntryTypeFood     EntryType = "food"
	EntryTypeExercise EntryType = "exercise"
)
