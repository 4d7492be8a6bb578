// Package merge holds the pure functions the sync engine uses to reconcile
// entry collections and derived aggregates. Nothing here touches storage or
// the network.
package merge

import "github.com/lewisedginton/nutrisync/internal/model"

// Identifiable is an entry carrying a globally unique identifier.
type Identifiable interface {
	EntryID() string
}

// ByID unions two entry collections by identifier. The map is seeded from
// local, then remote entries overwrite on identifier collision: the remote
// value wins a conflict, but entries unique to either side survive. Result
// order keeps local order first, then remote-only entries in remote order;
// order is not contractually significant.
func ByID[T Identifiable](local, remote []T) []T {
	index := make(map[string]int, len(local))
	merged := make([]T, 0, len(local)+len(remote))

	for _, e := range local {
		index[e.EntryID()] = len(merged)
		merged = append(merged, e)
	}
	for _, e := range remote {
		if i, ok := index[e.EntryID()]; ok {
			merged[i] = e
			continue
		}
		index[e.EntryID()] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

// WithoutTombstoned filters out entries whose id is in the tombstone set. A
// tombstone always takes precedence over a merge-introduced entry.
func WithoutTombstoned[T Identifiable](entries []T, tombstones []string) []T {
	if len(tombstones) == 0 || len(entries) == 0 {
		return entries
	}
	dead := make(map[string]bool, len(tombstones))
	for _, id := range tombstones {
		dead[id] = true
	}
	kept := make([]T, 0, len(entries))
	for _, e := range entries {
		if !dead[e.EntryID()] {
			kept = append(kept, e)
		}
	}
	return kept
}

// Summary recomputes a record's aggregate totals from its entry collections.
// Only non-tombstoned entries contribute; no other record field is read, so
// the summary is always recomputable from its source entries alone.
func Summary(rec *model.DailyRecord) model.Summary {
	var s model.Summary
	for _, e := range WithoutTombstoned(rec.FoodEntries, rec.DeletedFoodIDs) {
		s.Calories += e.Calories
		s.Protein += e.Protein
		s.Carbs += e.Carbs
		s.Fat += e.Fat
	}
	for _, e := range WithoutTombstoned(rec.ExerciseEntries, rec.DeletedExerciseIDs) {
		s.CaloriesBurned += e.CaloriesBurned
	}
	return s
}

// Tombstones unions two tombstone sets. Tombstones are append-only: an id in
// either set is in the result.
func Tombstones(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, id := range local {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range remote {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
