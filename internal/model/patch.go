package model

// DailyPatchOp is one typed mutation of a DailyRecord. The engine applies the
// ops to the current local record, then serializes only the wire fields the
// ops declare into the partial update sent to the remote. A tagged set of
// operations keeps the merge exhaustive and statically checkable, instead of
// "whatever fields happen to be present" in a loose partial.
type DailyPatchOp interface {
	// Apply mutates the record in place.
	Apply(rec *DailyRecord)
	// Fields names the wire-level record fields the op touches.
	Fields() []string
}

// Wire field names of DailyRecord, shared by patch ops and the engine's
// patch serializer.
const (
	FieldFoodEntries        = "foodEntries"
	FieldExerciseEntries    = "exerciseEntries"
	FieldSummary            = "summary"
	FieldWeight             = "weight"
	FieldActivityLevel      = "activityLevel"
	FieldDailyStatus        = "dailyStatus"
	FieldBMR                = "bmr"
	FieldTDEE               = "tdee"
	FieldDeletedFoodIDs     = "deletedFoodIds"
	FieldDeletedExerciseIDs = "deletedExerciseIds"
)

// SetWeight sets the day's weight measurement.
type SetWeight struct{ Weight float64 }

func (op SetWeight) Apply(rec *DailyRecord) { rec.Weight = op.Weight }
func (op SetWeight) Fields() []string       { return []string{FieldWeight} }

// SetActivityLevel sets the day's activity level.
type SetActivityLevel struct{ Level string }

func (op SetActivityLevel) Apply(rec *DailyRecord) { rec.ActivityLevel = op.Level }
func (op SetActivityLevel) Fields() []string       { return []string{FieldActivityLevel} }

// SetDailyStatus sets the day's status marker.
type SetDailyStatus struct{ Status string }

func (op SetDailyStatus) Apply(rec *DailyRecord) { rec.DailyStatus = op.Status }
func (op SetDailyStatus) Fields() []string       { return []string{FieldDailyStatus} }

// SetMetabolicFigures sets the derived metabolic scalars.
type SetMetabolicFigures struct {
	BMR  float64
	TDEE float64
}

func (op SetMetabolicFigures) Apply(rec *DailyRecord) {
	rec.BMR = op.BMR
	rec.TDEE = op.TDEE
}
func (op SetMetabolicFigures) Fields() []string { return []string{FieldBMR, FieldTDEE} }

// AddFoodEntry appends one food entry. An entry whose id is already present
// or already tombstoned is ignored.
type AddFoodEntry struct{ Entry FoodEntry }

func (op AddFoodEntry) Apply(rec *DailyRecord) {
	if containsID(rec.DeletedFoodIDs, op.Entry.ID) {
		return
	}
	for _, e := range rec.FoodEntries {
		if e.ID == op.Entry.ID {
			return
		}
	}
	rec.FoodEntries = append(rec.FoodEntries, op.Entry)
}
func (op AddFoodEntry) Fields() []string { return []string{FieldFoodEntries, FieldSummary} }

// AddExerciseEntry appends one exercise entry, with the same id guards as
// AddFoodEntry.
type AddExerciseEntry struct{ Entry ExerciseEntry }

func (op AddExerciseEntry) Apply(rec *DailyRecord) {
	if containsID(rec.DeletedExerciseIDs, op.Entry.ID) {
		return
	}
	for _, e := range rec.ExerciseEntries {
		if e.ID == op.Entry.ID {
			return
		}
	}
	rec.ExerciseEntries = append(rec.ExerciseEntries, op.Entry)
}
func (op AddExerciseEntry) Fields() []string { return []string{FieldExerciseEntries, FieldSummary} }

// ReplaceFoodEntries replaces the whole food entry collection.
type ReplaceFoodEntries struct{ Entries []FoodEntry }

func (op ReplaceFoodEntries) Apply(rec *DailyRecord) {
	rec.FoodEntries = append([]FoodEntry{}, op.Entries...)
}
func (op ReplaceFoodEntries) Fields() []string { return []string{FieldFoodEntries, FieldSummary} }

// ReplaceExerciseEntries replaces the whole exercise entry collection.
type ReplaceExerciseEntries struct{ Entries []ExerciseEntry }

func (op ReplaceExerciseEntries) Apply(rec *DailyRecord) {
	rec.ExerciseEntries = append([]ExerciseEntry{}, op.Entries...)
}
func (op ReplaceExerciseEntries) Fields() []string {
	return []string{FieldExerciseEntries, FieldSummary}
}

// TombstoneFood removes entries from the food collection and records their
// ids in the tombstone set. Tombstone insertion is idempotent and permanent.
type TombstoneFood struct{ IDs []string }

func (op TombstoneFood) Apply(rec *DailyRecord) {
	for _, id := range op.IDs {
		if !containsID(rec.DeletedFoodIDs, id) {
			rec.DeletedFoodIDs = append(rec.DeletedFoodIDs, id)
		}
	}
	kept := rec.FoodEntries[:0]
	for _, e := range rec.FoodEntries {
		if !containsID(op.IDs, e.ID) {
			kept = append(kept, e)
		}
	}
	rec.FoodEntries = kept
}
func (op TombstoneFood) Fields() []string {
	return []string{FieldFoodEntries, FieldDeletedFoodIDs, FieldSummary}
}

// TombstoneExercise is TombstoneFood for the exercise collection.
type TombstoneExercise struct{ IDs []string }

func (op TombstoneExercise) Apply(rec *DailyRecord) {
	for _, id := range op.IDs {
		if !containsID(rec.DeletedExerciseIDs, id) {
			rec.DeletedExerciseIDs = append(rec.DeletedExerciseIDs, id)
		}
	}
	kept := rec.ExerciseEntries[:0]
	for _, e := range rec.ExerciseEntries {
		if !containsID(op.IDs, e.ID) {
			kept = append(kept, e)
		}
	}
	rec.ExerciseEntries = kept
}
func (op TombstoneExercise) Fields() []string {
	return []string{FieldExerciseEntries, FieldDeletedExerciseIDs, FieldSummary}
}

// ReplaceSummary overwrites the stored summary. The engine recomputes the
// summary after any entry-structural op, so this is only needed when a caller
// carries a summary computed elsewhere.
type ReplaceSummary struct{ Summary Summary }

func (op ReplaceSummary) Apply(rec *DailyRecord) { rec.Summary = op.Summary }
func (op ReplaceSummary) Fields() []string       { return []string{FieldSummary} }

// TouchesEntries reports whether any op changes an entry collection, in which
// case the engine recomputes the summary before persisting.
func TouchesEntries(ops []DailyPatchOp) bool {
	for _, op := range ops {
		for _, f := range op.Fields() {
			if f == FieldFoodEntries || f == FieldExerciseEntries {
				return true
			}
		}
	}
	return false
}

// PatchFields returns the union of wire fields touched by ops, in first-seen
// order.
func PatchFields(ops []DailyPatchOp) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, op := range ops {
		for _, f := range op.Fields() {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// FieldValue extracts the current value of a wire field from a record, for
// building the partial update payload.
func FieldValue(rec *DailyRecord, field string) (any, bool) {
	switch field {
	case FieldFoodEntries:
		return rec.FoodEntries, true
	case FieldExerciseEntries:
		return rec.ExerciseEntries, true
	case FieldSummary:
		return rec.Summary, true
	case FieldWeight:
		return rec.Weight, true
	case FieldActivityLevel:
		return rec.ActivityLevel, true
	case FieldDailyStatus:
		return rec.DailyStatus, true
	case FieldBMR:
		return rec.BMR, true
	case FieldTDEE:
		return rec.TDEE, true
	case FieldDeletedFoodIDs:
		return rec.DeletedFoodIDs, true
	case FieldDeletedExerciseIDs:
		return rec.DeletedExerciseIDs, true
	}
	return nil, false
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
