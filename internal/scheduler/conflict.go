package scheduler

// Overlaps reports whether two half-open slots share any minute.
func Overlaps(a, b Slot) bool {
	return a.Start < b.End && b.Start < a.End
}

// Conflict pairs a candidate slot with an existing slot it overlaps.
type Conflict struct {
	Candidate Slot
	Existing  Slot
}

// DetectConflicts lists every candidate that overlaps one of the existing slots.
func DetectConflicts(existing []Slot, candidates []Slot) []Conflict {
	var conflicts []Conflict
	for _, candidate := range candidates {
		for _, slot := range existing {
			if Overlaps(candidate, slot) {
				conflicts = append(conflicts, Conflict{Candidate: candidate, Existing: slot})
				break
			}
		}
	}
	return conflicts
}

// WithoutConflicts returns the candidates that overlap none of the existing slots.
func WithoutConflicts(existing []Slot, candidates []Slot) []Slot {
	kept := make([]Slot, 0, len(candidates))
	for _, candidate := range candidates {
		free := true
		for _, slot := range existing {
			if Overlaps(candidate, slot) {
				free = false
				break
			}
		}
		if free {
			kept = append(kept, candidate)
		}
	}
	return kept
}
