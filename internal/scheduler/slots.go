package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/clinic-scheduler/internal/calendar"
)

// DefaultSlotDuration is the length of a generated appointment slot.
const DefaultSlotDuration = time.Hour

// ErrInvalidRange is returned when an availability range ends at or before its start.
var ErrInvalidRange = errors.New("scheduler: end time must be greater than start time")

// Range is a doctor's declared availability window within one day.
type Range struct {
	Start calendar.TimeOfDay
	End   calendar.TimeOfDay
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, r.Start, r.End)
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Slot is a fixed length window produced from a Range.
type Slot struct {
	Start calendar.TimeOfDay
	End   calendar.TimeOfDay
}

// Slice cuts r into consecutive slots of the given duration starting at
// r.Start. A trailing period shorter than duration is dropped. Durations that
// are not a whole number of minutes produce no slots.
func Slice(r Range, duration time.Duration) []Slot {
	if duration < time.Minute || duration%time.Minute != 0 || r.Validate() != nil {
		return nil
	}

	var slots []Slot
	cursor := r.Start
	for {
		next, ok := cursor.Add(duration)
		if !ok || next > r.End {
			break
		}
		slots = append(slots, Slot{Start: cursor, End: next})
		cursor = next
	}
	return slots
}

// SliceAll slices every range independently and concatenates the results in
// input order. Overlapping ranges yield overlapping slots.
func SliceAll(ranges []Range, duration time.Duration) []Slot {
	var slots []Slot
	for _, r := range ranges {
		slots = append(slots, Slice(r, duration)...)
	}
	return slots
}
