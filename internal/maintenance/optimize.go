package maintenance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type SuggestionKind string

const (
	// A single open slot with booked or blocked slots on both sides.
	KindIsolatedSlot SuggestionKind = "isolated_slot"
	// Two or more consecutive open slots between two booked slots.
	KindFillableGap SuggestionKind = "fillable_gap"
)

type Suggestion struct {
	Kind    SuggestionKind       `json:"kind"`
	Date    string               `json:"date"`
	Start   scheduling.TimeOfDay `json:"start"`
	End     scheduling.TimeOfDay `json:"end"`
	SlotIDs []uuid.UUID          `json:"slot_ids"`
	Message string               `json:"message"`
}

// Analyze looks for fragmentation in one day's slots. slots must belong to a
// single clinician and date and be ordered by start.
func Analyze(slots []scheduling.Slot) []Suggestion {
	suggestions := []Suggestion{}
	if len(slots) < 3 {
		return suggestions
	}
	date := slots[0].Date.Format(scheduling.DateLayout)

	for i := 0; i < len(slots); {
		if slots[i].Status != scheduling.SlotAvailable {
			i++
			continue
		}

		// run of open slots [i, j)
		j := i
		for j < len(slots) && slots[j].Status == scheduling.SlotAvailable {
			j++
		}
		if i == 0 || j == len(slots) {
			i = j
			continue
		}

		before, after := slots[i-1].Status, slots[j].Status
		run := slots[i:j]

		switch {
		case len(run) == 1 && occupied(before) && occupied(after):
			suggestions = append(suggestions, Suggestion{
				Kind:    KindIsolatedSlot,
				Date:    date,
				Start:   run[0].Start,
				End:     run[0].End,
				SlotIDs: []uuid.UUID{run[0].ID},
				Message: fmt.Sprintf("%s-%s is a single open slot between %s and %s slots", run[0].Start, run[0].End, before, after),
			})

		case len(run) >= 2 && before == scheduling.SlotBooked && after == scheduling.SlotBooked:
			ids := make([]uuid.UUID, len(run))
			var open time.Duration
			for k, s := range run {
				ids[k] = s.ID
				open += s.Duration()
			}
			suggestions = append(suggestions, Suggestion{
				Kind:    KindFillableGap,
				Date:    date,
				Start:   run[0].Start,
				End:     run[len(run)-1].End,
				SlotIDs: ids,
				Message: fmt.Sprintf("%d open slots (%s) between two bookings could be consolidated", len(run), open),
			})
		}

		i = j
	}

	return suggestions
}

func occupied(s scheduling.SlotStatus) bool {
	return s == scheduling.SlotBooked || s == scheduling.SlotBlocked
}
