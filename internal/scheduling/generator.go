package scheduling

import "time"

// Generate expands the active templates over every date in r.
// Dates whose weekday has no active template produce nothing. The result is
// deterministic and carries no ids; the repository assigns them on insert.
// Callers must only pass dates that hold no slots yet.
func Generate(templates []AvailabilityTemplate, r DateRange) []Slot {
	byWeekday := make(map[time.Weekday]AvailabilityTemplate, len(templates))
	for _, t := range templates {
		if !t.IsActive {
			continue
		}
		if _, ok := byWeekday[t.Weekday]; !ok {
			byWeekday[t.Weekday] = t
		}
	}

	var slots []Slot
	for _, date := range r.Days() {
		t, ok := byWeekday[date.Weekday()]
		if !ok {
			continue
		}
		slots = append(slots, GenerateDay(t, date)...)
	}
	return slots
}

// GenerateDay walks the working window in steps of duration+buffer. A step that
// intersects a break is emitted with status break. Only slots that end within
// working hours are emitted.
func GenerateDay(t AvailabilityTemplate, date time.Time) []Slot {
	if t.SlotDuration <= 0 || t.BufferTime < 0 || t.WorkStart >= t.WorkEnd {
		return nil
	}

	date = DateOf(date)
	step := t.SlotDuration + t.BufferTime

	var slots []Slot
	for start := t.WorkStart; start.Add(t.SlotDuration) <= t.WorkEnd; start = start.Add(step) {
		end := start.Add(t.SlotDuration)
		status := SlotAvailable
		if overlapsBreak(start, end, t.Breaks) {
			status = SlotBreak
		}
		slots = append(slots, Slot{
			ClinicianID: t.ClinicianID,
			Date:        date,
			Start:       start,
			End:         end,
			Status:      status,
		})
	}
	return slots
}

func overlapsBreak(start, end TimeOfDay, breaks []Break) bool {
	for _, b := range breaks {
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}
