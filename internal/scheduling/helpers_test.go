package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// monday is 2025-03-03, a Monday.
var monday = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

func weekdayTemplate(clinicianID uuid.UUID, day time.Weekday) AvailabilityTemplate {
	return AvailabilityTemplate{
		ClinicianID:  clinicianID,
		Weekday:      day,
		WorkStart:    MustTimeOfDay("09:00"),
		WorkEnd:      MustTimeOfDay("17:00"),
		SlotDuration: 30,
		IsActive:     true,
	}
}

// seedSlots inserts n consecutive 30 minute available slots on monday.
func seedSlots(t *testing.T, repo *MemoryRepository, clinicianID uuid.UUID, n int) []Slot {
	t.Helper()

	var slots []Slot
	start := MustTimeOfDay("09:00")
	for i := 0; i < n; i++ {
		s := start.Add(i * 30)
		slots = append(slots, Slot{
			ClinicianID: clinicianID,
			Date:        monday,
			Start:       s,
			End:         s.Add(30),
			Status:      SlotAvailable,
		})
	}
	_, err := repo.InsertSlots(context.Background(), slots)
	require.NoError(t, err)

	stored, err := repo.ListSlots(context.Background(), clinicianID, DateRange{Start: monday, End: monday}, "")
	require.NoError(t, err)
	require.Len(t, stored, n)
	return stored
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func newTestCoordinator(store bookingStore, opts ...CoordinatorOption) *Coordinator {
	return NewCoordinator(store, zerolog.Nop(), opts...)
}
