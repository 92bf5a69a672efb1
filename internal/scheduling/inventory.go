package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
)

type inventoryRepository interface {
	TemplateRepository
	SlotRepository
}

// MaxRangeDays bounds how many dates one generation or range query may span.
const MaxRangeDays = 366

// Inventory generates and serves a clinician's persisted slots.
type Inventory struct {
	repo   inventoryRepository
	locker redisclient.Locker
	log    zerolog.Logger
}

type InventoryOption func(*Inventory)

// WithGenerationLocker serializes generation per clinician across processes.
// Without it generation is only serialized within this process.
func WithGenerationLocker(l redisclient.Locker) InventoryOption {
	return func(inv *Inventory) {
		if l != nil {
			inv.locker = l
		}
	}
}

func NewInventory(repo inventoryRepository, log zerolog.Logger, opts ...InventoryOption) *Inventory {
	inv := &Inventory{
		repo:   repo,
		locker: redisclient.NewLocalLocker(),
		log:    log.With().Str("component", "slot_inventory").Logger(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

type GenerationResult struct {
	ClinicianID    uuid.UUID
	DateRange      DateRange
	GeneratedCount int
	SlotIDs        []uuid.UUID
	FilledDates    []time.Time // dates that were empty and now hold slots
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: DateOf(start), End: DateOf(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, &ValidationError{Violations: []string{
			fmt.Sprintf("end date %s is before start date %s", r.End.Format(DateLayout), r.Start.Format(DateLayout)),
		}}
	}
	if n := r.Len(); n > MaxRangeDays {
		return DateRange{}, &ValidationError{Violations: []string{
			fmt.Sprintf("date range spans %d days, at most %d allowed", n, MaxRangeDays),
		}}
	}
	return r, nil
}

// GenerateSlots materialises slots for every date in [start, end] that has an
// active template and no slots yet. Dates already populated are left untouched,
// so repeated calls are no-ops.
//
// Runs for one clinician are serialized; a caller that finds a run in progress
// gets ErrOperationInProgress.
func (inv *Inventory) GenerateSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (result *GenerationResult, err error) {
	r, err := NewDateRange(start, end)
	if err != nil {
		return nil, err
	}

	err = lockError(inv.locker.WithLock(ctx, redisclient.ClinicianKey(clinicianID), func(ctx context.Context) error {
		result, err = inv.generate(ctx, clinicianID, r)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// generate fills the empty dates of r. The read of existing slots and the insert
// are separate statements, so callers must hold the clinician's lock.
func (inv *Inventory) generate(ctx context.Context, clinicianID uuid.UUID, r DateRange) (*GenerationResult, error) {
	templates, err := inv.repo.ListTemplates(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	counts, err := inv.repo.CountSlotsByDate(ctx, clinicianID, r)
	if err != nil {
		return nil, fmt.Errorf("count existing slots: %w", err)
	}

	result := &GenerationResult{ClinicianID: clinicianID, DateRange: r}

	var pending []Slot
	for _, day := range r.Days() {
		if counts[day] > 0 {
			continue
		}
		daySlots := Generate(templates, DateRange{Start: day, End: day})
		if len(daySlots) == 0 {
			continue
		}
		pending = append(pending, daySlots...)
		result.FilledDates = append(result.FilledDates, day)
	}

	if len(pending) == 0 {
		return result, nil
	}

	ids, err := inv.repo.InsertSlots(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}
	result.SlotIDs = ids
	result.GeneratedCount = len(ids)
	metrics.AddSlotsGenerated(result.GeneratedCount)

	inv.log.Info().
		Str("clinician_id", clinicianID.String()).
		Str("start_date", r.Start.Format(DateLayout)).
		Str("end_date", r.End.Format(DateLayout)).
		Int("generated", result.GeneratedCount).
		Int("dates", len(result.FilledDates)).
		Msg("slots generated")

	return result, nil
}

// GetAvailableSlots lists the bookable slots of one day ordered by start.
func (inv *Inventory) GetAvailableSlots(ctx context.Context, clinicianID uuid.UUID, date time.Time) ([]Slot, error) {
	d := DateOf(date)
	slots, err := inv.repo.ListSlots(ctx, clinicianID, DateRange{Start: d, End: d}, SlotAvailable)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// GetAvailableSlotsInRange groups bookable slots by date. Dates without any are absent.
func (inv *Inventory) GetAvailableSlotsInRange(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (map[time.Time][]Slot, error) {
	r, err := NewDateRange(start, end)
	if err != nil {
		return nil, err
	}

	slots, err := inv.repo.ListSlots(ctx, clinicianID, r, SlotAvailable)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	byDate := make(map[time.Time][]Slot)
	for _, s := range slots {
		byDate[s.Date] = append(byDate[s.Date], s)
	}
	return byDate, nil
}

// ListDaySlots returns every slot of one day regardless of status.
func (inv *Inventory) ListDaySlots(ctx context.Context, clinicianID uuid.UUID, date time.Time) ([]Slot, error) {
	d := DateOf(date)
	slots, err := inv.repo.ListSlots(ctx, clinicianID, DateRange{Start: d, End: d}, "")
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}
