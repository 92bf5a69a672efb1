package scheduling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
)

func newInventoryFixture(t *testing.T) (*Inventory, *MemoryRepository, uuid.UUID) {
	t.Helper()
	repo := NewMemoryRepository()
	clinician := uuid.New()
	store := NewTemplateStore(repo, zerolog.Nop())
	for d := time.Monday; d <= time.Friday; d++ {
		_, err := store.SetTemplate(context.Background(), weekdayTemplate(clinician, d))
		require.NoError(t, err)
	}
	return NewInventory(repo, zerolog.Nop()), repo, clinician
}

func TestInventory_GenerateSlotsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inv, _, clinician := newInventoryFixture(t)
	sunday := monday.AddDate(0, 0, 6)

	first, err := inv.GenerateSlots(ctx, clinician, monday, sunday)
	require.NoError(t, err)
	assert.Equal(t, 80, first.GeneratedCount)
	assert.Len(t, first.SlotIDs, 80)
	assert.Len(t, first.FilledDates, 5)

	second, err := inv.GenerateSlots(ctx, clinician, monday, sunday)
	require.NoError(t, err)
	assert.Equal(t, 0, second.GeneratedCount)
	assert.Empty(t, second.FilledDates)

	all, err := inv.GetAvailableSlotsInRange(ctx, clinician, monday, sunday)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestInventory_GenerateSlotsSkipsPopulatedDates(t *testing.T) {
	ctx := context.Background()
	inv, repo, clinician := newInventoryFixture(t)

	seedSlots(t, repo, clinician, 1)

	res, err := inv.GenerateSlots(ctx, clinician, monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 16, res.GeneratedCount)
	require.Len(t, res.FilledDates, 1)
	assert.True(t, res.FilledDates[0].Equal(monday.AddDate(0, 0, 1)))

	day, err := inv.ListDaySlots(ctx, clinician, monday)
	require.NoError(t, err)
	assert.Len(t, day, 1)
}

func TestInventory_GenerateSlotsRejectsInvertedRange(t *testing.T) {
	inv, _, clinician := newInventoryFixture(t)

	_, err := inv.GenerateSlots(context.Background(), clinician, monday, monday.AddDate(0, 0, -1))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestInventory_GenerateSlotsRejectsOverlongRange(t *testing.T) {
	inv, repo, clinician := newInventoryFixture(t)

	_, err := inv.GenerateSlots(context.Background(), clinician, monday, monday.AddDate(0, 0, MaxRangeDays))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations[0], "at most 366")

	_, err = inv.GenerateSlots(context.Background(), clinician, monday, monday.AddDate(400, 0, 0))
	assert.ErrorAs(t, err, &verr)

	counts, err := repo.CountSlotsByDate(context.Background(), clinician, DateRange{Start: monday, End: monday.AddDate(0, 0, 6)})
	require.NoError(t, err)
	assert.Empty(t, counts)

	res, err := inv.GenerateSlots(context.Background(), clinician, monday, monday.AddDate(0, 0, MaxRangeDays-1))
	require.NoError(t, err)
	assert.Len(t, res.DateRange.Days(), MaxRangeDays)
}

// countHookRepo runs onCount once, between a generation's template read and
// its insert.
type countHookRepo struct {
	*MemoryRepository
	onCount func()
}

func (r *countHookRepo) CountSlotsByDate(ctx context.Context, clinicianID uuid.UUID, dr DateRange) (map[time.Time]int, error) {
	if hook := r.onCount; hook != nil {
		r.onCount = nil
		hook()
	}
	return r.MemoryRepository.CountSlotsByDate(ctx, clinicianID, dr)
}

func TestInventory_ConcurrentGenerationForClinicianIsSerialized(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryRepository()
	clinician := uuid.New()
	store := NewTemplateStore(mem, zerolog.Nop())
	_, err := store.SetTemplate(ctx, weekdayTemplate(clinician, time.Monday))
	require.NoError(t, err)

	repo := &countHookRepo{MemoryRepository: mem}
	inv := NewInventory(repo, zerolog.Nop())

	var competing error
	repo.onCount = func() {
		longer := weekdayTemplate(clinician, time.Monday)
		longer.SlotDuration = 45
		_, err := store.SetTemplate(ctx, longer)
		require.NoError(t, err)
		_, competing = inv.GenerateSlots(ctx, clinician, monday, monday)
	}

	res, err := inv.GenerateSlots(ctx, clinician, monday, monday)
	require.NoError(t, err)
	assert.Equal(t, 16, res.GeneratedCount)
	assert.ErrorIs(t, competing, ErrOperationInProgress)

	day, err := inv.ListDaySlots(ctx, clinician, monday)
	require.NoError(t, err)
	require.Len(t, day, 16)
	for i := 1; i < len(day); i++ {
		assert.LessOrEqual(t, day[i-1].End, day[i].Start, "slots %d and %d overlap", i-1, i)
	}

	// the lock is released once the first run returns
	_, err = inv.GenerateSlots(ctx, clinician, monday, monday)
	assert.NoError(t, err)
}

type downLocker struct{}

func (downLocker) WithLock(_ context.Context, key string, _ func(context.Context) error) error {
	return fmt.Errorf("%w: acquire lock %s: %w", redisclient.ErrLockUnavailable, key, errors.New("i/o timeout"))
}

func TestInventory_GenerateSlotsLockBackendDown(t *testing.T) {
	repo := NewMemoryRepository()
	clinician := uuid.New()
	_, err := NewTemplateStore(repo, zerolog.Nop()).SetTemplate(context.Background(), weekdayTemplate(clinician, time.Monday))
	require.NoError(t, err)

	inv := NewInventory(repo, zerolog.Nop(), WithGenerationLocker(downLocker{}))
	_, err = inv.GenerateSlots(context.Background(), clinician, monday, monday)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestInventory_GetAvailableSlotsExcludesUnbookable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	clinician := uuid.New()

	tmpl := weekdayTemplate(clinician, time.Monday)
	tmpl.Breaks = []Break{{Start: MustTimeOfDay("12:00"), End: MustTimeOfDay("13:00")}}
	_, err := NewTemplateStore(repo, zerolog.Nop()).SetTemplate(ctx, tmpl)
	require.NoError(t, err)

	inv := NewInventory(repo, zerolog.Nop())
	_, err = inv.GenerateSlots(ctx, clinician, monday, monday)
	require.NoError(t, err)

	available, err := inv.GetAvailableSlots(ctx, clinician, monday)
	require.NoError(t, err)
	require.Len(t, available, 14)

	c := newTestCoordinator(repo)
	_, err = c.ReserveSlot(ctx, available[0].ID, AppointmentRequest{PatientID: uuid.New()})
	require.NoError(t, err)

	available, err = inv.GetAvailableSlots(ctx, clinician, monday)
	require.NoError(t, err)
	assert.Len(t, available, 13)
	for i := 1; i < len(available); i++ {
		assert.Less(t, available[i-1].Start, available[i].Start)
	}
}

func TestInventory_NoTemplatesGeneratesNothing(t *testing.T) {
	inv := NewInventory(NewMemoryRepository(), zerolog.Nop())

	res, err := inv.GenerateSlots(context.Background(), uuid.New(), monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Zero(t, res.GeneratedCount)
}
