package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

// monday is 2025-03-03.
var monday = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t.Add(10 * time.Hour) }
}

func addWeekdayTemplates(t *testing.T, repo scheduling.TemplateRepository, clinicianID uuid.UUID) {
	t.Helper()
	store := scheduling.NewTemplateStore(repo, zerolog.Nop())
	for d := time.Monday; d <= time.Friday; d++ {
		_, err := store.SetTemplate(context.Background(), scheduling.AvailabilityTemplate{
			ClinicianID:  clinicianID,
			Weekday:      d,
			WorkStart:    scheduling.MustTimeOfDay("09:00"),
			WorkEnd:      scheduling.MustTimeOfDay("17:00"),
			SlotDuration: 30,
			IsActive:     true,
		})
		require.NoError(t, err)
	}
}

func newTestScheduler(repo Repository, opts Options, locker redisclient.Locker) *Scheduler {
	if opts.Now == nil {
		opts.Now = fixedNow(monday)
	}
	inv := scheduling.NewInventory(repo, zerolog.Nop(), scheduling.WithGenerationLocker(locker))
	return NewScheduler(repo, inv, opts, zerolog.Nop())
}

func TestGenerateForAllClinicians(t *testing.T) {
	ctx := context.Background()
	repo := scheduling.NewMemoryRepository()
	for i := 0; i < 3; i++ {
		addWeekdayTemplates(t, repo, uuid.New())
	}
	s := newTestScheduler(repo, Options{Concurrency: 2}, nil)

	report, err := s.GenerateForAllClinicians(ctx, 6)
	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 240, report.GeneratedTotal)
	assert.True(t, report.DateRange.Start.Equal(monday))
	assert.True(t, report.DateRange.End.Equal(monday.AddDate(0, 0, 6)))
	for _, res := range report.Results {
		assert.Equal(t, ItemSucceeded, res.Status)
		assert.Equal(t, 80, res.Generated)
		assert.Len(t, res.FilledDates, 5)
	}

	again, err := s.GenerateForAllClinicians(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Succeeded)
	assert.Zero(t, again.GeneratedTotal)
}

func TestGenerateForAllClinicians_RejectsOutOfRangeHorizon(t *testing.T) {
	repo := scheduling.NewMemoryRepository()
	addWeekdayTemplates(t, repo, uuid.New())
	s := newTestScheduler(repo, Options{}, nil)

	for _, days := range []int{-1, scheduling.MaxRangeDays, 100000} {
		_, err := s.GenerateForAllClinicians(context.Background(), days)
		var verr *scheduling.ValidationError
		assert.ErrorAs(t, err, &verr, "days ahead %d", days)
	}

	report, err := s.GenerateForAllClinicians(context.Background(), scheduling.MaxRangeDays-1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

// flakyRepo fails or stalls template reads for chosen clinicians.
type flakyRepo struct {
	*scheduling.MemoryRepository
	fail  map[uuid.UUID]error
	stall map[uuid.UUID]bool
}

func (r *flakyRepo) ListTemplates(ctx context.Context, clinicianID uuid.UUID) ([]scheduling.AvailabilityTemplate, error) {
	if err, ok := r.fail[clinicianID]; ok {
		return nil, err
	}
	if r.stall[clinicianID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.MemoryRepository.ListTemplates(ctx, clinicianID)
}

func TestGenerateForAllClinicians_ContinuesOnError(t *testing.T) {
	ctx := context.Background()
	mem := scheduling.NewMemoryRepository()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		addWeekdayTemplates(t, mem, id)
	}

	repo := &flakyRepo{
		MemoryRepository: mem,
		fail:             map[uuid.UUID]error{ids[1]: scheduling.Transient(errors.New("connection refused"))},
		stall:            map[uuid.UUID]bool{ids[2]: true},
	}
	s := newTestScheduler(repo, Options{Concurrency: 4, ItemTimeout: 50 * time.Millisecond}, nil)

	started := time.Now()
	report, err := s.GenerateForAllClinicians(ctx, 6)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 160, report.GeneratedTotal)

	byID := make(map[uuid.UUID]ClinicianResult)
	for _, res := range report.Results {
		byID[res.ClinicianID] = res
	}
	assert.Equal(t, ItemSucceeded, byID[ids[0]].Status)
	assert.Equal(t, ItemFailed, byID[ids[1]].Status)
	assert.True(t, byID[ids[1]].Transient)
	assert.Equal(t, ItemFailed, byID[ids[2]].Status)
	assert.True(t, byID[ids[2]].Transient, "timed out item is retryable")
	assert.Equal(t, ItemSucceeded, byID[ids[3]].Status)

	var pf *scheduling.PartialFailure
	require.ErrorAs(t, report.Err(), &pf)
	assert.Equal(t, 2, pf.Failed)
	assert.Contains(t, pf.Errors, ids[1].String())
	assert.Contains(t, pf.Errors, ids[2].String())
}

// keyedBusyLocker reports one key as held by another worker.
type keyedBusyLocker struct {
	busy string
}

func (l *keyedBusyLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if key == l.busy {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestGenerateForAllClinicians_SkipsLockedClinician(t *testing.T) {
	repo := scheduling.NewMemoryRepository()
	locked, free := uuid.New(), uuid.New()
	addWeekdayTemplates(t, repo, locked)
	addWeekdayTemplates(t, repo, free)

	s := newTestScheduler(repo, Options{Concurrency: 2}, &keyedBusyLocker{busy: redisclient.ClinicianKey(locked)})

	report, err := s.GenerateForAllClinicians(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.NoError(t, report.Err())
}

func TestCleanupOldSlots(t *testing.T) {
	ctx := context.Background()
	repo := scheduling.NewMemoryRepository()
	clinician := uuid.New()

	dates := []time.Time{monday.AddDate(0, 0, -40), monday.AddDate(0, 0, -10), monday}
	var slots []scheduling.Slot
	for _, d := range dates {
		for _, start := range []string{"09:00", "09:30"} {
			st := scheduling.MustTimeOfDay(start)
			slots = append(slots, scheduling.Slot{
				ClinicianID: clinician, Date: d, Start: st, End: st.Add(30), Status: scheduling.SlotAvailable,
			})
		}
	}
	_, err := repo.InsertSlots(ctx, slots)
	require.NoError(t, err)

	s := newTestScheduler(repo, Options{}, nil)
	report, err := s.CleanupOldSlots(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.DeletedCount)
	assert.True(t, report.CutoffDate.Equal(monday.AddDate(0, 0, -30)))

	counts, err := repo.CountSlotsByDate(ctx, clinician, scheduling.DateRange{Start: dates[0], End: monday})
	require.NoError(t, err)
	assert.Zero(t, counts[dates[0]])
	assert.Equal(t, 2, counts[dates[1]])
	assert.Equal(t, 2, counts[monday])

	_, err = s.CleanupOldSlots(ctx, -1)
	var verr *scheduling.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCleanupOldSlots_ZeroDaysKeepsToday(t *testing.T) {
	ctx := context.Background()
	repo := scheduling.NewMemoryRepository()
	clinician := uuid.New()
	st := scheduling.MustTimeOfDay("09:00")
	_, err := repo.InsertSlots(ctx, []scheduling.Slot{
		{ClinicianID: clinician, Date: monday, Start: st, End: st.Add(30), Status: scheduling.SlotAvailable},
		{ClinicianID: clinician, Date: monday.AddDate(0, 0, -1), Start: st, End: st.Add(30), Status: scheduling.SlotBooked},
	})
	require.NoError(t, err)

	report, err := newTestScheduler(repo, Options{}, nil).CleanupOldSlots(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.DeletedCount)
}

func TestGenerateMissingSlots(t *testing.T) {
	ctx := context.Background()
	repo := scheduling.NewMemoryRepository()
	clinician := uuid.New()
	addWeekdayTemplates(t, repo, clinician)

	st := scheduling.MustTimeOfDay("09:00")
	_, err := repo.InsertSlots(ctx, []scheduling.Slot{
		{ClinicianID: clinician, Date: monday, Start: st, End: st.Add(30), Status: scheduling.SlotAvailable},
	})
	require.NoError(t, err)

	s := newTestScheduler(repo, Options{}, nil)
	report, err := s.GenerateMissingSlots(ctx, clinician, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	require.Len(t, report.MissingDates, 4)
	assert.True(t, report.MissingDates[0].Equal(monday.AddDate(0, 0, 1)))
	assert.Equal(t, 64, report.TotalGenerated)

	again, err := s.GenerateMissingSlots(ctx, clinician, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Empty(t, again.MissingDates)
	assert.Zero(t, again.TotalGenerated)

	_, err = s.GenerateMissingSlots(ctx, clinician, monday, monday.AddDate(0, 0, -1))
	var verr *scheduling.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGenerateMissingSlots_LockHeld(t *testing.T) {
	repo := scheduling.NewMemoryRepository()
	clinician := uuid.New()
	addWeekdayTemplates(t, repo, clinician)

	s := newTestScheduler(repo, Options{}, &keyedBusyLocker{busy: redisclient.ClinicianKey(clinician)})
	_, err := s.GenerateMissingSlots(context.Background(), clinician, monday, monday)
	assert.ErrorIs(t, err, scheduling.ErrOperationInProgress)
}
