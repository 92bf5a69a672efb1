package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinician-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

const (
	JobGenerate = "generate_for_all_clinicians"
	JobCleanup  = "cleanup_old_slots"
	JobBackfill = "generate_missing_slots"
)

type Repository interface {
	scheduling.TemplateRepository
	scheduling.SlotRepository
}

type Options struct {
	Concurrency int
	ItemTimeout time.Duration
	Location    *time.Location
	Now         func() time.Time
}

// Scheduler runs the periodic batch jobs over slot inventory. It never touches
// booked state; the only rows it removes are slots dated before the retention cutoff.
type Scheduler struct {
	repo      Repository
	inventory *scheduling.Inventory
	opts      Options
	log       zerolog.Logger
}

// NewScheduler runs generation through inventory, which serializes each
// clinician under its own lock.
func NewScheduler(repo Repository, inventory *scheduling.Inventory, opts Options, log zerolog.Logger) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		repo:      repo,
		inventory: inventory,
		opts:      opts,
		log:       log.With().Str("component", "maintenance_scheduler").Logger(),
	}
}

func (s *Scheduler) today() time.Time {
	return scheduling.Today(s.opts.Now(), s.opts.Location)
}

// GenerateForAllClinicians fills [today, today+daysAhead] for every clinician with
// an active template. Each clinician runs under its own timeout and lock; a failure
// is recorded in the report and the batch moves on.
func (s *Scheduler) GenerateForAllClinicians(ctx context.Context, daysAhead int) (*BatchReport, error) {
	if daysAhead < 0 {
		return nil, &scheduling.ValidationError{Violations: []string{fmt.Sprintf("days ahead must not be negative, got %d", daysAhead)}}
	}
	if daysAhead >= scheduling.MaxRangeDays {
		return nil, &scheduling.ValidationError{Violations: []string{fmt.Sprintf("days ahead must be below %d, got %d", scheduling.MaxRangeDays, daysAhead)}}
	}

	started := time.Now()
	today := s.today()
	r := scheduling.DateRange{Start: today, End: today.AddDate(0, 0, daysAhead)}

	clinicians, err := s.repo.ListActiveClinicians(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active clinicians: %w", err)
	}

	report := &BatchReport{
		Job:       JobGenerate,
		DateRange: r,
		Total:     len(clinicians),
		Results:   make([]ClinicianResult, len(clinicians)),
		StartedAt: started,
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i, id := range clinicians {
		g.Go(func() error {
			report.Results[i] = s.generateOne(ctx, id, r)
			return nil
		})
	}
	_ = g.Wait()

	report.tally()
	report.Duration = time.Since(started).String()

	ev := s.log.Info()
	if report.Failed > 0 {
		ev = s.log.Warn()
	}
	ev.
		Str("start_date", r.Start.Format(scheduling.DateLayout)).
		Str("end_date", r.End.Format(scheduling.DateLayout)).
		Int("clinicians", report.Total).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("generated", report.GeneratedTotal).
		Dur("took", time.Since(started)).
		Msg("batch slot generation finished")

	return report, nil
}

func (s *Scheduler) generateOne(ctx context.Context, clinicianID uuid.UUID, r scheduling.DateRange) ClinicianResult {
	started := time.Now()
	res := ClinicianResult{ClinicianID: clinicianID}

	itemCtx, cancel := context.WithTimeout(ctx, s.opts.ItemTimeout)
	defer cancel()

	gen, err := s.inventory.GenerateSlots(itemCtx, clinicianID, r.Start, r.End)
	res.Elapsed = time.Since(started).String()

	switch {
	case err == nil:
		res.Status = ItemSucceeded
		res.Generated = gen.GeneratedCount
		res.SlotIDs = gen.SlotIDs
		for _, d := range gen.FilledDates {
			res.FilledDates = append(res.FilledDates, d.Format(scheduling.DateLayout))
		}
		metrics.ObserveMaintenanceItem(JobGenerate, metrics.OutcomeSuccess)

	case errors.Is(err, scheduling.ErrOperationInProgress):
		res.Status = ItemSkipped
		metrics.ObserveMaintenanceItem(JobGenerate, metrics.OutcomeConflict)
		s.log.Info().Str("clinician_id", clinicianID.String()).Msg("generation already running for clinician, skipped")

	default:
		res.Status = ItemFailed
		res.Error = err.Error()
		res.Transient = scheduling.IsTransient(err)
		metrics.ObserveMaintenanceItem(JobGenerate, metrics.OutcomeError)
		s.log.Error().Err(err).
			Str("clinician_id", clinicianID.String()).
			Bool("transient", res.Transient).
			Msg("slot generation failed for clinician")
	}

	return res
}

// CleanupOldSlots deletes every slot dated strictly before today-olderThanDays,
// whatever its status.
func (s *Scheduler) CleanupOldSlots(ctx context.Context, olderThanDays int) (*CleanupReport, error) {
	if olderThanDays < 0 {
		return nil, &scheduling.ValidationError{Violations: []string{fmt.Sprintf("older than days must not be negative, got %d", olderThanDays)}}
	}

	cutoff := s.today().AddDate(0, 0, -olderThanDays)

	opCtx, cancel := context.WithTimeout(ctx, s.opts.ItemTimeout)
	defer cancel()

	deleted, err := s.repo.DeleteSlotsBefore(opCtx, cutoff)
	if err != nil {
		metrics.ObserveMaintenanceItem(JobCleanup, metrics.OutcomeError)
		if opCtx.Err() != nil {
			err = scheduling.Transient(err)
		}
		return nil, fmt.Errorf("delete slots before %s: %w", cutoff.Format(scheduling.DateLayout), err)
	}
	metrics.ObserveMaintenanceItem(JobCleanup, metrics.OutcomeSuccess)
	metrics.AddSlotsDeleted(deleted)

	s.log.Info().
		Str("cutoff_date", cutoff.Format(scheduling.DateLayout)).
		Int64("deleted", deleted).
		Msg("old slots cleaned up")

	return &CleanupReport{DeletedCount: deleted, CutoffDate: cutoff}, nil
}

// GenerateMissingSlots backfills dates in [start, end] that have an active
// template but no slots.
func (s *Scheduler) GenerateMissingSlots(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*BackfillReport, error) {
	r, err := scheduling.NewDateRange(start, end)
	if err != nil {
		return nil, err
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.opts.ItemTimeout)
	defer cancel()

	gen, err := s.inventory.GenerateSlots(itemCtx, clinicianID, r.Start, r.End)
	if err != nil {
		if errors.Is(err, scheduling.ErrOperationInProgress) {
			metrics.ObserveMaintenanceItem(JobBackfill, metrics.OutcomeConflict)
			return nil, err
		}
		metrics.ObserveMaintenanceItem(JobBackfill, metrics.OutcomeError)
		return nil, fmt.Errorf("backfill slots: %w", err)
	}
	metrics.ObserveMaintenanceItem(JobBackfill, metrics.OutcomeSuccess)

	report := &BackfillReport{
		ClinicianID:    clinicianID,
		DateRange:      r,
		MissingDates:   gen.FilledDates,
		TotalGenerated: gen.GeneratedCount,
	}
	if report.MissingDates == nil {
		report.MissingDates = []time.Time{}
	}

	s.log.Info().
		Str("clinician_id", clinicianID.String()).
		Int("dates", len(report.MissingDates)).
		Int("generated", report.TotalGenerated).
		Msg("missing slots backfilled")

	return report, nil
}

// OptimizeDoctorSlots inspects one day of a clinician's slots for fragmentation.
// It only reads.
func (s *Scheduler) OptimizeDoctorSlots(ctx context.Context, clinicianID uuid.UUID, date time.Time) ([]Suggestion, error) {
	slots, err := s.inventory.ListDaySlots(ctx, clinicianID, date)
	if err != nil {
		return nil, err
	}
	return Analyze(slots), nil
}
