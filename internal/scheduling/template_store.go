package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TemplateStore validates and persists the clinicians' recurring weekly schedules.
type TemplateStore struct {
	repo TemplateRepository
	log  zerolog.Logger
}

func NewTemplateStore(repo TemplateRepository, log zerolog.Logger) *TemplateStore {
	return &TemplateStore{
		repo: repo,
		log:  log.With().Str("component", "template_store").Logger(),
	}
}

// ValidateTemplate checks every template rule and reports all violations at once.
func ValidateTemplate(t AvailabilityTemplate) error {
	v := &ValidationError{}

	if t.ClinicianID == uuid.Nil {
		v.add("clinician_id is required")
	}
	if t.Weekday < time.Sunday || t.Weekday > time.Saturday {
		v.add("weekday %d must be between 0 (Sunday) and 6 (Saturday)", t.Weekday)
	}
	if !t.WorkStart.Valid() || !t.WorkEnd.Valid() {
		v.add("working hours must lie within the day")
	}
	if t.WorkStart >= t.WorkEnd {
		v.add("work start %s must be before work end %s", t.WorkStart, t.WorkEnd)
	}
	if t.SlotDuration <= 0 {
		v.add("slot duration must be positive, got %d", t.SlotDuration)
	}
	if t.BufferTime < 0 {
		v.add("buffer time must not be negative, got %d", t.BufferTime)
	}

	for i, b := range t.Breaks {
		if b.Start >= b.End {
			v.add("break %d: start %s must be before end %s", i+1, b.Start, b.End)
		}
		if b.Start < t.WorkStart || b.End > t.WorkEnd {
			v.add("break %d (%s-%s) must lie within working hours %s-%s", i+1, b.Start, b.End, t.WorkStart, t.WorkEnd)
		}
	}

	for i := 0; i < len(t.Breaks); i++ {
		for j := i + 1; j < len(t.Breaks); j++ {
			a, b := t.Breaks[i], t.Breaks[j]
			if a.Start < b.End && b.Start < a.End {
				v.add("break %d (%s-%s) overlaps break %d (%s-%s)", i+1, a.Start, a.End, j+1, b.Start, b.End)
			}
		}
	}

	return v.orNil()
}

// SetTemplate upserts one weekday's template and returns its id.
func (s *TemplateStore) SetTemplate(ctx context.Context, t AvailabilityTemplate) (uuid.UUID, error) {
	if err := ValidateTemplate(t); err != nil {
		return uuid.Nil, err
	}

	t.Breaks = sortedBreaks(t.Breaks)

	if err := s.repo.UpsertTemplate(ctx, &t); err != nil {
		return uuid.Nil, fmt.Errorf("upsert template: %w", err)
	}

	s.log.Info().
		Str("clinician_id", t.ClinicianID.String()).
		Str("weekday", t.Weekday.String()).
		Str("hours", t.WorkStart.String()+"-"+t.WorkEnd.String()).
		Bool("active", t.IsActive).
		Msg("availability template stored")

	return t.ID, nil
}

// WeekdayResult is the outcome of one weekday inside SetWeeklyTemplate.
type WeekdayResult struct {
	Weekday    time.Weekday
	TemplateID uuid.UUID
	Err        error
}

type WeeklyResult struct {
	ClinicianID uuid.UUID
	Days        []WeekdayResult
}

// Err summarises failed weekdays as a *PartialFailure, or nil when every weekday was stored.
func (r WeeklyResult) Err() error {
	pf := &PartialFailure{Operation: "set weekly template", Total: len(r.Days), Errors: map[string]string{}}
	for _, d := range r.Days {
		if d.Err != nil {
			pf.Failed++
			pf.Errors[d.Weekday.String()] = d.Err.Error()
		}
	}
	if pf.Failed == 0 {
		return nil
	}
	return pf
}

// SetWeeklyTemplate applies each weekday independently; one bad weekday never blocks the others.
func (s *TemplateStore) SetWeeklyTemplate(ctx context.Context, clinicianID uuid.UUID, templates []AvailabilityTemplate) WeeklyResult {
	result := WeeklyResult{ClinicianID: clinicianID}
	seen := make(map[time.Weekday]bool, len(templates))

	for _, t := range templates {
		t.ClinicianID = clinicianID

		if seen[t.Weekday] {
			result.Days = append(result.Days, WeekdayResult{
				Weekday: t.Weekday,
				Err:     &ValidationError{Violations: []string{fmt.Sprintf("weekday %s given more than once", t.Weekday)}},
			})
			continue
		}
		seen[t.Weekday] = true

		id, err := s.SetTemplate(ctx, t)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				s.log.Error().Err(err).
					Str("clinician_id", clinicianID.String()).
					Str("weekday", t.Weekday.String()).
					Msg("failed to store weekday template")
			}
		}
		result.Days = append(result.Days, WeekdayResult{Weekday: t.Weekday, TemplateID: id, Err: err})
	}

	return result
}

func (s *TemplateStore) GetTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (*AvailabilityTemplate, error) {
	t, err := s.repo.GetTemplate(ctx, clinicianID, weekday)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *TemplateStore) ListTemplates(ctx context.Context, clinicianID uuid.UUID) ([]AvailabilityTemplate, error) {
	ts, err := s.repo.ListTemplates(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return ts, nil
}

// DeleteTemplate removes a weekday's template and reports whether one existed.
func (s *TemplateStore) DeleteTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (bool, error) {
	existed, err := s.repo.DeleteTemplate(ctx, clinicianID, weekday)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	return existed, nil
}

func sortedBreaks(breaks []Break) []Break {
	out := make([]Break, len(breaks))
	copy(out, breaks)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
