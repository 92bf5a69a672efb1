package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type BreakRequest struct {
	Start  string `json:"start" validate:"required,timeofday"`
	End    string `json:"end" validate:"required,timeofday"`
	Reason string `json:"reason" validate:"max=200"`
}

type TemplateRequest struct {
	Weekday      *int           `json:"weekday,omitempty" validate:"omitempty,min=0,max=6"`
	WorkStart    string         `json:"work_start" validate:"required,timeofday"`
	WorkEnd      string         `json:"work_end" validate:"required,timeofday"`
	SlotDuration int            `json:"slot_duration"`
	BufferTime   int            `json:"buffer_time"`
	Breaks       []BreakRequest `json:"breaks" validate:"dive"`
	IsActive     *bool          `json:"is_active,omitempty"`
}

type WeeklyTemplateRequest struct {
	Templates []TemplateRequest `json:"templates" validate:"required,min=1,max=7,dive"`
}

type GenerateSlotsRequest struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type ReserveSlotRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Type      string `json:"type" validate:"omitempty,oneof=consultation follow_up telehealth procedure"`
	Reason    string `json:"reason" validate:"max=500"`
	Location  string `json:"location" validate:"max=200"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id" validate:"required,uuid"`
	Reason    string `json:"reason" validate:"max=500"`
}

type AdvanceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed checked_in in_progress completed no_show"`
}

type GenerateAllRequest struct {
	DaysAhead *int `json:"days_ahead,omitempty" validate:"omitempty,min=0,max=365"`
}

type CleanupRequest struct {
	OlderThanDays *int `json:"older_than_days,omitempty" validate:"omitempty,min=0"`
}

type BackfillRequest struct {
	ClinicianID string `json:"clinician_id" validate:"required,uuid"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type TemplateResponse struct {
	ID           uuid.UUID          `json:"id"`
	ClinicianID  uuid.UUID          `json:"clinician_id"`
	Weekday      int                `json:"weekday"`
	WeekdayName  string             `json:"weekday_name"`
	WorkStart    string             `json:"work_start"`
	WorkEnd      string             `json:"work_end"`
	SlotDuration int                `json:"slot_duration"`
	BufferTime   int                `json:"buffer_time"`
	Breaks       []scheduling.Break `json:"breaks"`
	IsActive     bool               `json:"is_active"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type WeekdayResultResponse struct {
	Weekday    int        `json:"weekday"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	Violations []string   `json:"violations,omitempty"`
}

type WeeklyTemplateResponse struct {
	ClinicianID uuid.UUID               `json:"clinician_id"`
	Partial     bool                    `json:"partial"`
	Days        []WeekdayResultResponse `json:"days"`
}

type SlotResponse struct {
	ID            uuid.UUID  `json:"id"`
	ClinicianID   uuid.UUID  `json:"clinician_id"`
	Date          string     `json:"date"`
	Start         string     `json:"start"`
	End           string     `json:"end"`
	StartsAt      time.Time  `json:"starts_at"`
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	BlockReason   string     `json:"block_reason,omitempty"`
}

type GenerateSlotsResponse struct {
	ClinicianID    uuid.UUID   `json:"clinician_id"`
	StartDate      string      `json:"start_date"`
	EndDate        string      `json:"end_date"`
	GeneratedCount int         `json:"generated_count"`
	SlotIDs        []uuid.UUID `json:"slot_ids"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	ClinicianID        uuid.UUID `json:"clinician_id"`
	PatientID          uuid.UUID `json:"patient_id"`
	SlotID             uuid.UUID `json:"slot_id"`
	ScheduledAt        time.Time `json:"scheduled_at"`
	DurationMinutes    int       `json:"duration_minutes"`
	TimeZone           string    `json:"time_zone"`
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Reason             string    `json:"reason,omitempty"`
	Location           string    `json:"location,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	RescheduleCount    int       `json:"reschedule_count"`
}

type CleanupResponse struct {
	DeletedCount int64  `json:"deleted_count"`
	CutoffDate   string `json:"cutoff_date"`
}

type BackfillResponse struct {
	ClinicianID    uuid.UUID `json:"clinician_id"`
	MissingDates   []string  `json:"missing_dates"`
	TotalGenerated int       `json:"total_generated"`
}

type ErrorResponse struct {
	Error      string   `json:"error"`
	Details    string   `json:"details,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func toTemplateResponse(t *scheduling.AvailabilityTemplate) TemplateResponse {
	breaks := t.Breaks
	if breaks == nil {
		breaks = []scheduling.Break{}
	}
	return TemplateResponse{
		ID:           t.ID,
		ClinicianID:  t.ClinicianID,
		Weekday:      int(t.Weekday),
		WeekdayName:  t.Weekday.String(),
		WorkStart:    t.WorkStart.String(),
		WorkEnd:      t.WorkEnd.String(),
		SlotDuration: t.SlotDuration,
		BufferTime:   t.BufferTime,
		Breaks:       breaks,
		IsActive:     t.IsActive,
		UpdatedAt:    t.UpdatedAt,
	}
}

func toSlotResponse(s *scheduling.Slot, loc *time.Location) SlotResponse {
	return SlotResponse{
		ID:            s.ID,
		ClinicianID:   s.ClinicianID,
		Date:          s.Date.Format(scheduling.DateLayout),
		Start:         s.Start.String(),
		End:           s.End.String(),
		StartsAt:      s.StartsAt(loc),
		Status:        string(s.Status),
		AppointmentID: s.AppointmentID,
		BlockReason:   s.BlockReason,
	}
}

func toSlotResponses(slots []scheduling.Slot, loc *time.Location) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for i := range slots {
		out = append(out, toSlotResponse(&slots[i], loc))
	}
	return out
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ClinicianID:        a.ClinicianID,
		PatientID:          a.PatientID,
		SlotID:             a.SlotID,
		ScheduledAt:        a.ScheduledAt,
		DurationMinutes:    a.DurationMinutes,
		TimeZone:           a.TimeZone,
		Type:               string(a.Type),
		Status:             string(a.Status),
		Reason:             a.Reason,
		Location:           a.Location,
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		RescheduleCount:    a.RescheduleCount,
	}
}
