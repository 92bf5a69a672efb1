package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
	SlotBreak     SlotStatus = "break"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotBooked, SlotBlocked, SlotBreak:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeTelehealth   AppointmentType = "telehealth"
	TypeProcedure    AppointmentType = "procedure"
)

// Break is a window inside working hours during which no appointment may start or run.
type Break struct {
	Start  TimeOfDay `json:"start"`
	End    TimeOfDay `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

// AvailabilityTemplate is one weekday of a clinician's recurring schedule.
type AvailabilityTemplate struct {
	ID           uuid.UUID
	ClinicianID  uuid.UUID
	Weekday      time.Weekday
	WorkStart    TimeOfDay
	WorkEnd      TimeOfDay
	SlotDuration int // minutes
	BufferTime   int // minutes between consecutive slots
	Breaks       []Break
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Slot struct {
	ID            uuid.UUID
	ClinicianID   uuid.UUID
	Date          time.Time // midnight UTC of the calendar date
	Start         TimeOfDay
	End           TimeOfDay
	Status        SlotStatus
	AppointmentID *uuid.UUID
	BlockReason   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StartsAt returns the wall-clock start of the slot in loc.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return s.Start.On(s.Date, loc)
}

func (s Slot) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Minute
}

type Appointment struct {
	ID                 uuid.UUID
	ClinicianID        uuid.UUID
	PatientID          uuid.UUID
	SlotID             uuid.UUID
	ScheduledAt        time.Time
	DurationMinutes    int
	TimeZone           string
	Type               AppointmentType
	Status             AppointmentStatus
	Reason             string
	Location           string
	Notes              string
	CancellationReason string
	RescheduleCount    int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AppointmentRequest is what a caller supplies when reserving a slot.
type AppointmentRequest struct {
	PatientID uuid.UUID
	Type      AppointmentType
	Reason    string
	Location  string
	Notes     string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	SlotID        *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DateRange is an inclusive span of calendar dates.
type DateRange struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// Days lists every date in the range in ascending order.
// Len counts the dates in the range, both ends included.
func (r DateRange) Len() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
