package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	// UpsertTemplate replaces the clinician's template for t.Weekday, filling ID and timestamps.
	UpsertTemplate(ctx context.Context, t *AvailabilityTemplate) error
	GetTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (*AvailabilityTemplate, error)
	ListTemplates(ctx context.Context, clinicianID uuid.UUID) ([]AvailabilityTemplate, error)
	DeleteTemplate(ctx context.Context, clinicianID uuid.UUID, weekday time.Weekday) (bool, error)

	// ListActiveClinicians returns clinicians with at least one active template.
	ListActiveClinicians(ctx context.Context) ([]uuid.UUID, error)
}

type SlotRepository interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// ListSlots returns the clinician's slots in r ordered by date and start.
	// An empty status returns every status.
	ListSlots(ctx context.Context, clinicianID uuid.UUID, r DateRange, status SlotStatus) ([]Slot, error)
	CountSlotsByDate(ctx context.Context, clinicianID uuid.UUID, r DateRange) (map[time.Time]int, error)

	// InsertSlots skips rows that collide on clinician+date+start and returns the ids actually inserted.
	InsertSlots(ctx context.Context, slots []Slot) ([]uuid.UUID, error)

	// DeleteSlotsBefore removes every slot dated strictly before cutoff, whatever its status.
	DeleteSlotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}

// SlotTransition is a compare-and-set on a single slot row.
type SlotTransition struct {
	SlotID            uuid.UUID
	From              SlotStatus
	ExpectAppointment *uuid.UUID // nil skips the check
	To                SlotStatus
	Appointment       *uuid.UUID // link after the transition, nil clears it
	BlockReason       string
}

// AppointmentTransition moves an appointment from one of From to To.
type AppointmentTransition struct {
	AppointmentID uuid.UUID
	From          []AppointmentStatus
	To            AppointmentStatus
	ExpectSlot    *uuid.UUID // nil skips the check
	Reason        string     // stored only when To is cancelled
}

// Tx is the set of writes that must commit or roll back together.
// Every method is a compare-and-set and returns ErrStale when its precondition does not hold.
type Tx interface {
	TransitionSlot(ctx context.Context, t SlotTransition) (*Slot, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	TransitionAppointment(ctx context.Context, t AppointmentTransition) (*Appointment, error)
	MoveAppointment(ctx context.Context, id, fromSlot uuid.UUID, to Slot, scheduledAt time.Time) (*Appointment, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is everything the scheduling core needs from persistence.
type Store interface {
	TemplateRepository
	SlotRepository
	AppointmentRepository
	TxRunner
}
