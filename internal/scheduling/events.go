package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventSlotReserved           = "SLOT_RESERVED"
	EventSlotReleased           = "SLOT_RELEASED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentAdvanced    = "APPOINTMENT_STATUS_CHANGED"
	EventSlotBlocked            = "SLOT_BLOCKED"
	EventSlotUnblocked          = "SLOT_UNBLOCKED"
)

// Event is emitted after a booking change commits. Downstream notification
// logic subscribes to these; delivery is best effort.
type Event struct {
	Type           string            `json:"type"`
	AppointmentID  *uuid.UUID        `json:"appointment_id,omitempty"`
	SlotID         uuid.UUID         `json:"slot_id"`
	PreviousSlotID *uuid.UUID        `json:"previous_slot_id,omitempty"`
	ClinicianID    uuid.UUID         `json:"clinician_id"`
	PatientID      *uuid.UUID        `json:"patient_id,omitempty"`
	Status         AppointmentStatus `json:"status,omitempty"`
	ScheduledAt    *time.Time        `json:"scheduled_at,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// logEntry turns ev into the event_logs row written inside the same transaction.
func (ev Event) logEntry() EventLog {
	data, err := json.Marshal(ev)
	if err != nil {
		data = nil
	}
	slotID := ev.SlotID
	return EventLog{
		EventType:     ev.Type,
		AppointmentID: ev.AppointmentID,
		SlotID:        &slotID,
		Payload:       data,
		CreatedAt:     ev.OccurredAt,
	}
}

func appointmentEvent(typ string, a *Appointment, reason string, at time.Time) Event {
	id, patient, scheduled := a.ID, a.PatientID, a.ScheduledAt
	return Event{
		Type:          typ,
		AppointmentID: &id,
		SlotID:        a.SlotID,
		ClinicianID:   a.ClinicianID,
		PatientID:     &patient,
		Status:        a.Status,
		ScheduledAt:   &scheduled,
		Reason:        reason,
		OccurredAt:    at,
	}
}
