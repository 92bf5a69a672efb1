package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinician-slot-scheduling/internal/redis"
)

type bookingStore interface {
	TxRunner
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}

// errSlotStale and errAppointmentStale mark a compare-and-set miss inside a
// transaction so the caller can classify it against current state after rollback.
var (
	errSlotStale        = errors.New("slot state changed")
	errAppointmentStale = errors.New("appointment state changed")
)

// Coordinator is the only writer of slot occupancy. Every transition is a
// compare-and-set against the store, so concurrent callers racing for the same
// slot see exactly one winner.
type Coordinator struct {
	store  bookingStore
	locker redisclient.Locker
	pub    Publisher
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time
}

type CoordinatorOption func(*Coordinator)

func WithLocker(l redisclient.Locker) CoordinatorOption {
	return func(c *Coordinator) { c.locker = l }
}

func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *Coordinator) {
		if p != nil {
			c.pub = p
		}
	}
}

func WithLocation(loc *time.Location) CoordinatorOption {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store bookingStore, log zerolog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store: store,
		pub:   noopPublisher{},
		loc:   time.UTC,
		log:   log.With().Str("component", "booking_coordinator").Logger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReserveSlot books an available slot and creates its appointment in one transaction.
// It fails with ErrSlotUnavailable when the slot is booked, blocked or a break.
func (c *Coordinator) ReserveSlot(ctx context.Context, slotID uuid.UUID, req AppointmentRequest) (appt *Appointment, err error) {
	defer c.observe("reserve", time.Now(), &err)

	if req.PatientID == uuid.Nil {
		return nil, &ValidationError{Violations: []string{"patient_id is required"}}
	}
	if req.Type == "" {
		req.Type = TypeConsultation
	}

	apptID := uuid.New()
	now := c.now()

	err = c.store.WithinTx(ctx, func(tx Tx) error {
		slot, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:      slotID,
			From:        SlotAvailable,
			To:          SlotBooked,
			Appointment: &apptID,
		})
		if err != nil {
			return slotTxError(err)
		}

		a := &Appointment{
			ID:              apptID,
			ClinicianID:     slot.ClinicianID,
			PatientID:       req.PatientID,
			SlotID:          slot.ID,
			ScheduledAt:     slot.StartsAt(c.loc),
			DurationMinutes: int(slot.End - slot.Start),
			TimeZone:        c.loc.String(),
			Type:            req.Type,
			Status:          StatusScheduled,
			Reason:          req.Reason,
			Location:        req.Location,
			Notes:           req.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertAppointment(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := tx.InsertEvent(ctx, appointmentEvent(EventSlotReserved, a, "", now).logEntry()); err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}

		appt = a
		return nil
	})
	if err != nil {
		if errors.Is(err, errSlotStale) {
			return nil, c.classifyUnavailable(ctx, slotID)
		}
		return nil, err
	}

	c.log.Info().
		Str("slot_id", slotID.String()).
		Str("appointment_id", appt.ID.String()).
		Str("patient_id", appt.PatientID.String()).
		Msg("slot reserved")

	c.publish(ctx, appointmentEvent(EventSlotReserved, appt, "", now))
	return appt, nil
}

// ReleaseSlot frees a booked slot and cancels the appointment occupying it.
// It fails with ErrSlotNotBooked when nothing occupies the slot, with
// ErrInvalidStatusTransition when the visit is already under way, and with
// ErrAppointmentMoved when the slot is held by a reschedule still in flight.
func (c *Coordinator) ReleaseSlot(ctx context.Context, slotID uuid.UUID, reason string) (appt *Appointment, err error) {
	defer c.observe("release", time.Now(), &err)

	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.Status != SlotBooked || slot.AppointmentID == nil {
		return nil, ErrSlotNotBooked
	}
	apptID := *slot.AppointmentID
	now := c.now()

	err = c.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:            slotID,
			From:              SlotBooked,
			ExpectAppointment: &apptID,
			To:                SlotAvailable,
		}); err != nil {
			return slotTxError(err)
		}

		// a reschedule may have booked this slot ahead of relinking the
		// appointment; only cancel when the appointment still sits here
		a, err := tx.TransitionAppointment(ctx, AppointmentTransition{
			AppointmentID: apptID,
			From:          []AppointmentStatus{StatusScheduled, StatusConfirmed},
			To:            StatusCancelled,
			ExpectSlot:    &slotID,
			Reason:        reason,
		})
		if err != nil {
			if errors.Is(err, ErrStale) {
				return errAppointmentStale
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if err := tx.InsertEvent(ctx, appointmentEvent(EventSlotReleased, a, reason, now).logEntry()); err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}

		appt = a
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errSlotStale):
			return nil, c.classifyNotBooked(ctx, slotID, apptID)
		case errors.Is(err, errAppointmentStale):
			return nil, c.classifyNotCancellable(ctx, slotID, apptID)
		}
		return nil, err
	}

	c.log.Info().
		Str("slot_id", slotID.String()).
		Str("appointment_id", apptID.String()).
		Str("reason", reason).
		Msg("slot released")

	c.publish(ctx, appointmentEvent(EventSlotReleased, appt, reason, now))
	return appt, nil
}

// RescheduleAppointment moves an appointment to newSlotID keeping its identity.
//
// The new slot is reserved first. The old slot is then released and the
// appointment relinked in a second transaction. If that fails the new slot is
// released again, so the appointment always stays linked to a booked slot.
func (c *Coordinator) RescheduleAppointment(ctx context.Context, appointmentID, newSlotID uuid.UUID, reason string) (appt *Appointment, err error) {
	defer c.observe("reschedule", time.Now(), &err)

	err = c.withLock(ctx, redisclient.AppointmentKey(appointmentID), func(ctx context.Context) error {
		appt, err = c.reschedule(ctx, appointmentID, newSlotID, reason)
		return err
	})
	return appt, err
}

func (c *Coordinator) reschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID, reason string) (*Appointment, error) {
	current, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !current.Status.Cancellable() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, current.Status)
	}
	if current.SlotID == newSlotID {
		return nil, fmt.Errorf("%w: appointment already occupies this slot", ErrSlotUnavailable)
	}
	oldSlotID := current.SlotID

	// (a) hold the new slot for this appointment
	var newSlot *Slot
	err = c.store.WithinTx(ctx, func(tx Tx) error {
		s, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:      newSlotID,
			From:        SlotAvailable,
			To:          SlotBooked,
			Appointment: &appointmentID,
		})
		if err != nil {
			return slotTxError(err)
		}
		newSlot = s
		return nil
	})
	if err != nil {
		if errors.Is(err, errSlotStale) {
			return nil, c.classifyUnavailable(ctx, newSlotID)
		}
		return nil, fmt.Errorf("reserve new slot: %w", err)
	}

	// (b) release the old slot, (c) relink the appointment
	now := c.now()
	var moved *Appointment
	err = c.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:            oldSlotID,
			From:              SlotBooked,
			ExpectAppointment: &appointmentID,
			To:                SlotAvailable,
		}); err != nil {
			if errors.Is(err, ErrStale) {
				return ErrAppointmentMoved
			}
			return fmt.Errorf("release old slot: %w", err)
		}

		a, err := tx.MoveAppointment(ctx, appointmentID, oldSlotID, *newSlot, newSlot.StartsAt(c.loc))
		if err != nil {
			if errors.Is(err, ErrStale) {
				return ErrAppointmentMoved
			}
			return fmt.Errorf("relink appointment: %w", err)
		}

		ev := appointmentEvent(EventAppointmentRescheduled, a, reason, now)
		ev.PreviousSlotID = &oldSlotID
		if err := tx.InsertEvent(ctx, ev.logEntry()); err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}

		moved = a
		return nil
	})
	if err != nil {
		c.compensate(ctx, appointmentID, newSlotID, err)
		return nil, err
	}

	c.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("old_slot_id", oldSlotID.String()).
		Str("new_slot_id", newSlotID.String()).
		Str("reason", reason).
		Msg("appointment rescheduled")

	ev := appointmentEvent(EventAppointmentRescheduled, moved, reason, now)
	ev.PreviousSlotID = &oldSlotID
	c.publish(ctx, ev)

	return moved, nil
}

// compensate gives back the slot reserved in step (a) of a failed reschedule.
func (c *Coordinator) compensate(ctx context.Context, appointmentID, newSlotID uuid.UUID, cause error) {
	// the caller's context may be what failed; the hold must still be released
	ctx = context.WithoutCancel(ctx)

	err := c.store.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:            newSlotID,
			From:              SlotBooked,
			ExpectAppointment: &appointmentID,
			To:                SlotAvailable,
		})
		return err
	})
	metrics.ObserveCompensation(err == nil)

	if err != nil {
		c.log.Error().Err(err).
			AnErr("cause", cause).
			Str("appointment_id", appointmentID.String()).
			Str("slot_id", newSlotID.String()).
			Msg("reschedule compensation failed, slot left held by appointment")
		return
	}

	c.log.Warn().Err(cause).
		Str("appointment_id", appointmentID.String()).
		Str("slot_id", newSlotID.String()).
		Msg("reschedule rolled back, new slot released")
}

// BlockSlot takes an available slot out of circulation.
func (c *Coordinator) BlockSlot(ctx context.Context, slotID uuid.UUID, reason string) (slot *Slot, err error) {
	defer c.observe("block", time.Now(), &err)

	now := c.now()
	err = c.store.WithinTx(ctx, func(tx Tx) error {
		s, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID:      slotID,
			From:        SlotAvailable,
			To:          SlotBlocked,
			BlockReason: reason,
		})
		if err != nil {
			return slotTxError(err)
		}
		slot = s
		return tx.InsertEvent(ctx, slotEvent(EventSlotBlocked, s, reason, now).logEntry())
	})
	if err != nil {
		if errors.Is(err, errSlotStale) {
			return nil, c.classifyUnavailable(ctx, slotID)
		}
		return nil, err
	}

	c.publish(ctx, slotEvent(EventSlotBlocked, slot, reason, now))
	return slot, nil
}

// UnblockSlot returns a blocked slot to the available pool.
func (c *Coordinator) UnblockSlot(ctx context.Context, slotID uuid.UUID) (slot *Slot, err error) {
	defer c.observe("unblock", time.Now(), &err)

	now := c.now()
	err = c.store.WithinTx(ctx, func(tx Tx) error {
		s, err := tx.TransitionSlot(ctx, SlotTransition{
			SlotID: slotID,
			From:   SlotBlocked,
			To:     SlotAvailable,
		})
		if err != nil {
			return slotTxError(err)
		}
		slot = s
		return tx.InsertEvent(ctx, slotEvent(EventSlotUnblocked, s, "", now).logEntry())
	})
	if err != nil {
		if errors.Is(err, errSlotStale) {
			if _, gerr := c.store.GetSlot(ctx, slotID); errors.Is(gerr, ErrSlotNotFound) {
				return nil, ErrSlotNotFound
			}
			return nil, ErrSlotNotBlocked
		}
		return nil, err
	}

	c.publish(ctx, slotEvent(EventSlotUnblocked, slot, "", now))
	return slot, nil
}

// AdvanceAppointment moves an appointment forward through the visit workflow
// or marks it a no-show. Cancellation goes through ReleaseSlot instead.
func (c *Coordinator) AdvanceAppointment(ctx context.Context, appointmentID uuid.UUID, to AppointmentStatus) (appt *Appointment, err error) {
	defer c.observe("advance", time.Now(), &err)

	if to == StatusCancelled {
		return nil, fmt.Errorf("%w: cancel by releasing the slot", ErrInvalidStatusTransition)
	}

	current, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	now := c.now()
	err = c.store.WithinTx(ctx, func(tx Tx) error {
		a, err := tx.TransitionAppointment(ctx, AppointmentTransition{
			AppointmentID: appointmentID,
			From:          []AppointmentStatus{current.Status},
			To:            to,
		})
		if err != nil {
			if errors.Is(err, ErrStale) {
				return ErrAppointmentMoved
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		appt = a
		return tx.InsertEvent(ctx, appointmentEvent(EventAppointmentAdvanced, a, "", now).logEntry())
	})
	if err != nil {
		return nil, err
	}

	c.publish(ctx, appointmentEvent(EventAppointmentAdvanced, appt, "", now))
	return appt, nil
}

func (c *Coordinator) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := c.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (c *Coordinator) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := c.store.GetSlot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

// classifyUnavailable tells "taken" apart from "never existed" after a failed reservation.
func (c *Coordinator) classifyUnavailable(ctx context.Context, slotID uuid.UUID) error {
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("%w (state unknown: %v)", ErrSlotUnavailable, err)
	}
	return fmt.Errorf("%w (status %s)", ErrSlotUnavailable, slot.Status)
}

func (c *Coordinator) classifyNotBooked(ctx context.Context, slotID, apptID uuid.UUID) error {
	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return ErrSlotNotFound
		}
		return ErrSlotNotBooked
	}
	if slot.Status == SlotBooked && slot.AppointmentID != nil && *slot.AppointmentID != apptID {
		return ErrAppointmentMoved
	}
	return ErrSlotNotBooked
}

// classifyNotCancellable explains why the appointment booked on slotID could
// not be cancelled: it is mid-reschedule away from another slot, or its visit
// has already moved past the cancellable states.
func (c *Coordinator) classifyNotCancellable(ctx context.Context, slotID, apptID uuid.UUID) error {
	a, err := c.store.GetAppointment(ctx, apptID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrAppointmentMoved
		}
		return fmt.Errorf("%w (state unknown: %v)", ErrInvalidStatusTransition, err)
	}
	if a.SlotID != slotID {
		return ErrAppointmentMoved
	}
	return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidStatusTransition, a.Status)
}

func (c *Coordinator) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if c.locker == nil {
		return fn(ctx)
	}
	return lockError(c.locker.WithLock(ctx, key, fn))
}

// lockError maps locker failures onto the scheduling error taxonomy. Errors
// returned by the guarded function pass through unchanged.
func lockError(err error) error {
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrOperationInProgress
	case errors.Is(err, redisclient.ErrLockUnavailable):
		return Transient(err)
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event", ev.Type).Str("slot_id", ev.SlotID.String()).Msg("failed to publish booking event")
	}
}

func (c *Coordinator) observe(op string, start time.Time, err *error) {
	metrics.ObserveBooking(op, outcomeOf(*err), time.Since(start))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}

func slotTxError(err error) error {
	if errors.Is(err, ErrStale) {
		return errSlotStale
	}
	return fmt.Errorf("transition slot: %w", err)
}

func slotEvent(typ string, s *Slot, reason string, at time.Time) Event {
	return Event{
		Type:        typ,
		SlotID:      s.ID,
		ClinicianID: s.ClinicianID,
		Reason:      reason,
		OccurredAt:  at,
	}
}
