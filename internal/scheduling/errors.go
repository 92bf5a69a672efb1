package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error categories. Specific errors wrap one of these so callers can branch with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("storage temporarily unavailable")
)

var (
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrTemplateNotFound    = fmt.Errorf("availability template %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrSlotNotBooked       = fmt.Errorf("slot is not booked to an appointment: %w", ErrNotFound)

	ErrSlotUnavailable         = fmt.Errorf("%w: slot is no longer available", ErrConflict)
	ErrSlotNotBlocked          = fmt.Errorf("%w: slot is not blocked", ErrConflict)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid appointment status transition", ErrConflict)
	ErrAppointmentMoved        = fmt.Errorf("%w: appointment was modified concurrently", ErrConflict)
	ErrOperationInProgress     = fmt.Errorf("%w: another operation holds the lock, retry shortly", ErrConflict)

	// ErrStale is returned by repositories when a compare-and-set matched no row.
	// The coordinator translates it into a not-found or conflict error after inspecting current state.
	ErrStale = errors.New("compare-and-set matched no row")
)

// ValidationError lists every rule a template input violated.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// PartialFailure describes a batch in which some items failed while the rest were applied.
type PartialFailure struct {
	Operation string
	Total     int
	Failed    int
	Errors    map[string]string // item key -> error message
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Operation, e.Failed, e.Total)
}

// Transient marks err as a retryable storage failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports storage unavailability, including exceeded per-item deadlines.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
