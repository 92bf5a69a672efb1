package scheduling

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusCheckedIn  AppointmentStatus = "checked_in"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

var allAppointmentStatuses = []AppointmentStatus{
	StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	for _, st := range allAppointmentStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal statuses accept no further transitions.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress:
		return false
	}
	return true
}

// Cancellable reports whether releasing the slot may cancel an appointment in this status.
func (s AppointmentStatus) Cancellable() bool {
	switch s {
	case StatusScheduled, StatusConfirmed:
		return true
	case StatusCheckedIn, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	}
	return false
}

// next is the single forward step of the visit workflow.
func (s AppointmentStatus) next() (AppointmentStatus, bool) {
	switch s {
	case StatusScheduled:
		return StatusConfirmed, true
	case StatusConfirmed:
		return StatusCheckedIn, true
	case StatusCheckedIn:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusCompleted, true
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return "", false
	}
	return "", false
}

// CanTransition reports whether from -> to is a legal move of the appointment state machine.
// Cancellation is only legal from scheduled or confirmed and happens through slot release.
func CanTransition(from, to AppointmentStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusCancelled:
		return from.Cancellable()
	case StatusNoShow:
		return true
	case StatusConfirmed, StatusCheckedIn, StatusInProgress, StatusCompleted:
		n, ok := from.next()
		return ok && n == to
	case StatusScheduled:
		return false
	}
	return false
}
