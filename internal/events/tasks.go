package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

const (
	TypeSlotReserved             = "slot:reserved"
	TypeSlotReleased             = "slot:released"
	TypeSlotBlocked              = "slot:blocked"
	TypeSlotUnblocked            = "slot:unblocked"
	TypeAppointmentRescheduled   = "appointment:rescheduled"
	TypeAppointmentStatusChanged = "appointment:status_changed"
)

// QueueNotifications is the asynq queue consumed by downstream notification workers.
const QueueNotifications = "notifications"

var taskTypes = map[string]string{
	scheduling.EventSlotReserved:           TypeSlotReserved,
	scheduling.EventSlotReleased:           TypeSlotReleased,
	scheduling.EventSlotBlocked:            TypeSlotBlocked,
	scheduling.EventSlotUnblocked:          TypeSlotUnblocked,
	scheduling.EventAppointmentRescheduled: TypeAppointmentRescheduled,
	scheduling.EventAppointmentAdvanced:    TypeAppointmentStatusChanged,
}

func TaskType(eventType string) (string, bool) {
	t, ok := taskTypes[eventType]
	return t, ok
}

// NewEventTask wraps a booking event as an asynq task.
func NewEventTask(ev scheduling.Event) (*asynq.Task, []asynq.Option, error) {
	typ, ok := TaskType(ev.Type)
	if !ok {
		return nil, nil, fmt.Errorf("no task type for event %q", ev.Type)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return nil, nil, err
	}

	task := asynq.NewTask(typ, b)
	opts := []asynq.Option{
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
		asynq.Retention(24 * time.Hour),
	}

	return task, opts, nil
}

func DecodeEvent(task *asynq.Task) (scheduling.Event, error) {
	var ev scheduling.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return scheduling.Event{}, fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return ev, nil
}
