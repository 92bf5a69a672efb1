package events

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

// Handler receives decoded booking events on the consumer side.
type Handler interface {
	HandleEvent(ctx context.Context, taskType string, ev scheduling.Event) error
}

type HandlerFunc func(ctx context.Context, taskType string, ev scheduling.Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, taskType string, ev scheduling.Event) error {
	return f(ctx, taskType, ev)
}

// NewServeMux routes every booking task type to h.
func NewServeMux(h Handler, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, typ := range taskTypes {
		mux.HandleFunc(typ, handleTask(h, log))
	}
	return mux
}

func handleTask(h Handler, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		ev, err := DecodeEvent(task)
		if err != nil {
			log.Error().Err(err).Str("task_type", task.Type()).Msg("invalid booking event payload")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return h.HandleEvent(ctx, task.Type(), ev)
	}
}

// LogHandler records events. It stands in for notification delivery, which lives outside this service.
func LogHandler(log zerolog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, taskType string, ev scheduling.Event) error {
		e := log.Info().
			Str("task_type", taskType).
			Str("slot_id", ev.SlotID.String()).
			Str("clinician_id", ev.ClinicianID.String()).
			Time("occurred_at", ev.OccurredAt)
		if ev.AppointmentID != nil {
			e = e.Str("appointment_id", ev.AppointmentID.String())
		}
		e.Msg("booking event received")
		return nil
	})
}
