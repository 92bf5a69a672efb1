package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type(), Queue: QueueNotifications}, nil
}

func sampleEvent(typ string) scheduling.Event {
	appt := uuid.New()
	return scheduling.Event{
		Type:          typ,
		AppointmentID: &appt,
		SlotID:        uuid.New(),
		ClinicianID:   uuid.New(),
		Status:        scheduling.StatusScheduled,
		OccurredAt:    time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewEventTask(t *testing.T) {
	ev := sampleEvent(scheduling.EventAppointmentRescheduled)
	prev := uuid.New()
	ev.PreviousSlotID = &prev

	task, opts, err := NewEventTask(ev)
	require.NoError(t, err)
	assert.Equal(t, TypeAppointmentRescheduled, task.Type())
	assert.NotEmpty(t, opts)

	decoded, err := DecodeEvent(task)
	require.NoError(t, err)
	assert.Equal(t, ev.SlotID, decoded.SlotID)
	require.NotNil(t, decoded.PreviousSlotID)
	assert.Equal(t, prev, *decoded.PreviousSlotID)
}

func TestNewEventTask_UnknownType(t *testing.T) {
	_, _, err := NewEventTask(sampleEvent("SOMETHING_ELSE"))
	assert.Error(t, err)
}

func TestEveryBookingEventHasATaskType(t *testing.T) {
	for _, typ := range []string{
		scheduling.EventSlotReserved,
		scheduling.EventSlotReleased,
		scheduling.EventSlotBlocked,
		scheduling.EventSlotUnblocked,
		scheduling.EventAppointmentRescheduled,
		scheduling.EventAppointmentAdvanced,
	} {
		_, ok := TaskType(typ)
		assert.True(t, ok, typ)
	}
}

func TestAsynqPublisher_Publish(t *testing.T) {
	q := &fakeEnqueuer{}
	p := newPublisher(q, zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), sampleEvent(scheduling.EventSlotReserved)))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeSlotReserved, q.tasks[0].Type())

	q.err = errors.New("redis down")
	err := p.Publish(context.Background(), sampleEvent(scheduling.EventSlotReleased))
	assert.ErrorContains(t, err, "redis down")
}

func TestServeMux_DispatchesDecodedEvent(t *testing.T) {
	var got []string
	h := HandlerFunc(func(_ context.Context, taskType string, ev scheduling.Event) error {
		got = append(got, taskType+"|"+ev.Type)
		return nil
	})
	mux := NewServeMux(h, zerolog.Nop())

	task, _, err := NewEventTask(sampleEvent(scheduling.EventSlotReleased))
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	assert.Equal(t, []string{TypeSlotReleased + "|" + scheduling.EventSlotReleased}, got)

	err = mux.ProcessTask(context.Background(), asynq.NewTask(TypeSlotReserved, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Len(t, got, 1)
}
