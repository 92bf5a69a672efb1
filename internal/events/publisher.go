package events

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinician-slot-scheduling/internal/scheduling"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqPublisher hands committed booking events to the notification queue.
type AsynqPublisher struct {
	client enqueuer
	log    zerolog.Logger
}

func NewAsynqPublisher(client *asynq.Client, log zerolog.Logger) *AsynqPublisher {
	return newPublisher(client, log)
}

func newPublisher(client enqueuer, log zerolog.Logger) *AsynqPublisher {
	return &AsynqPublisher{
		client: client,
		log:    log.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *AsynqPublisher) Publish(ctx context.Context, ev scheduling.Event) error {
	task, opts, err := NewEventTask(ev)
	if err != nil {
		return err
	}

	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	p.log.Debug().
		Str("task_id", info.ID).
		Str("task_type", task.Type()).
		Str("slot_id", ev.SlotID.String()).
		Msg("booking event enqueued")
	return nil
}

func RedisOpt(addr, username, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	}
}
