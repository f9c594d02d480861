package consumers

import (
	"context"
	"errors"

	"github.com/buildpass/buildpass-backend/internal/legality/service"
	apperrors "github.com/buildpass/buildpass-backend/pkg/errors"
	"github.com/buildpass/buildpass-backend/pkg/logger"
	"github.com/buildpass/buildpass-backend/pkg/messaging"
)

// QueueModificationEvents is the queue the legality service reads modification events from
const QueueModificationEvents = "legality-service.modification-events"

// Recomputer refreshes the stored legality snapshot of a modification
type Recomputer interface {
	Recompute(ctx context.Context, modificationID string) (*service.RecomputeResult, error)
}

// ModificationEventConsumer recomputes snapshots when modifications or their evidence change
type ModificationEventConsumer struct {
	consumer *messaging.Consumer
	writer   Recomputer
	logger   *logger.Logger
}

// NewModificationEventConsumer creates a new modification event consumer
func NewModificationEventConsumer(rmq *messaging.RabbitMQ, writer Recomputer, log *logger.Logger) (*ModificationEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueModificationEvents, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeModificationEvents, "modification.#"); err != nil {
		return nil, err
	}

	c := newModificationEventConsumer(writer, log)
	c.consumer = consumer

	for _, eventType := range c.EventTypes() {
		consumer.RegisterHandler(eventType, c.HandleModificationEvent)
	}

	return c, nil
}

func newModificationEventConsumer(writer Recomputer, log *logger.Logger) *ModificationEventConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &ModificationEventConsumer{writer: writer, logger: log.WithComponent("modification_consumer")}
}

// NewModificationEventHandler returns a consumer without a queue, for handling events directly
func NewModificationEventHandler(writer Recomputer, log *logger.Logger) *ModificationEventConsumer {
	return newModificationEventConsumer(writer, log)
}

// EventTypes lists the events that trigger a recompute
func (c *ModificationEventConsumer) EventTypes() []string {
	return []string{
		messaging.EventModificationCreated,
		messaging.EventModificationEvidenceAdded,
		messaging.EventModificationUpdated,
	}
}

// Start starts consuming messages
func (c *ModificationEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleModificationEvent recomputes the snapshot of the event's modification.
// Outcomes that a redelivery cannot improve are acknowledged: a deleted
// modification, a malformed payload and incomplete listing propagation, which
// the next recompute repairs.
func (c *ModificationEventConsumer) HandleModificationEvent(ctx context.Context, event *messaging.Event) error {
	var data messaging.ModificationEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.NoRetry(err)
	}
	if data.ModificationID == "" {
		return messaging.NoRetry(errors.New("modification event without modification_id"))
	}

	log := c.logger.WithModificationID(data.ModificationID)
	log.Info().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Msg("received modification event")

	result, err := c.writer.Recompute(ctx, data.ModificationID)
	if err != nil {
		var propagation *service.PropagationError
		switch {
		case errors.As(err, &propagation):
			return messaging.NoRetry(err)
		case apperrors.Is(err, apperrors.ErrNotFound):
			log.Warn().Msg("modification no longer exists, skipping recompute")
			return messaging.NoRetry(err)
		}
		return err
	}

	log.Debug().
		Str("status", string(result.Snapshot.Status)).
		Bool("changed", result.Changed).
		Msg("snapshot recomputed from event")
	return nil
}
