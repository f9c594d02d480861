package events

import (
	"context"

	"github.com/buildpass/buildpass-backend/pkg/logger"
	"github.com/buildpass/buildpass-backend/pkg/messaging"
)

// ServiceName is the event source of everything this package publishes
const ServiceName = "legality-service"

// LegalityEventPublisher publishes legality events. Publishing is best-effort:
// failures are logged and never returned to the caller.
type LegalityEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewLegalityEventPublisher creates a publisher on the legality exchange
func NewLegalityEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*LegalityEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLegalityEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher, e.g. a test double
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *LegalityEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LegalityEventPublisher{publisher: publisher, logger: log}
}

// PublishSnapshotUpdated announces a changed legality snapshot
func (p *LegalityEventPublisher) PublishSnapshotUpdated(ctx context.Context, data messaging.SnapshotUpdatedEvent) {
	if err := p.publisher.Publish(ctx, messaging.EventLegalitySnapshotUpdated, data); err != nil {
		p.logger.Error().Err(err).Str("modification_id", data.ModificationID).Msg("failed to publish snapshot updated event")
	}
}

// PublishEntriesImported announces a finished catalog import
func (p *LegalityEventPublisher) PublishEntriesImported(ctx context.Context, version string, count int) {
	data := messaging.ReferenceEntriesImportedEvent{CatalogVersion: version, Count: count}
	if err := p.publisher.Publish(ctx, messaging.EventReferenceEntriesImported, data); err != nil {
		p.logger.Error().Err(err).Str("catalog_version", version).Msg("failed to publish entries imported event")
	}
}
