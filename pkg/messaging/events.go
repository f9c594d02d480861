package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Modification events, published by the build passport service
	EventModificationCreated       = "modification.created"
	EventModificationEvidenceAdded = "modification.evidence.added"
	EventModificationUpdated       = "modification.updated"

	// Legality events
	EventLegalitySnapshotUpdated = "legality.snapshot.updated"

	// Reference catalog events
	EventReferenceEntriesImported = "reference.entries.imported"
)

// Exchange names
const (
	ExchangeModificationEvents = "modification.events"
	ExchangeLegalityEvents     = "legality.events"
	ExchangeDeadLetter         = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ModificationEvent is published when a modification or its evidence changes.
// Only the id is required; the recompute reloads everything else.
type ModificationEvent struct {
	ModificationID string `json:"modification_id"`
	VehicleID      string `json:"vehicle_id,omitempty"`
	DocumentID     string `json:"document_id,omitempty"`
}

// SnapshotUpdatedEvent is published after a legality snapshot changed
type SnapshotUpdatedEvent struct {
	ModificationID       string    `json:"modification_id"`
	Status               string    `json:"status"`
	PreviousStatus       string    `json:"previous_status,omitempty"`
	ApprovalType         string    `json:"approval_type,omitempty"`
	ReferenceFingerprint string    `json:"reference_fingerprint,omitempty"`
	ListingCount         int       `json:"listing_count"`
	CheckedAt            time.Time `json:"checked_at"`
}

// ReferenceEntriesImportedEvent is published after a catalog import
type ReferenceEntriesImportedEvent struct {
	CatalogVersion string `json:"catalog_version"`
	Count          int    `json:"count"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
