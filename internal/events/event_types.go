package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketClosed     EventType = "ticket_closed"
	EventTicketRouted     EventType = "ticket_routed"
	EventEnrichmentFailed EventType = "enrichment_failed"
)

// Event represents a pipeline outcome published to in-process subscribers.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(eventType EventType, ticketID string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Reason string `json:"reason"`
	// Stage is the pipeline stage that closed the ticket (blocklist or route).
	Stage string `json:"stage"`
}

// TicketRoutedPayload payload.
type TicketRoutedPayload struct {
	Status       domain.TicketStatus  `json:"status"`
	Destinations []domain.Destination `json:"destinations"`
	Failed       []domain.Destination `json:"failed,omitempty"`
}

// EnrichmentFailedPayload payload.
type EnrichmentFailedPayload struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}
