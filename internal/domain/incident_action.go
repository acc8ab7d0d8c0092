package domain

import "time"

// IncidentAction is one line of a ticket's action log.
type IncidentAction struct {
	ID        string
	TicketID  string
	Message   string
	CreatedAt time.Time
}
