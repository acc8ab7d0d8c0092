package repository

import "errors"

var (
	// ErrNotFound is returned when no incident exists for a ticket id.
	ErrNotFound = errors.New("incident not found")
	// ErrTicketClosed is returned when a write targets a CLOSED incident.
	ErrTicketClosed = errors.New("incident is closed")
)
