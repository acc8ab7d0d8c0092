package pipeline

import "github.com/gdsec-test/dcu-middleware/internal/domain"

// StageResult is what a stage hands to the next one: either the ticket to
// continue with, or the reason the run terminated.
type StageResult struct {
	Ticket     *domain.Ticket
	terminated bool
	Reason     string
}

// Continue passes ticket to the next stage.
func Continue(ticket *domain.Ticket) StageResult {
	return StageResult{Ticket: ticket}
}

// Terminated ends the run after ticket was closed with reason.
func Terminated(ticket *domain.Ticket, reason string) StageResult {
	return StageResult{Ticket: ticket, terminated: true, Reason: reason}
}

// IsTerminated reports whether later stages must be skipped.
func (r StageResult) IsTerminated() bool { return r.terminated }
