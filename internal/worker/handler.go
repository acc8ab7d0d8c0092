package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/pipeline"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
	"github.com/gdsec-test/dcu-middleware/internal/repository"
)

// ErrInvalidTask marks a task envelope that can never be handled.
var ErrInvalidTask = errors.New("invalid task")

// IncidentStore is what the handler needs from the incident repository.
type IncidentStore interface {
	Create(ctx context.Context, ticket *domain.Ticket) (bool, error)
	RemoveField(ctx context.Context, ticketID, field string) (*domain.Ticket, error)
}

// Processor runs the ticket pipeline.
type Processor interface {
	Process(ctx context.Context, ticketID string) (pipeline.Outcome, error)
}

// Handler executes one task.
type Handler struct {
	incidents IncidentStore
	pipeline  Processor
	timeLimit time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler builds a task handler. timeLimit bounds each task; zero disables it.
func NewHandler(incidents IncidentStore, processor Processor, timeLimit time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		incidents: incidents,
		pipeline:  processor,
		timeLimit: timeLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle runs task under the per-ticket deadline.
func (h *Handler) Handle(ctx context.Context, task queue.Task) (pipeline.Outcome, error) {
	if err := task.Validate(); err != nil {
		return pipeline.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if h.timeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeLimit)
		defer cancel()
	}

	switch task.Kind {
	case queue.TaskIntake:
		return h.accept(ctx, *task.Event)
	default:
		return h.process(ctx, task.TicketID, task.ClearFailedEnrichment)
	}
}

// accept stores a new incident and runs its pipeline. Events for tickets
// already stored are dropped; duplicates are stored but never processed.
func (h *Handler) accept(ctx context.Context, event domain.IntakeEvent) (pipeline.Outcome, error) {
	outcome := pipeline.Outcome{TicketID: event.TicketID}
	ticket := event.NewTicket(h.now().UTC())
	created, err := h.incidents.Create(ctx, ticket)
	if err != nil {
		return outcome, &IntakeError{TicketID: event.TicketID, Err: err}
	}
	if !created {
		h.logger.Info("incident already stored, dropping intake", zap.String("ticket_id", event.TicketID))
		outcome.Skipped = true
		return outcome, nil
	}
	if ticket.Status == domain.TicketStatusDuplicate {
		h.logger.Info("duplicate ticket stored", zap.String("ticket_id", event.TicketID))
		outcome.Status = ticket.Status
		return outcome, nil
	}
	return h.pipeline.Process(ctx, event.TicketID)
}

func (h *Handler) process(ctx context.Context, ticketID string, clearFailed bool) (pipeline.Outcome, error) {
	if clearFailed {
		_, err := h.incidents.RemoveField(ctx, ticketID, domain.FieldFailedEnrichment)
		switch {
		case errors.Is(err, repository.ErrTicketClosed):
			// Process reports the skip.
		case err != nil:
			return pipeline.Outcome{TicketID: ticketID}, fmt.Errorf("clear failed enrichment on %s: %w", ticketID, err)
		}
	}
	return h.pipeline.Process(ctx, ticketID)
}

// IntakeError means the incident could not be stored; the intake event itself
// must be delivered again.
type IntakeError struct {
	TicketID string
	Err      error
}

func (e *IntakeError) Error() string {
	return fmt.Sprintf("store incident %s: %v", e.TicketID, e.Err)
}

func (e *IntakeError) Unwrap() error { return e.Err }
