package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/events"
)

// ActionStore persists the incident action log.
type ActionStore interface {
	Create(ctx context.Context, action *domain.IncidentAction) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.IncidentAction, error)
}

// ActionRecorder appends pipeline decisions to the incident's action log.
type ActionRecorder struct {
	actions    ActionStore
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// ActionDependencies bundles collaborators for the recorder.
type ActionDependencies struct {
	Actions    ActionStore
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewActionRecorder builds the recorder.
func NewActionRecorder(deps *ActionDependencies) *ActionRecorder {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionRecorder{
		actions:    deps.Actions,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to the events that leave an audit line.
func (r *ActionRecorder) RegisterHandlers() {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Subscribe(events.EventTicketClosed, r.handleTicketClosed)
	r.dispatcher.Subscribe(events.EventTicketRouted, r.handleTicketRouted)
}

// History returns the action log of ticketID, oldest first.
func (r *ActionRecorder) History(ctx context.Context, ticketID string) ([]domain.IncidentAction, error) {
	return r.actions.ListByTicket(ctx, ticketID)
}

func (r *ActionRecorder) handleTicketClosed(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClosedPayload)
	if !ok {
		return fmt.Errorf("ticket closed event %s: unexpected payload %T", event.ID, event.Payload)
	}
	return r.record(ctx, event.TicketID, "closed as "+payload.Reason)
}

func (r *ActionRecorder) handleTicketRouted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketRoutedPayload)
	if !ok {
		return fmt.Errorf("ticket routed event %s: unexpected payload %T", event.ID, event.Payload)
	}
	if payload.Status == domain.TicketStatusForwarded {
		return r.record(ctx, event.TicketID, "forwarded to external report service")
	}
	return nil
}

func (r *ActionRecorder) record(ctx context.Context, ticketID, message string) error {
	action := &domain.IncidentAction{TicketID: ticketID, Message: message}
	if err := r.actions.Create(ctx, action); err != nil {
		r.logger.Error("record incident action failed",
			zap.String("ticket_id", ticketID),
			zap.String("message", message),
			zap.Error(err))
		return err
	}
	return nil
}
