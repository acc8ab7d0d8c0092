package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/events"
)

// UpstreamCloser tells the upstream abuse API a ticket was closed.
type UpstreamCloser interface {
	CloseIncident(ctx context.Context, ticketID, reason string) error
}

// NotificationService relays pipeline outcomes to systems outside the store. It
// is also the pipeline's upstream closer.
type NotificationService struct {
	dispatcher events.Dispatcher
	upstream   UpstreamCloser
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, upstream UpstreamCloser, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		upstream:   upstream,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleTicketClosed)
	n.dispatcher.Subscribe(events.EventTicketRouted, n.handleTicketRouted)
	n.dispatcher.Subscribe(events.EventEnrichmentFailed, n.handleEnrichmentFailed)
}

// CloseIncident closes ticketID in the upstream abuse API. It runs before the
// local close, so an error keeps the ticket open for the next delivery.
func (n *NotificationService) CloseIncident(ctx context.Context, ticketID, reason string) error {
	if n.upstream == nil {
		return nil
	}
	if err := n.upstream.CloseIncident(ctx, ticketID, reason); err != nil {
		n.logger.Error("upstream close failed",
			zap.String("ticket_id", ticketID),
			zap.String("reason", reason),
			zap.Error(err))
		return fmt.Errorf("close %s upstream: %w", ticketID, err)
	}
	n.logger.Info("closed upstream", zap.String("ticket_id", ticketID), zap.String("reason", reason))
	return nil
}

func (n *NotificationService) handleTicketClosed(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketClosedPayload)
	if !ok {
		return fmt.Errorf("ticket closed event %s: unexpected payload %T", event.ID, event.Payload)
	}
	n.logger.Info("TicketClosed",
		zap.String("ticket_id", event.TicketID),
		zap.String("reason", payload.Reason),
		zap.String("stage", payload.Stage))
	return nil
}

func (n *NotificationService) handleTicketRouted(_ context.Context, event events.Event) error {
	n.logger.Info("TicketRouted", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleEnrichmentFailed(_ context.Context, event events.Event) error {
	n.logger.Warn("EnrichmentFailed", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}
