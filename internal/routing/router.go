package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
)

// DispatchError records a failed delivery to one destination.
type DispatchError struct {
	Destination domain.Destination
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Destination, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Message is the payload delivered to downstream consumers.
type Message struct {
	Task     domain.Destination `json:"task"`
	TicketID string             `json:"ticketId"`
	Ticket   *domain.Ticket     `json:"ticket,omitempty"`
}

// Result describes one Route call. A non-empty Failed list is a partial
// failure: every other destination was still attempted.
type Result struct {
	Decision   Decision
	Dispatched []domain.Destination
	Failed     []*DispatchError
}

// Err joins the dispatch failures.
func (r Result) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// FailedDestinations lists the destinations that were not reached.
func (r Result) FailedDestinations() []domain.Destination {
	out := make([]domain.Destination, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Destination)
	}
	return out
}

// Router sends enriched tickets to their brand consumers. It never writes to
// the incident store.
type Router struct {
	transport Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewRouter builds a router.
func NewRouter(transport Transport, logger *zap.Logger, metrics *observability.Metrics) *Router {
	return &Router{transport: transport, logger: logger, metrics: metrics}
}

// Route computes the targets for ticket and dispatches one message per
// destination. A ticket whose only target is the regional partner is not
// dispatched; the caller closes it.
func (r *Router) Route(ctx context.Context, ticket *domain.Ticket) Result {
	dq := ticket.DomainQuery()
	decision := FindTargets(dq.HostBrand(), dq.RegistrarBrand())
	result := Result{Decision: decision}
	if decision.CloseAsForwarded {
		r.logger.Info("regional partner only, not dispatching", zap.String("ticket_id", ticket.TicketID))
		return result
	}

	seen := make(map[domain.Destination]struct{}, len(decision.Brands))
	for _, brand := range decision.Brands {
		destination, _ := brand.Destination()
		if _, dup := seen[destination]; dup {
			continue
		}
		seen[destination] = struct{}{}

		if err := r.dispatch(ctx, destination, Message{Task: destination, TicketID: ticket.TicketID, Ticket: ticket}); err != nil {
			result.Failed = append(result.Failed, err)
			continue
		}
		result.Dispatched = append(result.Dispatched, destination)
	}
	return result
}

// ForwardExternal hands a ticket to the external-report service.
func (r *Router) ForwardExternal(ctx context.Context, ticket *domain.Ticket) error {
	destination := domain.DestinationExternalReport
	if err := r.dispatch(ctx, destination, Message{Task: destination, TicketID: ticket.TicketID}); err != nil {
		return err
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, destination domain.Destination, msg Message) *DispatchError {
	payload, err := json.Marshal(msg)
	if err == nil {
		err = r.transport.Dispatch(ctx, destination, payload)
	}
	r.metrics.RecordDispatch(string(destination), err)
	if err != nil {
		r.logger.Error("routing dispatch failed",
			zap.String("ticket_id", msg.TicketID),
			zap.String("destination", string(destination)),
			zap.Error(err))
		return &DispatchError{Destination: destination, Err: err}
	}
	r.logger.Info("routed ticket",
		zap.String("ticket_id", msg.TicketID),
		zap.String("destination", string(destination)))
	return nil
}
