package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gdsec-test/dcu-middleware/internal/api/dto"
	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
	"github.com/gdsec-test/dcu-middleware/internal/repository"
	apperrors "github.com/gdsec-test/dcu-middleware/pkg/util/errorutil"
)

// TicketReader loads stored incidents.
type TicketReader interface {
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// ActionHistory lists a ticket's action log.
type ActionHistory interface {
	History(ctx context.Context, ticketID string) ([]domain.IncidentAction, error)
}

// TicketsHandler exposes stored incidents to operators.
type TicketsHandler struct {
	incidents TicketReader
	actions   ActionHistory
	queue     queue.Queue
	queueName string
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(incidents TicketReader, actions ActionHistory, q queue.Queue, queueName string) *TicketsHandler {
	return &TicketsHandler{incidents: incidents, actions: actions, queue: q, queueName: queueName}
}

// GetTicket GET /v1/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketResponse{Ticket: ticket, HostedStatus: ticket.HostedStatus()}})
}

// ListActions GET /v1/tickets/:id/actions.
func (h *TicketsHandler) ListActions(c *fiber.Ctx) error {
	if _, err := h.load(c); err != nil {
		return err
	}
	actions, err := h.actions.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.ActionResponse, 0, len(actions))
	for _, a := range actions {
		items = append(items, dto.ActionResponse{ID: a.ID, Message: a.Message, CreatedAt: a.CreatedAt})
	}
	return c.JSON(fiber.Map{"data": items})
}

// Process POST /v1/tickets/:id/process.
func (h *TicketsHandler) Process(c *fiber.Ctx) error {
	ticket, err := h.load(c)
	if err != nil {
		return err
	}
	if ticket.IsClosed() {
		return apperrors.NewConflict("ticket already closed", map[string]any{"close_reason": ticket.CloseReason})
	}
	var req dto.ProcessRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	task := queue.Task{Kind: queue.TaskProcess, TicketID: ticket.TicketID, ClearFailedEnrichment: req.ClearFailedEnrichment}
	if err := queue.PushTask(c.UserContext(), h.queue, h.queueName, task); err != nil {
		return apperrors.NewUnavailable("intake queue unavailable", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.TaskAccepted{
		TicketID: ticket.TicketID,
		Task:     string(task.Kind),
	}})
}

func (h *TicketsHandler) load(c *fiber.Ctx) (*domain.Ticket, error) {
	id := c.Params("id")
	ticket, err := h.incidents.Get(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}
