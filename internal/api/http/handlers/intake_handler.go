package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/api/dto"
	"github.com/gdsec-test/dcu-middleware/internal/auth"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
	apperrors "github.com/gdsec-test/dcu-middleware/pkg/util/errorutil"
)

// IntakeHandler accepts new abuse tickets onto the intake queue.
type IntakeHandler struct {
	queue     queue.Queue
	queueName string
	logger    *zap.Logger
}

// NewIntakeHandler constructs handler.
func NewIntakeHandler(q queue.Queue, queueName string, logger *zap.Logger) *IntakeHandler {
	return &IntakeHandler{queue: q, queueName: queueName, logger: logger}
}

// Submit POST /v1/intake.
func (h *IntakeHandler) Submit(c *fiber.Ctx) error {
	var req dto.IntakeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}
	event := req.Event()
	if !event.Type.Valid() {
		return apperrors.NewValidationError("unknown ticket type", map[string]any{"type": req.Type})
	}

	task := queue.Task{Kind: queue.TaskIntake, Event: &event}
	if err := queue.PushTask(c.UserContext(), h.queue, h.queueName, task); err != nil {
		return apperrors.NewUnavailable("intake queue unavailable", err)
	}
	caller, _ := auth.ServiceFromContext(c)
	h.logger.Info("ticket accepted", zap.String("ticket_id", event.TicketID), zap.String("caller", caller))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.TaskAccepted{
		TicketID: event.TicketID,
		Task:     string(task.Kind),
	}})
}
