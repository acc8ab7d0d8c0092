package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// TaskKind names the work a Task carries.
type TaskKind string

const (
	// TaskIntake stores a new incident and starts its pipeline.
	TaskIntake TaskKind = "intake"
	// TaskProcess re-drives the pipeline for a stored incident.
	TaskProcess TaskKind = "process"
)

// Task is the envelope carried on the intake queue.
type Task struct {
	Kind                  TaskKind            `json:"task"`
	TicketID              string              `json:"ticketId,omitempty"`
	Event                 *domain.IntakeEvent `json:"event,omitempty"`
	ClearFailedEnrichment bool                `json:"clearFailedEnrichment,omitempty"`
	Attempt               int                 `json:"attempt"`
}

// Validate checks the envelope carries what its kind needs.
func (t Task) Validate() error {
	switch t.Kind {
	case TaskIntake:
		if t.Event == nil || t.Event.TicketID == "" {
			return fmt.Errorf("intake task without ticket id")
		}
	case TaskProcess:
		if t.TicketID == "" {
			return fmt.Errorf("process task without ticket id")
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return nil
}

// ID returns the ticket the task is about.
func (t Task) ID() string {
	if t.Kind == TaskIntake && t.Event != nil {
		return t.Event.TicketID
	}
	return t.TicketID
}

// PushTask encodes and enqueues task.
func PushTask(ctx context.Context, q Queue, name string, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.Push(ctx, name, payload)
}

// PopTask waits for the next task. It returns nil, nil on timeout.
func PopTask(ctx context.Context, q Queue, name string, timeout time.Duration) (*Task, error) {
	payload, err := q.Pop(ctx, name, timeout)
	if err != nil || payload == nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, &DecodeError{Payload: payload, Err: err}
	}
	return &task, nil
}

// DecodeError wraps a payload that is not a Task. Such payloads are dropped.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string { return "decode task: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
