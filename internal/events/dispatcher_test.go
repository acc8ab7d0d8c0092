package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_PublishRunsAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		calls = append(calls, "first:"+e.TicketID)
		return errors.New("boom")
	})
	d.Subscribe(EventTicketClosed, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketRouted, func(context.Context, Event) error {
		calls = append(calls, "routed")
		return nil
	})

	err := d.Publish(context.Background(), NewEvent(EventTicketClosed, "T1", TicketClosedPayload{Reason: "false_positive"}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"first:T1", "second:T1"}, calls)
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventEnrichmentFailed, "T9", EnrichmentFailedPayload{Attempts: 3})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "T9", e.TicketID)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEqual(t, e.ID, NewEvent(EventEnrichmentFailed, "T9", nil).ID)
}
