package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

type sliceQueue struct {
	mu    sync.Mutex
	items map[string][][]byte
}

func (s *sliceQueue) Push(_ context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[string][][]byte{}
	}
	s.items[name] = append(s.items[name], payload)
	return nil
}

func (s *sliceQueue) Pop(_ context.Context, name string, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items[name]) == 0 {
		return nil, nil
	}
	head := s.items[name][0]
	s.items[name] = s.items[name][1:]
	return head, nil
}

func TestPushPopTask(t *testing.T) {
	q := &sliceQueue{}
	ctx := context.Background()
	task := Task{Kind: TaskIntake, Event: &domain.IntakeEvent{TicketID: "T1", Type: domain.TicketTypePhishing}}
	require.NoError(t, PushTask(ctx, q, "intake", task))

	got, err := PopTask(ctx, q, "intake", time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T1", got.ID())
	assert.NoError(t, got.Validate())

	empty, err := PopTask(ctx, q, "intake", time.Second)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestPopTask_DecodeError(t *testing.T) {
	q := &sliceQueue{}
	require.NoError(t, q.Push(context.Background(), "intake", []byte("not json")))

	_, err := PopTask(context.Background(), q, "intake", time.Second)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, []byte("not json"), decodeErr.Payload)
}

func TestTaskValidate(t *testing.T) {
	assert.NoError(t, Task{Kind: TaskProcess, TicketID: "T1"}.Validate())
	assert.Error(t, Task{Kind: TaskProcess}.Validate())
	assert.Error(t, Task{Kind: TaskIntake}.Validate())
	assert.Error(t, Task{Kind: "other", TicketID: "T1"}.Validate())
}
