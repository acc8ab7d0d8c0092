package routing

import (
	"context"
	"fmt"

	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/queue"
)

// Transport delivers one routing message at least once.
type Transport interface {
	Dispatch(ctx context.Context, destination domain.Destination, payload []byte) error
}

// QueueTransport maps destinations onto named queues.
type QueueTransport struct {
	queue queue.Queue
	names map[domain.Destination]string
}

// NewQueueTransport builds the transport from the configured queue names.
func NewQueueTransport(q queue.Queue, cfg config.QueueConfig) *QueueTransport {
	return &QueueTransport{
		queue: q,
		names: map[domain.Destination]string{
			domain.DestinationGoDaddy:        cfg.GoDaddyBrand,
			domain.DestinationEMEA:           cfg.EMEABrand,
			domain.DestinationExternalReport: cfg.ExternalReport,
		},
	}
}

func (t *QueueTransport) Dispatch(ctx context.Context, destination domain.Destination, payload []byte) error {
	name, ok := t.names[destination]
	if !ok || name == "" {
		return fmt.Errorf("no queue configured for %s", destination)
	}
	return t.queue.Push(ctx, name, payload)
}
