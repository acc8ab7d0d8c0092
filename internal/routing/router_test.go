package routing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
)

type recordingTransport struct {
	mu       sync.Mutex
	fail     map[domain.Destination]error
	messages map[domain.Destination][][]byte
}

func (r *recordingTransport) Dispatch(_ context.Context, destination domain.Destination, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[destination]; err != nil {
		return err
	}
	if r.messages == nil {
		r.messages = map[domain.Destination][][]byte{}
	}
	r.messages[destination] = append(r.messages[destination], payload)
	return nil
}

func ticketWithBrands(host, registrar string) *domain.Ticket {
	return &domain.Ticket{
		TicketID: "T1",
		Data: &domain.EnrichmentData{DomainQuery: &domain.DomainQuery{
			Host:      &domain.Host{Brand: host},
			Registrar: &domain.Registrar{Brand: registrar},
		}},
	}
}

func TestRouter_DispatchesFullTicket(t *testing.T) {
	transport := &recordingTransport{}
	metrics := observability.NewMetrics()
	router := NewRouter(transport, zap.NewNop(), metrics)

	res := router.Route(context.Background(), ticketWithBrands("GODADDY", "123REG"))
	require.NoError(t, res.Err())
	assert.Equal(t, []domain.Destination{domain.DestinationGoDaddy}, res.Dispatched)
	require.Len(t, transport.messages[domain.DestinationGoDaddy], 1)

	var msg Message
	require.NoError(t, json.Unmarshal(transport.messages[domain.DestinationGoDaddy][0], &msg))
	assert.Equal(t, "T1", msg.TicketID)
	require.NotNil(t, msg.Ticket)
	assert.Equal(t, "GODADDY", msg.Ticket.DomainQuery().Host.Brand)
	assert.Equal(t, int64(1), metrics.Snapshot().Dispatches[string(domain.DestinationGoDaddy)])
}

func TestRouter_PartialFailureStillDispatchesOthers(t *testing.T) {
	transport := &recordingTransport{fail: map[domain.Destination]error{
		domain.DestinationGoDaddy: errors.New("queue down"),
	}}
	router := NewRouter(transport, zap.NewNop(), observability.NewMetrics())

	res := router.Route(context.Background(), ticketWithBrands("EMEA", "GODADDY"))
	assert.Equal(t, []domain.Destination{domain.DestinationEMEA}, res.Dispatched)
	assert.Equal(t, []domain.Destination{domain.DestinationGoDaddy}, res.FailedDestinations())
	assert.ErrorContains(t, res.Err(), "queue down")
	assert.Len(t, transport.messages[domain.DestinationEMEA], 1)
}

func TestRouter_PartnerOnlyIsNotDispatched(t *testing.T) {
	transport := &recordingTransport{}
	router := NewRouter(transport, zap.NewNop(), nil)

	res := router.Route(context.Background(), ticketWithBrands("EMEA", "EMEA"))
	assert.True(t, res.Decision.CloseAsForwarded)
	assert.Empty(t, res.Dispatched)
	assert.Empty(t, transport.messages)
}

func TestRouter_NoEnrichmentGoesToOwnBrand(t *testing.T) {
	transport := &recordingTransport{}
	router := NewRouter(transport, zap.NewNop(), nil)

	res := router.Route(context.Background(), &domain.Ticket{TicketID: "T2"})
	assert.Equal(t, []domain.Destination{domain.DestinationGoDaddy}, res.Dispatched)
}

func TestRouter_ForwardExternal(t *testing.T) {
	transport := &recordingTransport{}
	router := NewRouter(transport, zap.NewNop(), nil)

	require.NoError(t, router.ForwardExternal(context.Background(), &domain.Ticket{TicketID: "T3"}))
	require.Len(t, transport.messages[domain.DestinationExternalReport], 1)

	transport.fail = map[domain.Destination]error{domain.DestinationExternalReport: errors.New("down")}
	err := router.ForwardExternal(context.Background(), &domain.Ticket{TicketID: "T3"})
	var dispatchErr *DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Equal(t, domain.DestinationExternalReport, dispatchErr.Destination)
}

type pushRecorder struct {
	names []string
}

func (p *pushRecorder) Push(_ context.Context, name string, _ []byte) error {
	p.names = append(p.names, name)
	return nil
}

func (p *pushRecorder) Pop(context.Context, string, time.Duration) ([]byte, error) {
	return nil, nil
}

func TestQueueTransport_MapsDestinations(t *testing.T) {
	q := &pushRecorder{}
	transport := NewQueueTransport(q, config.QueueConfig{GoDaddyBrand: "gd", EMEABrand: "emea"})

	require.NoError(t, transport.Dispatch(context.Background(), domain.DestinationGoDaddy, nil))
	require.NoError(t, transport.Dispatch(context.Background(), domain.DestinationEMEA, nil))
	assert.Error(t, transport.Dispatch(context.Background(), domain.DestinationExternalReport, nil))
	assert.Equal(t, []string{"gd", "emea"}, q.names)
}
