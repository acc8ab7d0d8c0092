package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/enrichment"
	"github.com/gdsec-test/dcu-middleware/internal/repository"
	"github.com/gdsec-test/dcu-middleware/internal/routing"
)

type memIncidents struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	updates int
	closes  int
}

func newMemIncidents(tickets ...*domain.Ticket) *memIncidents {
	m := &memIncidents{tickets: make(map[string]*domain.Ticket)}
	for _, t := range tickets {
		m.tickets[t.TicketID] = t
	}
	return m
}

func clone(t *domain.Ticket) *domain.Ticket {
	raw, _ := json.Marshal(t)
	var out domain.Ticket
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (m *memIncidents) Get(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(t), nil
}

func (m *memIncidents) mutate(id string, fn func(*domain.Ticket)) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.IsClosed() {
		return nil, repository.ErrTicketClosed
	}
	fn(t)
	t.LastModified = time.Now().UTC()
	return clone(t), nil
}

func (m *memIncidents) Update(_ context.Context, id string, patch domain.TicketPatch) (*domain.Ticket, error) {
	return m.mutate(id, func(t *domain.Ticket) {
		m.updates++
		patch.Apply(t)
	})
}

func (m *memIncidents) RemoveField(_ context.Context, id, field string) (*domain.Ticket, error) {
	return m.mutate(id, func(t *domain.Ticket) {
		domain.TicketPatch{Unset: []string{field}}.Apply(t)
	})
}

func (m *memIncidents) Close(_ context.Context, id, reason string) (*domain.Ticket, error) {
	return m.mutate(id, func(t *domain.Ticket) {
		m.closes++
		now := time.Now().UTC()
		t.Status = domain.TicketStatusClosed
		t.CloseReason = reason
		t.ClosedAt = &now
	})
}

func (m *memIncidents) stored(id string) *domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.tickets[id])
}

type memBlocklist struct {
	records map[string]*domain.BlocklistRecord
	err     error
	lookups []string
}

func (b *memBlocklist) Lookup(_ context.Context, entity string) (*domain.BlocklistRecord, error) {
	b.lookups = append(b.lookups, entity)
	if b.err != nil {
		return nil, b.err
	}
	return b.records[entity], nil
}

type stubEnricher struct {
	mu      sync.Mutex
	data    *domain.EnrichmentData
	err     error
	calls   int
	domains []string
	host    *domain.Host

	product        *domain.Host
	shopper        *domain.Host
	productLookups []productLookup
	shopperLookups []string
}

type productLookup struct {
	domain, guid, ip, product string
}

func (s *stubEnricher) Query(_ context.Context, name, _ string) (*domain.EnrichmentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.domains = append(s.domains, name)
	if s.err != nil {
		return nil, s.err
	}
	raw, _ := json.Marshal(s.data)
	var out domain.EnrichmentData
	_ = json.Unmarshal(raw, &out)
	return &out, nil
}

func (s *stubEnricher) EntitlementHost(context.Context, string, string) (*domain.Host, error) {
	if s.host == nil {
		return nil, errors.New("no entitlement")
	}
	h := *s.host
	return &h, nil
}

func (s *stubEnricher) ProductLookup(_ context.Context, domainName, guid, ip, product string) (*domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productLookups = append(s.productLookups, productLookup{domain: domainName, guid: guid, ip: ip, product: product})
	if s.product == nil {
		return nil, &enrichment.TransportError{Op: "product lookup", StatusCode: 404}
	}
	h := *s.product
	return &h, nil
}

func (s *stubEnricher) ShopperLookup(_ context.Context, shopperID string) (*domain.Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shopperLookups = append(s.shopperLookups, shopperID)
	if s.shopper == nil {
		return &domain.Host{}, nil
	}
	h := *s.shopper
	return &h, nil
}

// blockingEnricher never answers; each query waits for its deadline.
type blockingEnricher struct {
	stubEnricher
}

func (b *blockingEnricher) Query(ctx context.Context, name, _ string) (*domain.EnrichmentData, error) {
	b.mu.Lock()
	b.calls++
	b.domains = append(b.domains, name)
	b.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

type flakyUpstream struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (u *flakyUpstream) CloseIncident(_ context.Context, ticketID, reason string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, ticketID+"|"+reason)
	if u.failures > 0 {
		u.failures--
		return errors.New("abuse api: status 503")
	}
	return nil
}

type stubIdentity struct {
	shoppers  map[string]string
	customers map[string]string
}

func (s stubIdentity) ResolveShopperID(_ context.Context, customerID string) (string, error) {
	return s.shoppers[customerID], nil
}

func (s stubIdentity) ResolveCustomerID(_ context.Context, shopperID string) (string, error) {
	return s.customers[shopperID], nil
}

type stubHosts map[string]string

func (h stubHosts) LookupHost(_ context.Context, host string) ([]string, error) {
	if ip, ok := h[host]; ok {
		return []string{ip}, nil
	}
	return nil, errors.New("no such host")
}

type recordingTransport struct {
	mu     sync.Mutex
	sent   []domain.Destination
	failOn map[domain.Destination]error
}

func (r *recordingTransport) Dispatch(_ context.Context, destination domain.Destination, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[destination]; err != nil {
		return err
	}
	r.sent = append(r.sent, destination)
	return nil
}

var _ RouteDispatcher = (*routing.Router)(nil)
