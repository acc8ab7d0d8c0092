package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gdsec-test/dcu-middleware/internal/config"
	"github.com/gdsec-test/dcu-middleware/internal/domain"
	"github.com/gdsec-test/dcu-middleware/internal/enrichment"
	"github.com/gdsec-test/dcu-middleware/internal/events"
	"github.com/gdsec-test/dcu-middleware/internal/observability"
	"github.com/gdsec-test/dcu-middleware/internal/repository"
	"github.com/gdsec-test/dcu-middleware/internal/routing"
)

// IncidentStore is the subset of the incident repository the pipeline uses.
type IncidentStore interface {
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Update(ctx context.Context, ticketID string, patch domain.TicketPatch) (*domain.Ticket, error)
	RemoveField(ctx context.Context, ticketID, field string) (*domain.Ticket, error)
	Close(ctx context.Context, ticketID, reason string) (*domain.Ticket, error)
}

// Enricher queries the record-enrichment service.
type Enricher interface {
	Query(ctx context.Context, domainName, path string) (*domain.EnrichmentData, error)
	EntitlementHost(ctx context.Context, customerID, entitlementID string) (*domain.Host, error)
	ProductLookup(ctx context.Context, domainName, guid, ip, product string) (*domain.Host, error)
	ShopperLookup(ctx context.Context, shopperID string) (*domain.Host, error)
}

// UpstreamCloser tells the upstream abuse API a ticket is being closed.
type UpstreamCloser interface {
	CloseIncident(ctx context.Context, ticketID, reason string) error
}

// IdentityResolver maps between shopper ids and customer ids.
type IdentityResolver interface {
	ResolveShopperID(ctx context.Context, customerID string) (string, error)
	ResolveCustomerID(ctx context.Context, shopperID string) (string, error)
}

// HostResolver resolves host names; *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// RouteDispatcher delivers tickets downstream.
type RouteDispatcher interface {
	Route(ctx context.Context, ticket *domain.Ticket) routing.Result
	ForwardExternal(ctx context.Context, ticket *domain.Ticket) error
}

// Dependencies bundles the collaborators of a Pipeline.
type Dependencies struct {
	Incidents IncidentStore
	Blocklist BlocklistStore
	Enricher  Enricher
	Identity  IdentityResolver
	Hosts     HostResolver
	Router    RouteDispatcher
	Upstream  UpstreamCloser
	Validator *enrichment.Validator
	Events    events.Dispatcher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Outcome summarises one Process call.
type Outcome struct {
	TicketID string
	// Skipped is set when the ticket was already CLOSED.
	Skipped          bool
	Closed           bool
	CloseReason      string
	Status           domain.TicketStatus
	FailedEnrichment bool
	Routing          *routing.Result
	// RoutingFailed marks a partial routing failure. The ticket is not closed,
	// so processing it again is safe.
	RoutingFailed bool
}

// Pipeline runs enrich, blocklist and route for one ticket at a time.
type Pipeline struct {
	deps Dependencies
	cfg  config.PipelineConfig
}

// New builds a pipeline.
func New(deps Dependencies, cfg config.PipelineConfig) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NewInMemoryDispatcher()
	}
	if deps.Validator == nil {
		deps.Validator = enrichment.NewValidator(cfg.RegisteredOnlyProducts)
	}
	return &Pipeline{deps: deps, cfg: cfg}
}

type stage struct {
	name string
	run  func(context.Context, *domain.Ticket) (StageResult, error)
}

// Process runs the three stages for ticketID. A CLOSED ticket is left alone,
// which makes repeated delivery of the same ticket harmless.
func (p *Pipeline) Process(ctx context.Context, ticketID string) (Outcome, error) {
	outcome := Outcome{TicketID: ticketID}
	logger := p.deps.Logger.With(zap.String("ticket_id", ticketID))

	ticket, err := p.deps.Incidents.Get(ctx, ticketID)
	if err != nil {
		return outcome, fmt.Errorf("load incident %s: %w", ticketID, err)
	}
	if ticket.IsClosed() {
		logger.Info("ticket already closed, skipping")
		outcome.Skipped = true
		outcome.Status = ticket.Status
		return outcome, nil
	}

	stages := []stage{
		{name: "enrich", run: p.enrich},
		{name: "blocklist", run: p.checkBlocklist},
		{name: "route", run: func(ctx context.Context, t *domain.Ticket) (StageResult, error) {
			return p.route(ctx, t, &outcome)
		}},
	}

	for _, s := range stages {
		res, err := s.run(ctx, ticket)
		if errors.Is(err, repository.ErrTicketClosed) {
			// Another delivery closed the ticket while this one was running.
			logger.Info("ticket closed concurrently", zap.String("stage", s.name))
			outcome.Skipped = true
			outcome.Status = domain.TicketStatusClosed
			return outcome, nil
		}
		if err != nil {
			return outcome, fmt.Errorf("%s stage for %s: %w", s.name, ticketID, err)
		}
		ticket = res.Ticket
		outcome.FailedEnrichment = ticket.FailedEnrichment
		outcome.Status = ticket.Status
		if res.IsTerminated() {
			logger.Info("pipeline terminated", zap.String("stage", s.name), zap.String("reason", res.Reason))
			outcome.Closed = true
			outcome.CloseReason = res.Reason
			return outcome, nil
		}
	}
	return outcome, nil
}

// enrich resolves identities, queries the enrichment service and merges the
// result in a single update. Enrichment failure is recorded on the ticket and
// never stops the run.
func (p *Pipeline) enrich(ctx context.Context, t *domain.Ticket) (StageResult, error) {
	logger := p.deps.Logger.With(zap.String("ticket_id", t.TicketID))
	var patch domain.TicketPatch

	p.normaliseReporter(ctx, t, &patch)
	p.fillMetadataShopper(ctx, t, &patch)

	target, ip := p.enrichmentDomain(ctx, t)
	path := sourcePath(t.Source)

	var data *domain.EnrichmentData
	attempts, err := p.retry(ctx, func(ctx context.Context) error {
		res, err := p.deps.Enricher.Query(ctx, target, path)
		if err != nil {
			return err
		}
		md := t.Metadata
		switch {
		case md != nil && md.EntitlementID != "" && md.CustomerID != "":
			host, err := p.deps.Enricher.EntitlementHost(ctx, md.CustomerID, md.EntitlementID)
			if err != nil {
				return err
			}
			res.DomainQuery.Host = host
		case t.AbuseVerified:
			host, err := p.verifiedHost(ctx, res.DomainQuery.Host, md, target, ip)
			if err != nil {
				return err
			}
			res.DomainQuery.Host = host
		}
		data = res
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return StageResult{}, ctx.Err()
	}

	succeeded := err == nil && p.deps.Validator.Succeeded(data.DomainQuery)
	if err == nil {
		patch.Data = data
	}
	if succeeded {
		if t.FailedEnrichment {
			patch.Unset = append(patch.Unset, domain.FieldFailedEnrichment)
		}
	} else {
		failed := true
		patch.FailedEnrichment = &failed
		reason := "incomplete enrichment"
		if err != nil {
			reason = err.Error()
		}
		logger.Warn("enrichment failed", zap.String("domain", target), zap.Int("attempts", attempts), zap.String("reason", reason))
		p.publish(ctx, events.NewEvent(events.EventEnrichmentFailed, t.TicketID, events.EnrichmentFailedPayload{
			Attempts: attempts,
			Error:    reason,
		}))
	}
	p.deps.Metrics.RecordEnrichment(succeeded)

	updated, err := p.deps.Incidents.Update(ctx, t.TicketID, patch)
	if err != nil {
		return StageResult{}, err
	}
	return Continue(updated), nil
}

// verifiedHost reconciles the enriched host with the product facts of an
// abuse-verified report. Those facts win: when product or guid differ the host
// is rebuilt from a product lookup and the owning shopper's account.
func (p *Pipeline) verifiedHost(ctx context.Context, enriched *domain.Host, md *domain.Metadata, name, ip string) (*domain.Host, error) {
	var want domain.Metadata
	if md != nil {
		want = *md
	}
	var host domain.Host
	if enriched != nil {
		host = *enriched
	}

	mismatch := false
	if want.Product != host.Product {
		host.Product = want.Product
		// A different product means the enriched guid is wrong too.
		host.GUID = ""
		mismatch = true
	}
	if want.GUID != host.GUID {
		host.GUID = want.GUID
		mismatch = true
	}
	if want.ShopperID != host.ShopperID {
		host.ShopperID = want.ShopperID
		host.ShopperCreateDate = ""
	}
	if !mismatch {
		return &host, nil
	}

	looked, err := p.deps.Enricher.ProductLookup(ctx, name, host.GUID, ip, host.Product)
	if err != nil {
		return nil, err
	}
	if looked.ShopperID != "" {
		shopper, err := p.deps.Enricher.ShopperLookup(ctx, looked.ShopperID)
		if err != nil {
			return nil, err
		}
		looked.MergeShopper(shopper)
	}
	return looked, nil
}

// checkBlocklist closes tickets with a pre-approved disposition. It only acts
// on complete enrichment of a blocklisted record.
func (p *Pipeline) checkBlocklist(ctx context.Context, t *domain.Ticket) (StageResult, error) {
	dq := t.DomainQuery()
	if dq == nil || !dq.Blacklist || t.FailedEnrichment {
		return Continue(t), nil
	}

	action, err := ResolveBlocklistAction(ctx, p.deps.Blocklist, CandidatesFor(t), p.cfg.EnrichOnSubdomain)
	if err != nil {
		var lookupErr *BlocklistLookupError
		if errors.As(err, &lookupErr) {
			lookupErr.TicketID = t.TicketID
		}
		return StageResult{}, err
	}
	if !action.ClosesTicket() {
		return Continue(t), nil
	}

	closed, err := p.closeTicket(ctx, t, string(action), "blocklist")
	if err != nil {
		return StageResult{}, err
	}
	return Terminated(closed, string(action)), nil
}

// route dispatches the ticket and records the resulting status.
func (p *Pipeline) route(ctx context.Context, t *domain.Ticket, outcome *Outcome) (StageResult, error) {
	if t.AbuseMeta == domain.AbuseMetaDSA {
		if err := p.deps.Router.ForwardExternal(ctx, t); err != nil {
			outcome.RoutingFailed = true
			return Continue(t), nil
		}
		return p.setStatus(ctx, t, domain.TicketStatusForwarded, []domain.Destination{domain.DestinationExternalReport}, nil)
	}

	res := p.deps.Router.Route(ctx, t)
	outcome.Routing = &res
	if res.Decision.CloseAsForwarded {
		closed, err := p.closeTicket(ctx, t, routing.CloseReasonForwarded, "route")
		if err != nil {
			return StageResult{}, err
		}
		return Terminated(closed, routing.CloseReasonForwarded), nil
	}

	if len(res.Failed) > 0 {
		outcome.RoutingFailed = true
		if len(res.Dispatched) == 0 {
			return Continue(t), nil
		}
	}
	if len(res.Decision.Brands) == 0 {
		dq := t.DomainQuery()
		p.deps.Logger.Warn("no known brand to route to, ticket left open",
			zap.String("ticket_id", t.TicketID),
			zap.String("host_brand", string(dq.HostBrand())),
			zap.String("registrar_brand", string(dq.RegistrarBrand())))
		p.deps.Metrics.RecordUnrouted()
	}
	return p.setStatus(ctx, t, domain.TicketStatusOpen, res.Dispatched, res.FailedDestinations())
}

func (p *Pipeline) setStatus(ctx context.Context, t *domain.Ticket, status domain.TicketStatus, sent, failed []domain.Destination) (StageResult, error) {
	updated, err := p.deps.Incidents.Update(ctx, t.TicketID, domain.TicketPatch{Status: &status})
	if err != nil {
		return StageResult{}, err
	}
	p.publish(ctx, events.NewEvent(events.EventTicketRouted, t.TicketID, events.TicketRoutedPayload{
		Status:       status,
		Destinations: sent,
		Failed:       failed,
	}))
	return Continue(updated), nil
}

// closeTicket closes the ticket upstream first, then locally. An upstream
// failure leaves the local ticket open so a redelivery repeats both steps.
func (p *Pipeline) closeTicket(ctx context.Context, t *domain.Ticket, reason, stageName string) (*domain.Ticket, error) {
	if p.deps.Upstream != nil {
		if err := p.deps.Upstream.CloseIncident(ctx, t.TicketID, reason); err != nil {
			return nil, &UpstreamCloseError{TicketID: t.TicketID, Reason: reason, Err: err}
		}
	}
	closed, err := p.deps.Incidents.Close(ctx, t.TicketID, reason)
	if err != nil {
		return nil, err
	}
	p.deps.Metrics.RecordAutoClose(reason)
	p.publish(ctx, events.NewEvent(events.EventTicketClosed, t.TicketID, events.TicketClosedPayload{
		Reason: reason,
		Stage:  stageName,
	}))
	return closed, nil
}

func (p *Pipeline) publish(ctx context.Context, event events.Event) {
	if err := p.deps.Events.Publish(ctx, event); err != nil {
		p.deps.Logger.Warn("event subscriber failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}

// retry runs op under the bounded fixed-delay policy. Each attempt gets its
// own deadline; malformed responses are not retried. It returns the number of
// attempts made.
func (p *Pipeline) retry(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.EnrichmentAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.EnrichmentAttemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err != nil && !enrichment.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.EnrichmentRetryDelay)),
		backoff.WithMaxTries(uint(p.cfg.EnrichmentMaxRetries+1)),
	)
	return attempts, err
}

// normaliseReporter classifies the reporter: a UUID is a customer id and is
// swapped for its shopper id, a numeric reporter is a shopper id whose
// customer id is recorded alongside.
func (p *Pipeline) normaliseReporter(ctx context.Context, t *domain.Ticket, patch *domain.TicketPatch) {
	reporter := t.Reporter
	switch {
	case isUUID(reporter):
		customerID := reporter
		patch.ReportingCustomerID = &customerID
		shopperID := p.resolve(ctx, t.TicketID, "shopper", reporter, p.deps.Identity.ResolveShopperID)
		if shopperID != "" {
			patch.Reporter = &shopperID
		}
	case isNumeric(reporter):
		customerID := p.resolve(ctx, t.TicketID, "customer", reporter, p.deps.Identity.ResolveCustomerID)
		patch.ReportingCustomerID = &customerID
	case t.ReportingCustomerID != "":
		empty := ""
		patch.ReportingCustomerID = &empty
	}
}

// fillMetadataShopper resolves the shopper id of a hosted-product report that
// only carries a customer id.
func (p *Pipeline) fillMetadataShopper(ctx context.Context, t *domain.Ticket, patch *domain.TicketPatch) {
	md := t.Metadata
	if md == nil || md.ShopperID != "" || md.CustomerID == "" {
		return
	}
	shopperID := p.resolve(ctx, t.TicketID, "metadata shopper", md.CustomerID, p.deps.Identity.ResolveShopperID)
	if shopperID == "" {
		return
	}
	filled := *md
	filled.ShopperID = shopperID
	patch.Metadata = &filled
	t.Metadata = &filled
}

func (p *Pipeline) resolve(ctx context.Context, ticketID, kind, id string, fn func(context.Context, string) (string, error)) string {
	var out string
	_, err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx, id)
		return err
	})
	if err != nil {
		p.deps.Logger.Warn("identity resolution failed",
			zap.String("ticket_id", ticketID),
			zap.String("kind", kind),
			zap.Error(err))
		return ""
	}
	return out
}

// enrichmentDomain picks the name sent to the enrichment service and the
// address it resolved to. The sub-domain is preferred when it resolves
// elsewhere than the domain, or when the domain serves unrelated customers per
// sub-domain.
func (p *Pipeline) enrichmentDomain(ctx context.Context, t *domain.Ticket) (string, string) {
	domainName, sub := t.SourceDomainOrIP, t.SourceSubDomain
	domainIP := p.lookupIP(ctx, t.TicketID, domainName)
	if sub == "" {
		return domainName, domainIP
	}
	subIP := p.lookupIP(ctx, t.TicketID, sub)
	if subIP != "" && subIP != domainIP {
		return sub, subIP
	}
	if _, ok := p.cfg.EnrichOnSubdomain[domainName]; ok {
		return sub, domainIP
	}
	return domainName, domainIP
}

func (p *Pipeline) lookupIP(ctx context.Context, ticketID, host string) string {
	if p.deps.Hosts == nil || host == "" {
		return ""
	}
	if p.cfg.DNSTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DNSTimeout)
		defer cancel()
	}
	addrs, err := p.deps.Hosts.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		p.deps.Logger.Debug("host lookup failed", zap.String("ticket_id", ticketID), zap.String("host", host), zap.Error(err))
		return ""
	}
	return addrs[0]
}

// sourcePath returns the escaped path of the reported URL.
func sourcePath(source string) string {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return ""
	}
	return u.EscapedPath()
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
