package domain

import "time"

// TicketType enumerates the abuse categories accepted from intake.
type TicketType string

const (
	TicketTypePhishing TicketType = "PHISHING"
	TicketTypeMalware  TicketType = "MALWARE"
	TicketTypeNetAbuse TicketType = "NETABUSE"
	TicketTypeSpam     TicketType = "SPAM"
)

// Valid reports whether t is one of the known ticket types.
func (t TicketType) Valid() bool {
	switch t {
	case TicketTypePhishing, TicketTypeMalware, TicketTypeNetAbuse, TicketTypeSpam:
		return true
	}
	return false
}

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusProcessing TicketStatus = "PROCESSING"
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusDuplicate  TicketStatus = "DUPLICATE"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusForwarded  TicketStatus = "FORWARDED_TO_EXTERNAL_SERVICE"
)

// HostedStatus summarises which side of the ownership facts points at us.
type HostedStatus string

const (
	HostedStatusHosted     HostedStatus = "HOSTED"
	HostedStatusRegistered HostedStatus = "REGISTERED"
	HostedStatusForeign    HostedStatus = "FOREIGN"
	HostedStatusUnknown    HostedStatus = "UNKNOWN"
)

// AbuseMetaDSA marks tickets that are handled by the external-report service.
const AbuseMetaDSA = "DSA"

// Document field names used for partial updates.
const (
	FieldFailedEnrichment = "failedEnrichment"
	FieldStatus           = "phishstoryStatus"
	FieldCloseReason      = "closeReason"
)

// Metadata carries account facts supplied by the reporter for hosted products.
type Metadata struct {
	ShopperID     string `json:"shopperId,omitempty"`
	CustomerID    string `json:"customerId,omitempty"`
	EntitlementID string `json:"entitlementId,omitempty"`
	Product       string `json:"product,omitempty"`
	GUID          string `json:"guid,omitempty"`
}

// Ticket is one abuse report under processing, stored as a single document.
// Empty strings mean "absent" for every optional field.
type Ticket struct {
	TicketID            string          `json:"ticketId"`
	Type                TicketType      `json:"type"`
	SourceDomainOrIP    string          `json:"sourceDomainOrIp"`
	SourceSubDomain     string          `json:"sourceSubDomain,omitempty"`
	Source              string          `json:"source"`
	Proxy               string          `json:"proxy,omitempty"`
	Reporter            string          `json:"reporter,omitempty"`
	ReportingCustomerID string          `json:"reportingCustomerId,omitempty"`
	Info                string          `json:"info,omitempty"`
	Target              string          `json:"target,omitempty"`
	AbuseMeta           string          `json:"abuseMeta,omitempty"`
	AbuseVerified       bool            `json:"abuseVerified,omitempty"`
	Metadata            *Metadata       `json:"metadata,omitempty"`
	Status              TicketStatus    `json:"phishstoryStatus"`
	CloseReason         string          `json:"closeReason,omitempty"`
	FailedEnrichment    bool            `json:"failedEnrichment,omitempty"`
	Data                *EnrichmentData `json:"data,omitempty"`
	CreatedAt           time.Time       `json:"created"`
	LastModified        time.Time       `json:"lastModified"`
	ClosedAt            *time.Time      `json:"closed,omitempty"`
}

// IsClosed reports whether the ticket reached its terminal state.
func (t *Ticket) IsClosed() bool {
	return t != nil && t.Status == TicketStatusClosed
}

// DomainQuery returns the merged enrichment facts or nil when enrichment never ran.
func (t *Ticket) DomainQuery() *DomainQuery {
	if t == nil || t.Data == nil {
		return nil
	}
	return t.Data.DomainQuery
}

// HostedStatus derives the ownership summary from the enrichment facts.
func (t *Ticket) HostedStatus() HostedStatus {
	dq := t.DomainQuery()
	hostBrand := dq.HostBrand()
	registrarBrand := dq.RegistrarBrand()
	switch {
	case hostBrand == BrandGoDaddy:
		return HostedStatusHosted
	case registrarBrand == BrandGoDaddy:
		return HostedStatusRegistered
	case hostBrand == BrandForeign || registrarBrand == BrandForeign:
		return HostedStatusForeign
	default:
		return HostedStatusUnknown
	}
}

// TicketPatch is a partial update applied on top of a stored ticket. Nil pointer
// fields are left untouched; Unset names document fields to remove.
type TicketPatch struct {
	Reporter            *string         `json:"reporter,omitempty"`
	ReportingCustomerID *string         `json:"reportingCustomerId,omitempty"`
	Metadata            *Metadata       `json:"metadata,omitempty"`
	Status              *TicketStatus   `json:"phishstoryStatus,omitempty"`
	FailedEnrichment    *bool           `json:"failedEnrichment,omitempty"`
	Data                *EnrichmentData `json:"data,omitempty"`

	Unset []string `json:"-"`
}

// Empty reports whether applying the patch would change nothing.
func (p TicketPatch) Empty() bool {
	return p.Reporter == nil && p.ReportingCustomerID == nil && p.Metadata == nil &&
		p.Status == nil && p.FailedEnrichment == nil && p.Data == nil && len(p.Unset) == 0
}

// Apply mutates t in memory the same way the store applies the patch.
func (p TicketPatch) Apply(t *Ticket) {
	if p.Reporter != nil {
		t.Reporter = *p.Reporter
	}
	if p.ReportingCustomerID != nil {
		t.ReportingCustomerID = *p.ReportingCustomerID
	}
	if p.Metadata != nil {
		t.Metadata = p.Metadata
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.FailedEnrichment != nil {
		t.FailedEnrichment = *p.FailedEnrichment
	}
	if p.Data != nil {
		t.Data = p.Data
	}
	for _, field := range p.Unset {
		switch field {
		case FieldFailedEnrichment:
			t.FailedEnrichment = false
		case FieldCloseReason:
			t.CloseReason = ""
		}
	}
}

// IntakeEvent is the payload submitted by the upstream abuse API.
type IntakeEvent struct {
	TicketID         string     `json:"ticketId"`
	Type             TicketType `json:"type"`
	SourceDomainOrIP string     `json:"sourceDomainOrIp"`
	SourceSubDomain  string     `json:"sourceSubDomain,omitempty"`
	Source           string     `json:"source"`
	Proxy            string     `json:"proxy,omitempty"`
	Reporter         string     `json:"reporter,omitempty"`
	Info             string     `json:"info,omitempty"`
	Target           string     `json:"target,omitempty"`
	AbuseMeta        string     `json:"abuseMeta,omitempty"`
	AbuseVerified    bool       `json:"abuseVerified,omitempty"`
	Metadata         *Metadata  `json:"metadata,omitempty"`
	Duplicate        bool       `json:"duplicate,omitempty"`
}

// NewTicket builds the initial stored document for an intake event.
func (e IntakeEvent) NewTicket(now time.Time) *Ticket {
	status := TicketStatusProcessing
	if e.Duplicate {
		status = TicketStatusDuplicate
	}
	return &Ticket{
		TicketID:         e.TicketID,
		Type:             e.Type,
		SourceDomainOrIP: e.SourceDomainOrIP,
		SourceSubDomain:  e.SourceSubDomain,
		Source:           e.Source,
		Proxy:            e.Proxy,
		Reporter:         e.Reporter,
		Info:             e.Info,
		Target:           e.Target,
		AbuseMeta:        e.AbuseMeta,
		AbuseVerified:    e.AbuseVerified,
		Metadata:         e.Metadata,
		Status:           status,
		CreatedAt:        now,
		LastModified:     now,
	}
}
