package dto

import (
	"strings"
	"time"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// IntakeRequest payload submitted by the upstream abuse API.
type IntakeRequest struct {
	TicketID         string           `json:"ticketId" validate:"required,max=64"`
	Type             string           `json:"type" validate:"required"`
	SourceDomainOrIP string           `json:"sourceDomainOrIp" validate:"required,max=253"`
	SourceSubDomain  string           `json:"sourceSubDomain" validate:"max=253"`
	Source           string           `json:"source" validate:"required,url"`
	Proxy            string           `json:"proxy"`
	Reporter         string           `json:"reporter"`
	Info             string           `json:"info"`
	Target           string           `json:"target"`
	AbuseMeta        string           `json:"abuseMeta"`
	AbuseVerified    bool             `json:"abuseVerified"`
	Metadata         *domain.Metadata `json:"metadata"`
	Duplicate        bool             `json:"duplicate"`
}

// Event converts the request into the queued intake event.
func (r IntakeRequest) Event() domain.IntakeEvent {
	return domain.IntakeEvent{
		TicketID:         strings.TrimSpace(r.TicketID),
		Type:             domain.TicketType(strings.ToUpper(r.Type)),
		SourceDomainOrIP: strings.ToLower(strings.TrimSpace(r.SourceDomainOrIP)),
		SourceSubDomain:  strings.ToLower(strings.TrimSpace(r.SourceSubDomain)),
		Source:           strings.TrimSpace(r.Source),
		Proxy:            r.Proxy,
		Reporter:         strings.TrimSpace(r.Reporter),
		Info:             r.Info,
		Target:           r.Target,
		AbuseMeta:        r.AbuseMeta,
		AbuseVerified:    r.AbuseVerified,
		Metadata:         r.Metadata,
		Duplicate:        r.Duplicate,
	}
}

// ProcessRequest payload for a manual re-drive.
type ProcessRequest struct {
	ClearFailedEnrichment bool `json:"clear_failed_enrichment"`
}

// TaskAccepted response for queued work.
type TaskAccepted struct {
	TicketID string `json:"ticket_id"`
	Task     string `json:"task"`
}

// TicketResponse is the stored incident plus its derived ownership summary.
type TicketResponse struct {
	Ticket       *domain.Ticket      `json:"ticket"`
	HostedStatus domain.HostedStatus `json:"hosted_status"`
}

// ActionResponse is one line of the action log.
type ActionResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
