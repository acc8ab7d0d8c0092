package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// IncidentRepository persists ticket documents. Every mutation is refused once
// the stored document reached CLOSED.
type IncidentRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) (bool, error)
	Get(ctx context.Context, ticketID string) (*domain.Ticket, error)
	Update(ctx context.Context, ticketID string, patch domain.TicketPatch) (*domain.Ticket, error)
	RemoveField(ctx context.Context, ticketID, field string) (*domain.Ticket, error)
	Close(ctx context.Context, ticketID, reason string) (*domain.Ticket, error)
}

type incidentRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIncidentRepository builds the JSONB backed incident store.
func NewIncidentRepository(pool *pgxpool.Pool) IncidentRepository {
	return &incidentRepository{pool: pool, now: time.Now}
}

func (r *incidentRepository) Create(ctx context.Context, ticket *domain.Ticket) (bool, error) {
	doc, err := json.Marshal(ticket)
	if err != nil {
		return false, fmt.Errorf("encode incident %s: %w", ticket.TicketID, err)
	}
	const query = `
        INSERT INTO incidents (ticket_id, document)
        VALUES ($1, $2)
        ON CONFLICT (ticket_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query, ticket.TicketID, doc)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *incidentRepository) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	const query = `SELECT document FROM incidents WHERE ticket_id=$1`
	var doc []byte
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeTicket(doc)
}

func (r *incidentRepository) Update(ctx context.Context, ticketID string, patch domain.TicketPatch) (*domain.Ticket, error) {
	doc, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch for %s: %w", ticketID, err)
	}
	unset := patch.Unset
	if unset == nil {
		unset = []string{}
	}
	return r.apply(ctx, ticketID, doc, unset)
}

func (r *incidentRepository) RemoveField(ctx context.Context, ticketID, field string) (*domain.Ticket, error) {
	return r.Update(ctx, ticketID, domain.TicketPatch{Unset: []string{field}})
}

func (r *incidentRepository) Close(ctx context.Context, ticketID, reason string) (*domain.Ticket, error) {
	now := r.now().UTC()
	doc, err := json.Marshal(map[string]any{
		domain.FieldStatus:      domain.TicketStatusClosed,
		domain.FieldCloseReason: reason,
		"closed":                now,
	})
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, ticketID, doc, []string{})
}

// apply merges patch into the stored document and removes the unset keys, but
// only while the document is not CLOSED.
func (r *incidentRepository) apply(ctx context.Context, ticketID string, patch []byte, unset []string) (*domain.Ticket, error) {
	const query = `
        UPDATE incidents
        SET document = (document || $2::jsonb || jsonb_build_object('lastModified', $3::text)) - $4::text[],
            updated_at = NOW()
        WHERE ticket_id=$1 AND document->>'phishstoryStatus' IS DISTINCT FROM 'CLOSED'
        RETURNING document`
	var doc []byte
	err := r.pool.QueryRow(ctx, query, ticketID, patch, r.now().UTC().Format(time.RFC3339Nano), unset).Scan(&doc)
	if err == nil {
		return decodeTicket(doc)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	current, getErr := r.Get(ctx, ticketID)
	if getErr != nil {
		return nil, getErr
	}
	if current.IsClosed() {
		return nil, ErrTicketClosed
	}
	return nil, fmt.Errorf("update incident %s: no row updated", ticketID)
}

func decodeTicket(doc []byte) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := json.Unmarshal(doc, &ticket); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &ticket, nil
}
