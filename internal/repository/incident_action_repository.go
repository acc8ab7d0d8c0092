package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// IncidentActionRepository stores the per-ticket action log.
type IncidentActionRepository interface {
	Create(ctx context.Context, action *domain.IncidentAction) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.IncidentAction, error)
}

type incidentActionRepository struct {
	pool *pgxpool.Pool
}

// NewIncidentActionRepository builds repository.
func NewIncidentActionRepository(pool *pgxpool.Pool) IncidentActionRepository {
	return &incidentActionRepository{pool: pool}
}

func (r *incidentActionRepository) Create(ctx context.Context, action *domain.IncidentAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO incident_actions (id, ticket_id, message)
        VALUES ($1,$2,$3)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query, action.ID, action.TicketID, action.Message).Scan(&action.CreatedAt)
}

func (r *incidentActionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.IncidentAction, error) {
	const query = `
        SELECT id, ticket_id, message, created_at
        FROM incident_actions WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IncidentAction
	for rows.Next() {
		var action domain.IncidentAction
		if err := rows.Scan(&action.ID, &action.TicketID, &action.Message, &action.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, action)
	}
	return result, rows.Err()
}
