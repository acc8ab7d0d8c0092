package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// BlocklistRepository reads the externally managed blocklist.
type BlocklistRepository interface {
	// Lookup returns nil without error when the entity has no record.
	Lookup(ctx context.Context, entity string) (*domain.BlocklistRecord, error)
}

type blocklistRepository struct {
	pool *pgxpool.Pool
}

// NewBlocklistRepository builds repository.
func NewBlocklistRepository(pool *pgxpool.Pool) BlocklistRepository {
	return &blocklistRepository{pool: pool}
}

func (r *blocklistRepository) Lookup(ctx context.Context, entity string) (*domain.BlocklistRecord, error) {
	const query = `SELECT entity, category, action FROM blocklist WHERE entity=$1`
	var record domain.BlocklistRecord
	if err := r.pool.QueryRow(ctx, query, entity).Scan(&record.Entity, &record.Category, &record.Action); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
