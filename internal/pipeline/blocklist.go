package pipeline

import (
	"context"

	"github.com/gdsec-test/dcu-middleware/internal/domain"
)

// BlocklistStore reads the blocklist. Lookup returns nil for unknown entities.
type BlocklistStore interface {
	Lookup(ctx context.Context, entity string) (*domain.BlocklistRecord, error)
}

// BlocklistCandidates are the entities checked for a ticket, in precedence order.
type BlocklistCandidates struct {
	SubDomain     string
	Domain        string
	HostShopper   string
	DomainShopper string
}

// CandidatesFor collects the lookup keys of ticket.
func CandidatesFor(ticket *domain.Ticket) BlocklistCandidates {
	dq := ticket.DomainQuery()
	return BlocklistCandidates{
		SubDomain:     ticket.SourceSubDomain,
		Domain:        ticket.SourceDomainOrIP,
		HostShopper:   dq.HostShopperID(),
		DomainShopper: dq.DomainShopperID(),
	}
}

// ResolveBlocklistAction returns the disposition that applies to the
// candidates, or "" when none does. Every candidate is read: a user_gen record
// anywhere suppresses the outcome. Otherwise the first record carrying an
// action wins. The domain is not consulted when it is served per sub-domain.
func ResolveBlocklistAction(ctx context.Context, store BlocklistStore, c BlocklistCandidates, enrichOnSubdomain map[string]struct{}) (domain.BlocklistAction, error) {
	entities := []string{c.SubDomain}
	if _, perSubdomain := enrichOnSubdomain[c.Domain]; !perSubdomain {
		entities = append(entities, c.Domain)
	}
	entities = append(entities, c.HostShopper, c.DomainShopper)

	var winner domain.BlocklistAction
	seen := make(map[string]struct{}, len(entities))
	for _, entity := range entities {
		if entity == "" {
			continue
		}
		if _, dup := seen[entity]; dup {
			continue
		}
		seen[entity] = struct{}{}

		record, err := store.Lookup(ctx, entity)
		if err != nil {
			return "", &BlocklistLookupError{Entity: entity, Err: err}
		}
		if record == nil {
			continue
		}
		if record.Category == domain.BlocklistCategoryUserGenerated {
			return "", nil
		}
		if winner == "" && record.Action != "" {
			winner = record.Action
		}
	}
	return winner, nil
}
