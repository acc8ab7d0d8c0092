package pipeline

import (
	"errors"
	"fmt"

	"github.com/gdsec-test/dcu-middleware/internal/repository"
)

// BlocklistLookupError means the blocklist store could not be read. The ticket
// must not be routed unreviewed, so the whole run fails and is redelivered.
type BlocklistLookupError struct {
	TicketID string
	Entity   string
	Err      error
}

func (e *BlocklistLookupError) Error() string {
	return fmt.Sprintf("blocklist lookup for %s (%s): %v", e.TicketID, e.Entity, e.Err)
}

func (e *BlocklistLookupError) Unwrap() error { return e.Err }

// UpstreamCloseError means the abuse API did not accept a close. The local
// ticket stays open and the run is redelivered.
type UpstreamCloseError struct {
	TicketID string
	Reason   string
	Err      error
}

func (e *UpstreamCloseError) Error() string {
	return fmt.Sprintf("close %s upstream as %s: %v", e.TicketID, e.Reason, e.Err)
}

func (e *UpstreamCloseError) Unwrap() error { return e.Err }

// Redeliverable reports whether a failed run should be queued again.
func Redeliverable(err error) bool {
	return err != nil && !errors.Is(err, repository.ErrNotFound)
}
