package domain

// BlocklistCategory classifies why an entity is on the blocklist.
type BlocklistCategory string

const (
	BlocklistCategoryAsset BlocklistCategory = "asset"
	// BlocklistCategoryUserGenerated is stored as "user_gen" by the tooling that
	// maintains the blocklist.
	BlocklistCategoryUserGenerated BlocklistCategory = "user_gen"
)

// BlocklistAction is the pre-approved disposition attached to an entity.
type BlocklistAction string

const (
	BlocklistActionFalsePositive    BlocklistAction = "false_positive"
	BlocklistActionResolvedNoAction BlocklistAction = "resolved_no_action"
)

// ClosesTicket reports whether the action closes a ticket without review.
func (a BlocklistAction) ClosesTicket() bool {
	return a == BlocklistActionFalsePositive || a == BlocklistActionResolvedNoAction
}

// BlocklistRecord is a read-only entry of the externally managed blocklist.
type BlocklistRecord struct {
	Entity   string
	Category BlocklistCategory
	Action   BlocklistAction
}
