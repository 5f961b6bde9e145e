package types

// Status is the soft delete marker of a persisted row. Business lifecycles
// (subscription, invoice, payment, retry) carry their own typed status fields.
type Status string

const (
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)
