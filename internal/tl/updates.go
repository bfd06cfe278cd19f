package tl

// Server-pushed incremental updates consumed by the filter registry.

// UpdateDialogFilter replaces, inserts or removes a single filter.
// A nil Filter is a tombstone: the filter with the given ID is removed.
type UpdateDialogFilter struct {
	ID     int32
	Filter *DialogFilter
}

// UpdateDialogFilters signals that the filter list changed in a way the
// server does not describe incrementally; a full reload is required.
type UpdateDialogFilters struct{}

// UpdateDialogFilterOrder carries a new top-level filter ordering.
type UpdateDialogFilterOrder struct {
	Order []int32
}
