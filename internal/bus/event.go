package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the folder registry and invite manager.
// Subscribers filter by namespace prefix ("filters." / "invites.").
const (
	KindFiltersChanged   = "filters.changed"
	KindFiltersStatus    = "filters.status_changed"
	KindChatlistChanged  = "filters.chatlist_changed"
	KindTagColorChanged  = "filters.tag_color_changed"
	KindTagsEnabled      = "filters.tags_enabled"
	KindSuggestedUpdated = "filters.suggested_updated"
	KindLinksUpdated     = "filters.links_updated"
	KindMoreChats        = "filters.more_chats"

	KindInviteUpdate        = "invites.update"
	KindMyLinksChanged      = "invites.my_links_changed"
	KindAllRevokedDestroyed = "invites.all_revoked_destroyed"
)
