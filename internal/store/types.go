package store

// Peer is a cached peer record.
type Peer struct {
	ID         int64
	Kind       string // user, group, channel
	Bot        bool
	Contact    bool
	Broadcast  bool
	Self       bool
	Name       string
	InviteLink string
}

// Peer kinds stored in the peers table.
const (
	PeerKindUser    = "user"
	PeerKindGroup   = "group"
	PeerKindChannel = "channel"
)

// filter_peers roles.
const (
	rolePinned  = "pinned"
	roleInclude = "include"
	roleExclude = "exclude"
)

// Meta keys.
const (
	metaTagsEnabled    = "tags_enabled"
	metaFiltersVersion = "filters_cached_at"
)
