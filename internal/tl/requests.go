package tl

// Request and response messages understood by the transport. Each request
// type documents the response payload its done callback receives.

// GetDialogFilters fetches the full filter list. Response: DialogFiltersResult.
type GetDialogFilters struct{}

// DialogFiltersResult is the response to GetDialogFilters.
type DialogFiltersResult struct {
	Filters     []DialogFilter
	TagsEnabled bool
}

// UpdateDialogFiltersOrder persists a new top-level filter ordering.
// Response: empty.
type UpdateDialogFiltersOrder struct {
	Order []int32
}

// ToggleDialogFilterTags toggles the session-wide filter tags capability.
// Response: empty.
type ToggleDialogFilterTags struct {
	Enabled bool
}

// GetSuggestedDialogFilters fetches suggested filter templates.
// Response: []DialogFilterSuggested.
type GetSuggestedDialogFilters struct{}

// GetPeerDialogs resolves dialog state for filter exception peers.
// Response: PeerDialogsResult.
type GetPeerDialogs struct {
	Peers []int64
}

// PeerDialogsResult is the response to GetPeerDialogs.
type PeerDialogsResult struct {
	Peers []PeerInfo
}

// ExportChatInvite creates a new invite link for a peer.
// Response: ExportedChatInvite.
type ExportChatInvite struct {
	Peer                  int64
	LegacyRevokePermanent bool
	Title                 string
	ExpireDate            int64
	UsageLimit            int32
	RequestNeeded         bool
}

// EditExportedChatInvite edits or revokes an invite link.
// Response: EditExportedChatInviteResult.
type EditExportedChatInvite struct {
	Peer          int64
	Link          string
	Revoked       bool
	Title         string
	ExpireDate    int64
	UsageLimit    int32
	RequestNeeded bool
	OnlyTitle     bool
}

// EditExportedChatInviteResult carries the edited invite; when revoking a
// permanent link the server may issue a replacement invite alongside it.
type EditExportedChatInviteResult struct {
	Invite    ExportedChatInvite
	NewInvite *ExportedChatInvite
	Users     []PeerInfo
}

// DeleteExportedChatInvite deletes a single invite link. Response: empty.
type DeleteExportedChatInvite struct {
	Peer int64
	Link string
}

// DeleteRevokedExportedChatInvites deletes all revoked links of an admin on a
// peer. The server does not enumerate which links were deleted. Response: empty.
type DeleteRevokedExportedChatInvites struct {
	Peer    int64
	AdminID int64
}

// GetExportedChatInvites pages through an admin's links on a peer.
// Response: ExportedChatInvites.
type GetExportedChatInvites struct {
	Peer       int64
	AdminID    int64
	OffsetDate int64
	OffsetLink string
	Revoked    bool
	Limit      int32
}

// ExportedChatInvites is the response to GetExportedChatInvites.
type ExportedChatInvites struct {
	Count   int32
	Invites []ExportedChatInvite
	Users   []PeerInfo
}

// EditExportedInvite edits a chatlist link's title.
// Response: ExportedChatlistInvite.
type EditExportedInvite struct {
	FilterID int32
	URL      string
	Title    string
}

// DeleteExportedInvite deletes a chatlist link. Response: empty.
type DeleteExportedInvite struct {
	FilterID int32
	URL      string
}

// GetExportedInvites fetches all chatlist links of a filter.
// Response: ExportedInvites.
type GetExportedInvites struct {
	FilterID int32
}

// ExportedInvites is the response to GetExportedInvites.
type ExportedInvites struct {
	Invites []ExportedChatlistInvite
	Peers   []PeerInfo
}

// GetChatlistUpdates fetches peers newly attached to a joined chatlist that
// the local account has not resolved yet. Response: ChatlistUpdatesResult.
type GetChatlistUpdates struct {
	FilterID int32
}

// ChatlistUpdatesResult is the response to GetChatlistUpdates.
type ChatlistUpdatesResult struct {
	MissingPeers []int64
	Peers        []PeerInfo
}

// HideChatlistUpdates records server-side that the "more chats" suggestion
// for a chatlist was dismissed. Response: empty.
type HideChatlistUpdates struct {
	FilterID int32
}
