// Package tl holds the wire-format records exchanged with the remote
// authority. The schema is external and fixed; only the record shapes are
// modeled here, not the binary framing.
package tl

// FilterKind distinguishes the dialog-filter record variants.
type FilterKind int

const (
	// FilterKindDialog is a regular rule-based dialog filter.
	FilterKindDialog FilterKind = iota
	// FilterKindDefault is the "no filter" tombstone variant.
	FilterKindDefault
	// FilterKindChatlist is a shareable chatlist filter (no rule bits,
	// no excluded peers).
	FilterKindChatlist
)

// DialogFilter mirrors the dialogFilter / dialogFilterDefault /
// dialogFilterChatlist wire records.
type DialogFilter struct {
	Kind FilterKind

	ID          int32
	Title       string
	TitleStatic bool // title_noanimate
	Emoticon    string
	Color       *int32

	Contacts        bool
	NonContacts     bool
	Groups          bool
	Broadcasts      bool
	Bots            bool
	ExcludeMuted    bool
	ExcludeRead     bool
	ExcludeArchived bool
	NewChats        bool
	ExistingChats   bool

	HasMyInvites bool // chatlist variant only

	PinnedPeers  []int64
	IncludePeers []int64
	ExcludePeers []int64
}

// DialogFilterSuggested is a server-suggested filter template.
type DialogFilterSuggested struct {
	Filter      DialogFilter
	Description string
}

// PeerInfo is the peer payload carried alongside responses that reference
// peers the client may not know yet (chats/users vectors).
type PeerInfo struct {
	ID        int64
	User      bool
	Group     bool
	Channel   bool
	Broadcast bool
	Bot       bool
	Contact   bool
	Self      bool
	Name      string
}

// ExportedChatInvite mirrors the chatInviteExported wire record.
type ExportedChatInvite struct {
	Link          string
	Title         string
	AdminID       int64
	Date          int64
	StartDate     int64
	ExpireDate    int64
	UsageLimit    int32
	Usage         int32
	Requested     int32
	RequestNeeded bool
	Permanent     bool
	Revoked       bool
}

// ExportedChatlistInvite mirrors the exportedChatlistInvite wire record: a
// shareable folder link with the peer subset currently attached to it.
type ExportedChatlistInvite struct {
	URL   string
	Title string
	Peers []int64
}
