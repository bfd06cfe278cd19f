// Package peers is the session peer/conversation directory. Peer and
// conversation handles are owned here; other components reference them
// without owning their lifetime.
package peers

// ID is a numeric peer identifier.
type ID int64

// Kind is the coarse peer category.
type Kind int

const (
	KindUser Kind = iota
	KindGroup
	KindChannel
)

// Peer is a user, basic group or channel known to the session.
type Peer struct {
	ID        ID
	Kind      Kind
	Bot       bool // users only
	Contact   bool // users only
	Broadcast bool // channels only; false means megagroup
	Self      bool
	Name      string

	// InviteLink is the peer's current primary invite link, maintained by
	// the invite manager.
	InviteLink string
}

// Conversation is the dialog handle for a peer. Its properties feed filter
// rule evaluation and dialog-list ordering.
type Conversation struct {
	peer *Peer

	Muted          bool
	Unread         bool
	Mention        bool
	Archived       bool
	FolderKnown    bool
	FakeUnread     bool // locally synthesized "treat as unread while opened"
	TopMessageDate int64
}

// Peer returns the peer this conversation belongs to.
func (c *Conversation) Peer() *Peer {
	return c.peer
}
