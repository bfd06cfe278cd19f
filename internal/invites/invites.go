// Package invites manages peer invite links: creation, editing, revocation
// and deletion, with per-key coalescing of concurrent identical requests and
// a cached first page of the admin's own links per peer.
package invites

import (
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
)

// Link is one invite link of a peer. The link string is the identity key.
type Link struct {
	Link          string
	Title         string
	Admin         *peers.Peer
	Date          int64
	StartDate     int64
	ExpireDate    int64
	UsageLimit    int
	Usage         int
	Requested     int
	RequestNeeded bool
	Permanent     bool
	Revoked       bool
}

// PeerLinks is a slice of links plus the server-reported total.
type PeerLinks struct {
	Links []Link
	Count int
}

// Update describes one link lifecycle event. Was empty and Now set means
// creation; Was set and Now nil means deletion; both set means edit
// (including the demotion of a replaced permanent link, which arrives as an
// edit with Now.Revoked true).
type Update struct {
	Peer  *peers.Peer
	Admin *peers.Peer
	Was   string
	Now   *Link
}

// AllRevokedDestroyed is the broad event fired after a bulk deletion of an
// admin's revoked links; the server does not enumerate which links went.
type AllRevokedDestroyed struct {
	Peer  *peers.Peer
	Admin *peers.Peer
}

// CreateArgs are the parameters for creating a new invite link.
type CreateArgs struct {
	Peer          *peers.Peer
	Done          func(Link)
	Title         string
	ExpireDate    int64
	UsageLimit    int
	RequestNeeded bool
}

type linkKey struct {
	peer peers.ID
	link string
}

func parseInvite(dir *peers.Directory, inv tl.ExportedChatInvite) Link {
	admin := dir.Peer(peers.ID(inv.AdminID))
	if admin == nil {
		admin = dir.Add(&peers.Peer{
			ID:   peers.ID(inv.AdminID),
			Kind: peers.KindUser,
			Self: peers.ID(inv.AdminID) == dir.SelfID(),
		})
	}
	return Link{
		Link:          inv.Link,
		Title:         inv.Title,
		Admin:         admin,
		Date:          inv.Date,
		StartDate:     inv.StartDate,
		ExpireDate:    inv.ExpireDate,
		UsageLimit:    int(inv.UsageLimit),
		Usage:         int(inv.Usage),
		Requested:     int(inv.Requested),
		RequestNeeded: inv.RequestNeeded,
		Permanent:     inv.Permanent,
		Revoked:       inv.Revoked,
	}
}
