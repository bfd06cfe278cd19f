package peers

import (
	"sort"
	"sync"

	"github.com/gabrielsou/chatfold/internal/tl"
)

// Directory resolves peers by id and owns their conversation handles.
// Lookups for unknown peers return nil; records carried by responses are
// ingested through Process.
type Directory struct {
	mu     sync.RWMutex
	peers  map[ID]*Peer
	convs  map[ID]*Conversation
	selfID ID
}

// NewDirectory creates an empty directory. selfID identifies the logged-in
// user; it may be zero until authorization completes.
func NewDirectory(selfID ID) *Directory {
	return &Directory{
		peers:  make(map[ID]*Peer),
		convs:  make(map[ID]*Conversation),
		selfID: selfID,
	}
}

// SelfID returns the logged-in user's peer id.
func (d *Directory) SelfID() ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID
}

// Self returns the logged-in user's peer, or nil if not yet known.
func (d *Directory) Self() *Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers[d.selfID]
}

// Peer returns the peer with the given id, or nil if unknown.
func (d *Directory) Peer(id ID) *Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers[id]
}

// Add registers a peer, replacing any previous record with the same id.
// The conversation handle, if one exists, keeps its state.
func (d *Directory) Add(p *Peer) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[p.ID] = p
	if c, ok := d.convs[p.ID]; ok {
		c.peer = p
	}
	return p
}

// Conversation returns the conversation handle for a peer id, creating it if
// the peer is known. Returns nil for unknown peers.
func (d *Directory) Conversation(id ID) *Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.convs[id]; ok {
		return c
	}
	p, ok := d.peers[id]
	if !ok {
		return nil
	}
	c := &Conversation{peer: p}
	d.convs[id] = c
	return c
}

// All returns every conversation handle, ordered by peer id for determinism.
func (d *Directory) All() []*Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Conversation, 0, len(d.convs))
	for _, c := range d.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].peer.ID < out[j].peer.ID
	})
	return out
}

// Process ingests peer records carried alongside a response. Existing peers
// are updated in place so outstanding references observe the new state.
func (d *Directory) Process(infos []tl.PeerInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, info := range infos {
		id := ID(info.ID)
		kind := KindUser
		switch {
		case info.Group:
			kind = KindGroup
		case info.Channel:
			kind = KindChannel
		}
		if p, ok := d.peers[id]; ok {
			p.Kind = kind
			p.Bot = info.Bot
			p.Contact = info.Contact
			p.Broadcast = info.Broadcast
			if info.Name != "" {
				p.Name = info.Name
			}
			continue
		}
		d.peers[id] = &Peer{
			ID:        id,
			Kind:      kind,
			Bot:       info.Bot,
			Contact:   info.Contact,
			Broadcast: info.Broadcast,
			Self:      info.Self || id == d.selfID,
			Name:      info.Name,
		}
	}
}

// SetInviteLink records the primary invite link on a peer.
func (d *Directory) SetInviteLink(id ID, link string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[id]; ok {
		p.InviteLink = link
	}
}
