package invites

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/dedup"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
)

const (
	firstPage = 10
	perPage   = 50
)

// Manager owns the invite link state of a session: the cached first page of
// the user's own links per peer and the in-flight request bookkeeping.
type Manager struct {
	mu  sync.Mutex
	api transport.Requester
	dir *peers.Directory
	bus *bus.Bus
	log *zap.Logger

	firstSlices    map[peers.ID]*PeerLinks
	firstSliceReqs map[peers.ID]transport.RequestID

	creates        *dedup.Map[peers.ID, Link]
	edits          *dedup.Map[linkKey, Link]
	deletes        *dedup.Map[linkKey, struct{}]
	deletesRevoked *dedup.Map[peers.ID, struct{}]
}

// NewManager creates an invite link manager bound to a transport, a peer
// directory and the session event bus.
func NewManager(api transport.Requester, dir *peers.Directory, b *bus.Bus, log *zap.Logger) *Manager {
	return &Manager{
		api:            api,
		dir:            dir,
		bus:            b,
		log:            log.Named("invites"),
		firstSlices:    make(map[peers.ID]*PeerLinks),
		firstSliceReqs: make(map[peers.ID]transport.RequestID),
		creates:        dedup.NewMap[peers.ID, Link](),
		edits:          dedup.NewMap[linkKey, Link](),
		deletes:        dedup.NewMap[linkKey, struct{}](),
		deletesRevoked: dedup.NewMap[peers.ID, struct{}](),
	}
}

// Create requests a new invite link for a peer. Concurrent creations for the
// same peer are coalesced into one request; every caller's Done observes the
// same resulting link.
func (m *Manager) Create(args CreateArgs) {
	m.performCreate(args, false)
}

func (m *Manager) performCreate(args CreateArgs, revokeLegacyPermanent bool) {
	peer := args.Peer
	if first := m.creates.Join(peer.ID, args.Done); !first {
		return
	}
	m.api.Send(transport.Request{
		Msg: tl.ExportChatInvite{
			Peer:                  int64(peer.ID),
			LegacyRevokePermanent: revokeLegacyPermanent,
			Title:                 args.Title,
			ExpireDate:            args.ExpireDate,
			UsageLimit:            int32(args.UsageLimit),
			RequestNeeded:         args.RequestNeeded,
		},
		Done: func(resp any) {
			inv, ok := resp.(tl.ExportedChatInvite)
			if !ok {
				m.log.Error("unexpected create invite response",
					zap.String("type", fmt.Sprintf("%T", resp)))
				m.creates.Fail(peer.ID)
				return
			}
			link := m.prepend(peer, inv)
			m.creates.Resolve(peer.ID, link)
		},
		Fail: func(err error) {
			m.log.Warn("create invite link failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			m.creates.Fail(peer.ID)
		},
	})
}

// prepend ingests a freshly issued invite: parses it, inserts it into the
// cached first slice when the admin is the logged-in user, and fires the
// lifecycle updates (the demotion of a replaced permanent link first).
func (m *Manager) prepend(peer *peers.Peer, inv tl.ExportedChatInvite) Link {
	link := parseInvite(m.dir, inv)
	var demoted *Link
	if link.Admin != nil && link.Admin.Self {
		demoted = m.prependToFirstSlice(peer, link)
	}
	if demoted != nil {
		m.publishUpdate(Update{Peer: peer, Admin: demoted.Admin, Was: demoted.Link, Now: demoted})
	}
	m.publishUpdate(Update{Peer: peer, Admin: link.Admin, Now: &link})
	return link
}

// prependToFirstSlice inserts a new own link into the cached first page. A
// new permanent link replaces the old one, which is marked revoked and
// dropped from the slice; the demoted copy is returned so the caller can
// announce it. A non-permanent link lands right after the permanent one.
func (m *Manager) prependToFirstSlice(peer *peers.Peer, link Link) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok {
		slice = &PeerLinks{}
		m.firstSlices[peer.ID] = slice
	}
	hadPermanent := len(slice.Links) > 0 && slice.Links[0].Permanent && !slice.Links[0].Revoked
	var demoted *Link
	switch {
	case link.Permanent:
		if hadPermanent {
			old := slice.Links[0]
			old.Revoked = true
			demoted = &old
			slice.Links = append([]Link(nil), slice.Links[1:]...)
			slice.Count--
		}
		slice.Links = append([]Link{link}, slice.Links...)
		m.dir.SetInviteLink(peer.ID, link.Link)
	case hadPermanent:
		rest := append([]Link{link}, slice.Links[1:]...)
		slice.Links = append(slice.Links[:1:1], rest...)
	default:
		slice.Links = append([]Link{link}, slice.Links...)
	}
	slice.Count++
	return demoted
}

type editSpec struct {
	title         string
	expireDate    int64
	usageLimit    int
	requestNeeded bool
	revoke        bool
	onlyTitle     bool
}

// Edit changes a link's parameters. Concurrent edits of the same link are
// coalesced; an edit is ignored while a deletion of the link is pending.
func (m *Manager) Edit(peer, admin *peers.Peer, link, title string,
	expireDate int64, usageLimit int, requestNeeded bool, done func(Link)) {
	m.performEdit(peer, admin, link, done, editSpec{
		title:         title,
		expireDate:    expireDate,
		usageLimit:    usageLimit,
		requestNeeded: requestNeeded,
	})
}

// EditTitle changes only the title of a link.
func (m *Manager) EditTitle(peer, admin *peers.Peer, link, title string, done func(Link)) {
	m.performEdit(peer, admin, link, done, editSpec{title: title, onlyTitle: true})
}

// Revoke marks a link revoked. When the server replaces a revoked permanent
// link with a fresh one, the replacement is ingested as a new creation.
func (m *Manager) Revoke(peer, admin *peers.Peer, link string, done func(Link)) {
	m.performEdit(peer, admin, link, done, editSpec{revoke: true})
}

func (m *Manager) performEdit(peer, admin *peers.Peer, link string, done func(Link), spec editSpec) {
	key := linkKey{peer: peer.ID, link: link}
	if m.deletes.Contains(key) {
		return
	}
	if first := m.edits.Join(key, done); !first {
		return
	}
	m.api.Send(transport.Request{
		Msg: tl.EditExportedChatInvite{
			Peer:          int64(peer.ID),
			Link:          link,
			Revoked:       spec.revoke,
			Title:         spec.title,
			ExpireDate:    spec.expireDate,
			UsageLimit:    int32(spec.usageLimit),
			RequestNeeded: spec.requestNeeded,
			OnlyTitle:     spec.onlyTitle,
		},
		Done: func(resp any) {
			res, ok := resp.(tl.EditExportedChatInviteResult)
			if !ok {
				m.log.Error("unexpected edit invite response",
					zap.String("type", fmt.Sprintf("%T", resp)))
				m.edits.Fail(key)
				return
			}
			m.dir.Process(res.Users)
			edited := parseInvite(m.dir, res.Invite)
			m.applyEdit(peer, key.link, edited)
			m.edits.Resolve(key, edited)
			m.publishUpdate(Update{Peer: peer, Admin: admin, Was: key.link, Now: &edited})
			if res.NewInvite != nil {
				m.prepend(peer, *res.NewInvite)
			}
		},
		Fail: func(err error) {
			m.log.Warn("edit invite link failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			m.edits.Fail(key)
		},
	})
}

// applyEdit reconciles the cached first slice with a server-confirmed edit.
// A link that just became revoked leaves the slice.
func (m *Manager) applyEdit(peer *peers.Peer, link string, edited Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok {
		return
	}
	for i := range slice.Links {
		if slice.Links[i].Link != link {
			continue
		}
		if edited.Revoked && !slice.Links[i].Revoked {
			slice.Links = append(slice.Links[:i:i], slice.Links[i+1:]...)
			slice.Count--
		} else {
			slice.Links[i] = edited
		}
		return
	}
}

// RevokePermanent rotates a peer's primary invite link. With a known link it
// revokes it (the server issues the replacement); with an unknown link of
// another admin there is nothing to rotate locally; otherwise a fresh
// permanent link is created, revoking the legacy one server-side.
func (m *Manager) RevokePermanent(peer, admin *peers.Peer, link string, done func()) {
	callback := func(Link) {
		if done != nil {
			done()
		}
	}
	if link != "" {
		m.performEdit(peer, admin, link, callback, editSpec{revoke: true})
	} else if admin != nil && !admin.Self {
		if done != nil {
			done()
		}
	} else {
		m.performCreate(CreateArgs{Peer: peer, Done: callback}, true)
	}
}

// Destroy permanently deletes a link. Concurrent destroys of the same link
// are coalesced.
func (m *Manager) Destroy(peer, admin *peers.Peer, link string, done func()) {
	key := linkKey{peer: peer.ID, link: link}
	wrapped := func(struct{}) {
		if done != nil {
			done()
		}
	}
	if first := m.deletes.Join(key, wrapped); !first {
		return
	}
	m.api.Send(transport.Request{
		Msg: tl.DeleteExportedChatInvite{Peer: int64(peer.ID), Link: link},
		Done: func(any) {
			m.applyDestroy(peer, link)
			m.deletes.Resolve(key, struct{}{})
			m.publishUpdate(Update{Peer: peer, Admin: admin, Was: link})
		},
		Fail: func(err error) {
			m.log.Warn("destroy invite link failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			m.deletes.Fail(key)
		},
	})
}

func (m *Manager) applyDestroy(peer *peers.Peer, link string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok {
		return
	}
	for i := range slice.Links {
		if slice.Links[i].Link == link {
			slice.Links = append(slice.Links[:i:i], slice.Links[i+1:]...)
			slice.Count--
			return
		}
	}
}

// DestroyAllRevoked deletes every revoked link of an admin on a peer in one
// request. The server does not enumerate the removed links, so completion is
// announced as a single broad event instead of per-link updates.
func (m *Manager) DestroyAllRevoked(peer, admin *peers.Peer, done func()) {
	wrapped := func(struct{}) {
		if done != nil {
			done()
		}
	}
	if first := m.deletesRevoked.Join(peer.ID, wrapped); !first {
		return
	}
	m.api.Send(transport.Request{
		Msg: tl.DeleteRevokedExportedChatInvites{
			Peer:    int64(peer.ID),
			AdminID: int64(admin.ID),
		},
		Done: func(any) {
			if admin.Self {
				m.pruneRevoked(peer)
			}
			m.deletesRevoked.Resolve(peer.ID, struct{}{})
			m.bus.Publish(bus.Event{
				Kind:    bus.KindAllRevokedDestroyed,
				Payload: AllRevokedDestroyed{Peer: peer, Admin: admin},
			})
		},
		Fail: func(err error) {
			m.log.Warn("destroy revoked invite links failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			m.deletesRevoked.Fail(peer.ID)
		},
	})
}

func (m *Manager) pruneRevoked(peer *peers.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok {
		return
	}
	kept := slice.Links[:0]
	for _, l := range slice.Links {
		if l.Revoked {
			slice.Count--
			continue
		}
		kept = append(kept, l)
	}
	slice.Links = kept
}

// RequestMyLinks loads the first page of the logged-in user's links for a
// peer into the cache. At most one request per peer is in flight. A cached
// permanent link survives the merge so a rotation observed locally is not
// clobbered by a stale page.
func (m *Manager) RequestMyLinks(peer *peers.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.firstSliceReqs[peer.ID]; ok {
		return
	}
	m.firstSliceReqs[peer.ID] = m.api.Send(transport.Request{
		Msg: tl.GetExportedChatInvites{
			Peer:    int64(peer.ID),
			AdminID: int64(m.dir.SelfID()),
			Limit:   firstPage,
		},
		Done: func(resp any) { m.myLinksDone(peer, resp) },
		Fail: func(err error) {
			m.log.Warn("load invite links failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			m.mu.Lock()
			delete(m.firstSliceReqs, peer.ID)
			m.mu.Unlock()
		},
	})
}

func (m *Manager) myLinksDone(peer *peers.Peer, resp any) {
	res, ok := resp.(tl.ExportedChatInvites)
	if !ok {
		m.log.Error("unexpected invite links response",
			zap.String("type", fmt.Sprintf("%T", resp)))
		m.mu.Lock()
		delete(m.firstSliceReqs, peer.ID)
		m.mu.Unlock()
		return
	}
	m.dir.Process(res.Users)
	m.mu.Lock()
	delete(m.firstSliceReqs, peer.ID)
	slice := m.parseSliceLocked(peer, res)
	existing, had := m.firstSlices[peer.ID]
	hadPermanent := had && len(existing.Links) > 0 &&
		existing.Links[0].Permanent && !existing.Links[0].Revoked
	if !hadPermanent {
		bringPermanentToFront(&slice)
		stored := slice
		m.firstSlices[peer.ID] = &stored
		if len(stored.Links) > 0 && stored.Links[0].Permanent && !stored.Links[0].Revoked {
			m.dir.SetInviteLink(peer.ID, stored.Links[0].Link)
		}
	} else {
		removePermanent(&slice)
		existing.Links = append(existing.Links[:1:1], slice.Links...)
		existing.Count = slice.Count
		if n := len(existing.Links); existing.Count < n {
			existing.Count = n
		}
	}
	m.mu.Unlock()
	m.bus.Publish(bus.Event{Kind: bus.KindMyLinksChanged, Payload: peer})
}

// RequestMoreLinks pages further through an admin's links on a peer; results
// are handed to done without being cached. On failure done receives an empty
// slice.
func (m *Manager) RequestMoreLinks(peer, admin *peers.Peer, lastDate int64,
	lastLink string, revoked bool, done func(PeerLinks)) {
	m.api.Send(transport.Request{
		Msg: tl.GetExportedChatInvites{
			Peer:       int64(peer.ID),
			AdminID:    int64(admin.ID),
			OffsetDate: lastDate,
			OffsetLink: lastLink,
			Revoked:    revoked,
			Limit:      perPage,
		},
		Done: func(resp any) {
			res, ok := resp.(tl.ExportedChatInvites)
			if !ok {
				m.log.Error("unexpected invite links response",
					zap.String("type", fmt.Sprintf("%T", resp)))
				if done != nil {
					done(PeerLinks{})
				}
				return
			}
			m.dir.Process(res.Users)
			m.mu.Lock()
			slice := m.parseSliceLocked(peer, res)
			m.mu.Unlock()
			if done != nil {
				done(slice)
			}
		},
		Fail: func(err error) {
			m.log.Warn("load more invite links failed",
				zap.Int64("peer", int64(peer.ID)), zap.Error(err))
			if done != nil {
				done(PeerLinks{})
			}
		},
	})
}

// parseSliceLocked converts a server page, skipping the cached permanent link
// so the merge in myLinksDone never duplicates it.
func (m *Manager) parseSliceLocked(peer *peers.Peer, res tl.ExportedChatInvites) PeerLinks {
	var permanentLink string
	if s, ok := m.firstSlices[peer.ID]; ok && len(s.Links) > 0 &&
		s.Links[0].Permanent && !s.Links[0].Revoked {
		permanentLink = s.Links[0].Link
	}
	out := PeerLinks{Count: int(res.Count)}
	for _, inv := range res.Invites {
		if permanentLink != "" && inv.Link == permanentLink {
			continue
		}
		out.Links = append(out.Links, parseInvite(m.dir, inv))
	}
	return out
}

func bringPermanentToFront(s *PeerLinks) {
	for i := range s.Links {
		if s.Links[i].Permanent && !s.Links[i].Revoked {
			if i > 0 {
				l := s.Links[i]
				copy(s.Links[1:i+1], s.Links[:i])
				s.Links[0] = l
			}
			return
		}
	}
}

func removePermanent(s *PeerLinks) {
	for i := range s.Links {
		if s.Links[i].Permanent && !s.Links[i].Revoked {
			s.Links = append(s.Links[:i:i], s.Links[i+1:]...)
			return
		}
	}
}

// MyLinks returns a copy of the cached first page of the logged-in user's
// links for a peer.
func (m *Manager) MyLinks(peer *peers.Peer) PeerLinks {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.firstSlices[peer.ID]
	if !ok {
		return PeerLinks{}
	}
	return PeerLinks{
		Links: append([]Link(nil), s.Links...),
		Count: s.Count,
	}
}

// SetMyPermanent ingests a peer's primary link learned from full peer info,
// replacing or prepending the cached permanent entry.
func (m *Manager) SetMyPermanent(peer *peers.Peer, inv tl.ExportedChatInvite) {
	link := parseInvite(m.dir, inv)
	if !link.Permanent || link.Revoked {
		m.log.Error("non-permanent invite passed as primary",
			zap.Int64("peer", int64(peer.ID)))
		return
	}
	m.mu.Lock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok {
		slice = &PeerLinks{}
		m.firstSlices[peer.ID] = slice
	}
	if len(slice.Links) > 0 && slice.Links[0].Permanent && !slice.Links[0].Revoked {
		if slice.Links[0].Link == link.Link {
			slice.Links[0] = link
		} else {
			slice.Links = append([]Link{link}, slice.Links[1:]...)
		}
	} else {
		slice.Links = append([]Link{link}, slice.Links...)
		slice.Count++
	}
	m.mu.Unlock()
	m.dir.SetInviteLink(peer.ID, link.Link)
	m.bus.Publish(bus.Event{Kind: bus.KindMyLinksChanged, Payload: peer})
}

// ClearMyPermanent drops the cached permanent link of a peer.
func (m *Manager) ClearMyPermanent(peer *peers.Peer) {
	m.mu.Lock()
	slice, ok := m.firstSlices[peer.ID]
	if !ok || len(slice.Links) == 0 ||
		!slice.Links[0].Permanent || slice.Links[0].Revoked {
		m.mu.Unlock()
		return
	}
	slice.Links = append([]Link(nil), slice.Links[1:]...)
	slice.Count--
	m.mu.Unlock()
	m.dir.SetInviteLink(peer.ID, "")
	m.bus.Publish(bus.Event{Kind: bus.KindMyLinksChanged, Payload: peer})
}

// ApplyExternalUpdate reconciles a link state change observed outside this
// manager (another session, a service notification). Own links update the
// cached slice; the change is then announced like any other edit.
func (m *Manager) ApplyExternalUpdate(peer *peers.Peer, link Link) {
	if link.Admin != nil && link.Admin.Self {
		m.applyEdit(peer, link.Link, link)
	}
	m.publishUpdate(Update{Peer: peer, Admin: link.Admin, Was: link.Link, Now: &link})
}

// Clear cancels outstanding page loads and forgets all cached links and
// pending callbacks. Used on logout.
func (m *Manager) Clear() {
	m.mu.Lock()
	for _, req := range m.firstSliceReqs {
		m.api.Cancel(req)
	}
	m.firstSliceReqs = make(map[peers.ID]transport.RequestID)
	m.firstSlices = make(map[peers.ID]*PeerLinks)
	m.mu.Unlock()
	m.creates.Clear()
	m.edits.Clear()
	m.deletes.Clear()
	m.deletesRevoked.Clear()
}

func (m *Manager) publishUpdate(upd Update) {
	m.bus.Publish(bus.Event{Kind: bus.KindInviteUpdate, Payload: upd})
}

// Updates returns a channel delivering link lifecycle updates for one peer
// and admin pair. The stop function unsubscribes and closes the channel.
func (m *Manager) Updates(peer, admin *peers.Peer) (<-chan Update, func()) {
	events, unsub := m.bus.Subscribe(bus.KindInviteUpdate, 16)
	out := make(chan Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				upd, ok := evt.Payload.(Update)
				if !ok || upd.Peer != peer || upd.Admin != admin {
					continue
				}
				select {
				case out <- upd:
				case <-done:
					return
				}
			}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
	return out, stop
}
