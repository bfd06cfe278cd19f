package invites

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
)

type fixture struct {
	t     *testing.T
	dir   *peers.Directory
	q     *transport.Queue
	bus   *bus.Bus
	m     *Manager
	self  *peers.Peer
	other *peers.Peer
	group *peers.Peer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		t:   t,
		dir: peers.NewDirectory(1),
		q:   transport.NewQueue(),
		bus: bus.New(),
	}
	fx.self = fx.dir.Add(&peers.Peer{ID: 1, Kind: peers.KindUser, Self: true})
	fx.other = fx.dir.Add(&peers.Peer{ID: 2, Kind: peers.KindUser})
	fx.group = fx.dir.Add(&peers.Peer{ID: 100, Kind: peers.KindGroup})
	fx.m = NewManager(fx.q, fx.dir, fx.bus, zap.NewNop())
	return fx
}

func (fx *fixture) take() *transport.Pending {
	fx.t.Helper()
	p := fx.q.Take()
	if p == nil {
		fx.t.Fatal("no pending request")
	}
	return p
}

// createLink drives one Create through the queue.
func (fx *fixture) createLink(inv tl.ExportedChatInvite) Link {
	fx.t.Helper()
	var got Link
	fx.m.Create(CreateArgs{Peer: fx.group, Done: func(l Link) { got = l }})
	fx.q.Resolve(fx.take(), inv)
	if got.Link != inv.Link {
		fx.t.Fatalf("created link = %q, want %q", got.Link, inv.Link)
	}
	return got
}

func inv(link string, permanent, revoked bool) tl.ExportedChatInvite {
	return tl.ExportedChatInvite{
		Link:      link,
		AdminID:   1,
		Permanent: permanent,
		Revoked:   revoked,
	}
}

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update")
		return Update{}
	}
}

func expectNoUpdate(t *testing.T, ch <-chan Update) {
	t.Helper()
	select {
	case u := <-ch:
		t.Errorf("unexpected update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreateCoalesces(t *testing.T) {
	fx := newFixture(t)
	var first, second Link
	fx.m.Create(CreateArgs{Peer: fx.group, Done: func(l Link) { first = l }})
	fx.m.Create(CreateArgs{Peer: fx.group, Done: func(l Link) { second = l }})
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1 (coalesced)", fx.q.Outstanding())
	}

	p := fx.take()
	req, ok := p.Msg.(tl.ExportChatInvite)
	if !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	if req.Peer != 100 {
		t.Errorf("request peer = %d, want 100", req.Peer)
	}
	fx.q.Resolve(p, inv("https://t/abc", false, false))

	if first.Link != "https://t/abc" || second.Link != "https://t/abc" {
		t.Error("both waiters must observe the created link")
	}
	my := fx.m.MyLinks(fx.group)
	if my.Count != 1 || len(my.Links) != 1 || my.Links[0].Link != "https://t/abc" {
		t.Errorf("cached links = %+v, want the created link", my)
	}
}

func TestCreateFailureUnblocks(t *testing.T) {
	fx := newFixture(t)
	called := false
	fx.m.Create(CreateArgs{Peer: fx.group, Done: func(Link) { called = true }})
	fx.q.Fail(fx.take(), errors.New("flood wait"))
	if called {
		t.Error("failed create must not invoke the callback")
	}

	// The key is released: a retry issues a fresh request.
	fx.m.Create(CreateArgs{Peer: fx.group})
	if fx.q.Outstanding() != 1 {
		t.Error("retry after failure did not issue a request")
	}
}

func TestPermanentDemotion(t *testing.T) {
	fx := newFixture(t)
	updates, stop := fx.m.Updates(fx.group, fx.self)
	defer stop()

	fx.createLink(inv("https://t/perm1", true, false))
	created := recvUpdate(t, updates)
	if created.Was != "" || created.Now == nil || !created.Now.Permanent {
		t.Fatalf("creation update = %+v", created)
	}

	fx.createLink(inv("https://t/perm2", true, false))
	demotion := recvUpdate(t, updates)
	if demotion.Was != "https://t/perm1" || demotion.Now == nil || !demotion.Now.Revoked {
		t.Fatalf("demotion update = %+v", demotion)
	}
	creation := recvUpdate(t, updates)
	if creation.Now == nil || creation.Now.Link != "https://t/perm2" {
		t.Fatalf("creation update = %+v", creation)
	}

	my := fx.m.MyLinks(fx.group)
	if my.Count != 1 || len(my.Links) != 1 {
		t.Fatalf("cached links = %+v, want exactly the new permanent", my)
	}
	if my.Links[0].Link != "https://t/perm2" || !my.Links[0].Permanent {
		t.Errorf("front link = %+v, want the new permanent", my.Links[0])
	}
	if got := fx.dir.Peer(fx.group.ID).InviteLink; got != "https://t/perm2" {
		t.Errorf("peer invite link = %q, want the new permanent", got)
	}
}

func TestNonPermanentKeepsPermanentInFront(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/perm", true, false))
	fx.createLink(inv("https://t/extra", false, false))

	my := fx.m.MyLinks(fx.group)
	if my.Count != 2 || len(my.Links) != 2 {
		t.Fatalf("cached links = %+v, want two", my)
	}
	if my.Links[0].Link != "https://t/perm" || my.Links[1].Link != "https://t/extra" {
		t.Errorf("order = [%s %s], permanent must stay in front",
			my.Links[0].Link, my.Links[1].Link)
	}
}

func TestEditCoalescesAndUpdatesCache(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/abc", false, false))

	var first, second Link
	fx.m.Edit(fx.group, fx.self, "https://t/abc", "renamed", 0, 0, false,
		func(l Link) { first = l })
	fx.m.EditTitle(fx.group, fx.self, "https://t/abc", "renamed",
		func(l Link) { second = l })
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1 (coalesced)", fx.q.Outstanding())
	}

	edited := inv("https://t/abc", false, false)
	edited.Title = "renamed"
	fx.q.Resolve(fx.take(), tl.EditExportedChatInviteResult{Invite: edited})

	if first.Title != "renamed" || second.Title != "renamed" {
		t.Error("both waiters must observe the edited link")
	}
	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 1 || my.Links[0].Title != "renamed" {
		t.Errorf("cached links = %+v, want renamed entry", my)
	}
}

func TestEditBlockedDuringDelete(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/abc", false, false))

	fx.m.Destroy(fx.group, fx.self, "https://t/abc", nil)
	if fx.q.Outstanding() != 1 {
		t.Fatal("destroy did not issue a request")
	}
	fx.m.Edit(fx.group, fx.self, "https://t/abc", "late", 0, 0, false, nil)
	if fx.q.Outstanding() != 1 {
		t.Error("edit during pending delete must be dropped")
	}
}

func TestRevokeRemovesAndPrependsReplacement(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/perm", true, false))

	var revoked Link
	fx.m.Revoke(fx.group, fx.self, "https://t/perm", func(l Link) { revoked = l })
	replacement := inv("https://t/perm2", true, false)
	fx.q.Resolve(fx.take(), tl.EditExportedChatInviteResult{
		Invite:    inv("https://t/perm", true, true),
		NewInvite: &replacement,
	})

	if !revoked.Revoked {
		t.Error("revoke callback must observe the revoked state")
	}
	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 1 || my.Links[0].Link != "https://t/perm2" {
		t.Errorf("cached links = %+v, want only the replacement", my)
	}
	if my.Count != 1 {
		t.Errorf("count = %d, want 1", my.Count)
	}
}

func TestRevokePermanentBranches(t *testing.T) {
	t.Run("known link revokes it", func(t *testing.T) {
		fx := newFixture(t)
		fx.m.RevokePermanent(fx.group, fx.self, "https://t/perm", nil)
		p := fx.take()
		req, ok := p.Msg.(tl.EditExportedChatInvite)
		if !ok || !req.Revoked {
			t.Fatalf("request = %+v, want revoking edit", p.Msg)
		}
		fx.q.Resolve(p, tl.EditExportedChatInviteResult{
			Invite: inv("https://t/perm", true, true),
		})
	})

	t.Run("foreign admin without link completes locally", func(t *testing.T) {
		fx := newFixture(t)
		called := false
		fx.m.RevokePermanent(fx.group, fx.other, "", func() { called = true })
		if !called {
			t.Error("done must run immediately")
		}
		if fx.q.Outstanding() != 0 {
			t.Error("no request expected")
		}
	})

	t.Run("own missing link creates a legacy-revoking one", func(t *testing.T) {
		fx := newFixture(t)
		called := false
		fx.m.RevokePermanent(fx.group, fx.self, "", func() { called = true })
		p := fx.take()
		req, ok := p.Msg.(tl.ExportChatInvite)
		if !ok || !req.LegacyRevokePermanent {
			t.Fatalf("request = %+v, want legacy-revoking create", p.Msg)
		}
		fx.q.Resolve(p, inv("https://t/perm2", true, false))
		if !called {
			t.Error("done must run after the create completes")
		}
	})
}

func TestDestroy(t *testing.T) {
	fx := newFixture(t)
	updates, stop := fx.m.Updates(fx.group, fx.self)
	defer stop()
	fx.createLink(inv("https://t/abc", false, false))
	recvUpdate(t, updates) // creation

	done := 0
	fx.m.Destroy(fx.group, fx.self, "https://t/abc", func() { done++ })
	fx.m.Destroy(fx.group, fx.self, "https://t/abc", func() { done++ })
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1 (coalesced)", fx.q.Outstanding())
	}
	fx.q.Resolve(fx.take(), nil)

	if done != 2 {
		t.Errorf("done callbacks = %d, want 2", done)
	}
	upd := recvUpdate(t, updates)
	if upd.Was != "https://t/abc" || upd.Now != nil {
		t.Errorf("deletion update = %+v, want Was set and Now nil", upd)
	}
	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 0 || my.Count != 0 {
		t.Errorf("cached links = %+v, want empty", my)
	}
}

func TestDestroyAllRevoked(t *testing.T) {
	fx := newFixture(t)
	events, unsub := fx.bus.Subscribe(bus.KindAllRevokedDestroyed, 4)
	defer unsub()

	called := false
	fx.m.DestroyAllRevoked(fx.group, fx.self, func() { called = true })
	fx.m.DestroyAllRevoked(fx.group, fx.self, nil)
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1 (coalesced)", fx.q.Outstanding())
	}

	p := fx.take()
	req, ok := p.Msg.(tl.DeleteRevokedExportedChatInvites)
	if !ok || req.AdminID != 1 {
		t.Fatalf("request = %+v, want revoked bulk delete for self", p.Msg)
	}
	fx.q.Resolve(p, nil)

	if !called {
		t.Error("done not invoked")
	}
	select {
	case evt := <-events:
		payload, ok := evt.Payload.(AllRevokedDestroyed)
		if !ok || payload.Peer != fx.group || payload.Admin != fx.self {
			t.Errorf("event payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broad event")
	}
	for _, l := range fx.m.MyLinks(fx.group).Links {
		if l.Revoked {
			t.Errorf("revoked link %q survived the bulk delete", l.Link)
		}
	}
}

func TestRequestMyLinks(t *testing.T) {
	fx := newFixture(t)
	events, unsub := fx.bus.Subscribe(bus.KindMyLinksChanged, 4)
	defer unsub()

	fx.m.RequestMyLinks(fx.group)
	fx.m.RequestMyLinks(fx.group)
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1 (single in-flight load)", fx.q.Outstanding())
	}

	p := fx.take()
	req, ok := p.Msg.(tl.GetExportedChatInvites)
	if !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	if req.Limit != 10 || req.AdminID != 1 {
		t.Errorf("request = %+v, want first page of own links", req)
	}
	fx.q.Resolve(p, tl.ExportedChatInvites{
		Count: 2,
		Invites: []tl.ExportedChatInvite{
			inv("https://t/extra", false, false),
			inv("https://t/perm", true, false),
		},
	})

	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 2 || my.Count != 2 {
		t.Fatalf("cached links = %+v, want two", my)
	}
	if my.Links[0].Link != "https://t/perm" {
		t.Error("permanent link must be brought to the front")
	}
	if got := fx.dir.Peer(fx.group.ID).InviteLink; got != "https://t/perm" {
		t.Errorf("peer invite link = %q, want the permanent", got)
	}
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for links-changed event")
	}
}

func TestRequestMyLinksPreservesLocalPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/fresh", true, false))

	fx.m.RequestMyLinks(fx.group)
	// Stale page still listing the rotated-away permanent.
	fx.q.Resolve(fx.take(), tl.ExportedChatInvites{
		Count: 2,
		Invites: []tl.ExportedChatInvite{
			inv("https://t/stale", true, false),
			inv("https://t/extra", false, false),
		},
	})

	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 2 {
		t.Fatalf("cached links = %+v, want two", my)
	}
	if my.Links[0].Link != "https://t/fresh" {
		t.Error("locally known permanent must survive the merge")
	}
	for _, l := range my.Links {
		if l.Link == "https://t/stale" {
			t.Error("stale permanent from the page must be dropped")
		}
	}
}

func TestRequestMoreLinks(t *testing.T) {
	fx := newFixture(t)
	var got PeerLinks
	fx.m.RequestMoreLinks(fx.group, fx.self, 123, "https://t/last", false,
		func(s PeerLinks) { got = s })

	p := fx.take()
	req, ok := p.Msg.(tl.GetExportedChatInvites)
	if !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	if req.Limit != 50 || req.OffsetDate != 123 || req.OffsetLink != "https://t/last" {
		t.Errorf("request = %+v, want offset page of 50", req)
	}
	fx.q.Resolve(p, tl.ExportedChatInvites{
		Count:   7,
		Invites: []tl.ExportedChatInvite{inv("https://t/next", false, false)},
	})
	if got.Count != 7 || len(got.Links) != 1 {
		t.Errorf("slice = %+v, want one link of seven", got)
	}

	// Paged results are not cached.
	if len(fx.m.MyLinks(fx.group).Links) != 0 {
		t.Error("paged results must not populate the cache")
	}

	// Failure delivers an empty slice.
	var failed *PeerLinks
	fx.m.RequestMoreLinks(fx.group, fx.self, 0, "", true,
		func(s PeerLinks) { failed = &s })
	fx.q.Fail(fx.take(), errors.New("network down"))
	if failed == nil || len(failed.Links) != 0 {
		t.Error("failed page must deliver an empty slice")
	}
}

func TestSetAndClearMyPermanent(t *testing.T) {
	fx := newFixture(t)
	fx.m.SetMyPermanent(fx.group, inv("https://t/perm", true, false))

	my := fx.m.MyLinks(fx.group)
	if len(my.Links) != 1 || !my.Links[0].Permanent {
		t.Fatalf("cached links = %+v, want the permanent", my)
	}
	if got := fx.dir.Peer(fx.group.ID).InviteLink; got != "https://t/perm" {
		t.Errorf("peer invite link = %q", got)
	}

	// A non-permanent record is rejected.
	fx.m.SetMyPermanent(fx.group, inv("https://t/other", false, false))
	if got := fx.m.MyLinks(fx.group); len(got.Links) != 1 {
		t.Error("non-permanent record must be rejected")
	}

	fx.m.ClearMyPermanent(fx.group)
	if got := fx.m.MyLinks(fx.group); len(got.Links) != 0 || got.Count != 0 {
		t.Errorf("cached links = %+v, want empty", got)
	}
	if got := fx.dir.Peer(fx.group.ID).InviteLink; got != "" {
		t.Errorf("peer invite link = %q, want cleared", got)
	}
}

func TestApplyExternalUpdate(t *testing.T) {
	fx := newFixture(t)
	updates, stop := fx.m.Updates(fx.group, fx.self)
	defer stop()
	created := fx.createLink(inv("https://t/abc", false, false))
	recvUpdate(t, updates) // creation

	revoked := created
	revoked.Revoked = true
	fx.m.ApplyExternalUpdate(fx.group, revoked)

	upd := recvUpdate(t, updates)
	if upd.Was != "https://t/abc" || upd.Now == nil || !upd.Now.Revoked {
		t.Errorf("update = %+v, want revocation", upd)
	}
	if len(fx.m.MyLinks(fx.group).Links) != 0 {
		t.Error("revoked own link must leave the cache")
	}
}

func TestUpdatesFiltersByPeerAndAdmin(t *testing.T) {
	fx := newFixture(t)
	channel := fx.dir.Add(&peers.Peer{ID: 200, Kind: peers.KindChannel, Broadcast: true})
	updates, stop := fx.m.Updates(channel, fx.self)
	defer stop()

	fx.createLink(inv("https://t/abc", false, false)) // fx.group, not channel
	expectNoUpdate(t, updates)
}

func TestClearCancelsAndForgets(t *testing.T) {
	fx := newFixture(t)
	fx.createLink(inv("https://t/abc", false, false))
	fx.m.RequestMyLinks(fx.group)

	fx.m.Clear()
	if len(fx.m.MyLinks(fx.group).Links) != 0 {
		t.Error("clear must drop cached links")
	}

	// The in-flight page load was cancelled: its response must be inert.
	fx.q.Resolve(fx.take(), tl.ExportedChatInvites{
		Count:   1,
		Invites: []tl.ExportedChatInvite{inv("https://t/late", false, false)},
	})
	if len(fx.m.MyLinks(fx.group).Links) != 0 {
		t.Error("cancelled response must not repopulate the cache")
	}
}
