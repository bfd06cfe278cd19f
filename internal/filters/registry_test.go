package filters

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/status"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
)

type fixture struct {
	t   *testing.T
	dir *peers.Directory
	q   *transport.Queue
	bus *bus.Bus
	reg *Registry
	now time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	fx := &fixture{
		t:   t,
		dir: peers.NewDirectory(1),
		q:   transport.NewQueue(),
		bus: bus.New(),
		now: time.Unix(1_700_000_000, 0),
	}
	fx.dir.Add(&peers.Peer{ID: 1, Kind: peers.KindUser, Self: true})
	cfg.Now = func() time.Time { return fx.now }
	fx.reg = NewRegistry(fx.dir, fx.q, fx.bus, zap.NewNop(), cfg)
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

func (fx *fixture) load(recs ...tl.DialogFilter) {
	fx.t.Helper()
	fx.reg.Load()
	p := fx.take()
	if _, ok := p.Msg.(tl.GetDialogFilters); !ok {
		fx.t.Fatalf("unexpected request %T", p.Msg)
	}
	fx.q.Resolve(p, tl.DialogFiltersResult{Filters: recs})
}

func (fx *fixture) events(kind string) (<-chan bus.Event, func()) {
	return fx.bus.Subscribe(kind, 64)
}

func drain(ch <-chan bus.Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func ids(list []ChatFilter) []ID {
	out := make([]ID, 0, len(list))
	for _, f := range list {
		out = append(out, f.ID())
	}
	return out
}

func sameIDs(a []ID, b ...ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// everythingRec matches every conversation kind.
func everythingRec(id int32, title string) tl.DialogFilter {
	return tl.DialogFilter{
		Kind:        tl.FilterKindDialog,
		ID:          id,
		Title:       title,
		Contacts:    true,
		NonContacts: true,
		Groups:      true,
		Broadcasts:  true,
		Bots:        true,
	}
}

func chatlistRec(id int32, title string, include ...int64) tl.DialogFilter {
	return tl.DialogFilter{
		Kind:         tl.FilterKindChatlist,
		ID:           id,
		Title:        title,
		IncludePeers: include,
	}
}

func TestLoadLifecycle(t *testing.T) {
	fx := newFixture(t, Config{})
	if got := fx.reg.Status().Current(); got != status.NotLoaded {
		t.Fatalf("initial state = %v, want NotLoaded", got)
	}

	fx.reg.Load()
	if got := fx.reg.Status().Current(); got != status.Loading {
		t.Fatalf("state after Load = %v, want Loading", got)
	}
	p := fx.take()
	fx.q.Resolve(p, tl.DialogFiltersResult{
		Filters:     []tl.DialogFilter{everythingRec(2, "A"), everythingRec(3, "B")},
		TagsEnabled: true,
	})

	if got := fx.reg.Status().Current(); got != status.Loaded {
		t.Errorf("state = %v, want Loaded", got)
	}
	if !fx.reg.Loaded() || !fx.reg.Has() {
		t.Error("registry should report loaded with filters")
	}
	if !sameIDs(ids(fx.reg.List()), 2, 3) {
		t.Errorf("list = %v, want [2 3]", ids(fx.reg.List()))
	}
	if !fx.reg.TagsEnabled() {
		t.Error("tags flag lost")
	}

	// A second Load is a no-op once loaded.
	fx.reg.Load()
	if fx.q.Outstanding() != 0 {
		t.Error("Load after loaded must not refetch")
	}
}

func TestLoadFailureRestoresState(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.reg.Load()
	fx.q.Fail(fx.take(), errors.New("network down"))

	if got := fx.reg.Status().Current(); got != status.NotLoaded {
		t.Errorf("state after failed load = %v, want NotLoaded", got)
	}
	if fx.reg.Loaded() {
		t.Error("failed load must not mark loaded")
	}

	// Load is possible again.
	fx.reg.Load()
	if fx.q.Outstanding() != 1 {
		t.Error("retry did not issue a request")
	}
}

func TestDefaultRecordSkipped(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(
		tl.DialogFilter{Kind: tl.FilterKindDefault},
		everythingRec(2, "A"),
	)
	if !sameIDs(ids(fx.reg.List()), 2) {
		t.Errorf("list = %v, want [2]", ids(fx.reg.List()))
	}
}

func TestReloadNotifiesEvenWhenUnchanged(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))

	ch, unsub := fx.events(bus.KindFiltersChanged)
	defer unsub()

	fx.reg.Reload()
	if !fx.reg.Loaded() {
		t.Error("reload must keep serving the old list")
	}
	fx.q.Resolve(fx.take(), tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(2, "A")},
	})
	if drain(ch) == 0 {
		t.Error("reload completion must notify even without changes")
	}
}

func TestReceivedPreservesListState(t *testing.T) {
	fx := newFixture(t, Config{})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser, Contact: true})
	fx.load(everythingRec(2, "A"), everythingRec(3, "B"))

	if !fx.reg.ChatsList(2).Contains(a) {
		t.Fatal("conversation missing from materialized list")
	}

	// Server-pushed full refresh with reordered entries.
	fx.reg.Apply(tl.UpdateDialogFilters{})
	fx.q.Resolve(fx.take(), tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(3, "B"), everythingRec(2, "A")},
	})

	if !sameIDs(ids(fx.reg.List()), 3, 2) {
		t.Errorf("list = %v, want [3 2]", ids(fx.reg.List()))
	}
	if !fx.reg.ChatsList(2).Contains(a) {
		t.Error("materialized list lost state across reload")
	}
}

func TestApplySetIdempotent(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))

	rec := everythingRec(3, "B")
	fx.reg.Apply(tl.UpdateDialogFilter{ID: 3, Filter: &rec})
	if !sameIDs(ids(fx.reg.List()), 2, 3) {
		t.Fatalf("list = %v, want [2 3]", ids(fx.reg.List()))
	}

	ch, unsub := fx.events(bus.KindFiltersChanged)
	defer unsub()
	fx.reg.Apply(tl.UpdateDialogFilter{ID: 3, Filter: &rec})
	if !sameIDs(ids(fx.reg.List()), 2, 3) {
		t.Errorf("repeat apply changed the list: %v", ids(fx.reg.List()))
	}
	if drain(ch) != 0 {
		t.Error("repeat apply must not notify")
	}
}

func TestApplyTombstone(t *testing.T) {
	fx := newFixture(t, Config{})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser, Contact: true})
	fx.load(everythingRec(2, "A"), everythingRec(3, "B"))

	fx.reg.Apply(tl.UpdateDialogFilter{ID: 2})
	if !sameIDs(ids(fx.reg.List()), 3) {
		t.Errorf("list = %v, want [3]", ids(fx.reg.List()))
	}
	if fx.reg.ChatsList(2).Contains(a) {
		t.Error("removed filter's materialized list must be dropped")
	}

	// Tombstone for an unknown id is a no-op, applied twice included.
	fx.reg.Apply(tl.UpdateDialogFilter{ID: 2})
	fx.reg.Apply(tl.UpdateDialogFilter{ID: 99})
	if !sameIDs(ids(fx.reg.List()), 3) {
		t.Errorf("list = %v, want [3]", ids(fx.reg.List()))
	}
}

func TestApplyOrder(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"), everythingRec(3, "B"), everythingRec(4, "C"))

	// Unknown ids are ignored; unlisted filters keep their relative order
	// after the ordered prefix.
	fx.reg.Apply(tl.UpdateDialogFilterOrder{Order: []int32{4, 99, 2}})
	if !sameIDs(ids(fx.reg.List()), 4, 2, 3) {
		t.Errorf("list = %v, want [4 2 3]", ids(fx.reg.List()))
	}

	// Id zero places the All-chats slot.
	fx.reg.Apply(tl.UpdateDialogFilterOrder{Order: []int32{3, 0, 4, 2}})
	if !sameIDs(ids(fx.reg.List()), 3, 4, 2) {
		t.Errorf("list = %v, want [3 4 2]", ids(fx.reg.List()))
	}
	if got := fx.reg.AllChatsPosition(); got != 1 {
		t.Errorf("all-chats position = %d, want 1", got)
	}

	fx.reg.MoveAllToFront()
	if got := fx.reg.AllChatsPosition(); got != 0 {
		t.Errorf("all-chats position = %d, want 0", got)
	}
}

func TestPinOnlyChangeReordersWithoutRecompute(t *testing.T) {
	fx := newFixture(t, Config{})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser, Contact: true})
	b := addConv(t, fx.dir, peers.Peer{ID: 11, Kind: peers.KindUser, Contact: true})
	a.TopMessageDate = 100
	b.TopMessageDate = 200

	rec := everythingRec(2, "A")
	rec.PinnedPeers = []int64{10}
	fx.load(rec)

	list := fx.reg.ChatsList(2)
	if got := list.All(); got[0] != a {
		t.Fatal("pinned conversation not at front")
	}

	// Same filter with a different pin: membership identical, order changes.
	current := fx.reg.List()[0]
	repinned := New(2, current.Title(), current.IconEmoji(), NoColor,
		current.Flags(), current.Always(), []*peers.Conversation{b}, current.Never())
	fx.reg.Set(repinned)

	got := fx.reg.ChatsList(2).All()
	if got[0] != b {
		t.Errorf("new pin not at front")
	}
	if len(got) != 2 {
		t.Errorf("membership changed on pin-only edit: len %d", len(got))
	}
}

func TestSetEqualFilterDoesNotNotify(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))

	ch, unsub := fx.events(bus.KindFiltersChanged)
	defer unsub()
	fx.reg.Set(fx.reg.List()[0])
	if drain(ch) != 0 {
		t.Error("setting an identical filter must not notify")
	}
}

func TestApplyUpdatedPinned(t *testing.T) {
	fx := newFixture(t, Config{PinnedLimit: 2})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser, Contact: true})
	b := addConv(t, fx.dir, peers.Peer{ID: 11, Kind: peers.KindUser, Contact: true})
	c := addConv(t, fx.dir, peers.Peer{ID: 12, Kind: peers.KindUser, Contact: true})
	fx.load(everythingRec(2, "A"))

	next := fx.reg.ApplyUpdatedPinned(2, []*peers.Conversation{b, a, c})
	pinned := next.Pinned()
	if len(pinned) != 2 || pinned[0] != b || pinned[1] != a {
		t.Errorf("pinned = %d entries, want [b a] capped at limit", len(pinned))
	}
	if !next.AlwaysContains(a) || !next.AlwaysContains(b) {
		t.Error("pinned conversations must be absorbed into always")
	}
	if next.AlwaysContains(c) {
		t.Error("conversation beyond the pinned limit must not be absorbed")
	}
	if next.Title().Text != "A" {
		t.Error("title must survive a pin reorder")
	}
	if committed := fx.reg.List()[0]; !committed.Equal(next) {
		t.Error("pin reorder was not committed to the registry")
	}
}

func TestApplyUpdatedPinnedUnknownPanics(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown filter id")
		}
	}()
	fx.reg.ApplyUpdatedPinned(99, nil)
}

func TestSaveOrder(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.reg.Load()
	loadReq := fx.take()
	fx.q.Resolve(loadReq, tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(2, "A"), everythingRec(3, "B")},
	})

	fx.reg.SaveOrder([]ID{3, 2}, 0)
	// Optimistic: local order applied before the server confirms.
	if !sameIDs(ids(fx.reg.List()), 3, 2) {
		t.Errorf("list = %v, want [3 2]", ids(fx.reg.List()))
	}
	first := fx.take()
	msg, ok := first.Msg.(tl.UpdateDialogFiltersOrder)
	if !ok {
		t.Fatalf("unexpected request %T", first.Msg)
	}
	if len(msg.Order) != 2 || msg.Order[0] != 3 {
		t.Errorf("order payload = %v, want [3 2]", msg.Order)
	}
	fx.q.Resolve(first, nil)
}

func TestSaveOrderReplacesPending(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"), everythingRec(3, "B"))

	fx.reg.SaveOrder([]ID{3, 2}, 0)
	fx.reg.SaveOrder([]ID{2, 3}, 0)

	first := fx.take()
	second := fx.take()
	// The first request was cancelled; completing it must be inert.
	fx.q.Resolve(first, nil)
	fx.q.Resolve(second, nil)
	if !sameIDs(ids(fx.reg.List()), 2, 3) {
		t.Errorf("list = %v, want [2 3]", ids(fx.reg.List()))
	}
}

func TestSaveOrderChainsAfter(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.reg.Load()
	loadReq := fx.take()
	fx.q.Resolve(loadReq, tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(2, "A"), everythingRec(3, "B")},
	})

	fx.reg.Reload()
	if got := fx.q.Outstanding(); got != 1 {
		t.Fatalf("outstanding = %d, want 1", got)
	}
	reload := fx.take()

	fx.reg.SaveOrder([]ID{3, 2}, reload.ID)
	// The chained request must not be handed out before its dependency
	// completed.
	if fx.q.Take() != nil {
		t.Fatal("after-chained request released too early")
	}
	fx.q.Resolve(reload, tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(2, "A"), everythingRec(3, "B")},
	})
	if fx.q.Take() == nil {
		t.Fatal("chained request not released after dependency completed")
	}
}

func TestToggleTagsCommitsOnSuccessOnly(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))

	var failed error
	fx.reg.RequestToggleTags(true, func(err error) { failed = err })
	if fx.reg.TagsEnabled() {
		t.Error("tags flag must not flip before the server confirms")
	}
	fx.q.Fail(fx.take(), errors.New("flood wait"))
	if fx.reg.TagsEnabled() {
		t.Error("tags flag must stay off after failure")
	}
	if failed == nil {
		t.Error("failure callback not invoked")
	}

	fx.reg.RequestToggleTags(true, nil)
	fx.q.Resolve(fx.take(), nil)
	if !fx.reg.TagsEnabled() {
		t.Error("tags flag must commit on success")
	}
}

func TestSuggestedCooldown(t *testing.T) {
	fx := newFixture(t, Config{SuggestedRefresh: 2 * time.Hour})

	fx.reg.RequestSuggested()
	p := fx.take()
	if _, ok := p.Msg.(tl.GetSuggestedDialogFilters); !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	fx.q.Resolve(p, []tl.DialogFilterSuggested{
		{Filter: everythingRec(9, "Unread"), Description: "Chats you have not read"},
	})
	if !fx.reg.SuggestedLoaded() {
		t.Error("suggested not marked loaded")
	}
	if got := len(fx.reg.SuggestedFilters()); got != 1 {
		t.Errorf("suggested len = %d, want 1", got)
	}

	// Within the cooldown nothing is sent.
	fx.now = fx.now.Add(time.Hour)
	fx.reg.RequestSuggested()
	if fx.q.Outstanding() != 0 {
		t.Error("fetch within cooldown must be suppressed")
	}

	fx.now = fx.now.Add(time.Hour + time.Minute)
	fx.reg.RequestSuggested()
	if fx.q.Outstanding() != 1 {
		t.Error("fetch after cooldown must be issued")
	}
}

func TestSuggestedFailureHalvesCooldown(t *testing.T) {
	fx := newFixture(t, Config{SuggestedRefresh: 2 * time.Hour})

	fx.reg.RequestSuggested()
	fx.q.Fail(fx.take(), errors.New("network down"))

	// The failure stamps the clock half a cooldown ahead: the next attempt
	// is allowed one and a half cooldowns after the failure.
	fx.now = fx.now.Add(2*time.Hour + 59*time.Minute)
	fx.reg.RequestSuggested()
	if fx.q.Outstanding() != 0 {
		t.Error("fetch before the post-failure window must be suppressed")
	}
	fx.now = fx.now.Add(2 * time.Minute)
	fx.reg.RequestSuggested()
	if fx.q.Outstanding() != 1 {
		t.Error("fetch after the post-failure window must be issued")
	}
}

func TestRefreshTracksConversationState(t *testing.T) {
	fx := newFixture(t, Config{})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser, Contact: true})

	rec := everythingRec(2, "A")
	rec.ExcludeMuted = true
	fx.load(rec)

	if !fx.reg.ChatsList(2).Contains(a) {
		t.Fatal("conversation missing from filter list")
	}

	a.Muted = true
	fx.reg.Refresh(a)
	if fx.reg.ChatsList(2).Contains(a) {
		t.Error("muted conversation must leave a no-muted filter")
	}
	if !fx.reg.ChatsList(0).Contains(a) {
		t.Error("global list membership must be unaffected")
	}

	a.Muted = false
	fx.reg.Refresh(a)
	if !fx.reg.ChatsList(2).Contains(a) {
		t.Error("unmuted conversation must rejoin the filter")
	}
}

func TestArchiveNeeded(t *testing.T) {
	fx := newFixture(t, Config{})
	rec := everythingRec(2, "A")
	rec.ExcludeArchived = true
	fx.load(rec)
	if fx.reg.ArchiveNeeded() {
		t.Error("no filter admits archived chats")
	}

	rec2 := everythingRec(3, "B")
	fx.reg.Apply(tl.UpdateDialogFilter{ID: 3, Filter: &rec2})
	if !fx.reg.ArchiveNeeded() {
		t.Error("a filter without the no-archived rule admits archived chats")
	}
}

func TestChatlistLinks(t *testing.T) {
	fx := newFixture(t, Config{})
	addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindGroup})
	fx.load(everythingRec(2, "A"), chatlistRec(5, "Shared", 10))

	// Links attach only to chatlist filters.
	if _, ok := fx.reg.AddLink(2, tl.ExportedChatlistInvite{URL: "u"}); ok {
		t.Error("link on a non-chatlist filter must be rejected")
	}

	link, ok := fx.reg.AddLink(5, tl.ExportedChatlistInvite{
		URL: "https://x/1", Title: "main", Peers: []int64{10, 9999},
	})
	if !ok {
		t.Fatal("link rejected")
	}
	if len(link.Chats) != 1 {
		t.Errorf("chats = %d, want 1 (unknown peer dropped)", len(link.Chats))
	}

	// Same URL updates in place.
	fx.reg.AddLink(5, tl.ExportedChatlistInvite{URL: "https://x/1", Title: "renamed"})
	links := fx.reg.ChatlistLinks(5)
	if len(links) != 1 || links[0].Title != "renamed" {
		t.Errorf("links = %+v, want single renamed entry", links)
	}

	fx.reg.DestroyLink(5, "https://x/1")
	if len(fx.reg.ChatlistLinks(5)) != 0 {
		t.Error("destroyed link still present")
	}
	p := fx.take()
	if _, ok := p.Msg.(tl.DeleteExportedInvite); !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	fx.q.Resolve(p, nil)
}

func TestRemoveDropsDependentState(t *testing.T) {
	fx := newFixture(t, Config{})
	addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindGroup})
	fx.load(chatlistRec(5, "Shared", 10))
	fx.reg.AddLink(5, tl.ExportedChatlistInvite{URL: "https://x/1", Title: "main"})

	ch, unsub := fx.events(bus.KindLinksUpdated)
	defer unsub()
	fx.reg.Remove(5)
	if len(fx.reg.ChatlistLinks(5)) != 0 {
		t.Error("links must be dropped with the filter")
	}
	if drain(ch) == 0 {
		t.Error("dropping links must notify")
	}
}

func TestMoreChats(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(chatlistRec(5, "Shared"))

	if got := fx.reg.MoreChatsContent(0); got != 0 {
		t.Errorf("all-chats more content = %d, want 0", got)
	}

	if got := fx.reg.MoreChatsContent(5); got != 0 {
		t.Errorf("initial more content = %d, want 0", got)
	}
	p := fx.take()
	if _, ok := p.Msg.(tl.GetChatlistUpdates); !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	fx.q.Resolve(p, tl.ChatlistUpdatesResult{
		MissingPeers: []int64{100, 101},
		Peers: []tl.PeerInfo{
			{ID: 100, Group: true, Name: "one"},
			{ID: 101, Group: true, Name: "two"},
		},
	})
	if got := len(fx.reg.MoreChats(5)); got != 2 {
		t.Errorf("missing peers = %d, want 2", got)
	}
	if got := fx.reg.MoreChatsContent(5); got != 2 {
		t.Errorf("more content = %d, want 2", got)
	}

	fx.reg.MoreChatsHide(5, false)
	p = fx.take()
	if _, ok := p.Msg.(tl.HideChatlistUpdates); !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	fx.q.Resolve(p, nil)
	if got := len(fx.reg.MoreChats(5)); got != 0 {
		t.Errorf("missing peers after hide = %d, want 0", got)
	}
	fx.reg.Clear()
}

func TestMoreChatsIgnoresNonChatlist(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))
	fx.reg.MoreChatsContent(2)
	if fx.q.Outstanding() != 0 {
		t.Error("non-chatlist filter must not fetch chatlist updates")
	}
}

func TestLoadNextExceptions(t *testing.T) {
	fx := newFixture(t, Config{LoadExceptionsAfter: 100})
	a := addConv(t, fx.dir, peers.Peer{ID: 10, Kind: peers.KindUser})

	rec := everythingRec(2, "A")
	rec.IncludePeers = []int64{10}
	fx.load(rec)

	// Small dialog list, still loading: resolution is deferred.
	if fx.reg.LoadNextExceptions(false) {
		t.Error("exception load must wait for the dialog list")
	}

	if !fx.reg.LoadNextExceptions(true) {
		t.Fatal("exception load not issued")
	}
	// In flight: the second call reports busy without a second request.
	if !fx.reg.LoadNextExceptions(true) {
		t.Error("in-flight exception load must report busy")
	}
	if fx.q.Outstanding() != 1 {
		t.Fatalf("outstanding = %d, want 1", fx.q.Outstanding())
	}

	p := fx.take()
	req, ok := p.Msg.(tl.GetPeerDialogs)
	if !ok {
		t.Fatalf("unexpected request %T", p.Msg)
	}
	if len(req.Peers) != 1 || req.Peers[0] != 10 {
		t.Errorf("request peers = %v, want [10]", req.Peers)
	}
	fx.q.Resolve(p, tl.PeerDialogsResult{Peers: []tl.PeerInfo{{ID: 10, User: true}}})

	if !a.FolderKnown {
		t.Error("resolved conversation must have its folder marked known")
	}
	if fx.reg.LoadNextExceptions(true) {
		t.Error("nothing left to resolve")
	}
}

func TestClearCancelsAndResets(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.load(everythingRec(2, "A"))
	fx.reg.Reload()
	fx.reg.Clear()
	if fx.reg.Loaded() || fx.reg.Has() {
		t.Error("clear must forget the list")
	}
	if got := fx.reg.Status().Current(); got != status.NotLoaded {
		t.Errorf("state after clear = %v, want NotLoaded", got)
	}

	// The outstanding reload was cancelled: its response must be inert.
	pending := fx.take()
	fx.q.Resolve(pending, tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(3, "B")},
	})
	if fx.reg.Loaded() {
		t.Error("cancelled response must not repopulate the registry")
	}
}

func TestSetPreloaded(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.reg.SetPreloaded([]tl.DialogFilter{everythingRec(2, "A")}, true)
	if !fx.reg.Loaded() {
		t.Fatal("preloaded registry must report loaded")
	}
	if got := fx.reg.Status().Current(); got != status.Loaded {
		t.Errorf("state = %v, want Loaded", got)
	}
	if fx.q.Outstanding() != 0 {
		t.Error("preloading must not talk to the transport")
	}

	// Preloading again after the first population is ignored.
	fx.reg.SetPreloaded([]tl.DialogFilter{everythingRec(9, "Z")}, false)
	if !sameIDs(ids(fx.reg.List()), 2) {
		t.Errorf("list = %v, want [2]", ids(fx.reg.List()))
	}

	// Reload still fetches the authoritative list.
	fx.reg.Reload()
	fx.q.Resolve(fx.take(), tl.DialogFiltersResult{
		Filters: []tl.DialogFilter{everythingRec(3, "B")},
	})
	if !sameIDs(ids(fx.reg.List()), 3) {
		t.Errorf("list = %v, want [3]", ids(fx.reg.List()))
	}
}
