package filters

import (
	"fmt"
	"sync"
	"time"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/status"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/zap"
)

// Config carries the registry tunables. Zero values fall back to the
// defaults the server assumes.
type Config struct {
	// SuggestedRefresh is the cooldown between suggested-filter fetches.
	SuggestedRefresh time.Duration
	// ChatlistUpdatePeriod is how often a watched chatlist re-checks for
	// missing peers.
	ChatlistUpdatePeriod time.Duration
	// PinnedLimit caps how many conversations a filter may pin.
	PinnedLimit int
	// LoadExceptionsAfter delays exception resolution until the global
	// dialog list reached this size (or finished loading).
	LoadExceptionsAfter int
	// LoadExceptionsPerRequest caps peers per exception-resolution request.
	LoadExceptionsPerRequest int
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SuggestedRefresh <= 0 {
		c.SuggestedRefresh = 2 * time.Hour
	}
	if c.ChatlistUpdatePeriod <= 0 {
		c.ChatlistUpdatePeriod = time.Hour
	}
	if c.PinnedLimit <= 0 {
		c.PinnedLimit = 100
	}
	if c.LoadExceptionsAfter <= 0 {
		c.LoadExceptionsAfter = 100
	}
	if c.LoadExceptionsPerRequest <= 0 {
		c.LoadExceptionsPerRequest = 100
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SuggestedFilter is a server-suggested filter template.
type SuggestedFilter struct {
	Filter      ChatFilter
	Description string
}

// TagColorChanged is the payload of tag-color change events.
type TagColorChanged struct {
	FilterID              ID
	ColorExistenceChanged bool
}

// ChatFilterLink is one shareable chatlist link attached to a filter.
type ChatFilterLink struct {
	FilterID ID
	URL      string
	Title    string
	Chats    []*peers.Conversation
}

// Registry owns the session's ordered filter list, the per-filter
// materialized dialog lists, and the synchronization state with the remote
// authority. One per session; torn down with it.
type Registry struct {
	mu    sync.Mutex
	owner *peers.Directory
	api   transport.Requester
	bus   *bus.Bus
	log   *zap.Logger
	cfg   Config
	state *status.Machine

	list             []ChatFilter
	chatsLists       map[ID]*DialogList
	allChatsPosition int

	loadedOnce bool
	reloading  bool
	loadReqID  transport.RequestID

	tagsEnabled     bool
	toggleTagsReqID transport.RequestID

	suggested             []SuggestedFilter
	suggestedLastReceived time.Time
	suggestedReqID        transport.RequestID

	chatlistLinks map[ID][]ChatFilterLink
	linksReqID    transport.RequestID

	moreChats           map[ID]*moreChatsEntry
	moreChatsTimer      *time.Timer
	moreChatsTimerArmed bool

	saveOrderReqID   transport.RequestID
	saveOrderAfterID transport.RequestID

	exceptionsToLoad []ID
	exceptionsReqID  transport.RequestID
}

// NewRegistry creates an empty registry. Call Load (or SetPreloaded followed
// by Load) to populate it.
func NewRegistry(
	dir *peers.Directory,
	api transport.Requester,
	b *bus.Bus,
	log *zap.Logger,
	cfg Config,
) *Registry {
	return &Registry{
		owner:         dir,
		api:           api,
		bus:           b,
		log:           log,
		cfg:           cfg.withDefaults(),
		state:         status.NewMachine(b),
		chatsLists:    make(map[ID]*DialogList),
		chatlistLinks: make(map[ID][]ChatFilterLink),
		moreChats:     make(map[ID]*moreChatsEntry),
	}
}

// Status returns the load state machine.
func (r *Registry) Status() *status.Machine {
	return r.state
}

// Loaded reports whether the list was populated at least once.
func (r *Registry) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedOnce
}

// Has reports whether any real filter exists beyond the implicit All chats.
func (r *Registry) Has() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list) > 0
}

// List returns a snapshot of the ordered filter list.
func (r *Registry) List() []ChatFilter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatFilter(nil), r.list...)
}

// AllChatsPosition returns the sidebar index of the implicit All-chats slot.
func (r *Registry) AllChatsPosition() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allChatsPosition
}

// TagsEnabled reports whether folder tags are enabled for the session.
func (r *Registry) TagsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tagsEnabled
}

// ArchiveNeeded reports whether any filter can contain archived chats.
func (r *Registry) ArchiveNeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.list {
		if f.flags&FlagNoArchived == 0 {
			return true
		}
	}
	return false
}

// ChatsList returns the live materialized dialog list for a filter id; id 0
// is the global unfiltered list. The returned reference is owned by the
// registry: callers must not retain it past Remove or Clear.
func (r *Registry) ChatsList(id ID) *DialogList {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatsListLocked(id)
}

func (r *Registry) chatsListLocked(id ID) *DialogList {
	l, ok := r.chatsLists[id]
	if !ok {
		l = NewDialogList()
		r.chatsLists[id] = l
	}
	return l
}

// Load fetches the filter list unless it is already loaded or a fetch is in
// flight.
func (r *Registry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadedOnce || r.loadReqID != 0 {
		return
	}
	r.loadLocked(false)
}

// Reload fetches the filter list even when already loaded. If a fetch is in
// flight it is left running; its response applies with reload semantics.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reloading = true
	if r.loadReqID != 0 {
		return
	}
	r.loadLocked(false)
}

func (r *Registry) loadLocked(force bool) {
	if r.loadReqID != 0 {
		if !force {
			return
		}
		r.api.Cancel(r.loadReqID)
	}
	_ = r.state.Transition(status.Loading)
	r.loadReqID = r.api.Send(transport.Request{
		Msg:  tl.GetDialogFilters{},
		Done: r.loadDone,
		Fail: r.loadFailed,
	})
}

func (r *Registry) loadDone(resp any) {
	res, ok := resp.(tl.DialogFiltersResult)
	if !ok {
		r.log.Error("unexpected filters response", zap.String("type", fmt.Sprintf("%T", resp)))
		r.loadFailed(fmt.Errorf("unexpected response type %T", resp))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadReqID = 0
	r.setTagsEnabledLocked(res.TagsEnabled)
	r.receivedLocked(res.Filters)
}

func (r *Registry) loadFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadReqID = 0
	r.log.Warn("filters load failed", zap.Error(err))
	if r.loadedOnce {
		_ = r.state.Transition(status.Loaded)
	} else {
		_ = r.state.Transition(status.NotLoaded)
	}
	if r.reloading {
		r.reloading = false
		r.publishChangedLocked()
	}
}

// SetPreloaded seeds the registry from the local cache before the first
// server fetch. A subsequent Reload still fetches the authoritative list.
func (r *Registry) SetPreloaded(recs []tl.DialogFilter, tagsEnabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadedOnce || r.loadReqID != 0 {
		return
	}
	r.setTagsEnabledLocked(tagsEnabled)
	r.receivedLocked(recs)
}

// receivedLocked replaces the list wholesale by diffing against the current
// one: structural inserts/removals/moves plus per-entry applyChange, so the
// materialized lists keep their incremental state across a reload.
func (r *Registry) receivedLocked(recs []tl.DialogFilter) {
	position := 0
	changed := false
	for _, rec := range recs {
		parsed := FromTL(rec, r.owner)
		if parsed.id == 0 {
			continue
		}
		idx := r.findFromLocked(position, parsed.id)
		switch {
		case idx < 0:
			r.applyInsertLocked(parsed, position)
			changed = true
		case idx == position:
			if r.applyChangeLocked(&r.list[position], parsed) {
				changed = true
			}
		default:
			r.list[idx], r.list[position] = r.list[position], r.list[idx]
			r.applyChangeLocked(&r.list[position], parsed)
			changed = true
		}
		position++
	}
	for len(r.list) > position {
		r.applyRemoveLocked(position)
		changed = true
	}
	notify := changed || !r.loadedOnce || r.reloading
	r.loadedOnce = true
	r.reloading = false
	_ = r.state.Transition(status.Loaded)
	if notify {
		r.publishChangedLocked()
	}
}

// Apply consumes a single server-pushed incremental update. Idempotent:
// applying the same update twice leaves the same end state as once.
func (r *Registry) Apply(update any) {
	switch u := update.(type) {
	case tl.UpdateDialogFilter:
		if u.Filter == nil {
			r.Remove(ID(u.ID))
		} else {
			r.Set(FromTL(*u.Filter, r.owner))
		}
	case tl.UpdateDialogFilters:
		r.mu.Lock()
		r.reloading = true
		r.loadLocked(true)
		r.mu.Unlock()
	case tl.UpdateDialogFilterOrder:
		r.mu.Lock()
		changed := r.applyOrderLocked(u.Order)
		if changed {
			r.publishChangedLocked()
		}
		r.mu.Unlock()
	default:
		r.log.Warn("unexpected filters update", zap.String("type", fmt.Sprintf("%T", update)))
	}
}

// Set applies a local optimistic mutation: append if the id is new, replace
// via applyChange otherwise. It does not talk to the remote authority.
func (r *Registry) Set(filter ChatFilter) {
	if filter.id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.findFromLocked(0, filter.id)
	if idx < 0 {
		r.applyInsertLocked(filter, len(r.list))
		r.publishChangedLocked()
	} else if r.applyChangeLocked(&r.list[idx], filter) {
		r.publishChangedLocked()
	}
}

// Remove erases the filter, its materialized list and its chatlist links.
// Links become orphaned server-side; revoking them is a separate explicit
// user action.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.findFromLocked(0, id)
	if idx < 0 {
		return
	}
	r.applyRemoveLocked(idx)
	r.publishChangedLocked()
}

// MoveAllToFront puts the implicit All-chats slot back at sidebar position
// zero without touching filter contents or their relative order.
func (r *Registry) MoveAllToFront() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allChatsPosition == 0 {
		return
	}
	r.allChatsPosition = 0
	r.publishChangedLocked()
}

func (r *Registry) findFromLocked(from int, id ID) int {
	for i := from; i < len(r.list); i++ {
		if r.list[i].id == id {
			return i
		}
	}
	return -1
}

func (r *Registry) applyInsertLocked(filter ChatFilter, position int) {
	if position < 0 || position > len(r.list) {
		panic(fmt.Sprintf("filters: insert position %d out of range", position))
	}
	r.list = append(r.list, ChatFilter{})
	copy(r.list[position+1:], r.list[position:])
	r.list[position] = ChatFilter{id: filter.id}
	r.applyChangeLocked(&r.list[position], filter)
}

func (r *Registry) applyRemoveLocked(position int) {
	if position < 0 || position >= len(r.list) {
		panic(fmt.Sprintf("filters: remove position %d out of range", position))
	}
	id := r.list[position].id
	r.applyChangeLocked(&r.list[position], ChatFilter{id: id})
	r.list = append(r.list[:position:position], r.list[position+1:]...)
	delete(r.chatsLists, id)
	if _, ok := r.chatlistLinks[id]; ok {
		delete(r.chatlistLinks, id)
		r.publishLocked(bus.KindLinksUpdated, id)
	}
	if entry, ok := r.moreChats[id]; ok {
		if entry.reqID != 0 {
			r.api.Cancel(entry.reqID)
		}
		delete(r.moreChats, id)
	}
}

// applyChangeLocked is the incremental-consistency core. It reports whether
// the visible list changed. A rules/exceptions difference walks every known
// conversation to recompute membership; a pin-only difference just reorders
// the existing materialized list, which keeps drag-reordering cheap.
func (r *Registry) applyChangeLocked(existing *ChatFilter, updated ChatFilter) bool {
	if existing.id != updated.id {
		panic("filters: applyChange id mismatch")
	}
	id := existing.id
	exceptionsChanged := !sameSet(existing.always, updated.always)
	rulesChanged := exceptionsChanged ||
		existing.flags&RulesMask != updated.flags&RulesMask ||
		!sameSet(existing.never, updated.never)
	pinnedChanged := !samePinned(existing.pinned, updated.pinned)
	chatlistChanged := existing.Chatlist() != updated.Chatlist() ||
		existing.HasMyLinks() != updated.HasMyLinks()
	listUpdated := rulesChanged || pinnedChanged ||
		existing.title != updated.title ||
		existing.StaticTitle() != updated.StaticTitle() ||
		existing.iconEmoji != updated.iconEmoji
	colorChanged := existing.color != updated.color
	colorExistenceChanged := (existing.color == NoColor) != (updated.color == NoColor)
	if !listUpdated && !chatlistChanged && !colorChanged {
		return false
	}
	was := *existing
	*existing = updated
	if rulesChanged {
		list := r.chatsListLocked(id)
		for _, c := range r.owner.All() {
			now := updated.Contains(c, false)
			if now == was.Contains(c, false) {
				continue
			}
			if now {
				list.Add(c)
			} else {
				list.Remove(c)
			}
		}
		if exceptionsChanged && len(updated.always) > 0 {
			r.queueExceptionsLocked(id)
		}
	}
	if pinnedChanged {
		r.chatsListLocked(id).ApplyPinned(updated.pinned)
	}
	if chatlistChanged {
		r.publishLocked(bus.KindChatlistChanged, id)
	}
	if colorChanged {
		r.publishLocked(bus.KindTagColorChanged, TagColorChanged{
			FilterID:              id,
			ColorExistenceChanged: colorExistenceChanged,
		})
	}
	return listUpdated
}

// applyOrderLocked reorders the list to match the given id sequence. Ids not
// present are ignored; filters absent from the sequence keep their relative
// order after the ordered prefix. Id 0 positions the All-chats slot.
func (r *Registry) applyOrderLocked(order []int32) bool {
	next := make([]ChatFilter, 0, len(r.list))
	used := make(map[ID]bool, len(order))
	allPosition := r.allChatsPosition
	for _, raw := range order {
		id := ID(raw)
		if id == 0 {
			allPosition = len(next)
			continue
		}
		if used[id] {
			continue
		}
		if idx := r.findFromLocked(0, id); idx >= 0 {
			next = append(next, r.list[idx])
			used[id] = true
		}
	}
	for _, f := range r.list {
		if !used[f.id] {
			next = append(next, f)
		}
	}
	if allPosition > len(next) {
		allPosition = len(next)
	}
	changed := allPosition != r.allChatsPosition
	for i := range next {
		if next[i].id != r.list[i].id {
			changed = true
			break
		}
	}
	r.list = next
	r.allChatsPosition = allPosition
	return changed
}

// ApplyUpdatedPinned commits a new pin order for a filter, translating a
// drag-reorder into a persisted filter change. Flags, always and never stay
// untouched; conversations not yet in always are absorbed into it up to the
// pinned limit. Returns the committed filter.
func (r *Registry) ApplyUpdatedPinned(id ID, dialogs []*peers.Conversation) ChatFilter {
	r.mu.Lock()
	idx := r.findFromLocked(0, id)
	if idx < 0 {
		r.mu.Unlock()
		panic(fmt.Sprintf("filters: ApplyUpdatedPinned of unknown filter %d", id))
	}
	f := r.list[idx]
	limit := r.cfg.PinnedLimit
	r.mu.Unlock()

	always := f.Always()
	alwaysSet := make(map[*peers.Conversation]struct{}, len(always))
	for _, c := range always {
		alwaysSet[c] = struct{}{}
	}
	pinned := make([]*peers.Conversation, 0, len(dialogs))
	for _, c := range dialogs {
		if _, ok := alwaysSet[c]; ok {
			pinned = append(pinned, c)
		} else if len(alwaysSet) < limit {
			alwaysSet[c] = struct{}{}
			always = append(always, c)
			pinned = append(pinned, c)
		}
	}
	color := NoColor
	if v, ok := f.ColorIndex(); ok {
		color = int(v)
	}
	next := New(id, f.Title(), f.IconEmoji(), color, f.Flags(), always, pinned, f.Never())
	r.Set(next)
	return next
}

// SaveOrder persists a new top-level ordering: optimistic local apply, then
// a fire-and-forget request chained after a prior request id so the server
// observes causally related requests in submission order.
func (r *Registry) SaveOrder(order []ID, after transport.RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if after != 0 {
		r.saveOrderAfterID = after
	}
	if r.saveOrderReqID != 0 {
		r.api.Cancel(r.saveOrderReqID)
	}
	ids := make([]int32, 0, len(order))
	for _, id := range order {
		ids = append(ids, int32(id))
	}
	if r.applyOrderLocked(ids) {
		r.publishChangedLocked()
	}
	r.saveOrderReqID = r.api.Send(transport.Request{
		Msg:   tl.UpdateDialogFiltersOrder{Order: ids},
		After: r.saveOrderAfterID,
		Done: func(any) {
			r.mu.Lock()
			r.saveOrderReqID = 0
			r.mu.Unlock()
		},
		Fail: func(err error) {
			r.mu.Lock()
			r.saveOrderReqID = 0
			r.mu.Unlock()
			r.log.Warn("save filters order failed", zap.Error(err))
		},
	})
}

// RequestToggleTags toggles the session-wide folder tags capability. The
// local flag commits only on success; on failure onFail is invoked and local
// state is left untouched.
func (r *Registry) RequestToggleTags(value bool, onFail func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.toggleTagsReqID != 0 {
		return
	}
	r.toggleTagsReqID = r.api.Send(transport.Request{
		Msg: tl.ToggleDialogFilterTags{Enabled: value},
		Done: func(any) {
			r.mu.Lock()
			r.toggleTagsReqID = 0
			r.setTagsEnabledLocked(value)
			r.mu.Unlock()
		},
		Fail: func(err error) {
			r.mu.Lock()
			r.toggleTagsReqID = 0
			r.mu.Unlock()
			r.log.Warn("toggle filter tags failed", zap.Error(err))
			if onFail != nil {
				onFail(err)
			}
		},
	})
}

// Refresh re-evaluates one conversation against every filter after its
// properties changed, adjusting the materialized lists entry by entry.
func (r *Registry) Refresh(c *peers.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	global := r.chatsListLocked(0)
	if !global.Contains(c) {
		global.Add(c)
		changed = true
	} else {
		global.Refresh(c)
	}
	for i := range r.list {
		f := &r.list[i]
		list := r.chatsListLocked(f.id)
		now := f.Contains(c, false)
		switch {
		case now && !list.Contains(c):
			list.Add(c)
			changed = true
		case !now && list.Contains(c):
			list.Remove(c)
			changed = true
		default:
			list.Refresh(c)
		}
	}
	if changed {
		r.publishChangedLocked()
	}
}

// Clear drops all registry state on session teardown. Outstanding tracked
// requests are cancelled at the transport first.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range []transport.RequestID{
		r.loadReqID,
		r.toggleTagsReqID,
		r.suggestedReqID,
		r.linksReqID,
		r.saveOrderReqID,
		r.exceptionsReqID,
	} {
		if id != 0 {
			r.api.Cancel(id)
		}
	}
	for _, entry := range r.moreChats {
		if entry.reqID != 0 {
			r.api.Cancel(entry.reqID)
		}
	}
	if r.moreChatsTimer != nil {
		r.moreChatsTimer.Stop()
		r.moreChatsTimer = nil
		r.moreChatsTimerArmed = false
	}
	r.list = nil
	r.chatsLists = make(map[ID]*DialogList)
	r.chatlistLinks = make(map[ID][]ChatFilterLink)
	r.moreChats = make(map[ID]*moreChatsEntry)
	r.suggested = nil
	r.suggestedLastReceived = time.Time{}
	r.exceptionsToLoad = nil
	r.loadReqID = 0
	r.toggleTagsReqID = 0
	r.suggestedReqID = 0
	r.linksReqID = 0
	r.saveOrderReqID = 0
	r.saveOrderAfterID = 0
	r.exceptionsReqID = 0
	r.loadedOnce = false
	r.reloading = false
	r.allChatsPosition = 0
	r.state.Reset()
}

func (r *Registry) setTagsEnabledLocked(value bool) {
	if r.tagsEnabled == value {
		return
	}
	r.tagsEnabled = value
	r.publishLocked(bus.KindTagsEnabled, value)
}

func (r *Registry) publishChangedLocked() {
	r.publishLocked(bus.KindFiltersChanged, nil)
}

func (r *Registry) publishLocked(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}

func samePinned(a, b []*peers.Conversation) bool {
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
