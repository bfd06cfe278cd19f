// Package filters implements the chat folder engine: the immutable folder
// entity, the session registry with its per-folder materialized dialog
// lists, and the chatlist link records.
package filters

import (
	"sort"

	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
)

// ID identifies a filter. Zero is reserved for the implicit "All chats"
// pseudo-filter, which is addressable but never stored in the registry list.
type ID int32

// Flags combines rule bits (which conversations match) and kind bits
// (chatlist marker, link ownership, static title rendering hint).
type Flags uint16

const (
	FlagContacts Flags = 1 << iota
	FlagNonContacts
	FlagGroups
	FlagChannels
	FlagBots
	FlagNoMuted
	FlagNoRead
	FlagNoArchived
	FlagNewChats
	FlagExistingChats

	FlagChatlist
	FlagHasMyLinks
	FlagStaticTitle

	// RulesMask covers every rule bit.
	RulesMask = FlagContacts | FlagNonContacts | FlagGroups | FlagChannels |
		FlagBots | FlagNoMuted | FlagNoRead | FlagNoArchived |
		FlagNewChats | FlagExistingChats
)

// NoColor marks a filter without a tag color.
const NoColor = -1

// Title is a filter display title. Static is a rendering hint only: the
// title must not animate custom emoji.
type Title struct {
	Text   string
	Static bool
}

// ChatFilter is one folder definition. Values are immutable: every WithX
// helper returns a modified copy, and edits replace the value wholesale.
type ChatFilter struct {
	id        ID
	title     string
	iconEmoji string
	color     int // NoColor or 0..255
	flags     Flags
	always    map[*peers.Conversation]struct{}
	pinned    []*peers.Conversation
	never     map[*peers.Conversation]struct{}
}

// New constructs a filter. Conversations listed in both always and never are
// kept in always; pinned conversations are implicitly part of always, the way
// the wire format folds them together.
func New(
	id ID,
	title Title,
	iconEmoji string,
	color int,
	flags Flags,
	always []*peers.Conversation,
	pinned []*peers.Conversation,
	never []*peers.Conversation,
) ChatFilter {
	if title.Static {
		flags |= FlagStaticTitle
	} else {
		flags &^= FlagStaticTitle
	}
	alwaysSet := make(map[*peers.Conversation]struct{}, len(always)+len(pinned))
	for _, c := range always {
		alwaysSet[c] = struct{}{}
	}
	for _, c := range pinned {
		alwaysSet[c] = struct{}{}
	}
	neverSet := make(map[*peers.Conversation]struct{}, len(never))
	for _, c := range never {
		if _, ok := alwaysSet[c]; !ok {
			neverSet[c] = struct{}{}
		}
	}
	if color < NoColor || color > 255 {
		color = NoColor
	}
	return ChatFilter{
		id:        id,
		title:     title.Text,
		iconEmoji: iconEmoji,
		color:     color,
		flags:     flags,
		always:    alwaysSet,
		pinned:    append([]*peers.Conversation(nil), pinned...),
		never:     neverSet,
	}
}

func (f ChatFilter) ID() ID { return f.id }

func (f ChatFilter) Title() Title {
	return Title{Text: f.title, Static: f.flags&FlagStaticTitle != 0}
}

func (f ChatFilter) IconEmoji() string { return f.iconEmoji }

// ColorIndex returns the tag color index, if one is set.
func (f ChatFilter) ColorIndex() (uint8, bool) {
	if f.color == NoColor {
		return 0, false
	}
	return uint8(f.color), true
}

func (f ChatFilter) Flags() Flags      { return f.flags }
func (f ChatFilter) StaticTitle() bool { return f.flags&FlagStaticTitle != 0 }
func (f ChatFilter) Chatlist() bool    { return f.flags&FlagChatlist != 0 }
func (f ChatFilter) HasMyLinks() bool  { return f.flags&FlagHasMyLinks != 0 }

// Always returns the unconditional inclusions, ordered by peer id.
func (f ChatFilter) Always() []*peers.Conversation {
	return sortedSet(f.always)
}

// Pinned returns the pin order.
func (f ChatFilter) Pinned() []*peers.Conversation {
	return append([]*peers.Conversation(nil), f.pinned...)
}

// Never returns the unconditional exclusions, ordered by peer id.
func (f ChatFilter) Never() []*peers.Conversation {
	return sortedSet(f.never)
}

// AlwaysContains reports whether c is unconditionally included.
func (f ChatFilter) AlwaysContains(c *peers.Conversation) bool {
	_, ok := f.always[c]
	return ok
}

// NeverContains reports whether c is unconditionally excluded.
func (f ChatFilter) NeverContains(c *peers.Conversation) bool {
	_, ok := f.never[c]
	return ok
}

// WithID returns a copy with a different id.
func (f ChatFilter) WithID(id ID) ChatFilter {
	f.id = id
	return f
}

// WithTitle returns a copy with a different title.
func (f ChatFilter) WithTitle(title Title) ChatFilter {
	f.title = title.Text
	if title.Static {
		f.flags |= FlagStaticTitle
	} else {
		f.flags &^= FlagStaticTitle
	}
	return f
}

// WithColorIndex returns a copy with a different tag color. Pass NoColor to
// clear it.
func (f ChatFilter) WithColorIndex(color int) ChatFilter {
	if color < NoColor || color > 255 {
		color = NoColor
	}
	f.color = color
	return f
}

// WithChatlist returns a copy with only rule flags retained and the chatlist
// kind bits set as given.
func (f ChatFilter) WithChatlist(chatlist, hasMyLinks bool) ChatFilter {
	f.flags &= RulesMask
	if chatlist {
		f.flags |= FlagChatlist
		if hasMyLinks {
			f.flags |= FlagHasMyLinks
		}
	}
	return f
}

// WithAlways returns a copy with c unconditionally included. A matching
// never entry is removed: the two sets stay disjoint.
func (f ChatFilter) WithAlways(c *peers.Conversation) ChatFilter {
	if _, ok := f.always[c]; ok {
		return f
	}
	f.always = cloneSetWith(f.always, c)
	f.never = cloneSetWithout(f.never, c)
	return f
}

// WithNever returns a copy with c unconditionally excluded. A matching
// always entry is removed, as is any pin on c.
func (f ChatFilter) WithNever(c *peers.Conversation) ChatFilter {
	if _, ok := f.never[c]; ok {
		return f
	}
	f.never = cloneSetWith(f.never, c)
	f.always = cloneSetWithout(f.always, c)
	f.pinned = removePinned(f.pinned, c)
	return f
}

// WithoutAlways returns a copy with c removed from the unconditional
// inclusions, but only when the filter still makes sense without it (the
// rules keep matching something, or another exception remains).
func (f ChatFilter) WithoutAlways(c *peers.Conversation) ChatFilter {
	if !CanRemoveFromFilter(f, c) {
		return f
	}
	f.always = cloneSetWithout(f.always, c)
	f.pinned = removePinned(f.pinned, c)
	return f
}

// Contains reports whether the conversation belongs to the filter. Never
// excludes unconditionally, always includes unconditionally, otherwise the
// rule bits decide. ignoreFakeUnread suppresses the locally synthesized
// unread override used for badge computation.
func (f ChatFilter) Contains(c *peers.Conversation, ignoreFakeUnread bool) bool {
	if _, ok := f.never[c]; ok {
		return false
	}
	p := c.Peer()
	var flag Flags
	switch p.Kind {
	case peers.KindUser:
		switch {
		case p.Bot:
			flag = FlagBots
		case p.Contact:
			flag = FlagContacts
		default:
			flag = FlagNonContacts
		}
	case peers.KindGroup:
		flag = FlagGroups
	case peers.KindChannel:
		if p.Broadcast {
			flag = FlagChannels
		} else {
			flag = FlagGroups
		}
	}
	matched := f.flags&flag != 0 &&
		(f.flags&FlagNoMuted == 0 ||
			!c.Muted ||
			(c.Mention && c.FolderKnown && !c.Archived)) &&
		(f.flags&FlagNoRead == 0 ||
			c.Unread ||
			c.Mention ||
			(!ignoreFakeUnread && c.FakeUnread)) &&
		(f.flags&FlagNoArchived == 0 ||
			(c.FolderKnown && !c.Archived))
	if matched {
		return true
	}
	_, ok := f.always[c]
	return ok
}

// Equal reports whether two filters describe the same folder. Pin order and
// id are deliberately excluded: a filter differing only in those is "no real
// change" for membership purposes.
func (f ChatFilter) Equal(other ChatFilter) bool {
	return f.title == other.title &&
		f.iconEmoji == other.iconEmoji &&
		f.color == other.color &&
		f.flags == other.flags &&
		sameSet(f.always, other.always) &&
		sameSet(f.never, other.never)
}

// CanRemoveFromFilter reports whether removing the conversation from the
// filter's exceptions leaves a meaningful filter: it must still match the
// conversation and either keep a rule bit beyond the No* modifiers or keep
// at least one other exception.
func CanRemoveFromFilter(f ChatFilter, c *peers.Conversation) bool {
	meaningful := f.flags & RulesMask &^ (FlagNoRead | FlagNoArchived | FlagNoMuted)
	return (len(f.always) > 1 || meaningful != 0) && f.Contains(c, false)
}

func sortedSet(set map[*peers.Conversation]struct{}) []*peers.Conversation {
	out := make([]*peers.Conversation, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Peer().ID < out[j].Peer().ID
	})
	return out
}

func sameSet(a, b map[*peers.Conversation]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for c := range a {
		if _, ok := b[c]; !ok {
			return false
		}
	}
	return true
}

func cloneSetWith(
	set map[*peers.Conversation]struct{},
	c *peers.Conversation,
) map[*peers.Conversation]struct{} {
	out := make(map[*peers.Conversation]struct{}, len(set)+1)
	for k := range set {
		out[k] = struct{}{}
	}
	out[c] = struct{}{}
	return out
}

func cloneSetWithout(
	set map[*peers.Conversation]struct{},
	c *peers.Conversation,
) map[*peers.Conversation]struct{} {
	if _, ok := set[c]; !ok {
		return set
	}
	out := make(map[*peers.Conversation]struct{}, len(set))
	for k := range set {
		if k != c {
			out[k] = struct{}{}
		}
	}
	return out
}

func removePinned(
	pinned []*peers.Conversation,
	c *peers.Conversation,
) []*peers.Conversation {
	for i, p := range pinned {
		if p == c {
			out := append([]*peers.Conversation(nil), pinned[:i]...)
			return append(out, pinned[i+1:]...)
		}
	}
	return pinned
}

// FromTL parses a wire filter record, resolving peer ids through the
// directory. Unresolvable peers are dropped from always/never/pinned: a
// lossy decode, not an error.
func FromTL(rec tl.DialogFilter, dir *peers.Directory) ChatFilter {
	if rec.Kind == tl.FilterKindDefault {
		return ChatFilter{}
	}
	resolve := func(ids []int64) []*peers.Conversation {
		out := make([]*peers.Conversation, 0, len(ids))
		for _, id := range ids {
			if c := dir.Conversation(peers.ID(id)); c != nil {
				out = append(out, c)
			}
		}
		return out
	}
	title := Title{Text: rec.Title, Static: rec.TitleStatic}
	color := NoColor
	if rec.Color != nil {
		color = int(*rec.Color)
	}
	if rec.Kind == tl.FilterKindChatlist {
		flags := FlagChatlist
		if rec.HasMyInvites {
			flags |= FlagHasMyLinks
		}
		return New(
			ID(rec.ID),
			title,
			rec.Emoticon,
			color,
			flags,
			resolve(rec.IncludePeers),
			resolve(rec.PinnedPeers),
			nil,
		)
	}
	var flags Flags
	for _, bit := range []struct {
		set  bool
		flag Flags
	}{
		{rec.Contacts, FlagContacts},
		{rec.NonContacts, FlagNonContacts},
		{rec.Groups, FlagGroups},
		{rec.Broadcasts, FlagChannels},
		{rec.Bots, FlagBots},
		{rec.ExcludeMuted, FlagNoMuted},
		{rec.ExcludeRead, FlagNoRead},
		{rec.ExcludeArchived, FlagNoArchived},
		{rec.NewChats, FlagNewChats},
		{rec.ExistingChats, FlagExistingChats},
	} {
		if bit.set {
			flags |= bit.flag
		}
	}
	return New(
		ID(rec.ID),
		title,
		rec.Emoticon,
		color,
		flags,
		resolve(rec.IncludePeers),
		resolve(rec.PinnedPeers),
		resolve(rec.ExcludePeers),
	)
}

// TL serializes the filter back to its wire record. replaceID, when nonzero,
// substitutes the id: used when the server assigns a real id for a local
// placeholder.
func (f ChatFilter) TL(replaceID ID) tl.DialogFilter {
	id := f.id
	if replaceID != 0 {
		id = replaceID
	}
	pinnedIDs := make([]int64, 0, len(f.pinned))
	pinnedSet := make(map[*peers.Conversation]struct{}, len(f.pinned))
	for _, c := range f.pinned {
		pinnedIDs = append(pinnedIDs, int64(c.Peer().ID))
		pinnedSet[c] = struct{}{}
	}
	includeIDs := make([]int64, 0, len(f.always))
	for _, c := range sortedSet(f.always) {
		if _, ok := pinnedSet[c]; ok {
			continue
		}
		includeIDs = append(includeIDs, int64(c.Peer().ID))
	}
	var color *int32
	if f.color != NoColor {
		v := int32(f.color)
		color = &v
	}
	if f.flags&FlagChatlist != 0 {
		return tl.DialogFilter{
			Kind:         tl.FilterKindChatlist,
			ID:           int32(id),
			Title:        f.title,
			TitleStatic:  f.StaticTitle(),
			Emoticon:     f.iconEmoji,
			Color:        color,
			HasMyInvites: f.HasMyLinks(),
			PinnedPeers:  pinnedIDs,
			IncludePeers: includeIDs,
		}
	}
	excludeIDs := make([]int64, 0, len(f.never))
	for _, c := range sortedSet(f.never) {
		excludeIDs = append(excludeIDs, int64(c.Peer().ID))
	}
	return tl.DialogFilter{
		Kind:            tl.FilterKindDialog,
		ID:              int32(id),
		Title:           f.title,
		TitleStatic:     f.StaticTitle(),
		Emoticon:        f.iconEmoji,
		Color:           color,
		Contacts:        f.flags&FlagContacts != 0,
		NonContacts:     f.flags&FlagNonContacts != 0,
		Groups:          f.flags&FlagGroups != 0,
		Broadcasts:      f.flags&FlagChannels != 0,
		Bots:            f.flags&FlagBots != 0,
		ExcludeMuted:    f.flags&FlagNoMuted != 0,
		ExcludeRead:     f.flags&FlagNoRead != 0,
		ExcludeArchived: f.flags&FlagNoArchived != 0,
		NewChats:        f.flags&FlagNewChats != 0,
		ExistingChats:   f.flags&FlagExistingChats != 0,
		PinnedPeers:     pinnedIDs,
		IncludePeers:    includeIDs,
		ExcludePeers:    excludeIDs,
	}
}
