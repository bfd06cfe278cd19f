package filters

import (
	"sort"

	"github.com/gabrielsou/chatfold/internal/peers"
)

// DialogList is the materialized membership index of one filter: the ordered
// set of conversations currently satisfying the filter's predicate. It is
// maintained incrementally, entry by entry; only a structural change of the
// filter definition walks it wholesale. The pinned prefix keeps a fixed
// caller-supplied order, everything else sorts by last activity.
type DialogList struct {
	pinned []*peers.Conversation
	rest   []*peers.Conversation
	index  map[*peers.Conversation]struct{}
}

// NewDialogList creates an empty list.
func NewDialogList() *DialogList {
	return &DialogList{index: make(map[*peers.Conversation]struct{})}
}

// Contains reports membership.
func (l *DialogList) Contains(c *peers.Conversation) bool {
	_, ok := l.index[c]
	return ok
}

// Len returns the number of entries.
func (l *DialogList) Len() int {
	return len(l.index)
}

// All returns the pinned prefix followed by the remaining entries in
// activity order.
func (l *DialogList) All() []*peers.Conversation {
	out := make([]*peers.Conversation, 0, len(l.pinned)+len(l.rest))
	out = append(out, l.pinned...)
	return append(out, l.rest...)
}

// Add inserts a conversation into the unpinned section. No-op if present.
func (l *DialogList) Add(c *peers.Conversation) {
	if _, ok := l.index[c]; ok {
		return
	}
	l.index[c] = struct{}{}
	l.rest = insertByActivity(l.rest, c)
}

// Remove erases a conversation from either section. No-op if absent.
func (l *DialogList) Remove(c *peers.Conversation) {
	if _, ok := l.index[c]; !ok {
		return
	}
	delete(l.index, c)
	l.pinned = removeConversation(l.pinned, c)
	l.rest = removeConversation(l.rest, c)
}

// Refresh re-sorts a member after its activity changed. No-op for pinned or
// absent entries.
func (l *DialogList) Refresh(c *peers.Conversation) {
	if _, ok := l.index[c]; !ok {
		return
	}
	for _, p := range l.pinned {
		if p == c {
			return
		}
	}
	l.rest = insertByActivity(removeConversation(l.rest, c), c)
}

// ApplyPinned replaces the pinned prefix. Order entries that are not members
// of the list are dropped silently; previously pinned entries not in the new
// order fall back into the activity-sorted section. Membership never changes
// here, only ordering.
func (l *DialogList) ApplyPinned(order []*peers.Conversation) {
	was := l.pinned
	next := make([]*peers.Conversation, 0, len(order))
	nextSet := make(map[*peers.Conversation]struct{}, len(order))
	for _, c := range order {
		if _, ok := l.index[c]; !ok {
			continue
		}
		if _, ok := nextSet[c]; ok {
			continue
		}
		next = append(next, c)
		nextSet[c] = struct{}{}
	}
	for _, c := range next {
		l.rest = removeConversation(l.rest, c)
	}
	l.pinned = next
	for _, c := range was {
		if _, ok := nextSet[c]; ok {
			continue
		}
		if _, ok := l.index[c]; ok {
			l.rest = insertByActivity(l.rest, c)
		}
	}
}

func insertByActivity(
	list []*peers.Conversation,
	c *peers.Conversation,
) []*peers.Conversation {
	i := sort.Search(len(list), func(i int) bool {
		if list[i].TopMessageDate != c.TopMessageDate {
			return list[i].TopMessageDate < c.TopMessageDate
		}
		return list[i].Peer().ID < c.Peer().ID
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = c
	return list
}

func removeConversation(
	list []*peers.Conversation,
	c *peers.Conversation,
) []*peers.Conversation {
	for i, e := range list {
		if e == c {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
