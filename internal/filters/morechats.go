package filters

import (
	"fmt"
	"time"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/zap"
)

// moreChatsEntry tracks peers referenced by a joined chatlist that the local
// account has not resolved yet.
type moreChatsEntry struct {
	missing    []*peers.Peer
	lastUpdate time.Time
	reqID      transport.RequestID
	watching   bool
}

// MoreChatsContent marks the filter's "more chats" bar as watched, kicks off
// a (possibly deferred) refresh and returns the current missing-peer count.
func (r *Registry) MoreChatsContent(id ID) int {
	if id == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.moreChatsEntryLocked(id)
	entry.watching = true
	r.loadMoreChatsLocked(id)
	return len(entry.missing)
}

// MoreChats returns the peers a joined chatlist references that the local
// account has not joined yet.
func (r *Registry) MoreChats(id ID) []*peers.Peer {
	if id == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.moreChats[id]
	if !ok {
		return nil
	}
	return append([]*peers.Peer(nil), entry.missing...)
}

// MoreChatsHide dismisses the "more chats" affordance. Unless localOnly, the
// dismissal is recorded server-side too.
func (r *Registry) MoreChatsHide(id ID, localOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !localOnly {
		r.api.Send(transport.Request{
			Msg: tl.HideChatlistUpdates{FilterID: int32(id)},
		})
	}
	entry, ok := r.moreChats[id]
	if !ok {
		return
	}
	if entry.reqID != 0 {
		r.api.Cancel(entry.reqID)
		entry.reqID = 0
	}
	entry.missing = nil
	entry.lastUpdate = r.cfg.Now()
	r.publishLocked(bus.KindMoreChats, id)
}

func (r *Registry) moreChatsEntryLocked(id ID) *moreChatsEntry {
	entry, ok := r.moreChats[id]
	if !ok {
		entry = &moreChatsEntry{}
		r.moreChats[id] = entry
	}
	return entry
}

func (r *Registry) loadMoreChatsLocked(id ID) {
	idx := r.findFromLocked(0, id)
	if idx < 0 || !r.list[idx].Chatlist() {
		return
	}
	entry := r.moreChatsEntryLocked(id)
	if !entry.watching || entry.reqID != 0 {
		return
	}
	now := r.cfg.Now()
	if !entry.lastUpdate.IsZero() {
		next := entry.lastUpdate.Add(r.cfg.ChatlistUpdatePeriod)
		if next.After(now) {
			r.armMoreChatsTimerLocked(next.Sub(now))
			return
		}
	}
	entry.reqID = r.api.Send(transport.Request{
		Msg:  tl.GetChatlistUpdates{FilterID: int32(id)},
		Done: func(resp any) { r.moreChatsDone(id, resp) },
		Fail: func(err error) { r.moreChatsFailed(id, err) },
	})
}

func (r *Registry) moreChatsDone(id ID, resp any) {
	res, ok := resp.(tl.ChatlistUpdatesResult)
	if !ok {
		r.moreChatsFailed(id, fmt.Errorf("unexpected response type %T", resp))
		return
	}
	r.owner.Process(res.Peers)
	r.mu.Lock()
	defer r.mu.Unlock()
	missing := make([]*peers.Peer, 0, len(res.MissingPeers))
	for _, pid := range res.MissingPeers {
		if p := r.owner.Peer(peers.ID(pid)); p != nil {
			missing = append(missing, p)
		}
	}
	entry := r.moreChatsEntryLocked(id)
	entry.reqID = 0
	entry.lastUpdate = r.cfg.Now()
	r.armMoreChatsTimerLocked(r.cfg.ChatlistUpdatePeriod)
	if !samePeers(entry.missing, missing) {
		entry.missing = missing
		r.publishLocked(bus.KindMoreChats, id)
	}
}

func (r *Registry) moreChatsFailed(id ID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.moreChatsEntryLocked(id)
	entry.reqID = 0
	entry.lastUpdate = r.cfg.Now()
	r.log.Warn("chatlist updates fetch failed",
		zap.Int32("filter", int32(id)), zap.Error(err))
}

// armMoreChatsTimerLocked schedules the next batched refresh across all
// watched chatlists; an already armed timer is left alone.
func (r *Registry) armMoreChatsTimerLocked(d time.Duration) {
	if r.moreChatsTimerArmed {
		return
	}
	r.moreChatsTimerArmed = true
	if r.moreChatsTimer == nil {
		r.moreChatsTimer = time.AfterFunc(d, r.checkLoadMoreChats)
	} else {
		r.moreChatsTimer.Reset(d)
	}
}

func (r *Registry) checkLoadMoreChats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moreChatsTimerArmed = false
	for id := range r.moreChats {
		r.loadMoreChatsLocked(id)
	}
}

func samePeers(a, b []*peers.Peer) bool {
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
