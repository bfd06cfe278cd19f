package filters

import (
	"fmt"

	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/zap"
)

// queueExceptionsLocked remembers that a filter's always-set gained entries
// whose dialog state may be unknown and needs resolving.
func (r *Registry) queueExceptionsLocked(id ID) {
	for _, queued := range r.exceptionsToLoad {
		if queued == id {
			return
		}
	}
	r.exceptionsToLoad = append(r.exceptionsToLoad, id)
}

// LoadNextExceptions resolves dialog state for filter exception peers in
// batches. It reports whether a request is (now) in flight. Resolution is
// deferred until the global dialog list either finished loading or grew past
// the configured threshold, so startup traffic stays bounded.
func (r *Registry) LoadNextExceptions(chatsListLoaded bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exceptionsReqID != 0 {
		return true
	}
	if !chatsListLoaded && r.chatsListLocked(0).Len() < r.cfg.LoadExceptionsAfter {
		return false
	}
	var batch []int64
	for len(r.exceptionsToLoad) > 0 {
		id := r.exceptionsToLoad[0]
		pending := r.collectExceptionsLocked(id)
		if len(batch) > 0 && len(batch)+len(pending) > r.cfg.LoadExceptionsPerRequest {
			break
		}
		r.exceptionsToLoad = r.exceptionsToLoad[1:]
		batch = append(batch, pending...)
	}
	if len(batch) == 0 {
		return false
	}
	r.exceptionsReqID = r.api.Send(transport.Request{
		Msg:  tl.GetPeerDialogs{Peers: batch},
		Done: r.exceptionsDone,
		Fail: r.exceptionsFailed,
	})
	return true
}

func (r *Registry) collectExceptionsLocked(id ID) []int64 {
	idx := r.findFromLocked(0, id)
	if idx < 0 {
		return nil
	}
	var out []int64
	for c := range r.list[idx].always {
		if !c.FolderKnown {
			out = append(out, int64(c.Peer().ID))
		}
	}
	return out
}

func (r *Registry) exceptionsDone(resp any) {
	res, ok := resp.(tl.PeerDialogsResult)
	if !ok {
		r.exceptionsFailed(fmt.Errorf("unexpected response type %T", resp))
		return
	}
	r.owner.Process(res.Peers)
	refreshed := make([]*peers.Conversation, 0, len(res.Peers))
	for _, info := range res.Peers {
		if c := r.owner.Conversation(peers.ID(info.ID)); c != nil {
			c.FolderKnown = true
			refreshed = append(refreshed, c)
		}
	}
	r.mu.Lock()
	r.exceptionsReqID = 0
	r.mu.Unlock()
	for _, c := range refreshed {
		r.Refresh(c)
	}
}

func (r *Registry) exceptionsFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptionsReqID = 0
	r.log.Warn("filter exceptions load failed", zap.Error(err))
}
