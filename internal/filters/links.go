package filters

import (
	"fmt"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/tl"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/zap"
)

// AddLink parses a chatlist invite and stores or updates the link record for
// the filter, keyed by URL. The target must exist and be a chatlist filter.
func (r *Registry) AddLink(id ID, invite tl.ExportedChatlistInvite) (ChatFilterLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLinkLocked(id, invite)
}

func (r *Registry) addLinkLocked(id ID, invite tl.ExportedChatlistInvite) (ChatFilterLink, bool) {
	idx := r.findFromLocked(0, id)
	if idx < 0 || !r.list[idx].Chatlist() {
		r.log.Error("chatlist link for a non-chatlist filter", zap.Int32("filter", int32(id)))
		return ChatFilterLink{}, false
	}
	chats := make([]*peers.Conversation, 0, len(invite.Peers))
	for _, pid := range invite.Peers {
		if c := r.owner.Conversation(peers.ID(pid)); c != nil {
			chats = append(chats, c)
		}
	}
	links := r.chatlistLinks[id]
	for i := range links {
		if links[i].URL != invite.URL {
			continue
		}
		if links[i].Title != invite.Title || !samePinned(links[i].Chats, chats) {
			links[i].Title = invite.Title
			links[i].Chats = chats
			r.publishLocked(bus.KindLinksUpdated, id)
		}
		return links[i], true
	}
	link := ChatFilterLink{
		FilterID: id,
		URL:      invite.URL,
		Title:    invite.Title,
		Chats:    chats,
	}
	r.chatlistLinks[id] = append(links, link)
	r.publishLocked(bus.KindLinksUpdated, id)
	return link, true
}

// EditLink renames a stored chatlist link: optimistic local update, then a
// fire-and-forget request whose response reconciles the record.
func (r *Registry) EditLink(id ID, url, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	links := r.chatlistLinks[id]
	found := false
	for i := range links {
		if links[i].URL == url {
			links[i].Title = title
			found = true
			break
		}
	}
	if !found {
		return
	}
	r.publishLocked(bus.KindLinksUpdated, id)
	r.api.Send(transport.Request{
		Msg: tl.EditExportedInvite{FilterID: int32(id), URL: url, Title: title},
		Done: func(resp any) {
			if invite, ok := resp.(tl.ExportedChatlistInvite); ok {
				r.AddLink(id, invite)
			}
		},
		Fail: func(err error) {
			r.log.Warn("edit chatlist link failed",
				zap.Int32("filter", int32(id)), zap.Error(err))
		},
	})
}

// DestroyLink removes a stored chatlist link locally and requests its
// deletion.
func (r *Registry) DestroyLink(id ID, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	links := r.chatlistLinks[id]
	idx := -1
	for i := range links {
		if links[i].URL == url {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	r.chatlistLinks[id] = append(links[:idx:idx], links[idx+1:]...)
	r.publishLocked(bus.KindLinksUpdated, id)
	if r.linksReqID != 0 {
		r.api.Cancel(r.linksReqID)
	}
	r.linksReqID = r.api.Send(transport.Request{
		Msg: tl.DeleteExportedInvite{FilterID: int32(id), URL: url},
		Done: func(any) {
			r.mu.Lock()
			r.linksReqID = 0
			r.mu.Unlock()
		},
		Fail: func(err error) {
			r.mu.Lock()
			r.linksReqID = 0
			r.mu.Unlock()
			r.log.Warn("delete chatlist link failed",
				zap.Int32("filter", int32(id)), zap.Error(err))
		},
	})
}

// ReloadChatlistLinks refetches every chatlist link of a filter, replacing
// the stored records.
func (r *Registry) ReloadChatlistLinks(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linksReqID != 0 {
		r.api.Cancel(r.linksReqID)
	}
	r.linksReqID = r.api.Send(transport.Request{
		Msg: tl.GetExportedInvites{FilterID: int32(id)},
		Done: func(resp any) {
			res, ok := resp.(tl.ExportedInvites)
			if !ok {
				r.log.Error("unexpected chatlist links response",
					zap.String("type", fmt.Sprintf("%T", resp)))
				return
			}
			r.owner.Process(res.Peers)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.linksReqID = 0
			r.chatlistLinks[id] = nil
			for _, invite := range res.Invites {
				r.addLinkLocked(id, invite)
			}
			r.publishLocked(bus.KindLinksUpdated, id)
		},
		Fail: func(err error) {
			r.mu.Lock()
			r.linksReqID = 0
			r.mu.Unlock()
			r.log.Warn("load chatlist links failed",
				zap.Int32("filter", int32(id)), zap.Error(err))
		},
	})
}

// ChatlistLinks returns the stored link records for a filter.
func (r *Registry) ChatlistLinks(id ID) []ChatFilterLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatFilterLink(nil), r.chatlistLinks[id]...)
}
