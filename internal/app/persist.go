package app

import (
	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/filters"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/store"
	"github.com/gabrielsou/chatfold/internal/tl"
	"go.uber.org/zap"
)

// persister mirrors the registry into the local cache database. It listens
// for list-level changes on the bus and writes the full list wholesale; the
// write rate is bounded by how often the list itself changes, not by chat
// activity.
type persister struct {
	db  *store.DB
	reg *filters.Registry
	dir *peers.Directory
	log *zap.Logger

	events <-chan bus.Event
	unsub  func()
	quit   chan struct{}
	done   chan struct{}
}

func newPersister(db *store.DB, reg *filters.Registry, dir *peers.Directory, b *bus.Bus, logger *zap.Logger) *persister {
	events, unsub := b.Subscribe("filters.", 64)
	return &persister{
		db:     db,
		reg:    reg,
		dir:    dir,
		log:    logger.Named("persist"),
		events: events,
		unsub:  unsub,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *persister) start() {
	go p.run()
}

func (p *persister) stop() {
	p.unsub()
	close(p.quit)
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case evt := <-p.events:
			switch evt.Kind {
			case bus.KindFiltersChanged, bus.KindTagsEnabled, bus.KindTagColorChanged:
				p.flush()
			}
		case <-p.quit:
			return
		}
	}
}

// flush writes peers before filters so a cache read after a crash never
// holds filter rows whose peer references are unknown.
func (p *persister) flush() {
	if err := p.db.BulkUpsertPeers(p.peerRecords()); err != nil {
		p.log.Warn("peer cache write failed", zap.Error(err))
		return
	}
	list := p.reg.List()
	recs := make([]tl.DialogFilter, 0, len(list))
	for _, f := range list {
		recs = append(recs, f.TL(0))
	}
	if err := p.db.ReplaceFilters(recs, p.reg.TagsEnabled()); err != nil {
		p.log.Warn("filter cache write failed", zap.Error(err))
		return
	}
	p.log.Info("cache updated", zap.Int("filters", len(recs)))
}

func (p *persister) peerRecords() []store.Peer {
	all := p.dir.All()
	out := make([]store.Peer, 0, len(all))
	for _, c := range all {
		peer := c.Peer()
		kind := store.PeerKindUser
		switch peer.Kind {
		case peers.KindGroup:
			kind = store.PeerKindGroup
		case peers.KindChannel:
			kind = store.PeerKindChannel
		}
		out = append(out, store.Peer{
			ID:         int64(peer.ID),
			Kind:       kind,
			Bot:        peer.Bot,
			Contact:    peer.Contact,
			Broadcast:  peer.Broadcast,
			Self:       peer.Self,
			Name:       peer.Name,
			InviteLink: peer.InviteLink,
		})
	}
	return out
}
