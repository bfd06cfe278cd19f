// Package app composes a session's folder engine: cache store, peer
// directory, filter registry and invite manager, wired over fx with a
// lifecycle that preloads the registry from the local cache and persists it
// back on change.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/gabrielsou/chatfold/internal/bus"
	"github.com/gabrielsou/chatfold/internal/config"
	"github.com/gabrielsou/chatfold/internal/filters"
	"github.com/gabrielsou/chatfold/internal/invites"
	"github.com/gabrielsou/chatfold/internal/logging"
	"github.com/gabrielsou/chatfold/internal/peers"
	"github.com/gabrielsou/chatfold/internal/session"
	"github.com/gabrielsou/chatfold/internal/store"
	"github.com/gabrielsou/chatfold/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
// Requester is the caller-supplied link to the remote authority; the engine
// never dials anything itself.
type Params struct {
	SessionName string
	SelfID      int64
	Requester   transport.Requester
	SessionDir  string // optional override for testing; empty = use default
}

func (p Params) dir() string {
	if p.SessionDir != "" {
		return p.SessionDir
	}
	return session.Dir(p.SessionName)
}

// Module returns the fx module for the engine, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideDirectory,
			provideRegistry,
			provideInvites,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(p.dir(), "logs", "chatfold.log"), p.SessionName)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config is the common first-run case.
		return &config.Config{}
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*session.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := session.AcquireLockDir(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "chatfold.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDirectory(p Params) *peers.Directory {
	return peers.NewDirectory(peers.ID(p.SelfID))
}

func provideRegistry(p Params, dir *peers.Directory, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *filters.Registry {
	return filters.NewRegistry(dir, p.Requester, b, logger.Named("filters"), engineConfig(cfg.Engine))
}

func provideInvites(p Params, dir *peers.Directory, b *bus.Bus, logger *zap.Logger) *invites.Manager {
	return invites.NewManager(p.Requester, dir, b, logger)
}

// engineConfig converts the toml tunables into registry config. Zero values
// pass through and pick up the registry's built-in defaults.
func engineConfig(e config.Engine) filters.Config {
	return filters.Config{
		SuggestedRefresh:         time.Duration(e.SuggestedRefreshMinutes) * time.Minute,
		ChatlistUpdatePeriod:     time.Duration(e.ChatlistUpdateMinutes) * time.Minute,
		PinnedLimit:              e.PinnedLimit,
		LoadExceptionsAfter:      e.LoadExceptionsAfter,
		LoadExceptionsPerRequest: e.LoadExceptionsPerRequest,
	}
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, reg *filters.Registry, inv *invites.Manager, dir *peers.Directory, b *bus.Bus, lk *session.Lock, logger *zap.Logger) {
	p := newPersister(db, reg, dir, b, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed the registry from the local cache so the list is usable
			// before the first round trip completes.
			preload(db, reg, dir, logger)

			p.start()

			// The cached list is a starting point, never authoritative.
			reg.Reload()
			return nil
		},
		OnStop: func(_ context.Context) error {
			p.stop()
			reg.Clear()
			inv.Clear()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}

// preload restores peers first so the cached filter records resolve their
// pinned/include/exclude references, then hands the list to the registry.
func preload(db *store.DB, reg *filters.Registry, dir *peers.Directory, logger *zap.Logger) {
	recs, tags, ok, err := db.LoadFilters()
	if err != nil {
		logger.Warn("cache preload failed", zap.Error(err))
		return
	}
	if !ok {
		logger.Info("no cached filters")
		return
	}
	cached, err := db.ListPeers()
	if err != nil {
		logger.Warn("cached peers unreadable", zap.Error(err))
		return
	}
	for _, c := range cached {
		dir.Add(peerFromRecord(c))
	}
	reg.SetPreloaded(recs, tags)
	logger.Info("registry preloaded from cache",
		zap.Int("filters", len(recs)), zap.Int("peers", len(cached)))
}

func peerFromRecord(c store.Peer) *peers.Peer {
	kind := peers.KindUser
	switch c.Kind {
	case store.PeerKindGroup:
		kind = peers.KindGroup
	case store.PeerKindChannel:
		kind = peers.KindChannel
	}
	return &peers.Peer{
		ID:         peers.ID(c.ID),
		Kind:       kind,
		Bot:        c.Bot,
		Contact:    c.Contact,
		Broadcast:  c.Broadcast,
		Self:       c.Self,
		Name:       c.Name,
		InviteLink: c.InviteLink,
	}
}
