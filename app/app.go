// Package app wires the client core together: event store, ingest pipeline,
// reducer registry, group state and the relay pool, driven by the daemon in
// the repository root.
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/badger"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/memory"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/groups"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/kinds"
	"github.com/Hubmakerlabs/aggregatr/pkg/pool"
	"github.com/Hubmakerlabs/aggregatr/pkg/reducers"
	"github.com/Hubmakerlabs/aggregatr/pkg/signer"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

type App struct {
	Config   *Config
	Store    eventstore.Store
	Pipeline *ingest.Pipeline
	Registry *reducers.Registry
	Groups   *groups.Reducer
	Pool     *pool.Pool

	Context context.T
	cancel  context.F
}

func New(c context.T, cfg *Config, dataDir string) (a *App, err error) {
	ctx, cancel := context.Cancel(c)
	a = &App{Config: cfg, Context: ctx, cancel: cancel}

	switch cfg.EventStore {
	case "badger":
		a.Store = &badger.Backend{Path: filepath.Join(dataDir, "events")}
	default:
		a.Store = &memory.Backend{}
	}
	if err = a.Store.Init(); chk.E(err) {
		return nil, err
	}

	a.Pipeline = ingest.New(a.Store)
	a.Registry = reducers.NewRegistry()
	a.Groups = groups.NewReducer(
		groups.WithAuthority(cfg.Authority...),
		groups.WithRetention(cfg.Retention),
	)

	popts := []pool.Option{
		pool.WithBootstrapRelays(cfg.Relays),
		pool.WithEoseTimeout(time.Duration(cfg.EoseTimeout) * time.Second),
	}
	if cfg.SecKey != "" {
		var sgn *signer.Local
		if sgn, err = signer.NewLocal(cfg.SecKey); chk.E(err) {
			return nil, err
		}
		popts = append(popts, pool.WithSigner{Signer: sgn})
	}
	a.Pool = pool.New(ctx, a.Pipeline, popts...)

	groupKinds := append(append(append(kinds.T{},
		groups.MessageKinds...),
		groups.ModerationKinds...),
		groups.MetadataKinds...)
	a.Registry.RegisterKinds(a.Groups, groupKinds...)
	a.Registry.RegisterKinds(reducers.Func(func(ev *event.T) {
		chk.D(a.Pool.IngestRelayList(ev))
	}), kind.RelayListMetadata)
	a.Pipeline.RegisterSink(a.Registry.Sink())
	return a, nil
}

// Run opens the configured subscriptions and blocks until the context ends.
func (a *App) Run() {
	if len(a.Config.Authors) > 0 {
		go a.follow(&filter.T{
			Kinds:   kinds.T{kind.RelayListMetadata},
			Authors: a.Config.Authors,
		}, "relay lists")
	}
	if len(a.Config.Groups) > 0 {
		content := append(append(kinds.T{},
			groups.MessageKinds...), groups.ModerationKinds...)
		go a.follow(&filter.T{
			Kinds: content,
			Tags:  filter.TagMap{"h": a.Config.Groups},
		}, "group content")
		go a.follow(&filter.T{
			Kinds: kinds.T(groups.MetadataKinds),
			Tags:  filter.TagMap{"d": a.Config.Groups},
		}, "group metadata")
	}
	<-a.Context.Done()
}

// follow keeps one subscription open for the life of the app. The pool
// already reorders, dedups and routes to reducers, so this loop only keeps
// the subscription alive and surfaces progress.
func (a *App) follow(f *filter.T, what string) {
	for {
		sub, err := a.Pool.Subscribe(a.Context, f)
		if chk.E(err) {
			return
		}
		log.I.F("following %s: %v", what, f)
		eose := sub.EndOfStoredEvents
		for ended := false; !ended; {
			select {
			case ev := <-sub.Events:
				if ev == nil {
					ended = true
					continue
				}
				log.T.F("%s: %s kind %d from %s",
					what, ev.ID, ev.Kind, ev.PubKey)
			case <-eose:
				eose = nil
				stored, dup, invalid := a.Pipeline.Counts()
				log.I.F("%s caught up: %d stored, %d duplicate, %d invalid",
					what, stored, dup, invalid)
			case <-a.Context.Done():
				sub.Close()
				return
			}
		}
		select {
		case <-a.Context.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown tears everything down in dependency order.
func (a *App) Shutdown() {
	a.cancel()
	a.Pool.Close()
	a.Store.Close()
}
