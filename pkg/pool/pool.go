// Package pool fans subscriptions and publishes across the configured relay
// set, merges the inbound streams through the ingest pipeline, and keeps
// per-endpoint health so flaky relays get deprioritized without ever being
// abandoned.
package pool

import (
	"hash/maphash"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/normalize"
	"github.com/Hubmakerlabs/aggregatr/pkg/relay"
	"github.com/Hubmakerlabs/aggregatr/pkg/signer"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/fiatjaf/generic-ristretto/z"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

const MAX_LOCKS = 50

func PointerHasher(_ maphash.Seed, k string) uint64 {
	return uint64(uintptr(unsafe.Pointer(&k)))
}

var namedMutexPool = make([]sync.Mutex, MAX_LOCKS)

func namedLock(name string) (unlock func()) {
	idx := z.MemHashString(name) % MAX_LOCKS
	namedMutexPool[idx].Lock()
	return namedMutexPool[idx].Unlock
}

const (
	// DefaultEoseTimeout bounds how long a fanned-out subscription waits for
	// stragglers before raising its single logical end-of-stored-events.
	DefaultEoseTimeout = 10 * time.Second
	// DefaultPublishTimeout is the per-relay wait for an OK on publish.
	DefaultPublishTimeout = 10 * time.Second
	// DefaultProbeInterval is how often degraded endpoints get a
	// reconnection probe.
	DefaultProbeInterval = time.Minute
)

type Pool struct {
	Relays    *xsync.MapOf[string, *relay.T]
	endpoints *xsync.MapOf[string, *Endpoint]
	lists     *xsync.MapOf[string, *RelayList]

	pipeline *ingest.Pipeline
	signer   signer.I

	// bootstrap relays are used when no role assignment covers an author.
	bootstrap []string

	eoseTimeout    time.Duration
	publishTimeout time.Duration
	probeInterval  time.Duration

	Context context.T
	cancel  context.F
}

type Option interface {
	IsPoolOption()
	Apply(*Pool)
}

// WithSigner gives every session in the pool the ability to answer auth
// challenges.
type WithSigner struct{ Signer signer.I }

func (_ WithSigner) IsPoolOption() {}
func (o WithSigner) Apply(p *Pool) { p.signer = o.Signer }

// WithEoseTimeout overrides the EOSE aggregation bound.
type WithEoseTimeout time.Duration

func (_ WithEoseTimeout) IsPoolOption() {}
func (o WithEoseTimeout) Apply(p *Pool) { p.eoseTimeout = time.Duration(o) }

// WithBootstrapRelays sets the fallback relay set used for authors with no
// known inbox/outbox assignment.
type WithBootstrapRelays []string

func (_ WithBootstrapRelays) IsPoolOption() {}
func (o WithBootstrapRelays) Apply(p *Pool) {
	for _, url := range o {
		p.bootstrap = append(p.bootstrap, normalize.URL(url))
	}
}

func New(c context.T, pipeline *ingest.Pipeline, opts ...Option) *Pool {
	ctx, cancel := context.Cancel(c)
	p := &Pool{
		Relays:         xsync.NewTypedMapOf[string, *relay.T](PointerHasher),
		endpoints:      xsync.NewTypedMapOf[string, *Endpoint](PointerHasher),
		lists:          xsync.NewTypedMapOf[string, *RelayList](PointerHasher),
		pipeline:       pipeline,
		eoseTimeout:    DefaultEoseTimeout,
		publishTimeout: DefaultPublishTimeout,
		probeInterval:  DefaultProbeInterval,
		Context:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt.Apply(p)
	}
	go p.probeLoop()
	return p
}

func (p *Pool) Pipeline() *ingest.Pipeline { return p.pipeline }

// EnsureRelay returns a live session to url, dialing if needed. Sessions are
// shared: every subscription and publish against the same relay multiplexes
// over one socket.
func (p *Pool) EnsureRelay(url string) (rl *relay.T, err error) {
	nm := normalize.URL(url)
	defer namedLock(nm)()
	var ok bool
	rl, ok = p.Relays.Load(nm)
	if ok && rl.IsConnected() {
		// already connected, unlock and return
		return rl, nil
	}
	ep := p.endpoint(nm)
	var opts []relay.Option
	if p.signer != nil {
		opts = append(opts, relay.WithSigner{Signer: p.signer})
	}
	// the session's lifetime is the pool's; the timeout bounds only the dial
	rl = relay.New(p.Context, nm, opts...)
	ctx, cancel := context.Timeout(p.Context, 15*time.Second)
	defer cancel()
	if err = rl.Connect(ctx); err != nil {
		ep.Failure()
		return nil, err
	}
	ep.Success()
	p.Relays.Store(nm, rl)
	return rl, nil
}

func (p *Pool) endpoint(nm string) *Endpoint {
	ep, _ := p.endpoints.LoadOrCompute(nm, func() *Endpoint {
		return &Endpoint{URL: nm}
	})
	return ep
}

// Endpoints snapshots the registry, for diagnostics.
func (p *Pool) Endpoints() (eps []*Endpoint) {
	p.endpoints.Range(func(_ string, ep *Endpoint) bool {
		eps = append(eps, ep)
		return true
	})
	return
}

// probeLoop periodically re-dials endpoints that have no live session, so a
// recovered relay gets readmitted without caller involvement.
func (p *Pool) probeLoop() {
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.endpoints.Range(func(nm string, ep *Endpoint) bool {
				if rl, ok := p.Relays.Load(nm); ok && rl.IsConnected() {
					return true
				}
				go func() {
					if _, err := p.EnsureRelay(nm); err != nil {
						log.T.F("{%s} probe failed: %v", nm, err)
					}
				}()
				return true
			})
		case <-p.Context.Done():
			return
		}
	}
}

// Close tears the pool down: all sessions close and all open subscriptions
// end.
func (p *Pool) Close() {
	p.cancel()
	p.Relays.Range(func(_ string, rl *relay.T) bool {
		chk.D(rl.Close())
		return true
	})
}
