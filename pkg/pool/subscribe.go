package pool

import (
	"sync/atomic"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/normalize"
	"github.com/Hubmakerlabs/aggregatr/pkg/qu"
	"github.com/puzpuzpuz/xsync/v2"
	"golang.org/x/exp/slices"
)

// Subscription is one fanned-out filter across the pool: a deduplicated,
// validated event stream with a single logical end-of-stored-events signal.
type Subscription struct {
	// Events delivers the merged stream. The stored backlog arrives in
	// (created_at, id) order right before EndOfStoredEvents; live events
	// follow in arrival order.
	Events event.C
	// EndOfStoredEvents closes once every fanned-out relay reported EOSE or
	// the aggregation timeout elapsed.
	EndOfStoredEvents qu.C

	Filters filters.T

	pool   *Pool
	ctx    context.T
	cancel context.F

	// seen is this subscription's dedup boundary, distinct from the store's:
	// an event already stored by another subscription must still reach this
	// consumer once.
	seen *xsync.MapOf[string, struct{}]

	incoming  event.C
	eoseAll   qu.C
	relays    int32
	eoseCount atomic.Int32
	legs      atomic.Int32
	closed    atomic.Bool
}

// Subscribe opens f on the union of inbox relays for the filter's authors,
// or on urls when given explicitly. Events flow through the ingest pipeline
// before reaching the subscription's consumer, so invalid events never
// surface and every id surfaces at most once.
func (p *Pool) Subscribe(c context.T, f *filter.T,
	urls ...string) (sub *Subscription, err error) {

	if len(urls) == 0 {
		urls = p.InboxFor(f.Authors...)
	} else {
		normalized := make([]string, len(urls))
		for i, u := range urls {
			normalized[i] = normalize.URL(u)
		}
		urls = normalized
	}
	urls = p.selectHealthy(urls)
	ctx, cancel := context.Cancel(c)
	sub = &Subscription{
		Events:            make(event.C),
		EndOfStoredEvents: qu.T(),
		Filters:           filters.T{*f},
		pool:              p,
		ctx:               ctx,
		cancel:            cancel,
		seen:              xsync.NewTypedMapOf[string, struct{}](PointerHasher),
		incoming:          make(event.C),
		eoseAll:           qu.T(),
		relays:            int32(len(urls)),
	}
	sub.legs.Store(sub.relays)
	go sub.pump()
	for _, url := range urls {
		go sub.run(url)
	}
	return sub, nil
}

// run drives one relay's leg of the fan-out. When the last leg dies the
// subscription ends, so the caller can tell a starved stream from a quiet
// one.
func (sub *Subscription) run(url string) {
	defer func() {
		if sub.legs.Add(-1) == 0 {
			sub.cancel()
		}
	}()
	ep := sub.pool.endpoint(url)
	rl, err := sub.pool.EnsureRelay(url)
	if err != nil {
		// this relay contributes nothing; don't hold the EOSE aggregate
		// hostage for it
		sub.relayEose()
		return
	}
	rs, err := rl.Subscribe(sub.ctx, sub.Filters)
	if err != nil {
		sub.relayEose()
		return
	}
	defer rs.Unsub()
	for {
		select {
		case ev := <-rs.Events:
			if ev == nil {
				return
			}
			sub.handle(ep, ev)
		case <-rs.EndOfStoredEvents:
			sub.relayEose()
		case <-sub.ctx.Done():
			return
		}
	}
}

func (sub *Subscription) handle(ep *Endpoint, ev *event.T) {
	switch sub.pool.pipeline.Ingest(sub.ctx, ev) {
	case ingest.Invalid:
		ep.Failure()
		return
	default:
		// duplicates from other relays still prove this relay is alive
		ep.Success()
	}
	if _, loaded := sub.seen.LoadOrStore(ev.ID.String(),
		struct{}{}); loaded {
		return
	}
	select {
	case sub.incoming <- ev:
	case <-sub.ctx.Done():
	}
}

func (sub *Subscription) relayEose() {
	if sub.eoseCount.Add(1) == sub.relays {
		sub.eoseAll.Q()
	}
}

// pump buffers the stored backlog until the logical EOSE, reorders it into
// canonical (created_at, id) order, then switches to pass-through for live
// events.
func (sub *Subscription) pump() {
	defer func() {
		sub.closed.Store(true)
		close(sub.Events)
	}()
	timer := time.NewTimer(sub.pool.eoseTimeout)
	defer timer.Stop()
	var backlog []*event.T
	eoseAll := sub.eoseAll
	timeout := timer.C
	live := false
	for {
		select {
		case ev := <-sub.incoming:
			if !live {
				backlog = append(backlog, ev)
				continue
			}
			if !sub.deliver(ev) {
				return
			}
		case <-eoseAll:
		case <-timeout:
		case <-sub.ctx.Done():
			return
		}
		if !live {
			live = true
			eoseAll, timeout = nil, nil
			slices.SortFunc(backlog, eventstore.Compare)
			for _, ev := range backlog {
				if !sub.deliver(ev) {
					return
				}
			}
			backlog = nil
			sub.EndOfStoredEvents.Q()
		}
	}
}

func (sub *Subscription) deliver(ev *event.T) bool {
	if sub.closed.Load() {
		return false
	}
	select {
	case sub.Events <- ev:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

// Close ends the subscription. No dispatch reaches the consumer afterwards,
// even if relays keep streaming matching events: late frames are discarded
// at the pool boundary.
func (sub *Subscription) Close() {
	sub.closed.Store(true)
	sub.cancel()
}

// QuerySync fans f out, collects the reordered stored backlog and returns it
// once the logical EOSE fires.
func (p *Pool) QuerySync(c context.T, f *filter.T,
	urls ...string) (evs []*event.T, err error) {

	sub, err := p.Subscribe(c, f, urls...)
	if err != nil {
		return nil, err
	}
	defer sub.Close()
	for {
		select {
		case ev := <-sub.Events:
			if ev == nil {
				return
			}
			evs = append(evs, ev)
		case <-sub.EndOfStoredEvents:
			return
		case <-c.Done():
			return evs, c.Err()
		}
	}
}
