// Package ingest is the funnel between relay sessions and the shared event
// store: every inbound event from every connection passes through here
// exactly once before any reducer or renderer sees it.
package ingest

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/fiatjaf/generic-ristretto/z"
)

var log, chk = slog.New(os.Stderr)

const MAX_LOCKS = 50

var namedMutexPool = make([]sync.Mutex, MAX_LOCKS)

// namedLock serializes work per event id so concurrent deliveries of the
// same id from different relays cannot double-store or double-dispatch.
func namedLock(name string) (unlock func()) {
	idx := z.MemHashString(name) % MAX_LOCKS
	namedMutexPool[idx].Lock()
	return namedMutexPool[idx].Unlock
}

// Result says what became of one delivered event.
type Result int

const (
	// Stored: first valid arrival, saved and dispatched.
	Stored Result = iota
	// Duplicate: the id was seen before; dropped for storage but it still
	// counts toward the delivering relay's liveness.
	Duplicate
	// Superseded: a newer version under the same replaceable identity key
	// is already retained.
	Superseded
	// Invalid: id or signature did not check out; never stored, never
	// dispatched.
	Invalid
	// Ephemeral: valid but of an ephemeral kind; dispatched, not stored.
	Ephemeral
)

func (r Result) String() string {
	switch r {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case Superseded:
		return "superseded"
	case Invalid:
		return "invalid"
	case Ephemeral:
		return "ephemeral"
	}
	return "unknown"
}

// Sink receives each accepted event exactly once, in ingestion order.
type Sink func(ev *event.T)

type Pipeline struct {
	store eventstore.Store

	mx    sync.RWMutex
	sinks []Sink

	// diagnostics
	invalid    atomic.Int64
	duplicates atomic.Int64
	stored     atomic.Int64
}

func New(store eventstore.Store) *Pipeline {
	return &Pipeline{store: store}
}

func (p *Pipeline) Store() eventstore.Store { return p.store }

// RegisterSink adds a consumer for accepted events. Register reducers before
// opening subscriptions or they will miss the backlog.
func (p *Pipeline) RegisterSink(s Sink) {
	p.mx.Lock()
	defer p.mx.Unlock()
	p.sinks = append(p.sinks, s)
}

// Ingest validates, deduplicates and stores one delivered event. The caller
// translates the Result into the delivering relay's health bookkeeping.
func (p *Pipeline) Ingest(c context.T, ev *event.T) (r Result) {
	if !ev.CheckID() {
		log.D.F("event id %s does not match canonical form", ev.ID)
		p.invalid.Add(1)
		return Invalid
	}
	if ok, err := ev.CheckSignature(); !ok {
		log.D.F("invalid signature on %s: %v", ev.ID, err)
		p.invalid.Add(1)
		return Invalid
	}
	// first successful validation for an id wins; everything after this
	// point is serialized per id
	defer namedLock(ev.ID.String())()
	if ev.Kind.IsEphemeral() {
		p.dispatch(ev)
		return Ephemeral
	}
	switch err := p.store.SaveEvent(c, ev); err {
	case nil:
	case eventstore.ErrDupEvent:
		p.duplicates.Add(1)
		return Duplicate
	case eventstore.ErrSuperseded:
		p.duplicates.Add(1)
		return Superseded
	default:
		log.E.F("failed to save %s: %v", ev.ID, err)
		return Invalid
	}
	p.stored.Add(1)
	p.dispatch(ev)
	return Stored
}

func (p *Pipeline) dispatch(ev *event.T) {
	p.mx.RLock()
	sinks := p.sinks
	p.mx.RUnlock()
	for _, s := range sinks {
		s(ev)
	}
}

// Counts returns the running diagnostic tallies.
func (p *Pipeline) Counts() (stored, duplicates, invalid int64) {
	return p.stored.Load(), p.duplicates.Load(), p.invalid.Load()
}
