// Package reducers routes ingested events to derived-state reducers by
// kind. The mapping is data-driven so a growing kind space doesn't grow
// branching logic: a reducer registers for kinds or ranges, unregistered
// kinds fall through to the default handler, and a reducer whose
// dependencies are unmet is simply never registered.
package reducers

import (
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
)

// Reducer consumes the deduplicated, validated event stream. HandleEvent is
// called exactly once per accepted event, in ingestion order.
type Reducer interface {
	HandleEvent(ev *event.T)
}

// Func adapts a plain function to the Reducer interface.
type Func func(ev *event.T)

func (f Func) HandleEvent(ev *event.T) { f(ev) }

// Range is a half-open kind interval [From, To).
type Range struct {
	From, To kind.T
}

func (r Range) Contains(k kind.T) bool { return k >= r.From && k < r.To }

type entry struct {
	rng Range
	r   Reducer
}

// Registry is the kind-to-reducer dispatch table.
type Registry struct {
	mx      sync.RWMutex
	entries []entry
	def     Reducer
}

func NewRegistry() *Registry { return &Registry{} }

// Register routes every kind in rng to r. Later registrations take
// precedence for overlapping ranges.
func (g *Registry) Register(rng Range, r Reducer) {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.entries = append([]entry{{rng: rng, r: r}}, g.entries...)
}

// RegisterKinds routes the listed kinds to r.
func (g *Registry) RegisterKinds(r Reducer, kinds ...kind.T) {
	for _, k := range kinds {
		g.Register(Range{From: k, To: k + 1}, r)
	}
}

// SetDefault installs the handler for kinds with no registration.
func (g *Registry) SetDefault(r Reducer) {
	g.mx.Lock()
	defer g.mx.Unlock()
	g.def = r
}

// HandleEvent dispatches to the first matching registration.
func (g *Registry) HandleEvent(ev *event.T) {
	g.mx.RLock()
	defer g.mx.RUnlock()
	for _, e := range g.entries {
		if e.rng.Contains(ev.Kind) {
			e.r.HandleEvent(ev)
			return
		}
	}
	if g.def != nil {
		g.def.HandleEvent(ev)
	}
}

// Sink adapts the registry to the ingest pipeline.
func (g *Registry) Sink() ingest.Sink {
	return func(ev *event.T) { g.HandleEvent(ev) }
}
