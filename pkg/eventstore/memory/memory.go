// Package memory is an event store held entirely in process memory, used as
// the default backing for the ingest pipeline and in tests.
package memory

import (
	"os"
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"golang.org/x/exp/slices"
)

var log, chk = slog.New(os.Stderr)

type Backend struct {
	mx sync.RWMutex
	// byID is the authoritative index.
	byID map[string]*event.T
	// byIdentity maps replaceable identity keys to the retained version.
	byIdentity map[string]*event.T
	// ordered holds all stored events in (created_at, id) ascending order.
	ordered []*event.T
	// MaxLimit caps the number of results a single query may return; zero
	// means no cap.
	MaxLimit int
}

var _ eventstore.Store = (*Backend)(nil)

func (b *Backend) Init() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.byID = make(map[string]*event.T)
	b.byIdentity = make(map[string]*event.T)
	return nil
}

func (b *Backend) Close() {}

// cmp is the canonical store order.
var cmp = eventstore.Compare

func (b *Backend) SaveEvent(c context.T, ev *event.T) (err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if _, exists := b.byID[ev.ID.String()]; exists {
		return eventstore.ErrDupEvent
	}
	if key, replaceable := eventstore.IdentityKey(ev); replaceable {
		if prev, exists := b.byIdentity[key]; exists {
			if !eventstore.IsOlder(prev, ev) {
				// an equal or newer version is already retained
				return eventstore.ErrSuperseded
			}
			b.remove(prev)
		}
		b.byIdentity[key] = ev
	}
	b.byID[ev.ID.String()] = ev
	i, _ := slices.BinarySearchFunc(b.ordered, ev, cmp)
	b.ordered = slices.Insert(b.ordered, i, ev)
	return nil
}

// remove drops an event from all indexes; callers hold the lock.
func (b *Backend) remove(ev *event.T) {
	delete(b.byID, ev.ID.String())
	if i, found := slices.BinarySearchFunc(b.ordered, ev, cmp); found {
		b.ordered = slices.Delete(b.ordered, i, i+1)
	}
}

func (b *Backend) QueryEvents(c context.T, f *filter.T) (ch event.C,
	err error) {

	b.mx.RLock()
	limit := f.Limit
	if limit <= 0 || (b.MaxLimit > 0 && limit > b.MaxLimit) {
		limit = b.MaxLimit
	}
	var results []*event.T
	for _, ev := range b.ordered {
		if f.Matches(ev) {
			results = append(results, ev)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	b.mx.RUnlock()
	ch = make(event.C)
	go func() {
		defer close(ch)
		for _, ev := range results {
			select {
			case ch <- ev:
			case <-c.Done():
				return
			}
		}
	}()
	return
}

func (b *Backend) CountEvents(c context.T, f *filter.T) (count int,
	err error) {

	b.mx.RLock()
	defer b.mx.RUnlock()
	for _, ev := range b.ordered {
		if f.Matches(ev) {
			count++
		}
	}
	return
}

func (b *Backend) DeleteEvent(c context.T, ev *event.T) (err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	stored, exists := b.byID[ev.ID.String()]
	if !exists {
		return eventstore.ErrEventNotExists
	}
	if key, replaceable := eventstore.IdentityKey(stored); replaceable {
		if cur, ok := b.byIdentity[key]; ok && cur.ID == stored.ID {
			delete(b.byIdentity, key)
		}
	}
	b.remove(stored)
	return nil
}

// GetByID retrieves a single event, used for lazy reference resolution.
func (b *Backend) GetByID(id string) (ev *event.T, exists bool) {
	b.mx.RLock()
	defer b.mx.RUnlock()
	ev, exists = b.byID[id]
	return
}

// Len returns the number of stored events.
func (b *Backend) Len() int {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return len(b.ordered)
}
