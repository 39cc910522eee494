// Package badger is an event store backed by a badger database, giving the
// client a durable local copy of everything it has ingested across restarts.
package badger

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/dgraph-io/badger/v4"
)

var log, chk = slog.New(os.Stderr)

const (
	eventPrefix    = "e:"
	identityPrefix = "r:"
)

type Backend struct {
	Path string
	// MaxLimit caps the number of results a single query may return.
	MaxLimit int

	*badger.DB
	// WG makes Close wait for in-flight writes.
	WG sync.WaitGroup
}

var _ eventstore.Store = (*Backend)(nil)

func (b *Backend) Init() (err error) {
	db, err := badger.Open(
		badger.DefaultOptions(b.Path).WithLogger(nil),
	)
	if chk.E(err) {
		return err
	}
	b.DB = db
	if b.MaxLimit == 0 {
		b.MaxLimit = 1024
	}
	return nil
}

func (b *Backend) Close() {
	b.WG.Wait()
	chk.E(b.DB.Close())
}

func eventKey(id string) []byte   { return []byte(eventPrefix + id) }
func identityKey(k string) []byte { return []byte(identityPrefix + k) }

func (b *Backend) SaveEvent(c context.T, ev *event.T) (err error) {
	b.WG.Add(1)
	defer b.WG.Done()
	return b.Update(func(txn *badger.Txn) (err error) {
		if _, err = txn.Get(eventKey(ev.ID.String())); err == nil {
			return eventstore.ErrDupEvent
		} else if err != badger.ErrKeyNotFound {
			return
		}
		if key, replaceable := eventstore.IdentityKey(ev); replaceable {
			var item *badger.Item
			if item, err = txn.Get(identityKey(key)); err == nil {
				var prevID []byte
				if prevID, err = item.ValueCopy(nil); chk.E(err) {
					return
				}
				var prev *event.T
				if prev, err = getEvent(txn, string(prevID)); err == nil {
					if !eventstore.IsOlder(prev, ev) {
						return eventstore.ErrSuperseded
					}
					if err = txn.Delete(eventKey(prev.ID.String())); chk.E(err) {
						return
					}
				}
			} else if err != badger.ErrKeyNotFound {
				return
			}
			if err = txn.Set(identityKey(key),
				[]byte(ev.ID.String())); chk.E(err) {
				return
			}
		}
		var v []byte
		if v, err = ev.MarshalJSON(); chk.E(err) {
			return
		}
		return txn.Set(eventKey(ev.ID.String()), v)
	})
}

func getEvent(txn *badger.Txn, id string) (ev *event.T, err error) {
	var item *badger.Item
	if item, err = txn.Get(eventKey(id)); err != nil {
		return
	}
	var v []byte
	if v, err = item.ValueCopy(nil); err != nil {
		return
	}
	ev = &event.T{}
	err = json.Unmarshal(v, ev)
	return
}

func (b *Backend) QueryEvents(c context.T, f *filter.T) (ch event.C,
	err error) {

	limit := f.Limit
	if limit <= 0 || limit > b.MaxLimit {
		limit = b.MaxLimit
	}
	var results []*event.T
	err = b.View(func(txn *badger.Txn) (err error) {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v []byte
			if v, err = it.Item().ValueCopy(nil); chk.E(err) {
				return
			}
			ev := &event.T{}
			if err = json.Unmarshal(v, ev); chk.D(err) {
				// skip an unreadable record rather than failing the query
				err = nil
				continue
			}
			if f.Matches(ev) {
				results = append(results, ev)
			}
		}
		return
	})
	if err != nil {
		return
	}
	sort.Slice(results, func(i, j int) bool {
		return eventstore.Compare(results[i], results[j]) < 0
	})
	if len(results) > limit {
		results = results[:limit]
	}
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

	err = b.View(func(txn *badger.Txn) (err error) {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v []byte
			if v, err = it.Item().ValueCopy(nil); chk.E(err) {
				return
			}
			ev := &event.T{}
			if err = json.Unmarshal(v, ev); chk.D(err) {
				err = nil
				continue
			}
			if f.Matches(ev) {
				count++
			}
		}
		return
	})
	return
}

func (b *Backend) DeleteEvent(c context.T, ev *event.T) (err error) {
	b.WG.Add(1)
	defer b.WG.Done()
	return b.Update(func(txn *badger.Txn) (err error) {
		var stored *event.T
		if stored, err = getEvent(txn, ev.ID.String()); err != nil {
			if err == badger.ErrKeyNotFound {
				return eventstore.ErrEventNotExists
			}
			return
		}
		if key, replaceable := eventstore.IdentityKey(stored); replaceable {
			var item *badger.Item
			if item, err = txn.Get(identityKey(key)); err == nil {
				var cur []byte
				if cur, err = item.ValueCopy(nil); chk.E(err) {
					return
				}
				if string(cur) == stored.ID.String() {
					if err = txn.Delete(identityKey(key)); chk.E(err) {
						return
					}
				}
			} else if err != badger.ErrKeyNotFound {
				return
			}
			err = nil
		}
		return txn.Delete(eventKey(stored.ID.String()))
	})
}
