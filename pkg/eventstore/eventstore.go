package eventstore

import (
	"errors"
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
)

// Store is the persistence layer behind the ingest pipeline. Events are
// immutable once accepted; the store owns them after SaveEvent returns nil.
type Store interface {
	// Init allows a storage to initialize its internal resources.
	Init() (err error)
	// Close must be called after you're done using the store, to free up
	// resources and so on.
	Close()
	// SaveEvent stores ev. It returns ErrDupEvent when the id is already
	// stored and ErrSuperseded when a newer version under the same
	// replaceable identity key is already present.
	SaveEvent(c context.T, ev *event.T) (err error)
	// QueryEvents returns a channel delivering matching events in
	// (created_at, id) ascending order. The channel is closed after the
	// events are all delivered.
	QueryEvents(c context.T, f *filter.T) (ch event.C, err error)
	// CountEvents performs the same work as QueryEvents but just returns the
	// count of matching events.
	CountEvents(c context.T, f *filter.T) (count int, err error)
	// DeleteEvent removes the event with the given id.
	DeleteEvent(c context.T, ev *event.T) (err error)
}

var (
	ErrDupEvent       = errors.New("duplicate: event already exists")
	ErrSuperseded     = errors.New("superseded: newer version already stored")
	ErrEventNotExists = errors.New("unknown: event not found in store")
)

// IsOlder is the supersede tie-break for replaceable identities: on equal
// timestamps the lower id is the retained version, so the higher id counts
// as the older one. Not an ordering comparator; see Compare.
func IsOlder(previous, next *event.T) bool {
	return previous.CreatedAt < next.CreatedAt ||
		(previous.CreatedAt == next.CreatedAt && previous.ID > next.ID)
}

// Compare is the canonical ordering of event streams and query results:
// (created_at, id) ascending.
func Compare(a, b *event.T) int {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt < b.CreatedAt {
			return -1
		}
		return 1
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// IdentityKey computes the retention key for replaceable and addressable
// kinds; ok is false for regular kinds, which are retained per event id.
func IdentityKey(ev *event.T) (key string, ok bool) {
	switch {
	case ev.Kind.IsReplaceable():
		return fmt.Sprintf("%s:%d", ev.PubKey, ev.Kind), true
	case ev.Kind.IsParameterizedReplaceable():
		d := ev.Tags.GetD()
		return fmt.Sprintf("%s:%d:%s", ev.PubKey, ev.Kind, d), true
	}
	return "", false
}

// Ephemeral events are relayed but never stored.
func IsEphemeral(k kind.T) bool { return k.IsEphemeral() }
