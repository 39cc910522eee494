package pool

import (
	"fmt"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/normalize"
)

// RelayList is one author's declared relay roles: read relays are where
// others find the author's events (the author's inbox from our perspective)
// and write relays are where the author publishes (outbox).
type RelayList struct {
	Read  []string
	Write []string
}

// ParseRelayList extracts the roles from a kind 10002 relay list event. An
// "r" tag with no marker counts for both roles.
func ParseRelayList(ev *event.T) (rl *RelayList, err error) {
	if ev.Kind != kind.RelayListMetadata {
		return nil, fmt.Errorf("not a relay list event: kind %d", ev.Kind)
	}
	rl = &RelayList{}
	for _, t := range ev.Tags {
		if len(t) < 2 || t.Key() != "r" {
			continue
		}
		url := normalize.URL(t.Value())
		if url == "" {
			continue
		}
		marker := ""
		if len(t) >= 3 {
			marker = t[2]
		}
		switch marker {
		case "read":
			rl.Read = appendUnique(rl.Read, url)
		case "write":
			rl.Write = appendUnique(rl.Write, url)
		default:
			rl.Read = appendUnique(rl.Read, url)
			rl.Write = appendUnique(rl.Write, url)
		}
	}
	return rl, nil
}

func appendUnique(urls []string, url string) []string {
	for _, u := range urls {
		if u == url {
			return urls
		}
	}
	return append(urls, url)
}

// SetRelayList assigns roles for an author directly, for callers that get
// role data from somewhere other than relay list events.
func (p *Pool) SetRelayList(author string, rl *RelayList) {
	p.lists.Store(author, rl)
	for _, url := range rl.Read {
		p.endpoint(url)
	}
	for _, url := range rl.Write {
		p.endpoint(url)
	}
}

// IngestRelayList updates role assignments from a kind 10002 event.
func (p *Pool) IngestRelayList(ev *event.T) (err error) {
	var rl *RelayList
	if rl, err = ParseRelayList(ev); chk.D(err) {
		return
	}
	p.SetRelayList(ev.PubKey, rl)
	return
}

// RelayList returns the roles recorded for an author, if any.
func (p *Pool) RelayList(author string) (rl *RelayList, ok bool) {
	rl, ok = p.lists.Load(author)
	return
}

// InboxFor returns the union of read relays across the given authors,
// falling back to the bootstrap set for authors with no assignment and when
// the union comes up empty.
func (p *Pool) InboxFor(authors ...string) (urls []string) {
	for _, author := range authors {
		if rl, ok := p.lists.Load(author); ok && len(rl.Read) > 0 {
			for _, u := range rl.Read {
				urls = appendUnique(urls, u)
			}
			continue
		}
		for _, u := range p.bootstrap {
			urls = appendUnique(urls, u)
		}
	}
	if len(urls) == 0 {
		urls = append(urls, p.bootstrap...)
	}
	return
}

// OutboxFor returns the relays to publish an author's events to.
func (p *Pool) OutboxFor(author string) (urls []string) {
	if rl, ok := p.lists.Load(author); ok && len(rl.Write) > 0 {
		return append(urls, rl.Write...)
	}
	return append(urls, p.bootstrap...)
}
