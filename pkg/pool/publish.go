package pool

import (
	"errors"
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/qu"
)

// PublishStatus is the per-relay outcome of one publish. Partial success is
// the normal case: one accept is enough for the event to be out there.
type PublishStatus int

const (
	PublishPending PublishStatus = iota
	PublishAccepted
	PublishRejected
	PublishTimeout
)

func (s PublishStatus) String() string {
	switch s {
	case PublishPending:
		return "pending"
	case PublishAccepted:
		return "accepted"
	case PublishRejected:
		return "rejected"
	case PublishTimeout:
		return "timeout"
	}
	return "unknown"
}

// PublishResult tracks one publish across its fan-out set. Publish returns
// it as soon as one relay accepts; Done closes when every relay has
// resolved.
type PublishResult struct {
	mx       sync.Mutex
	outcomes map[string]PublishStatus

	// FirstAck closes when the first relay accepts the event.
	FirstAck qu.C
	// Done closes when all relays have resolved.
	Done qu.C

	acked bool
}

func newPublishResult(urls []string) *PublishResult {
	r := &PublishResult{
		outcomes: make(map[string]PublishStatus, len(urls)),
		FirstAck: qu.T(),
		Done:     qu.T(),
	}
	for _, u := range urls {
		r.outcomes[u] = PublishPending
	}
	return r
}

func (r *PublishResult) set(url string, s PublishStatus) {
	r.mx.Lock()
	r.outcomes[url] = s
	first := s == PublishAccepted && !r.acked
	if first {
		r.acked = true
	}
	r.mx.Unlock()
	if first {
		r.FirstAck.Q()
	}
}

// Outcomes snapshots the per-relay status map.
func (r *PublishResult) Outcomes() map[string]PublishStatus {
	r.mx.Lock()
	defer r.mx.Unlock()
	m := make(map[string]PublishStatus, len(r.outcomes))
	for k, v := range r.outcomes {
		m[k] = v
	}
	return m
}

// Accepted reports whether at least one relay has acknowledged.
func (r *PublishResult) Accepted() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.acked
}

var ErrNoOutboxRelays = errors.New("no outbox relays for author")

// Publish sends ev to the union of the author's outbox relays. It returns
// once at least one relay acknowledges or every relay has resolved,
// whichever comes first; the stragglers keep filling in the result map
// afterwards.
func (p *Pool) Publish(c context.T, ev *event.T) (res *PublishResult,
	err error) {

	urls := p.OutboxFor(ev.PubKey)
	if len(urls) == 0 {
		return nil, ErrNoOutboxRelays
	}
	urls = p.selectHealthy(urls)
	res = newPublishResult(urls)
	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			ep := p.endpoint(url)
			rl, err := p.EnsureRelay(url)
			if err != nil {
				res.set(url, PublishTimeout)
				return
			}
			ctx, cancel := context.Timeout(c, p.publishTimeout)
			defer cancel()
			if err = rl.Publish(ctx, ev); err != nil {
				if errors.Is(err, context.DeadlineErr) ||
					errors.Is(ctx.Err(), context.DeadlineErr) {
					res.set(url, PublishTimeout)
				} else {
					res.set(url, PublishRejected)
				}
				ep.Failure()
				return
			}
			res.set(url, PublishAccepted)
			ep.Success()
		}(url)
	}
	go func() {
		wg.Wait()
		res.Done.Q()
	}()
	select {
	case <-res.FirstAck:
	case <-res.Done:
	case <-c.Done():
		return res, c.Err()
	}
	return res, nil
}
