package subscription

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/closeenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/reqenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/Hubmakerlabs/aggregatr/pkg/subscriptionid"
)

var log, chk = slog.New(os.Stderr)

// Relay is the subset of the relay session a subscription needs; declared
// here so the subscription does not import the relay package.
type Relay interface {
	URL() string
	IsConnected() bool
	Write(msg []byte) chan error
	Delete(key string)
}

// T is one open REQ on one relay: the filter set, the stream of matched
// events, and the end-of-stored-events marker.
type T struct {
	Label   string
	Counter int

	Relay   Relay
	Filters filters.T

	// the Events channel emits all EVENTs that come in for the subscription;
	// it is closed when the subscription ends.
	Events event.C
	mu     sync.Mutex

	// the EndOfStoredEvents channel gets a signal when an EOSE comes for the
	// subscription.
	EndOfStoredEvents chan struct{}

	// the ClosedReason channel emits the reason when a CLOSED message is
	// received.
	ClosedReason chan string

	// Context will be .Done() when the subscription ends.
	Context context.T
	Cancel  context.F

	live   atomic.Bool
	eosed  atomic.Bool
	closed atomic.Bool

	// events received before the EOSE must be dispatched before the
	// EndOfStoredEvents signal fires.
	storedwg sync.WaitGroup
}

// GetID returns the wire subscription ID, a concatenation of the label and a
// serial number.
func (sub *T) GetID() string {
	return sub.Label + ":" + strconv.Itoa(sub.Counter)
}

// Start waits for the context to end and then tears the subscription down.
// Run in its own goroutine by PrepareSubscription.
func (sub *T) Start() {
	<-sub.Context.Done()
	sub.Unsub()
	// hold the lock so we never close Events while a dispatch is sending
	sub.mu.Lock()
	close(sub.Events)
	sub.mu.Unlock()
}

// DispatchEvent delivers an event to the consumer. After Unsub no dispatch
// reaches the Events channel: late frames for a closed subscription are
// discarded here.
func (sub *T) DispatchEvent(ev *event.T) {
	added := false
	if !sub.eosed.Load() {
		sub.storedwg.Add(1)
		added = true
	}
	go func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.live.Load() {
			select {
			case sub.Events <- ev:
			case <-sub.Context.Done():
			}
		}
		if added {
			sub.storedwg.Done()
		}
	}()
}

// DispatchEose fires the EndOfStoredEvents signal once, after all stored
// events already in flight have been delivered.
func (sub *T) DispatchEose() {
	if sub.eosed.CompareAndSwap(false, true) {
		go func() {
			sub.storedwg.Wait()
			select {
			case sub.EndOfStoredEvents <- struct{}{}:
			case <-sub.Context.Done():
			}
		}()
	}
}

// DispatchClosed relays the server-side CLOSED reason to the consumer.
func (sub *T) DispatchClosed(reason string) {
	if sub.closed.CompareAndSwap(false, true) {
		go func() {
			select {
			case sub.ClosedReason <- reason:
			case <-sub.Context.Done():
			}
		}()
	}
}

// Unsub closes the subscription, sending "CLOSE" to the relay. Unsub also
// makes the Events channel stop delivering.
func (sub *T) Unsub() {
	// cancel the context (if it's not canceled already)
	sub.Cancel()
	// mark subscription as closed and send a CLOSE to the relay (naïve
	// sync.Once implementation)
	if sub.live.CompareAndSwap(true, false) {
		sub.Close()
	}
	// remove subscription from the relay's map
	sub.Relay.Delete(sub.GetID())
}

// Close just sends a CLOSE message. You probably want Unsub instead.
func (sub *T) Close() {
	if sub.Relay.IsConnected() {
		id := sub.GetID()
		closeMsg := closeenvelope.New(subscriptionid.T(id))
		closeb, _ := closeMsg.MarshalJSON()
		log.D.F("{%s} sending %v", sub.Relay.URL(), string(closeb))
		<-sub.Relay.Write(closeb)
	}
}

// Fire sends the "REQ" command to the relay.
func (sub *T) Fire() error {
	id := sub.GetID()
	reqb, _ := (&reqenvelope.T{
		SubscriptionID: subscriptionid.T(id),
		Filters:        sub.Filters,
	}).MarshalJSON()
	log.D.F("{%s} sending %v", sub.Relay.URL(), string(reqb))
	sub.live.Store(true)
	if err := <-sub.Relay.Write(reqb); chk.D(err) {
		sub.Cancel()
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}
