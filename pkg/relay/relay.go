package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/connection"
	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/authenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/closedenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/enveloper"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/eoseenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/eventenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/noticeenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/okenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/sentinel"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/normalize"
	"github.com/Hubmakerlabs/aggregatr/pkg/signer"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/Hubmakerlabs/aggregatr/pkg/subscription"
	"github.com/puzpuzpuz/xsync/v2"
)

var log, chk = slog.New(os.Stderr)

var subscriptionIDCounter atomic.Int32

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrWriteTimeout = errors.New("write timed out")
)

// T is one logical session to one relay: the websocket, the open
// subscriptions, the write queue and the per-connection auth session.
type T struct {
	closeMutex              sync.Mutex
	url                     string
	RequestHeader           http.Header // e.g. for origin header
	Connection              *connection.C
	Subscriptions           *xsync.MapOf[string, *subscription.T]
	ConnectionError         error
	connectionContext       context.T // canceled when the connection closes
	connectionContextCancel context.F
	Auth                    *Session
	notices                 chan string
	okCallbacks             *xsync.MapOf[string, func(bool, string)]
	writeQueue              chan writeRequest

	// AssumeValid skips verifying signatures of events from this relay; only
	// for relays the caller trusts to have validated already.
	AssumeValid bool
}

var _ subscription.Relay = (*T)(nil)

func (r *T) URL() string { return r.url }

func (r *T) Delete(key string) { r.Subscriptions.Delete(key) }

type writeRequest struct {
	msg    []byte
	answer chan error
}

// Option is the type of optional arguments to New and Connect.
type Option interface {
	IsRelayOption()
}

// WithNoticeHandler just takes notices and is expected to do something with
// them. When not given, notices are logged.
type WithNoticeHandler func(notice string)

func (_ WithNoticeHandler) IsRelayOption() {}

// WithSigner attaches the external signing capability so the session can
// answer auth challenges.
type WithSigner struct{ Signer signer.I }

func (_ WithSigner) IsRelayOption() {}

// New returns an unconnected relay session. The connection will be closed
// when the context is canceled.
func New(c context.T, url string, opts ...Option) *T {
	ctx, cancel := context.Cancel(c)
	r := &T{
		url:                     normalize.URL(url),
		connectionContext:       ctx,
		connectionContextCancel: cancel,
		Subscriptions:           xsync.NewMapOf[*subscription.T](),
		okCallbacks:             xsync.NewMapOf[func(bool, string)](),
		writeQueue:              make(chan writeRequest),
	}
	r.Auth = NewSession(r)
	for _, opt := range opts {
		switch o := opt.(type) {
		case WithNoticeHandler:
			r.notices = make(chan string)
			go func() {
				for n := range r.notices {
					o(n)
				}
			}()
		case WithSigner:
			r.Auth.signer = o.Signer
		}
	}
	return r
}

// Connect returns a relay session connected to url. Once successfully
// connected, cancelling ctx has no effect. To close the connection, call
// r.Close().
func Connect(c context.T, url string, opts ...Option) (*T, error) {
	r := New(c, url, opts...)
	err := r.Connect(c)
	return r, err
}

// String just returns the relay URL.
func (r *T) String() string { return r.url }

// Context retrieves the context that is associated with this relay
// connection.
func (r *T) Context() context.T { return r.connectionContext }

// IsConnected returns true if the connection to this relay seems to be
// active.
func (r *T) IsConnected() bool { return r.connectionContext.Err() == nil }

// Connect tries to establish a websocket connection to r.URL. If the
// context expires before the connection is complete, an error is returned.
// Once successfully connected, context expiration has no effect: call
// r.Close to close the connection.
func (r *T) Connect(c context.T) (err error) {
	if r.connectionContext == nil || r.Subscriptions == nil {
		return fmt.Errorf("relay must be initialized with a call to New()")
	}
	if r.url == "" {
		return fmt.Errorf("invalid relay URL '%s'", r.URL())
	}
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}
	var conn *connection.C
	if conn, err = connection.New(c, r.url, r.RequestHeader); err != nil {
		return fmt.Errorf("error opening websocket to '%s': %w",
			r.URL(), err)
	}
	r.Connection = conn
	// ping every 29 seconds
	ticker := time.NewTicker(29 * time.Second)
	// to be used when the connection is closed
	go func() {
		<-r.connectionContext.Done()
		if r.notices != nil {
			close(r.notices)
		}
		ticker.Stop()
		// the challenge was scoped to this connection and any in-flight
		// signing result is now stale
		r.Auth.Reset(ErrConnClosed)
		// close all subscriptions
		r.Subscriptions.Range(func(_ string, sub *subscription.T) bool {
			go sub.Unsub()
			return true
		})
	}()

	// queue all write operations here so we don't do mutex spaghetti
	go func() {
		var err error
		for {
			select {
			case <-ticker.C:
				if err = r.Connection.Ping(); err != nil {
					log.D.F("{%s} error writing ping: %v; closing websocket",
						r.URL(), err)
					chk.D(r.Close()) // this should trigger a context cancelation
					return
				}
			case wr := <-r.writeQueue:
				if wr.msg == nil {
					return
				}
				// all write requests will go through this to prevent races
				if err = r.Connection.WriteMessage(wr.msg); err != nil {
					wr.answer <- err
				}
				close(wr.answer)
			case <-r.connectionContext.Done():
				return
			}
		}
	}()

	// general message reader loop
	go r.MessageReadLoop(conn)
	return nil
}

// MessageReadLoop reads and dispatches inbound frames until the connection
// dies. A malformed frame is logged and dropped; a single bad frame must not
// terminate an otherwise healthy session.
func (r *T) MessageReadLoop(conn *connection.C) {
	buf := new(bytes.Buffer)
	var err error
	for {
		buf.Reset()
		if err = conn.ReadMessage(r.connectionContext, buf); err != nil {
			r.ConnectionError = err
			chk.D(r.Close())
			break
		}

		message := buf.Bytes()
		var env enveloper.I
		if env, err = sentinel.Read(message); err != nil {
			// protocol violation; drop the frame, the session continues
			log.D.F("{%s} dropping malformed frame: %v", r.URL(), err)
			continue
		}

		switch env := env.(type) {
		case *noticeenvelope.T:
			// see WithNoticeHandler
			if r.notices != nil {
				r.notices <- env.Text
			} else {
				log.D.F("NOTICE from %s: '%s'", r.URL(), env.Text)
			}
		case *authenvelope.Challenge:
			log.D.F("{%s} received auth challenge", r.URL())
			r.Auth.Challenge(env.Challenge)
		case *eventenvelope.T:
			if env.SubscriptionID == "" {
				continue
			}
			s, ok := r.Subscriptions.Load(env.SubscriptionID.String())
			if !ok {
				log.D.F("{%s} no subscription with id '%s'",
					r.URL(), env.SubscriptionID.String())
				continue
			}
			// check the event matches the desired filter, ignore otherwise
			if !s.Filters.Match(env.Event) {
				log.D.F("{%s} filter does not match: %v ~ %v",
					r.URL(), s.Filters, env.Event)
				continue
			}
			// check id and signature, ignore invalid, except from trusted
			// (AssumeValid) relays
			if !r.AssumeValid {
				if ok, err = env.Event.CheckSignature(); !ok {
					errmsg := ""
					if err != nil {
						errmsg = err.Error()
					}
					log.D.F("{%s} bad signature on %s; %s",
						r.URL(), env.Event.ID, errmsg)
					continue
				}
			}
			// dispatch this to the internal .Events channel of the
			// subscription
			s.DispatchEvent(env.Event)
		case *eoseenvelope.T:
			if s, ok := r.Subscriptions.Load(env.Sub.String()); ok {
				s.DispatchEose()
			}
		case *closedenvelope.T:
			if s, ok := r.Subscriptions.Load(env.ID.String()); ok {
				s.DispatchClosed(env.Reason)
			}
		case *okenvelope.T:
			isAuth := env.ID == r.Auth.EventID()
			if isAuth {
				r.Auth.Outcome(env.OK, env.Reason)
			}
			// the auth response went out through publish too, so its waiting
			// callback must fire as well
			if okCallback, exist := r.okCallbacks.Load(env.ID.String()); exist {
				okCallback(env.OK, env.Reason)
			} else if !isAuth {
				log.D.F("{%s} got an unexpected OK message for event %s",
					r.URL(), env.ID)
			}
		}
	}
}

// Write queues a message to be sent to the relay.
func (r *T) Write(msg []byte) (ch chan error) {
	ch = make(chan error, 1)
	timeout := time.After(time.Second * 5)
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.connectionContext.Done():
		ch <- ErrConnClosed
	case <-timeout:
		ch <- ErrWriteTimeout
	}
	return
}

// Publish sends an "EVENT" command to the relay and waits for an OK
// response.
func (r *T) Publish(c context.T, ev *event.T) error {
	return r.publish(c, ev.ID.String(), &eventenvelope.T{Event: ev})
}

// publish can be used both for EVENT and for AUTH.
func (r *T) publish(c context.T, id string, env enveloper.I) (err error) {
	var cancel context.F
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 4 seconds
		c, cancel = context.Timeout(c, 4*time.Second)
		defer cancel()
	} else {
		// otherwise make the context cancellable so we can stop everything
		// upon receiving an "OK"
		c, cancel = context.Cancel(c)
		defer cancel()
	}
	// listen for an OK callback
	gotOk := false
	r.okCallbacks.Store(id, func(ok bool, reason string) {
		gotOk = true
		if !ok {
			err = fmt.Errorf("msg: %s", reason)
		}
		cancel()
	})
	defer r.okCallbacks.Delete(id)
	// publish event
	var enb []byte
	if enb, err = env.MarshalJSON(); chk.D(err) {
		return
	}
	if err = <-r.Write(enb); err != nil {
		return err
	}
	for {
		select {
		case <-c.Done():
			// called when we get an OK or when the context has been canceled
			if gotOk {
				return err
			}
			return c.Err()
		case <-r.connectionContext.Done():
			// this is caused when we lose connectivity
			return err
		}
	}
}

// Subscribe sends a "REQ" command to the relay. Events are returned through
// the channel sub.Events. The subscription is closed when the context is
// cancelled ("CLOSE" on the wire).
//
// Remember to cancel subscriptions, either by calling `.Unsub()` on them or
// ensuring their context will be canceled at some point.
func (r *T) Subscribe(c context.T, f filters.T) (*subscription.T, error) {
	sub := r.PrepareSubscription(c, f)
	if err := sub.Fire(); err != nil {
		return nil, fmt.Errorf("couldn't subscribe to %v at %s: %w",
			f, r.URL(), err)
	}
	return sub, nil
}

// PrepareSubscription creates a subscription, but doesn't fire it.
func (r *T) PrepareSubscription(c context.T, f filters.T) *subscription.T {
	if r.Connection == nil {
		panic(fmt.Errorf("must call .Connect() first before calling .Subscribe()"))
	}
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.Cancel(c)
	sub := &subscription.T{
		Relay:             r,
		Context:           ctx,
		Cancel:            cancel,
		Counter:           int(current),
		Events:            make(event.C),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		Filters:           f,
	}
	id := sub.GetID()
	r.Subscriptions.Store(id, sub)
	// start handling events, eose, unsub etc:
	go sub.Start()
	return sub
}

// QuerySync subscribes, collects everything up to EOSE and unsubscribes.
func (r *T) QuerySync(c context.T, f *filter.T) ([]*event.T, error) {
	sub, err := r.Subscribe(c, filters.T{*f})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}
	var events []*event.T
	for {
		select {
		case ev := <-sub.Events:
			if ev == nil {
				return events, nil
			}
			events = append(events, ev)
		case <-sub.EndOfStoredEvents:
			return events, nil
		case <-c.Done():
			return events, nil
		}
	}
}

func (r *T) Close() error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()
	if r.connectionContextCancel == nil {
		return fmt.Errorf("relay not connected")
	}
	r.connectionContextCancel()
	r.connectionContextCancel = nil
	if r.Connection == nil {
		return nil
	}
	return r.Connection.Close()
}
