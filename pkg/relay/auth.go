package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Hubmakerlabs/aggregatr/pkg/auth"
	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/authenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/signer"
)

// State is the position of the auth session in its lifecycle.
type State int

const (
	// Unauthenticated: no challenge has arrived on this connection.
	Unauthenticated State = iota
	// Challenged: the relay sent AUTH and we hold a usable challenge.
	Challenged
	// Signing: the challenge response is out with the signer.
	Signing
	// Authenticated: the relay accepted our response; lasts until the
	// connection drops.
	Authenticated
	// Rejected: the relay refused our response. A fresh challenge moves the
	// session back to Challenged.
	Rejected
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Challenged:
		return "challenged"
	case Signing:
		return "signing"
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNoChallenge   = errors.New("auth: no challenge received yet")
	ErrNoSigner      = errors.New("auth: no signer configured")
	ErrAuthRejected  = errors.New("auth: relay rejected authentication")
	ErrAlreadyAuthed = errors.New("auth: already authenticated")
)

type pendingWrite struct {
	msg    []byte
	answer chan error
}

// Session tracks authentication against one relay connection. A challenge is
// valid only for the connection it arrived on and is consumed by one
// response; connection loss resets everything.
type Session struct {
	r      *T
	signer signer.I

	mu        sync.Mutex
	state     State
	challenge string
	// epoch is bumped whenever the connection is lost so a signer result
	// that comes back afterwards is recognised as stale and discarded.
	epoch     int
	authEvent *event.T
	pending   []pendingWrite
}

func NewSession(r *T) *Session {
	return &Session{r: r}
}

// State returns the current lifecycle position.
func (a *Session) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// EventID returns the id of the challenge response currently awaiting an OK,
// so the message loop can route that OK here instead of to a publish
// callback.
func (a *Session) EventID() (id eventid.T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authEvent != nil {
		id = a.authEvent.ID
	}
	return
}

// Challenge records a challenge received from the relay. A repeat challenge
// replaces the previous one; arriving while Rejected it re-opens the
// session.
func (a *Session) Challenge(challenge string) {
	a.mu.Lock()
	a.challenge = challenge
	switch a.state {
	case Unauthenticated, Rejected:
		a.state = Challenged
	}
	havePending := len(a.pending) > 0 && a.state == Challenged &&
		a.signer != nil
	a.mu.Unlock()
	if havePending {
		// writes were queued before the challenge arrived; answer it now
		go func() { chk.D(a.Authenticate(a.r.Context())) }()
	}
}

// Authenticate signs the current challenge and sends the response, blocking
// until the relay answers with OK or the context ends. Signing may take a
// long time (a remote signer waiting on user approval); if the connection
// drops meanwhile the result is discarded.
func (a *Session) Authenticate(c context.T) (err error) {
	a.mu.Lock()
	switch {
	case a.signer == nil:
		a.mu.Unlock()
		return ErrNoSigner
	case a.state == Authenticated:
		a.mu.Unlock()
		return ErrAlreadyAuthed
	case a.state == Signing:
		a.mu.Unlock()
		return nil
	case a.challenge == "":
		a.mu.Unlock()
		return ErrNoChallenge
	}
	challenge := a.challenge
	epoch := a.epoch
	a.state = Signing
	a.mu.Unlock()

	ev := auth.CreateUnsigned(challenge, a.r.URL())
	if err = a.signer.Sign(c, ev); err != nil {
		a.mu.Lock()
		if a.epoch == epoch && a.state == Signing {
			// the challenge is still valid, allow another attempt
			a.state = Challenged
		}
		a.mu.Unlock()
		return fmt.Errorf("auth: signing failed: %w", err)
	}

	a.mu.Lock()
	if a.epoch != epoch {
		// connection went away while the signer was busy
		a.mu.Unlock()
		return ErrConnClosed
	}
	a.authEvent = ev
	a.mu.Unlock()

	// the OK for this event is routed to Outcome by the read loop
	if err = a.r.publish(c, ev.ID.String(),
		&authenvelope.Response{Event: ev}); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Rejected {
		return ErrAuthRejected
	}
	return nil
}

// Outcome applies the relay's OK verdict on the challenge response. Called
// by the message read loop.
func (a *Session) Outcome(ok bool, reason string) {
	a.mu.Lock()
	a.authEvent = nil
	if ok {
		a.state = Authenticated
		a.challenge = "" // consumed; single use
		pending := a.pending
		a.pending = nil
		a.mu.Unlock()
		log.D.F("{%s} authenticated", a.r.URL())
		for _, p := range pending {
			go func(p pendingWrite) {
				if err := <-a.r.Write(p.msg); err != nil {
					p.answer <- err
				}
				close(p.answer)
			}(p)
		}
		return
	}
	a.state = Rejected
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	log.D.F("{%s} auth rejected: %s", a.r.URL(), reason)
	err := fmt.Errorf("%w: %s", ErrAuthRejected, reason)
	for _, p := range pending {
		p.answer <- err
		close(p.answer)
	}
}

// Reset tears the session down after connection loss: queued writes fail,
// the stale challenge is dropped and any in-flight signing result will be
// discarded when it lands.
func (a *Session) Reset(err error) {
	a.mu.Lock()
	a.epoch++
	a.state = Unauthenticated
	a.challenge = ""
	a.authEvent = nil
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, p := range pending {
		p.answer <- err
		close(p.answer)
	}
}

// WriteAuthed sends msg once the session is authenticated. If it is not yet,
// the write is queued and authentication is started as soon as a challenge
// is available; the returned channel answers when the write goes out or the
// session fails.
func (a *Session) WriteAuthed(msg []byte) (ch chan error) {
	a.mu.Lock()
	if a.state == Authenticated {
		a.mu.Unlock()
		return a.r.Write(msg)
	}
	ch = make(chan error, 1)
	a.pending = append(a.pending, pendingWrite{msg: msg, answer: ch})
	// a rejected session retries on the next auth-requiring request, reusing
	// the retained challenge
	startAuth := a.signer != nil && (a.state == Challenged ||
		(a.state == Rejected && a.challenge != ""))
	a.mu.Unlock()
	if startAuth {
		go func() { chk.D(a.Authenticate(a.r.Context())) }()
	}
	return
}
