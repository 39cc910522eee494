package signer

import (
	"errors"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/keys"
)

// I is the external signing capability. The core never holds key material
// itself: auth sessions and authenticated publishes hand an unsigned event
// draft to the signer and may block a long time on it (browser extension or
// remote signer waiting on user approval), so implementations must honour
// the context.
type I interface {
	// Sign fills in PubKey, ID and Sig on the draft.
	Sign(c context.T, ev *event.T) error
	// PubKey returns the public key the signer signs with.
	PubKey() string
}

var (
	// ErrUserRejected is returned when the user explicitly refused the
	// signing request. Not a fault of the core.
	ErrUserRejected = errors.New("signer: user rejected request")
	// ErrUnavailable is returned when no signing backend can be reached.
	ErrUnavailable = errors.New("signer: unavailable")
)

// Local is an in-process signer holding a secret key, used by the cmd tools
// and tests. Remote/extension signers satisfy the same interface.
type Local struct {
	sec string
	pub string
}

var _ I = (*Local)(nil)

func NewLocal(sec string) (s *Local, err error) {
	var pub string
	if pub, err = keys.GetPublicKey(sec); err != nil {
		return
	}
	return &Local{sec: sec, pub: pub}, nil
}

func (s *Local) Sign(c context.T, ev *event.T) error {
	select {
	case <-c.Done():
		return c.Err()
	default:
	}
	return ev.Sign(s.sec)
}

func (s *Local) PubKey() string { return s.pub }
