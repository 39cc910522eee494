package event

import (
	"fmt"
	"os"

	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/hex"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/text"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/minio/sha256-simd"
)

var log, chk = slog.New(os.Stderr)

// T is the event: the immutable, content addressed, signed record that is
// the atom of the protocol. Identity is the SHA256 hash of the canonical
// serialization of the other fields; once validated an event is owned by the
// store and never mutated.
type T struct {
	ID        eventid.T   `json:"id"`
	PubKey    string      `json:"pubkey"`
	CreatedAt timestamp.T `json:"created_at"`
	Kind      kind.T      `json:"kind"`
	Tags      tags.T      `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig"`
}

// C is a channel that carries events.
type C chan *T

// Serialize outputs the canonical byte form that is hashed to produce the ID
// and signed to produce the signature:
//
//	[0,"pubkey",created_at,kind,tags,content]
//
// This must be byte-exact per RFC8259 string escaping or IDs and signatures
// will not verify against independently operated relays.
func (ev *T) Serialize() []byte {
	dst := make([]byte, 0, 256+len(ev.Content))
	dst = append(dst, fmt.Sprintf("[0,\"%s\",%d,%d,",
		ev.PubKey, ev.CreatedAt, ev.Kind)...)
	if ev.Tags == nil {
		dst = append(dst, '[', ']')
	} else {
		dst = ev.Tags.MarshalTo(dst)
	}
	dst = append(dst, ',')
	dst = text.EscapeJSONStringAndWrap(dst, ev.Content)
	dst = append(dst, ']')
	return dst
}

// GetID serializes and returns the event ID.
func (ev *T) GetID() eventid.T {
	h := sha256.Sum256(ev.Serialize())
	return eventid.T(hex.Enc(h[:]))
}

// CheckID recomputes the canonical form hash and reports whether it matches
// the ID field.
func (ev *T) CheckID() bool {
	return ev.ID == ev.GetID()
}

// CheckSignature checks if the signature is valid for the id (which is
// verified to be the hash of the serialized event content). Returns an error
// if the signature itself is malformed.
func (ev *T) CheckSignature() (valid bool, err error) {
	// read and check pubkey
	var pkb []byte
	if pkb, err = hex.Dec(ev.PubKey); err != nil {
		return false, fmt.Errorf("event pubkey '%s' is invalid hex: %w",
			ev.PubKey, err)
	}
	var pk *btcec.PublicKey
	if pk, err = schnorr.ParsePubKey(pkb); err != nil {
		return false, fmt.Errorf("event has invalid pubkey '%s': %w",
			ev.PubKey, err)
	}
	// read signature
	var sb []byte
	if sb, err = hex.Dec(ev.Sig); err != nil {
		return false, fmt.Errorf("signature '%s' is invalid hex: %w",
			ev.Sig, err)
	}
	var sig *schnorr.Signature
	if sig, err = schnorr.ParseSignature(sb); err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}
	// the id must be the hash of the canonical form, and the signature must
	// commit to that hash
	hash := sha256.Sum256(ev.Serialize())
	if ev.ID != eventid.T(hex.Enc(hash[:])) {
		return false, fmt.Errorf("event id does not match canonical form")
	}
	return sig.Verify(hash[:], pk), nil
}

// Sign signs an event with a given hex encoded secret key, filling in the
// PubKey, ID and Sig fields.
func (ev *T) Sign(skHex string) (err error) {
	var skb []byte
	if skb, err = hex.Dec(skHex); chk.D(err) {
		return fmt.Errorf("sign called with invalid secret key: %w", err)
	}
	if ev.Tags == nil {
		ev.Tags = make(tags.T, 0)
	}
	sk, pk := btcec.PrivKeyFromBytes(skb)
	ev.PubKey = hex.Enc(schnorr.SerializePubKey(pk))
	h := sha256.Sum256(ev.Serialize())
	var sig *schnorr.Signature
	if sig, err = schnorr.Sign(sk, h[:]); chk.D(err) {
		return
	}
	ev.ID = eventid.T(hex.Enc(h[:]))
	ev.Sig = hex.Enc(sig.Serialize())
	return nil
}

// Clone returns a deep copy of the event.
func (ev *T) Clone() (c *T) {
	c = &T{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: ev.CreatedAt,
		Kind:      ev.Kind,
		Tags:      ev.Tags.Clone(),
		Content:   ev.Content,
		Sig:       ev.Sig,
	}
	return
}
