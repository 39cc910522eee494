package event

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/Hubmakerlabs/aggregatr/pkg/hex"
	"github.com/Hubmakerlabs/aggregatr/pkg/keys"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
	"github.com/minio/sha256-simd"
)

func TestSerializeCanonicalForm(t *testing.T) {
	ev := &T{
		PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		CreatedAt: timestamp.T(1672068534),
		Kind:      kind.TextNote,
		Tags:      tags.T{tag.T{"e", "abc"}, tag.T{"p", "def"}},
		Content:   "quotes \" and\nnewlines",
	}
	want := `[0,"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",1672068534,1,[["e","abc"],["p","def"]],"quotes \" and\nnewlines"]`
	if got := string(ev.Serialize()); got != want {
		t.Errorf("Serialize() = %s; want %s", got, want)
	}
	h := sha256.Sum256(ev.Serialize())
	if ev.GetID().String() != hex.Enc(h[:]) {
		t.Errorf("GetID() = %s; want sha256 of the canonical form", ev.GetID())
	}
}

func TestSignAndVerify(t *testing.T) {
	sec := keys.GeneratePrivateKey()
	ev := &T{
		CreatedAt: timestamp.Now(),
		Kind:      kind.TextNote,
		Content:   "hello",
	}
	if err := ev.Sign(sec); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub, err := keys.GetPublicKey(sec)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	if ev.PubKey != pub {
		t.Errorf("Sign set pubkey %s; want %s", ev.PubKey, pub)
	}
	if !ev.CheckID() {
		t.Error("CheckID failed on a freshly signed event")
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		t.Fatalf("CheckSignature: %v", err)
	}
	if !ok {
		t.Error("signature did not verify")
	}
}

func TestTamperedEventFailsValidation(t *testing.T) {
	sec := keys.GeneratePrivateKey()
	ev := &T{CreatedAt: timestamp.Now(), Kind: kind.TextNote,
		Content: "original"}
	if err := ev.Sign(sec); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ev.Content = "tampered"
	if ev.CheckID() {
		t.Error("CheckID passed on tampered content")
	}
	if ok, _ := ev.CheckSignature(); ok {
		t.Error("CheckSignature passed on tampered content")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	sec := keys.GeneratePrivateKey()
	ev := &T{
		CreatedAt: timestamp.T(1700000000),
		Kind:      kind.ProfileMetadata,
		Tags:      tags.T{tag.T{"d", "test"}},
		Content:   `{"name":"someone"}`,
	}
	if err := ev.Sign(sec); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, err := ev.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	got := &T{}
	if err = json.Unmarshal(b, got); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", string(b), err)
	}
	if got.ID != ev.ID || got.PubKey != ev.PubKey || got.Sig != ev.Sig ||
		got.Content != ev.Content || got.Kind != ev.Kind ||
		got.CreatedAt != ev.CreatedAt {
		t.Errorf("round trip changed the event:\n%+v\nwant\n%+v", got, ev)
	}
	if ok, err := got.CheckSignature(); !ok {
		t.Errorf("decoded event does not verify: %v", err)
	}
}

func TestGetIDDistinct(t *testing.T) {
	base := &T{CreatedAt: timestamp.T(1700000000), Kind: kind.TextNote,
		PubKey: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"}
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		ev := base.Clone()
		ev.Content = fmt.Sprintf("note %d", i)
		id := ev.GetID().String()
		if seen[id] {
			t.Errorf("duplicate id %s for distinct content", id)
		}
		seen[id] = true
	}
}
