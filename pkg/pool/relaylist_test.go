package pool

import (
	"testing"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/memory"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
)

func relayListEvent(author string, tg ...tag.T) *event.T {
	return &event.T{
		PubKey:    author,
		Kind:      kind.RelayListMetadata,
		CreatedAt: timestamp.Now(),
		Tags:      tags.T(tg),
	}
}

func TestParseRelayListMarkers(t *testing.T) {
	ev := relayListEvent("author",
		tag.T{"r", "wss://read.example.com", "read"},
		tag.T{"r", "wss://write.example.com", "write"},
		tag.T{"r", "wss://both.example.com"},
		tag.T{"r", "wss://read.example.com/", "read"}, // dup modulo slash
		tag.T{"p", "not-a-relay-tag"},
	)
	rl, err := ParseRelayList(ev)
	if err != nil {
		t.Fatalf("ParseRelayList: %v", err)
	}
	wantRead := []string{"wss://read.example.com", "wss://both.example.com"}
	wantWrite := []string{"wss://write.example.com", "wss://both.example.com"}
	if len(rl.Read) != len(wantRead) {
		t.Fatalf("Read = %v, want %v", rl.Read, wantRead)
	}
	for i, u := range wantRead {
		if rl.Read[i] != u {
			t.Errorf("Read[%d] = %s, want %s", i, rl.Read[i], u)
		}
	}
	if len(rl.Write) != len(wantWrite) {
		t.Fatalf("Write = %v, want %v", rl.Write, wantWrite)
	}
	for i, u := range wantWrite {
		if rl.Write[i] != u {
			t.Errorf("Write[%d] = %s, want %s", i, rl.Write[i], u)
		}
	}
}

func TestParseRelayListWrongKind(t *testing.T) {
	ev := &event.T{Kind: kind.TextNote}
	if _, err := ParseRelayList(ev); err == nil {
		t.Error("ParseRelayList accepted a non relay list kind")
	}
}

func TestInboxOutboxSelection(t *testing.T) {
	store := &memory.Backend{}
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	p := New(context.Bg(), ingest.New(store),
		WithBootstrapRelays([]string{"wss://bootstrap.example.com"}))
	defer p.Close()

	if err := p.IngestRelayList(relayListEvent("alice",
		tag.T{"r", "wss://alice-read.example.com", "read"},
		tag.T{"r", "wss://alice-write.example.com", "write"},
	)); err != nil {
		t.Fatalf("IngestRelayList: %v", err)
	}

	inbox := p.InboxFor("alice", "stranger")
	wantIn := map[string]bool{
		"wss://alice-read.example.com": true,
		// the stranger has no assignment, the bootstrap set covers them
		"wss://bootstrap.example.com": true,
	}
	if len(inbox) != len(wantIn) {
		t.Fatalf("InboxFor = %v, want %v", inbox, wantIn)
	}
	for _, u := range inbox {
		if !wantIn[u] {
			t.Errorf("unexpected inbox relay %s", u)
		}
	}

	outbox := p.OutboxFor("alice")
	if len(outbox) != 1 || outbox[0] != "wss://alice-write.example.com" {
		t.Errorf("OutboxFor(alice) = %v, want the declared write relay", outbox)
	}
	fallback := p.OutboxFor("stranger")
	if len(fallback) != 1 || fallback[0] != "wss://bootstrap.example.com" {
		t.Errorf("OutboxFor(stranger) = %v, want the bootstrap set", fallback)
	}
}
