package ingest

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/memory"
	"github.com/Hubmakerlabs/aggregatr/pkg/keys"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
)

func newPipeline(t *testing.T) (*Pipeline, *memory.Backend) {
	t.Helper()
	store := &memory.Backend{}
	if err := store.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return New(store), store
}

func signedNote(t *testing.T, content string) *event.T {
	t.Helper()
	ev := &event.T{
		CreatedAt: timestamp.Now(),
		Kind:      kind.TextNote,
		Content:   content,
	}
	if err := ev.Sign(keys.GeneratePrivateKey()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

// A valid event delivered concurrently by N relays must be stored and
// dispatched exactly once.
func TestConcurrentDeliveryStoresAndDispatchesOnce(t *testing.T) {
	p, store := newPipeline(t)
	var dispatched atomic.Int64
	p.RegisterSink(func(ev *event.T) { dispatched.Add(1) })

	ev := signedNote(t, "hello from everywhere")
	const relays = 10
	var wg sync.WaitGroup
	results := make([]Result, relays)
	for i := 0; i < relays; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Ingest(context.Bg(), ev)
		}(i)
	}
	wg.Wait()

	var stored, dup int
	for _, r := range results {
		switch r {
		case Stored:
			stored++
		case Duplicate:
			dup++
		default:
			t.Errorf("unexpected result %v", r)
		}
	}
	if stored != 1 {
		t.Errorf("stored %d times, want exactly 1", stored)
	}
	if dup != relays-1 {
		t.Errorf("%d duplicates, want %d", dup, relays-1)
	}
	if got := dispatched.Load(); got != 1 {
		t.Errorf("dispatched %d times, want exactly 1", got)
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d events, want 1", store.Len())
	}
}

func TestInvalidEventNeverStoredOrDispatched(t *testing.T) {
	p, store := newPipeline(t)
	var dispatched atomic.Int64
	p.RegisterSink(func(ev *event.T) { dispatched.Add(1) })

	ev := signedNote(t, "about to be tampered with")
	ev.Content = "tampered"
	if r := p.Ingest(context.Bg(), ev); r != Invalid {
		t.Errorf("Ingest(tampered) = %v, want Invalid", r)
	}

	// valid id but signature from a different key
	ev2 := signedNote(t, "stolen")
	other := signedNote(t, "other")
	ev2.Sig = other.Sig
	if r := p.Ingest(context.Bg(), ev2); r != Invalid {
		t.Errorf("Ingest(bad sig) = %v, want Invalid", r)
	}

	if dispatched.Load() != 0 {
		t.Errorf("invalid events were dispatched %d times", dispatched.Load())
	}
	if store.Len() != 0 {
		t.Errorf("invalid events were stored")
	}
	_, _, invalid := p.Counts()
	if invalid != 2 {
		t.Errorf("invalid count = %d, want 2", invalid)
	}
}

func TestEphemeralDispatchedNotStored(t *testing.T) {
	p, store := newPipeline(t)
	var dispatched atomic.Int64
	p.RegisterSink(func(ev *event.T) { dispatched.Add(1) })

	ev := &event.T{
		CreatedAt: timestamp.Now(),
		Kind:      kind.T(20001),
		Content:   "here and gone",
	}
	if err := ev.Sign(keys.GeneratePrivateKey()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if r := p.Ingest(context.Bg(), ev); r != Ephemeral {
		t.Errorf("Ingest(ephemeral) = %v, want Ephemeral", r)
	}
	if dispatched.Load() != 1 {
		t.Errorf("ephemeral event dispatched %d times, want 1",
			dispatched.Load())
	}
	if store.Len() != 0 {
		t.Errorf("ephemeral event was stored")
	}
}

func TestSupersededVersionNotDispatched(t *testing.T) {
	p, _ := newPipeline(t)
	var dispatched atomic.Int64
	p.RegisterSink(func(ev *event.T) { dispatched.Add(1) })

	sec := keys.GeneratePrivateKey()
	newer := &event.T{CreatedAt: 200, Kind: kind.ProfileMetadata,
		Content: "new"}
	if err := newer.Sign(sec); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	older := &event.T{CreatedAt: 100, Kind: kind.ProfileMetadata,
		Content: "old"}
	if err := older.Sign(sec); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if r := p.Ingest(context.Bg(), newer); r != Stored {
		t.Fatalf("Ingest(newer) = %v, want Stored", r)
	}
	if r := p.Ingest(context.Bg(), older); r != Superseded {
		t.Errorf("Ingest(older) = %v, want Superseded", r)
	}
	if dispatched.Load() != 1 {
		t.Errorf("dispatched %d times, want 1", dispatched.Load())
	}
}
