package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Hubmakerlabs/aggregatr/pkg/auth"
	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/keys"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/kinds"
	"github.com/Hubmakerlabs/aggregatr/pkg/normalize"
	"github.com/Hubmakerlabs/aggregatr/pkg/signer"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"

	"golang.org/x/net/websocket"
)

func newWebsocketServer(handler func(*websocket.Conn)) *httptest.Server {
	return httptest.NewServer(&websocket.Server{
		Handshake: anyOriginHandshake,
		Handler:   handler,
	})
}

// anyOriginHandshake is an alternative to the default in
// golang.org/x/net/websocket which checks for origin. The client sends no
// origin and it makes no difference for the tests here anyway.
var anyOriginHandshake = func(conf *websocket.Config, r *http.Request) (e error) {
	return nil
}

func mustConnect(t *testing.T, url string, opts ...Option) *T {
	t.Helper()
	rl, err := Connect(context.Bg(), url, opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return rl
}

func signedNote(t *testing.T, content string) *event.T {
	t.Helper()
	ev := &event.T{
		Kind:      kind.TextNote,
		Content:   content,
		CreatedAt: timestamp.Now(),
		Tags:      tags.T{tag.T{"foo", "bar"}},
	}
	if err := ev.Sign(keys.GeneratePrivateKey()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

func parseEventMessage(t *testing.T, raw []json.RawMessage) (evt *event.T) {
	t.Helper()
	if len(raw) < 2 {
		t.Fatalf("len(raw) = %d; want at least 2", len(raw))
	}
	var typ string
	json.Unmarshal(raw[0], &typ)
	if typ != "EVENT" && typ != "AUTH" {
		t.Errorf("typ = %q; want EVENT or AUTH", typ)
	}
	evt = &event.T{}
	if err := json.Unmarshal(raw[1], evt); err != nil {
		t.Errorf("json.Unmarshal(`%s`): %v", string(raw[1]), err)
	}
	return evt
}

func parseSubscriptionMessage(t *testing.T,
	raw []json.RawMessage) (subid string) {

	t.Helper()
	if len(raw) < 3 {
		t.Fatalf("len(raw) = %d; want at least 3", len(raw))
	}
	var typ string
	json.Unmarshal(raw[0], &typ)
	if typ != "REQ" {
		t.Errorf("typ = %q; want REQ", typ)
	}
	if err := json.Unmarshal(raw[1], &subid); err != nil {
		t.Errorf("json.Unmarshal sub id: %v", err)
	}
	return subid
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("auth state is %v, want %v", s.State(), want)
}

func TestPublish(t *testing.T) {
	textNote := signedNote(t, "hello")

	var mu sync.Mutex // guards published to satisfy go test -race
	var published bool
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		mu.Lock()
		published = true
		mu.Unlock()
		// verify the client sent exactly the textNote
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		ev := parseEventMessage(t, raw)
		if !bytes.Equal(ev.Serialize(), textNote.Serialize()) {
			t.Errorf("received event:\n%+v\nwant:\n%+v", ev, textNote)
		}
		res := []any{"OK", textNote.ID, true, ""}
		if err := websocket.JSON.Send(conn, res); err != nil {
			t.Errorf("websocket.JSON.Send: %v", err)
		}
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	if err := rl.Publish(context.Bg(), textNote); err != nil {
		t.Errorf("Publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !published {
		t.Errorf("fake relay server saw no event")
	}
}

func TestPublishRejected(t *testing.T) {
	textNote := signedNote(t, "hello")

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		res := []any{"OK", textNote.ID, false, "blocked"}
		websocket.JSON.Send(conn, res)
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	if err := rl.Publish(context.Bg(), textNote); err == nil {
		t.Errorf("Publish returned nil on a rejecting relay")
	}
}

// Frames the server fires straight after the handshake land in the dialer's
// buffer and must not be lost.
func TestFramesBehindHandshakeDelivered(t *testing.T) {
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		websocket.JSON.Send(conn, []any{"NOTICE", "first"})
		websocket.JSON.Send(conn, []any{"NOTICE", "second"})
		io.ReadAll(conn)
	})
	defer ws.Close()

	notices := make(chan string, 2)
	rl := mustConnect(t, ws.URL,
		WithNoticeHandler(func(notice string) { notices <- notice }))
	defer rl.Close()

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-notices:
			if got != want {
				t.Errorf("notice = %q, want %q", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("notice %q never delivered", want)
		}
	}
}

// One garbage frame must not take the session down with it.
func TestMalformedFrameDropped(t *testing.T) {
	textNote := signedNote(t, "still alive")

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		if err := websocket.Message.Send(conn, `[truncated`); err != nil {
			t.Errorf("websocket.Message.Send: %v", err)
		}
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		res := []any{"OK", textNote.ID, true, ""}
		websocket.JSON.Send(conn, res)
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	// the garbage frame is read and dropped before or while this publish is
	// in flight; the session must survive to take the OK
	if err := rl.Publish(context.Bg(), textNote); err != nil {
		t.Errorf("Publish after garbage frame: %v", err)
	}
	if !rl.IsConnected() {
		t.Error("session died on a malformed frame")
	}
}

func TestSubscriptionEventsAndEose(t *testing.T) {
	stored := []*event.T{
		signedNote(t, "stored one"),
		signedNote(t, "stored two"),
	}
	live := signedNote(t, "live")

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		subid := parseSubscriptionMessage(t, raw)
		for _, ev := range stored {
			websocket.JSON.Send(conn, []any{"EVENT", subid, ev})
		}
		websocket.JSON.Send(conn, []any{"EOSE", subid})
		websocket.JSON.Send(conn, []any{"EVENT", subid, live})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	sub, err := rl.Subscribe(context.Bg(),
		filters.T{{Kinds: kinds.T{kind.TextNote}}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsub()

	var got []*event.T
	timeout := time.After(3 * time.Second)
loop:
	for {
		select {
		case ev := <-sub.Events:
			got = append(got, ev)
		case <-sub.EndOfStoredEvents:
			break loop
		case <-timeout:
			t.Fatal("no EOSE within 3s")
		}
	}
	if len(got) != len(stored) {
		t.Fatalf("got %d events before EOSE, want %d", len(got), len(stored))
	}
	for i, ev := range got {
		if ev.ID != stored[i].ID {
			t.Errorf("event %d: got %s, want %s", i, ev.ID, stored[i].ID)
		}
	}
	// the live event still flows after EOSE
	select {
	case ev := <-sub.Events:
		if ev.ID != live.ID {
			t.Errorf("live event: got %s, want %s", ev.ID, live.ID)
		}
	case <-time.After(3 * time.Second):
		t.Error("no live event after EOSE")
	}
}

// Events that don't match the subscription filter are discarded at the
// session boundary.
func TestSubscriptionFilterMismatchDiscarded(t *testing.T) {
	wrongKind := &event.T{
		Kind:      kind.ProfileMetadata,
		Content:   "not a note",
		CreatedAt: timestamp.Now(),
	}
	if err := wrongKind.Sign(keys.GeneratePrivateKey()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	matching := signedNote(t, "a note")

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		subid := parseSubscriptionMessage(t, raw)
		websocket.JSON.Send(conn, []any{"EVENT", subid, wrongKind})
		websocket.JSON.Send(conn, []any{"EVENT", subid, matching})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	sub, err := rl.Subscribe(context.Bg(),
		filters.T{{Kinds: kinds.T{kind.TextNote}}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsub()

	select {
	case ev := <-sub.Events:
		if ev.ID != matching.ID {
			t.Errorf("delivered %s, want only the matching %s",
				ev.ID, matching.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("matching event never delivered")
	}
}

func TestUnsubStopsDelivery(t *testing.T) {
	first := signedNote(t, "one")
	var late []*event.T
	for i := 0; i < 5; i++ {
		late = append(late, signedNote(t, "late"))
	}
	keepGoing := make(chan struct{})
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
		}
		subid := parseSubscriptionMessage(t, raw)
		websocket.JSON.Send(conn, []any{"EVENT", subid, first})
		<-keepGoing
		// keeps streaming after the client closed the subscription
		for _, ev := range late {
			websocket.JSON.Send(conn, []any{"EVENT", subid, ev})
		}
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL)
	defer rl.Close()
	sub, err := rl.Subscribe(context.Bg(),
		filters.T{{Kinds: kinds.T{kind.TextNote}}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-sub.Events:
	case <-time.After(3 * time.Second):
		t.Fatal("first event never delivered")
	}
	sub.Unsub()
	close(keepGoing)

	// anything delivered now would be a frame that crossed the close; the
	// channel must only ever yield nil (closed) from here on
	timeout := time.After(500 * time.Millisecond)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev != nil {
				t.Fatalf("event %s delivered after Unsub", ev.ID)
			}
		case <-timeout:
			return
		}
	}
}

func TestAuthLifecycle(t *testing.T) {
	sec := keys.GeneratePrivateKey()
	sig, err := signer.NewLocal(sec)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	const challenge = "gnocchi"

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		websocket.JSON.Send(conn, []any{"AUTH", challenge})
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		ev := parseEventMessage(t, raw)
		pub, ok := auth.Validate(ev, challenge,
			normalize.URL("ws://"+conn.Request().Host))
		if !ok {
			t.Errorf("auth response failed validation: %s", ev.String())
		}
		if pub != sig.PubKey() {
			t.Errorf("auth response signed by %s, want %s", pub, sig.PubKey())
		}
		websocket.JSON.Send(conn, []any{"OK", ev.ID, true, ""})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL, WithSigner{Signer: sig})
	defer rl.Close()

	waitForState(t, rl.Auth, Challenged)
	if err = rl.Auth.Authenticate(context.Bg()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := rl.Auth.State(); got != Authenticated {
		t.Errorf("auth state = %v, want %v", got, Authenticated)
	}
	// a second attempt on the same connection is redundant
	if err = rl.Auth.Authenticate(context.Bg()); err != ErrAlreadyAuthed {
		t.Errorf("second Authenticate = %v, want ErrAlreadyAuthed", err)
	}
}

func TestAuthRejectedThenRechallenged(t *testing.T) {
	sig, err := signer.NewLocal(keys.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ws := newWebsocketServer(func(conn *websocket.Conn) {
		websocket.JSON.Send(conn, []any{"AUTH", "first"})
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		ev := parseEventMessage(t, raw)
		websocket.JSON.Send(conn, []any{"OK", ev.ID, false,
			"restricted: not on the list"})
		// a fresh challenge re-opens the session
		websocket.JSON.Send(conn, []any{"AUTH", "second"})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL, WithSigner{Signer: sig})
	defer rl.Close()

	waitForState(t, rl.Auth, Challenged)
	if err = rl.Auth.Authenticate(context.Bg()); err == nil {
		t.Error("Authenticate returned nil on a rejecting relay")
	}
	// the rejection parks the session at Rejected until the new challenge
	// moves it back to Challenged
	waitForState(t, rl.Auth, Challenged)
}

// A write arriving while the session sits at Rejected retries authentication
// with the retained challenge instead of queueing forever.
func TestWriteAuthedRetriesAfterRejection(t *testing.T) {
	sig, err := signer.NewLocal(keys.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	queued := signedNote(t, "second chance")

	gotQueued := make(chan *event.T, 1)
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		websocket.JSON.Send(conn, []any{"AUTH", "stubborn"})
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		ev := parseEventMessage(t, raw)
		websocket.JSON.Send(conn, []any{"OK", ev.ID, false,
			"restricted: try again"})
		// the retry carries a fresh response to the same challenge
		raw = nil
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		ev = parseEventMessage(t, raw)
		websocket.JSON.Send(conn, []any{"OK", ev.ID, true, ""})
		raw = nil
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		gotQueued <- parseEventMessage(t, raw)
		websocket.JSON.Send(conn, []any{"OK", queued.ID, true, ""})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL, WithSigner{Signer: sig})
	defer rl.Close()

	waitForState(t, rl.Auth, Challenged)
	if err = rl.Auth.Authenticate(context.Bg()); err == nil {
		t.Error("Authenticate returned nil on a rejecting relay")
	}
	waitForState(t, rl.Auth, Rejected)

	evb, err := queued.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	ch := rl.Auth.WriteAuthed([]byte(`["EVENT",` + string(evb) + `]`))
	if err = <-ch; err != nil {
		t.Fatalf("WriteAuthed after rejection: %v", err)
	}
	select {
	case ev := <-gotQueued:
		if ev.ID != queued.ID {
			t.Errorf("server got %s, want the queued %s", ev.ID, queued.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued write never reached the server")
	}
	if got := rl.Auth.State(); got != Authenticated {
		t.Errorf("auth state = %v, want %v", got, Authenticated)
	}
}

// A write requiring auth before any challenge has arrived is queued, the
// challenge is answered unprompted, and the write goes out after the OK.
func TestWriteAuthedQueuesUntilAuthenticated(t *testing.T) {
	sig, err := signer.NewLocal(keys.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	const challenge = "polenta"
	queued := signedNote(t, "was queued")

	gotQueued := make(chan *event.T, 1)
	ws := newWebsocketServer(func(conn *websocket.Conn) {
		// let the client queue the write first
		time.Sleep(50 * time.Millisecond)
		websocket.JSON.Send(conn, []any{"AUTH", challenge})
		var raw []json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		ev := parseEventMessage(t, raw)
		if _, ok := auth.Validate(ev, challenge,
			normalize.URL("ws://"+conn.Request().Host)); !ok {
			t.Errorf("auth response failed validation: %s", ev.String())
		}
		websocket.JSON.Send(conn, []any{"OK", ev.ID, true, ""})
		// the flushed queued write arrives next
		raw = nil
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Errorf("websocket.JSON.Receive: %v", err)
			return
		}
		gotQueued <- parseEventMessage(t, raw)
		websocket.JSON.Send(conn, []any{"OK", queued.ID, true, ""})
	})
	defer ws.Close()

	rl := mustConnect(t, ws.URL, WithSigner{Signer: sig})
	defer rl.Close()

	evb, err := queued.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	ch := rl.Auth.WriteAuthed([]byte(`["EVENT",` + string(evb) + `]`))
	if err = <-ch; err != nil {
		t.Fatalf("WriteAuthed: %v", err)
	}
	select {
	case ev := <-gotQueued:
		if ev.ID != queued.ID {
			t.Errorf("server got %s, want the queued %s", ev.ID, queued.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("queued write never reached the server")
	}
	if got := rl.Auth.State(); got != Authenticated {
		t.Errorf("auth state = %v, want %v", got, Authenticated)
	}
}
