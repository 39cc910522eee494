package groups

import (
	"strings"
	"testing"

	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/tags"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
)

const (
	gid   = "pizza"
	relay = "52b4a076bcbbbdc3a1aefa3735816cf74993b1b8db202b01c883c58be7fad8bd"
	alice = "a1ce000000000000000000000000000000000000000000000000000000000001"
	bob   = "b0b0000000000000000000000000000000000000000000000000000000000002"
)

func testID(label string) eventid.T {
	return eventid.T(label + strings.Repeat("0", 64-len(label)))
}

func groupEvent(id string, ts int64, k kind.T, author string,
	tg ...tag.T) *event.T {

	return &event.T{
		ID:        testID(id),
		PubKey:    author,
		CreatedAt: timestamp.T(ts),
		Kind:      k,
		Tags:      append(tags.T{tag.T{"h", gid}}, tg...),
	}
}

func addUser(id string, ts int64, by, who string) *event.T {
	return groupEvent(id, ts, kind.GroupAddUser, by, tag.T{"p", who})
}

func removeUser(id string, ts int64, by, who string) *event.T {
	return groupEvent(id, ts, kind.GroupRemoveUser, by, tag.T{"p", who})
}

func grantPerms(id string, ts int64, by, who string,
	perms ...string) *event.T {

	return groupEvent(id, ts, kind.GroupAddPermission, by,
		append(tag.T{"p", who}, perms...))
}

func state(t *testing.T, r *Reducer) *State {
	t.Helper()
	s, ok := r.State(gid)
	if !ok {
		t.Fatal("no state for group")
	}
	return s
}

// The kick succeeds when the grant precedes it in log order, whichever order
// the two events physically arrive in.
func TestModerationOrderIndependence(t *testing.T) {
	grant := grantPerms("01", 100, relay, alice, PermRemoveUser)
	kick := removeUser("02", 200, alice, bob)
	seed := addUser("00", 50, relay, bob)

	for name, order := range map[string][]*event.T{
		"grant first": {seed, grant, kick},
		"kick first":  {seed, kick, grant},
	} {
		r := NewReducer(WithAuthority(relay))
		for _, ev := range order {
			r.HandleEvent(ev)
		}
		s := state(t, r)
		if s.IsMember(bob) {
			t.Errorf("%s: bob is still a member, want removed", name)
		}
		if !s.IsBanned(bob) {
			t.Errorf("%s: bob is not in the removed set", name)
		}
	}
}

// Without the grant, alice lacked remove-user authority at t=200 and the
// kick is recorded as rejected with no state change.
func TestUnderprivilegedActionIsNoOp(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	r.HandleEvent(addUser("00", 50, relay, alice))
	r.HandleEvent(addUser("01", 60, relay, bob))
	r.HandleEvent(removeUser("02", 200, alice, bob))

	s := state(t, r)
	if !s.IsMember(bob) {
		t.Error("bob was removed by an under-privileged principal")
	}
	last := s.Log[len(s.Log)-1]
	if last.Accepted {
		t.Error("rejected action not recorded as rejected in moderation log")
	}
	if last.Event.ID != testID("02") {
		t.Errorf("moderation log tail is %s, want the kick", last.Event.ID)
	}
}

// Authority is evaluated at the event's position, not the current state: a
// grant that is revoked later must still empower actions between the two.
func TestAuthorityAtPositionNotCurrent(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	r.HandleEvent(addUser("00", 10, relay, bob))
	r.HandleEvent(grantPerms("01", 100, relay, alice, PermRemoveUser))
	r.HandleEvent(groupEvent("03", 300, kind.GroupRemovePermission, relay,
		tag.T{"p", alice, PermRemoveUser}))
	// arrives last, lands between grant and revoke
	r.HandleEvent(removeUser("02", 200, alice, bob))

	s := state(t, r)
	if s.IsMember(bob) {
		t.Error("kick at t=200 should succeed, alice held the permission then")
	}
}

// A late arrival landing before the applied position must trigger forward
// recomputation, not a bare append.
func TestLateArrivalReplay(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	r.HandleEvent(addUser("00", 10, relay, bob))
	// kick arrives before the grant that legitimizes it
	r.HandleEvent(removeUser("02", 200, alice, bob))
	s := state(t, r)
	if !s.IsMember(bob) {
		t.Fatal("kick should be rejected before the grant arrives")
	}
	// now the grant shows up, logically earlier
	r.HandleEvent(grantPerms("01", 100, relay, alice, PermRemoveUser))
	s = state(t, r)
	if s.IsMember(bob) {
		t.Error("replay after late grant should remove bob")
	}
	if !s.IsBanned(bob) {
		t.Error("replay after late grant should ban bob")
	}
}

// Self-demotion passes the same authority check as any other action.
func TestSelfAction(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	r.HandleEvent(grantPerms("01", 100, relay, alice,
		PermRemoveUser, PermRemovePermission))
	// alice strips her own permissions
	r.HandleEvent(groupEvent("02", 200, kind.GroupRemovePermission, alice,
		tag.T{"p", alice, PermRemoveUser, PermRemovePermission}))
	// and can no longer kick
	r.HandleEvent(addUser("03", 250, relay, bob))
	r.HandleEvent(removeUser("04", 300, alice, bob))

	s := state(t, r)
	if !s.IsMember(bob) {
		t.Error("kick after self-demotion should be rejected")
	}
}

func TestBannedAuthorMessagesRejected(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	r.HandleEvent(addUser("00", 10, relay, bob))
	r.HandleEvent(removeUser("01", 20, relay, bob))
	r.HandleEvent(groupEvent("02", 30, kind.GroupChatMessage, bob))

	s := state(t, r)
	last := s.Log[len(s.Log)-1]
	if last.Accepted {
		t.Error("message from banned author was accepted")
	}
	// re-adding un-bans
	r.HandleEvent(addUser("03", 40, relay, bob))
	r.HandleEvent(groupEvent("04", 50, kind.GroupChatMessage, bob))
	s = state(t, r)
	last = s.Log[len(s.Log)-1]
	if !last.Accepted {
		t.Error("message after re-add was rejected")
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	ev := addUser("00", 10, relay, bob)
	r.HandleEvent(ev)
	r.HandleEvent(ev)
	s := state(t, r)
	if len(s.Log) != 1 {
		t.Errorf("log has %d entries after duplicate delivery, want 1",
			len(s.Log))
	}
}

func TestMetadataFromNonAuthorityRejected(t *testing.T) {
	r := NewReducer(WithAuthority(relay))
	meta := &event.T{
		ID:        testID("00"),
		PubKey:    alice,
		CreatedAt: 10,
		Kind:      kind.GroupMetadata,
		Tags:      tags.T{tag.T{"d", gid}, tag.T{"name", "hijacked"}},
	}
	r.HandleEvent(meta)
	s := state(t, r)
	if s.Name == "hijacked" {
		t.Error("metadata from non-authority was applied")
	}
	ok := &event.T{
		ID:        testID("01"),
		PubKey:    relay,
		CreatedAt: 20,
		Kind:      kind.GroupMetadata,
		Tags:      tags.T{tag.T{"d", gid}, tag.T{"name", "pizza lovers"}},
	}
	r.HandleEvent(ok)
	s = state(t, r)
	if s.Name != "pizza lovers" {
		t.Errorf("group name = %q, want %q", s.Name, "pizza lovers")
	}
}
